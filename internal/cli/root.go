// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the keychain-pgp command line: key ring and
// application administration, raw protocol calls, and the server itself.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
)

// cliContext is shared by every command of one root.
type cliContext struct {
	cfg *Config
	v   *viper.Viper
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own flag state.
func NewRootCommand() *cobra.Command {
	cc := &cliContext{cfg: NewConfig(), v: newViper()}

	rootCmd := &cobra.Command{
		Use:   "keychain-pgp",
		Short: "keychain-pgp - OpenPGP operations on behalf of registered applications",
		Long: `keychain-pgp manages an OpenPGP key store and the applications allowed
to use it, and serves the request/response protocol over REST.

Without --server the commands open the configured storage directly.
With --server they talk to a running keychain-pgp server.

Every global flag can also be set through the environment, e.g.
KEYCHAIN_PGP_SERVER or KEYCHAIN_PGP_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cc.cfg.Resolve(cc.v)
			switch OutputFormat(cc.cfg.OutputFormat) {
			case OutputFormatText, OutputFormatJSON, OutputFormatTable:
				return nil
			default:
				return fmt.Errorf("unknown output format: %s", cc.cfg.OutputFormat)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "server configuration file (YAML)")
	flags.String("server", "", "keychain-pgp server URL; empty opens the local store")
	flags.String("data-dir", "", "storage path override for local mode")
	flags.StringP("output", "o", "text", "output format (text, json, table)")
	flags.BoolP("verbose", "v", false, "verbose output")
	flags.Int("api-version", apiversion.MaxSupported, "protocol version sent with call")
	flags.String("caller-package", "", "package name of the calling application")
	flags.String("caller-fingerprint", "", "certificate fingerprint of the calling application")
	flags.Bool("tls-insecure", false, "skip TLS certificate verification")
	flags.String("tls-cert", "", "client certificate for mTLS")
	flags.String("tls-key", "", "client key for mTLS")
	flags.String("tls-ca", "", "CA certificate for the server")
	flags.String("api-key", "", "API key for the server")
	flags.String("token", "", "JWT bearer token for the server")
	flags.Duration("timeout", NewConfig().Timeout, "per-request timeout for the server")
	if err := cc.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newVersionCmd(cc),
		newServeCmd(cc),
		newKeyCmd(cc),
		newAppCmd(cc),
		newCallCmd(cc),
		newSupplyCmd(cc),
		newAuditCmd(cc),
	)
	return rootCmd
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		format, _ := rootCmd.PersistentFlags().GetString("output")
		_ = NewPrinter(format, os.Stderr).PrintError(err)
		return err
	}
	return nil
}

// printer writes to the command's standard output.
func (cc *cliContext) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(cc.cfg.OutputFormat, cmd.OutOrStdout())
}

// printVerbose prints a message if verbose mode is enabled
func (cc *cliContext) printVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if cc.cfg.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}

// withBackend opens the backend, runs fn and closes the backend.
func (cc *cliContext) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cc.cfg.IsRemote() {
		cc.printVerbose(cmd, "Using server %s", cc.cfg.Server)
	} else {
		cc.printVerbose(cmd, "Using local store")
	}
	b, err := cc.cfg.CreateBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			cc.printVerbose(cmd, "close: %v", cerr)
		}
	}()
	return fn(ctx, b)
}
