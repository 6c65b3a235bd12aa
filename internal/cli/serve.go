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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keychain-pgp/internal/server"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
)

func newServeCmd(cc *cliContext) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the keychain-pgp server",
		Long: `Run the REST server with the configuration from --config, or the
defaults when no file is given. SIGINT and SIGTERM shut it down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.cfg.ServerConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cc.cfg.Verbose {
				cfg.Logging.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			srv, err := server.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			log := cfg.Logging.Logger()
			log.Info("keychain-pgp serving",
				logger.String("version", version()),
				logger.String("addr", srv.Addr().String()))

			ctx := server.SetupSignalHandler()
			go func() {
				<-ctx.Done()
				if err := srv.Shutdown(); err != nil {
					log.Error("shutdown failed", logger.Error(err))
				}
			}()
			srv.WaitForShutdown()
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides the configuration)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides the configuration)")
	return cmd
}
