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
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

func newCallCmd(cc *cliContext) *cobra.Command {
	var (
		params     string
		paramsFile string
		input      string
		out        string
		passphrase string
		armor      bool
		noOutput   bool
	)
	cmd := &cobra.Command{
		Use:   "call <action>",
		Short: "Run one protocol action",
		Long: `Run one protocol action as the application named by --caller-package and
--caller-fingerprint. Parameters are the JSON params object of the protocol.

A pending result prints the required input and a continuation token. Feed
the input with "supply" and repeat the same call to resume.`,
		Example: `  keychain-pgp call detached_sign --params '{"sign_key_id":"89ABCDEF01234567"}' --input msg.txt
  keychain-pgp call encrypt --params '{"user_ids":["bob@example.org"]}' --armor --input - --out msg.asc
  keychain-pgp call get_key_ids --params '{"user_ids":["alice@example.org"]}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &client.CallRequest{Action: args[0], APIVersion: cc.cfg.APIVersion}

			raw := []byte(params)
			if paramsFile != "" {
				data, err := readInput(cmd, paramsFile)
				if err != nil {
					return err
				}
				raw = data
			}
			if len(strings.TrimSpace(string(raw))) > 0 {
				if err := json.Unmarshal(raw, &req.Params); err != nil {
					return fmt.Errorf("invalid params: %w", err)
				}
			}
			if cmd.Flags().Changed("armor") {
				req.Params.ASCIIArmor = types.Bool(armor)
			}
			if passphrase != "" {
				req.Params.Passphrase = []byte(passphrase)
				defer memzero.Zero(req.Params.Passphrase)
			}
			if input != "" {
				data, err := readInput(cmd, input)
				if err != nil {
					return err
				}
				req.Input = data
			}
			if noOutput {
				req.WantOutput = types.Bool(false)
			}

			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				cc.printVerbose(cmd, "Calling %s (api version %d)", req.Action, req.APIVersion)
				resp, err := b.Call(ctx, req)
				if err != nil {
					return err
				}
				if out != "" && resp.IsSuccess() {
					if err := os.WriteFile(out, resp.Output, 0600); err != nil {
						return fmt.Errorf("failed to write %s: %w", out, err)
					}
				}
				if err := cc.printer(cmd).PrintCallResponse(resp, out != ""); err != nil {
					return err
				}
				if resp.Error != nil {
					return fmt.Errorf("%s failed: %s", req.Action, resp.Error.Kind)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "protocol params as a JSON object")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "read params from a file (\"-\" for stdin)")
	cmd.Flags().StringVar(&input, "input", "", "input data file (\"-\" for stdin)")
	cmd.Flags().StringVar(&out, "out", "", "write the output stream to this file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the secret key")
	cmd.Flags().BoolVar(&armor, "armor", false, "set ascii_armor")
	cmd.Flags().BoolVar(&noOutput, "no-output", false, "do not request an output stream")
	return cmd
}

func newSupplyCmd(cc *cliContext) *cobra.Command {
	var (
		passphrase  string
		backupCode  string
		sessionKeys []string
	)
	cmd := &cobra.Command{
		Use:   "supply <token>",
		Short: "Supply the input a pending call asked for",
		Long: `Supply a passphrase, backup code or session keys to the pending call
behind a continuation token. Session keys are given as KEYID=HEX.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := &client.SupplyInputRequest{}
			if passphrase != "" {
				in.Passphrase = []byte(passphrase)
			}
			if backupCode != "" {
				in.BackupCode = []byte(backupCode)
			}
			defer func() {
				memzero.Zero(in.Passphrase)
				memzero.Zero(in.BackupCode)
				for _, sk := range in.SessionKeys {
					memzero.Zero(sk)
				}
			}()
			if len(sessionKeys) > 0 {
				keys, err := parseSessionKeys(sessionKeys)
				if err != nil {
					return err
				}
				in.SessionKeys = keys
			}
			if len(in.Passphrase) == 0 && len(in.BackupCode) == 0 && len(in.SessionKeys) == 0 {
				return fmt.Errorf("one of --passphrase, --backup-code or --session-key is required")
			}

			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.SupplyInput(ctx, args[0], in); err != nil {
					return fmt.Errorf("failed to supply input: %w", err)
				}
				return cc.printer(cmd).PrintSuccess("Input accepted; repeat the call to resume")
			})
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the secret key")
	cmd.Flags().StringVar(&backupCode, "backup-code", "", "backup code for an encrypted key backup")
	cmd.Flags().StringArrayVar(&sessionKeys, "session-key", nil, "session key as KEYID=HEX (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("passphrase", "backup-code")
	return cmd
}

func parseSessionKeys(specs []string) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(specs))
	for _, spec := range specs {
		idStr, hexKey, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid session key %q: want KEYID=HEX", spec)
		}
		id, err := types.ParseKeyID(idStr)
		if err != nil {
			return nil, err
		}
		sk, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil || len(sk) == 0 {
			return nil, fmt.Errorf("invalid session key for %s", id)
		}
		keys[id.String()] = sk
	}
	return keys, nil
}
