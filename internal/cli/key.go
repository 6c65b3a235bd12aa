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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

func newKeyCmd(cc *cliContext) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Key ring management",
		Long:  `Generate, import, list, export and retire OpenPGP key rings in the store.`,
	}
	keyCmd.AddCommand(
		newKeyListCmd(cc),
		newKeyGenerateCmd(cc),
		newKeyImportCmd(cc),
		newKeyGetCmd(cc),
		newKeyExportCmd(cc),
		newKeyDeleteCmd(cc),
		newKeyVerifyCmd(cc),
		newKeyRevokeCmd(cc),
	)
	return keyCmd
}

func newKeyListCmd(cc *cliContext) *cobra.Command {
	var filter client.KeyFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List key rings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				keys, err := b.ListKeys(ctx, &filter)
				if err != nil {
					return fmt.Errorf("failed to list keys: %w", err)
				}
				return cc.printer(cmd).PrintKeyList(keys)
			})
		},
	}
	cmd.Flags().BoolVar(&filter.SecretOnly, "secret", false, "only key rings with a secret key")
	cmd.Flags().StringVar(&filter.Address, "address", "", "only key rings with this email address")
	return cmd
}

func newKeyGenerateCmd(cc *cliContext) *cobra.Command {
	var (
		req        client.GenerateKeyRequest
		passphrase string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new RSA key ring",
		Long: `Generate a key ring with a signing primary key and an encryption subkey.
With --passphrase the secret key is sealed and every use needs the passphrase.`,
		Example: `  keychain-pgp key generate --name "Alice" --email alice@example.org
  keychain-pgp key generate --name "Bob" --email bob@example.org --bits 4096 --passphrase secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Name == "" && req.Email == "" {
				return fmt.Errorf("--name or --email is required")
			}
			if passphrase != "" {
				req.Passphrase = []byte(passphrase)
				defer memzero.Zero(req.Passphrase)
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				cc.printVerbose(cmd, "Generating key for %s <%s>", req.Name, req.Email)
				key, err := b.GenerateKey(ctx, &req)
				if err != nil {
					return fmt.Errorf("failed to generate key: %w", err)
				}
				return cc.printer(cmd).PrintKeyInfo(key)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "user id name")
	cmd.Flags().StringVar(&req.Email, "email", "", "user id email address")
	cmd.Flags().StringVar(&req.Comment, "comment", "", "user id comment")
	cmd.Flags().IntVar(&req.Bits, "bits", 0, "RSA modulus size (default from the engine configuration)")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "seal the secret key with this passphrase")
	return cmd
}

func newKeyImportCmd(cc *cliContext) *cobra.Command {
	var passphrase string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import armored or binary key material",
		Long: `Import every key ring in the file ("-" reads stdin). Secret keys that are
encrypted in the file are unlocked with --passphrase and sealed under it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var pass []byte
			if passphrase != "" {
				pass = []byte(passphrase)
				defer memzero.Zero(pass)
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				keys, err := b.ImportKey(ctx, data, pass)
				if err != nil {
					return fmt.Errorf("failed to import key: %w", err)
				}
				return cc.printer(cmd).PrintKeyList(keys)
			})
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase of the secret key")
	return cmd
}

func newKeyGetCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key-id>",
		Short: "Show one key ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[0])
			if err != nil {
				return err
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				key, err := b.GetKey(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get key: %w", err)
				}
				return cc.printer(cmd).PrintKeyInfo(key)
			})
		},
	}
}

func newKeyExportCmd(cc *cliContext) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <key-id>",
		Short: "Export the armored public key ring",
		Long: `Export the public key ring. Secret keys leave the store only through the
backup action of the protocol.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[0])
			if err != nil {
				return err
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				armored, err := b.ExportKey(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to export key: %w", err)
				}
				if out != "" {
					if err := os.WriteFile(out, []byte(armored), 0600); err != nil {
						return fmt.Errorf("failed to write %s: %w", out, err)
					}
					return cc.printer(cmd).PrintSuccess(fmt.Sprintf("Exported %s to %s", id, out))
				}
				if cc.cfg.OutputFormat == string(OutputFormatJSON) {
					return cc.printer(cmd).printJSON(map[string]interface{}{"key_id": id, "key_data": armored})
				}
				_, err = io.WriteString(cmd.OutOrStdout(), armored)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	return cmd
}

func newKeyDeleteCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete a key ring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[0])
			if err != nil {
				return err
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.DeleteKey(ctx, id); err != nil {
					return fmt.Errorf("failed to delete key: %w", err)
				}
				return cc.printer(cmd).PrintSuccess(fmt.Sprintf("Deleted key %s", id))
			})
		},
	}
}

func newKeyVerifyCmd(cc *cliContext) *cobra.Command {
	var unset bool
	cmd := &cobra.Command{
		Use:   "verify <key-id>",
		Short: "Mark a key ring as verified",
		Long: `Mark a key ring as verified. Signatures by verified keys are reported as
confirmed; --unset clears the mark.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[0])
			if err != nil {
				return err
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				key, err := b.VerifyKey(ctx, id, !unset)
				if err != nil {
					return fmt.Errorf("failed to update key: %w", err)
				}
				return cc.printer(cmd).PrintKeyInfo(key)
			})
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "clear the verified mark")
	return cmd
}

func newKeyRevokeCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Mark a key ring as revoked in this store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[0])
			if err != nil {
				return err
			}
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				key, err := b.RevokeKey(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to revoke key: %w", err)
				}
				return cc.printer(cmd).PrintKeyInfo(key)
			})
		},
	}
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	// #nosec G304 - path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
