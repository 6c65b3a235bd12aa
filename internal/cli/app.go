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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

func newAppCmd(cc *cliContext) *cobra.Command {
	appCmd := &cobra.Command{
		Use:   "app",
		Short: "Application registration and key grants",
		Long: `Register calling applications and control which key rings each one may
use. An application is identified by its package name and the fingerprint
of its signing certificate.`,
	}

	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Legacy account bindings (API version 6 and below)",
	}
	accountCmd.AddCommand(newAppAccountSetCmd(cc), newAppAccountDeleteCmd(cc))

	appCmd.AddCommand(
		newAppListCmd(cc),
		newAppRegisterCmd(cc),
		newAppGetCmd(cc),
		newAppDeleteCmd(cc),
		newAppAllowCmd(cc),
		newAppRevokeCmd(cc),
		accountCmd,
	)
	return appCmd
}

// appRun runs fn and prints the application it returns.
func (cc *cliContext) appRun(cmd *cobra.Command, fn func(ctx context.Context, b Backend) (*permission.App, error)) error {
	return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
		app, err := fn(ctx, b)
		if err != nil {
			return err
		}
		return cc.printer(cmd).PrintApp(app)
	})
}

func newAppListCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				apps, err := b.ListApps(ctx)
				if err != nil {
					return fmt.Errorf("failed to list applications: %w", err)
				}
				return cc.printer(cmd).PrintAppList(apps)
			})
		},
	}
}

func newAppRegisterCmd(cc *cliContext) *cobra.Command {
	var fingerprint string
	cmd := &cobra.Command{
		Use:   "register <package>",
		Short: "Register or re-register an application",
		Long: `Register an application. Re-registering with a new fingerprint keeps the
application's grants.`,
		Example: `  keychain-pgp app register org.example.mail --fingerprint 3f:a1:...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fingerprint == "" {
				return fmt.Errorf("--fingerprint is required")
			}
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.RegisterApp(ctx, types.Caller{PackageName: args[0], CertFingerprint: fingerprint})
			})
		},
	}
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "signing certificate fingerprint")
	return cmd
}

func newAppGetCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "get <package>",
		Short: "Show an application and its grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.GetApp(ctx, args[0])
			})
		},
	}
}

func newAppDeleteCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package>",
		Short: "Unregister an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				if err := b.DeleteApp(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete application: %w", err)
				}
				return cc.printer(cmd).PrintSuccess(fmt.Sprintf("Deleted application %s", args[0]))
			})
		},
	}
}

func newAppAllowCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "allow <package> <key-id>...",
		Short: "Allow an application to use key rings",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseKeyIDs(args[1:])
			if err != nil {
				return err
			}
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.AllowKeys(ctx, args[0], ids...)
			})
		},
	}
}

func newAppRevokeCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <package> <key-id>",
		Short: "Withdraw an application's access to a key ring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[1])
			if err != nil {
				return err
			}
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.RevokeAppKey(ctx, args[0], id)
			})
		},
	}
}

func newAppAccountSetCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <package> <account> <key-id>",
		Short: "Bind an account name to a key ring",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseKeyID(args[2])
			if err != nil {
				return err
			}
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.SetAccount(ctx, args[0], args[1], id)
			})
		},
	}
}

func newAppAccountDeleteCmd(cc *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package> <account>",
		Short: "Remove an account binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.appRun(cmd, func(ctx context.Context, b Backend) (*permission.App, error) {
				return b.DeleteAccount(ctx, args[0], args[1])
			})
		},
	}
}

func parseKeyIDs(args []string) ([]types.KeyID, error) {
	ids := make([]types.KeyID, 0, len(args))
	for _, arg := range args {
		id, err := types.ParseKeyID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
