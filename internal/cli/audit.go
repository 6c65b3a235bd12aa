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

	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
)

func newAuditCmd(cc *cliContext) *cobra.Command {
	var query client.AuditQuery
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recorded audit events",
		Long: `Show audit events, newest first. Events are kept in server memory, so
this is only useful with --server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withBackend(cmd, func(ctx context.Context, b Backend) error {
				events, err := b.AuditEvents(ctx, &query)
				if err != nil {
					return fmt.Errorf("failed to query audit events: %w", err)
				}
				return cc.printer(cmd).PrintAuditEvents(events)
			})
		},
	}
	cmd.Flags().StringVar(&query.Type, "type", "", "event type, e.g. pgp.decrypt or key.delete")
	cmd.Flags().StringVar(&query.Outcome, "outcome", "", "success, pending, failure or denied")
	cmd.Flags().StringVar(&query.Principal, "principal", "", "calling application or admin")
	cmd.Flags().StringVar(&query.KeyID, "key-id", "", "key id the event touched")
	cmd.Flags().StringVar(&query.RequestID, "request-id", "", "correlation id")
	cmd.Flags().IntVar(&query.Limit, "limit", 50, "maximum number of events")
	return cmd
}
