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

package permission

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Gate decides whether a caller may use the service at all and which keys
// it may use.
type Gate struct {
	store *Store
	log   logger.Logger
}

// NewGate returns a Gate over store.
func NewGate(store *Store, log logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{store: store, log: log}
}

// Store returns the underlying registry.
func (g *Gate) Store() *Store {
	return g.store
}

// Check returns nil when caller is registered with a matching certificate.
// An unknown caller, or one presenting a different certificate, gets a
// pending permission grant.
func (g *Gate) Check(ctx context.Context, caller types.Caller, req *types.Request) *types.Result {
	log := logger.FromContext(ctx, g.log)
	_, err := g.store.Lookup(ctx, caller)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotRegistered), errors.Is(err, ErrFingerprintMismatch), errors.Is(err, types.ErrInvalidCaller):
		log.Info("caller not registered",
			logger.String("app", caller.PackageName),
			logger.String("action", req.Action.String()))
		return types.Pending(types.RequiredInput{
			Kind:   types.InputPermissionGrant,
			AppID:  caller.PackageName,
			Reason: "application is not registered",
		})
	default:
		log.Error("permission lookup failed", logger.String("app", caller.PackageName), logger.Error(err))
		return types.Failuref(types.ErrorGeneric, "permission lookup failed: %v", err)
	}
}

// AllowedKeys returns the keys caller may use. Keys bound to legacy
// accounts are included for versions that still know accounts.
func (g *Gate) AllowedKeys(ctx context.Context, caller types.Caller, version int) (types.KeySet, error) {
	app, err := g.store.Lookup(ctx, caller)
	if err != nil {
		return nil, err
	}
	set := types.NewKeySet(app.AllowedKeys...)
	if apiversion.MergesAccountKeys(version) {
		for _, acct := range app.Accounts {
			if acct.KeyID != types.NoKey {
				set.Add(acct.KeyID)
			}
		}
	}
	return set, nil
}

// AccountKey returns the key bound to the caller's named account, or
// types.NoKey when the account is missing or unbound.
func (g *Gate) AccountKey(ctx context.Context, caller types.Caller, name string) (types.KeyID, error) {
	acct, err := g.store.Account(ctx, caller.PackageName, apiversion.AccountName(name))
	if errors.Is(err, ErrAccountNotFound) {
		return types.NoKey, nil
	}
	if err != nil {
		return types.NoKey, err
	}
	return acct.KeyID, nil
}
