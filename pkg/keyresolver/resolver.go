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

// Package keyresolver turns the key selection inputs of a request into
// concrete key ids, or into the one piece of user input still needed to
// get there.
//
// Every method returns either a value or a non-nil *types.Result. The
// result is a pending or failed outcome the dispatcher returns as is.
package keyresolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// KeyStore is the part of the key ring the resolver reads.
type KeyStore interface {
	Get(id types.KeyID) (*keyring.KeyInfo, error)
	SecretKeys() ([]*keyring.KeyInfo, error)
	FindByAddress(addr string) ([]*keyring.KeyInfo, error)
}

// Accounts looks up legacy account bindings.
type Accounts interface {
	AccountKey(ctx context.Context, caller types.Caller, name string) (types.KeyID, error)
}

// Resolver is stateless apart from its collaborators.
type Resolver struct {
	keys     KeyStore
	accounts Accounts
	log      logger.Logger
}

// New returns a Resolver.
func New(keys KeyStore, accounts Accounts, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{keys: keys, accounts: accounts, log: log}
}

// SignKeyID answers get_sign_key_id: the explicit sign_key_id, or a key
// selection among the signing-capable secret keys.
func (r *Resolver) SignKeyID(ctx context.Context, req *types.Request) (types.KeyID, *types.Result) {
	if req.Params.HasSignKeyID() {
		return *req.Params.SignKeyID, nil
	}
	return types.NoKey, r.selectSigningKey(req)
}

// SigningKey resolves the key a sign operation uses. An explicit
// sign_key_id is trusted and must hold a usable signing subkey. Without one,
// legacy clients fall back to their account key and current clients are
// asked to pick a key.
func (r *Resolver) SigningKey(ctx context.Context, caller types.Caller, req *types.Request) (*keyring.KeyInfo, *types.Result) {
	log := logger.FromContext(ctx, r.log)

	var id types.KeyID
	switch {
	case req.Params.HasSignKeyID():
		id = *req.Params.SignKeyID
	case apiversion.UsesAccounts(req.APIVersion):
		name := apiversion.AccountName(req.Params.AccountName)
		bound, err := r.accounts.AccountKey(ctx, caller, name)
		if err != nil {
			return nil, types.Failuref(types.ErrorGeneric, "account lookup failed: %v", err)
		}
		if bound == types.NoKey {
			log.Info("account has no key", logger.String("account", name))
			return nil, types.Pending(types.RequiredInput{
				Kind:        types.InputPermissionGrant,
				AppID:       caller.PackageName,
				AccountName: name,
				Reason:      "account has no key",
			})
		}
		id = bound
	default:
		return nil, r.selectSigningKey(req)
	}

	info, err := r.keys.Get(id)
	switch {
	case errors.Is(err, keyring.ErrKeyNotFound):
		return nil, types.Failuref(types.ErrorSigningKeyNotUsable, "signing key %s not found", id)
	case err != nil:
		return nil, types.Failuref(types.ErrorGeneric, "key lookup failed: %v", err)
	case !info.HasSecret:
		return nil, types.Failuref(types.ErrorNoSigningKey, "no secret key for %s", id)
	case !info.CanSign():
		return nil, types.Failuref(types.ErrorSigningKeyNotUsable, "key %s has no usable signing subkey", id)
	}
	return info, nil
}

func (r *Resolver) selectSigningKey(req *types.Request) *types.Result {
	secrets, err := r.keys.SecretKeys()
	if err != nil {
		return types.Failuref(types.ErrorGeneric, "key lookup failed: %v", err)
	}
	var candidates []types.KeyID
	for _, info := range secrets {
		if info.CanSign() {
			candidates = append(candidates, info.KeyID)
		}
	}
	return types.Pending(types.RequiredInput{
		Kind:            types.InputKeySelection,
		Candidates:      candidates,
		PreferredUserID: req.Params.PreferredUserID,
		Reason:          "select a signing key",
	})
}

// RecipientOptions tunes Recipients.
type RecipientOptions struct {
	// AskWhenEmpty turns an empty recipient set into a key selection
	// instead of an error.
	AskWhenEmpty bool
}

// Recipients resolves the recipients of an encryption, or the keys asked
// for by get_key_ids. A resumed selection (selected_key_ids) wins over
// everything else. Otherwise explicit key_ids and the keys found for
// user_ids are combined; an address matching no key or several keys asks
// the user to select.
func (r *Resolver) Recipients(ctx context.Context, req *types.Request, opts RecipientOptions) ([]types.KeyID, *types.Result) {
	p := &req.Params
	if len(p.SelectedKeyIDs) > 0 {
		return r.masters(types.UniqueKeyIDs(p.SelectedKeyIDs))
	}

	ids, res := r.masters(types.UniqueKeyIDs(p.KeyIDs))
	if res != nil {
		return nil, res
	}

	var unresolved, ambiguous []string
	candidates := types.NewKeySet(ids...)
	for _, addr := range p.UserIDs {
		matches, err := r.keys.FindByAddress(addr)
		if err != nil {
			return nil, types.Failuref(types.ErrorGeneric, "key lookup failed: %v", err)
		}
		usable := matches[:0]
		for _, m := range matches {
			if m.CanEncrypt() {
				usable = append(usable, m)
			}
		}
		switch len(usable) {
		case 0:
			unresolved = append(unresolved, addr)
		case 1:
			ids = append(ids, usable[0].KeyID)
			candidates.Add(usable[0].KeyID)
		default:
			ambiguous = append(ambiguous, addr)
			for _, m := range usable {
				candidates.Add(m.KeyID)
			}
		}
	}

	if len(unresolved) > 0 || len(ambiguous) > 0 {
		logger.FromContext(ctx, r.log).Info("recipients need selection",
			logger.Strings("unresolved", unresolved),
			logger.Strings("ambiguous", ambiguous))
		return nil, types.Pending(types.RequiredInput{
			Kind:                types.InputKeySelection,
			Candidates:          candidates.Sorted(),
			UnresolvedAddresses: unresolved,
			AmbiguousAddresses:  ambiguous,
			Reason:              "select recipient keys",
		})
	}

	ids = types.UniqueKeyIDs(ids)
	if len(ids) == 0 {
		if opts.AskWhenEmpty {
			return nil, types.Pending(types.RequiredInput{
				Kind:   types.InputKeySelection,
				Reason: "select keys",
			})
		}
		return nil, types.Failure(types.ErrorNoRecipients, "no recipients")
	}
	return ids, nil
}

// masters maps key or subkey ids to master key ids. Unknown ids ask the
// user to select keys.
func (r *Resolver) masters(ids []types.KeyID) ([]types.KeyID, *types.Result) {
	out := make([]types.KeyID, 0, len(ids))
	var missing []string
	for _, id := range ids {
		info, err := r.keys.Get(id)
		switch {
		case errors.Is(err, keyring.ErrKeyNotFound):
			missing = append(missing, id.String())
		case err != nil:
			return nil, types.Failuref(types.ErrorGeneric, "key lookup failed: %v", err)
		default:
			out = append(out, info.KeyID)
		}
	}
	if len(missing) > 0 {
		return nil, types.Pending(types.RequiredInput{
			Kind:       types.InputKeySelection,
			Candidates: types.UniqueKeyIDs(out),
			Reason:     "unknown keys: " + strings.Join(missing, ", "),
		})
	}
	return types.UniqueKeyIDs(out), nil
}

// Enforce keeps the ids the caller may use. When ids were requested but
// none is allowed, the caller is asked to grant the first disallowed one.
func Enforce(caller types.Caller, allowed types.KeySet, ids []types.KeyID) ([]types.KeyID, *types.Result) {
	kept := make([]types.KeyID, 0, len(ids))
	var denied []types.KeyID
	for _, id := range ids {
		if allowed.Contains(id) {
			kept = append(kept, id)
		} else {
			denied = append(denied, id)
		}
	}
	if len(kept) == 0 && len(denied) > 0 {
		return nil, Grant(caller, denied[0])
	}
	return kept, nil
}

// Grant asks the user to let caller use id.
func Grant(caller types.Caller, id types.KeyID) *types.Result {
	return types.Pending(types.RequiredInput{
		Kind:   types.InputPermissionGrant,
		AppID:  caller.PackageName,
		KeyID:  id,
		Reason: fmt.Sprintf("allow %s to use key %s", caller.PackageName, id),
	})
}
