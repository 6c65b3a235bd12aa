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

package dispatcher

import (
	"context"
	"errors"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyresolver"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

type handler func(ctx context.Context, c *call) *types.Result

func (d *Dispatcher) routes() map[types.Action]handler {
	return map[types.Action]handler{
		types.ActionClearTextSign:   d.sign,
		types.ActionSign:            d.sign,
		types.ActionDetachedSign:    d.sign,
		types.ActionEncrypt:         d.encrypt,
		types.ActionSignAndEncrypt:  d.encrypt,
		types.ActionDecryptVerify:   d.decrypt,
		types.ActionDecryptMetadata: d.decrypt,
		types.ActionGetSignKeyID:    d.getSignKeyID,
		types.ActionGetKeyIDs:       d.getKeyIDs,
		types.ActionGetKey:          d.getKey,
		types.ActionBackup:          d.backup,
	}
}

func (d *Dispatcher) sign(ctx context.Context, c *call) *types.Result {
	signer, res := d.resolver.SigningKey(ctx, c.caller, c.req)
	if res != nil {
		return res
	}
	if res := d.enforce(ctx, c, signer.KeyID); res != nil {
		return res
	}
	p := c.plan()
	p.SignKey = signer.KeyID
	return d.exec.Sign(ctx, p)
}

func (d *Dispatcher) encrypt(ctx context.Context, c *call) *types.Result {
	var signer *keyring.KeyInfo
	var signRes *types.Result
	if c.req.Action == types.ActionSignAndEncrypt {
		signer, signRes = d.resolver.SigningKey(ctx, c.caller, c.req)
	}
	recipients, recipRes := d.resolver.Recipients(ctx, c.req, keyresolver.RecipientOptions{})

	allowed, res := d.allowed(ctx, c)
	if res != nil {
		return res
	}
	// The signer's grant outranks a recipient key selection.
	var signPerm *types.Result
	if signer != nil {
		_, signPerm = keyresolver.Enforce(c.caller, allowed, []types.KeyID{signer.KeyID})
	}
	if res := blocking(signRes, signPerm, recipRes); res != nil {
		return res
	}

	p := c.plan()
	if signer != nil {
		p.SignKey = signer.KeyID
		c.keys = append(c.keys, signer.KeyID)
	}
	if p.Recipients, res = keyresolver.Enforce(c.caller, allowed, recipients); res != nil {
		return res
	}
	c.keys = append(c.keys, p.Recipients...)

	if apiversion.UsesAccounts(c.req.APIVersion) {
		acct, err := d.gate.AccountKey(ctx, c.caller, c.req.Params.AccountName)
		if err != nil {
			return types.Failuref(types.ErrorGeneric, "account lookup failed: %v", err)
		}
		p.AccountKey = acct
	}
	return d.exec.Encrypt(ctx, p)
}

func (d *Dispatcher) decrypt(ctx context.Context, c *call) *types.Result {
	allowed, res := d.allowed(ctx, c)
	if res != nil {
		return res
	}
	p := c.plan()
	p.AllowedKeys = allowed
	res = d.exec.Decrypt(ctx, p)
	if res.IsSuccess() && res.Signature != nil && res.Signature.KeyID != types.NoKey {
		c.keys = append(c.keys, res.Signature.KeyID)
	}
	return res
}

func (d *Dispatcher) getSignKeyID(ctx context.Context, c *call) *types.Result {
	id, res := d.resolver.SignKeyID(ctx, c.req)
	if res != nil {
		return res
	}
	if res := d.enforce(ctx, c, id); res != nil {
		return res
	}
	out := types.Success()
	out.SignKeyID = id
	return out
}

func (d *Dispatcher) getKeyIDs(ctx context.Context, c *call) *types.Result {
	ids, res := d.resolver.Recipients(ctx, c.req, keyresolver.RecipientOptions{AskWhenEmpty: true})
	if res != nil {
		return res
	}
	allowed, res := d.allowed(ctx, c)
	if res != nil {
		return res
	}
	if ids, res = keyresolver.Enforce(c.caller, allowed, ids); res != nil {
		return res
	}
	c.keys = append(c.keys, ids...)
	out := types.Success()
	out.KeyIDs = ids
	return out
}

// getKey looks up a public key. Public keys are not subject to the allow
// list.
func (d *Dispatcher) getKey(ctx context.Context, c *call) *types.Result {
	id := c.req.Params.KeyID
	if id == types.NoKey {
		return types.Failure(types.ErrorGeneric, "key_id is required")
	}
	info, err := d.keys.Get(id)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		res := types.Pending(types.RequiredInput{Kind: types.InputKeyImport, KeyID: id})
		res.Hint = &types.Hint{Kind: types.HintImportFromKeyserver, KeyID: id}
		return res
	}
	if err != nil {
		return types.Failuref(types.ErrorGeneric, "key lookup failed: %v", err)
	}
	c.keys = append(c.keys, info.KeyID)

	if c.req.Output == nil {
		out := types.Success()
		out.KeyIDs = []types.KeyID{info.KeyID}
		return out
	}
	p := c.plan()
	p.KeyIDs = []types.KeyID{info.KeyID}
	return d.exec.Export(ctx, p)
}

func (d *Dispatcher) backup(ctx context.Context, c *call) *types.Result {
	params := &c.req.Params
	ids := types.UniqueKeyIDs(params.KeyIDs)
	if len(ids) == 0 {
		return types.Failure(types.ErrorGeneric, "no keys to back up")
	}
	allowed, res := d.allowed(ctx, c)
	if res != nil {
		return res
	}
	if ids, res = keyresolver.Enforce(c.caller, allowed, ids); res != nil {
		return res
	}
	c.keys = append(c.keys, ids...)

	if len(c.passphrase()) == 0 {
		return types.Pending(types.RequiredInput{
			Kind:         types.InputBackupCode,
			KeyIDs:       ids,
			BackupSecret: params.BackupSecret,
		})
	}
	p := c.plan()
	p.KeyIDs = ids
	return d.exec.Backup(ctx, p)
}

func (d *Dispatcher) allowed(ctx context.Context, c *call) (types.KeySet, *types.Result) {
	allowed, err := d.gate.AllowedKeys(ctx, c.caller, c.req.APIVersion)
	if err != nil {
		return nil, types.Failuref(types.ErrorGeneric, "allowed keys lookup failed: %v", err)
	}
	return allowed, nil
}

// enforce checks a single resolved key against the allow list.
func (d *Dispatcher) enforce(ctx context.Context, c *call, id types.KeyID) *types.Result {
	allowed, res := d.allowed(ctx, c)
	if res != nil {
		return res
	}
	if _, res := keyresolver.Enforce(c.caller, allowed, []types.KeyID{id}); res != nil {
		return res
	}
	c.keys = append(c.keys, id)
	return nil
}

// blocking picks the result to return when several resolutions did not
// complete: an error first, otherwise the pending input that must be
// answered first.
func blocking(results ...*types.Result) *types.Result {
	var best *types.Result
	for _, r := range results {
		switch {
		case r == nil:
		case r.IsError():
			return r
		case best == nil || r.Required.Kind.Priority() < best.Required.Kind.Priority():
			best = r
		}
	}
	return best
}
