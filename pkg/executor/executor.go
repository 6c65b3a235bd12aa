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

// Package executor runs fully resolved requests against the OpenPGP engine
// and turns engine outcomes into protocol results.
package executor

import (
	"context"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Plan is a request whose keys have been resolved and whose cached input
// has been merged in.
type Plan struct {
	Caller  types.Caller
	Request *types.Request

	// SignKey is the master id of the signing key, or types.NoKey.
	SignKey types.KeyID

	// Recipients are the master ids to encrypt to.
	Recipients []types.KeyID

	// AccountKey is the legacy account key encrypted to by old clients.
	AccountKey types.KeyID

	// KeyIDs are the keys to export.
	KeyIDs []types.KeyID

	AllowedKeys types.KeySet

	// Passphrase is the request override or the cached passphrase. For a
	// backup it is the backup code.
	Passphrase  []byte
	SessionKeys map[string][]byte
	Time        time.Time
}

// Executor is safe for concurrent use when its engine is.
type Executor struct {
	engine engine.Engine
	log    logger.Logger
}

// New returns an Executor over eng.
func New(eng engine.Engine, log logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	return &Executor{engine: eng, log: log}
}

// Sign makes a detached signature, or writes a cleartext signed message to
// the output stream.
func (x *Executor) Sign(ctx context.Context, p *Plan) *types.Result {
	detached := p.Request.Action == types.ActionDetachedSign
	in := &engine.SignInput{
		SignKeyID:  p.SignKey,
		Passphrase: p.Passphrase,
		Detached:   detached,
		Armor:      p.Request.Params.Armor(true),
		Time:       p.Time,
		Input:      p.Request.Input,
	}
	if !detached {
		in.Output = p.Request.Output
	}
	res, err := x.engine.Sign(ctx, in)
	if err != nil {
		return x.engineError(ctx, p, err)
	}
	if r := x.interpret(ctx, p, &res.Outcome); r != nil {
		return r
	}
	out := types.Success()
	out.SignKeyID = p.SignKey
	if detached {
		out.DetachedSignature = res.DetachedSignature
		out.MicAlg = res.MicAlg
	}
	return out
}

// Encrypt encrypts to the recipients, the signing key and, for legacy
// clients, the account key. The message is signed when a signing key is
// set.
func (x *Executor) Encrypt(ctx context.Context, p *Plan) *types.Result {
	recipients := append([]types.KeyID{}, p.Recipients...)
	if p.SignKey != types.NoKey {
		recipients = append(recipients, p.SignKey)
	}
	if apiversion.UsesAccounts(p.Request.APIVersion) && p.AccountKey != types.NoKey {
		recipients = append(recipients, p.AccountKey)
	}
	params := &p.Request.Params
	res, err := x.engine.Encrypt(ctx, &engine.EncryptInput{
		Recipients: types.UniqueKeyIDs(recipients),
		SignKeyID:  p.SignKey,
		Passphrase: p.Passphrase,
		Armor:      params.Armor(true),
		Compress:   params.Compression(),
		Filename:   params.OriginalFilename,
		Time:       p.Time,
		Input:      p.Request.Input,
		Output:     p.Request.Output,
	})
	if err != nil {
		return x.engineError(ctx, p, err)
	}
	if r := x.interpret(ctx, p, &res.Outcome); r != nil {
		return r
	}
	out := types.Success()
	out.SignKeyID = p.SignKey
	return out
}

// Decrypt decrypts and verifies with the caller's allowed keys only. When
// the message could only be decrypted by keys the caller may not use, the
// caller is asked to grant the first of them.
func (x *Executor) Decrypt(ctx context.Context, p *Plan) *types.Result {
	params := &p.Request.Params
	metadataOnly := p.Request.Action == types.ActionDecryptMetadata
	in := &engine.DecryptInput{
		AllowedKeys:       p.AllowedKeys,
		Passphrase:        p.Passphrase,
		SessionKeys:       sessionKeys(p.SessionKeys, params.DecryptionResult),
		DetachedSignature: params.DetachedSignature,
		SenderAddress:     params.SenderAddress,
		MetadataOnly:      metadataOnly,
		DataLength:        params.DataLength,
		Input:             p.Request.Input,
	}
	defer wipeSessionKeys(in.SessionKeys)
	if !metadataOnly {
		in.Output = p.Request.Output
	}
	res, err := x.engine.Decrypt(ctx, in)
	if err != nil {
		return x.engineError(ctx, p, err)
	}
	if res.Failed && len(res.SkippedDisallowedKeys) > 0 {
		first := res.SkippedDisallowedKeys[0]
		logger.FromContext(ctx, x.log).Info("message needs a key the caller may not use",
			logger.String("app", p.Caller.PackageName),
			logger.Stringer("key_id", first))
		return types.Pending(types.RequiredInput{
			Kind:   types.InputPermissionGrant,
			AppID:  p.Caller.PackageName,
			KeyID:  first,
			Reason: "message is encrypted to a key the application may not use",
		})
	}
	if r := x.interpret(ctx, p, &res.Outcome); r != nil {
		return r
	}
	out := types.Success()
	out.Signature = res.Signature
	if out.Signature == nil {
		out.Signature = types.NoSignature()
	}
	out.Decryption = res.Decryption
	out.Metadata = res.Metadata
	out.Charset = res.Charset
	return out
}

// Export writes the public key rings of p.KeyIDs. Binary unless ascii_armor
// is set.
func (x *Executor) Export(ctx context.Context, p *Plan) *types.Result {
	res, err := x.engine.Export(ctx, &engine.ExportInput{
		KeyIDs: p.KeyIDs,
		Armor:  p.Request.Params.Armor(false),
		Output: p.Request.Output,
	})
	if err != nil {
		return x.engineError(ctx, p, err)
	}
	if r := x.interpret(ctx, p, &res.Outcome); r != nil {
		return r
	}
	out := types.Success()
	out.KeyIDs = res.Exported
	return out
}

// Backup exports p.KeyIDs, including secret keys when backup_secret is set,
// encrypted with the backup code held in p.Passphrase.
func (x *Executor) Backup(ctx context.Context, p *Plan) *types.Result {
	params := &p.Request.Params
	res, err := x.engine.Export(ctx, &engine.ExportInput{
		KeyIDs:     p.KeyIDs,
		Secret:     params.BackupSecret,
		Armor:      params.Armor(true),
		BackupCode: p.Passphrase,
		Output:     p.Request.Output,
	})
	if err != nil {
		return x.engineError(ctx, p, err)
	}
	if r := x.interpret(ctx, p, &res.Outcome); r != nil {
		return r
	}
	out := types.Success()
	out.KeyIDs = res.Exported
	return out
}
