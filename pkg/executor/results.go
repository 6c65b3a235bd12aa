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

package executor

import (
	"context"
	"encoding/binary"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// interpret maps a finished engine outcome to nil (success), a pending
// passphrase or an error. The last log entry of a failed outcome is the
// message shown to the user.
func (x *Executor) interpret(ctx context.Context, p *Plan, o *engine.Outcome) *types.Result {
	log := logger.FromContext(ctx, x.log)
	action := p.Request.Action.String()

	if o.NeedsPassphrase != types.NoKey {
		log.Debug("passphrase required", logger.Stringer("key_id", o.NeedsPassphrase))
		return types.Pending(types.RequiredInput{
			Kind:  types.InputPassphrase,
			KeyID: o.NeedsPassphrase,
		})
	}
	if !o.Failed {
		return nil
	}

	last, ok := o.Log.Last()
	if !ok {
		log.Error("engine reported a failure without a log entry", logger.String("action", action))
		return types.Failure(types.ErrorEngineContractViolation, "operation failed without a diagnostic message")
	}
	log.Warn("operation failed", logger.String("action", action), logger.String("reason", last.Message))
	return types.Failure(types.ErrorGeneric, last.Message)
}

// engineError maps an error returned by the engine itself.
func (x *Executor) engineError(ctx context.Context, p *Plan, err error) *types.Result {
	action := p.Request.Action.String()
	logger.FromContext(ctx, x.log).Error("engine error", logger.String("action", action), logger.Error(err))
	return types.Failure(types.ErrorCryptoEngineFailure, err.Error())
}

// sessionKeys merges the cached session keys with the one handed back in a
// decryption_result. The returned map holds copies.
func sessionKeys(cached map[string][]byte, prev *types.DecryptionResult) map[string][]byte {
	if len(cached) == 0 && !prev.HasDecryptedSessionKey() {
		return nil
	}
	out := make(map[string][]byte, len(cached)+1)
	for k, v := range cached {
		out[k] = memzero.Clone(v)
	}
	if prev.HasDecryptedSessionKey() && len(prev.SessionKey) == 8 {
		id := types.KeyID(binary.BigEndian.Uint64(prev.SessionKey))
		out[id.String()] = memzero.Clone(prev.DecryptedSessionKey)
	}
	return out
}

func wipeSessionKeys(m map[string][]byte) {
	for _, v := range m {
		memzero.Zero(v)
	}
}
