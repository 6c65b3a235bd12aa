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

package pgp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

type exported struct {
	entity *openpgp.Entity
	secret bool
}

// Export writes the requested key rings to Output. With a BackupCode the
// export is encrypted to that code. Secret keys sealed with a passphrase
// cannot be re-serialized and are exported as public keys with a warning.
func (e *Engine) Export(ctx context.Context, in *engine.ExportInput) (*engine.ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &engine.ExportResult{}
	ids := types.UniqueKeyIDs(in.KeyIDs)
	if len(ids) == 0 {
		res.Fail("no keys to export")
		return res, nil
	}
	if in.Output == nil {
		res.Fail("no output stream")
		return res, nil
	}

	items := make([]exported, 0, len(ids))
	for _, id := range ids {
		item, ok, err := e.loadForExport(ctx, id, in.Secret, &res.Outcome)
		if err != nil || !ok {
			return res, err
		}
		items = append(items, item)
	}

	if err := e.writeExport(in, items); err != nil {
		res.Fail(fmt.Sprintf("export failed: %v", err))
		return res, nil
	}
	for _, item := range items {
		res.Exported = append(res.Exported, types.KeyID(item.entity.PrimaryKey.KeyId))
	}
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("exported %d key(s)", len(items)))
	return res, nil
}

func (e *Engine) loadForExport(ctx context.Context, id types.KeyID, secret bool, out *engine.Outcome) (exported, bool, error) {
	log := logger.FromContext(ctx, e.log)
	if secret {
		ent, err := e.keys.PrivateEntity(id, nil)
		switch {
		case err == nil:
			return exported{entity: ent, secret: true}, true, nil
		case errors.Is(err, keyring.ErrPassphraseRequired), errors.Is(err, keyring.ErrNoSecretKey):
			out.Log.Add(engine.LevelWarn, fmt.Sprintf("secret key %s not exportable, exporting public key only", id))
			log.Warn("exporting public key only", logger.Stringer("key_id", id), logger.Error(err))
		case errors.Is(err, keyring.ErrKeyNotFound):
			out.Fail(fmt.Sprintf("key %s not found", id))
			return exported{}, false, nil
		default:
			return exported{}, false, err
		}
	}

	ent, err := e.keys.PublicEntity(id)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		out.Fail(fmt.Sprintf("key %s not found", id))
		return exported{}, false, nil
	}
	if err != nil {
		return exported{}, false, err
	}
	return exported{entity: ent}, true, nil
}

func (e *Engine) writeExport(in *engine.ExportInput, items []exported) error {
	cfg := e.config(time.Time{})
	w := in.Output
	var closers []io.Closer

	if in.Armor {
		blockType := openpgp.PublicKeyType
		switch {
		case in.BackupCode != nil:
			blockType = messageType
		case anySecret(items):
			blockType = openpgp.PrivateKeyType
		}
		aw, err := armor.Encode(w, blockType, nil)
		if err != nil {
			return err
		}
		closers = append(closers, aw)
		w = aw
	}
	if in.BackupCode != nil {
		pw, err := openpgp.SymmetricallyEncrypt(w, in.BackupCode, &openpgp.FileHints{IsBinary: true}, cfg)
		if err != nil {
			return err
		}
		closers = append(closers, pw)
		w = pw
	}

	for _, item := range items {
		var err error
		if item.secret {
			err = item.entity.SerializePrivate(w, cfg)
		} else {
			err = item.entity.Serialize(w)
		}
		if err != nil {
			return err
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

func anySecret(items []exported) bool {
	for _, item := range items {
		if item.secret {
			return true
		}
	}
	return false
}
