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
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Sign produces a detached signature or writes a cleartext-signed message
// to Output. Cleartext signatures are always armored.
func (e *Engine) Sign(ctx context.Context, in *engine.SignInput) (*engine.SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &engine.SignResult{}
	if in.Input == nil {
		res.Fail("no input stream")
		return res, nil
	}
	cfg := e.config(in.Time)
	if in.Hash != 0 {
		cfg.DefaultHash = in.Hash
	}

	key, ok, err := e.unlockSigner(ctx, in.SignKeyID, in.Passphrase, cfg.Now(), &res.Outcome)
	if err != nil || !ok {
		return res, err
	}

	if in.Detached {
		var buf bytes.Buffer
		if err := detachSign(&buf, key.PrivateKey, in.Input, in.Armor, cfg); err != nil {
			res.Fail(fmt.Sprintf("detached signing failed: %v", err))
			return res, nil
		}
		res.DetachedSignature = buf.Bytes()
		res.MicAlg = MicAlg(cfg.Hash())
	} else {
		if err := clearSign(in.Output, key.PrivateKey, in.Input, cfg); err != nil {
			res.Fail(fmt.Sprintf("cleartext signing failed: %v", err))
			return res, nil
		}
	}
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("signed with key %s", types.KeyID(key.PrivateKey.KeyId)))
	return res, nil
}

func detachSign(w io.Writer, signer *packet.PrivateKey, message io.Reader, armored bool, cfg *packet.Config) error {
	out := w
	var aw io.WriteCloser
	if armored {
		var err error
		if aw, err = armor.Encode(w, openpgp.SignatureType, nil); err != nil {
			return err
		}
		out = aw
	}

	h := cfg.Hash().New()
	if _, err := io.Copy(h, message); err != nil {
		return err
	}
	sig := newSignature(signer, packet.SigTypeBinary, cfg)
	if err := sig.Sign(h, signer, cfg); err != nil {
		return err
	}
	if err := sig.Serialize(out); err != nil {
		return err
	}
	if aw != nil {
		return aw.Close()
	}
	return nil
}

func clearSign(w io.Writer, signer *packet.PrivateKey, message io.Reader, cfg *packet.Config) error {
	if w == nil {
		return fmt.Errorf("no output stream")
	}
	pw, err := clearsign.Encode(w, signer, cfg)
	if err != nil {
		return err
	}
	if _, err := io.Copy(pw, message); err != nil {
		return err
	}
	return pw.Close()
}
