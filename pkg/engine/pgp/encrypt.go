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
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Encrypt writes Input to Output as a public-key encrypted message,
// optionally compressed and signed.
func (e *Engine) Encrypt(ctx context.Context, in *engine.EncryptInput) (*engine.EncryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &engine.EncryptResult{}
	if in.Input == nil {
		res.Fail("no input stream")
		return res, nil
	}
	cfg := e.config(in.Time)

	recipients, ok, err := e.recipientKeys(in.Recipients, cfg.Now(), &res.Outcome)
	if err != nil || !ok {
		return res, err
	}

	var signer *packet.PrivateKey
	if in.SignKeyID != types.NoKey {
		key, ok, err := e.unlockSigner(ctx, in.SignKeyID, in.Passphrase, cfg.Now(), &res.Outcome)
		if err != nil || !ok {
			return res, err
		}
		signer = key.PrivateKey
	}

	if err := e.writeEncrypted(in, recipients, signer, cfg); err != nil {
		res.Fail(fmt.Sprintf("encryption failed: %v", err))
		return res, nil
	}

	logger.FromContext(ctx, e.log).Debug("message encrypted",
		logger.Int("recipients", len(recipients)),
		logger.Bool("signed", signer != nil),
		logger.Bool("compressed", in.Compress))
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("encrypted to %d recipient key(s)", len(recipients)))
	return res, nil
}

func (e *Engine) recipientKeys(ids []types.KeyID, now time.Time, out *engine.Outcome) ([]openpgp.Key, bool, error) {
	if len(ids) == 0 {
		out.Fail("no recipients")
		return nil, false, nil
	}
	seen := make(map[uint64]bool, len(ids))
	keys := make([]openpgp.Key, 0, len(ids))
	for _, id := range ids {
		info, err := e.keys.Get(id)
		if errors.Is(err, keyring.ErrKeyNotFound) {
			out.Fail(fmt.Sprintf("recipient key %s not found", id))
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if info.Revoked {
			out.Fail(fmt.Sprintf("recipient key %s is revoked", id))
			return nil, false, nil
		}
		ent, err := e.keys.PublicEntity(id)
		if err != nil {
			return nil, false, err
		}
		key, ok := keyring.EncryptionKey(ent, now)
		if !ok {
			out.Fail(fmt.Sprintf("key %s cannot encrypt", id))
			return nil, false, nil
		}
		if seen[key.PublicKey.KeyId] {
			continue
		}
		seen[key.PublicKey.KeyId] = true
		keys = append(keys, key)
	}
	return keys, true, nil
}

// writeEncrypted emits PKESK packets, then a SEIPD packet holding an
// optional compressed packet around an optionally one-pass-signed literal.
func (e *Engine) writeEncrypted(in *engine.EncryptInput, recipients []openpgp.Key, signer *packet.PrivateKey, cfg *packet.Config) error {
	if in.Output == nil {
		return errors.New("no output stream")
	}
	out := in.Output
	var armored io.WriteCloser
	if in.Armor {
		var err error
		if armored, err = armor.Encode(out, messageType, nil); err != nil {
			return err
		}
		out = armored
	}

	cipher := pickCipher(cfg.Cipher(), recipients)
	symKey := make([]byte, cipher.KeySize())
	defer memzero.Zero(symKey)
	if _, err := io.ReadFull(cfg.Random(), symKey); err != nil {
		return err
	}
	for _, key := range recipients {
		if err := packet.SerializeEncryptedKey(out, key.PublicKey, cipher, symKey, cfg); err != nil {
			return err
		}
	}

	payload, err := packet.SerializeSymmetricallyEncrypted(out, cipher, symKey, cfg)
	if err != nil {
		return err
	}
	if in.Compress {
		if payload, err = packet.SerializeCompressed(payload, cfg.Compression(), nil); err != nil {
			return err
		}
	}

	plaintext, err := literalWriter(payload, signer, in.Filename, cfg)
	if err != nil {
		return err
	}
	if _, err := io.Copy(plaintext, in.Input); err != nil {
		return err
	}
	if err := plaintext.Close(); err != nil {
		return err
	}
	if armored != nil {
		return armored.Close()
	}
	return nil
}

// literalWriter returns the writer for the message body. Closing it closes
// payload.
func literalWriter(payload io.WriteCloser, signer *packet.PrivateKey, filename string, cfg *packet.Config) (io.WriteCloser, error) {
	epoch := uint32(cfg.Now().Unix())
	if signer == nil {
		return packet.SerializeLiteral(payload, true, filename, epoch)
	}

	ops := &packet.OnePassSignature{
		SigType:    packet.SigTypeBinary,
		Hash:       cfg.Hash(),
		PubKeyAlgo: signer.PubKeyAlgo,
		KeyId:      signer.KeyId,
		IsLast:     true,
	}
	if err := ops.Serialize(payload); err != nil {
		return nil, err
	}
	literal, err := packet.SerializeLiteral(nopCloser{payload}, true, filename, epoch)
	if err != nil {
		return nil, err
	}
	return &signingWriter{
		payload: payload,
		literal: literal,
		h:       cfg.Hash().New(),
		signer:  signer,
		cfg:     cfg,
	}, nil
}

// signingWriter hashes the body while writing it and appends the
// signature packet after the literal on Close.
type signingWriter struct {
	payload io.WriteCloser
	literal io.WriteCloser
	h       hash.Hash
	signer  *packet.PrivateKey
	cfg     *packet.Config
}

func (w *signingWriter) Write(p []byte) (int, error) {
	w.h.Write(p)
	return w.literal.Write(p)
}

func (w *signingWriter) Close() error {
	sig := newSignature(w.signer, packet.SigTypeBinary, w.cfg)
	if err := sig.Sign(w.h, w.signer, w.cfg); err != nil {
		return err
	}
	if err := w.literal.Close(); err != nil {
		return err
	}
	if err := sig.Serialize(w.payload); err != nil {
		return err
	}
	return w.payload.Close()
}

// pickCipher returns preferred unless a recipient's self signature lists
// preferences excluding it.
func pickCipher(preferred packet.CipherFunction, recipients []openpgp.Key) packet.CipherFunction {
	for _, c := range []packet.CipherFunction{preferred, packet.CipherAES256, packet.CipherAES128} {
		if acceptedByAll(c, recipients) {
			return c
		}
	}
	return packet.CipherAES128
}

func acceptedByAll(c packet.CipherFunction, recipients []openpgp.Key) bool {
	for _, key := range recipients {
		var prefs []uint8
		if ident := keyring.PrimaryIdentity(key.Entity); ident != nil && ident.SelfSignature != nil {
			prefs = ident.SelfSignature.PreferredSymmetric
		}
		if len(prefs) == 0 {
			continue
		}
		found := false
		for _, p := range prefs {
			if packet.CipherFunction(p) == c {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
