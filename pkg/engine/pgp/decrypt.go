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
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
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

const (
	mimeText   = "text/plain"
	mimeBinary = "application/octet-stream"
	charsetUTF = "utf-8"
)

// Packet tags that start an encrypted message.
const (
	tagEncryptedKey          = 1
	tagSymmetricKeyEncrypted = 3
	tagSymmetricallyEnc      = 9
	tagSymmetricallyEncMDC   = 18
)

var (
	clearsignHeader = []byte("-----BEGIN PGP SIGNED MESSAGE")
	armorHeader     = []byte("-----BEGIN ")
)

// Decrypt decrypts and/or verifies Input. Armored, binary and cleartext
// signed input is accepted; with a DetachedSignature, Input is the signed
// data itself. Only secret keys in AllowedKeys are used, and messages
// encrypted to a passphrase only are refused.
func (e *Engine) Decrypt(ctx context.Context, in *engine.DecryptInput) (*engine.DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &engine.DecryptResult{}
	if in.Input == nil {
		res.Fail("no input stream")
		return res, nil
	}
	var out io.Writer = io.Discard
	if in.Output != nil && !in.MetadataOnly {
		out = in.Output
	}

	if len(in.DetachedSignature) > 0 {
		return e.verifyDetached(ctx, in, out, res)
	}

	br := bufio.NewReader(in.Input)
	head, _ := br.Peek(64)
	head = bytes.TrimLeft(head, " \t\r\n")
	switch {
	case bytes.HasPrefix(head, clearsignHeader):
		return e.verifyCleartext(ctx, in, br, out, res)
	case bytes.HasPrefix(head, armorHeader):
		block, err := armor.Decode(br)
		if err != nil {
			res.Fail(fmt.Sprintf("invalid armor: %v", err))
			return res, nil
		}
		return e.readMessage(ctx, in, bufio.NewReader(block.Body), out, res)
	default:
		return e.readMessage(ctx, in, br, out, res)
	}
}

func (e *Engine) readMessage(ctx context.Context, in *engine.DecryptInput, r *bufio.Reader, out io.Writer, res *engine.DecryptResult) (*engine.DecryptResult, error) {
	first, err := r.Peek(1)
	if err != nil || first[0]&0x80 == 0 {
		res.Fail("input is not an OpenPGP message")
		return res, nil
	}
	switch packetTag(first[0]) {
	case tagEncryptedKey, tagSymmetricKeyEncrypted, tagSymmetricallyEnc, tagSymmetricallyEncMDC:
		return e.decryptMessage(ctx, in, r, out, res)
	}

	md, err := openpgp.ReadMessage(r, publicRing{e.keys}, nil, e.config(time.Time{}))
	if err != nil {
		res.Fail(fmt.Sprintf("could not read message: %v", err))
		return res, nil
	}
	res.Decryption = &types.DecryptionResult{Status: types.NotEncrypted}
	e.consume(ctx, in, md, out, res)
	return res, nil
}

// packetTag decodes the tag of an old or new format packet header.
func packetTag(b byte) int {
	if b&0x40 != 0 {
		return int(b & 0x3f)
	}
	return int(b&0x3f) >> 2
}

type session struct {
	recipient types.KeyID
	cipher    packet.CipherFunction
	key       []byte
	plaintext io.ReadCloser
}

func (e *Engine) decryptMessage(ctx context.Context, in *engine.DecryptInput, r io.Reader, out io.Writer, res *engine.DecryptResult) (*engine.DecryptResult, error) {
	packets := packet.NewReader(r)
	var (
		pkesks    []*packet.EncryptedKey
		se        *packet.SymmetricallyEncrypted
		symmetric bool
	)
collect:
	for {
		p, err := packets.Next()
		if err != nil {
			res.Fail(fmt.Sprintf("could not read encrypted message: %v", err))
			return res, nil
		}
		switch p := p.(type) {
		case *packet.EncryptedKey:
			pkesks = append(pkesks, p)
		case *packet.SymmetricKeyEncrypted:
			symmetric = true
		case *packet.SymmetricallyEncrypted:
			se = p
			break collect
		default:
			res.Fail(fmt.Sprintf("unexpected %T in encrypted message", p))
			return res, nil
		}
	}
	if len(pkesks) == 0 {
		if symmetric {
			res.Fail("symmetric decryption is not allowed")
		} else {
			res.Fail("message has no public-key encrypted session key")
		}
		return res, nil
	}

	s, err := e.unlockSession(ctx, in, pkesks, se, res)
	if err != nil || s == nil {
		return res, err
	}
	defer memzero.Zero(s.key)

	md, err := openpgp.ReadMessage(s.plaintext, publicRing{e.keys}, nil, e.config(time.Time{}))
	if err != nil {
		res.Fail(fmt.Sprintf("could not read decrypted message: %v", err))
		return res, nil
	}

	status := types.Encrypted
	if !se.MDC || s.cipher == packet.Cipher3DES || s.cipher == packet.CipherCAST5 {
		status = types.EncryptedInsecure
	}
	sessionKey := make([]byte, 8)
	binary.BigEndian.PutUint64(sessionKey, uint64(s.recipient))
	res.Decryption = &types.DecryptionResult{
		Status:              status,
		SessionKey:          sessionKey,
		DecryptedSessionKey: append([]byte{byte(s.cipher)}, s.key...),
	}

	e.consume(ctx, in, md, out, res)
	if in.MetadataOnly || res.Failed {
		return res, nil
	}
	if _, err := io.Copy(io.Discard, s.plaintext); err != nil {
		res.Fail(fmt.Sprintf("could not read message: %v", err))
		return res, nil
	}
	if err := s.plaintext.Close(); err != nil {
		res.Fail(fmt.Sprintf("integrity check failed: %v", err))
		return res, nil
	}
	if status == types.EncryptedInsecure {
		res.Log.Add(engine.LevelWarn, "message was encrypted insecurely")
	}
	return res, nil
}

// unlockSession finds an allowed secret key for one of the recipients and
// decrypts the session key with it. A nil session means the outcome says
// why none could be used.
func (e *Engine) unlockSession(ctx context.Context, in *engine.DecryptInput, pkesks []*packet.EncryptedKey, se *packet.SymmetricallyEncrypted, res *engine.DecryptResult) (*session, error) {
	log := logger.FromContext(ctx, e.log)
	cfg := e.config(time.Time{})
	skipped := types.NewKeySet()
	locked := types.NoKey
	badPassphrase := false

	for _, ek := range pkesks {
		recipient := types.KeyID(ek.KeyId)
		info, err := e.keys.Get(recipient)
		if errors.Is(err, keyring.ErrKeyNotFound) {
			res.Log.Add(engine.LevelDebug, fmt.Sprintf("no key for recipient %s", recipient))
			continue
		}
		if err != nil {
			return nil, err
		}
		if !info.HasSecret {
			res.Log.Add(engine.LevelDebug, fmt.Sprintf("no secret key for recipient %s", recipient))
			continue
		}
		if !in.AllowedKeys.Contains(info.KeyID) {
			if !skipped.Contains(info.KeyID) {
				skipped.Add(info.KeyID)
				res.SkippedDisallowedKeys = append(res.SkippedDisallowedKeys, info.KeyID)
			}
			res.Log.Add(engine.LevelInfo, fmt.Sprintf("key %s is not allowed for this caller", info.KeyID))
			continue
		}

		if s := e.trySessionKey(in, recipient, se, res); s != nil {
			return s, nil
		}

		ent, err := e.keys.PrivateEntity(info.KeyID, in.Passphrase)
		switch {
		case errors.Is(err, keyring.ErrPassphraseRequired):
			if locked == types.NoKey {
				locked = info.KeyID
			}
			continue
		case errors.Is(err, keyring.ErrBadPassphrase):
			badPassphrase = true
			res.Log.Add(engine.LevelWarn, fmt.Sprintf("bad passphrase for key %s", info.KeyID))
			continue
		case err != nil:
			return nil, err
		}

		priv := privateKeyFor(ent, ek.KeyId)
		if priv == nil {
			continue
		}
		if err := ek.Decrypt(priv, cfg); err != nil {
			res.Log.Add(engine.LevelWarn, fmt.Sprintf("could not decrypt session key for %s: %v", recipient, err))
			continue
		}
		plaintext, err := se.Decrypt(ek.CipherFunc, ek.Key)
		if err != nil {
			res.Log.Add(engine.LevelWarn, fmt.Sprintf("session key for %s rejected: %v", recipient, err))
			continue
		}
		log.Debug("session key unlocked", logger.Stringer("recipient", recipient))
		return &session{recipient: recipient, cipher: ek.CipherFunc, key: ek.Key, plaintext: plaintext}, nil
	}

	switch {
	case locked != types.NoKey:
		res.NeedsPassphrase = locked
		res.Log.Add(engine.LevelInfo, fmt.Sprintf("passphrase required for key %s", locked))
	case badPassphrase:
		res.Fail("bad passphrase")
	case len(res.SkippedDisallowedKeys) > 0:
		res.Fail("no allowed key can decrypt this message")
	default:
		res.Fail("no secret key available to decrypt this message")
	}
	return nil, nil
}

// trySessionKey decrypts with a session key from an earlier result. A
// rejected key falls back to the private key.
func (e *Engine) trySessionKey(in *engine.DecryptInput, recipient types.KeyID, se *packet.SymmetricallyEncrypted, res *engine.DecryptResult) *session {
	sk, ok := in.SessionKeys[recipient.String()]
	if !ok || len(sk) < 2 {
		return nil
	}
	cipher := packet.CipherFunction(sk[0])
	key := memzero.Clone(sk[1:])
	plaintext, err := se.Decrypt(cipher, key)
	if err != nil {
		memzero.Zero(key)
		res.Log.Add(engine.LevelWarn, fmt.Sprintf("cached session key for %s rejected: %v", recipient, err))
		return nil
	}
	res.Log.Add(engine.LevelDebug, fmt.Sprintf("decrypted with cached session key for %s", recipient))
	return &session{recipient: recipient, cipher: cipher, key: key, plaintext: plaintext}
}

func privateKeyFor(e *openpgp.Entity, id uint64) *packet.PrivateKey {
	if e.PrivateKey != nil && e.PrimaryKey.KeyId == id {
		return e.PrivateKey
	}
	for _, sub := range e.Subkeys {
		if sub.PublicKey.KeyId == id && sub.PrivateKey != nil {
			return sub.PrivateKey
		}
	}
	return nil
}

// consume fills in metadata and, unless only metadata was asked for,
// copies the body to out and classifies the signature.
func (e *Engine) consume(ctx context.Context, in *engine.DecryptInput, md *openpgp.MessageDetails, out io.Writer, res *engine.DecryptResult) {
	lit := md.LiteralData
	meta := &types.Metadata{Filename: lit.FileName, MimeType: mimeBinary}
	if lit.Time != 0 {
		meta.ModifiedAt = time.Unix(int64(lit.Time), 0).UTC()
	}
	if !lit.IsBinary {
		meta.MimeType = mimeText
		meta.Charset = charsetUTF
	}
	res.Metadata = meta
	res.Charset = meta.Charset

	if in.MetadataOnly {
		if in.DataLength != nil {
			meta.OriginalSize = *in.DataLength
		}
		res.Log.Add(engine.LevelInfo, "metadata read")
		return
	}

	n, err := io.Copy(out, md.UnverifiedBody)
	if err != nil {
		res.Fail(fmt.Sprintf("could not read message body: %v", err))
		return
	}
	meta.OriginalSize = n
	res.Signature = e.classify(ctx, verificationOf(md), in.SenderAddress)
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("message read, signature %s", res.Signature.Status))
}
