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
	"crypto"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/clearsign"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// verification is what was learned about one signature before it is
// classified against the key ring.
type verification struct {
	issuer  types.KeyID
	key     *openpgp.Key
	err     error
	created time.Time
	hash    crypto.Hash
}

func verificationOf(md *openpgp.MessageDetails) *verification {
	if !md.IsSigned {
		return nil
	}
	v := &verification{
		issuer: types.KeyID(md.SignedByKeyId),
		key:    md.SignedBy,
		err:    md.SignatureError,
	}
	switch {
	case md.Signature != nil:
		v.created = md.Signature.CreationTime
		v.hash = md.Signature.Hash
	case md.SignatureV3 != nil:
		v.created = md.SignatureV3.CreationTime
		v.hash = md.SignatureV3.Hash
	}
	return v
}

func (e *Engine) verifyDetached(ctx context.Context, in *engine.DecryptInput, out io.Writer, res *engine.DecryptResult) (*engine.DecryptResult, error) {
	sig, err := readSignature(in.DetachedSignature)
	if err != nil {
		res.Fail(fmt.Sprintf("invalid detached signature: %v", err))
		return res, nil
	}
	v, n, err := e.verifySignature(sig, in.Input, out)
	if err != nil {
		res.Fail(fmt.Sprintf("could not read signed data: %v", err))
		return res, nil
	}
	res.Decryption = &types.DecryptionResult{Status: types.NotEncrypted}
	res.Metadata = &types.Metadata{MimeType: mimeBinary, OriginalSize: n}
	res.Signature = e.classify(ctx, v, in.SenderAddress)
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("detached signature %s", res.Signature.Status))
	return res, nil
}

func (e *Engine) verifyCleartext(ctx context.Context, in *engine.DecryptInput, r *bufio.Reader, out io.Writer, res *engine.DecryptResult) (*engine.DecryptResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	block, _ := clearsign.Decode(data)
	if block == nil {
		res.Fail("invalid cleartext signed message")
		return res, nil
	}
	sig, err := readSignaturePacket(block.ArmoredSignature.Body)
	if err != nil {
		res.Fail(fmt.Sprintf("invalid cleartext signature: %v", err))
		return res, nil
	}
	if _, err := out.Write(block.Plaintext); err != nil {
		res.Fail(fmt.Sprintf("could not write output: %v", err))
		return res, nil
	}
	v, _, err := e.verifySignature(sig, bytes.NewReader(block.Bytes), io.Discard)
	if err != nil {
		return nil, err
	}
	res.Decryption = &types.DecryptionResult{Status: types.NotEncrypted}
	res.Metadata = &types.Metadata{MimeType: mimeText, Charset: charsetUTF, OriginalSize: int64(len(block.Plaintext))}
	res.Charset = charsetUTF
	res.Signature = e.classify(ctx, v, in.SenderAddress)
	res.Log.Add(engine.LevelInfo, fmt.Sprintf("cleartext signature %s", res.Signature.Status))
	return res, nil
}

// verifySignature copies signed to out while hashing it and checks sig
// against the key ring. n is the number of bytes copied.
func (e *Engine) verifySignature(sig *packet.Signature, signed io.Reader, out io.Writer) (v *verification, n int64, err error) {
	v = &verification{created: sig.CreationTime, hash: sig.Hash}
	h, wrapped, herr := signatureHash(sig.Hash, sig.SigType)
	sink := out
	if herr == nil {
		sink = io.MultiWriter(out, wrapped)
	}
	if n, err = io.Copy(sink, signed); err != nil {
		return nil, n, err
	}

	if sig.IssuerKeyId == nil {
		v.err = errors.New("signature carries no issuer key id")
		return v, n, nil
	}
	v.issuer = types.KeyID(*sig.IssuerKeyId)
	keys := publicRing{e.keys}.KeysByIdUsage(*sig.IssuerKeyId, packet.KeyFlagSign)
	if len(keys) == 0 {
		return v, n, nil
	}
	v.key = &keys[0]
	if herr != nil {
		v.err = herr
	} else {
		v.err = v.key.PublicKey.VerifySignature(h, sig)
	}
	return v, n, nil
}

func signatureHash(h crypto.Hash, sigType packet.SignatureType) (hash.Hash, hash.Hash, error) {
	if !h.Available() {
		return nil, nil, fmt.Errorf("hash %d not available", h)
	}
	d := h.New()
	switch sigType {
	case packet.SigTypeBinary:
		return d, d, nil
	case packet.SigTypeText:
		return d, openpgp.NewCanonicalTextHash(d), nil
	}
	return nil, nil, fmt.Errorf("unsupported signature type %d", sigType)
}

func readSignature(data []byte) (*packet.Signature, error) {
	var r io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), armorHeader) {
		block, err := armor.Decode(r)
		if err != nil {
			return nil, err
		}
		r = block.Body
	}
	return readSignaturePacket(r)
}

func readSignaturePacket(r io.Reader) (*packet.Signature, error) {
	p, err := packet.Read(r)
	if err != nil {
		return nil, err
	}
	sig, ok := p.(*packet.Signature)
	if !ok {
		return nil, fmt.Errorf("expected a signature packet, got %T", p)
	}
	return sig, nil
}

// classify turns a verification into the outcome reported to the caller.
// The key id reported is the signer's master key id when it is known.
func (e *Engine) classify(ctx context.Context, v *verification, sender string) *types.SignatureResult {
	if v == nil {
		return types.NoSignature()
	}
	res := &types.SignatureResult{KeyID: v.issuer, SignedAt: v.created}
	if v.key == nil {
		res.Status = types.SignatureKeyMissing
		return res
	}
	info, err := e.keys.Get(types.KeyID(v.key.Entity.PrimaryKey.KeyId))
	if err != nil {
		res.Status = types.SignatureKeyMissing
		return res
	}
	res.KeyID = info.KeyID
	res.PrimaryUserID = info.PrimaryUserID
	res.UserIDs = info.UserIDs
	res.SenderStatus = senderStatus(info, sender)

	switch {
	case v.err != nil:
		logger.FromContext(ctx, e.log).Debug("signature did not verify",
			logger.Stringer("key_id", info.KeyID), logger.Error(v.err))
		res.Status = types.SignatureInvalid
	case info.Revoked:
		res.Status = types.SignatureKeyRevoked
	case info.Expired:
		res.Status = types.SignatureKeyExpired
	case info.Insecure() || keyring.IsInsecure(v.key.PublicKey) || weakHash(v.hash):
		res.Status = types.SignatureKeyInsecure
	case info.Verified:
		res.Status = types.SignatureValidConfirmed
	default:
		res.Status = types.SignatureValidUnconfirmed
	}
	return res
}

func senderStatus(info *keyring.KeyInfo, sender string) types.SenderStatus {
	switch {
	case sender == "":
		return types.SenderUnknown
	case !info.HasAddress(sender):
		return types.SenderMissing
	case info.Verified:
		return types.SenderConfirmed
	default:
		return types.SenderUnconfirmed
	}
}
