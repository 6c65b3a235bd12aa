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

// Package pgp implements engine.Engine with golang.org/x/crypto/openpgp
// over a keyring.Keyring.
package pgp

import (
	"context"
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const messageType = "PGP MESSAGE"

// Options tunes the algorithms the engine writes with. Zero fields take
// the defaults: AES-256, SHA-256 and ZLIB.
type Options struct {
	Cipher      packet.CipherFunction
	Hash        crypto.Hash
	Compression packet.CompressionAlgo
	Rand        io.Reader
	Logger      logger.Logger
}

// Engine is safe for concurrent use; all state lives in the key ring.
type Engine struct {
	keys        *keyring.Keyring
	cipher      packet.CipherFunction
	hash        crypto.Hash
	compression packet.CompressionAlgo
	rand        io.Reader
	log         logger.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New returns an engine over keys.
func New(keys *keyring.Keyring, opts *Options) *Engine {
	if opts == nil {
		opts = &Options{}
	}
	e := &Engine{
		keys:        keys,
		cipher:      opts.Cipher,
		hash:        opts.Hash,
		compression: opts.Compression,
		rand:        opts.Rand,
		log:         opts.Logger,
	}
	if e.cipher == 0 {
		e.cipher = packet.CipherAES256
	}
	if e.hash == 0 {
		e.hash = crypto.SHA256
	}
	if e.compression == packet.CompressionNone {
		e.compression = packet.CompressionZLIB
	}
	if e.rand == nil {
		e.rand = rand.Reader
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	return e
}

func (e *Engine) config(now time.Time) *packet.Config {
	if now.IsZero() {
		now = time.Now()
	}
	return &packet.Config{
		Rand:                   e.rand,
		DefaultHash:            e.hash,
		DefaultCipher:          e.cipher,
		DefaultCompressionAlgo: e.compression,
		Time:                   func() time.Time { return now },
	}
}

// unlockSigner loads the signing key of the ring owning id. ok is false
// when the outcome already says why it cannot be used.
func (e *Engine) unlockSigner(ctx context.Context, id types.KeyID, passphrase []byte, now time.Time, out *engine.Outcome) (key openpgp.Key, ok bool, err error) {
	ent, err := e.keys.PrivateEntity(id, passphrase)
	switch {
	case errors.Is(err, keyring.ErrPassphraseRequired):
		out.NeedsPassphrase = e.masterID(id)
		out.Log.Add(engine.LevelInfo, fmt.Sprintf("passphrase required for key %s", out.NeedsPassphrase))
		return key, false, nil
	case errors.Is(err, keyring.ErrBadPassphrase):
		out.Fail(fmt.Sprintf("bad passphrase for key %s", e.masterID(id)))
		return key, false, nil
	case errors.Is(err, keyring.ErrKeyNotFound), errors.Is(err, keyring.ErrNoSecretKey):
		out.Fail(fmt.Sprintf("no secret key available for %s", id))
		return key, false, nil
	case err != nil:
		return key, false, err
	}

	key, ok = keyring.SigningKey(ent, now)
	if !ok || key.PrivateKey == nil {
		out.Fail(fmt.Sprintf("key %s cannot sign", id))
		return key, false, nil
	}
	logger.FromContext(ctx, e.log).Debug("signing key unlocked",
		logger.Stringer("key_id", id),
		logger.Stringer("signing_key_id", types.KeyID(key.PrivateKey.KeyId)))
	return key, true, nil
}

func (e *Engine) masterID(id types.KeyID) types.KeyID {
	if info, err := e.keys.Get(id); err == nil {
		return info.KeyID
	}
	return id
}

func newSignature(signer *packet.PrivateKey, sigType packet.SignatureType, cfg *packet.Config) *packet.Signature {
	return &packet.Signature{
		SigType:      sigType,
		PubKeyAlgo:   signer.PubKeyAlgo,
		Hash:         cfg.Hash(),
		CreationTime: cfg.Now(),
		IssuerKeyId:  &signer.KeyId,
	}
}

var hashNames = map[crypto.Hash]string{
	crypto.MD5:       "md5",
	crypto.SHA1:      "sha1",
	crypto.RIPEMD160: "ripemd160",
	crypto.SHA224:    "sha224",
	crypto.SHA256:    "sha256",
	crypto.SHA384:    "sha384",
	crypto.SHA512:    "sha512",
}

// MicAlg returns the RFC 3156 micalg parameter for h.
func MicAlg(h crypto.Hash) string {
	if name, ok := hashNames[h]; ok {
		return "pgp-" + name
	}
	return "pgp-" + strings.ToLower(h.String())
}

// weakHash reports digests no longer acceptable for signatures.
func weakHash(h crypto.Hash) bool {
	return h == crypto.MD5 || h == crypto.SHA1 || h == crypto.RIPEMD160
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
