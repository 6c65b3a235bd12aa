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

package keyring

import (
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
)

const (
	sealFormatVersion = 1
	sealKDF           = "argon2id"
	sealSaltSize      = 16
)

// SealParams are the Argon2id costs used when sealing a secret key.
type SealParams struct {
	Time    uint32 `yaml:"time" json:"time"`
	Memory  uint32 `yaml:"memory_kib" json:"memory_kib"`
	Threads uint8  `yaml:"threads" json:"threads"`
}

// DefaultSealParams returns the production Argon2id costs (64 MiB, 3 passes).
func DefaultSealParams() SealParams {
	return SealParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// Sealed is a secret key ring encrypted under a passphrase-derived key.
// The record's key id is bound in as associated data, so an envelope
// cannot be moved to another record.
type Sealed struct {
	Version    int    `json:"v"`
	KDF        string `json:"kdf"`
	Time       uint32 `json:"time"`
	Memory     uint32 `json:"memory_kib"`
	Threads    uint8  `json:"threads"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func deriveSealKey(passphrase, salt []byte, time, memory uint32, threads uint8) []byte {
	return argon2.IDKey(passphrase, salt, time, memory, threads, chacha20poly1305.KeySize)
}

func seal(rand io.Reader, params SealParams, passphrase, plaintext, aad []byte) (*Sealed, error) {
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, fmt.Errorf("keyring: read salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand, nonce); err != nil {
		return nil, fmt.Errorf("keyring: read nonce: %w", err)
	}

	key := deriveSealKey(passphrase, salt, params.Time, params.Memory, params.Threads)
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keyring: init cipher: %w", err)
	}
	return &Sealed{
		Version:    sealFormatVersion,
		KDF:        sealKDF,
		Time:       params.Time,
		Memory:     params.Memory,
		Threads:    params.Threads,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, aad),
	}, nil
}

func (s *Sealed) open(passphrase, aad []byte) ([]byte, error) {
	if s.Version > sealFormatVersion || s.KDF != sealKDF {
		return nil, fmt.Errorf("%w: unsupported sealed format %d/%s", ErrInvalidKeyData, s.Version, s.KDF)
	}
	if len(passphrase) == 0 {
		return nil, ErrPassphraseRequired
	}
	key := deriveSealKey(passphrase, s.Salt, s.Time, s.Memory, s.Threads)
	defer memzero.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("keyring: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}
