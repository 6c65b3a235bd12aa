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

// Package keyringtest builds key rings for tests in other packages.
package keyringtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
)

// FastSeal keeps Argon2id cheap in tests.
var FastSeal = keyring.SealParams{Time: 1, Memory: 8 * 1024, Threads: 1}

// Epoch is the fixed clock used by New.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// New returns an empty in-memory key ring with a fixed clock.
func New(t testing.TB) *keyring.Keyring {
	t.Helper()
	return keyring.New(memory.New(), &keyring.Options{
		Seal:  FastSeal,
		Clock: func() time.Time { return Epoch },
	})
}

// Generate adds a 2048-bit key ring for name <email>.
func Generate(t testing.TB, kr *keyring.Keyring, name, email string, passphrase []byte) *keyring.KeyInfo {
	t.Helper()
	return GenerateBits(t, kr, name, email, passphrase, 2048)
}

// GenerateBits adds a key ring with the given modulus size.
func GenerateBits(t testing.TB, kr *keyring.Keyring, name, email string, passphrase []byte, bits int) *keyring.KeyInfo {
	t.Helper()
	info, err := kr.Generate(keyring.GenerateOptions{
		Name:       name,
		Email:      email,
		Bits:       bits,
		Passphrase: passphrase,
	})
	require.NoError(t, err)
	return info
}
