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

package keyring_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring/keyringtest"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

func TestGenerate(t *testing.T) {
	kr := keyringtest.New(t)
	info := keyringtest.Generate(t, kr, "Alice", "Alice@Example.com", nil)

	assert.NotEqual(t, types.NoKey, info.KeyID)
	assert.Len(t, info.Fingerprint, 40)
	assert.Equal(t, []string{"Alice <Alice@Example.com>"}, info.UserIDs)
	assert.Equal(t, "Alice <Alice@Example.com>", info.PrimaryUserID)
	assert.Equal(t, []string{"alice@example.com"}, info.Addresses)
	assert.Len(t, info.SubKeyIDs, 1)
	assert.Equal(t, info.KeyID, info.SigningKeyID)
	assert.Equal(t, info.SubKeyIDs[0], info.EncryptionKeyID)
	assert.Equal(t, "RSA", info.Algorithm)
	assert.Equal(t, 2048, info.BitLength)
	assert.True(t, info.HasSecret)
	assert.False(t, info.Protected)
	assert.True(t, info.CanSign())
	assert.True(t, info.CanEncrypt())
	assert.False(t, info.Insecure())
	assert.Equal(t, keyringtest.Epoch, info.CreatedAt.UTC())
}

func TestGet_BySubkey(t *testing.T) {
	kr := keyringtest.New(t)
	info := keyringtest.Generate(t, kr, "Alice", "alice@example.com", nil)

	bySub, err := kr.Get(info.SubKeyIDs[0])
	require.NoError(t, err)
	assert.Equal(t, info.KeyID, bySub.KeyID)
	assert.True(t, bySub.Owns(info.SubKeyIDs[0]))

	_, err = kr.Get(types.KeyID(42))
	assert.True(t, errors.Is(err, keyring.ErrKeyNotFound))
}

func TestFindByAddressAndSecretKeys(t *testing.T) {
	kr := keyringtest.New(t)
	alice := keyringtest.Generate(t, kr, "Alice", "alice@example.com", nil)
	bob := keyringtest.Generate(t, kr, "Bob", "bob@example.com", nil)

	found, err := kr.FindByAddress("Alice Liddell <ALICE@example.com>")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, alice.KeyID, found[0].KeyID)

	none, err := kr.FindByAddress("carol@example.com")
	require.NoError(t, err)
	assert.Empty(t, none)

	// a public-only copy of Bob in a second ring has no secret
	pub, err := kr.PublicEntity(bob.KeyID)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, pub.Serialize(&buf))

	other := keyringtest.New(t)
	_, err = other.Import(buf.Bytes(), nil)
	require.NoError(t, err)
	secrets, err := other.SecretKeys()
	require.NoError(t, err)
	assert.Empty(t, secrets)

	all, err := kr.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPrivateEntity_Unprotected(t *testing.T) {
	kr := keyringtest.New(t)
	info := keyringtest.Generate(t, kr, "Alice", "alice@example.com", nil)

	e, err := kr.PrivateEntity(info.KeyID, nil)
	require.NoError(t, err)
	require.NotNil(t, e.PrivateKey)
	assert.False(t, e.PrivateKey.Encrypted)
	require.Len(t, e.Subkeys, 1)
	assert.NotNil(t, e.Subkeys[0].PrivateKey)

	protected, err := kr.IsProtected(info.KeyID)
	require.NoError(t, err)
	assert.False(t, protected)
}

func TestPrivateEntity_Sealed(t *testing.T) {
	kr := keyringtest.New(t)
	info := keyringtest.Generate(t, kr, "Alice", "alice@example.com", []byte("correct horse"))
	assert.True(t, info.Protected)

	_, err := kr.PrivateEntity(info.KeyID, nil)
	assert.True(t, errors.Is(err, keyring.ErrPassphraseRequired))

	_, err = kr.PrivateEntity(info.KeyID, []byte("wrong"))
	assert.True(t, errors.Is(err, keyring.ErrBadPassphrase))

	e, err := kr.PrivateEntity(info.SubKeyIDs[0], []byte("correct horse"))
	require.NoError(t, err)
	assert.Equal(t, uint64(info.KeyID), e.PrimaryKey.KeyId)
	assert.NotNil(t, e.PrivateKey)
}

func TestPrivateEntity_NoSecret(t *testing.T) {
	src := keyringtest.New(t)
	info := keyringtest.Generate(t, src, "Alice", "alice@example.com", nil)
	pub, err := src.PublicEntity(info.KeyID)
	require.NoError(t, err)

	var armored bytes.Buffer
	w, err := armor.Encode(&armored, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, pub.Serialize(w))
	require.NoError(t, w.Close())

	dst := keyringtest.New(t)
	infos, err := dst.Import(armored.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.False(t, infos[0].HasSecret)
	assert.False(t, infos[0].CanSign())

	_, err = dst.PrivateEntity(info.KeyID, nil)
	assert.True(t, errors.Is(err, keyring.ErrNoSecretKey))
	_, err = dst.IsProtected(info.KeyID)
	assert.True(t, errors.Is(err, keyring.ErrNoSecretKey))
}

func TestImport_NativelyProtectedKey(t *testing.T) {
	src := keyringtest.New(t)
	info := keyringtest.Generate(t, src, "Alice", "alice@example.com", nil)
	e, err := src.PrivateEntity(info.KeyID, nil)
	require.NoError(t, err)

	var secret bytes.Buffer
	require.NoError(t, e.SerializePrivate(&secret, nil))

	// re-importing keeps the verified flag and seals under the passphrase
	require.NoError(t, src.SetVerified(info.KeyID, true))
	infos, err := src.Import(secret.Bytes(), []byte("pw"))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Verified)
	assert.True(t, infos[0].Protected)

	_, err = src.PrivateEntity(info.KeyID, []byte("pw"))
	require.NoError(t, err)
}

func TestImport_Invalid(t *testing.T) {
	kr := keyringtest.New(t)
	_, err := kr.Import([]byte("not a key"), nil)
	assert.True(t, errors.Is(err, keyring.ErrInvalidKeyData))

	_, err = kr.Import([]byte("-----BEGIN PGP PUBLIC KEY BLOCK-----\n\n-----END PGP PUBLIC KEY BLOCK-----\n"), nil)
	assert.True(t, errors.Is(err, keyring.ErrInvalidKeyData))
}

func TestVerifiedRevokedDelete(t *testing.T) {
	kr := keyringtest.New(t)
	info := keyringtest.Generate(t, kr, "Alice", "alice@example.com", nil)

	require.NoError(t, kr.SetVerified(info.KeyID, true))
	got, err := kr.Get(info.KeyID)
	require.NoError(t, err)
	assert.True(t, got.Verified)

	require.NoError(t, kr.Revoke(info.SubKeyIDs[0]))
	got, err = kr.Get(info.KeyID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.False(t, got.CanSign())
	revoked, err := kr.IsLocallyRevoked(info.KeyID)
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, kr.Delete(info.KeyID))
	_, err = kr.Get(info.KeyID)
	assert.True(t, errors.Is(err, keyring.ErrKeyNotFound))
	_, err = kr.Get(info.SubKeyIDs[0])
	assert.True(t, errors.Is(err, keyring.ErrKeyNotFound))
	assert.True(t, errors.Is(kr.Delete(info.KeyID), keyring.ErrKeyNotFound))
}

func TestExpired(t *testing.T) {
	now := keyringtest.Epoch
	kr := keyring.New(memory.New(), &keyring.Options{Seal: keyringtest.FastSeal, Clock: func() time.Time { return now }})
	info := keyringtest.GenerateBits(t, kr, "Old", "old@example.com", nil, 1024)
	assert.True(t, info.Insecure())

	e, err := kr.PublicEntity(info.KeyID)
	require.NoError(t, err)
	assert.False(t, keyring.IsExpired(e, now.Add(24*time.Hour)))
	assert.True(t, keyring.IsInsecure(e.PrimaryKey))
	assert.False(t, keyring.IsRevoked(e))
}

func TestNormalizeAddress(t *testing.T) {
	tests := map[string]string{
		"alice@example.com":                 "alice@example.com",
		"Alice <ALICE@Example.com>":         "alice@example.com",
		"  bob@example.com ":                "bob@example.com",
		"Weird Name (c) <weird@host.local>": "weird@host.local",
		"":                                  "",
		"no-at-sign":                        "no-at-sign",
	}
	for in, want := range tests {
		assert.Equal(t, want, keyring.NormalizeAddress(in), in)
	}
}
