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
	"net/mail"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// MinSecureBits is the smallest RSA, DSA or ElGamal modulus still
// considered secure.
const MinSecureBits = 2048

// KeyInfo is the metadata view of a stored key ring.
type KeyInfo struct {
	KeyID           types.KeyID   `json:"key_id"`
	Fingerprint     string        `json:"fingerprint"`
	UserIDs         []string      `json:"user_ids"`
	PrimaryUserID   string        `json:"primary_user_id"`
	Addresses       []string      `json:"addresses,omitempty"`
	SubKeyIDs       []types.KeyID `json:"subkey_ids,omitempty"`
	SigningKeyID    types.KeyID   `json:"signing_key_id,omitempty"`
	EncryptionKeyID types.KeyID   `json:"encryption_key_id,omitempty"`
	Algorithm       string        `json:"algorithm"`
	BitLength       int           `json:"bit_length"`
	HasSecret       bool          `json:"has_secret"`
	Protected       bool          `json:"protected"`
	Verified        bool          `json:"verified"`
	Revoked         bool          `json:"revoked"`
	Expired         bool          `json:"expired"`
	CreatedAt       time.Time     `json:"created_at"`
}

// CanSign reports whether the ring holds a usable signing key.
func (k *KeyInfo) CanSign() bool {
	return k.HasSecret && k.SigningKeyID != types.NoKey && !k.Revoked && !k.Expired
}

// CanEncrypt reports whether messages can be encrypted to this ring.
func (k *KeyInfo) CanEncrypt() bool {
	return k.EncryptionKeyID != types.NoKey && !k.Revoked && !k.Expired
}

// Insecure reports a key too weak to trust.
func (k *KeyInfo) Insecure() bool {
	return weakAlgorithm(k.Algorithm) && k.BitLength < MinSecureBits
}

// HasAddress reports whether one of the user ids carries addr.
func (k *KeyInfo) HasAddress(addr string) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	for _, a := range k.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// Owns reports whether id is the master key or one of the subkeys.
func (k *KeyInfo) Owns(id types.KeyID) bool {
	if k.KeyID == id {
		return true
	}
	for _, sub := range k.SubKeyIDs {
		if sub == id {
			return true
		}
	}
	return false
}

// NormalizeAddress extracts the lower-cased e-mail address from either a
// bare address or a "Name <address>" user id. Anything else is returned
// trimmed and lower-cased.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address)
	}
	if i, j := strings.LastIndex(s, "<"), strings.LastIndex(s, ">"); i >= 0 && j > i {
		return strings.ToLower(strings.TrimSpace(s[i+1 : j]))
	}
	return strings.ToLower(s)
}

// SigningKey picks the key of e that signatures should be made with: the
// first valid signing-capable subkey, else the primary key when its self
// signature allows signing.
func SigningKey(e *openpgp.Entity, now time.Time) (openpgp.Key, bool) {
	for _, sub := range e.Subkeys {
		if sub.Sig != nil && sub.Sig.FlagsValid && sub.Sig.FlagSign &&
			sub.PublicKey.PubKeyAlgo.CanSign() && !sub.Sig.KeyExpired(now) {
			return openpgp.Key{Entity: e, PublicKey: sub.PublicKey, PrivateKey: sub.PrivateKey, SelfSignature: sub.Sig}, true
		}
	}
	ident := PrimaryIdentity(e)
	if ident == nil || ident.SelfSignature == nil {
		return openpgp.Key{}, false
	}
	sig := ident.SelfSignature
	if !sig.FlagsValid || (sig.FlagSign && e.PrimaryKey.PubKeyAlgo.CanSign() && !sig.KeyExpired(now)) {
		return openpgp.Key{Entity: e, PublicKey: e.PrimaryKey, PrivateKey: e.PrivateKey, SelfSignature: sig}, true
	}
	return openpgp.Key{}, false
}

// EncryptionKey picks the newest valid encryption subkey of e, else the
// primary key when its self signature allows encryption.
func EncryptionKey(e *openpgp.Entity, now time.Time) (openpgp.Key, bool) {
	candidate := -1
	var newest time.Time
	for i, sub := range e.Subkeys {
		if sub.Sig != nil && sub.Sig.FlagsValid && sub.Sig.FlagEncryptCommunications &&
			sub.PublicKey.PubKeyAlgo.CanEncrypt() && !sub.Sig.KeyExpired(now) &&
			(newest.IsZero() || sub.Sig.CreationTime.After(newest)) {
			candidate = i
			newest = sub.Sig.CreationTime
		}
	}
	if candidate >= 0 {
		sub := e.Subkeys[candidate]
		return openpgp.Key{Entity: e, PublicKey: sub.PublicKey, PrivateKey: sub.PrivateKey, SelfSignature: sub.Sig}, true
	}
	ident := PrimaryIdentity(e)
	if ident == nil || ident.SelfSignature == nil {
		return openpgp.Key{}, false
	}
	sig := ident.SelfSignature
	if e.PrimaryKey.PubKeyAlgo.CanEncrypt() && (!sig.FlagsValid || (sig.FlagEncryptCommunications && !sig.KeyExpired(now))) {
		return openpgp.Key{Entity: e, PublicKey: e.PrimaryKey, PrivateKey: e.PrivateKey, SelfSignature: sig}, true
	}
	return openpgp.Key{}, false
}

// PrimaryIdentity returns the identity flagged primary, else the first by
// name. Nil when e has no identities.
func PrimaryIdentity(e *openpgp.Entity) *openpgp.Identity {
	names := identityNames(e)
	for _, name := range names {
		ident := e.Identities[name]
		if ident.SelfSignature != nil && ident.SelfSignature.IsPrimaryId != nil && *ident.SelfSignature.IsPrimaryId {
			return ident
		}
	}
	if len(names) == 0 {
		return nil
	}
	return e.Identities[names[0]]
}

// IsInsecure reports whether pub is too weak to trust.
func IsInsecure(pub *packet.PublicKey) bool {
	if pub == nil {
		return false
	}
	bits, err := pub.BitLength()
	if err != nil {
		return false
	}
	return weakAlgorithm(AlgorithmName(pub.PubKeyAlgo)) && int(bits) < MinSecureBits
}

// IsRevoked reports a revocation signature on the entity.
func IsRevoked(e *openpgp.Entity) bool {
	if len(e.Revocations) > 0 {
		return true
	}
	ident := PrimaryIdentity(e)
	return ident != nil && ident.SelfSignature != nil && ident.SelfSignature.RevocationReason != nil
}

// IsExpired reports whether the primary self signature has lapsed.
func IsExpired(e *openpgp.Entity, now time.Time) bool {
	ident := PrimaryIdentity(e)
	return ident != nil && ident.SelfSignature != nil && ident.SelfSignature.KeyExpired(now)
}

// AlgorithmName returns a display name for a public key algorithm.
func AlgorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoElGamal:
		return "ElGamal"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	case packet.PubKeyAlgoECDH:
		return "ECDH"
	default:
		return "unknown"
	}
}

func weakAlgorithm(name string) bool {
	return name == "RSA" || name == "DSA" || name == "ElGamal"
}

func identityNames(e *openpgp.Entity) []string {
	names := make([]string, 0, len(e.Identities))
	for name := range e.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func describe(rec *record, e *openpgp.Entity, now time.Time) *KeyInfo {
	info := &KeyInfo{
		KeyID:       rec.KeyID,
		Fingerprint: rec.Fingerprint,
		SubKeyIDs:   append([]types.KeyID(nil), rec.SubKeyIDs...),
		Algorithm:   AlgorithmName(e.PrimaryKey.PubKeyAlgo),
		HasSecret:   rec.Secret != nil || rec.Sealed != nil,
		Protected:   rec.Sealed != nil,
		Verified:    rec.Verified,
		Revoked:     rec.Revoked || IsRevoked(e),
		Expired:     IsExpired(e, now),
		CreatedAt:   e.PrimaryKey.CreationTime,
	}
	if bits, err := e.PrimaryKey.BitLength(); err == nil {
		info.BitLength = int(bits)
	}
	for _, name := range identityNames(e) {
		info.UserIDs = append(info.UserIDs, name)
		if ident := e.Identities[name]; ident.UserId != nil && ident.UserId.Email != "" {
			info.Addresses = append(info.Addresses, strings.ToLower(ident.UserId.Email))
		}
	}
	if ident := PrimaryIdentity(e); ident != nil {
		info.PrimaryUserID = ident.Name
	}
	if key, ok := SigningKey(e, now); ok {
		info.SigningKeyID = types.KeyID(key.PublicKey.KeyId)
	}
	if key, ok := EncryptionKey(e, now); ok {
		info.EncryptionKeyID = types.KeyID(key.PublicKey.KeyId)
	}
	return info
}
