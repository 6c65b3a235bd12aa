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
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// publicRing exposes the stored public keys to openpgp.ReadMessage.
// Revoked keys are still returned so that their signatures can be
// reported as made by a revoked key rather than an unknown one. Private
// keys are never handed out; decryption keys are unlocked explicitly.
type publicRing struct {
	keys *keyring.Keyring
}

var _ openpgp.KeyRing = publicRing{}

func (r publicRing) KeysById(id uint64) []openpgp.Key {
	e, err := r.keys.PublicEntity(types.KeyID(id))
	if err != nil {
		return nil
	}
	return openpgp.EntityList{e}.KeysById(id)
}

func (r publicRing) KeysByIdUsage(id uint64, usage byte) []openpgp.Key {
	var keys []openpgp.Key
	for _, key := range r.KeysById(id) {
		if sig := key.SelfSignature; sig != nil && sig.FlagsValid && usage&keyFlags(sig) == 0 {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

func (publicRing) DecryptionKeys() []openpgp.Key {
	return nil
}

func keyFlags(sig *packet.Signature) byte {
	var flags byte
	if sig.FlagCertify {
		flags |= packet.KeyFlagCertify
	}
	if sig.FlagSign {
		flags |= packet.KeyFlagSign
	}
	if sig.FlagEncryptCommunications {
		flags |= packet.KeyFlagEncryptCommunications
	}
	if sig.FlagEncryptStorage {
		flags |= packet.KeyFlagEncryptStorage
	}
	return flags
}
