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

package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeyID is a 64-bit OpenPGP key identifier. Master key ids and subkey ids
// share the same space.
type KeyID uint64

// NoKey is the zero key id, used where "no key" must be expressed.
const NoKey KeyID = 0

// String returns the upper-case, zero-padded hex form of the key id.
func (id KeyID) String() string {
	return fmt.Sprintf("%016X", uint64(id))
}

// Short returns the last 8 hex digits of the key id.
func (id KeyID) Short() string {
	s := id.String()
	return s[8:]
}

// MarshalJSON encodes the key id as a hex string.
func (id KeyID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts either a hex string or a JSON number.
func (id *KeyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseKeyID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidKeyID, string(data))
	}
	*id = KeyID(uint64(n))
	return nil
}

// ParseKeyID parses a hex key id, with or without a 0x prefix.
func ParseKeyID(s string) (KeyID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 16 {
		return NoKey, fmt.Errorf("%w: %q", ErrInvalidKeyID, s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return NoKey, fmt.Errorf("%w: %q", ErrInvalidKeyID, s)
	}
	return KeyID(v), nil
}

// KeySet is an unordered set of key ids.
type KeySet map[KeyID]struct{}

// NewKeySet builds a set from the given ids.
func NewKeySet(ids ...KeyID) KeySet {
	s := make(KeySet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts ids into the set.
func (s KeySet) Add(ids ...KeyID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Contains reports whether id is a member.
func (s KeySet) Contains(id KeyID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s KeySet) Sorted() []KeyID {
	ids := make([]KeyID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UniqueKeyIDs removes duplicates while preserving first-seen order.
func UniqueKeyIDs(ids []KeyID) []KeyID {
	seen := make(KeySet, len(ids))
	out := make([]KeyID, 0, len(ids))
	for _, id := range ids {
		if id == NoKey || seen.Contains(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return out
}
