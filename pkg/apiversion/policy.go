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

// Package apiversion maps a client's declared API version to the result
// shims that keep older clients working. Every version-conditional behavior
// of the service is defined here and nowhere else.
package apiversion

import (
	"fmt"
	"strings"
)

const (
	// MinSupported and MaxSupported bound the accepted versions.
	MinSupported = 3
	MaxSupported = 11

	// WithResultMetadata is the first version that receives metadata.
	WithResultMetadata = 4

	// WithKeyRevokedExpired is the first version that understands the
	// revoked and expired signature outcomes.
	WithKeyRevokedExpired = 5

	// HighestWithAccounts is the last version whose account-bound keys are
	// merged into the allowed key set.
	HighestWithAccounts = 6

	// WithoutAccounts is the first version where signing and
	// self-encryption no longer fall back to a named account.
	WithoutAccounts = 7

	// WithKeyInvalidInsecure is the first version that understands the
	// insecure-key signature outcome.
	WithKeyInvalidInsecure = 8

	// WithoutSignatureOnlyFlag is the first version that no longer receives
	// the legacy signature-only flag.
	WithoutSignatureOnlyFlag = 8

	// WithDecryptionResult is the first version that receives the
	// decryption result.
	WithDecryptionResult = 8

	// WithResultNoSignature is the first version that receives an explicit
	// no-signature outcome instead of an absent field.
	WithResultNoSignature = 8

	// DefaultAccountName is used by pre-account-deprecation clients that do
	// not name an account.
	DefaultAccountName = "default"
)

// Supported returns the supported versions in ascending order.
func Supported() []int {
	versions := make([]int, 0, MaxSupported-MinSupported+1)
	for v := MinSupported; v <= MaxSupported; v++ {
		versions = append(versions, v)
	}
	return versions
}

// IsSupported reports whether version is accepted.
func IsSupported(version int) bool {
	return version >= MinSupported && version <= MaxSupported
}

// IncompatibleMessage builds the error message returned for an unsupported
// version.
func IncompatibleMessage(version int) string {
	parts := make([]string, 0, MaxSupported-MinSupported+1)
	for _, v := range Supported() {
		parts = append(parts, fmt.Sprint(v))
	}
	return fmt.Sprintf("Incompatible API versions!\nused API version: %d\nsupported API versions: [%s]",
		version, strings.Join(parts, ", "))
}

// UsesAccounts reports whether signing and self-encryption fall back to a
// named legacy account.
func UsesAccounts(version int) bool {
	return version < WithoutAccounts
}

// MergesAccountKeys reports whether account-bound key ids join the allowed
// key set.
func MergesAccountKeys(version int) bool {
	return version <= HighestWithAccounts
}

// AccountName returns name, or the default account name when empty.
func AccountName(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultAccountName
	}
	return name
}
