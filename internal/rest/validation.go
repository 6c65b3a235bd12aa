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

package rest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

var (
	// packageNamePattern matches application identifiers such as
	// org.example.mail. Package names end up in storage keys, so path
	// separators are never accepted.
	packageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

	accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-\.@ ]+$`)
)

// ValidatePackageName checks that a package name is safe to use as a
// storage key.
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: package name cannot be empty", ErrInvalidRequest)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: package name too long (max 255 characters)", ErrInvalidRequest)
	}
	if strings.Contains(name, "..") || !packageNamePattern.MatchString(name) {
		return fmt.Errorf("%w: package name contains invalid characters (allowed: a-z, A-Z, 0-9, -, _, .)", ErrInvalidRequest)
	}
	return nil
}

// ValidateAccountName checks a legacy account name.
func ValidateAccountName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: account name cannot be empty", ErrInvalidRequest)
	}
	if len(name) > 128 || !accountNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid account name", ErrInvalidRequest)
	}
	return nil
}

// parseKeyIDParam parses a key id taken from the URL path.
func parseKeyIDParam(s string) (types.KeyID, error) {
	id, err := types.ParseKeyID(s)
	if err != nil || id == types.NoKey {
		return types.NoKey, fmt.Errorf("%w: %q", ErrInvalidKeyID, SanitizeString(s))
	}
	return id, nil
}

// SanitizeString removes control characters and bounds the length. Used
// for values echoed into log messages and error bodies.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > 1000 {
		s = s[:1000] + "..."
	}
	return s
}
