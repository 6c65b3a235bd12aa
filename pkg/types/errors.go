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

// Package types holds the request and result model shared by the dispatcher,
// its collaborators and the transports in front of it. It has no
// dependencies on other packages in this module.
package types

import "errors"

var (
	// ErrInvalidKeyID is returned when a key id cannot be parsed.
	ErrInvalidKeyID = errors.New("invalid key id")

	// ErrInvalidCaller is returned when a caller identity is incomplete.
	ErrInvalidCaller = errors.New("invalid caller")
)
