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

// Package storage defines the key/value contract shared by the key ring and
// the permission store, plus helpers for namespacing and JSON records.
// Implementations live in the memory, file and badger subpackages.
package storage

import (
	"io/fs"
)

// Backend is a thread-safe key/value store with hierarchical, slash
// separated keys.
type Backend interface {
	// Get returns the value for key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte, opts *Options) error

	// Delete removes key, or returns ErrNotFound.
	Delete(key string) error

	// List returns the keys starting with prefix in ascending order.
	List(prefix string) ([]string, error)

	// Exists reports whether key is present.
	Exists(key string) (bool, error)

	// Close releases the backend. Later calls return ErrClosed.
	Close() error
}

// Options tunes a single Put.
type Options struct {
	// Permissions overrides the file mode used by file-backed stores.
	Permissions fs.FileMode
}

// DefaultOptions returns owner-only permissions.
func DefaultOptions() *Options {
	return &Options{Permissions: 0600}
}
