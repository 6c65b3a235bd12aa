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

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Namespace scopes a backend to a key prefix so several stores can share
// one database. Keys passed to and returned from a Namespace are relative.
type Namespace struct {
	backend Backend
	prefix  string
}

// NewNamespace returns a view of backend rooted at prefix. A trailing slash
// is added when missing.
func NewNamespace(backend Backend, prefix string) *Namespace {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Namespace{backend: backend, prefix: prefix}
}

// Prefix returns the namespace prefix including its trailing slash.
func (n *Namespace) Prefix() string {
	return n.prefix
}

func (n *Namespace) full(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return n.prefix + key, nil
}

// Get implements Backend.
func (n *Namespace) Get(key string) ([]byte, error) {
	full, err := n.full(key)
	if err != nil {
		return nil, err
	}
	return n.backend.Get(full)
}

// Put implements Backend.
func (n *Namespace) Put(key string, value []byte, opts *Options) error {
	full, err := n.full(key)
	if err != nil {
		return err
	}
	return n.backend.Put(full, value, opts)
}

// Delete implements Backend.
func (n *Namespace) Delete(key string) error {
	full, err := n.full(key)
	if err != nil {
		return err
	}
	return n.backend.Delete(full)
}

// List implements Backend. Returned keys have the namespace prefix removed.
func (n *Namespace) List(prefix string) ([]string, error) {
	keys, err := n.backend.List(n.prefix + prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, n.prefix))
	}
	return out, nil
}

// Exists implements Backend.
func (n *Namespace) Exists(key string) (bool, error) {
	full, err := n.full(key)
	if err != nil {
		return false, err
	}
	return n.backend.Exists(full)
}

// Close is a no-op; the shared backend is closed by its owner.
func (n *Namespace) Close() error {
	return nil
}

// GetJSON loads and decodes the record stored under key.
func GetJSON(b Backend, key string, v any) error {
	data, err := b.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
	}
	return nil
}

// PutJSON encodes v and stores it under key with owner-only permissions.
func PutJSON(b Backend, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidData, key, err)
	}
	return b.Put(key, data, DefaultOptions())
}

// DeletePrefix removes every key under prefix. Missing keys are ignored.
func DeletePrefix(b Backend, prefix string) error {
	keys, err := b.List(prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
