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

// Package storagetest holds the behavior every storage.Backend must share.
package storagetest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) storage.Backend

// Run exercises a backend implementation.
func Run(t *testing.T, newBackend Factory) {
	t.Run("PutGet", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		require.NoError(t, b.Put("keys/00000000DEADBEEF", []byte("record"), nil))
		got, err := b.Get("keys/00000000DEADBEEF")
		require.NoError(t, err)
		assert.Equal(t, []byte("record"), got)

		require.NoError(t, b.Put("keys/00000000DEADBEEF", []byte("updated"), storage.DefaultOptions()))
		got, err = b.Get("keys/00000000DEADBEEF")
		require.NoError(t, err)
		assert.Equal(t, []byte("updated"), got)
	})

	t.Run("ValuesAreCopied", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		value := []byte("abc")
		require.NoError(t, b.Put("k", value, nil))
		value[0] = 'x'

		got, err := b.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
		got[1] = 'y'

		again, err := b.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), again)
	})

	t.Run("NotFound", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		_, err := b.Get("missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.True(t, errors.Is(b.Delete("missing"), storage.ErrNotFound))

		ok, err := b.Exists("missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EmptyKey", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()
		assert.True(t, errors.Is(b.Put("", []byte("x"), nil), storage.ErrInvalidKey))
	})

	t.Run("DeleteAndExists", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		require.NoError(t, b.Put("a", []byte("1"), nil))
		ok, err := b.Exists("a")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, b.Delete("a"))
		ok, err = b.Exists("a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ListSortedByPrefix", func(t *testing.T) {
		b := newBackend(t)
		defer b.Close()

		for _, k := range []string{"perm/b", "perm/a", "keys/c", "perm/c"} {
			require.NoError(t, b.Put(k, []byte(k), nil))
		}
		keys, err := b.List("perm/")
		require.NoError(t, err)
		assert.Equal(t, []string{"perm/a", "perm/b", "perm/c"}, keys)

		keys, err = b.List("none/")
		require.NoError(t, err)
		assert.Empty(t, keys)

		all, err := b.List("")
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("Closed", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Close())
		require.NoError(t, b.Close())

		_, err := b.Get("a")
		assert.True(t, errors.Is(err, storage.ErrClosed))
		assert.True(t, errors.Is(b.Put("a", nil, nil), storage.ErrClosed))
		_, err = b.List("")
		assert.True(t, errors.Is(err, storage.ErrClosed))
	})
}
