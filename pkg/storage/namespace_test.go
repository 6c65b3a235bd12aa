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

package storage_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
)

func TestNamespace(t *testing.T) {
	backend := memory.New()
	keys := storage.NewNamespace(backend, "/keys/")
	grants := storage.NewNamespace(backend, "grants")

	assert.Equal(t, "keys/", keys.Prefix())

	require.NoError(t, keys.Put("A", []byte("1"), nil))
	require.NoError(t, keys.Put("B", []byte("2"), nil))
	require.NoError(t, grants.Put("A", []byte("g"), nil))

	got, err := backend.Get("keys/A")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	listed, err := keys.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, listed)

	ok, err := grants.Exists("B")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, keys.Delete("A"))
	_, err = keys.Get("A")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.True(t, errors.Is(keys.Put("", nil, nil), storage.ErrInvalidKey))
	assert.True(t, errors.Is(keys.Put("/abs", nil, nil), storage.ErrInvalidKey))

	// closing a namespace leaves the shared backend open
	require.NoError(t, keys.Close())
	_, err = grants.Get("A")
	assert.NoError(t, err)
}

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONHelpers(t *testing.T) {
	b := memory.New()
	require.NoError(t, storage.PutJSON(b, "r", record{Name: "x", Count: 2}))

	var out record
	require.NoError(t, storage.GetJSON(b, "r", &out))
	assert.Equal(t, record{Name: "x", Count: 2}, out)

	require.NoError(t, b.Put("bad", []byte("{"), nil))
	err := storage.GetJSON(b, "bad", &out)
	assert.True(t, errors.Is(err, storage.ErrInvalidData))

	err = storage.GetJSON(b, "missing", &out)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestDeletePrefix(t *testing.T) {
	b := memory.New()
	for _, k := range []string{"a/1", "a/2", "b/1"} {
		require.NoError(t, b.Put(k, []byte("x"), nil))
	}
	require.NoError(t, storage.DeletePrefix(b, "a/"))

	keys, err := b.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"b/1"}, keys)
}
