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

package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/storagetest"
)

func TestFileStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b, err := New(t.TempDir())
		require.NoError(t, err)
		return b
	})
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestFileStorage_Layout(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put("keys/ABCD", []byte("x"), &storage.Options{Permissions: 0600}))

	info, err := os.Stat(filepath.Join(dir, "keys", "ABCD"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(dir, "keys", "ABCD.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorage_RejectsTraversal(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	defer b.Close()

	for _, key := range []string{"../escape", "/abs", "a/../../b", "x.tmp"} {
		err := b.Put(key, []byte("x"), nil)
		assert.True(t, errors.Is(err, storage.ErrInvalidKey), key)
	}
}

func TestFileStorage_ListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Put("keys/A", []byte("x"), nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys", "B.tmp"), []byte("partial"), 0600))

	keys, err := b.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/A"}, keys)
}

func TestFileStorage_Persists(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put("grants/app", []byte("{}"), nil))
	require.NoError(t, b.Close())

	reopened, err := New(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get("grants/app")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), got)
}
