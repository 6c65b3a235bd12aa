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

package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/storagetest"
)

func TestBadgerStorage_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b, err := New(&Config{InMemory: true})
		require.NoError(t, err)
		return b
	})
}

func TestBadgerStorage_OnDisk(t *testing.T) {
	dir := t.TempDir()
	b, err := New(&Config{Path: dir, Logger: logger.Nop()})
	require.NoError(t, err)
	require.NoError(t, b.Put("keys/0000000000000001", []byte("ring"), nil))
	require.NoError(t, b.Close())

	reopened, err := New(&Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("keys/0000000000000001")
	require.NoError(t, err)
	assert.Equal(t, []byte("ring"), got)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}
