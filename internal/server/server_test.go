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

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/internal/rest"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/health"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Storage = config.StorageConfig{Backend: config.StorageMemory}
	cfg.Engine.Seal = keyring.SealParams{Time: 1, Memory: 8 * 1024, Threads: 1}
	cfg.Logging.Level = "error"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{config.StorageMemory, config.StorageFile, config.StorageBadger} {
		t.Run(backend, func(t *testing.T) {
			st, err := OpenStorage(config.StorageConfig{Backend: backend, Path: dir + "/" + backend}, nil)
			require.NoError(t, err)
			require.NoError(t, st.Put("probe", []byte("ok"), nil))
			v, err := st.Get("probe")
			require.NoError(t, err)
			assert.Equal(t, []byte("ok"), v)
			require.NoError(t, st.Close())
		})
	}

	_, err := OpenStorage(config.StorageConfig{Backend: "etcd"}, nil)
	assert.Error(t, err)
}

func TestNewStack(t *testing.T) {
	st, err := NewStack(testConfig(t), nil)
	require.NoError(t, err)
	defer st.Close()

	assert.NotNil(t, st.Dispatcher)
	assert.Equal(t, 1024, st.Cache.Cap())

	info, err := st.Keys.Generate(keyring.GenerateOptions{Name: "Alice", Email: "alice@example.org", Bits: 1024})
	require.NoError(t, err)
	got, err := st.Keys.Get(info.KeyID)
	require.NoError(t, err)
	assert.Equal(t, info.Fingerprint, got.Fingerprint)
}

func TestNewStack_BadEngineConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.Cipher = "rot13"
	_, err := NewStack(cfg, nil)
	assert.Error(t, err)
}

func TestServerLifecycle(t *testing.T) {
	s, err := New(testConfig(t))
	require.NoError(t, err)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotNil(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/health/ready", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body rest.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	// An empty key ring is degraded but still ready.
	assert.Equal(t, health.StatusDegraded, body.Status)
	assert.Len(t, body.Checks, 3)

	resp, err = http.Get(fmt.Sprintf("http://%s/health/startup", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())
	s.WaitForShutdown()

	_, err = http.Get(fmt.Sprintf("http://%s/health/live", addr))
	assert.Error(t, err)
}

func TestReload(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Shutdown()

	next := testConfig(t)
	next.Logging.Level = "debug"
	require.NoError(t, s.Reload(next))
	assert.Equal(t, "debug", s.config.Logging.Level)
	assert.Equal(t, "DEBUG", s.levelVar.Level().String())

	bad := testConfig(t)
	bad.Logging.Level = "loud"
	assert.Error(t, s.Reload(bad))
	assert.Error(t, s.Reload(nil))
}

func TestNew_InvalidAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Type = "kerberos"
	_, err := New(cfg)
	assert.Error(t, err)
}
