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
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/dispatcher"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine/pgp"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/executor"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/badger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/file"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
)

// Stack is the set of components behind the dispatcher. The server and
// the command line tool share it.
type Stack struct {
	Storage    storage.Backend
	Keys       *keyring.Keyring
	Apps       *permission.Store
	Gate       *permission.Gate
	Engine     *pgp.Engine
	Cache      *continuation.Cache
	Executor   *executor.Executor
	Audit      *audit.Memory
	Dispatcher *dispatcher.Dispatcher
}

// OpenStorage opens the configured persistence backend.
func OpenStorage(cfg config.StorageConfig, log logger.Logger) (storage.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageFile:
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
		return file.New(cfg.Path)
	case config.StorageBadger:
		return badger.New(&badger.Config{Path: cfg.Path, Logger: log})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// NewStack opens storage and wires every component from cfg.
func NewStack(cfg *config.Config, log logger.Logger) (*Stack, error) {
	if log == nil {
		log = logger.Nop()
	}
	backend, err := OpenStorage(cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.Engine.Options()
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	opts.Logger = log

	st := &Stack{Storage: backend}
	st.Keys = keyring.New(backend, &keyring.Options{Seal: cfg.Engine.Seal, Logger: log})
	st.Apps = permission.NewStore(backend, log)
	st.Gate = permission.NewGate(st.Apps, log)
	st.Engine = pgp.New(st.Keys, opts)
	st.Cache = continuation.New(&continuation.Config{
		Size:   cfg.Continuation.Size,
		TTL:    cfg.Continuation.TTL,
		Logger: log,
	})
	st.Executor = executor.New(st.Engine, log)
	st.Audit = audit.NewMemory(cfg.Audit.MaxEvents)

	st.Dispatcher, err = dispatcher.New(&dispatcher.Config{
		Gate:     st.Gate,
		Keys:     st.Keys,
		Cache:    st.Cache,
		Executor: st.Executor,
		Audit:    st.Audit,
		Logger:   log,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return st, nil
}

// Close wipes pending continuations and closes storage.
func (st *Stack) Close() error {
	st.Cache.Purge()
	return st.Storage.Close()
}
