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

// Package permission keeps the registry of calling applications: which apps
// are trusted, the keys each may use and the legacy accounts bound to them.
// Gate applies the registry to incoming requests.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const appsNamespace = "apps"

var (
	ErrNotRegistered       = errors.New("permission: app not registered")
	ErrFingerprintMismatch = errors.New("permission: certificate fingerprint mismatch")
	ErrAccountNotFound     = errors.New("permission: account not found")
	ErrInvalidAccount      = errors.New("permission: invalid account name")
)

// Account is a legacy binding from an app to a default key.
type Account struct {
	Name  string      `json:"name"`
	KeyID types.KeyID `json:"key_id,omitempty"`
}

// App is a registered calling application.
type App struct {
	PackageName     string              `json:"package_name"`
	CertFingerprint string              `json:"cert_fingerprint"`
	AllowedKeys     []types.KeyID       `json:"allowed_keys,omitempty"`
	Accounts        map[string]*Account `json:"accounts,omitempty"`
	RegisteredAt    time.Time           `json:"registered_at"`
}

// Allows reports whether id is in the app's allow list.
func (a *App) Allows(id types.KeyID) bool {
	for _, k := range a.AllowedKeys {
		if k == id {
			return true
		}
	}
	return false
}

// Matches reports whether caller is the app, certificate included.
func (a *App) Matches(caller types.Caller) bool {
	return a.PackageName == caller.PackageName &&
		strings.EqualFold(a.CertFingerprint, caller.CertFingerprint)
}

// Store persists apps on a storage backend. Read-modify-write cycles are
// serialized by a mutex; the backend itself must be safe for concurrent
// use.
type Store struct {
	mu    sync.Mutex
	apps  *storage.Namespace
	clock func() time.Time
	log   logger.Logger
}

// NewStore returns a Store over backend.
func NewStore(backend storage.Backend, log logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		apps:  storage.NewNamespace(backend, appsNamespace),
		clock: time.Now,
		log:   log,
	}
}

// Register trusts caller, replacing the certificate fingerprint of an
// existing registration. Allowed keys and accounts are kept.
func (s *Store) Register(ctx context.Context, caller types.Caller) (*App, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	app, err := s.load(caller.PackageName)
	switch {
	case errors.Is(err, ErrNotRegistered):
		app = &App{PackageName: caller.PackageName, RegisteredAt: s.clock().UTC()}
	case err != nil:
		return nil, err
	}
	app.CertFingerprint = strings.ToLower(caller.CertFingerprint)
	if err := s.save(app); err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.log).Info("app registered", logger.String("app", caller.PackageName))
	return app, nil
}

// Get returns the registration for packageName.
func (s *Store) Get(ctx context.Context, packageName string) (*App, error) {
	return s.load(packageName)
}

// Lookup returns the registration for caller, checking the certificate.
func (s *Store) Lookup(ctx context.Context, caller types.Caller) (*App, error) {
	app, err := s.load(caller.PackageName)
	if err != nil {
		return nil, err
	}
	if !app.Matches(caller) {
		return nil, fmt.Errorf("%w: %s", ErrFingerprintMismatch, caller.PackageName)
	}
	return app, nil
}

// List returns every registration ordered by package name.
func (s *Store) List(ctx context.Context) ([]*App, error) {
	names, err := s.apps.List("")
	if err != nil {
		return nil, fmt.Errorf("permission: list: %w", err)
	}
	apps := make([]*App, 0, len(names))
	for _, name := range names {
		app, err := s.load(name)
		if err != nil {
			s.log.Warn("skipping unreadable app record", logger.String("app", name), logger.Error(err))
			continue
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// Delete removes the registration for packageName.
func (s *Store) Delete(ctx context.Context, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apps.Delete(packageName); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotRegistered, packageName)
		}
		return fmt.Errorf("permission: delete %s: %w", packageName, err)
	}
	logger.FromContext(ctx, s.log).Info("app deleted", logger.String("app", packageName))
	return nil
}

// AllowKeys adds ids to the app's allow list.
func (s *Store) AllowKeys(ctx context.Context, packageName string, ids ...types.KeyID) error {
	return s.update(packageName, func(app *App) error {
		app.AllowedKeys = types.UniqueKeyIDs(append(app.AllowedKeys, ids...))
		sort.Slice(app.AllowedKeys, func(i, j int) bool { return app.AllowedKeys[i] < app.AllowedKeys[j] })
		return nil
	})
}

// RevokeKeys removes ids from the app's allow list.
func (s *Store) RevokeKeys(ctx context.Context, packageName string, ids ...types.KeyID) error {
	drop := types.NewKeySet(ids...)
	return s.update(packageName, func(app *App) error {
		kept := app.AllowedKeys[:0]
		for _, id := range app.AllowedKeys {
			if !drop.Contains(id) {
				kept = append(kept, id)
			}
		}
		app.AllowedKeys = kept
		return nil
	})
}

// SetAccount binds the named account to keyID, creating it when needed.
// The key is also added to the allow list.
func (s *Store) SetAccount(ctx context.Context, packageName, name string, keyID types.KeyID) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidAccount
	}
	return s.update(packageName, func(app *App) error {
		if app.Accounts == nil {
			app.Accounts = make(map[string]*Account)
		}
		app.Accounts[name] = &Account{Name: name, KeyID: keyID}
		if keyID != types.NoKey && !app.Allows(keyID) {
			app.AllowedKeys = append(app.AllowedKeys, keyID)
		}
		return nil
	})
}

// DeleteAccount removes the named account.
func (s *Store) DeleteAccount(ctx context.Context, packageName, name string) error {
	return s.update(packageName, func(app *App) error {
		if _, ok := app.Accounts[name]; !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
		}
		delete(app.Accounts, name)
		return nil
	})
}

// Account returns the named account of the app.
func (s *Store) Account(ctx context.Context, packageName, name string) (*Account, error) {
	app, err := s.load(packageName)
	if err != nil {
		return nil, err
	}
	acct, ok := app.Accounts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	return acct, nil
}

// Count returns the number of registered apps.
func (s *Store) Count(ctx context.Context) (int, error) {
	names, err := s.apps.List("")
	if err != nil {
		return 0, fmt.Errorf("permission: list: %w", err)
	}
	return len(names), nil
}

func (s *Store) update(packageName string, fn func(*App) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, err := s.load(packageName)
	if err != nil {
		return err
	}
	if err := fn(app); err != nil {
		return err
	}
	return s.save(app)
}

func (s *Store) load(packageName string) (*App, error) {
	if packageName == "" {
		return nil, fmt.Errorf("%w: empty package name", types.ErrInvalidCaller)
	}
	var app App
	if err := storage.GetJSON(s.apps, packageName, &app); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, packageName)
		}
		return nil, fmt.Errorf("permission: load %s: %w", packageName, err)
	}
	return &app, nil
}

func (s *Store) save(app *App) error {
	if err := storage.PutJSON(s.apps, app.PackageName, app); err != nil {
		return fmt.Errorf("permission: save %s: %w", app.PackageName, err)
	}
	return nil
}
