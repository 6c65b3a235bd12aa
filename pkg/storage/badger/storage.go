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

// Package badger implements storage.Backend on an embedded Badger database.
// It is the recommended backend for a long-running server: writes are
// transactional and the key ring survives restarts without one file per key.
package badger

import (
	"fmt"
	"sync"

	bdb "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
)

// Config selects where and how the database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; useful for tests.
	InMemory bool

	// Logger receives Badger's internal messages. Nil silences them.
	Logger logger.Logger
}

// Storage is a Badger-backed storage.Backend.
type Storage struct {
	mu     sync.RWMutex
	db     *bdb.DB
	closed bool
}

// New opens (or creates) the database.
func New(cfg *Config) (storage.Backend, error) {
	if cfg == nil {
		return nil, errors.New("badger storage: config is required")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger storage: path is required")
	}

	opts := bdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = bdb.DefaultOptions("").WithInMemory(true)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := bdb.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "badger storage: open %q", cfg.Path)
	}
	return &Storage{db: db}, nil
}

// Get implements storage.Backend.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	if key == "" {
		return nil, storage.ErrInvalidKey
	}

	var value []byte
	err := s.db.View(func(txn *bdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == bdb.ErrKeyNotFound {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "badger storage: get %q", key)
	}
	return value, nil
}

// Put implements storage.Backend. Options are ignored.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}

	v := make([]byte, len(value))
	copy(v, value)
	err := s.db.Update(func(txn *bdb.Txn) error {
		return txn.Set([]byte(key), v)
	})
	return errors.Wrapf(err, "badger storage: put %q", key)
}

// Delete implements storage.Backend.
func (s *Storage) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	err := s.db.Update(func(txn *bdb.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if err == bdb.ErrKeyNotFound {
		return storage.ErrNotFound
	}
	return errors.Wrapf(err, "badger storage: delete %q", key)
}

// List implements storage.Backend. Badger iterates in byte order, which
// matches the sorted order the other backends return.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	err := s.db.View(func(txn *bdb.Txn) error {
		opts := bdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "badger storage: list %q", prefix)
	}
	return keys, nil
}

// Exists implements storage.Backend.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == nil {
		return true, nil
	}
	if err == storage.ErrNotFound {
		return false, nil
	}
	return false, err
}

// Close closes the database. Closing twice is allowed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Wrap(s.db.Close(), "badger storage: close")
}

// badgerLogger forwards Badger's printf-style logging to a logger.Logger.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), logger.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), logger.String("component", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), logger.String("component", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), logger.String("component", "badger"))
}
