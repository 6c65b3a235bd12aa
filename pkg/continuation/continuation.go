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

// Package continuation keeps the state of interactive operations between
// dispatches. An operation that needs more input from the user returns a
// token; the client repeats the request with the token's inputs supplied
// and the cached state (the operation timestamp, passphrases, session
// keys) is picked up again.
//
// Entries live in a bounded LRU with a time to live. Secrets are wiped
// when an entry is replaced, invalidated or evicted.
package continuation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/metrics"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 10 * time.Minute
)

// ErrUnknownToken is returned when supplying input for a token that is not
// (or no longer) cached.
var ErrUnknownToken = errors.New("continuation: unknown or expired token")

// ErrConflictingInput is returned when an Input carries both a passphrase
// and a backup code; both land in the same slot.
var ErrConflictingInput = errors.New("continuation: passphrase and backup code are mutually exclusive")

// Continuation is the state carried across the dispatches of one
// interactive operation.
type Continuation struct {
	Token  types.ContinuationToken
	Caller types.Caller
	Action types.Action

	// Timestamp is fixed when the operation first runs and reused on every
	// resumption so that signatures and literal data are reproducible.
	Timestamp time.Time

	// Passphrase unlocks the secret key, or is the backup code for a
	// backup.
	Passphrase []byte

	// SessionKeys maps a recipient key id (hex) to a cipher byte followed
	// by the session key.
	SessionKeys map[string][]byte
}

// Clone returns a deep copy.
func (c *Continuation) Clone() *Continuation {
	if c == nil {
		return nil
	}
	out := *c
	out.Passphrase = memzero.Clone(c.Passphrase)
	if c.SessionKeys != nil {
		out.SessionKeys = make(map[string][]byte, len(c.SessionKeys))
		for k, v := range c.SessionKeys {
			out.SessionKeys[k] = memzero.Clone(v)
		}
	}
	return &out
}

// Wipe zeroes the secrets held by c.
func (c *Continuation) Wipe() {
	if c == nil {
		return
	}
	memzero.Zero(c.Passphrase)
	for _, v := range c.SessionKeys {
		memzero.Zero(v)
	}
}

// Input is supplied out of band for a pending operation. At most one of
// Passphrase and BackupCode may be set.
type Input struct {
	Passphrase  []byte
	BackupCode  []byte
	SessionKeys map[string][]byte
}

// Config configures a Cache. Zero fields take the defaults.
type Config struct {
	Size   int
	TTL    time.Duration
	Clock  gcache.Clock
	Logger logger.Logger
}

// Cache is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	cache gcache.Cache
	clock gcache.Clock
	log   logger.Logger
	size  int
}

// New builds a cache.
func New(cfg *Config) *Cache {
	if cfg == nil {
		cfg = &Config{}
	}
	size, ttl := cfg.Size, cfg.TTL
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{clock: cfg.Clock, log: cfg.Logger, size: size}
	if c.clock == nil {
		c.clock = gcache.NewRealClock()
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.cache = gcache.New(size).
		LRU().
		Expiration(ttl).
		Clock(c.clock).
		EvictedFunc(func(key, value interface{}) {
			if cont, ok := value.(*Continuation); ok {
				cont.Wipe()
			}
			metrics.RecordContinuation(metrics.CacheEvict)
		}).
		PurgeVisitorFunc(func(key, value interface{}) {
			if cont, ok := value.(*Continuation); ok {
				cont.Wipe()
			}
		}).
		Build()
	return c
}

// Cap returns the maximum number of live continuations.
func (c *Cache) Cap() int {
	return c.size
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// Begin returns a fresh, not yet stored continuation stamped with the
// current time.
func (c *Cache) Begin(token types.ContinuationToken, caller types.Caller, action types.Action) *Continuation {
	return &Continuation{
		Token:     token,
		Caller:    caller,
		Action:    action,
		Timestamp: c.clock.Now().UTC().Truncate(time.Second),
	}
}

// Get returns a copy of the continuation for token.
func (c *Cache) Get(token types.ContinuationToken) (*Continuation, bool) {
	// Held while cloning: a concurrent Remove wipes the stored value.
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.cache.Get(token)
	if err != nil {
		metrics.RecordContinuation(metrics.CacheMiss)
		return nil, false
	}
	metrics.RecordContinuation(metrics.CacheHit)
	return v.(*Continuation).Clone(), true
}

// Put stores a copy of cont, replacing and wiping any previous entry for
// the same token.
func (c *Cache) Put(cont *Continuation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(cont.Token)
	if err := c.cache.Set(cont.Token, cont.Clone()); err != nil {
		return err
	}
	metrics.RecordContinuation(metrics.CacheStore)
	c.log.Debug("continuation stored",
		logger.String("token", shortToken(cont.Token)),
		logger.String("action", cont.Action.String()))
	return nil
}

// Invalidate drops the entry for token. It reports whether one existed.
func (c *Cache) Invalidate(token types.ContinuationToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Remove(token)
}

// Supply merges in into the continuation for token.
func (c *Cache) Supply(token types.ContinuationToken, in Input) error {
	if in.Passphrase != nil && in.BackupCode != nil {
		return ErrConflictingInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.cache.Get(token)
	if err != nil {
		return ErrUnknownToken
	}
	cont := v.(*Continuation).Clone()
	secret := in.Passphrase
	if in.BackupCode != nil {
		secret = in.BackupCode
	}
	if secret != nil {
		memzero.Zero(cont.Passphrase)
		cont.Passphrase = memzero.Clone(secret)
	}
	for k, sk := range in.SessionKeys {
		if cont.SessionKeys == nil {
			cont.SessionKeys = make(map[string][]byte)
		}
		memzero.Zero(cont.SessionKeys[k])
		cont.SessionKeys[k] = memzero.Clone(sk)
	}
	c.cache.Remove(token)
	if err := c.cache.Set(token, cont); err != nil {
		return err
	}
	metrics.RecordContinuation(metrics.CacheSupply)
	return nil
}

// Len returns the number of live entries. Expiry is judged by the cache
// clock; gcache's own expiry-checking Len uses the wall clock. Expired
// entries found on the way are dropped.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.cache.Keys(false) {
		if _, err := c.cache.GetIFPresent(key); err == nil {
			n++
		}
	}
	return n
}

// Purge drops and wipes every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
}

// tokenMaterial is the part of a request that identifies an operation.
// Inputs that only complete a pending operation are left out.
type tokenMaterial struct {
	Caller            string   `json:"caller"`
	Action            string   `json:"action"`
	Version           int      `json:"version"`
	Armor             *bool    `json:"armor,omitempty"`
	KeyID             string   `json:"key_id,omitempty"`
	KeyIDs            []string `json:"key_ids,omitempty"`
	UserIDs           []string `json:"user_ids,omitempty"`
	PreferredUserID   string   `json:"user_id,omitempty"`
	AccountName       string   `json:"account_name,omitempty"`
	OriginalFilename  string   `json:"original_filename,omitempty"`
	EnableCompression *bool    `json:"enable_compression,omitempty"`
	DetachedSignature string   `json:"detached_signature,omitempty"`
	SenderAddress     string   `json:"sender_address,omitempty"`
	BackupSecret      bool     `json:"backup_secret,omitempty"`
	DataLength        *int64   `json:"data_length,omitempty"`
}

// Derive computes the token for a request. Two requests that differ only
// in sign_key_id, selected_key_ids, passphrase or decryption_result share
// a token; anything else, including the caller, yields a different one.
func Derive(caller types.Caller, req *types.Request) types.ContinuationToken {
	p := req.Params
	m := tokenMaterial{
		Caller:            caller.ID(),
		Action:            req.Action.String(),
		Version:           req.APIVersion,
		Armor:             p.ASCIIArmor,
		UserIDs:           p.UserIDs,
		PreferredUserID:   p.PreferredUserID,
		AccountName:       p.AccountName,
		OriginalFilename:  p.OriginalFilename,
		EnableCompression: p.EnableCompression,
		SenderAddress:     p.SenderAddress,
		BackupSecret:      p.BackupSecret,
		DataLength:        p.DataLength,
	}
	if p.KeyID != types.NoKey {
		m.KeyID = p.KeyID.String()
	}
	for _, id := range p.KeyIDs {
		m.KeyIDs = append(m.KeyIDs, id.String())
	}
	if len(p.DetachedSignature) > 0 {
		sum := sha256.Sum256(p.DetachedSignature)
		m.DetachedSignature = hex.EncodeToString(sum[:])
	}
	// tokenMaterial holds only strings, ints and bools.
	data, _ := json.Marshal(m)
	sum := sha256.Sum256(data)
	return types.ContinuationToken(hex.EncodeToString(sum[:]))
}

func shortToken(t types.ContinuationToken) string {
	if len(t) > 12 {
		return string(t[:12])
	}
	return string(t)
}
