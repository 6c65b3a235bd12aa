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

// Package keyring persists OpenPGP key rings on a storage.Backend and
// answers the lookups the rest of the service needs: by master or subkey
// id, by e-mail address, and for unlocking secret keys.
//
// Secret keys imported or generated with a passphrase are sealed with an
// Argon2id derived XChaCha20-Poly1305 key. Secret keys without a passphrase
// are stored as plain OpenPGP packets and rely on the backend's file
// permissions.
package keyring

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/memzero"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

var (
	ErrKeyNotFound        = errors.New("keyring: key not found")
	ErrNoSecretKey        = errors.New("keyring: no secret key")
	ErrPassphraseRequired = errors.New("keyring: passphrase required")
	ErrBadPassphrase      = errors.New("keyring: bad passphrase")
	ErrInvalidKeyData     = errors.New("keyring: invalid key data")
)

const (
	keysNamespace    = "keys"
	subkeysNamespace = "subkeys"

	// DefaultRSABits is the modulus size of generated keys.
	DefaultRSABits = 3072
)

// Options configures a Keyring. The zero value is usable.
type Options struct {
	Rand   io.Reader
	Clock  func() time.Time
	Seal   SealParams
	Logger logger.Logger
}

// GenerateOptions describes a new key ring.
type GenerateOptions struct {
	Name       string
	Comment    string
	Email      string
	Bits       int
	Passphrase []byte
}

// Keyring is safe for concurrent use.
type Keyring struct {
	mu      sync.RWMutex
	keys    *storage.Namespace
	subkeys *storage.Namespace
	rand    io.Reader
	clock   func() time.Time
	seal    SealParams
	log     logger.Logger
}

type record struct {
	KeyID       types.KeyID   `json:"key_id"`
	Fingerprint string        `json:"fingerprint"`
	SubKeyIDs   []types.KeyID `json:"subkey_ids,omitempty"`
	Public      []byte        `json:"public"`
	Secret      []byte        `json:"secret,omitempty"`
	Sealed      *Sealed       `json:"sealed,omitempty"`
	Verified    bool          `json:"verified"`
	Revoked     bool          `json:"revoked"`
	ImportedAt  time.Time     `json:"imported_at"`
}

// New returns a Keyring over backend.
func New(backend storage.Backend, opts *Options) *Keyring {
	if opts == nil {
		opts = &Options{}
	}
	k := &Keyring{
		keys:    storage.NewNamespace(backend, keysNamespace),
		subkeys: storage.NewNamespace(backend, subkeysNamespace),
		rand:    opts.Rand,
		clock:   opts.Clock,
		seal:    opts.Seal,
		log:     opts.Logger,
	}
	if k.rand == nil {
		k.rand = rand.Reader
	}
	if k.clock == nil {
		k.clock = time.Now
	}
	if k.seal == (SealParams{}) {
		k.seal = DefaultSealParams()
	}
	if k.log == nil {
		k.log = logger.Nop()
	}
	return k
}

// PacketConfig returns the OpenPGP configuration used for key operations.
func (k *Keyring) PacketConfig() *packet.Config {
	return &packet.Config{Rand: k.rand, DefaultHash: crypto.SHA256, Time: k.clock}
}

// Generate creates, stores and describes a new RSA key ring with a signing
// primary key and an encryption subkey.
func (k *Keyring) Generate(opts GenerateOptions) (*KeyInfo, error) {
	bits := opts.Bits
	if bits == 0 {
		bits = DefaultRSABits
	}
	cfg := k.PacketConfig()
	cfg.RSABits = bits
	e, err := openpgp.NewEntity(opts.Name, opts.Comment, opts.Email, cfg)
	if err != nil {
		return nil, fmt.Errorf("keyring: generate: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	info, err := k.importEntity(e, opts.Passphrase)
	if err != nil {
		return nil, err
	}
	k.log.Info("key generated", logger.Stringer("key_id", info.KeyID), logger.String("user_id", info.PrimaryUserID))
	return info, nil
}

// Import reads armored or binary key rings from data. Existing records are
// updated in place and keep their verified flag. Secret keys are sealed
// under passphrase when one is given; a secret key that is itself
// passphrase-protected needs that passphrase to be imported.
func (k *Keyring) Import(data []byte, passphrase []byte) ([]*KeyInfo, error) {
	entities, err := ReadEntities(data)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	infos := make([]*KeyInfo, 0, len(entities))
	for _, e := range entities {
		info, err := k.importEntity(e, passphrase)
		if err != nil {
			return infos, err
		}
		k.log.Info("key imported",
			logger.Stringer("key_id", info.KeyID),
			logger.Bool("secret", info.HasSecret))
		infos = append(infos, info)
	}
	return infos, nil
}

// ReadEntities parses one or more armored or binary key rings.
func ReadEntities(data []byte) (openpgp.EntityList, error) {
	var (
		entities openpgp.EntityList
		err      error
	)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN")) {
		entities, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		entities, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: no keys found", ErrInvalidKeyData)
	}
	return entities, nil
}

func (k *Keyring) importEntity(e *openpgp.Entity, passphrase []byte) (*KeyInfo, error) {
	id := types.KeyID(e.PrimaryKey.KeyId)
	rec, err := k.loadRecord(id)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		rec = &record{KeyID: id, ImportedAt: k.clock().UTC()}
	case err != nil:
		return nil, err
	}

	var pub bytes.Buffer
	if err := e.Serialize(&pub); err != nil {
		return nil, fmt.Errorf("%w: serialize public key %s: %v", ErrInvalidKeyData, id, err)
	}
	rec.Public = pub.Bytes()
	rec.Fingerprint = strings.ToUpper(hex.EncodeToString(e.PrimaryKey.Fingerprint[:]))
	rec.SubKeyIDs = rec.SubKeyIDs[:0]
	for _, sub := range e.Subkeys {
		rec.SubKeyIDs = append(rec.SubKeyIDs, types.KeyID(sub.PublicKey.KeyId))
	}

	if e.PrivateKey != nil {
		if err := k.setSecret(rec, e, passphrase); err != nil {
			return nil, err
		}
	}
	if err := k.putRecord(rec); err != nil {
		return nil, err
	}
	return describe(rec, e, k.clock()), nil
}

func (k *Keyring) setSecret(rec *record, e *openpgp.Entity, passphrase []byte) error {
	if err := decryptEntity(e, passphrase); err != nil {
		return err
	}
	for _, sub := range e.Subkeys {
		if sub.PrivateKey == nil {
			return fmt.Errorf("%w: secret key %s is missing subkey %s",
				ErrInvalidKeyData, rec.KeyID, types.KeyID(sub.PublicKey.KeyId))
		}
	}

	var buf bytes.Buffer
	if err := e.SerializePrivate(&buf, k.PacketConfig()); err != nil {
		return fmt.Errorf("%w: serialize secret key %s: %v", ErrInvalidKeyData, rec.KeyID, err)
	}
	defer memzero.Zero(buf.Bytes())

	if len(passphrase) == 0 {
		rec.Secret = memzero.Clone(buf.Bytes())
		rec.Sealed = nil
		return nil
	}
	sealed, err := seal(k.rand, k.seal, passphrase, buf.Bytes(), []byte(rec.KeyID.String()))
	if err != nil {
		return err
	}
	rec.Sealed = sealed
	rec.Secret = nil
	return nil
}

// decryptEntity removes OpenPGP S2K protection from every private key in e.
func decryptEntity(e *openpgp.Entity, passphrase []byte) error {
	keys := []*packet.PrivateKey{e.PrivateKey}
	for _, sub := range e.Subkeys {
		keys = append(keys, sub.PrivateKey)
	}
	for _, pk := range keys {
		if pk == nil || !pk.Encrypted {
			continue
		}
		if len(passphrase) == 0 {
			return ErrPassphraseRequired
		}
		if err := pk.Decrypt(passphrase); err != nil {
			return ErrBadPassphrase
		}
	}
	return nil
}

// Get describes the key ring owning id, which may be a master or subkey id.
func (k *Keyring) Get(id types.KeyID) (*KeyInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, e, err := k.load(id)
	if err != nil {
		return nil, err
	}
	return describe(rec, e, k.clock()), nil
}

// List describes every stored key ring ordered by key id.
func (k *Keyring) List() ([]*KeyInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.list(nil)
}

// SecretKeys describes the key rings holding secret key material.
func (k *Keyring) SecretKeys() ([]*KeyInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.list(func(info *KeyInfo) bool { return info.HasSecret })
}

// FindByAddress describes the key rings with a user id for addr.
func (k *Keyring) FindByAddress(addr string) ([]*KeyInfo, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.list(func(info *KeyInfo) bool { return info.HasAddress(addr) })
}

func (k *Keyring) list(keep func(*KeyInfo) bool) ([]*KeyInfo, error) {
	names, err := k.keys.List("")
	if err != nil {
		return nil, fmt.Errorf("keyring: list: %w", err)
	}
	now := k.clock()
	infos := make([]*KeyInfo, 0, len(names))
	for _, name := range names {
		id, err := types.ParseKeyID(name)
		if err != nil {
			continue
		}
		rec, err := k.loadRecord(id)
		if err != nil {
			k.log.Warn("skipping unreadable key record", logger.String("key", name), logger.Error(err))
			continue
		}
		e, err := parseEntity(rec.Public)
		if err != nil {
			k.log.Warn("skipping unparsable key ring", logger.String("key", name), logger.Error(err))
			continue
		}
		info := describe(rec, e, now)
		if keep == nil || keep(info) {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// PublicEntity returns the public key ring owning id.
func (k *Keyring) PublicEntity(id types.KeyID) (*openpgp.Entity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, e, err := k.load(id)
	return e, err
}

// PrivateEntity returns the key ring owning id with its secret keys
// unlocked. Protected keys need passphrase; ErrPassphraseRequired is
// returned when it is empty and ErrBadPassphrase when it is wrong.
func (k *Keyring) PrivateEntity(id types.KeyID, passphrase []byte) (*openpgp.Entity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, _, err := k.load(id)
	if err != nil {
		return nil, err
	}

	var secret []byte
	switch {
	case rec.Sealed != nil:
		secret, err = rec.Sealed.open(passphrase, []byte(rec.KeyID.String()))
		if err != nil {
			return nil, err
		}
		defer memzero.Zero(secret)
	case rec.Secret != nil:
		secret = rec.Secret
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoSecretKey, id)
	}

	e, err := parseEntity(secret)
	if err != nil {
		return nil, err
	}
	if e.PrivateKey == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSecretKey, id)
	}
	return e, nil
}

// IsProtected reports whether unlocking the key ring owning id needs a
// passphrase.
func (k *Keyring) IsProtected(id types.KeyID) (bool, error) {
	info, err := k.Get(id)
	if err != nil {
		return false, err
	}
	if !info.HasSecret {
		return false, fmt.Errorf("%w: %s", ErrNoSecretKey, id)
	}
	return info.Protected, nil
}

// Delete removes the key ring owning id.
func (k *Keyring) Delete(id types.KeyID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, _, err := k.load(id)
	if err != nil {
		return err
	}
	for _, sub := range rec.SubKeyIDs {
		if err := k.subkeys.Delete(sub.String()); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("keyring: delete subkey index %s: %w", sub, err)
		}
	}
	if err := k.keys.Delete(rec.KeyID.String()); err != nil {
		return fmt.Errorf("keyring: delete %s: %w", rec.KeyID, err)
	}
	k.log.Info("key deleted", logger.Stringer("key_id", rec.KeyID))
	return nil
}

// SetVerified records whether the owner of the key ring has been confirmed.
func (k *Keyring) SetVerified(id types.KeyID, verified bool) error {
	return k.update(id, func(rec *record) { rec.Verified = verified })
}

// Revoke marks the key ring as revoked locally. Signatures by it then
// verify as made by a revoked key.
func (k *Keyring) Revoke(id types.KeyID) error {
	return k.update(id, func(rec *record) { rec.Revoked = true })
}

// IsLocallyRevoked reports the local revocation flag for the ring owning id.
func (k *Keyring) IsLocallyRevoked(id types.KeyID) (bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	rec, _, err := k.load(id)
	if err != nil {
		return false, err
	}
	return rec.Revoked, nil
}

func (k *Keyring) update(id types.KeyID, fn func(*record)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	rec, _, err := k.load(id)
	if err != nil {
		return err
	}
	fn(rec)
	return k.putRecord(rec)
}

// load resolves id (master or subkey) to its record and public entity.
func (k *Keyring) load(id types.KeyID) (*record, *openpgp.Entity, error) {
	rec, err := k.loadRecord(id)
	if errors.Is(err, ErrKeyNotFound) {
		master, ierr := k.subkeys.Get(id.String())
		if ierr != nil {
			if errors.Is(ierr, storage.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
			}
			return nil, nil, fmt.Errorf("keyring: subkey index %s: %w", id, ierr)
		}
		masterID, perr := types.ParseKeyID(string(master))
		if perr != nil {
			return nil, nil, fmt.Errorf("%w: subkey index %s: %v", ErrInvalidKeyData, id, perr)
		}
		rec, err = k.loadRecord(masterID)
	}
	if err != nil {
		return nil, nil, err
	}
	e, err := parseEntity(rec.Public)
	if err != nil {
		return nil, nil, err
	}
	return rec, e, nil
}

func (k *Keyring) loadRecord(id types.KeyID) (*record, error) {
	var rec record
	if err := storage.GetJSON(k.keys, id.String(), &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, id)
		}
		return nil, fmt.Errorf("keyring: load %s: %w", id, err)
	}
	return &rec, nil
}

func (k *Keyring) putRecord(rec *record) error {
	if err := storage.PutJSON(k.keys, rec.KeyID.String(), rec); err != nil {
		return fmt.Errorf("keyring: store %s: %w", rec.KeyID, err)
	}
	for _, sub := range rec.SubKeyIDs {
		if err := k.subkeys.Put(sub.String(), []byte(rec.KeyID.String()), storage.DefaultOptions()); err != nil {
			return fmt.Errorf("keyring: index subkey %s: %w", sub, err)
		}
	}
	return nil
}

func parseEntity(data []byte) (*openpgp.Entity, error) {
	e, err := openpgp.ReadEntity(packet.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyData, err)
	}
	return e, nil
}
