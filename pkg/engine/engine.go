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

// Package engine defines the contract between the operation executor and
// the OpenPGP implementation that does the cryptography.
//
// An engine reports operational failures through Outcome.Failed and its
// Log; a returned Go error means the engine itself broke. A failed outcome
// must carry at least one log entry.
package engine

import (
	"context"
	"crypto"
	"io"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

// LogEntry is one line of an operation log.
type LogEntry struct {
	Level   Level
	Message string
}

// Log is the ordered operation log an engine returns with every outcome.
type Log []LogEntry

// Add appends an entry.
func (l *Log) Add(level Level, message string) {
	*l = append(*l, LogEntry{Level: level, Message: message})
}

// Last returns the most recent entry.
func (l Log) Last() (LogEntry, bool) {
	if len(l) == 0 {
		return LogEntry{}, false
	}
	return l[len(l)-1], true
}

// Outcome is embedded in every engine result.
type Outcome struct {
	Failed bool
	Log    Log

	// NeedsPassphrase is the master key id whose secret key must be
	// unlocked before the operation can proceed. The outcome is neither a
	// success nor a failure while it is set.
	NeedsPassphrase types.KeyID
}

// Fail records a failure with message as the last log entry.
func (o *Outcome) Fail(message string) {
	o.Failed = true
	o.Log.Add(LevelError, message)
}

// SignInput describes a detached or cleartext signature.
type SignInput struct {
	SignKeyID  types.KeyID
	Passphrase []byte
	Detached   bool
	Armor      bool
	Hash       crypto.Hash
	Time       time.Time
	Input      io.Reader
	Output     io.Writer
}

// SignResult carries the detached signature when one was requested.
type SignResult struct {
	Outcome
	DetachedSignature []byte
	MicAlg            string
}

// EncryptInput describes a public-key encryption, optionally signed.
type EncryptInput struct {
	Recipients []types.KeyID

	// SignKeyID, when set, signs the message with that key.
	SignKeyID  types.KeyID
	Passphrase []byte

	Armor    bool
	Compress bool
	Filename string
	Time     time.Time
	Input    io.Reader
	Output   io.Writer
}

// EncryptResult reports the outcome of an encryption.
type EncryptResult struct {
	Outcome
}

// DecryptInput describes a decryption and/or verification.
type DecryptInput struct {
	// AllowedKeys restricts which secret keys may decrypt.
	AllowedKeys types.KeySet
	Passphrase  []byte

	// SessionKeys maps a recipient key id (hex) to a cipher byte followed
	// by the session key, as returned in a previous decryption result.
	SessionKeys map[string][]byte

	// DetachedSignature, when set, makes Input the signed plaintext.
	DetachedSignature []byte
	SenderAddress     string
	MetadataOnly      bool
	DataLength        *int64
	Input             io.Reader
	Output            io.Writer
}

// DecryptResult carries everything learned from a message.
type DecryptResult struct {
	Outcome

	// SkippedDisallowedKeys lists the master ids of secret keys that could
	// have decrypted the message but are not allowed.
	SkippedDisallowedKeys []types.KeyID

	Signature  *types.SignatureResult
	Decryption *types.DecryptionResult
	Metadata   *types.Metadata
	Charset    string
}

// ExportInput describes a key export or backup.
type ExportInput struct {
	KeyIDs []types.KeyID
	Secret bool
	Armor  bool

	// BackupCode, when set, symmetrically encrypts the export.
	BackupCode []byte
	Output     io.Writer
}

// ExportResult lists the master ids that were written.
type ExportResult struct {
	Outcome
	Exported []types.KeyID
}

// Engine performs OpenPGP operations against the local key ring.
type Engine interface {
	Sign(ctx context.Context, in *SignInput) (*SignResult, error)
	Encrypt(ctx context.Context, in *EncryptInput) (*EncryptResult, error)
	Decrypt(ctx context.Context, in *DecryptInput) (*DecryptResult, error)
	Export(ctx context.Context, in *ExportInput) (*ExportResult, error)
}
