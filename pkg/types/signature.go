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

package types

import (
	"fmt"
	"time"
)

// SignatureStatus classifies a verified (or absent) signature.
type SignatureStatus int

const (
	SignatureNone SignatureStatus = iota
	SignatureInvalid
	SignatureKeyMissing
	SignatureValidConfirmed
	SignatureValidUnconfirmed
	SignatureKeyRevoked
	SignatureKeyExpired
	SignatureKeyInsecure
)

// String returns the wire name of the status.
func (s SignatureStatus) String() string {
	switch s {
	case SignatureNone:
		return "no_signature"
	case SignatureInvalid:
		return "invalid_signature"
	case SignatureKeyMissing:
		return "key_missing"
	case SignatureValidConfirmed:
		return "valid_key_confirmed"
	case SignatureValidUnconfirmed:
		return "valid_key_unconfirmed"
	case SignatureKeyRevoked:
		return "invalid_key_revoked"
	case SignatureKeyExpired:
		return "invalid_key_expired"
	case SignatureKeyInsecure:
		return "invalid_key_insecure"
	default:
		return fmt.Sprintf("signature(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SignatureStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// KeyKnown reports whether the status refers to a key in the key ring.
func (s SignatureStatus) KeyKnown() bool {
	switch s {
	case SignatureValidConfirmed, SignatureValidUnconfirmed,
		SignatureKeyRevoked, SignatureKeyExpired, SignatureKeyInsecure:
		return true
	}
	return false
}

// SenderStatus relates a claimed sender address to the signing key.
type SenderStatus int

const (
	SenderUnknown SenderStatus = iota
	SenderConfirmed
	SenderUnconfirmed
	SenderMissing
)

// String returns the wire name of the sender status.
func (s SenderStatus) String() string {
	switch s {
	case SenderUnknown:
		return "unknown"
	case SenderConfirmed:
		return "user_id_confirmed"
	case SenderUnconfirmed:
		return "user_id_unconfirmed"
	case SenderMissing:
		return "user_id_missing"
	default:
		return fmt.Sprintf("sender(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SenderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SignatureResult describes the signature found on a message.
type SignatureResult struct {
	Status        SignatureStatus `json:"result"`
	KeyID         KeyID           `json:"key_id,omitempty"`
	PrimaryUserID string          `json:"primary_user_id,omitempty"`
	UserIDs       []string        `json:"user_ids,omitempty"`
	SenderStatus  SenderStatus    `json:"sender_status"`
	SignedAt      time.Time       `json:"signature_timestamp,omitempty"`

	// SignatureOnly is the legacy flag older clients read to learn that a
	// message was signed but not encrypted.
	SignatureOnly *bool `json:"signature_only,omitempty"`
}

// NoSignature returns the result for an unsigned message.
func NoSignature() *SignatureResult {
	return &SignatureResult{Status: SignatureNone}
}

// InvalidSignature returns a bare invalid-signature result.
func InvalidSignature() *SignatureResult {
	return &SignatureResult{Status: SignatureInvalid}
}

// DecryptionStatus says whether and how a message was encrypted.
type DecryptionStatus int

const (
	NotEncrypted DecryptionStatus = iota
	Encrypted
	EncryptedInsecure
)

// String returns the wire name of the decryption status.
func (s DecryptionStatus) String() string {
	switch s {
	case NotEncrypted:
		return "not_encrypted"
	case Encrypted:
		return "encrypted"
	case EncryptedInsecure:
		return "insecure"
	default:
		return fmt.Sprintf("decryption(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s DecryptionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DecryptionStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "not_encrypted":
		*s = NotEncrypted
	case "encrypted":
		*s = Encrypted
	case "insecure":
		*s = EncryptedInsecure
	default:
		return fmt.Errorf("unknown decryption status %q", string(b))
	}
	return nil
}

// DecryptionResult reports how a message was decrypted. SessionKey
// identifies the encrypted session key (the recipient key id, big-endian)
// and DecryptedSessionKey holds the cipher id followed by the key, so a
// caller can hand it back to decrypt the same message without unlocking
// a private key again.
type DecryptionResult struct {
	Status              DecryptionStatus `json:"result"`
	SessionKey          []byte           `json:"session_key,omitempty"`
	DecryptedSessionKey []byte           `json:"decrypted_session_key,omitempty"`
}

// HasDecryptedSessionKey reports whether the result can seed a later
// decryption.
func (d *DecryptionResult) HasDecryptedSessionKey() bool {
	return d != nil && len(d.SessionKey) > 0 && len(d.DecryptedSessionKey) > 0
}

// Metadata describes the decrypted literal data.
type Metadata struct {
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Charset      string    `json:"charset,omitempty"`
	ModifiedAt   time.Time `json:"modification_time,omitempty"`
	OriginalSize int64     `json:"original_size"`
}
