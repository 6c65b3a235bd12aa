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

import "fmt"

// =============================================================================
// Result status
// =============================================================================

// Status is the top-level outcome of a dispatch.
type Status int

const (
	StatusSuccess Status = iota
	StatusPending
	StatusError
)

// String returns the wire result_code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "user_interaction_required"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// =============================================================================
// Required input
// =============================================================================

// InputKind names the single missing ingredient of a pending result.
type InputKind int

const (
	InputPermissionGrant InputKind = iota
	InputKeySelection
	InputPassphrase
	InputBackupCode
	InputKeyImport
)

// String returns the wire name of the input kind.
func (k InputKind) String() string {
	switch k {
	case InputPermissionGrant:
		return "permission_grant"
	case InputKeySelection:
		return "key_selection"
	case InputPassphrase:
		return "passphrase"
	case InputBackupCode:
		return "backup_code"
	case InputKeyImport:
		return "key_import"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k InputKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Priority orders input kinds; lower values must be resolved first because
// answering them may change what is needed later.
func (k InputKind) Priority() int {
	switch k {
	case InputPermissionGrant:
		return 0
	case InputKeySelection:
		return 1
	default:
		return 2
	}
}

// RequiredInput describes exactly one missing ingredient.
type RequiredInput struct {
	Kind InputKind `json:"kind"`

	// AppID is the calling package (permission grants).
	AppID string `json:"app_id,omitempty"`

	// KeyID is the key the input concerns: the key to unlock, the key the
	// caller asks permission for, or the key to import.
	KeyID KeyID `json:"key_id,omitempty"`

	// AccountName is set when a legacy account needs a key bound to it.
	AccountName string `json:"account_name,omitempty"`

	// Candidates are the keys offered by a key selection.
	Candidates []KeyID `json:"candidates,omitempty"`

	// UnresolvedAddresses lists recipient addresses with no matching key.
	UnresolvedAddresses []string `json:"unresolved_addresses,omitempty"`

	// AmbiguousAddresses lists recipient addresses matching several keys.
	AmbiguousAddresses []string `json:"ambiguous_addresses,omitempty"`

	// PreferredUserID is a hint for the key picker.
	PreferredUserID string `json:"preferred_user_id,omitempty"`

	// KeyIDs and BackupSecret describe a pending backup.
	KeyIDs       []KeyID `json:"key_ids,omitempty"`
	BackupSecret bool    `json:"backup_secret,omitempty"`

	// Reason is a human-readable explanation.
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// Hints
// =============================================================================

// HintKind names an advisory follow-up attached to a successful result.
type HintKind int

const (
	HintShowKey HintKind = iota
	HintImportFromKeyserver
)

// String returns the wire name of the hint kind.
func (k HintKind) String() string {
	switch k {
	case HintShowKey:
		return "show_key"
	case HintImportFromKeyserver:
		return "import_from_keyserver"
	default:
		return fmt.Sprintf("hint(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k HintKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Hint is a non-blocking UI affordance. It is never required input.
type Hint struct {
	Kind  HintKind `json:"kind"`
	KeyID KeyID    `json:"key_id"`
}

// =============================================================================
// Errors
// =============================================================================

// ErrorKind classifies a failed dispatch.
type ErrorKind int

const (
	ErrorGeneric ErrorKind = iota
	ErrorIncompatibleAPIVersion
	ErrorNoSigningKey
	ErrorSigningKeyNotUsable
	ErrorNoRecipients
	ErrorCryptoEngineFailure
	ErrorEngineContractViolation
)

// String returns the wire name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorGeneric:
		return "generic"
	case ErrorIncompatibleAPIVersion:
		return "incompatible_api_version"
	case ErrorNoSigningKey:
		return "no_signing_key"
	case ErrorSigningKeyNotUsable:
		return "signing_key_not_usable"
	case ErrorNoRecipients:
		return "no_recipients"
	case ErrorCryptoEngineFailure:
		return "crypto_engine_failure"
	case ErrorEngineContractViolation:
		return "engine_contract_violation"
	default:
		return fmt.Sprintf("error(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is the structured failure carried by an error result.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// =============================================================================
// Result
// =============================================================================

// ContinuationToken identifies one in-progress multi-step operation.
type ContinuationToken string

// Result is the outcome of a dispatch: exactly one of success, pending or
// error. Use the Success, Pending and Failure constructors.
type Result struct {
	Status Status `json:"result_code"`

	// Pending
	Required *RequiredInput    `json:"required_input,omitempty"`
	Token    ContinuationToken `json:"continuation_token,omitempty"`

	// Error
	Err *Error `json:"error,omitempty"`

	// Success payload; which fields are set depends on the action.
	DetachedSignature []byte            `json:"detached_signature,omitempty"`
	MicAlg            string            `json:"signature_micalg,omitempty"`
	SignKeyID         KeyID             `json:"sign_key_id,omitempty"`
	KeyIDs            []KeyID           `json:"key_ids,omitempty"`
	Signature         *SignatureResult  `json:"signature,omitempty"`
	Decryption        *DecryptionResult `json:"decryption,omitempty"`
	Metadata          *Metadata         `json:"metadata,omitempty"`
	Charset           string            `json:"charset,omitempty"`

	// Hint is advisory and may accompany success or a key-import pending.
	Hint *Hint `json:"hint,omitempty"`
}

// Success returns an empty successful result.
func Success() *Result {
	return &Result{Status: StatusSuccess}
}

// Pending returns a result requiring one more input. The token is attached
// by the dispatcher.
func Pending(required RequiredInput) *Result {
	return &Result{Status: StatusPending, Required: &required}
}

// Failure returns an error result carrying msg verbatim.
func Failure(kind ErrorKind, msg string) *Result {
	return &Result{Status: StatusError, Err: &Error{Kind: kind, Message: msg}}
}

// Failuref is Failure with a formatted message.
func Failuref(kind ErrorKind, format string, args ...any) *Result {
	return Failure(kind, fmt.Sprintf(format, args...))
}

// IsSuccess reports a successful result.
func (r *Result) IsSuccess() bool { return r != nil && r.Status == StatusSuccess }

// IsPending reports a pending result.
func (r *Result) IsPending() bool { return r != nil && r.Status == StatusPending }

// IsError reports an error result.
func (r *Result) IsError() bool { return r != nil && r.Status == StatusError }

// Clone returns a copy that can be reshaped without touching r. Payload
// slices are shared; nested structs are copied.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Required != nil {
		req := *r.Required
		c.Required = &req
	}
	if r.Err != nil {
		e := *r.Err
		c.Err = &e
	}
	if r.Signature != nil {
		s := *r.Signature
		c.Signature = &s
	}
	if r.Decryption != nil {
		d := *r.Decryption
		c.Decryption = &d
	}
	if r.Metadata != nil {
		m := *r.Metadata
		c.Metadata = &m
	}
	if r.Hint != nil {
		h := *r.Hint
		c.Hint = &h
	}
	return &c
}
