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
	"io"
	"strings"
)

// =============================================================================
// Actions
// =============================================================================

// Action names the operation a caller requests.
type Action string

const (
	ActionCheckPermission Action = "check_permission"
	ActionClearTextSign   Action = "cleartext_sign"
	ActionDetachedSign    Action = "detached_sign"
	ActionEncrypt         Action = "encrypt"
	ActionSignAndEncrypt  Action = "sign_and_encrypt"
	ActionDecryptVerify   Action = "decrypt_verify"
	ActionDecryptMetadata Action = "decrypt_metadata"
	ActionGetSignKeyID    Action = "get_sign_key_id"
	ActionGetKeyIDs       Action = "get_key_ids"
	ActionGetKey          Action = "get_key"
	ActionBackup          Action = "backup"

	// ActionSign is the deprecated name for ActionClearTextSign.
	ActionSign Action = "sign"
)

// Actions lists every action the dispatcher routes.
var Actions = []Action{
	ActionCheckPermission,
	ActionClearTextSign,
	ActionSign,
	ActionDetachedSign,
	ActionEncrypt,
	ActionSignAndEncrypt,
	ActionDecryptVerify,
	ActionDecryptMetadata,
	ActionGetSignKeyID,
	ActionGetKeyIDs,
	ActionGetKey,
	ActionBackup,
}

// String returns the wire name of the action.
func (a Action) String() string {
	return string(a)
}

// ParseAction converts a wire name to an Action. Unknown names are returned
// unchanged so the dispatcher can treat them as unsupported.
func ParseAction(s string) Action {
	return Action(strings.ToLower(strings.TrimSpace(s)))
}

// =============================================================================
// Caller
// =============================================================================

// Caller identifies the application issuing a request.
type Caller struct {
	// PackageName is the stable application identifier.
	PackageName string `json:"package_name"`

	// CertFingerprint is the hex SHA-256 fingerprint of the certificate the
	// application is signed with (or authenticated by).
	CertFingerprint string `json:"cert_fingerprint"`
}

// ID returns the key used for per-caller state.
func (c Caller) ID() string {
	return c.PackageName + ":" + strings.ToLower(c.CertFingerprint)
}

// String implements fmt.Stringer.
func (c Caller) String() string {
	return c.PackageName
}

// Validate checks that the caller has a package name.
func (c Caller) Validate() error {
	if strings.TrimSpace(c.PackageName) == "" {
		return fmt.Errorf("%w: empty package name", ErrInvalidCaller)
	}
	return nil
}

// =============================================================================
// Request
// =============================================================================

// Params carries the named request parameters. Pointer fields distinguish
// "absent" from the zero value where an action applies its own default.
type Params struct {
	ASCIIArmor        *bool             `json:"ascii_armor,omitempty"`
	SignKeyID         *KeyID            `json:"sign_key_id,omitempty"`
	KeyID             KeyID             `json:"key_id,omitempty"`
	KeyIDs            []KeyID           `json:"key_ids,omitempty"`
	SelectedKeyIDs    []KeyID           `json:"selected_key_ids,omitempty"`
	UserIDs           []string          `json:"user_ids,omitempty"`
	PreferredUserID   string            `json:"user_id,omitempty"`
	AccountName       string            `json:"account_name,omitempty"`
	Passphrase        []byte            `json:"passphrase,omitempty"`
	OriginalFilename  string            `json:"original_filename,omitempty"`
	EnableCompression *bool             `json:"enable_compression,omitempty"`
	DetachedSignature []byte            `json:"detached_signature,omitempty"`
	SenderAddress     string            `json:"sender_address,omitempty"`
	DecryptionResult  *DecryptionResult `json:"decryption_result,omitempty"`
	BackupSecret      bool              `json:"backup_secret,omitempty"`
	DataLength        *int64            `json:"data_length,omitempty"`
}

// Armor returns ascii_armor, or def when absent.
func (p *Params) Armor(def bool) bool {
	if p == nil || p.ASCIIArmor == nil {
		return def
	}
	return *p.ASCIIArmor
}

// Compression returns enable_compression, defaulting to true.
func (p *Params) Compression() bool {
	if p == nil || p.EnableCompression == nil {
		return true
	}
	return *p.EnableCompression
}

// HasSignKeyID reports whether an explicit signing key id was supplied.
func (p *Params) HasSignKeyID() bool {
	return p != nil && p.SignKeyID != nil && *p.SignKeyID != NoKey
}

// HasPassphrase reports whether the request overrides the passphrase.
func (p *Params) HasPassphrase() bool {
	return p != nil && p.Passphrase != nil
}

// Request is one call into the dispatcher. Input and Output are optional and
// are always closed by the dispatcher before Dispatch returns.
type Request struct {
	Action     Action
	APIVersion int
	Params     Params
	Input      io.ReadCloser
	Output     io.WriteCloser
}

// Bool returns a pointer to b, for populating optional parameters.
func Bool(b bool) *bool {
	return &b
}

// Int64 returns a pointer to n.
func Int64(n int64) *int64 {
	return &n
}

// KeyIDPtr returns a pointer to id.
func KeyIDPtr(id KeyID) *KeyID {
	return &id
}
