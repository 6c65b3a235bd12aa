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

package rest

import (
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// DispatchRequest is the body of POST /api/v1/pgp/{action}.
type DispatchRequest struct {
	APIVersion int          `json:"api_version"`
	Params     types.Params `json:"params"`

	// Input is the data stream, base64 encoded. Absent means no input.
	Input []byte `json:"input,omitempty"`

	// WantOutput attaches an output stream. Defaults to true; get_key
	// without an output only reports the key id.
	WantOutput *bool `json:"want_output,omitempty"`
}

func (r *DispatchRequest) wantsOutput() bool {
	return r.WantOutput == nil || *r.WantOutput
}

// DispatchResponse is the dispatcher result plus the produced output.
type DispatchResponse struct {
	*types.Result
	Output []byte `json:"output,omitempty"`
}

// SupplyInputRequest is the body of POST /api/v1/continuations/{token}.
type SupplyInputRequest struct {
	Passphrase  []byte            `json:"passphrase,omitempty"`
	BackupCode  []byte            `json:"backup_code,omitempty"`
	SessionKeys map[string][]byte `json:"session_keys,omitempty"`
}

func (r *SupplyInputRequest) empty() bool {
	return len(r.Passphrase) == 0 && len(r.BackupCode) == 0 && len(r.SessionKeys) == 0
}

// RegisterAppRequest registers or re-registers an application.
type RegisterAppRequest struct {
	PackageName     string `json:"package_name"`
	CertFingerprint string `json:"cert_fingerprint"`
}

// KeyIDsRequest carries a list of key ids.
type KeyIDsRequest struct {
	KeyIDs []types.KeyID `json:"key_ids"`
}

// AccountRequest binds a legacy account to a key.
type AccountRequest struct {
	KeyID types.KeyID `json:"key_id"`
}

// GenerateKeyRequest creates a new key ring.
type GenerateKeyRequest struct {
	Name       string `json:"name"`
	Comment    string `json:"comment,omitempty"`
	Email      string `json:"email"`
	Bits       int    `json:"bits,omitempty"`
	Passphrase []byte `json:"passphrase,omitempty"`
}

// ImportKeyRequest imports armored or binary key material.
type ImportKeyRequest struct {
	KeyData    []byte `json:"key_data"`
	Passphrase []byte `json:"passphrase,omitempty"`
}

// KeyResponse wraps one key's metadata.
type KeyResponse struct {
	Key *keyring.KeyInfo `json:"key"`
}

// KeyListResponse wraps many keys.
type KeyListResponse struct {
	Keys []*keyring.KeyInfo `json:"keys"`
}

// ExportKeyResponse carries exported key material.
type ExportKeyResponse struct {
	KeyIDs  []types.KeyID `json:"key_ids"`
	KeyData string        `json:"key_data"`
}

// StatusResponse is a minimal acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}
