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

package client

import (
	"encoding/json"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// HealthResponse is the body of the /health probes.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CallRequest is one dispatch.
type CallRequest struct {
	Action     string       `json:"-"`
	APIVersion int          `json:"api_version"`
	Params     types.Params `json:"params"`
	Input      []byte       `json:"input,omitempty"`
	WantOutput *bool        `json:"want_output,omitempty"`
}

// RequiredInput names what a pending call waits for.
type RequiredInput struct {
	Kind  string      `json:"kind"`
	KeyID types.KeyID `json:"key_id,omitempty"`
}

// ResultError is an in-band protocol error.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CallResponse is the dispatch result with its enums left as strings.
// Raw holds the full envelope for callers that want every field.
type CallResponse struct {
	ResultCode string         `json:"result_code"`
	Token      string         `json:"continuation_token,omitempty"`
	Required   *RequiredInput `json:"required_input,omitempty"`
	Error      *ResultError   `json:"error,omitempty"`
	Output     []byte         `json:"output,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Result codes carried in CallResponse.ResultCode.
const (
	ResultCodeSuccess = "success"
	ResultCodePending = "user_interaction_required"
	ResultCodeError   = "error"
)

// IsSuccess reports a successful call.
func (r *CallResponse) IsSuccess() bool { return r.ResultCode == ResultCodeSuccess }

// IsPending reports a call that needs more input.
func (r *CallResponse) IsPending() bool { return r.ResultCode == ResultCodePending }

// DecodeCallResponse parses a dispatch envelope.
func DecodeCallResponse(data []byte) (*CallResponse, error) {
	var resp CallResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	resp.Raw = append(json.RawMessage(nil), data...)
	return &resp, nil
}

// SupplyInputRequest resumes a pending call.
type SupplyInputRequest struct {
	Passphrase  []byte            `json:"passphrase,omitempty"`
	BackupCode  []byte            `json:"backup_code,omitempty"`
	SessionKeys map[string][]byte `json:"session_keys,omitempty"`
}

// GenerateKeyRequest creates a new key ring on the server.
type GenerateKeyRequest struct {
	Name       string `json:"name"`
	Comment    string `json:"comment,omitempty"`
	Email      string `json:"email"`
	Bits       int    `json:"bits,omitempty"`
	Passphrase []byte `json:"passphrase,omitempty"`
}

// KeyFilter narrows ListKeys.
type KeyFilter struct {
	SecretOnly bool
	Address    string
}

// AuditQuery narrows AuditEvents. Empty fields match everything.
type AuditQuery struct {
	Type      string
	Outcome   string
	Principal string
	KeyID     string
	RequestID string
	Limit     int
}
