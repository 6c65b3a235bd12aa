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

package apiversion

import "github.com/jeremyhahn/go-keychain-pgp/pkg/types"

// Rule rewrites a successful result for clients below Threshold.
type Rule struct {
	Name      string
	Threshold int
	Apply     func(r *types.Result)
}

// Rules is the shim table, applied in order. The signature-only rule runs
// before the decryption result is dropped because it reads it.
var Rules = []Rule{
	{Name: "collapse-revoked-expired", Threshold: WithKeyRevokedExpired, Apply: collapseRevokedExpired},
	{Name: "collapse-insecure", Threshold: WithKeyInvalidInsecure, Apply: collapseInsecure},
	{Name: "signature-only-flag", Threshold: WithoutSignatureOnlyFlag, Apply: signatureOnlyFlag},
	{Name: "omit-metadata", Threshold: WithResultMetadata, Apply: omitMetadata},
	{Name: "omit-decryption-result", Threshold: WithDecryptionResult, Apply: omitDecryptionResult},
	{Name: "omit-no-signature", Threshold: WithResultNoSignature, Apply: omitNoSignature},
}

// Applicable returns the names of the rules that apply to version.
func Applicable(version int) []string {
	var names []string
	for _, rule := range Rules {
		if version < rule.Threshold {
			names = append(names, rule.Name)
		}
	}
	return names
}

// Shim reshapes a result for the declared version. Only successful results
// are touched. The input is not modified. Applying Shim twice with the same
// version yields the same result.
func Shim(version int, result *types.Result) *types.Result {
	if result == nil || !result.IsSuccess() {
		return result
	}
	out := result.Clone()
	for _, rule := range Rules {
		if version < rule.Threshold {
			rule.Apply(out)
		}
	}
	return out
}

func collapseRevokedExpired(r *types.Result) {
	if r.Signature == nil {
		return
	}
	switch r.Signature.Status {
	case types.SignatureKeyRevoked, types.SignatureKeyExpired:
		r.Signature = collapsed(r.Signature)
	}
}

func collapseInsecure(r *types.Result) {
	if r.Signature != nil && r.Signature.Status == types.SignatureKeyInsecure {
		r.Signature = collapsed(r.Signature)
	}
}

// collapsed keeps only what a bare invalid-signature outcome carries, plus
// any legacy flag already computed.
func collapsed(sig *types.SignatureResult) *types.SignatureResult {
	out := types.InvalidSignature()
	out.SignatureOnly = sig.SignatureOnly
	return out
}

func signatureOnlyFlag(r *types.Result) {
	if r.Signature == nil || r.Decryption == nil {
		return
	}
	only := r.Decryption.Status == types.NotEncrypted && r.Signature.Status != types.SignatureNone
	r.Signature.SignatureOnly = &only
}

func omitMetadata(r *types.Result) {
	r.Metadata = nil
}

func omitDecryptionResult(r *types.Result) {
	r.Decryption = nil
}

func omitNoSignature(r *types.Result) {
	if r.Signature != nil && r.Signature.Status == types.SignatureNone {
		r.Signature = nil
	}
}
