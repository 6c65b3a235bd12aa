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

// Package rest exposes the dispatcher over HTTP.
//
// Every API route runs behind the configured authenticator. The caller a
// request is dispatched for is derived from the authenticated identity: the
// subject becomes the package name and the certificate fingerprint comes
// from the mTLS peer certificate or the cert_fingerprint claim.
//
// # API Endpoints
//
// Operations:
//   - POST /api/v1/pgp/{action} - Dispatch one action
//   - POST /api/v1/continuations/{token} - Supply input for a pending result
//
// Apps (admin role):
//   - GET    /api/v1/apps
//   - POST   /api/v1/apps
//   - GET    /api/v1/apps/{package}
//   - DELETE /api/v1/apps/{package}
//   - POST   /api/v1/apps/{package}/keys
//   - DELETE /api/v1/apps/{package}/keys/{id}
//   - PUT    /api/v1/apps/{package}/accounts/{name}
//   - DELETE /api/v1/apps/{package}/accounts/{name}
//
// Keys (admin role):
//   - GET    /api/v1/keys
//   - POST   /api/v1/keys
//   - POST   /api/v1/keys/import
//   - GET    /api/v1/keys/{id}
//   - GET    /api/v1/keys/{id}/export
//   - DELETE /api/v1/keys/{id}
//   - POST   /api/v1/keys/{id}/verify
//   - POST   /api/v1/keys/{id}/revoke
//
// Probes and metrics (no authentication):
//   - GET /health/live
//   - GET /health/ready
//   - GET /health/startup
//   - GET /metrics
//
// # Dispatch Envelope
//
// A dispatch request carries the declared API version, the named
// parameters and an optional base64 input:
//
//	{"api_version": 11, "params": {"sign_key_id": "..."}, "input": "aGVsbG8="}
//
// The response is the dispatcher result with any produced output attached
// as base64 under "output".
package rest
