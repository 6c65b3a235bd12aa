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

package auth

import "net/http"

const (
	// HeaderCallerPackage and HeaderCallerFingerprint let a development
	// client assert its identity when authentication is disabled.
	HeaderCallerPackage     = "X-Caller-Package"
	HeaderCallerFingerprint = "X-Caller-Fingerprint"
)

// NoOpAuthenticator trusts the caller headers. Use it for development or
// when authentication is handled by a proxy in front of the service.
type NoOpAuthenticator struct{}

// NewNoOpAuthenticator creates a no-op authenticator.
func NewNoOpAuthenticator() *NoOpAuthenticator {
	return &NoOpAuthenticator{}
}

// AuthenticateHTTP always succeeds. Without caller headers the identity
// is anonymous and cannot act as a caller.
func (a *NoOpAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	identity := &Identity{
		Subject:    "anonymous",
		Claims:     map[string]interface{}{"roles": []string{RoleAdmin}},
		Attributes: map[string]string{AttrAuthMethod: a.Name()},
	}
	if pkg := r.Header.Get(HeaderCallerPackage); pkg != "" {
		identity.Subject = pkg
	}
	if fp := r.Header.Get(HeaderCallerFingerprint); fp != "" {
		identity.Attributes[AttrCertFingerprint] = fp
	}
	return identity, nil
}

// Name implements Authenticator.
func (a *NoOpAuthenticator) Name() string {
	return "noop"
}
