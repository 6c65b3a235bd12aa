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

// Package auth authenticates callers of the HTTP surface and maps the
// authenticated identity onto the caller identity the dispatcher uses.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const (
	// AttrAuthMethod names the authenticator that produced an identity.
	AttrAuthMethod = "auth_method"

	// AttrCertFingerprint carries the caller's certificate fingerprint.
	AttrCertFingerprint = "cert_fingerprint"

	// ClaimCertFingerprint is the token claim read when no peer
	// certificate is available.
	ClaimCertFingerprint = "cert_fingerprint"

	// RoleAdmin grants access to the key ring and app registry endpoints.
	RoleAdmin = "admin"
)

var (
	ErrNoCredentials  = errors.New("auth: no credentials provided")
	ErrInvalidKey     = errors.New("auth: invalid API key")
	ErrNoFingerprint  = errors.New("auth: identity has no certificate fingerprint")
	ErrNoClientCert   = errors.New("auth: no client certificate provided")
	ErrNilIdentity    = errors.New("auth: identity is nil")
	ErrConfigRequired = errors.New("auth: config is required")
)

// Identity is an authenticated principal.
type Identity struct {
	// Subject is the calling application's package name.
	Subject string

	// Claims holds authenticated claims such as roles.
	Claims map[string]interface{}

	// Attributes holds metadata about how the identity was established.
	Attributes map[string]string
}

// Authenticator establishes an Identity from an HTTP request.
type Authenticator interface {
	AuthenticateHTTP(r *http.Request) (*Identity, error)
	Name() string
}

type contextKey string

const identityContextKey contextKey = "auth.identity"

// GetIdentity extracts the identity from a context.
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// Caller maps an identity onto the dispatcher's caller. The fingerprint
// comes from the peer certificate when one was presented, otherwise from
// the cert_fingerprint claim.
func (i *Identity) Caller() (types.Caller, error) {
	if i == nil {
		return types.Caller{}, ErrNilIdentity
	}
	fp := i.Attributes[AttrCertFingerprint]
	if fp == "" {
		fp, _ = i.Claims[ClaimCertFingerprint].(string)
	}
	if fp == "" {
		return types.Caller{}, ErrNoFingerprint
	}
	caller := types.Caller{PackageName: i.Subject, CertFingerprint: strings.ToLower(fp)}
	if err := caller.Validate(); err != nil {
		return types.Caller{}, err
	}
	return caller, nil
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	if i == nil || i.Claims == nil {
		return false
	}
	return containsClaim(i.Claims["roles"], role)
}

func containsClaim(v interface{}, want string) bool {
	switch r := v.(type) {
	case []string:
		for _, s := range r {
			if s == want {
				return true
			}
		}
	case []interface{}:
		for _, s := range r {
			if str, ok := s.(string); ok && str == want {
				return true
			}
		}
	case string:
		return r == want
	}
	return false
}

func (i *Identity) clone() *Identity {
	out := &Identity{
		Subject:    i.Subject,
		Claims:     make(map[string]interface{}, len(i.Claims)),
		Attributes: make(map[string]string, len(i.Attributes)),
	}
	for k, v := range i.Claims {
		out.Claims[k] = v
	}
	for k, v := range i.Attributes {
		out.Attributes[k] = v
	}
	return out
}

func bearer(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(header)
}
