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

import (
	"crypto/subtle"
	"net/http"
	"sync"
)

// APIKeyAuthenticator maps static API keys to identities. Each identity
// must carry a cert_fingerprint attribute or claim to act as a caller.
type APIKeyAuthenticator struct {
	mu         sync.RWMutex
	keys       map[string]*Identity
	headerName string
}

// APIKeyConfig configures the API key authenticator.
type APIKeyConfig struct {
	Keys map[string]*Identity

	// HeaderName defaults to X-API-Key.
	HeaderName string
}

// NewAPIKeyAuthenticator creates an API key authenticator.
func NewAPIKeyAuthenticator(config *APIKeyConfig) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{keys: make(map[string]*Identity), headerName: "X-API-Key"}
	if config == nil {
		return a
	}
	if config.HeaderName != "" {
		a.headerName = config.HeaderName
	}
	for k, v := range config.Keys {
		a.keys[k] = v
	}
	return a
}

// AddKey registers apiKey for identity.
func (a *APIKeyAuthenticator) AddKey(apiKey string, identity *Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys[apiKey] = identity
}

// RemoveKey forgets apiKey.
func (a *APIKeyAuthenticator) RemoveKey(apiKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, apiKey)
}

// AuthenticateHTTP implements Authenticator. The key is read from the
// configured header, falling back to a bearer token.
func (a *APIKeyAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	apiKey := r.Header.Get(a.headerName)
	if apiKey == "" {
		apiKey = bearer(r.Header.Get("Authorization"))
	}
	if apiKey == "" {
		return nil, ErrNoCredentials
	}

	identity := a.lookup(apiKey)
	if identity == nil {
		return nil, ErrInvalidKey
	}
	out := identity.clone()
	out.Attributes[AttrAuthMethod] = a.Name()
	out.Attributes["remote_addr"] = r.RemoteAddr
	return out, nil
}

func (a *APIKeyAuthenticator) lookup(apiKey string) *Identity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for k, identity := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return identity
		}
	}
	return nil
}

// Name implements Authenticator.
func (a *APIKeyAuthenticator) Name() string {
	return "apikey"
}
