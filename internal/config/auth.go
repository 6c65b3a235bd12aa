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

package config

import (
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
)

// AuthConfig selects how HTTP callers are authenticated.
type AuthConfig struct {
	// Type is noop, apikey, mtls or jwt.
	Type string `yaml:"type"`

	APIKeys map[string]APIKeyConfig `yaml:"api_keys,omitempty"`
	JWT     *JWTConfig              `yaml:"jwt,omitempty"`
}

// APIKeyConfig is the caller identity behind one API key.
type APIKeyConfig struct {
	Subject         string   `yaml:"subject"`
	CertFingerprint string   `yaml:"cert_fingerprint"`
	Roles           []string `yaml:"roles,omitempty"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	PublicKeyFile string   `yaml:"public_key_file"`
	Issuer        string   `yaml:"issuer"`
	Audience      []string `yaml:"audience"`
}

func (cfg *AuthConfig) validate(tlsCfg *TLSConfig) error {
	switch cfg.Type {
	case "", "noop", "none":
	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return fmt.Errorf("no API keys configured")
		}
		for _, k := range cfg.APIKeys {
			if k.Subject == "" {
				return fmt.Errorf("API key without subject")
			}
		}
	case "mtls":
		if !tlsCfg.Enabled || !tlsCfg.VerifiesClients() {
			return fmt.Errorf("mtls auth requires TLS with client_auth verify or require_and_verify")
		}
	case "jwt":
		if cfg.JWT == nil || cfg.JWT.PublicKeyFile == "" {
			return fmt.Errorf("jwt auth requires jwt.public_key_file")
		}
	default:
		return fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
	return nil
}

// CreateAuthenticator builds the configured authenticator.
func (cfg *AuthConfig) CreateAuthenticator() (auth.Authenticator, error) {
	switch cfg.Type {
	case "", "noop", "none":
		return auth.NewNoOpAuthenticator(), nil
	case "apikey":
		return cfg.createAPIKeyAuthenticator()
	case "mtls":
		return auth.NewMTLSAuthenticator(nil), nil
	case "jwt":
		return cfg.createJWTAuthenticator()
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

func (cfg *AuthConfig) createAPIKeyAuthenticator() (auth.Authenticator, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	keys := make(map[string]*auth.Identity, len(cfg.APIKeys))
	for apiKey, k := range cfg.APIKeys {
		identity := &auth.Identity{
			Subject:    k.Subject,
			Claims:     make(map[string]interface{}),
			Attributes: make(map[string]string),
		}
		if len(k.Roles) > 0 {
			identity.Claims["roles"] = k.Roles
		}
		if k.CertFingerprint != "" {
			identity.Attributes[auth.AttrCertFingerprint] = k.CertFingerprint
		}
		keys[apiKey] = identity
	}
	return auth.NewAPIKeyAuthenticator(&auth.APIKeyConfig{Keys: keys}), nil
}

func (cfg *AuthConfig) createJWTAuthenticator() (auth.Authenticator, error) {
	if cfg.JWT == nil || cfg.JWT.PublicKeyFile == "" {
		return nil, fmt.Errorf("jwt auth requires jwt.public_key_file")
	}
	// #nosec G304 - key path from trusted config
	data, err := os.ReadFile(cfg.JWT.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key: %w", err)
	}
	key, err := parsePublicKey(data)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTAuthenticator(&auth.JWTConfig{
		PublicKey: key,
		Issuer:    cfg.JWT.Issuer,
		Audience:  cfg.JWT.Audience,
	})
}

// parsePublicKey accepts PEM encoded RSA, ECDSA or Ed25519 public keys.
func parsePublicKey(data []byte) (interface{}, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported JWT public key format")
}
