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
	"crypto"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthenticator authenticates bearer tokens. The sub claim names the
// calling package and cert_fingerprint pins its signing certificate.
type JWTAuthenticator struct {
	publicKey  crypto.PublicKey
	issuer     string
	audience   []string
	headerName string
}

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// PublicKey verifies token signatures (required).
	PublicKey crypto.PublicKey
	// Issuer is the expected iss claim. Empty skips the check.
	Issuer string
	// Audience lists accepted aud values. Empty skips the check.
	Audience []string
	// HeaderName defaults to Authorization.
	HeaderName string
}

// NewJWTAuthenticator creates a JWT authenticator.
func NewJWTAuthenticator(config *JWTConfig) (*JWTAuthenticator, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	if config.PublicKey == nil {
		return nil, fmt.Errorf("auth: public key is required")
	}
	headerName := config.HeaderName
	if headerName == "" {
		headerName = "Authorization"
	}
	return &JWTAuthenticator{
		publicKey:  config.PublicKey,
		issuer:     config.Issuer,
		audience:   config.Audience,
		headerName: headerName,
	}, nil
}

// AuthenticateHTTP implements Authenticator.
func (a *JWTAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	tokenString := bearer(r.Header.Get(a.headerName))
	if tokenString == "" {
		return nil, ErrNoCredentials
	}
	identity, err := a.validateToken(tokenString)
	if err != nil {
		return nil, err
	}
	identity.Attributes[AttrAuthMethod] = a.Name()
	identity.Attributes["remote_addr"] = r.RemoteAddr
	if fp := peerFingerprint(r); fp != "" {
		identity.Attributes[AttrCertFingerprint] = fp
	}
	return identity, nil
}

func (a *JWTAuthenticator) validateToken(tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"ES256", "ES384", "RS256", "RS384", "RS512", "EdDSA"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("auth: invalid claims type")
	}
	if len(a.audience) > 0 {
		if err := a.validateAudience(claims); err != nil {
			return nil, err
		}
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("auth: missing subject claim")
	}
	identity := &Identity{
		Subject:    sub,
		Claims:     make(map[string]interface{}, len(claims)),
		Attributes: make(map[string]string),
	}
	for k, v := range claims {
		identity.Claims[k] = v
	}
	if role, ok := claims["role"].(string); ok {
		identity.Claims["roles"] = []string{role}
	}
	return identity, nil
}

func (a *JWTAuthenticator) validateAudience(claims jwt.MapClaims) error {
	aud, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("auth: invalid audience format: %w", err)
	}
	for _, got := range aud {
		for _, want := range a.audience {
			if got == want {
				return nil
			}
		}
	}
	return fmt.Errorf("auth: invalid audience: %v", []string(aud))
}

// Name implements Authenticator.
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}
