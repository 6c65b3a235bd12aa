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
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"net/http"
)

// MTLSAuthenticator authenticates the client certificate. The subject's
// common name names the calling package and the certificate's SHA-256
// fingerprint identifies its signer.
type MTLSAuthenticator struct {
	extractSubject func(*x509.Certificate) string
	extractRoles   func(*x509.Certificate) []string
}

// MTLSConfig configures the mTLS authenticator.
type MTLSConfig struct {
	// ExtractSubject defaults to the common name.
	ExtractSubject func(*x509.Certificate) string

	// ExtractRoles defaults to the organizational units.
	ExtractRoles func(*x509.Certificate) []string
}

// NewMTLSAuthenticator creates an mTLS authenticator.
func NewMTLSAuthenticator(config *MTLSConfig) *MTLSAuthenticator {
	a := &MTLSAuthenticator{
		extractSubject: defaultExtractSubject,
		extractRoles:   func(c *x509.Certificate) []string { return c.Subject.OrganizationalUnit },
	}
	if config != nil && config.ExtractSubject != nil {
		a.extractSubject = config.ExtractSubject
	}
	if config != nil && config.ExtractRoles != nil {
		a.extractRoles = config.ExtractRoles
	}
	return a
}

// AuthenticateHTTP implements Authenticator.
func (a *MTLSAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, ErrNoClientCert
	}
	cert := r.TLS.PeerCertificates[0]
	return &Identity{
		Subject: a.extractSubject(cert),
		Claims: map[string]interface{}{
			"roles":           a.extractRoles(cert),
			"email_addresses": cert.EmailAddresses,
		},
		Attributes: map[string]string{
			AttrAuthMethod:      a.Name(),
			AttrCertFingerprint: Fingerprint(cert),
			"cert_serial":       cert.SerialNumber.String(),
			"cert_issuer":       cert.Issuer.String(),
			"remote_addr":       r.RemoteAddr,
		},
	}, nil
}

// Name implements Authenticator.
func (a *MTLSAuthenticator) Name() string {
	return "mtls"
}

// Fingerprint returns the lowercase hex SHA-256 of the certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func peerFingerprint(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return ""
	}
	return Fingerprint(r.TLS.PeerCertificates[0])
}

func defaultExtractSubject(cert *x509.Certificate) string {
	if cert.Subject.CommonName != "" {
		return cert.Subject.CommonName
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames[0]
	}
	return cert.SerialNumber.String()
}
