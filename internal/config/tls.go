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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSConfig controls the listener's TLS settings. Client certificate
// verification is what lets the mtls authenticator derive a caller's
// certificate fingerprint.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// ClientAuth is none, request, require, verify or require_and_verify.
	ClientAuth string   `yaml:"client_auth"`
	ClientCAs  []string `yaml:"client_cas"`

	MinVersion   string   `yaml:"min_version"`
	CipherSuites []string `yaml:"cipher_suites"`
}

// VerifiesClients reports whether presented client certificates are
// verified against the configured CAs.
func (cfg *TLSConfig) VerifiesClients() bool {
	return cfg.ClientAuth == "verify" || cfg.ClientAuth == "require_and_verify"
}

// LoadTLSConfig builds a server tls.Config. It returns nil when TLS is
// disabled.
func (cfg *TLSConfig) LoadTLSConfig() (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion defaults to TLS 1.2
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}
	if len(cfg.CipherSuites) > 0 {
		if out.CipherSuites, err = parseCipherSuites(cfg.CipherSuites); err != nil {
			return nil, err
		}
	}
	if out.ClientAuth, err = parseClientAuthType(cfg.ClientAuth); err != nil {
		return nil, err
	}
	if len(cfg.ClientCAs) > 0 {
		if out.ClientCAs, err = loadCertPool(cfg.ClientCAs); err != nil {
			return nil, err
		}
	} else if cfg.VerifiesClients() {
		return nil, fmt.Errorf("client_auth %s requires client_cas", cfg.ClientAuth)
	}
	return out, nil
}

func parseTLSVersion(version string) (uint16, error) {
	switch strings.ToUpper(version) {
	case "", "TLS1.2":
		return tls.VersionTLS12, nil
	case "TLS1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS min_version: %s", version)
	}
}

func parseClientAuthType(authType string) (tls.ClientAuthType, error) {
	switch authType {
	case "none", "":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAnyClientCert, nil
	case "verify":
		return tls.VerifyClientCertIfGiven, nil
	case "require_and_verify":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("unknown client auth type: %s", authType)
	}
}

func parseCipherSuites(names []string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	out := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite: %s", name)
		}
		out = append(out, id)
	}
	return out, nil
}

func loadCertPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, path := range files {
		// #nosec G304 - CA paths from trusted config
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", path)
		}
	}
	return pool, nil
}
