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

// Package client is a Go client for the keychain-pgp REST API. It covers
// the dispatch envelope, continuation input, and the admin endpoints for
// keys, applications and audit events.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultAddress is used when Config.Address is empty.
const DefaultAddress = "http://localhost:8443"

var (
	// ErrConnectionFailed is returned when the health probe during Connect fails.
	ErrConnectionFailed = errors.New("connection failed")
	// ErrNotConnected is returned when a request is made before Connect.
	ErrNotConnected = errors.New("client not connected")
)

// Config configures the client.
type Config struct {
	// Address is the server base URL. A bare host:port gets http://, or
	// https:// when TLSEnabled is set.
	Address string

	// TLSEnabled forces https for a bare address.
	TLSEnabled bool

	// TLSInsecureSkipVerify skips TLS certificate verification (not recommended)
	TLSInsecureSkipVerify bool

	// TLSCertFile and TLSKeyFile are the client certificate for mTLS.
	TLSCertFile string
	TLSKeyFile  string

	// TLSCAFile is the path to the CA certificate file
	TLSCAFile string

	// APIKey is sent in the X-API-Key header when set.
	APIKey string

	// JWTToken is sent as a bearer token when set.
	JWTToken string

	// CallerPackage and CallerFingerprint identify the calling application
	// to servers running the noop authenticator.
	CallerPackage     string
	CallerFingerprint string

	// Headers are additional HTTP headers to include in requests
	Headers map[string]string

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return fmt.Sprintf("server error (%d): %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one keychain-pgp server. It is safe for concurrent use
// once connected.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// New returns an unconnected client. Call Connect before use.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	baseURL := cfg.Address
	if baseURL == "" {
		baseURL = DefaultAddress
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if strings.Contains(baseURL, "://") {
			return nil, fmt.Errorf("unsupported server address %q", baseURL)
		}
		if cfg.TLSEnabled {
			baseURL = "https://" + baseURL
		} else {
			baseURL = "http://" + baseURL
		}
	}
	return &Client{
		config:  cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
