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

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Connect builds the HTTP transport and probes the liveness endpoint.
func (c *Client) Connect(ctx context.Context) error {
	var tlsConfig *tls.Config
	if c.config.TLSEnabled || c.config.TLSCAFile != "" || c.config.TLSCertFile != "" || c.config.TLSInsecureSkipVerify {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: c.config.TLSInsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}

		if c.config.TLSCAFile != "" {
			caCert, err := os.ReadFile(c.config.TLSCAFile)
			if err != nil {
				return fmt.Errorf("failed to read CA certificate: %w", err)
			}
			caCertPool := x509.NewCertPool()
			if !caCertPool.AppendCertsFromPEM(caCert) {
				return fmt.Errorf("failed to parse CA certificate")
			}
			tlsConfig.RootCAs = caCertPool
		}

		if c.config.TLSCertFile != "" && c.config.TLSKeyFile != "" {
			cert, err := tls.LoadX509KeyPair(c.config.TLSCertFile, c.config.TLSKeyFile)
			if err != nil {
				return fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	c.httpClient = &http.Client{
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
		Timeout:   c.config.Timeout,
	}

	if _, err := c.Health(ctx); err != nil {
		c.httpClient = nil
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	c.httpClient = nil
	return nil
}

// doRequest sends body as JSON and decodes a 2xx response into out. A nil
// out discards the body.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if c.httpClient == nil {
		return nil, ErrNotConnected
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
	if c.config.JWTToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.JWTToken)
	}
	if c.config.CallerPackage != "" {
		req.Header.Set("X-Caller-Package", c.config.CallerPackage)
	}
	if c.config.CallerFingerprint != "" {
		req.Header.Set("X-Caller-Fingerprint", c.config.CallerFingerprint)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Code, apiErr.Message = errResp.Error, errResp.Message
		}
		return nil, apiErr
	}
	return respBody, nil
}

// Health probes /health/live.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health/live", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// =============================================================================
// Dispatch
// =============================================================================

// Call runs one action. Pending and error results come back as a
// CallResponse, not as a Go error.
func (c *Client) Call(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	if req == nil || req.Action == "" {
		return nil, fmt.Errorf("action is required")
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/pgp/"+url.PathEscape(req.Action), req)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeCallResponse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}

// SupplyInput hands the passphrase, backup code or session keys to the
// pending call behind token.
func (c *Client) SupplyInput(ctx context.Context, token string, in *SupplyInputRequest) error {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/continuations/"+url.PathEscape(token), in, nil)
}

// =============================================================================
// Keys
// =============================================================================

type keyResponse struct {
	Key *keyring.KeyInfo `json:"key"`
}

type keyListResponse struct {
	Keys []*keyring.KeyInfo `json:"keys"`
}

// ListKeys returns the key rings on the server.
func (c *Client) ListKeys(ctx context.Context, filter *KeyFilter) ([]*keyring.KeyInfo, error) {
	q := url.Values{}
	if filter != nil {
		if filter.SecretOnly {
			q.Set("secret", "true")
		}
		if filter.Address != "" {
			q.Set("address", filter.Address)
		}
	}
	path := "/api/v1/keys"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp keyListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// GenerateKey creates a new key ring.
func (c *Client) GenerateKey(ctx context.Context, req *GenerateKeyRequest) (*keyring.KeyInfo, error) {
	var resp keyResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/keys", req, &resp); err != nil {
		return nil, err
	}
	return resp.Key, nil
}

// ImportKey imports armored or binary key material.
func (c *Client) ImportKey(ctx context.Context, keyData, passphrase []byte) ([]*keyring.KeyInfo, error) {
	body := map[string][]byte{"key_data": keyData}
	if len(passphrase) > 0 {
		body["passphrase"] = passphrase
	}
	var resp keyListResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/keys/import", body, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// GetKey returns one key ring's metadata.
func (c *Client) GetKey(ctx context.Context, id types.KeyID) (*keyring.KeyInfo, error) {
	var resp keyResponse
	if err := c.doRequest(ctx, http.MethodGet, keyPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Key, nil
}

// ExportKey returns the armored public key ring.
func (c *Client) ExportKey(ctx context.Context, id types.KeyID) (string, error) {
	var resp struct {
		KeyData string `json:"key_data"`
	}
	if err := c.doRequest(ctx, http.MethodGet, keyPath(id)+"/export", nil, &resp); err != nil {
		return "", err
	}
	return resp.KeyData, nil
}

// DeleteKey removes a key ring.
func (c *Client) DeleteKey(ctx context.Context, id types.KeyID) error {
	return c.doRequest(ctx, http.MethodDelete, keyPath(id), nil, nil)
}

// VerifyKey sets or clears the verified mark.
func (c *Client) VerifyKey(ctx context.Context, id types.KeyID, verified bool) (*keyring.KeyInfo, error) {
	var resp keyResponse
	path := keyPath(id) + "/verify?verified=" + strconv.FormatBool(verified)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Key, nil
}

// RevokeKey marks a key ring revoked locally.
func (c *Client) RevokeKey(ctx context.Context, id types.KeyID) (*keyring.KeyInfo, error) {
	var resp keyResponse
	if err := c.doRequest(ctx, http.MethodPost, keyPath(id)+"/revoke", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Key, nil
}

func keyPath(id types.KeyID) string {
	return "/api/v1/keys/" + id.String()
}

// =============================================================================
// Apps
// =============================================================================

// ListApps returns the registered applications.
func (c *Client) ListApps(ctx context.Context) ([]*permission.App, error) {
	var resp struct {
		Apps []*permission.App `json:"apps"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/apps", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Apps, nil
}

// RegisterApp registers caller, keeping its grants when already known.
func (c *Client) RegisterApp(ctx context.Context, caller types.Caller) (*permission.App, error) {
	var app permission.App
	body := map[string]string{
		"package_name":     caller.PackageName,
		"cert_fingerprint": caller.CertFingerprint,
	}
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/apps", body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApp returns one application.
func (c *Client) GetApp(ctx context.Context, packageName string) (*permission.App, error) {
	var app permission.App
	if err := c.doRequest(ctx, http.MethodGet, appPath(packageName), nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// DeleteApp unregisters an application.
func (c *Client) DeleteApp(ctx context.Context, packageName string) error {
	return c.doRequest(ctx, http.MethodDelete, appPath(packageName), nil, nil)
}

// AllowKeys adds key ids to an application's allow list.
func (c *Client) AllowKeys(ctx context.Context, packageName string, ids ...types.KeyID) (*permission.App, error) {
	var app permission.App
	body := map[string][]types.KeyID{"key_ids": ids}
	if err := c.doRequest(ctx, http.MethodPost, appPath(packageName)+"/keys", body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// RevokeAppKey removes one key id from an application's allow list.
func (c *Client) RevokeAppKey(ctx context.Context, packageName string, id types.KeyID) (*permission.App, error) {
	var app permission.App
	if err := c.doRequest(ctx, http.MethodDelete, appPath(packageName)+"/keys/"+id.String(), nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// SetAccount binds a legacy account name to a key.
func (c *Client) SetAccount(ctx context.Context, packageName, name string, id types.KeyID) (*permission.App, error) {
	var app permission.App
	body := map[string]types.KeyID{"key_id": id}
	if err := c.doRequest(ctx, http.MethodPut, accountPath(packageName, name), body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// DeleteAccount removes a legacy account binding.
func (c *Client) DeleteAccount(ctx context.Context, packageName, name string) (*permission.App, error) {
	var app permission.App
	if err := c.doRequest(ctx, http.MethodDelete, accountPath(packageName, name), nil, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

func appPath(packageName string) string {
	return "/api/v1/apps/" + url.PathEscape(packageName)
}

func accountPath(packageName, name string) string {
	return appPath(packageName) + "/accounts/" + url.PathEscape(name)
}

// =============================================================================
// Audit
// =============================================================================

// AuditEvents returns recorded audit events, newest first.
func (c *Client) AuditEvents(ctx context.Context, query *AuditQuery) ([]*audit.Event, error) {
	q := url.Values{}
	if query != nil {
		set := func(k, v string) {
			if v != "" {
				q.Set(k, v)
			}
		}
		set("type", query.Type)
		set("outcome", query.Outcome)
		set("principal", query.Principal)
		set("key_id", query.KeyID)
		set("request_id", query.RequestID)
		if query.Limit > 0 {
			q.Set("limit", strconv.Itoa(query.Limit))
		}
	}
	path := "/api/v1/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Events []*audit.Event `json:"events"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}
