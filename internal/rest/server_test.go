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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/dispatcher"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine/pgp"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/executor"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/health"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring/keyringtest"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const (
	testPackage     = "org.example.mail"
	testFingerprint = "aa11"
)

type testServer struct {
	*Server
	kr     *keyring.Keyring
	store  *permission.Store
	events *audit.Memory
	alice  *keyring.KeyInfo
	carol  *keyring.KeyInfo
}

func newTestServer(t *testing.T, authenticator auth.Authenticator) *testServer {
	t.Helper()
	ctx := context.Background()

	ts := &testServer{kr: keyringtest.New(t), events: audit.NewMemory(0)}
	ts.alice = keyringtest.Generate(t, ts.kr, "Alice", "alice@example.org", nil)
	ts.carol = keyringtest.GenerateBits(t, ts.kr, "Carol", "carol@example.org", []byte("pw"), 1024)

	ts.store = permission.NewStore(memory.New(), nil)
	if _, err := ts.store.Register(ctx, types.Caller{PackageName: testPackage, CertFingerprint: testFingerprint}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := ts.store.AllowKeys(ctx, testPackage, ts.alice.KeyID, ts.carol.KeyID); err != nil {
		t.Fatalf("AllowKeys failed: %v", err)
	}

	eng := pgp.New(ts.kr, nil)
	d, err := dispatcher.New(&dispatcher.Config{
		Gate:     permission.NewGate(ts.store, nil),
		Keys:     ts.kr,
		Cache:    continuation.New(nil),
		Executor: executor.New(eng, nil),
		Audit:    ts.events,
	})
	if err != nil {
		t.Fatalf("dispatcher.New failed: %v", err)
	}

	checker := health.NewChecker()
	checker.MarkStarted()

	ts.Server, err = NewServer(&Config{
		Dispatcher:    d,
		Apps:          ts.store,
		Keys:          ts.kr,
		Engine:        eng,
		Audit:         ts.events,
		Health:        checker,
		Authenticator: authenticator,
		KeyBits:       1024,
		MaxBodyBytes:  1 << 20,
		MetricsPath:   "/metrics",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return ts
}

// wireResult mirrors the dispatch response with plain string enums.
type wireResult struct {
	ResultCode string `json:"result_code"`
	Token      string `json:"continuation_token"`
	Required   *struct {
		Kind  string `json:"kind"`
		KeyID string `json:"key_id"`
	} `json:"required_input"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	DetachedSignature []byte   `json:"detached_signature"`
	MicAlg            string   `json:"signature_micalg"`
	SignKeyID         string   `json:"sign_key_id"`
	KeyIDs            []string `json:"key_ids"`
	Output            []byte   `json:"output"`
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) dispatch(t *testing.T, action string, body map[string]interface{}) wireResult {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/pgp/"+action, body, callerHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("dispatch %s: status %d: %s", action, rec.Code, rec.Body.String())
	}
	var res wireResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func callerHeaders() map[string]string {
	return map[string]string{
		auth.HeaderCallerPackage:     testPackage,
		auth.HeaderCallerFingerprint: strings.ToUpper(testFingerprint),
	}
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := NewServer(&Config{}); err == nil {
		t.Error("Expected error for missing dependencies")
	}
}

func TestHealthProbes(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, path := range []string{"/health/live", "/health/ready", "/health/startup"} {
		rec := ts.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
		var resp HealthCheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if resp.Status != health.StatusHealthy {
			t.Errorf("%s: expected healthy, got %s", path, resp.Status)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/health/live", nil, map[string]string{correlation.Header: "req-123"})
	if got := rec.Header().Get(correlation.Header); got != "req-123" {
		t.Errorf("Expected correlation id req-123, got %q", got)
	}
}

func TestDispatch_DetachedSign(t *testing.T) {
	ts := newTestServer(t, nil)

	res := ts.dispatch(t, "detached_sign", map[string]interface{}{
		"api_version": 11,
		"params":      map[string]interface{}{"sign_key_id": ts.alice.KeyID.String()},
		"input":       []byte("hello"),
	})
	if res.ResultCode != "success" {
		t.Fatalf("Expected success, got %s (%+v)", res.ResultCode, res.Error)
	}
	if !strings.Contains(string(res.DetachedSignature), "BEGIN PGP SIGNATURE") {
		t.Errorf("Expected armored detached signature, got %q", res.DetachedSignature)
	}
	if res.MicAlg != "pgp-sha256" {
		t.Errorf("Expected micalg pgp-sha256, got %q", res.MicAlg)
	}
	if res.SignKeyID != ts.alice.KeyID.String() {
		t.Errorf("Expected sign key %s, got %s", ts.alice.KeyID, res.SignKeyID)
	}
}

func TestDispatch_EncryptReturnsOutput(t *testing.T) {
	ts := newTestServer(t, nil)

	res := ts.dispatch(t, "encrypt", map[string]interface{}{
		"api_version": 11,
		"params":      map[string]interface{}{"key_ids": []string{ts.alice.KeyID.String()}, "ascii_armor": true},
		"input":       []byte("secret message"),
	})
	if res.ResultCode != "success" {
		t.Fatalf("Expected success, got %s (%+v)", res.ResultCode, res.Error)
	}
	if !strings.Contains(string(res.Output), "BEGIN PGP MESSAGE") {
		t.Errorf("Expected armored message in output, got %q", res.Output)
	}
}

func TestDispatch_UnsupportedVersionIsInBand(t *testing.T) {
	ts := newTestServer(t, nil)

	res := ts.dispatch(t, "get_sign_key_id", map[string]interface{}{"api_version": 2})
	if res.ResultCode != "error" || res.Error == nil {
		t.Fatalf("Expected in-band error, got %+v", res)
	}
	if res.Error.Kind != "incompatible_api_version" {
		t.Errorf("Expected incompatible_api_version, got %s", res.Error.Kind)
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/v1/pgp/launch_rockets", map[string]interface{}{"api_version": 11}, callerHeaders())
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestDispatch_RequiresCallerFingerprint(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/v1/pgp/check_permission", map[string]interface{}{"api_version": 11},
		map[string]string{auth.HeaderCallerPackage: testPackage})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestDispatch_RejectsUnknownFields(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/v1/pgp/check_permission",
		map[string]interface{}{"api_version": 11, "bogus": true}, callerHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestDispatch_PassphraseContinuation(t *testing.T) {
	ts := newTestServer(t, nil)
	body := map[string]interface{}{
		"api_version": 11,
		"params":      map[string]interface{}{"sign_key_id": ts.carol.KeyID.String()},
		"input":       []byte("hello"),
	}

	res := ts.dispatch(t, "detached_sign", body)
	if res.ResultCode != "user_interaction_required" {
		t.Fatalf("Expected pending, got %s", res.ResultCode)
	}
	if res.Required == nil || res.Required.Kind != "passphrase" {
		t.Fatalf("Expected passphrase request, got %+v", res.Required)
	}
	if res.Token == "" {
		t.Fatal("Expected continuation token")
	}

	// Another caller cannot feed the continuation.
	rec := ts.do(t, http.MethodPost, "/api/v1/continuations/"+res.Token,
		SupplyInputRequest{Passphrase: []byte("pw")},
		map[string]string{auth.HeaderCallerPackage: "org.example.other", auth.HeaderCallerFingerprint: "bb22"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign token, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/continuations/"+res.Token, SupplyInputRequest{}, callerHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty input, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/continuations/"+res.Token,
		SupplyInputRequest{Passphrase: []byte("pw"), BackupCode: []byte("code")}, callerHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for passphrase with backup code, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/continuations/"+res.Token,
		SupplyInputRequest{Passphrase: []byte("pw")}, callerHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	res = ts.dispatch(t, "detached_sign", body)
	if res.ResultCode != "success" {
		t.Fatalf("Expected success after supplying passphrase, got %s (%+v)", res.ResultCode, res.Error)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/continuations/unknown-token",
		SupplyInputRequest{Passphrase: []byte("pw")}, callerHeaders())
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown token, got %d", rec.Code)
	}
}

func TestAdmin_AppLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	bob := keyringtest.GenerateBits(t, ts.kr, "Bob", "bob@example.org", nil, 1024)

	rec := ts.do(t, http.MethodPost, "/api/v1/apps",
		RegisterAppRequest{PackageName: "org.example.calendar", CertFingerprint: "cc33"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/apps/org.example.calendar/keys",
		KeyIDsRequest{KeyIDs: []types.KeyID{bob.KeyID}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("AllowKeys: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var app permission.App
	if err := json.Unmarshal(rec.Body.Bytes(), &app); err != nil {
		t.Fatalf("decode app: %v", err)
	}
	if !app.Allows(bob.KeyID) {
		t.Errorf("Expected bob's key to be allowed")
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/apps/org.example.calendar/accounts/work",
		AccountRequest{KeyID: bob.KeyID}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("SetAccount: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/apps/org.example.calendar/keys/"+bob.KeyID.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("RevokeKey: expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/apps", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("List: expected 200, got %d", rec.Code)
	}
	var list struct {
		Apps []*permission.App `json:"apps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Apps) != 2 {
		t.Errorf("Expected 2 apps, got %d", len(list.Apps))
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/apps/org.example.calendar", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Delete: expected 204, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/v1/apps/org.example.calendar", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete: expected 404, got %d", rec.Code)
	}

	events, err := ts.events.Events(context.Background(), &audit.Query{Types: []audit.EventType{audit.EventAppRegister}})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Metadata["app"] != "org.example.calendar" {
		t.Errorf("Expected one register event, got %+v", events)
	}
}

func TestAdmin_InvalidPackageName(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/v1/apps",
		RegisterAppRequest{PackageName: "../etc/passwd", CertFingerprint: "cc33"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestAdmin_Keys(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/keys", GenerateKeyRequest{Name: "Dave", Email: "dave@example.org"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Generate: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created KeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	id := created.Key.KeyID.String()
	if created.Key.BitLength != 1024 {
		t.Errorf("Expected default bits from config, got %d", created.Key.BitLength)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/keys?address=dave@example.org", nil, nil)
	var list KeyListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Keys) != 1 || list.Keys[0].KeyID != created.Key.KeyID {
		t.Errorf("Expected only dave's key, got %d keys", len(list.Keys))
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/keys/"+id+"/export", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Export: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var exported ExportKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if !strings.Contains(exported.KeyData, "BEGIN PGP PUBLIC KEY BLOCK") {
		t.Errorf("Expected armored public key, got %q", exported.KeyData)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/keys/"+id+"/verify", nil, nil)
	var verified KeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &verified); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !verified.Key.Verified {
		t.Error("Expected key to be verified")
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/keys/"+id+"/revoke", nil, nil)
	var revoked KeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &revoked); err != nil {
		t.Fatalf("decode revoke: %v", err)
	}
	if !revoked.Key.Revoked {
		t.Error("Expected key to be revoked")
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/keys/"+id, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Delete: expected 204, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/v1/keys/"+id, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Get after delete: expected 404, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/keys/not-hex", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Invalid id: expected 400, got %d", rec.Code)
	}
}

func TestAdmin_RequiresAdminRole(t *testing.T) {
	authenticator := auth.NewAPIKeyAuthenticator(&auth.APIKeyConfig{
		Keys: map[string]*auth.Identity{
			"app-key": {
				Subject:    testPackage,
				Claims:     map[string]interface{}{auth.ClaimCertFingerprint: testFingerprint},
				Attributes: map[string]string{},
			},
		},
	})
	ts := newTestServer(t, authenticator)

	rec := ts.do(t, http.MethodGet, "/api/v1/keys", nil, map[string]string{"X-API-Key": "app-key"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without admin role, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/pgp/get_sign_key_id",
		map[string]interface{}{"api_version": 11, "params": map[string]interface{}{"sign_key_id": ts.alice.KeyID.String()}},
		map[string]string{"X-API-Key": "app-key"})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for dispatch, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/keys", nil, map[string]string{"X-API-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for bad key, got %d", rec.Code)
	}
	events, _ := ts.events.Events(context.Background(), &audit.Query{Types: []audit.EventType{audit.EventAuthFailure}})
	if len(events) != 1 {
		t.Errorf("Expected one auth failure event, got %d", len(events))
	}
}

func TestAdmin_AuditQuery(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dispatch(t, "check_permission", map[string]interface{}{"api_version": 11})

	rec := ts.do(t, http.MethodGet, "/api/v1/audit?principal="+testPackage+"&limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Events []*audit.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(resp.Events) == 0 {
		t.Error("Expected dispatch event for the caller")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/audit?since=yesterday", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	big := map[string]interface{}{"api_version": 11, "input": bytes.Repeat([]byte("x"), 2<<20)}
	rec := ts.do(t, http.MethodPost, "/api/v1/pgp/detached_sign", big, callerHeaders())
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)
	h := ts.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestResponseWriter(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if rw.statusCode != http.StatusOK {
		t.Errorf("Expected default status 200, got %d", rw.statusCode)
	}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("Expected first status to stick, got %d", rw.statusCode)
	}
}

func TestValidation(t *testing.T) {
	for _, name := range []string{"org.example.mail", "app_1", "a-b"} {
		if err := ValidatePackageName(name); err != nil {
			t.Errorf("%q: unexpected error %v", name, err)
		}
	}
	for _, name := range []string{"", "a/b", "..", "a..b", "x y", strings.Repeat("a", 256)} {
		if err := ValidatePackageName(name); err == nil {
			t.Errorf("%q: expected error", name)
		}
	}
	if got := SanitizeString("a\nb\x00c"); got != "abc" {
		t.Errorf("Expected control characters stripped, got %q", got)
	}
}
