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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/internal/rest"
	"github.com/jeremyhahn/go-keychain-pgp/internal/server"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

const (
	testPackage     = "org.example.mail"
	testFingerprint = "aa11"
)

// runCLI executes one command line against a fresh command tree.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, out)
	}
	return out
}

// localConfig writes a server config with fast sealing and a badger store
// in a temp dir.
func localConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "keychain.yaml")
	yaml := "logging:\n  level: error\n" +
		"storage:\n  backend: badger\n  path: " + filepath.Join(dir, "data") + "\n" +
		"engine:\n  seal:\n    time: 1\n    memory_kib: 8192\n    threads: 1\n"
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out := mustRun(t, "version")
	if !strings.Contains(out, "keychain-pgp version") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestOutputFormatFromEnvironment(t *testing.T) {
	t.Setenv("KEYCHAIN_PGP_OUTPUT", "json")
	out := mustRun(t, "version")

	var v map[string]interface{}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", out, err)
	}
	if _, ok := v["api_versions"]; !ok {
		t.Errorf("api_versions missing: %v", v)
	}

	// An explicit flag wins over the environment.
	out = mustRun(t, "version", "-o", "text")
	if !strings.HasPrefix(out, "keychain-pgp version") {
		t.Errorf("flag should override env, got %q", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	if _, err := runCLI(t, "version", "-o", "yaml"); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestLocalWorkflow(t *testing.T) {
	cfgPath := localConfig(t)
	base := []string{"--config", cfgPath}
	run := func(args ...string) string {
		t.Helper()
		return mustRun(t, append(append([]string{}, base...), args...)...)
	}

	var key keyring.KeyInfo
	out := run("key", "generate", "--name", "Alice", "--email", "alice@example.org", "--bits", "1024", "-o", "json")
	if err := json.Unmarshal([]byte(out), &key); err != nil {
		t.Fatalf("decode key: %v\n%s", err, out)
	}
	if key.KeyID == types.NoKey || !key.HasSecret {
		t.Fatalf("unexpected key: %+v", key)
	}
	id := key.KeyID.String()

	var list struct {
		Keys []*keyring.KeyInfo `json:"keys"`
	}
	out = run("key", "list", "-o", "json")
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(list.Keys) != 1 || list.Keys[0].KeyID != key.KeyID {
		t.Fatalf("unexpected key list: %s", out)
	}

	out = run("key", "export", id)
	if !strings.Contains(out, "BEGIN PGP PUBLIC KEY BLOCK") {
		t.Errorf("export is not an armored public key: %s", out)
	}

	run("app", "register", testPackage, "--fingerprint", testFingerprint)
	out = run("app", "allow", testPackage, id)
	if !strings.Contains(out, id) {
		t.Errorf("allowed key missing from app output: %s", out)
	}

	input := filepath.Join(t.TempDir(), "msg.txt")
	if err := os.WriteFile(input, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}
	caller := []string{"--caller-package", testPackage, "--caller-fingerprint", testFingerprint}

	out = run(append([]string{"call", "detached_sign", "-o", "json",
		"--params", `{"sign_key_id":"` + id + `"}`, "--input", input}, caller...)...)
	var res map[string]interface{}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode call result: %v\n%s", err, out)
	}
	if res["result_code"] != "success" {
		t.Fatalf("expected success, got %s", out)
	}
	if _, ok := res["detached_signature"]; !ok {
		t.Errorf("detached_signature missing: %s", out)
	}

	out, err := runCLI(t, append(append([]string{}, base...),
		append([]string{"call", "get_key_ids", "--api-version", "2"}, caller...)...)...)
	if err == nil {
		t.Errorf("expected an error for an unsupported api version, got %s", out)
	}
	if !strings.Contains(out, "incompatible_api_version") {
		t.Errorf("error kind missing: %s", out)
	}

	if _, err := runCLI(t, append(append([]string{}, base...), append([]string{"call", "teleport"}, caller...)...)...); err == nil {
		t.Error("expected error for an unknown action")
	}

	run("key", "verify", id)
	run("app", "revoke", testPackage, id)
	run("app", "delete", testPackage)
	run("key", "delete", id)
	if _, err := runCLI(t, append(append([]string{}, base...), "key", "get", id)...); err == nil {
		t.Error("expected error for a deleted key")
	}
}

func TestRemoteAppList(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Backend: config.StorageMemory}
	cfg.Logging.Level = "error"
	st, err := server.NewStack(cfg, nil)
	if err != nil {
		t.Fatalf("NewStack failed: %v", err)
	}
	defer st.Close()

	if _, err := st.Apps.Register(context.Background(), types.Caller{PackageName: testPackage, CertFingerprint: testFingerprint}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	srv, err := rest.NewServer(&rest.Config{
		Dispatcher: st.Dispatcher,
		Apps:       st.Apps,
		Keys:       st.Keys,
		Engine:     st.Engine,
		Audit:      st.Audit,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out := mustRun(t, "--server", ts.URL, "app", "list")
	if !strings.Contains(out, testPackage) {
		t.Errorf("registered app missing: %s", out)
	}

	out = mustRun(t, "--server", ts.URL, "audit", "--type", "app.register", "-o", "json")
	if !strings.Contains(out, `"events"`) {
		t.Errorf("unexpected audit output: %s", out)
	}

	if _, err := runCLI(t, "--server", ts.URL, "app", "get", "org.example.unknown"); err == nil {
		t.Error("expected error for an unknown app")
	}
}

func TestSupplyRequiresInput(t *testing.T) {
	if _, err := runCLI(t, "--config", localConfig(t), "supply", "token"); err == nil {
		t.Error("expected error when no input is given")
	}
	_, err := runCLI(t, "--config", localConfig(t), "supply", "token", "--passphrase", "pw", "--backup-code", "code")
	if err == nil || !strings.Contains(err.Error(), "backup-code") {
		t.Errorf("expected passphrase and backup code to be rejected together, got %v", err)
	}
}
