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
	"fmt"
	"io"

	"github.com/jeremyhahn/go-keychain-pgp/internal/server"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// Backend is what the commands run against: a *client.Client for a remote
// server or a local stack opened in process.
type Backend interface {
	Call(ctx context.Context, req *client.CallRequest) (*client.CallResponse, error)
	SupplyInput(ctx context.Context, token string, in *client.SupplyInputRequest) error

	ListKeys(ctx context.Context, filter *client.KeyFilter) ([]*keyring.KeyInfo, error)
	GenerateKey(ctx context.Context, req *client.GenerateKeyRequest) (*keyring.KeyInfo, error)
	ImportKey(ctx context.Context, keyData, passphrase []byte) ([]*keyring.KeyInfo, error)
	GetKey(ctx context.Context, id types.KeyID) (*keyring.KeyInfo, error)
	ExportKey(ctx context.Context, id types.KeyID) (string, error)
	DeleteKey(ctx context.Context, id types.KeyID) error
	VerifyKey(ctx context.Context, id types.KeyID, verified bool) (*keyring.KeyInfo, error)
	RevokeKey(ctx context.Context, id types.KeyID) (*keyring.KeyInfo, error)

	ListApps(ctx context.Context) ([]*permission.App, error)
	RegisterApp(ctx context.Context, caller types.Caller) (*permission.App, error)
	GetApp(ctx context.Context, packageName string) (*permission.App, error)
	DeleteApp(ctx context.Context, packageName string) error
	AllowKeys(ctx context.Context, packageName string, ids ...types.KeyID) (*permission.App, error)
	RevokeAppKey(ctx context.Context, packageName string, id types.KeyID) (*permission.App, error)
	SetAccount(ctx context.Context, packageName, name string, id types.KeyID) (*permission.App, error)
	DeleteAccount(ctx context.Context, packageName, name string) (*permission.App, error)

	AuditEvents(ctx context.Context, query *client.AuditQuery) ([]*audit.Event, error)

	Close() error
}

var _ Backend = (*client.Client)(nil)

// localBackend runs commands against an in-process stack. Continuations
// live only as long as the process, so supply is useful only within one
// invocation.
type localBackend struct {
	stack   *server.Stack
	caller  types.Caller
	keyBits int
}

func newLocalBackend(st *server.Stack, caller types.Caller, keyBits int) *localBackend {
	return &localBackend{stack: st, caller: caller, keyBits: keyBits}
}

type bufferCloser struct{ *bytes.Buffer }

func (bufferCloser) Close() error { return nil }

func (b *localBackend) Call(ctx context.Context, req *client.CallRequest) (*client.CallResponse, error) {
	if req == nil || req.Action == "" {
		return nil, fmt.Errorf("action is required")
	}
	r := &types.Request{
		Action:     types.ParseAction(req.Action),
		APIVersion: req.APIVersion,
		Params:     req.Params,
	}
	if req.Input != nil {
		r.Input = io.NopCloser(bytes.NewReader(req.Input))
	}
	var out bytes.Buffer
	if req.WantOutput == nil || *req.WantOutput {
		r.Output = bufferCloser{&out}
	}

	res := b.stack.Dispatcher.Dispatch(ctx, b.caller, r)
	if res == nil {
		return nil, fmt.Errorf("unsupported action %q", req.Action)
	}

	envelope := struct {
		*types.Result
		Output []byte `json:"output,omitempty"`
	}{Result: res}
	if res.IsSuccess() && out.Len() > 0 {
		envelope.Output = out.Bytes()
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return client.DecodeCallResponse(data)
}

func (b *localBackend) SupplyInput(ctx context.Context, token string, in *client.SupplyInputRequest) error {
	if in == nil {
		return fmt.Errorf("input is required")
	}
	return b.stack.Dispatcher.SupplyInput(ctx, b.caller, types.ContinuationToken(token), continuation.Input{
		Passphrase:  in.Passphrase,
		BackupCode:  in.BackupCode,
		SessionKeys: in.SessionKeys,
	})
}

func (b *localBackend) ListKeys(_ context.Context, filter *client.KeyFilter) ([]*keyring.KeyInfo, error) {
	var (
		keys []*keyring.KeyInfo
		err  error
	)
	if filter != nil && filter.SecretOnly {
		keys, err = b.stack.Keys.SecretKeys()
	} else {
		keys, err = b.stack.Keys.List()
	}
	if err != nil || filter == nil || filter.Address == "" {
		return keys, err
	}
	matched := make([]*keyring.KeyInfo, 0, len(keys))
	for _, k := range keys {
		if k.HasAddress(filter.Address) {
			matched = append(matched, k)
		}
	}
	return matched, nil
}

func (b *localBackend) GenerateKey(_ context.Context, req *client.GenerateKeyRequest) (*keyring.KeyInfo, error) {
	bits := req.Bits
	if bits == 0 {
		bits = b.keyBits
	}
	return b.stack.Keys.Generate(keyring.GenerateOptions{
		Name:       req.Name,
		Comment:    req.Comment,
		Email:      req.Email,
		Bits:       bits,
		Passphrase: req.Passphrase,
	})
}

func (b *localBackend) ImportKey(_ context.Context, keyData, passphrase []byte) ([]*keyring.KeyInfo, error) {
	return b.stack.Keys.Import(keyData, passphrase)
}

func (b *localBackend) GetKey(_ context.Context, id types.KeyID) (*keyring.KeyInfo, error) {
	return b.stack.Keys.Get(id)
}

func (b *localBackend) ExportKey(ctx context.Context, id types.KeyID) (string, error) {
	if _, err := b.stack.Keys.Get(id); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	res, err := b.stack.Engine.Export(ctx, &engine.ExportInput{
		KeyIDs: []types.KeyID{id},
		Armor:  true,
		Output: &buf,
	})
	if err != nil {
		return "", err
	}
	if res.Failed {
		msg := "export failed"
		if last, ok := res.Log.Last(); ok {
			msg = last.Message
		}
		return "", fmt.Errorf("%s", msg)
	}
	return buf.String(), nil
}

func (b *localBackend) DeleteKey(_ context.Context, id types.KeyID) error {
	return b.stack.Keys.Delete(id)
}

func (b *localBackend) VerifyKey(_ context.Context, id types.KeyID, verified bool) (*keyring.KeyInfo, error) {
	if err := b.stack.Keys.SetVerified(id, verified); err != nil {
		return nil, err
	}
	return b.stack.Keys.Get(id)
}

func (b *localBackend) RevokeKey(_ context.Context, id types.KeyID) (*keyring.KeyInfo, error) {
	if err := b.stack.Keys.Revoke(id); err != nil {
		return nil, err
	}
	return b.stack.Keys.Get(id)
}

func (b *localBackend) ListApps(ctx context.Context) ([]*permission.App, error) {
	return b.stack.Apps.List(ctx)
}

func (b *localBackend) RegisterApp(ctx context.Context, caller types.Caller) (*permission.App, error) {
	return b.stack.Apps.Register(ctx, caller)
}

func (b *localBackend) GetApp(ctx context.Context, packageName string) (*permission.App, error) {
	return b.stack.Apps.Get(ctx, packageName)
}

func (b *localBackend) DeleteApp(ctx context.Context, packageName string) error {
	return b.stack.Apps.Delete(ctx, packageName)
}

func (b *localBackend) AllowKeys(ctx context.Context, packageName string, ids ...types.KeyID) (*permission.App, error) {
	for _, id := range ids {
		if _, err := b.stack.Keys.Get(id); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}
	if err := b.stack.Apps.AllowKeys(ctx, packageName, ids...); err != nil {
		return nil, err
	}
	return b.stack.Apps.Get(ctx, packageName)
}

func (b *localBackend) RevokeAppKey(ctx context.Context, packageName string, id types.KeyID) (*permission.App, error) {
	if err := b.stack.Apps.RevokeKeys(ctx, packageName, id); err != nil {
		return nil, err
	}
	return b.stack.Apps.Get(ctx, packageName)
}

func (b *localBackend) SetAccount(ctx context.Context, packageName, name string, id types.KeyID) (*permission.App, error) {
	if _, err := b.stack.Keys.Get(id); err != nil {
		return nil, err
	}
	if err := b.stack.Apps.SetAccount(ctx, packageName, name, id); err != nil {
		return nil, err
	}
	return b.stack.Apps.Get(ctx, packageName)
}

func (b *localBackend) DeleteAccount(ctx context.Context, packageName, name string) (*permission.App, error) {
	if err := b.stack.Apps.DeleteAccount(ctx, packageName, name); err != nil {
		return nil, err
	}
	return b.stack.Apps.Get(ctx, packageName)
}

func (b *localBackend) AuditEvents(ctx context.Context, query *client.AuditQuery) ([]*audit.Event, error) {
	q := &audit.Query{}
	if query != nil {
		if query.Type != "" {
			q.Types = []audit.EventType{audit.EventType(query.Type)}
		}
		if query.Outcome != "" {
			q.Outcomes = []audit.Outcome{audit.Outcome(query.Outcome)}
		}
		q.Principal = query.Principal
		q.KeyID = query.KeyID
		q.RequestID = query.RequestID
		q.Limit = query.Limit
	}
	return b.stack.Audit.Events(ctx, q)
}

func (b *localBackend) Close() error {
	return b.stack.Close()
}
