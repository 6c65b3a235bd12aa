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

package keyresolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

type fakeKeys struct {
	infos []*keyring.KeyInfo
}

func (f *fakeKeys) Get(id types.KeyID) (*keyring.KeyInfo, error) {
	for _, info := range f.infos {
		if info.Owns(id) {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", keyring.ErrKeyNotFound, id)
}

func (f *fakeKeys) SecretKeys() ([]*keyring.KeyInfo, error) {
	var out []*keyring.KeyInfo
	for _, info := range f.infos {
		if info.HasSecret {
			out = append(out, info)
		}
	}
	return out, nil
}

func (f *fakeKeys) FindByAddress(addr string) ([]*keyring.KeyInfo, error) {
	var out []*keyring.KeyInfo
	for _, info := range f.infos {
		if info.HasAddress(addr) {
			out = append(out, info)
		}
	}
	return out, nil
}

type fakeAccounts map[string]types.KeyID

func (f fakeAccounts) AccountKey(_ context.Context, _ types.Caller, name string) (types.KeyID, error) {
	if name == "" {
		name = "default"
	}
	return f[name], nil
}

var caller = types.Caller{PackageName: "org.example.mail", CertFingerprint: "AA"}

func fixture() (*fakeKeys, fakeAccounts) {
	keys := &fakeKeys{infos: []*keyring.KeyInfo{
		{KeyID: 0x10, SubKeyIDs: []types.KeyID{0x11, 0x12}, SigningKeyID: 0x10, EncryptionKeyID: 0x11,
			HasSecret: true, Addresses: []string{"alice@example.org"}},
		{KeyID: 0x20, SubKeyIDs: []types.KeyID{0x21}, EncryptionKeyID: 0x21,
			Addresses: []string{"bob@example.org", "shared@example.org"}},
		{KeyID: 0x30, SubKeyIDs: []types.KeyID{0x31}, EncryptionKeyID: 0x31,
			Addresses: []string{"carol@example.org", "shared@example.org"}},
		{KeyID: 0x40, SigningKeyID: 0x40, HasSecret: false},
		{KeyID: 0x50, HasSecret: true},
		{KeyID: 0x60, EncryptionKeyID: 0x61, Revoked: true, Addresses: []string{"dave@example.org"}},
	}}
	return keys, fakeAccounts{"default": 0x10}
}

func request(action types.Action, version int, p types.Params) *types.Request {
	return &types.Request{Action: action, APIVersion: version, Params: p}
}

func TestSignKeyID(t *testing.T) {
	keys, accounts := fixture()
	r := New(keys, accounts, nil)
	ctx := context.Background()

	id, res := r.SignKeyID(ctx, request(types.ActionGetSignKeyID, 11, types.Params{SignKeyID: types.KeyIDPtr(0x10)}))
	assert.Nil(t, res)
	assert.Equal(t, types.KeyID(0x10), id)

	_, res = r.SignKeyID(ctx, request(types.ActionGetSignKeyID, 11, types.Params{PreferredUserID: "alice@example.org"}))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputKeySelection, res.Required.Kind)
	assert.Equal(t, []types.KeyID{0x10}, res.Required.Candidates)
	assert.Equal(t, "alice@example.org", res.Required.PreferredUserID)
}

func TestSigningKey(t *testing.T) {
	keys, accounts := fixture()
	r := New(keys, accounts, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		version int
		params  types.Params
		keyID   types.KeyID
		kind    types.InputKind
		errKind types.ErrorKind
		status  types.Status
	}{
		{name: "explicit", version: 11, params: types.Params{SignKeyID: types.KeyIDPtr(0x10)}, keyID: 0x10, status: types.StatusSuccess},
		{name: "explicit subkey id", version: 11, params: types.Params{SignKeyID: types.KeyIDPtr(0x12)}, keyID: 0x10, status: types.StatusSuccess},
		{name: "unknown", version: 11, params: types.Params{SignKeyID: types.KeyIDPtr(0x99)}, errKind: types.ErrorSigningKeyNotUsable, status: types.StatusError},
		{name: "public only", version: 11, params: types.Params{SignKeyID: types.KeyIDPtr(0x40)}, errKind: types.ErrorNoSigningKey, status: types.StatusError},
		{name: "no signing subkey", version: 11, params: types.Params{SignKeyID: types.KeyIDPtr(0x50)}, errKind: types.ErrorSigningKeyNotUsable, status: types.StatusError},
		{name: "current client picks", version: 7, kind: types.InputKeySelection, status: types.StatusPending},
		{name: "legacy default account", version: 6, keyID: 0x10, status: types.StatusSuccess},
		{name: "legacy unbound account", version: 6, params: types.Params{AccountName: "work"}, kind: types.InputPermissionGrant, status: types.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, res := r.SigningKey(ctx, caller, request(types.ActionDetachedSign, tt.version, tt.params))
			switch tt.status {
			case types.StatusSuccess:
				require.Nil(t, res)
				assert.Equal(t, tt.keyID, info.KeyID)
			case types.StatusPending:
				require.True(t, res.IsPending())
				assert.Equal(t, tt.kind, res.Required.Kind)
			case types.StatusError:
				require.True(t, res.IsError())
				assert.Equal(t, tt.errKind, res.Err.Kind)
			}
		})
	}
}

func TestSigningKeyAccountName(t *testing.T) {
	keys, accounts := fixture()
	r := New(keys, accounts, nil)
	_, res := r.SigningKey(context.Background(), caller,
		request(types.ActionDetachedSign, 5, types.Params{AccountName: "work"}))
	require.True(t, res.IsPending())
	assert.Equal(t, "work", res.Required.AccountName)
	assert.Equal(t, caller.PackageName, res.Required.AppID)
}

func TestRecipients(t *testing.T) {
	keys, accounts := fixture()
	r := New(keys, accounts, nil)
	ctx := context.Background()

	ids, res := r.Recipients(ctx, request(types.ActionEncrypt, 11, types.Params{
		KeyIDs:  []types.KeyID{0x21},
		UserIDs: []string{"Alice <ALICE@example.org>"},
	}), RecipientOptions{})
	require.Nil(t, res)
	assert.Equal(t, []types.KeyID{0x20, 0x10}, ids)

	t.Run("ambiguous and unresolved", func(t *testing.T) {
		_, res := r.Recipients(ctx, request(types.ActionEncrypt, 11, types.Params{
			UserIDs: []string{"shared@example.org", "nobody@example.org", "dave@example.org"},
		}), RecipientOptions{})
		require.True(t, res.IsPending())
		assert.Equal(t, types.InputKeySelection, res.Required.Kind)
		assert.Equal(t, []types.KeyID{0x20, 0x30}, res.Required.Candidates)
		assert.Equal(t, []string{"shared@example.org"}, res.Required.AmbiguousAddresses)
		assert.Equal(t, []string{"nobody@example.org", "dave@example.org"}, res.Required.UnresolvedAddresses)
	})

	t.Run("selection wins", func(t *testing.T) {
		ids, res := r.Recipients(ctx, request(types.ActionEncrypt, 11, types.Params{
			UserIDs:        []string{"shared@example.org"},
			SelectedKeyIDs: []types.KeyID{0x30, 0x30},
		}), RecipientOptions{})
		require.Nil(t, res)
		assert.Equal(t, []types.KeyID{0x30}, ids)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, res := r.Recipients(ctx, request(types.ActionEncrypt, 11, types.Params{KeyIDs: []types.KeyID{0x99}}), RecipientOptions{})
		require.True(t, res.IsPending())
		assert.Contains(t, res.Required.Reason, "0000000000000099")
	})

	t.Run("empty", func(t *testing.T) {
		_, res := r.Recipients(ctx, request(types.ActionEncrypt, 11, types.Params{}), RecipientOptions{})
		require.True(t, res.IsError())
		assert.Equal(t, types.ErrorNoRecipients, res.Err.Kind)

		_, res = r.Recipients(ctx, request(types.ActionGetKeyIDs, 11, types.Params{}), RecipientOptions{AskWhenEmpty: true})
		require.True(t, res.IsPending())
		assert.Equal(t, types.InputKeySelection, res.Required.Kind)
	})
}

func TestEnforce(t *testing.T) {
	allowed := types.NewKeySet(0x10)

	kept, res := Enforce(caller, allowed, []types.KeyID{0x20, 0x10})
	assert.Nil(t, res)
	assert.Equal(t, []types.KeyID{0x10}, kept)

	_, res = Enforce(caller, allowed, []types.KeyID{0x20, 0x30})
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)
	assert.Equal(t, types.KeyID(0x20), res.Required.KeyID)

	kept, res = Enforce(caller, allowed, nil)
	assert.Nil(t, res)
	assert.Empty(t, kept)
}
