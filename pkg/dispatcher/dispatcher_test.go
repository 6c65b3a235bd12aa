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

package dispatcher

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bluele/gcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine/pgp"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/executor"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring/keyringtest"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/storage/memory"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

var (
	app      = types.Caller{PackageName: "org.example.mail", CertFingerprint: "AA11"}
	stranger = types.Caller{PackageName: "org.example.other", CertFingerprint: "BB22"}
)

type countingGate struct {
	*permission.Gate
	checks int
}

func (g *countingGate) Check(ctx context.Context, caller types.Caller, req *types.Request) *types.Result {
	g.checks++
	return g.Gate.Check(ctx, caller, req)
}

type env struct {
	d      *Dispatcher
	kr     *keyring.Keyring
	eng    *pgp.Engine
	store  *permission.Store
	gate   *countingGate
	cache  *continuation.Cache
	clock  gcache.FakeClock
	events *audit.Memory

	alice *keyring.KeyInfo // 2048-bit signing key, allowed
	bob   *keyring.KeyInfo // recipient, not allowed
	carol *keyring.KeyInfo // passphrase protected, allowed
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{kr: keyringtest.New(t)}
	e.alice = keyringtest.Generate(t, e.kr, "Alice", "alice@example.org", nil)
	e.bob = keyringtest.GenerateBits(t, e.kr, "Bob", "bob@example.org", nil, 1024)
	e.carol = keyringtest.GenerateBits(t, e.kr, "Carol", "carol@example.org", []byte("pw"), 1024)

	backend := memory.New()
	t.Cleanup(func() { _ = backend.Close() })
	e.store = permission.NewStore(backend, nil)
	_, err := e.store.Register(ctx, app)
	require.NoError(t, err)
	require.NoError(t, e.store.AllowKeys(ctx, app.PackageName, e.alice.KeyID, e.carol.KeyID))
	e.gate = &countingGate{Gate: permission.NewGate(e.store, nil)}

	e.clock = gcache.NewFakeClock()
	e.clock.Advance(keyringtest.Epoch.Sub(e.clock.Now()) + time.Hour)
	e.cache = continuation.New(&continuation.Config{Clock: e.clock})
	e.eng = pgp.New(e.kr, nil)
	e.events = audit.NewMemory(0)

	e.d, err = New(&Config{
		Gate:     e.gate,
		Keys:     e.kr,
		Cache:    e.cache,
		Executor: executor.New(e.eng, nil),
		Audit:    e.events,
	})
	require.NoError(t, err)
	return e
}

type stream struct {
	*strings.Reader
	closed bool
}

func (s *stream) Close() error { s.closed = true; return nil }

type sink struct {
	bytes.Buffer
	closed bool
}

func (s *sink) Close() error { s.closed = true; return nil }

func input(s string) *stream { return &stream{Reader: strings.NewReader(s)} }

func request(action types.Action, version int, p types.Params) *types.Request {
	return &types.Request{Action: action, APIVersion: version, Params: p}
}

// encrypt produces an armored message to recipients with the engine
// directly.
func (e *env) encrypt(t *testing.T, plaintext string, signer types.KeyID, recipients ...types.KeyID) []byte {
	t.Helper()
	var out bytes.Buffer
	res, err := e.eng.Encrypt(context.Background(), &engine.EncryptInput{
		Recipients: recipients,
		SignKeyID:  signer,
		Armor:      true,
		Time:       keyringtest.Epoch.Add(time.Hour),
		Input:      strings.NewReader(plaintext),
		Output:     &out,
	})
	require.NoError(t, err)
	require.False(t, res.Failed, "%v", res.Log)
	return out.Bytes()
}

// decrypt opens ciphertext with the engine directly using only allowed.
func (e *env) decrypt(t *testing.T, ciphertext []byte, allowed ...types.KeyID) (string, *engine.DecryptResult) {
	t.Helper()
	var out bytes.Buffer
	res, err := e.eng.Decrypt(context.Background(), &engine.DecryptInput{
		AllowedKeys: types.NewKeySet(allowed...),
		Input:       bytes.NewReader(ciphertext),
		Output:      &out,
	})
	require.NoError(t, err)
	return out.String(), res
}

func TestDispatch_NilRequest(t *testing.T) {
	e := newEnv(t)
	res := e.d.Dispatch(context.Background(), app, nil)
	require.True(t, res.IsError())
	assert.Equal(t, types.ErrorGeneric, res.Err.Kind)
	assert.Equal(t, MissingRequestMessage, res.Err.Message)
}

func TestDispatch_UnsupportedVersionSkipsGate(t *testing.T) {
	e := newEnv(t)
	for _, v := range []int{-1, 0, 1, 2, 12, 100} {
		in := input("x")
		req := request(types.ActionEncrypt, v, types.Params{})
		req.Input = in
		res := e.d.Dispatch(context.Background(), stranger, req)
		require.True(t, res.IsError(), "version %d", v)
		assert.Equal(t, types.ErrorIncompatibleAPIVersion, res.Err.Kind)
		assert.Equal(t, apiversion.IncompatibleMessage(v), res.Err.Message)
		assert.Empty(t, res.Token)
		assert.True(t, in.closed)
	}
	assert.Zero(t, e.gate.checks)
}

func TestDispatch_UnregisteredCallerNeedsGrant(t *testing.T) {
	e := newEnv(t)
	for _, action := range types.Actions {
		req := request(action, 11, types.Params{})
		res := e.d.Dispatch(context.Background(), stranger, req)
		require.True(t, res.IsPending(), "action %s", action)
		assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)
		assert.Equal(t, stranger.PackageName, res.Required.AppID)
		assert.Equal(t, continuation.Derive(stranger, req), res.Token, "action %s", action)
		_, cached := e.cache.Get(res.Token)
		assert.True(t, cached, "action %s", action)
	}

	res := e.d.Dispatch(context.Background(), app, request(types.ActionCheckPermission, 11, types.Params{}))
	assert.True(t, res.IsSuccess())
}

func TestDispatch_UnknownActionIsNoOp(t *testing.T) {
	e := newEnv(t)
	in, out := input("x"), &sink{}
	req := request(types.Action("format_disk"), 11, types.Params{})
	req.Input, req.Output = in, out
	assert.Nil(t, e.d.Dispatch(context.Background(), app, req))
	assert.True(t, in.closed)
	assert.True(t, out.closed)
}

func TestDispatch_KeySelectionResumeIsDeterministic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	firstAttempt := e.clock.Now().UTC().Truncate(time.Second)

	req := request(types.ActionDetachedSign, 11, types.Params{})
	req.Input = input("hello")
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputKeySelection, res.Required.Kind)
	assert.Contains(t, res.Required.Candidates, e.alice.KeyID)
	token := res.Token
	require.NotEmpty(t, token)

	e.clock.Advance(3 * time.Minute)

	resumed := request(types.ActionDetachedSign, 11, types.Params{SignKeyID: types.KeyIDPtr(e.alice.KeyID)})
	assert.Equal(t, token, continuation.Derive(app, resumed))
	resumed.Input = input("hello")
	res = e.d.Dispatch(ctx, app, resumed)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.Equal(t, "pgp-sha256", res.MicAlg)

	direct, err := e.eng.Sign(ctx, &engine.SignInput{
		SignKeyID: e.alice.KeyID,
		Detached:  true,
		Armor:     true,
		Time:      firstAttempt,
		Input:     strings.NewReader("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, direct.DetachedSignature, res.DetachedSignature)

	block, err := armor.Decode(bytes.NewReader(res.DetachedSignature))
	require.NoError(t, err)
	p, err := packet.Read(block.Body)
	require.NoError(t, err)
	sig, ok := p.(*packet.Signature)
	require.True(t, ok)
	assert.True(t, sig.CreationTime.Equal(firstAttempt))

	_, cached := e.cache.Get(token)
	assert.False(t, cached, "continuation must be dropped after success")
}

func TestDispatch_PassphraseFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	params := types.Params{SignKeyID: types.KeyIDPtr(e.carol.KeyID)}

	req := request(types.ActionDetachedSign, 11, params)
	req.Input = input("data")
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPassphrase, res.Required.Kind)
	assert.Equal(t, e.carol.KeyID, res.Required.KeyID)
	token := res.Token

	wrong := params
	wrong.Passphrase = []byte("nope")
	req = request(types.ActionDetachedSign, 11, wrong)
	req.Input = input("data")
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsError())
	assert.Equal(t, types.ErrorGeneric, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "bad passphrase")
	assert.Empty(t, res.Token)
	_, cached := e.cache.Get(token)
	assert.True(t, cached, "a failed attempt keeps the continuation")

	require.NoError(t, e.d.SupplyInput(ctx, app, token, continuation.Input{Passphrase: []byte("pw")}))
	assert.ErrorIs(t, e.d.SupplyInput(ctx, stranger, token, continuation.Input{Passphrase: []byte("x")}), ErrForeignToken)

	req = request(types.ActionDetachedSign, 11, params)
	req.Input = input("data")
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.NotEmpty(t, res.DetachedSignature)

	assert.ErrorIs(t, e.d.SupplyInput(ctx, app, token, continuation.Input{}), continuation.ErrUnknownToken)
}

func TestDispatch_BackupContinuationIsSingleUse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	params := types.Params{KeyIDs: []types.KeyID{e.alice.KeyID}}

	res := e.d.Dispatch(ctx, app, request(types.ActionBackup, 11, params))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputBackupCode, res.Required.Kind)
	assert.Equal(t, []types.KeyID{e.alice.KeyID}, res.Required.KeyIDs)
	token := res.Token

	require.NoError(t, e.d.SupplyInput(ctx, app, token, continuation.Input{BackupCode: []byte("1234-5678-9012")}))

	out := &sink{}
	req := request(types.ActionBackup, 11, params)
	req.Output = out
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.Equal(t, []types.KeyID{e.alice.KeyID}, res.KeyIDs)
	assert.Contains(t, out.String(), "BEGIN PGP MESSAGE")
	assert.True(t, out.closed)

	res = e.d.Dispatch(ctx, app, request(types.ActionBackup, 11, params))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputBackupCode, res.Required.Kind)
	assert.Equal(t, token, res.Token)
}

func TestDispatch_DisallowedDecryptionKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ciphertext := e.encrypt(t, "hello", types.NoKey, e.bob.KeyID)

	req := request(types.ActionDecryptVerify, 11, types.Params{})
	req.Input = &stream{Reader: strings.NewReader(string(ciphertext))}
	req.Output = &sink{}
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)
	assert.Equal(t, e.bob.KeyID, res.Required.KeyID)

	require.NoError(t, e.store.AllowKeys(ctx, app.PackageName, e.bob.KeyID))

	out := &sink{}
	req = request(types.ActionDecryptVerify, 11, types.Params{})
	req.Input = &stream{Reader: strings.NewReader(string(ciphertext))}
	req.Output = out
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.Equal(t, "hello", out.String())
}

func TestDispatch_NoSignatureShim(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ciphertext := e.encrypt(t, "hello", types.NoKey, e.alice.KeyID)

	decrypt := func(version int) *types.Result {
		req := request(types.ActionDecryptVerify, version, types.Params{})
		req.Input = &stream{Reader: strings.NewReader(string(ciphertext))}
		req.Output = &sink{}
		res := e.d.Dispatch(ctx, app, req)
		require.True(t, res.IsSuccess(), "%+v", res.Err)
		return res
	}

	old := decrypt(7)
	assert.Nil(t, old.Signature)
	assert.Nil(t, old.Decryption)
	assert.NotNil(t, old.Metadata)

	current := decrypt(9)
	require.NotNil(t, current.Signature)
	assert.Equal(t, types.SignatureNone, current.Signature.Status)
	require.NotNil(t, current.Decryption)
	assert.Equal(t, types.Encrypted, current.Decryption.Status)
	assert.Nil(t, current.Hint)
}

func TestDispatch_EncryptRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out := &sink{}
	in := input("hello")
	req := request(types.ActionEncrypt, 9, types.Params{
		KeyIDs:     []types.KeyID{e.alice.KeyID},
		ASCIIArmor: types.Bool(true),
	})
	req.Input, req.Output = in, out
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.True(t, in.closed)
	assert.True(t, out.closed)
	assert.True(t, strings.HasPrefix(out.String(), "-----BEGIN PGP MESSAGE-----"))

	plaintext, dec := e.decrypt(t, out.Bytes(), e.alice.KeyID)
	require.False(t, dec.Failed, "%v", dec.Log)
	assert.Equal(t, "hello", plaintext)
}

func TestDispatch_EncryptNeedsAllowedRecipients(t *testing.T) {
	e := newEnv(t)
	req := request(types.ActionEncrypt, 11, types.Params{KeyIDs: []types.KeyID{e.bob.KeyID}})
	req.Input = input("hello")
	req.Output = &sink{}
	res := e.d.Dispatch(context.Background(), app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)
	assert.Equal(t, e.bob.KeyID, res.Required.KeyID)

	res = e.d.Dispatch(context.Background(), app, request(types.ActionEncrypt, 11, types.Params{}))
	require.True(t, res.IsError())
	assert.Equal(t, types.ErrorNoRecipients, res.Err.Kind)
	assert.Empty(t, res.Token)
}

func TestDispatch_LegacySelfEncryption(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.AllowKeys(ctx, app.PackageName, e.bob.KeyID))
	require.NoError(t, e.store.SetAccount(ctx, app.PackageName, apiversion.DefaultAccountName, e.alice.KeyID))

	out := &sink{}
	req := request(types.ActionEncrypt, 6, types.Params{KeyIDs: []types.KeyID{e.bob.KeyID}})
	req.Input, req.Output = input("note to self"), out
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)

	plaintext, dec := e.decrypt(t, out.Bytes(), e.alice.KeyID)
	require.False(t, dec.Failed, "%v", dec.Log)
	assert.Equal(t, "note to self", plaintext)
}

func TestDispatch_SignAndEncryptHintsSigner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	out := &sink{}
	req := request(types.ActionSignAndEncrypt, 11, types.Params{
		SignKeyID: types.KeyIDPtr(e.alice.KeyID),
		UserIDs:   []string{"alice@example.org"},
	})
	req.Input, req.Output = input("signed"), out
	res := e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)

	plain := &sink{}
	req = request(types.ActionDecryptVerify, 11, types.Params{SenderAddress: "alice@example.org"})
	req.Input = &stream{Reader: strings.NewReader(out.String())}
	req.Output = plain
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.Equal(t, "signed", plain.String())
	require.NotNil(t, res.Signature)
	assert.Equal(t, types.SignatureValidUnconfirmed, res.Signature.Status)
	assert.Equal(t, e.alice.KeyID, res.Signature.KeyID)
	require.NotNil(t, res.Hint)
	assert.Equal(t, types.HintShowKey, res.Hint.Kind)
	assert.Equal(t, e.alice.KeyID, res.Hint.KeyID)
}

func TestDispatch_SignerGrantBeforeRecipientSelection(t *testing.T) {
	e := newEnv(t)
	req := request(types.ActionSignAndEncrypt, 11, types.Params{
		SignKeyID: types.KeyIDPtr(e.bob.KeyID),
		UserIDs:   []string{"nobody@example.org"},
	})
	req.Input, req.Output = input("hello"), &sink{}
	res := e.d.Dispatch(context.Background(), app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)
	assert.Equal(t, e.bob.KeyID, res.Required.KeyID)
	assert.NotEmpty(t, res.Token)

	require.NoError(t, e.store.AllowKeys(context.Background(), app.PackageName, e.bob.KeyID))
	req = request(types.ActionSignAndEncrypt, 11, types.Params{
		SignKeyID: types.KeyIDPtr(e.bob.KeyID),
		UserIDs:   []string{"nobody@example.org"},
	})
	req.Input, req.Output = input("hello"), &sink{}
	res = e.d.Dispatch(context.Background(), app, req)
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputKeySelection, res.Required.Kind)
}

func TestDispatch_GetSignKeyIDAndKeyIDs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.d.Dispatch(ctx, app, request(types.ActionGetSignKeyID, 11, types.Params{SignKeyID: types.KeyIDPtr(e.alice.KeyID)}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, e.alice.KeyID, res.SignKeyID)

	res = e.d.Dispatch(ctx, app, request(types.ActionGetSignKeyID, 11, types.Params{SignKeyID: types.KeyIDPtr(e.bob.KeyID)}))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputPermissionGrant, res.Required.Kind)

	res = e.d.Dispatch(ctx, app, request(types.ActionGetKeyIDs, 11, types.Params{UserIDs: []string{"carol@example.org"}}))
	require.True(t, res.IsSuccess())
	assert.Equal(t, []types.KeyID{e.carol.KeyID}, res.KeyIDs)

	res = e.d.Dispatch(ctx, app, request(types.ActionGetKeyIDs, 11, types.Params{UserIDs: []string{"nobody@example.org"}}))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputKeySelection, res.Required.Kind)
	assert.Equal(t, []string{"nobody@example.org"}, res.Required.UnresolvedAddresses)

	res = e.d.Dispatch(ctx, app, request(types.ActionGetKeyIDs, 11, types.Params{}))
	require.True(t, res.IsPending())
}

func TestDispatch_GetKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res := e.d.Dispatch(ctx, app, request(types.ActionGetKey, 11, types.Params{KeyID: 0xDEADBEEF}))
	require.True(t, res.IsPending())
	assert.Equal(t, types.InputKeyImport, res.Required.Kind)
	require.NotNil(t, res.Hint)
	assert.Equal(t, types.HintImportFromKeyserver, res.Hint.Kind)
	assert.NotEmpty(t, res.Token)

	out := &sink{}
	req := request(types.ActionGetKey, 11, types.Params{KeyID: e.bob.KeyID})
	req.Output = out
	res = e.d.Dispatch(ctx, app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	require.NotNil(t, res.Hint)
	assert.Equal(t, types.HintShowKey, res.Hint.Kind)
	assert.Equal(t, e.bob.KeyID, res.Hint.KeyID)
	assert.NotZero(t, out.Len())
	assert.False(t, strings.HasPrefix(out.String(), "-----BEGIN"), "binary export by default")
	assert.True(t, out.closed)
}

func TestDispatch_DeprecatedSignAction(t *testing.T) {
	e := newEnv(t)
	out := &sink{}
	req := request(types.ActionSign, 11, types.Params{SignKeyID: types.KeyIDPtr(e.alice.KeyID)})
	req.Input, req.Output = input("hi"), out
	res := e.d.Dispatch(context.Background(), app, req)
	require.True(t, res.IsSuccess(), "%+v", res.Err)
	assert.Contains(t, out.String(), "-----BEGIN PGP SIGNED MESSAGE-----")
}

func TestDispatch_Audit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.d.Dispatch(ctx, stranger, request(types.ActionEncrypt, 11, types.Params{}))
	e.d.Dispatch(ctx, app, request(types.ActionGetSignKeyID, 11, types.Params{SignKeyID: types.KeyIDPtr(e.alice.KeyID)}))

	denied, err := e.events.Events(ctx, &audit.Query{Outcomes: []audit.Outcome{audit.OutcomeDenied}})
	require.NoError(t, err)
	require.Len(t, denied, 1)
	assert.Equal(t, stranger.PackageName, denied[0].Principal)

	ok, err := e.events.Events(ctx, &audit.Query{KeyID: e.alice.KeyID.String()})
	require.NoError(t, err)
	require.Len(t, ok, 1)
	assert.Equal(t, audit.OutcomeSuccess, ok[0].Outcome)
	assert.NotEmpty(t, ok[0].RequestID)
}

func TestBlocking(t *testing.T) {
	grant := types.Pending(types.RequiredInput{Kind: types.InputPermissionGrant})
	selection := types.Pending(types.RequiredInput{Kind: types.InputKeySelection})
	passphrase := types.Pending(types.RequiredInput{Kind: types.InputPassphrase})
	failure := types.Failure(types.ErrorNoRecipients, "no recipients")

	assert.Nil(t, blocking(nil, nil))
	assert.Same(t, selection, blocking(passphrase, selection))
	assert.Same(t, grant, blocking(selection, grant))
	assert.Same(t, failure, blocking(grant, failure))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
	_, err = New(&Config{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}
