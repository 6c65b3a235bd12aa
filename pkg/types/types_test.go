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

package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyID(t *testing.T) {
	tests := []struct {
		in      string
		want    KeyID
		wantErr bool
	}{
		{"DEADBEEF", 0xDEADBEEF, false},
		{"0x00000000deadbeef", 0xDEADBEEF, false},
		{" FFFFFFFFFFFFFFFF ", KeyID(^uint64(0)), false},
		{"", NoKey, true},
		{"0x", NoKey, true},
		{"nothex", NoKey, true},
		{"11112222333344445", NoKey, true},
	}
	for _, tt := range tests {
		got, err := ParseKeyID(tt.in)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrInvalidKeyID), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestKeyID_Format(t *testing.T) {
	id := KeyID(0x1234ABCD)
	assert.Equal(t, "000000001234ABCD", id.String())
	assert.Equal(t, "1234ABCD", id.Short())
}

func TestKeyID_JSON(t *testing.T) {
	data, err := json.Marshal(KeyID(42))
	require.NoError(t, err)
	assert.Equal(t, `"000000000000002A"`, string(data))

	var fromHex, fromNumber KeyID
	require.NoError(t, json.Unmarshal([]byte(`"2a"`), &fromHex))
	require.NoError(t, json.Unmarshal([]byte(`42`), &fromNumber))
	assert.Equal(t, KeyID(42), fromHex)
	assert.Equal(t, KeyID(42), fromNumber)

	var bad KeyID
	assert.Error(t, json.Unmarshal([]byte(`"zz"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestKeySet(t *testing.T) {
	s := NewKeySet(3, 1)
	s.Add(2, 3)
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(4))
	assert.Equal(t, []KeyID{1, 2, 3}, s.Sorted())
}

func TestUniqueKeyIDs(t *testing.T) {
	assert.Equal(t, []KeyID{5, 1, 9}, UniqueKeyIDs([]KeyID{5, 1, 5, NoKey, 9, 1}))
	assert.Empty(t, UniqueKeyIDs(nil))
}

func TestParams_Defaults(t *testing.T) {
	var p Params
	assert.True(t, p.Armor(true))
	assert.False(t, p.Armor(false))
	assert.True(t, p.Compression())
	assert.False(t, p.HasSignKeyID())
	assert.False(t, p.HasPassphrase())

	p.ASCIIArmor = Bool(false)
	p.EnableCompression = Bool(false)
	p.SignKeyID = KeyIDPtr(NoKey)
	p.Passphrase = []byte{}
	assert.False(t, p.Armor(true))
	assert.False(t, p.Compression())
	assert.False(t, p.HasSignKeyID())
	assert.True(t, p.HasPassphrase())

	p.SignKeyID = KeyIDPtr(7)
	assert.True(t, p.HasSignKeyID())
}

func TestCaller(t *testing.T) {
	c := Caller{PackageName: "org.example.mail", CertFingerprint: "AB01"}
	assert.Equal(t, "org.example.mail:ab01", c.ID())
	assert.NoError(t, c.Validate())
	assert.True(t, errors.Is(Caller{}.Validate(), ErrInvalidCaller))
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, ActionEncrypt, ParseAction(" ENCRYPT "))
	assert.Equal(t, Action("bogus"), ParseAction("bogus"))
}

func TestResultConstructors(t *testing.T) {
	ok := Success()
	assert.True(t, ok.IsSuccess())
	assert.False(t, ok.IsPending())

	p := Pending(RequiredInput{Kind: InputPassphrase, KeyID: 9})
	assert.True(t, p.IsPending())
	assert.Equal(t, KeyID(9), p.Required.KeyID)

	f := Failuref(ErrorNoRecipients, "no recipients for %d addresses", 2)
	assert.True(t, f.IsError())
	assert.Equal(t, "no recipients for 2 addresses", f.Err.Message)
	assert.Equal(t, "no_recipients: no recipients for 2 addresses", f.Err.Error())

	literal := Failure(ErrorGeneric, "100% failed")
	assert.Equal(t, "100% failed", literal.Err.Message)

	var nilResult *Result
	assert.False(t, nilResult.IsSuccess())
	assert.Nil(t, nilResult.Clone())
}

func TestResultClone(t *testing.T) {
	r := Success()
	r.Signature = &SignatureResult{Status: SignatureValidConfirmed, KeyID: 1}
	r.Metadata = &Metadata{Filename: "a"}
	r.Hint = &Hint{Kind: HintShowKey, KeyID: 1}

	c := r.Clone()
	c.Signature.Status = SignatureInvalid
	c.Metadata.Filename = "b"
	c.Hint.KeyID = 2

	assert.Equal(t, SignatureValidConfirmed, r.Signature.Status)
	assert.Equal(t, "a", r.Metadata.Filename)
	assert.Equal(t, KeyID(1), r.Hint.KeyID)
}

func TestInputKindPriority(t *testing.T) {
	assert.Less(t, InputPermissionGrant.Priority(), InputKeySelection.Priority())
	assert.Less(t, InputKeySelection.Priority(), InputPassphrase.Priority())
	assert.Equal(t, InputPassphrase.Priority(), InputBackupCode.Priority())
}

func TestResultJSON(t *testing.T) {
	r := Pending(RequiredInput{Kind: InputKeySelection, Candidates: []KeyID{1, 2}})
	r.Token = "tok"
	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "user_interaction_required", m["result_code"])
	assert.Equal(t, "tok", m["continuation_token"])
	req := m["required_input"].(map[string]any)
	assert.Equal(t, "key_selection", req["kind"])
	assert.Equal(t, []any{"0000000000000001", "0000000000000002"}, req["candidates"])
}

func TestDecryptionStatusText(t *testing.T) {
	for _, s := range []DecryptionStatus{NotEncrypted, Encrypted, EncryptedInsecure} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back DecryptionStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s DecryptionStatus
	assert.Error(t, s.UnmarshalText([]byte("maybe")))
}

func TestSignatureStatusKeyKnown(t *testing.T) {
	assert.False(t, SignatureNone.KeyKnown())
	assert.False(t, SignatureKeyMissing.KeyKnown())
	assert.True(t, SignatureKeyRevoked.KeyKnown())
	assert.True(t, SignatureValidUnconfirmed.KeyKnown())
}
