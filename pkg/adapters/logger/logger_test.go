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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
)

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogAdapter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Level: LevelInfo, Format: "json", Output: &buf})

	log.Debug("hidden")
	log.Info("dispatch", String("action", "encrypt"), Int("api_version", 11), Bool("armor", true))
	log.WithError(errors.New("boom")).Error("failed")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "dispatch", lines[0]["msg"])
	assert.Equal(t, "encrypt", lines[0]["action"])
	assert.Equal(t, float64(11), lines[0]["api_version"])
	assert.Equal(t, true, lines[0]["armor"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Equal(t, "ERROR", lines[1]["level"])
}

func TestSlogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Level: LevelDebug, Format: "json", Output: &buf})

	child := log.With(String("caller", "org.example.mail"))
	child.Debug("resolved", Stringer("key_id", level(LevelWarn)))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "org.example.mail", lines[0]["caller"])
	assert.Equal(t, "WARN", lines[0]["key_id"])
}

func TestSlogAdapter_Context(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(&SlogConfig{Format: "json", Output: &buf})
	ctx := correlation.WithID(context.Background(), "req-1")

	log.InfoContext(ctx, "one")
	FromContext(ctx, log).Warn("two")
	FromContext(context.Background(), log).Warn("three")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "req-1", lines[0]["correlation_id"])
	assert.Equal(t, "req-1", lines[1]["correlation_id"])
	assert.NotContains(t, lines[2], "correlation_id")
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Info("ignored", String("k", "v"))
	assert.NotNil(t, log.With(String("k", "v")))
	assert.NotNil(t, log.WithError(errors.New("x")))
}

// level adapts Level to fmt.Stringer for the Stringer field test.
type level Level

func (l level) String() string { return Level(l).String() }
