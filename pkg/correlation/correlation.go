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

// Package correlation carries a per-dispatch identifier through the context
// so that the log lines and audit events of one request (and of the resumed
// requests that finish it) can be tied together.
package correlation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// IDKey is the context key for the correlation id.
	IDKey contextKey = "correlation-id"

	// Header is the HTTP header a client may use to supply its own id.
	Header = "X-Correlation-ID"
)

// WithID returns a context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, IDKey, id)
}

// ID returns the correlation id in ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(IDKey).(string); ok {
		return id
	}
	return ""
}

// NewID returns a random UUID v4.
func NewID() string {
	return uuid.New().String()
}

// Ensure returns ctx unchanged when it already carries an id, or a derived
// context with a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// Middleware reads the correlation header (or generates an id), stores it
// in the request context and echoes it on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = NewID()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
	})
}
