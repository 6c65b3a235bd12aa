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
	"net/http"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs each request with its correlation id. The subject
// is read after the handler chain runs so authenticated requests carry it.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			log := logger.FromContext(r.Context(), s.logger)

			log.Debug("Request started",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path))

			next.ServeHTTP(wrapped, r)

			log.Info("Request completed",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", wrapped.statusCode),
				logger.String("duration", time.Since(start).String()))
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.FromContext(r.Context(), s.logger).Error("Panic recovered",
						logger.String("method", r.Method),
						logger.String("path", r.URL.Path),
						logger.Any("error", err))
					writeErrorWithMessage(w, ErrInternalError, "An unexpected error occurred", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimitMiddleware caps the request body at n bytes.
func BodyLimitMiddleware(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthenticationMiddleware authenticates HTTP requests.
func (s *Server) AuthenticationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := s.authenticator.AuthenticateHTTP(r)
			if err != nil {
				logger.FromContext(r.Context(), s.logger).Warn("Authentication failed",
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("remote_addr", r.RemoteAddr),
					logger.Error(err))
				_ = s.audit.Log(r.Context(), &audit.Event{
					Type:      audit.EventAuthFailure,
					Outcome:   audit.OutcomeDenied,
					Principal: "anonymous",
					Action:    r.Method + " " + r.URL.Path,
					Detail:    err.Error(),
					RequestID: correlation.ID(r.Context()),
				})
				writeErrorWithMessage(w, ErrUnauthorized, "Authentication failed", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			r = r.WithContext(ctx)

			logger.FromContext(ctx, s.logger).Debug("Request authenticated",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("subject", identity.Subject))

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects identities that lack role.
func (s *Server) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				writeError(w, ErrUnauthorized, http.StatusUnauthorized)
				return
			}
			if !identity.HasRole(role) {
				logger.FromContext(r.Context(), s.logger).Warn("Role check failed",
					logger.String("subject", identity.Subject),
					logger.String("role", role))
				writeErrorWithMessage(w, ErrForbidden, "role "+role+" required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
