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
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/audit"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/auth"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/correlation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/dispatcher"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/metrics"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/permission"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/ratelimit"
)

// Server represents the REST API server.
type Server struct {
	server        *http.Server
	addr          string
	tlsConfig     *tls.Config
	dispatcher    *dispatcher.Dispatcher
	apps          *permission.Store
	keys          *keyring.Keyring
	engine        engine.Engine
	audit         audit.Adapter
	health        HealthChecker
	authenticator auth.Authenticator
	limiter       *ratelimit.Limiter
	logger        logger.Logger
	keyBits       int
	maxBodyBytes  int64
	metricsPath   string
}

// Config holds the REST server configuration.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8443)
	Addr string

	Dispatcher *dispatcher.Dispatcher
	Apps       *permission.Store
	Keys       *keyring.Keyring
	Engine     engine.Engine

	// Audit receives administrative events and backs GET /api/v1/audit
	// (optional)
	Audit audit.Adapter

	// Health backs the /health probes (optional, probes report healthy)
	Health HealthChecker

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Authenticator is the authentication adapter (optional, defaults to NoOp)
	Authenticator auth.Authenticator

	// RateLimiter limits API requests per caller (optional)
	RateLimiter *ratelimit.Limiter

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	// KeyBits is the default modulus for generated keys
	KeyBits int

	// MaxBodyBytes caps request bodies; 0 disables the cap
	MaxBodyBytes int64

	// MetricsPath serves Prometheus metrics when set
	MetricsPath string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Dispatcher == nil || cfg.Apps == nil || cfg.Keys == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("dispatcher, app store, key ring and engine are required")
	}

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8443"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.KeyBits == 0 {
		cfg.KeyBits = keyring.DefaultRSABits
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		authenticator = auth.NewNoOpAuthenticator()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{Level: logger.LevelInfo})
	}
	auditor := cfg.Audit
	if auditor == nil {
		auditor = audit.Nop{}
	}

	s := &Server{
		addr:          cfg.Addr,
		tlsConfig:     cfg.TLSConfig,
		dispatcher:    cfg.Dispatcher,
		apps:          cfg.Apps,
		keys:          cfg.Keys,
		engine:        cfg.Engine,
		audit:         auditor,
		health:        cfg.Health,
		authenticator: authenticator,
		limiter:       cfg.RateLimiter,
		logger:        log,
		keyBits:       cfg.KeyBits,
		maxBodyBytes:  cfg.MaxBodyBytes,
		metricsPath:   cfg.MetricsPath,
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.setupRouter(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}
	return s, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)

	// Kubernetes-style health probes (no auth required)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BodyLimitMiddleware(s.maxBodyBytes))
		r.Use(s.AuthenticationMiddleware())
		if s.limiter != nil && s.limiter.IsEnabled() {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		r.Post("/pgp/{action}", s.DispatchHandler)
		r.Post("/continuations/{token}", s.SupplyInputHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.RequireRole(auth.RoleAdmin))

			r.Get("/apps", s.ListAppsHandler)
			r.Post("/apps", s.RegisterAppHandler)
			r.Get("/apps/{package}", s.GetAppHandler)
			r.Delete("/apps/{package}", s.DeleteAppHandler)
			r.Post("/apps/{package}/keys", s.AllowKeysHandler)
			r.Delete("/apps/{package}/keys/{id}", s.RevokeKeyHandler)
			r.Put("/apps/{package}/accounts/{name}", s.SetAccountHandler)
			r.Delete("/apps/{package}/accounts/{name}", s.DeleteAccountHandler)

			r.Get("/keys", s.ListKeysHandler)
			r.Post("/keys", s.GenerateKeyHandler)
			r.Post("/keys/import", s.ImportKeyHandler)
			r.Get("/keys/{id}", s.GetKeyHandler)
			r.Get("/keys/{id}/export", s.ExportKeyHandler)
			r.Delete("/keys/{id}", s.DeleteKeyHandler)
			r.Post("/keys/{id}/verify", s.VerifyKeyHandler)
			r.Post("/keys/{id}/revoke", s.RevokeKeyLocallyHandler)

			r.Get("/audit", s.AuditEventsHandler)
		})
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln, wrapping it in TLS when configured.
func (s *Server) Serve(ln net.Listener) error {
	scheme := "HTTP"
	if s.tlsConfig != nil {
		scheme = "HTTPS"
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.logger.Info("Starting "+scheme+" server",
		logger.String("addr", ln.Addr().String()),
		logger.String("auth", s.authenticator.Name()))

	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start %s server: %w", scheme, err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}
