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

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/internal/rest"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/health"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/metrics"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/ratelimit"
)

// collectorInterval is how often process and key ring gauges refresh.
const collectorInterval = 15 * time.Second

// Server owns the component stack and the HTTP listener.
type Server struct {
	config   *config.Config
	mu       sync.RWMutex
	logger   logger.Logger
	levelVar *slog.LevelVar

	stack         *Stack
	restServer    *rest.Server
	limiter       *ratelimit.Limiter
	healthChecker *health.Checker

	metricsCollector *metrics.ResourceCollector

	listener net.Listener

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New builds a server from a validated configuration. Nothing listens
// until Start.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(logger.SlogLevel(cfg.Logging.ParsedLevel()))
	log := logger.NewSlogAdapter(&logger.SlogConfig{
		LevelVar: levelVar,
		Format:   strings.ToLower(cfg.Logging.Format),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     log,
		levelVar:   levelVar,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}

	stack, err := NewStack(cfg, log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	s.stack = stack

	if err := s.initialize(); err != nil {
		cancel()
		_ = stack.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) initialize() error {
	cfg := s.config

	if cfg.Health.Enabled {
		s.initializeHealth()
	}

	authenticator, err := cfg.Auth.CreateAuthenticator()
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	s.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metrics.Enable()
		metricsPath = cfg.Metrics.Path
	} else {
		metrics.Disable()
	}

	restCfg := &rest.Config{
		Addr:          cfg.Server.Addr(),
		Dispatcher:    s.stack.Dispatcher,
		Apps:          s.stack.Apps,
		Keys:          s.stack.Keys,
		Engine:        s.stack.Engine,
		Audit:         s.stack.Audit,
		TLSConfig:     tlsConfig,
		Authenticator: authenticator,
		RateLimiter:   s.limiter,
		Logger:        s.logger,
		KeyBits:       cfg.Engine.KeyBits,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		MetricsPath:   metricsPath,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
	}
	if s.healthChecker != nil {
		restCfg.Health = s.healthChecker
	}
	s.restServer, err = rest.NewServer(restCfg)
	if err != nil {
		s.limiter.Stop()
		return fmt.Errorf("failed to create REST server: %w", err)
	}
	return nil
}

func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck("storage", health.StorageCheck(s.config.Storage.Backend, s.stack.Storage))
	s.healthChecker.RegisterCheck("keyring", health.KeyRingCheck(s.stack.Keys))
	s.healthChecker.RegisterCheck("continuations", health.ContinuationCheck(s.stack.Cache))
	s.logger.Info("Health checker initialized", logger.Int("checks", len(s.healthChecker.Checks())))
}

// Start binds the listener and serves in the background. A bind failure
// is returned before anything is served.
func (s *Server) Start() error {
	s.logger.Info("Starting keychain-pgp server",
		logger.String("version", BuildVersion()),
		logger.String("storage", s.config.Storage.Backend))

	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.config.Metrics.Enabled {
		keys := s.stack.Keys
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, collectorInterval, func() (int, error) {
			infos, err := keys.List()
			return len(infos), err
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.restServer.Serve(ln); err != nil {
			s.logger.Error("REST server error", logger.Error(err))
		}
	}()

	if s.healthChecker != nil {
		s.healthChecker.MarkStarted()
	}
	s.logger.Info("Server started", logger.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the listener, waits for in-flight requests up to the
// configured timeout, wipes pending continuations and closes storage.
// Calling it more than once is safe.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.shutdown()
		close(s.shutdownCh)
	})
	return err
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server...")

	if s.healthChecker != nil {
		s.healthChecker.MarkNotStarted()
	}
	if s.metricsCollector != nil {
		s.metricsCollector.Stop()
	}
	s.cancel()

	s.mu.RLock()
	timeout := s.config.Server.ShutdownTimeout
	s.mu.RUnlock()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.restServer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down REST server", logger.Error(err))
	}
	s.limiter.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	if err := s.stack.Close(); err != nil {
		s.logger.Error("Error closing storage", logger.Error(err))
		return fmt.Errorf("failed to close storage: %w", err)
	}
	s.logger.Info("Server shutdown complete")
	return nil
}

// WaitForShutdown blocks until the server is shut down.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Stack returns the wired components.
func (s *Server) Stack() *Stack {
	return s.stack
}

// RESTServer returns the REST server instance.
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}

// BuildVersion reports the module or VCS version the binary was built from.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.version" && setting.Value != "" && setting.Value != "devel" {
			return setting.Value
		}
		if setting.Key == "vcs.revision" {
			if len(setting.Value) >= 7 {
				return setting.Value[:7]
			}
			return setting.Value
		}
	}

	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
