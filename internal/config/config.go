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

// Package config loads the server configuration from YAML with
// KEYCHAIN_* environment overrides.
package config

import (
	"crypto"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/openpgp/packet"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/continuation"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/engine/pgp"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/keyring"
)

// Config is the complete server configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	TLS          TLSConfig          `yaml:"tls"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Health       HealthConfig       `yaml:"health"`
	Storage      StorageConfig      `yaml:"storage"`
	Continuation ContinuationConfig `yaml:"continuation"`
	Engine       EngineConfig       `yaml:"engine"`
	Audit        AuditConfig        `yaml:"audit"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes bounds a request envelope, base64 payload included.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig controls per-caller rate limiting.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the probe endpoints.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageBadger = "badger"
)

// StorageConfig selects the persistence backend for keys and apps.
type StorageConfig struct {
	// Backend is memory, file or badger.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ContinuationConfig sizes the pending request cache.
type ContinuationConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// EngineConfig tunes the OpenPGP engine and key ring.
type EngineConfig struct {
	Cipher      string             `yaml:"cipher"`
	Hash        string             `yaml:"hash"`
	Compression string             `yaml:"compression"`
	KeyBits     int                `yaml:"key_bits"`
	Seal        keyring.SealParams `yaml:"seal"`
}

// AuditConfig bounds the in-memory audit log.
type AuditConfig struct {
	MaxEvents int `yaml:"max_events"`
}

// Default returns a configuration that runs a local development server.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8443,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Auth:         AuthConfig{Type: "noop"},
		RateLimit:    RateLimitConfig{RequestsPerMin: 600},
		Metrics:      MetricsConfig{Enabled: true, Path: "/metrics"},
		Health:       HealthConfig{Enabled: true},
		Storage:      StorageConfig{Backend: StorageBadger, Path: "./data"},
		Continuation: ContinuationConfig{Size: continuation.DefaultSize, TTL: continuation.DefaultTTL},
		Engine: EngineConfig{
			Cipher:      "aes256",
			Hash:        "sha256",
			Compression: "zlib",
			KeyBits:     keyring.DefaultRSABits,
			Seal:        keyring.DefaultSealParams(),
		},
		Audit: AuditConfig{MaxEvents: 10000},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	// #nosec G304 - config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("KEYCHAIN_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if v := os.Getenv("KEYCHAIN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid KEYCHAIN_PORT value %q, keeping %d", v, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}
	if level := os.Getenv("KEYCHAIN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("KEYCHAIN_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if backend := os.Getenv("KEYCHAIN_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dir := os.Getenv("KEYCHAIN_DATA_DIR"); dir != "" {
		cfg.Storage.Path = dir
	}
	if v := os.Getenv("KEYCHAIN_CONTINUATION_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: invalid KEYCHAIN_CONTINUATION_TTL value %q, keeping %s", v, cfg.Continuation.TTL)
		} else {
			cfg.Continuation.TTL = ttl
		}
	}
	if v := os.Getenv("KEYCHAIN_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	if v := os.Getenv("KEYCHAIN_JWT_PUBLIC_KEY_FILE"); v != "" {
		if cfg.Auth.JWT == nil {
			cfg.Auth.JWT = &JWTConfig{}
		}
		cfg.Auth.JWT.PublicKeyFile = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	// Port 0 binds an ephemeral port.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}
	if err := c.Auth.validate(&c.TLS); err != nil {
		return err
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("ratelimit requests_per_min must be positive when enabled")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile, StorageBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend: %q (must be memory, file or badger)", c.Storage.Backend)
	}
	if c.Continuation.Size < 0 || c.Continuation.TTL < 0 {
		return fmt.Errorf("continuation size and ttl must not be negative")
	}
	if c.Engine.KeyBits != 0 && c.Engine.KeyBits < 2048 {
		return fmt.Errorf("engine key_bits must be at least 2048")
	}
	if _, err := c.Engine.Options(); err != nil {
		return err
	}
	return nil
}

var (
	ciphers = map[string]packet.CipherFunction{
		"aes128": packet.CipherAES128,
		"aes192": packet.CipherAES192,
		"aes256": packet.CipherAES256,
	}
	hashes = map[string]crypto.Hash{
		"sha256": crypto.SHA256,
		"sha384": crypto.SHA384,
		"sha512": crypto.SHA512,
	}
	compressions = map[string]packet.CompressionAlgo{
		"zip":  packet.CompressionZIP,
		"zlib": packet.CompressionZLIB,
	}
)

// Options converts the engine section into engine options. Empty names
// keep the engine defaults. Compression is switched off per request.
func (e EngineConfig) Options() (*pgp.Options, error) {
	opts := &pgp.Options{}
	if e.Cipher != "" {
		c, ok := ciphers[strings.ToLower(e.Cipher)]
		if !ok {
			return nil, fmt.Errorf("unknown engine cipher: %s", e.Cipher)
		}
		opts.Cipher = c
	}
	if e.Hash != "" {
		h, ok := hashes[strings.ToLower(e.Hash)]
		if !ok {
			return nil, fmt.Errorf("unknown engine hash: %s", e.Hash)
		}
		opts.Hash = h
	}
	if e.Compression != "" {
		c, ok := compressions[strings.ToLower(e.Compression)]
		if !ok {
			return nil, fmt.Errorf("unknown engine compression: %s", e.Compression)
		}
		opts.Compression = c
	}
	return opts, nil
}

// Logger builds the configured logger.
func (l LoggingConfig) Logger() logger.Logger {
	return logger.NewSlogAdapter(&logger.SlogConfig{Level: l.ParsedLevel(), Format: strings.ToLower(l.Format)})
}

// ParsedLevel returns the configured level, or info when it does not parse.
func (l LoggingConfig) ParsedLevel() logger.Level {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}
