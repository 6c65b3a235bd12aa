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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/internal/server"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/apiversion"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/client"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/types"
)

// EnvPrefix is the prefix of the environment variables bound to the global
// flags, e.g. KEYCHAIN_PGP_SERVER or KEYCHAIN_PGP_API_KEY.
const EnvPrefix = "KEYCHAIN_PGP"

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the server YAML used by serve and by local mode.
	ConfigFile string

	// Server is the URL of a running keychain-pgp server. Empty means local
	// mode: commands open the configured storage directly.
	Server string

	// DataDir overrides the storage path in local mode.
	DataDir string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// APIVersion is the protocol version sent with call.
	APIVersion int

	// CallerPackage and CallerFingerprint identify the application a call
	// is made on behalf of.
	CallerPackage     string
	CallerFingerprint string

	// TLSInsecure skips TLS certificate verification (not recommended)
	TLSInsecure bool

	// TLSCert and TLSKey are the client certificate for mTLS.
	TLSCert string
	TLSKey  string

	// TLSCACert is the path to the CA certificate file
	TLSCACert string

	// APIKey is the API key for authentication
	APIKey string

	// Token is a JWT bearer token for authentication
	Token string

	// Timeout bounds each remote request.
	Timeout time.Duration
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
		APIVersion:   apiversion.MaxSupported,
		Timeout:      60 * time.Second,
	}
}

// IsRemote reports whether commands go to a server.
func (c *Config) IsRemote() bool {
	return c.Server != ""
}

// Caller is the identity used for call and supply.
func (c *Config) Caller() types.Caller {
	return types.Caller{PackageName: c.CallerPackage, CertFingerprint: c.CallerFingerprint}
}

// newViper binds the environment the way the server binds its YAML keys:
// dots and dashes become underscores under EnvPrefix.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Resolve copies flag, environment and default values from v into c.
func (c *Config) Resolve(v *viper.Viper) {
	c.ConfigFile = v.GetString("config")
	c.Server = v.GetString("server")
	c.DataDir = v.GetString("data-dir")
	c.OutputFormat = v.GetString("output")
	c.Verbose = v.GetBool("verbose")
	c.APIVersion = v.GetInt("api-version")
	c.CallerPackage = v.GetString("caller-package")
	c.CallerFingerprint = v.GetString("caller-fingerprint")
	c.TLSInsecure = v.GetBool("tls-insecure")
	c.TLSCert = v.GetString("tls-cert")
	c.TLSKey = v.GetString("tls-key")
	c.TLSCACert = v.GetString("tls-ca")
	c.APIKey = v.GetString("api-key")
	c.Token = v.GetString("token")
	c.Timeout = v.GetDuration("timeout")
}

// ServerConfig loads the YAML named by ConfigFile, or the defaults, and
// applies DataDir.
func (c *Config) ServerConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.ConfigFile != "" {
		cfg, err = config.Load(c.ConfigFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if c.DataDir != "" {
		cfg.Storage.Path = c.DataDir
	}
	return cfg, nil
}

// CreateBackend returns the remote client or a local stack.
func (c *Config) CreateBackend(ctx context.Context) (Backend, error) {
	if c.IsRemote() {
		return c.createClient(ctx)
	}

	cfg, err := c.ServerConfig()
	if err != nil {
		return nil, err
	}
	log := logger.Nop()
	if c.Verbose {
		log = cfg.Logging.Logger()
	}
	st, err := server.NewStack(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open local key store: %w", err)
	}
	return newLocalBackend(st, c.Caller(), cfg.Engine.KeyBits), nil
}

func (c *Config) createClient(ctx context.Context) (*client.Client, error) {
	cl, err := client.New(&client.Config{
		Address:               c.Server,
		TLSInsecureSkipVerify: c.TLSInsecure,
		TLSCertFile:           c.TLSCert,
		TLSKeyFile:            c.TLSKey,
		TLSCAFile:             c.TLSCACert,
		APIKey:                c.APIKey,
		JWTToken:              c.Token,
		CallerPackage:         c.CallerPackage,
		CallerFingerprint:     c.CallerFingerprint,
		Timeout:               c.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := cl.Connect(ctx); err != nil {
		return nil, err
	}
	return cl, nil
}
