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
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-keychain-pgp/internal/config"
	"github.com/jeremyhahn/go-keychain-pgp/pkg/adapters/logger"
)

// Reload applies the parts of cfg that can change without a restart.
// Currently only the log level is reloaded; a changed log format, storage
// or listener takes effect on the next start.
func (s *Server) Reload(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Reloading server configuration...")

	old := s.config.Logging
	if cfg.Logging.Level != old.Level {
		s.levelVar.Set(logger.SlogLevel(cfg.Logging.ParsedLevel()))
		s.logger.Info("Log level updated",
			logger.String("old_level", old.Level),
			logger.String("new_level", cfg.Logging.Level))
	}
	if !strings.EqualFold(cfg.Logging.Format, old.Format) {
		s.logger.Warn("Log format changes require a restart",
			logger.String("format", cfg.Logging.Format))
	}

	next := *s.config
	next.Logging.Level = cfg.Logging.Level
	s.config = &next

	s.logger.Info("Server configuration reloaded")
	return nil
}
