package config

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Store holds the live rule set. Readers take a snapshot without locking;
// a reload swaps in a whole new Config and only when it validated.
type Store struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[Config]

	// Serializes writers so two concurrent reloads cannot interleave.
	reloadMu sync.Mutex
}

// NewStore creates a store for the rules file at path. Nothing is read
// until Load is called.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the rules file the store reads from.
func (s *Store) Path() string {
	return s.path
}

// Load performs the initial load. Unlike Reload there is no previous
// configuration to fall back on, so any error is returned to the caller.
func (s *Store) Load() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	s.logger.Info("config loaded", "path", cfg.Path, "rules", len(cfg.Commands))
	return nil
}

// Reload re-reads the rules file. The stored snapshot is replaced if and
// only if the new file is valid; otherwise the previous rules stay in effect
// and the error is returned.
func (s *Store) Reload() (*Config, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Warn("config reload failed, keeping previous rules", "path", s.path, "error", err)
		return nil, err
	}
	s.current.Store(cfg)
	s.logger.Info("config reloaded", "path", cfg.Path, "rules", len(cfg.Commands))
	return cfg, nil
}

// Snapshot returns the current rule set, or nil before the first
// successful Load. The returned value must not be modified.
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}
