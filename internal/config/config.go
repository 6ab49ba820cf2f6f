// Package config holds the tasker server configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/tasker/internal/logging"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// ServerConfig holds configuration for the tasker server.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`       // Listen address (default ":8080")
	LogLevel  string        `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string        `yaml:"log_format"` // text, json
	Store     string        `yaml:"store"`      // memory, sqlite or badger
	DBPath    string        `yaml:"db_path"`    // SQLite file or Badger directory (default under ~/.tasker)
	Interval  time.Duration `yaml:"interval"`   // Scheduler tick period, e.g. "5s"

	// Values is the scheduler environment handed to every handler.
	Values map[string]any `yaml:"values"`
	// Handlers holds per-handler environment maps keyed by task type.
	// When set, only the handlers named here are registered; nil registers
	// every built-in handler with an empty environment.
	Handlers map[string]map[string]any `yaml:"handlers"`
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Store:     StoreMemory,
		Interval:  5 * time.Second,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that has a fixed set of values.
func (c ServerConfig) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return err
	}
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		return fmt.Errorf("unknown store %q (want %s, %s or %s)", c.Store, StoreMemory, StoreSQLite, StoreBadger)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	return nil
}

// ResolveDBPath returns DBPath, or the store's default under ~/.tasker when
// it is empty: tasker.db for SQLite, the badger directory for Badger. The
// parent directory is created if needed. ":memory:" passes through.
func (c ServerConfig) ResolveDBPath() (string, error) {
	if c.DBPath == ":memory:" {
		return c.DBPath, nil
	}
	path := c.DBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		name := "tasker.db"
		if c.Store == StoreBadger {
			name = "badger"
		}
		path = filepath.Join(home, ".tasker", name)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create db dir: %w", err)
	}
	return path, nil
}
