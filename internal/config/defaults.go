package config

import (
	"path/filepath"
	"time"

	"github.com/AetharaAI/lotus/internal/memory"
	"github.com/AetharaAI/lotus/internal/module"
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	homeDir := DefaultHomeDir()

	cfg := &Config{
		Core: CoreConfig{
			HomeDir:    homeDir,
			DataDir:    filepath.Join(homeDir, "data"),
			ModulesDir: filepath.Join(homeDir, "modules"),
			Debug:      false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "lotus",
		},
		Bus: BusConfig{
			RequestTimeout: 10 * time.Second,
		},
		Supervisor: module.SupervisorConfig{},
		Memory:     memory.Config{DataDir: filepath.Join(homeDir, "data")},
	}
	cfg.Supervisor.ApplyDefaults()
	cfg.Memory.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults, deriving paths from
// the home directory the same way DefaultConfig does.
func (c *Config) ApplyDefaults() {
	if c.Core.HomeDir == "" {
		c.Core.HomeDir = DefaultHomeDir()
	}
	if c.Core.DataDir == "" {
		c.Core.DataDir = filepath.Join(c.Core.HomeDir, "data")
	}
	if c.Core.ModulesDir == "" {
		c.Core.ModulesDir = filepath.Join(c.Core.HomeDir, "modules")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "lotus"
	}
	if c.Bus.RequestTimeout <= 0 {
		c.Bus.RequestTimeout = 10 * time.Second
	}
	c.Supervisor.ApplyDefaults()
	if c.Memory.DataDir == "" {
		c.Memory.DataDir = c.Core.DataDir
	}
	c.Memory.ApplyDefaults()
}
