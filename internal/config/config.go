package config

import (
	"time"

	"github.com/AetharaAI/lotus/internal/memory"
	"github.com/AetharaAI/lotus/internal/module"
)

// Config is the root configuration for the LOTUS runtime.
type Config struct {
	Core       CoreConfig              `mapstructure:"core" yaml:"core" validate:"required"`
	Logging    LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Tracing    TracingConfig           `mapstructure:"tracing" yaml:"tracing"`
	Bus        BusConfig               `mapstructure:"bus" yaml:"bus"`
	Supervisor module.SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Memory     memory.Config           `mapstructure:"memory" yaml:"memory"`
}

// CoreConfig contains core runtime settings.
type CoreConfig struct {
	// HomeDir is the runtime's home directory, ~/.lotus by default.
	HomeDir string `mapstructure:"home_dir" yaml:"home_dir"`

	// DataDir holds the tier databases, HomeDir/data by default.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// ModulesDir is scanned for module manifests at boot.
	ModulesDir string `mapstructure:"modules_dir" yaml:"modules_dir"`

	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=json text"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// BusConfig contains event bus configuration.
type BusConfig struct {
	// RequestTimeout is the default deadline for request/response
	// exchanges over the bus.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"omitempty,min=100ms"`
}
