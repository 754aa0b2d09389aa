// Package config handles configuration loading, watching and schema
// generation for the demo host.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete configuration for the tether demo
// host.
type Config struct {
	Logging  LoggingConfig           `mapstructure:"logging" yaml:"logging" toml:"logging" json:"logging"`
	Dispatch DispatchConfig          `mapstructure:"dispatch" yaml:"dispatch" toml:"dispatch" json:"dispatch"`
	Schemes  map[string]SchemeConfig `mapstructure:"schemes" yaml:"schemes" toml:"schemes" json:"schemes"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level" toml:"level" json:"level"`
	// Format is json or console.
	Format string `mapstructure:"format" yaml:"format" toml:"format" json:"format"`
}

// DispatchConfig tunes the main loop.
type DispatchConfig struct {
	// QueueSize is the run-queue capacity of the main loop.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" toml:"queue_size" json:"queue_size"`
}

// SchemeConfig configures one intercepted scheme.
type SchemeConfig struct {
	// Policy is async or sync (see scheme.LaunchPolicy).
	Policy string `mapstructure:"policy" yaml:"policy" toml:"policy" json:"policy"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Dispatch: DispatchConfig{
			QueueSize: 128,
		},
		Schemes: map[string]SchemeConfig{
			"app": {Policy: "async"},
		},
	}
}

// GetConfigDir returns the XDG config directory for tether.
func GetConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tether"), nil
}

// validateConfig checks value ranges after load.
func validateConfig(cfg *Config) error {
	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}

	if cfg.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be positive, got %d", cfg.Dispatch.QueueSize)
	}

	for name, sc := range cfg.Schemes {
		switch sc.Policy {
		case "async", "sync":
		default:
			return fmt.Errorf("invalid policy %q for scheme %q", sc.Policy, name)
		}
	}

	return nil
}
