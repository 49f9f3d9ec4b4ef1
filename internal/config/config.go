// Package config provides configuration management for the guest runtime.
// It handles loading, parsing, and validating YAML tunables files.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArenaConfig controls the byte-budget accountant that backs get_memory_stats.
type ArenaConfig struct {
	// BudgetBytes is the nominal guest memory budget used to derive the
	// reported WASM page count (budget / 65536). Defaults to 2 MiB, matching
	// the guest memory figure the core's source documents.
	BudgetBytes int64 `yaml:"budget_bytes,omitempty"`
}

// ExternalTableConfig controls the external table subsystem's defaults.
type ExternalTableConfig struct {
	// AliasEnabled controls whether the legacy `_memory` global alias to
	// `_home` is installed at init. Defaults to false.
	AliasEnabled bool `yaml:"alias_enabled"`
}

// LogConfig controls structured logging verbosity.
type LogConfig struct {
	Level string `yaml:"level,omitempty"` // debug, info, warn, error
}

// SlogLevel translates the configured level name into the slog.Level the
// guest's log/slog handler should be filtered at.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config represents the main tunables for a guest instance.
type Config struct {
	Arena         ArenaConfig         `yaml:"arena,omitempty"`
	ExternalTable ExternalTableConfig `yaml:"external_table,omitempty"`
	Log           LogConfig           `yaml:"log,omitempty"`
}

const defaultArenaBudget = 2 << 20 // 2 MiB

// UnmarshalYAML implements custom unmarshaling with automatic defaults.
// This ensures defaults are always applied and it's impossible to create a
// Config without them.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	// Use a type alias to avoid recursion
	type rawConfig Config
	raw := rawConfig{
		Arena: ArenaConfig{
			BudgetBytes: defaultArenaBudget,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Arena.BudgetBytes <= 0 {
		raw.Arena.BudgetBytes = defaultArenaBudget
	}
	if raw.Log.Level == "" {
		raw.Log.Level = "info"
	}

	*c = Config(raw)
	return nil
}

// Default returns a Config populated with the same defaults UnmarshalYAML
// applies, for callers that construct a guest without a config file.
func Default() *Config {
	return &Config{
		Arena: ArenaConfig{BudgetBytes: defaultArenaBudget},
		Log:   LogConfig{Level: "info"},
	}
}

// LoadConfig reads and parses a YAML tunables file, returning a validated
// Config instance. Returns an error if the file cannot be read, parsed, or
// contains invalid values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()

	// Handle empty or whitespace-only files gracefully
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks a Config for internally-consistent values.
func Validate(c *Config) error {
	if c.Arena.BudgetBytes <= 0 {
		return fmt.Errorf("arena.budget_bytes must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}
