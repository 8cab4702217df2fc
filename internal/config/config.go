// Package config loads pane-expect configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Environment variables (PANE_EXPECT_*, OTEL_EXPORTER_OTLP_*, OTEL_METRIC_EXPORT_INTERVAL)
//  2. Config file
//  3. Built-in defaults
//
// Config file search order:
//  1. .pane-expect.yaml in current directory
//  2. ~/.config/pane-expect/config.yaml
//
// Command-line flags are applied on top by the cmd package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pane-expect configuration.
type Config struct {
	// Session settings
	Target    string `yaml:"target"`     // Default transport target, e.g. "exec:/bin/sh -i"
	Timeout   string `yaml:"timeout"`    // Go duration string; "0", "off" or "disable" for no timeout
	ChunkSize int    `yaml:"chunk_size"` // Bytes requested per read

	// Output
	Theme string `yaml:"theme"` // "dark" (default) or "light"

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"`  // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"
	OTELInterval string `yaml:"otel_interval"` // Metric push interval; empty uses the exporter default

	// Parsed durations (not from YAML, set after loading)
	TimeoutDuration      time.Duration `yaml:"-"`
	OTELIntervalDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Timeout:   "30s",
		ChunkSize: 128,
		Theme:     "dark",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	cfg := Defaults()

	if path, data, err := findConfigFile(); err == nil {
		if err := loadFile(cfg, path, data); err != nil {
			return nil, err
		}
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is like Load but reads the config file at path instead of
// searching for one.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := loadFile(cfg, path, data); err != nil {
		return nil, err
	}

	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, data []byte) error {
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	mergeFile(cfg, &fileCfg)
	return nil
}

// resolve parses derived fields after all sources are merged.
func (cfg *Config) resolve() error {
	var err error
	cfg.TimeoutDuration, err = ParseDurationOrDisable(cfg.Timeout, 30*time.Second)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	if cfg.OTELInterval != "" {
		d, err := time.ParseDuration(cfg.OTELInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid otel interval %q: must be a positive duration", cfg.OTELInterval)
		}
		cfg.OTELIntervalDuration = d
	}
	if cfg.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size %d: must be positive", cfg.ChunkSize)
	}
	return nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".pane-expect.yaml"); err == nil {
		return ".pane-expect.yaml", data, nil
	}

	// 2. ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "pane-expect", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// mergeFile applies non-zero file values onto cfg.
func mergeFile(cfg *Config, file *Config) {
	if file.Target != "" {
		cfg.Target = file.Target
	}
	if file.Timeout != "" {
		cfg.Timeout = file.Timeout
	}
	if file.ChunkSize > 0 {
		cfg.ChunkSize = file.ChunkSize
	}
	if file.Theme != "" {
		cfg.Theme = file.Theme
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
	if file.OTELInterval != "" {
		cfg.OTELInterval = file.OTELInterval
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	if v := os.Getenv("PANE_EXPECT_TARGET"); v != "" {
		cfg.Target = v
	}
	if v := os.Getenv("PANE_EXPECT_TIMEOUT"); v != "" {
		cfg.Timeout = v
	}
	if v := os.Getenv("PANE_EXPECT_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PANE_EXPECT_CHUNK_SIZE %q: %w", v, err)
		}
		cfg.ChunkSize = n
	}
	if v := os.Getenv("PANE_EXPECT_THEME"); v != "" {
		cfg.Theme = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
	// Milliseconds, as the OTel SDK environment spec defines it.
	if v := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL %q: %w", v, err)
		}
		cfg.OTELInterval = (time.Duration(ms) * time.Millisecond).String()
	}
	return nil
}

// ParseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func ParseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}
