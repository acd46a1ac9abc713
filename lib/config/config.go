// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/depot/lib/compress"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "DEPOT_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for CI builders and shared caches.
	Production Environment = "production"
)

// Config is the master configuration for depot.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Cache configures the hot disk cache.
	Cache CacheConfig `yaml:"cache"`

	// Download configures download actions.
	Download DownloadConfig `yaml:"download"`

	// Log configures diagnostic logging.
	Log LogConfig `yaml:"log"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Cache    *CacheConfig    `yaml:"cache,omitempty"`
	Download *DownloadConfig `yaml:"download,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// CacheConfig configures the hot disk cache.
type CacheConfig struct {
	// Root is the cache directory.
	// Default: ~/.cache/depot
	Root string `yaml:"root"`

	// Compression is applied to persisted depmap nodes: none, lz4 or zstd.
	// Default: zstd
	Compression string `yaml:"compression"`

	// Parallelism bounds concurrent depmap node reads.
	// Default: 8
	Parallelism int `yaml:"parallelism"`

	// NamedTempfiles disables O_TMPFILE staging. Useful on
	// filesystems that reject unlinked files with surprising errors.
	// Default: false
	NamedTempfiles bool `yaml:"named_tempfiles"`
}

// DownloadConfig configures download actions.
type DownloadConfig struct {
	// Timeout bounds a single download attempt.
	// Default: 10m
	Timeout string `yaml:"timeout"`
}

// LogConfig configures diagnostic logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal, json otherwise).
	// Default: auto
	Format string `yaml:"format"`

	// File, if set, receives logs instead of stderr. It is rotated
	// when it reaches MaxSizeMB.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation threshold for File.
	// Default: 64
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is how many rotated files are kept.
	// Default: 3
	MaxBackups int `yaml:"max_backups"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file,
// and on their own when no config file is given.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Cache: CacheConfig{
			Root:        filepath.Join(homeDir, ".cache", "depot"),
			Compression: "zstd",
			Parallelism: 8,
		},
		Download: DownloadConfig{
			Timeout: "10m",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  64,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from the DEPOT_CONFIG environment variable.
//
// There are no fallbacks: if DEPOT_CONFIG is not set, this fails.
// Callers that can run on defaults check the variable themselves.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your depot.yaml config file, or use --config flag", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: machine-readable logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Log: &LogConfig{Format: "json"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Cache != nil {
		if overrides.Cache.Root != "" {
			c.Cache.Root = overrides.Cache.Root
		}
		if overrides.Cache.Compression != "" {
			c.Cache.Compression = overrides.Cache.Compression
		}
		if overrides.Cache.Parallelism != 0 {
			c.Cache.Parallelism = overrides.Cache.Parallelism
		}
		// NamedTempfiles is a bool, so we always apply it from overrides.
		c.Cache.NamedTempfiles = overrides.Cache.NamedTempfiles
	}

	if overrides.Download != nil {
		if overrides.Download.Timeout != "" {
			c.Download.Timeout = overrides.Download.Timeout
		}
	}

	if overrides.Log != nil {
		if overrides.Log.Level != "" {
			c.Log.Level = overrides.Log.Level
		}
		if overrides.Log.Format != "" {
			c.Log.Format = overrides.Log.Format
		}
		if overrides.Log.File != "" {
			c.Log.File = overrides.Log.File
		}
		if overrides.Log.MaxSizeMB != 0 {
			c.Log.MaxSizeMB = overrides.Log.MaxSizeMB
		}
		if overrides.Log.MaxBackups != 0 {
			c.Log.MaxBackups = overrides.Log.MaxBackups
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"DEPOT_CACHE": c.Cache.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Cache.Root = expandVars(c.Cache.Root, vars)
	vars["DEPOT_CACHE"] = c.Cache.Root // Update for dependent paths.

	c.Log.File = expandVars(c.Log.File, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Cache.Root == "" {
		errs = append(errs, errors.New("cache.root is required"))
	}
	if _, err := c.CompressionTag(); err != nil {
		errs = append(errs, fmt.Errorf("cache.compression: %w", err))
	}
	if c.Cache.Parallelism < 1 {
		errs = append(errs, errors.New("cache.parallelism must be at least 1"))
	}

	if _, err := c.DownloadTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("download.timeout: %w", err))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	formats := []string{"auto", "text", "json"}
	if !contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		errs = append(errs, errors.New("log.max_size_mb must be at least 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// CompressionTag parses Cache.Compression.
func (c *Config) CompressionTag() (compress.Tag, error) {
	return compress.ParseTag(c.Cache.Compression)
}

// DownloadTimeout parses Download.Timeout. Zero means no timeout.
func (c *Config) DownloadTimeout() (time.Duration, error) {
	if c.Download.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.Download.Timeout)
	if err != nil {
		return 0, err
	}
	if timeout < 0 {
		return 0, fmt.Errorf("negative duration %s", c.Download.Timeout)
	}
	return timeout, nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Cache.Root}
	if c.Log.File != "" {
		paths = append(paths, filepath.Dir(c.Log.File))
	}

	for _, path := range paths {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
