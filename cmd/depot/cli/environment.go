// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/config"
	"github.com/bureau-foundation/depot/lib/hotcache"
	"github.com/bureau-foundation/depot/lib/registry"
)

// Environment holds the flags every cache-using command shares and
// opens the configured cache. It implements [FlagBinder], so commands
// embed it in their params struct:
//
//	type lsParams struct {
//	    cli.Environment
//	    cli.JSONOutput
//	}
type Environment struct {
	ConfigPath string
	CacheRoot  string
	Verbose    bool
}

// AddFlags registers --config, --cache and --verbose.
func (e *Environment) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&e.ConfigPath, "config", "", "path to depot.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&e.CacheRoot, "cache", "", "cache root directory (overrides cache.root)")
	flagSet.BoolVarP(&e.Verbose, "verbose", "v", false, "log at debug level")
}

// LoadConfig resolves the configuration: --config if given, then
// $DEPOT_CONFIG, then the defaults. Flag overrides are applied and the
// result is validated.
func (e *Environment) LoadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case e.ConfigPath != "":
		cfg, err = config.LoadFile(e.ConfigPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	if e.CacheRoot != "" {
		cfg.Cache.Root = e.CacheRoot
	}
	if e.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Session is an opened cache with its configuration and logger.
type Session struct {
	Config *config.Config
	Logger *slog.Logger
	Cache  *hotcache.Cache
	Build  *buildcontext.Context

	closeLog func() error
}

// Open loads the configuration and opens the cache it names, creating
// the cache directories if needed. The caller must Close the session.
func (e *Environment) Open() (*Session, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	logger, closeLog, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := hotcache.Open(cfg.Cache.Root, hotcache.Options{
		Logger:         logger,
		NamedTempfiles: cfg.Cache.NamedTempfiles,
	})
	if err != nil {
		closeLog()
		return nil, err
	}

	// Validate has already parsed both.
	compression, _ := cfg.CompressionTag()
	timeout, _ := cfg.DownloadTimeout()

	build := buildcontext.New(cache, registry.New(), buildcontext.Options{
		Compression: compression,
		Parallelism: cfg.Cache.Parallelism,
		Logger:      logger,
		HTTPClient:  &http.Client{Timeout: timeout},
	})

	logger.Debug("opened cache",
		"root", cfg.Cache.Root,
		"environment", cfg.Environment,
	)
	return &Session{
		Config:   cfg,
		Logger:   logger,
		Cache:    cache,
		Build:    build,
		closeLog: closeLog,
	}, nil
}

// Close releases the session's log file.
func (s *Session) Close() error {
	if s.closeLog == nil {
		return nil
	}
	return s.closeLog()
}
