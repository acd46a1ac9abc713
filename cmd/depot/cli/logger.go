// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bureau-foundation/depot/lib/config"
)

// NewLogger creates the structured logger for a command from the log
// section of the configuration. Logs go to stderr unless a file is
// configured, in which case they go to a size-rotated file.
//
// Format "auto" uses slog.TextHandler when the destination is a
// terminal and slog.JSONHandler otherwise (CI, scripts, log files).
//
// The returned close function flushes and closes the log file, if any.
func NewLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, fmt.Errorf("log.level: %w", err)
	}

	var output io.Writer = os.Stderr
	closeOutput := func() error { return nil }
	terminal := term.IsTerminal(int(os.Stderr.Fd()))
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   true,
			LocalTime:  true,
		}
		output = rotator
		closeOutput = rotator.Close
		terminal = false
	}

	return slog.New(newHandler(output, cfg.Log.Format, terminal, level)), closeOutput, nil
}

func newHandler(output io.Writer, format string, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if format == "text" || (format == "auto" && terminal) {
		return slog.NewTextHandler(output, options)
	}
	return slog.NewJSONHandler(output, options)
}
