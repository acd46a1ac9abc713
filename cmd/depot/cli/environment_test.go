// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/depot/lib/config"
)

func TestEnvironment_LoadConfigDefaults(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	root := filepath.Join(t.TempDir(), "cache")

	environment := Environment{CacheRoot: root, Verbose: true}
	cfg, err := environment.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cache.Root != root {
		t.Errorf("cache root = %q, want %q", cfg.Cache.Root, root)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug for --verbose", cfg.Log.Level)
	}
}

func TestEnvironment_LoadConfigPrecedence(t *testing.T) {
	directory := t.TempDir()
	fromEnv := filepath.Join(directory, "env.yaml")
	fromFlag := filepath.Join(directory, "flag.yaml")
	for path, root := range map[string]string{fromEnv: "/env/cache", fromFlag: "/flag/cache"} {
		if err := os.WriteFile(path, []byte("cache:\n  root: "+root+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv(config.EnvironmentVariable, fromEnv)

	cfg, err := (&Environment{}).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cache.Root != "/env/cache" {
		t.Errorf("cache root = %q, want the $%s file", cfg.Cache.Root, config.EnvironmentVariable)
	}

	cfg, err = (&Environment{ConfigPath: fromFlag}).LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Cache.Root != "/flag/cache" {
		t.Errorf("cache root = %q, want the --config file", cfg.Cache.Root)
	}
}

func TestEnvironment_LoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depot.yaml")
	if err := os.WriteFile(path, []byte("cache:\n  compression: brotli\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&Environment{ConfigPath: path}).LoadConfig(); err == nil {
		t.Error("LoadConfig accepted an unknown compression")
	}
}

func TestEnvironment_Open(t *testing.T) {
	directory := t.TempDir()
	logFile := filepath.Join(directory, "logs", "depot.log")
	configPath := filepath.Join(directory, "depot.yaml")
	if err := os.WriteFile(configPath, []byte(`
cache:
  root: `+filepath.Join(directory, "cache")+`
log:
  level: debug
  format: json
  file: `+logFile+`
`), 0o644); err != nil {
		t.Fatal(err)
	}

	session, err := (&Environment{ConfigPath: configPath}).Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if session.Cache.Root() != filepath.Join(directory, "cache") {
		t.Errorf("cache root = %q", session.Cache.Root())
	}
	if session.Build.Cache() != session.Cache {
		t.Error("build context does not use the session cache")
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("log line %q is not JSON: %v", line, err)
	}
	if record["msg"] != "opened cache" {
		t.Errorf("first log record = %v, want the open message", record)
	}
}

func TestNewHandler(t *testing.T) {
	tests := []struct {
		format   string
		terminal bool
		json     bool
	}{
		{"auto", true, false},
		{"auto", false, true},
		{"text", false, false},
		{"json", true, true},
	}
	for _, test := range tests {
		var buffer bytes.Buffer
		slog.New(newHandler(&buffer, test.format, test.terminal, slog.LevelInfo)).Info("hello")
		isJSON := strings.HasPrefix(buffer.String(), "{")
		if isJSON != test.json {
			t.Errorf("format %s terminal=%v: output %q, want json=%v", test.format, test.terminal, buffer.String(), test.json)
		}
	}
}
