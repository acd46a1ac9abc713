// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hotcache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/bureau-foundation/depot/lib/cachefile"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
)

// LayoutVersion identifies the on-disk layout. Open refuses a root
// stamped with a different version.
const LayoutVersion = "depot-hotcache-1"

// Directory names within the cache root.
const (
	contentDirectory = "content"
	depmapDirectory  = "depmap"
	actionDirectory  = "action"
	tmpDirectory     = "tmp"
	layoutFile       = "LAYOUT"

	contentAlgorithm = "sha256"
	nodeAlgorithm    = "blake3"
	executableDir    = "exec"
)

// ErrLayoutMismatch is returned by Open for a root written by an
// incompatible version.
var ErrLayoutMismatch = errors.New("cache layout version mismatch")

// Cache is a hot disk cache rooted at one directory. It is safe for
// concurrent use by multiple goroutines and processes.
type Cache struct {
	root       string
	logger     *slog.Logger
	forceNamed bool
}

// Options configures Open.
type Options struct {
	// Logger receives diagnostics. Nil discards.
	Logger *slog.Logger
	// NamedTempfiles disables O_TMPFILE staging.
	NamedTempfiles bool
}

// Open opens or creates the cache at root.
func Open(root string, options Options) (*Cache, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, directory := range []string{
		root,
		filepath.Join(root, contentDirectory, contentAlgorithm),
		filepath.Join(root, depmapDirectory),
		filepath.Join(root, actionDirectory, nodeAlgorithm),
		filepath.Join(root, tmpDirectory),
	} {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", directory, err)
		}
	}
	if err := checkLayout(root); err != nil {
		return nil, err
	}
	return &Cache{root: root, logger: logger, forceNamed: options.NamedTempfiles}, nil
}

func checkLayout(root string) error {
	path := filepath.Join(root, layoutFile)
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if found := strings.TrimSpace(string(existing)); found != LayoutVersion {
			return fmt.Errorf("%w: %s has %q, want %q", ErrLayoutMismatch, path, found, LayoutVersion)
		}
		return nil
	case errors.Is(err, fs.ErrNotExist):
		if err := atomic.WriteFile(path, bytes.NewReader([]byte(LayoutVersion+"\n"))); err != nil {
			return fmt.Errorf("writing layout stamp: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("reading layout stamp: %w", err)
	}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// ContentPath returns the canonical path of a content file. Executable
// and non-executable copies of the same bytes live at distinct paths.
func (c *Cache) ContentPath(hash contenthash.Hash, executable bool) string {
	hex := hash.Hex()
	parts := []string{c.root, contentDirectory, contentAlgorithm}
	if executable {
		parts = append(parts, executableDir)
	}
	return filepath.Join(append(parts, hex[:2], hex)...)
}

// NodePath returns the canonical path of a depmap node record.
func (c *Cache) NodePath(kind depmap.Kind, hash depmap.Hash) string {
	hex := hash.String()
	return filepath.Join(c.root, depmapDirectory, kind.String(), nodeAlgorithm, hex[:2], hex)
}

// ActionPath returns the canonical path of an action result record.
func (c *Cache) ActionPath(key ActionKey) string {
	hex := key.String()
	return filepath.Join(c.root, actionDirectory, nodeAlgorithm, hex[:2], hex)
}

// Tempfile creates a staging file for content that will be moved into
// the cache.
func (c *Cache) Tempfile(description string, executable bool) (*cachefile.Cachefile, error) {
	return cachefile.Create(filepath.Join(c.root, tmpDirectory), description, cachefile.Options{
		Executable: executable,
		Named:      c.forceNamed,
		Logger:     c.logger,
	})
}
