// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cachefile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// maxDescriptionLength bounds the description embedded in temporary
// file names.
const maxDescriptionLength = 48

// Cachefile is an exclusively owned temporary file. It is not safe
// for concurrent use, except that Close may be called more than once.
type Cachefile struct {
	file        *os.File
	path        string
	needsDelete bool
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
	deleted   chan struct{}
}

// Options configures Create.
type Options struct {
	// Executable sets the initial mode to 0755 instead of 0644.
	Executable bool
	// Named forces the named variant even where O_TMPFILE is
	// available.
	Named bool
	// Logger receives background deletion failures. Nil discards.
	Logger *slog.Logger
}

// Create opens a new Cachefile in directory. description appears in
// the temporary name (or the handle name for unlinked files) for
// diagnostics.
func Create(directory, description string, options Options) (*Cachefile, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mode := os.FileMode(0644)
	if options.Executable {
		mode = 0755
	}
	description = sanitize(description)

	if !options.Named {
		file, err := openUnlinked(directory, description, mode)
		switch {
		case err == nil:
			return &Cachefile{file: file, logger: logger, deleted: closedChannel()}, nil
		case !errors.Is(err, errUnlinkedUnsupported):
			return nil, err
		}
	}

	file, err := os.CreateTemp(directory, description+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary file in %s: %w", directory, err)
	}
	if err := file.Chmod(mode); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("setting mode on %s: %w", file.Name(), err)
	}
	return &Cachefile{
		file:        file,
		path:        file.Name(),
		needsDelete: true,
		logger:      logger,
		deleted:     make(chan struct{}),
	}, nil
}

// errUnlinkedUnsupported reports that the platform or filesystem
// cannot create unlinked files; Create falls back to a named file.
var errUnlinkedUnsupported = errors.New("unlinked temporary files not supported")

func sanitize(description string) string {
	if description == "" {
		return "cachefile"
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == os.PathSeparator || r == 0:
			return '_'
		case r < 0x20:
			return -1
		default:
			return r
		}
	}, description)
	if len(cleaned) > maxDescriptionLength {
		cleaned = cleaned[:maxDescriptionLength]
	}
	return cleaned
}

func closedChannel() chan struct{} {
	channel := make(chan struct{})
	close(channel)
	return channel
}

// File returns the underlying handle. It is valid until Close.
func (c *Cachefile) File() *os.File { return c.file }

// Write writes to the file.
func (c *Cachefile) Write(data []byte) (int, error) { return c.file.Write(data) }

// Unlinked reports whether the file has no name in the filesystem.
func (c *Cachefile) Unlinked() bool { return !c.needsDelete }

// Path returns the temporary name of a named Cachefile, or "" for an
// unlinked one.
func (c *Cachefile) Path() string { return c.path }

// Name returns a name suitable for diagnostics.
func (c *Cachefile) Name() string { return c.file.Name() }

// Sync flushes written data to stable storage.
func (c *Cachefile) Sync() error { return c.file.Sync() }

// Rewind seeks to the start of the file, for hashing after writing.
func (c *Cachefile) Rewind() error {
	_, err := c.file.Seek(0, 0)
	return err
}

// LinkTo creates a hard link to the file at destination. The error is
// an *os.LinkError whose underlying errno callers can test with
// errors.Is against fs.ErrExist and fs.ErrNotExist.
func (c *Cachefile) LinkTo(destination string) error {
	if c.needsDelete {
		return os.Link(c.path, destination)
	}
	return linkUnlinked(c.file, destination)
}

// Close releases the handle. A named file's temporary name is removed
// in the background; Deleted is closed once that has finished.
func (c *Cachefile) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.file.Close()
		if !c.needsDelete {
			return
		}
		go func() {
			defer close(c.deleted)
			if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				c.logger.Warn("removing temporary cache file failed",
					"path", c.path,
					"error", err,
				)
			}
		}()
	})
	return c.closeErr
}

// Deleted returns a channel closed once the file no longer has a
// temporary name. For unlinked files it is closed from the start.
func (c *Cachefile) Deleted() <-chan struct{} { return c.deleted }
