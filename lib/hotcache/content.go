// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hotcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/depot/lib/cachefile"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
)

// The only two modes a cached content file may have.
const (
	ExecutableMode os.FileMode = 0o555
	ReadOnlyMode   os.FileMode = 0o444
)

// Inserted describes a file moved into the cache.
type Inserted struct {
	Hash       contenthash.Hash
	Executable bool
	// New is false when identical content was already cached.
	New bool
}

// Entry returns the depmap entry for the inserted file.
func (i Inserted) Entry() depmap.FileEntry {
	return depmap.RegularFile(i.Hash, i.Executable)
}

// MoveToCache hashes the content of file, normalizes its mode, and
// links it into the cache. The file is closed in all cases.
func (c *Cache) MoveToCache(file *cachefile.Cachefile) (Inserted, error) {
	defer file.Close()
	if err := file.Rewind(); err != nil {
		return Inserted{}, fmt.Errorf("rewinding %s: %w", file.Name(), err)
	}
	hash, _, err := contenthash.HashReader(file.File())
	if err != nil {
		return Inserted{}, fmt.Errorf("hashing %s: %w", file.Name(), err)
	}
	executable, err := NormalizeMode(file.File())
	if err != nil {
		return Inserted{}, err
	}
	return c.insert(file, hash, executable)
}

// MoveToCachePrehashed links file into the cache under a hash the
// caller computed while writing it. The hash is trusted. The file is
// closed in all cases.
func (c *Cache) MoveToCachePrehashed(file *cachefile.Cachefile, hash contenthash.Hash, executable bool) (Inserted, error) {
	defer file.Close()
	if err := setMode(file.File(), executable); err != nil {
		return Inserted{}, err
	}
	return c.insert(file, hash, executable)
}

func (c *Cache) insert(file *cachefile.Cachefile, hash contenthash.Hash, executable bool) (Inserted, error) {
	created, err := LinkIntoCache(file.LinkTo, c.ContentPath(hash, executable))
	if err != nil {
		return Inserted{}, err
	}
	c.logger.Debug("cached file",
		"hash", hash,
		"executable", executable,
		"new", created,
	)
	return Inserted{Hash: hash, Executable: executable, New: created}, nil
}

// MoveToCacheNamed ingests an existing file by name, such as an output
// left behind by an executed process. Its mode is normalized in place
// and the name is left linked to the cached inode.
func (c *Cache) MoveToCacheNamed(path string) (Inserted, error) {
	file, err := os.Open(path)
	if err != nil {
		return Inserted{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Inserted{}, fmt.Errorf("stating %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Inserted{}, fmt.Errorf("caching %s: not a regular file (%v)", path, info.Mode().Type())
	}
	hash, _, err := contenthash.HashReader(file)
	if err != nil {
		return Inserted{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	executable, err := NormalizeMode(file)
	if err != nil {
		return Inserted{}, err
	}
	link := func(destination string) error { return os.Link(path, destination) }
	created, err := LinkIntoCache(link, c.ContentPath(hash, executable))
	if err != nil {
		return Inserted{}, err
	}
	return Inserted{Hash: hash, Executable: executable, New: created}, nil
}

// NormalizeMode sets file to ExecutableMode if any execute bit is set
// and to ReadOnlyMode otherwise, and reports which.
func NormalizeMode(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("stating %s: %w", file.Name(), err)
	}
	executable := info.Mode().Perm()&0o111 != 0
	return executable, setMode(file, executable)
}

func setMode(file *os.File, executable bool) error {
	mode := ReadOnlyMode
	if executable {
		mode = ExecutableMode
	}
	if err := file.Chmod(mode); err != nil {
		return fmt.Errorf("setting mode %v on %s: %w", mode, file.Name(), err)
	}
	return nil
}

// LinkIntoCache creates destination with link, which must behave like
// a hard link from the source file. An existing destination is success
// with created false: content addressing guarantees it holds the same
// bytes. A missing parent directory is created and the link retried
// once. Any other failure is returned.
func LinkIntoCache(link func(destination string) error, destination string) (created bool, err error) {
	err = link(destination)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return false, fmt.Errorf("creating cache directory for %s: %w", destination, err)
		}
		err = link(destination)
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	default:
		return false, fmt.Errorf("linking into cache: %w", err)
	}
}

// FileGuard is an open, read-only handle to a cached content file.
// The cache never rewrites a file in place, so the handle's content
// always matches Hash.
type FileGuard struct {
	*os.File
	hash       contenthash.Hash
	executable bool
}

// Hash returns the content hash of the file.
func (g *FileGuard) Hash() contenthash.Hash { return g.hash }

// Executable reports whether the file has ExecutableMode.
func (g *FileGuard) Executable() bool { return g.executable }

// LookupFile opens the cached file with the given hash and mode. A
// miss returns (nil, false, nil).
func (c *Cache) LookupFile(hash contenthash.Hash, executable bool) (*FileGuard, bool, error) {
	file, err := os.Open(c.ContentPath(hash, executable))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("opening cached file %s: %w", hash, err)
	}
	return &FileGuard{File: file, hash: hash, executable: executable}, true, nil
}

// ContainsFile reports whether the cache holds the given content.
func (c *Cache) ContainsFile(hash contenthash.Hash, executable bool) bool {
	_, err := os.Stat(c.ContentPath(hash, executable))
	return err == nil
}

// writeRecord stores data at destination through a staging file, so
// readers never see a partial record.
func (c *Cache) writeRecord(destination, description string, data []byte) error {
	file, err := c.Tempfile(description, false)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", description, err)
	}
	if err := setMode(file.File(), false); err != nil {
		return err
	}
	_, err = LinkIntoCache(file.LinkTo, destination)
	return err
}
