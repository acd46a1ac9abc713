// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcontext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// MaterializeContext is the read side of the cache used to realize a
// depmap onto a filesystem.
type MaterializeContext interface {
	// LookupFile opens cached content. A miss is (nil, false, nil).
	LookupFile(hash contenthash.Hash, executable bool) (*hotcache.FileGuard, bool, error)

	// LookupFiletreeCache returns a fully resident concrete tree. A
	// miss is (nil, false, nil).
	LookupFiletreeCache(ctx context.Context, hash depmap.Hash) (*depmap.DepMap[depmap.FileEntry], bool, error)
}

// Materialize realizes the tree with hash under destination, which
// must not exist. Regular files are hard links to cache entries, so
// destination must be on the cache's filesystem and the files are
// read-only.
func Materialize(ctx context.Context, source MaterializeContext, hash depmap.Hash, destination string) error {
	tree, found, err := source.LookupFiletreeCache(ctx, hash)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrDepmapNotFound, hash)
	}
	if err := os.Mkdir(destination, 0o755); err != nil {
		return fmt.Errorf("creating materialization root: %w", err)
	}

	return tree.Walk(func(path string, entry depmap.FileEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(destination, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", path, err)
		}
		switch entry.Type {
		case depmap.TypeDirectory:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", path, err)
			}
		case depmap.TypeSymlink:
			if err := os.Symlink(entry.Target, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", path, err)
			}
		case depmap.TypeRegular:
			guard, found, err := source.LookupFile(entry.Hash, entry.Executable)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("materializing %s: %w: %s", path, ErrFileNotCached, entry.Hash)
			}
			err = os.Link(guard.Name(), target)
			guard.Close()
			if err != nil {
				return fmt.Errorf("linking %s: %w", path, err)
			}
		}
		return nil
	})
}
