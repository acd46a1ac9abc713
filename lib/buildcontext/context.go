// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcontext

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"

	"github.com/bureau-foundation/depot/lib/cachefile"
	"github.com/bureau-foundation/depot/lib/compress"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/depmapstore"
	"github.com/bureau-foundation/depot/lib/hotcache"
	"github.com/bureau-foundation/depot/lib/registry"
)

// maxSymlinkHops bounds symlink resolution in OpenDepmapFile.
const maxSymlinkHops = 40

var (
	// ErrDepmapNotFound is returned when a referenced depmap is neither
	// registered nor stored.
	ErrDepmapNotFound = errors.New("depmap not found")

	// ErrReferenceNotFound is returned when a reference's subpath does
	// not exist in its depmap.
	ErrReferenceNotFound = errors.New("reference does not resolve")

	// ErrNotDirectory is returned when a directory was required.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotRegularFile is returned by OpenDepmapFile for directories
	// and dangling symlinks.
	ErrNotRegularFile = errors.New("not a regular file")

	// ErrFileNotCached is returned when a depmap names content the hot
	// cache does not hold. It matches fs.ErrNotExist.
	ErrFileNotCached = fmt.Errorf("file not in cache: %w", fs.ErrNotExist)
)

// Resolution is the result of LookupConcreteDepmap. If Subpath is
// empty, Depmap is the referenced tree itself. Otherwise the reference
// names a non-directory entry, found at Subpath within Depmap.
type Resolution struct {
	Depmap  *depmap.DepMap[depmap.FileEntry]
	Subpath string
}

// IsSubpath reports whether the resolution names an entry rather than
// a tree.
func (r Resolution) IsSubpath() bool { return r.Subpath != "" }

// Options configures a Context.
type Options struct {
	// Compression for persisted depmap nodes.
	Compression compress.Tag
	// Parallelism bounds concurrent depmap node reads.
	Parallelism int
	// Logger receives diagnostics. Nil discards.
	Logger *slog.Logger
	// HTTPClient is used by download actions. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Context is the environment build actions run in. It is safe for
// concurrent use.
type Context struct {
	registry *registry.Registry
	cache    *hotcache.Cache
	concrete *depmapstore.Store[depmap.FileEntry]
	labels   *depmapstore.Store[depmap.Label]
	logger   *slog.Logger
	client   *http.Client
}

var (
	_ MaterializeContext  = (*Context)(nil)
	_ depmapstore.Backend = (*hotcache.Cache)(nil)
)

// New returns a Context over cache. Depmap nodes are persisted in the
// cache and published in registry.
func New(cache *hotcache.Cache, registry *registry.Registry, options Options) *Context {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client := options.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	storeOptions := depmapstore.Options{
		Compression: options.Compression,
		Parallelism: options.Parallelism,
		Logger:      logger,
	}
	return &Context{
		registry: registry,
		cache:    cache,
		concrete: depmapstore.New[depmap.FileEntry](cache, registry, storeOptions),
		labels:   depmapstore.New[depmap.Label](cache, registry, storeOptions),
		logger:   logger,
		client:   client,
	}
}

// Registry returns the registry depmaps are published in.
func (c *Context) Registry() *registry.Registry { return c.registry }

// Cache returns the hot disk cache.
func (c *Context) Cache() *hotcache.Cache { return c.cache }

// Logger returns the context's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// HTTPClient returns the client for download actions.
func (c *Context) HTTPClient() *http.Client { return c.client }

// LookupAction returns the recorded result of an action.
func (c *Context) LookupAction(key hotcache.ActionKey) ([]byte, bool, error) {
	return c.cache.LookupAction(key)
}

// WriteAction records the result of an action.
func (c *Context) WriteAction(key hotcache.ActionKey, record []byte) error {
	return c.cache.WriteAction(key, record)
}

// Tempfile creates a staging file for action output.
func (c *Context) Tempfile(description string, executable bool) (*cachefile.Cachefile, error) {
	return c.cache.Tempfile(description, executable)
}

// MoveToCache hashes file and moves it into the cache.
func (c *Context) MoveToCache(file *cachefile.Cachefile) (hotcache.Inserted, error) {
	return c.cache.MoveToCache(file)
}

// MoveToCachePrehashed moves file into the cache under a hash computed
// while writing it.
func (c *Context) MoveToCachePrehashed(file *cachefile.Cachefile, hash contenthash.Hash, executable bool) (hotcache.Inserted, error) {
	return c.cache.MoveToCachePrehashed(file, hash, executable)
}

// MoveToCacheNamed ingests an existing named file.
func (c *Context) MoveToCacheNamed(path string) (hotcache.Inserted, error) {
	return c.cache.MoveToCacheNamed(path)
}

// RegisterConcreteFiletree publishes m in the registry and persists
// it. The returned hash is the durable handle for m.
func (c *Context) RegisterConcreteFiletree(ctx context.Context, m *depmap.DepMap[depmap.FileEntry]) (depmap.Hash, error) {
	canonical := registry.Intern(c.registry, m)
	if canonical != m {
		// The registered instance may have been read partially from a
		// cache that has since lost sub-nodes m holds.
		for node := range m.Transitive() {
			canonical.Attach(node)
		}
	}
	if err := c.concrete.Serialize(ctx, canonical); err != nil {
		return depmap.Hash{}, fmt.Errorf("persisting depmap %s: %w", m.Hash().Short(), err)
	}
	return canonical.Hash(), nil
}

// RegisterLabelFiletree publishes m in the registry only. Label trees
// describe unresolved inputs and are cheap to rebuild.
func (c *Context) RegisterLabelFiletree(m *depmap.DepMap[depmap.Label]) depmap.Hash {
	return c.registry.RegisterLabels(m)
}

// PersistLabelFiletree registers m and stores it, for label trees that
// must outlive the process.
func (c *Context) PersistLabelFiletree(ctx context.Context, m *depmap.DepMap[depmap.Label]) (depmap.Hash, error) {
	canonical := registry.Intern(c.registry, m)
	if err := c.labels.Serialize(ctx, canonical); err != nil {
		return depmap.Hash{}, fmt.Errorf("persisting label depmap %s: %w", m.Hash().Short(), err)
	}
	return canonical.Hash(), nil
}

// LookupLabelFiletree returns a registered or stored label tree.
func (c *Context) LookupLabelFiletree(ctx context.Context, hash depmap.Hash) (*depmap.DepMap[depmap.Label], bool, error) {
	return c.labels.Read(ctx, hash)
}

// LookupFile opens cached content. A miss returns (nil, false, nil).
func (c *Context) LookupFile(hash contenthash.Hash, executable bool) (*hotcache.FileGuard, bool, error) {
	return c.cache.LookupFile(hash, executable)
}

// LookupFiletreeCache returns the fully resident concrete tree for
// hash. A miss, including a damaged cache entry, returns
// (nil, false, nil).
func (c *Context) LookupFiletreeCache(ctx context.Context, hash depmap.Hash) (*depmap.DepMap[depmap.FileEntry], bool, error) {
	return c.concrete.Read(ctx, hash)
}

// EnsureResident loads every sub-node of m. It fails with
// ErrDepmapNotFound if any is missing from the cache.
func (c *Context) EnsureResident(ctx context.Context, m *depmap.DepMap[depmap.FileEntry]) error {
	complete, err := c.concrete.Complete(ctx, m)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("%w: sub-nodes of %s missing from cache", ErrDepmapNotFound, m.Hash().Short())
	}
	return nil
}

// LookupConcreteDepmap resolves reference. A subpath naming a
// directory yields that subtree; one naming any other entry yields the
// whole tree plus the subpath. Only the nodes on the way to the
// subpath are loaded.
func (c *Context) LookupConcreteDepmap(ctx context.Context, reference ConcreteReference) (Resolution, error) {
	root, found, err := c.concrete.ReadPartial(ctx, reference.Hash)
	if err != nil {
		return Resolution{}, err
	}
	if !found {
		return Resolution{}, fmt.Errorf("%w: %s", ErrDepmapNotFound, reference.Hash)
	}
	if reference.Subpath == "" {
		return Resolution{Depmap: root}, nil
	}

	lookup, err := c.concrete.Resolve(ctx, root, reference.Subpath)
	if err != nil {
		return Resolution{}, err
	}
	switch {
	case lookup.Status == depmap.NotLoaded:
		return Resolution{}, fmt.Errorf("%w: %s: sub-node %s missing from cache",
			ErrDepmapNotFound, reference, lookup.Missing.Short())
	case lookup.IsDir():
		subtree, err := c.concrete.ResolveSubtree(ctx, root, reference.Subpath)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Depmap: subtree}, nil
	case lookup.Status == depmap.Found:
		return Resolution{Depmap: root, Subpath: reference.Subpath}, nil
	default:
		return Resolution{}, fmt.Errorf("%w: %s", ErrReferenceNotFound, reference)
	}
}

// LookupConcreteDepmapForceDirectory resolves reference and requires
// it to name a directory.
func (c *Context) LookupConcreteDepmapForceDirectory(ctx context.Context, reference ConcreteReference) (*depmap.DepMap[depmap.FileEntry], error) {
	resolution, err := c.LookupConcreteDepmap(ctx, reference)
	if err != nil {
		return nil, err
	}
	if resolution.IsSubpath() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, reference)
	}
	return resolution.Depmap, nil
}

// OpenCacheFile opens cached content, failing with ErrFileNotCached on
// a miss.
func (c *Context) OpenCacheFile(hash contenthash.Hash, executable bool) (*hotcache.FileGuard, error) {
	guard, found, err := c.cache.LookupFile(hash, executable)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrFileNotCached, hash)
	}
	return guard, nil
}

// OpenDepmapFile opens the regular file a reference names. Symlinks
// are followed within the depmap.
func (c *Context) OpenDepmapFile(ctx context.Context, reference ConcreteReference) (*hotcache.FileGuard, error) {
	resolution, err := c.LookupConcreteDepmap(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !resolution.IsSubpath() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotRegularFile, reference)
	}
	entry, err := c.followSymlinks(ctx, resolution.Depmap, resolution.Subpath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", reference, err)
	}
	return c.OpenCacheFile(entry.Hash, entry.Executable)
}

func (c *Context) followSymlinks(ctx context.Context, root *depmap.DepMap[depmap.FileEntry], current string) (depmap.FileEntry, error) {
	for range maxSymlinkHops {
		lookup, err := c.concrete.Resolve(ctx, root, current)
		if err != nil {
			return depmap.FileEntry{}, err
		}
		if lookup.Status == depmap.NotLoaded {
			return depmap.FileEntry{}, &depmap.NotLoadedError{Path: lookup.MissingPath, Hash: lookup.Missing}
		}
		if lookup.Status != depmap.Found || lookup.IsDir() {
			return depmap.FileEntry{}, fmt.Errorf("%w: %q", ErrNotRegularFile, current)
		}
		entry := lookup.Value
		if entry.Type == depmap.TypeRegular {
			return entry, nil
		}
		target := entry.Target
		if !path.IsAbs(target) {
			target = path.Join(path.Dir(current), target)
		}
		normalized, err := depmap.NormalizePath(target)
		if err != nil {
			return depmap.FileEntry{}, fmt.Errorf("%w: symlink %q leaves the tree", ErrNotRegularFile, current)
		}
		current = normalized
	}
	return depmap.FileEntry{}, fmt.Errorf("%w: too many levels of symlinks at %q", ErrNotRegularFile, current)
}
