// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmapfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// Source resolves depmaps and opens cached content.
// *buildcontext.Context is the production implementation.
type Source interface {
	LookupConcreteDepmap(ctx context.Context, reference buildcontext.ConcreteReference) (buildcontext.Resolution, error)
	OpenCacheFile(hash contenthash.Hash, executable bool) (*hotcache.FileGuard, error)
}

var _ Source = (*buildcontext.Context)(nil)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Source provides depmaps and file content.
	Source Source

	// Root, if set, is the tree shown at the mount root. Otherwise
	// the root is content-addressed by depmap hash.
	Root depmap.Hash

	// AllowOther permits other users (including root) to access
	// the mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Everything below the root is immutable, so the kernel may cache
// entries and attributes for a long time. Negative entries at a
// content-addressed root must expire quickly: the depmap may be
// stored a moment later.
const (
	immutableTimeout = time.Hour
	negativeTimeout  = 100 * time.Millisecond
)

// Mount mounts a read-only view of concrete filetrees. The caller must
// call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	var root gofuse.InodeEmbedder
	if options.Root.IsZero() {
		root = &hashRootNode{options: &options}
	} else {
		reference := buildcontext.Reference(options.Root)
		resolution, err := options.Source.LookupConcreteDepmap(context.Background(), reference)
		if err != nil {
			return nil, fmt.Errorf("resolving mount root: %w", err)
		}
		root = &dirNode{options: &options, reference: reference, tree: resolution.Depmap}
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	entryTimeout := immutableTimeout
	attrTimeout := immutableTimeout
	negative := negativeTimeout

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negative,
		MountOptions: fuse.MountOptions{
			FsName:     "depot-depmap",
			Name:       "depot",
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("depmap FUSE filesystem mounted",
		"mountpoint", options.Mountpoint,
		"root", rootDescription(options.Root),
	)
	return server, nil
}

func rootDescription(root depmap.Hash) string {
	if root.IsZero() {
		return "by-hash"
	}
	return root.String()
}

// toErrno maps a resolution error to the errno a lookup returns.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, buildcontext.ErrReferenceNotFound),
		errors.Is(err, buildcontext.ErrDepmapNotFound),
		errors.Is(err, depmap.ErrInvalidPath):
		return syscall.ENOENT
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// logFailure records errors that are not plain absence.
func (o *Options) logFailure(operation string, reference buildcontext.ConcreteReference, err error) {
	if errors.Is(err, buildcontext.ErrReferenceNotFound) || errors.Is(err, depmap.ErrInvalidPath) {
		return
	}
	if errors.Is(err, buildcontext.ErrDepmapNotFound) && reference.Subpath == "" {
		return
	}
	o.Logger.Warn("depmap filesystem "+operation+" failed",
		"reference", reference.String(),
		"error", err,
	)
}

// hashRootNode is a content-addressed root. It supports lookup by
// depmap hash but not listing.
type hashRootNode struct {
	gofuse.Inode
	options *Options
}

var _ gofuse.InodeEmbedder = (*hashRootNode)(nil)
var _ gofuse.NodeLookuper = (*hashRootNode)(nil)
var _ gofuse.NodeGetattrer = (*hashRootNode)(nil)

func (h *hashRootNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

func (h *hashRootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	hash, err := depmap.ParseHash(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	reference := buildcontext.Reference(hash)
	resolution, err := h.options.Source.LookupConcreteDepmap(ctx, reference)
	if err != nil {
		h.options.logFailure("lookup", reference, err)
		return nil, toErrno(err)
	}

	node := &dirNode{options: h.options, reference: reference, tree: resolution.Depmap}
	out.Mode = syscall.S_IFDIR | 0o555
	return h.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
}

// dirNode is a directory within a tree. tree is the subtree rooted
// at the directory; its own entries are resident.
type dirNode struct {
	gofuse.Inode
	options   *Options
	reference buildcontext.ConcreteReference
	tree      *depmap.DepMap[depmap.FileEntry]
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	child, err := d.reference.Join(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	resolution, err := d.options.Source.LookupConcreteDepmap(ctx, child)
	if err != nil {
		d.options.logFailure("lookup", child, err)
		return nil, toErrno(err)
	}

	if !resolution.IsSubpath() {
		node := &dirNode{options: d.options, reference: child, tree: resolution.Depmap}
		out.Mode = syscall.S_IFDIR | 0o555
		return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFDIR}), 0
	}

	entry := resolution.Depmap.Get(resolution.Subpath).Value
	switch entry.Type {
	case depmap.TypeSymlink:
		node := &symlinkNode{target: entry.Target}
		node.fill(&out.Attr)
		return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFLNK}), 0
	case depmap.TypeRegular:
		size, err := d.options.contentSize(entry)
		if err != nil {
			d.options.logFailure("stat", child, err)
			return nil, syscall.EIO
		}
		node := &fileNode{options: d.options, entry: entry, size: size}
		node.fill(&out.Attr)
		return d.NewInode(ctx, node, gofuse.StableAttr{Mode: syscall.S_IFREG}), 0
	default:
		return nil, syscall.EIO
	}
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	children, err := d.tree.ReadDir("")
	if err != nil {
		d.options.logFailure("readdir", d.reference, err)
		return nil, toErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, child := range children {
		entries = append(entries, fuse.DirEntry{Name: child.Name, Mode: direntMode(child)})
	}
	return gofuse.NewListDirStream(entries), 0
}

// direntMode is the file type reported for a directory entry.
func direntMode(entry depmap.DirEntry[depmap.FileEntry]) uint32 {
	switch {
	case entry.IsDir, entry.HasValue && entry.Value.IsDirectoryMarker():
		return syscall.S_IFDIR
	case entry.HasValue && entry.Value.Type == depmap.TypeSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// contentSize stats the cached content of a regular file entry.
func (o *Options) contentSize(entry depmap.FileEntry) (int64, error) {
	guard, err := o.Source.OpenCacheFile(entry.Hash, entry.Executable)
	if err != nil {
		return 0, err
	}
	defer guard.Close()
	info, err := guard.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fileMode is the permission set of a regular file entry.
func fileMode(entry depmap.FileEntry) uint32 {
	if entry.Executable {
		return 0o555
	}
	return 0o444
}

type fileNode struct {
	gofuse.Inode
	options *Options
	entry   depmap.FileEntry
	size    int64
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (f *fileNode) fill(out *fuse.Attr) {
	out.Mode = syscall.S_IFREG | fileMode(f.entry)
	out.Size = uint64(f.size)
	out.Blocks = (out.Size + 511) / 512
}

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.fill(&out.Attr)
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	guard, err := f.options.Source.OpenCacheFile(f.entry.Hash, f.entry.Executable)
	if err != nil {
		f.options.Logger.Warn("opening cached content failed", "hash", f.entry.Hash, "error", err)
		return nil, 0, syscall.EIO
	}
	// Content is immutable, so the kernel page cache is always valid.
	return &fileHandle{file: guard.File}, fuse.FOPEN_KEEP_CACHE, 0
}

// fileHandle reads from an open cache file.
type fileHandle struct {
	file *os.File
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.file.Close()
	return 0
}

type symlinkNode struct {
	gofuse.Inode
	target string
}

var _ gofuse.InodeEmbedder = (*symlinkNode)(nil)
var _ gofuse.NodeReadlinker = (*symlinkNode)(nil)
var _ gofuse.NodeGetattrer = (*symlinkNode)(nil)

func (s *symlinkNode) fill(out *fuse.Attr) {
	out.Mode = syscall.S_IFLNK | 0o777
	out.Size = uint64(len(s.target))
}

func (s *symlinkNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	s.fill(&out.Attr)
	return 0
}

func (s *symlinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	return []byte(s.target), 0
}
