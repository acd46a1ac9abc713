// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// ErrUnknownFormat is returned when an archive's format is neither
// declared nor recognizable from its leading bytes.
var ErrUnknownFormat = errors.New("unrecognized archive format")

// ArchiveFormat names an archive container and compression.
type ArchiveFormat string

const (
	// FormatAuto detects the format from the archive's leading bytes.
	FormatAuto    ArchiveFormat = ""
	FormatTar     ArchiveFormat = "tar"
	FormatTarGzip ArchiveFormat = "tar.gz"
	FormatTarZstd ArchiveFormat = "tar.zst"
	FormatZip     ArchiveFormat = "zip"
)

// Valid reports whether f is a supported format or FormatAuto.
func (f ArchiveFormat) Valid() bool {
	switch f {
	case FormatAuto, FormatTar, FormatTarGzip, FormatTarZstd, FormatZip:
		return true
	default:
		return false
	}
}

var (
	gzipMagic     = []byte{0x1f, 0x8b}
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	tarMagic      = []byte("ustar")
)

// tarMagicOffset is the position of the magic field in a POSIX tar
// header.
const tarMagicOffset = 257

// DetectFormat identifies an archive from its first bytes. At least
// 262 bytes are needed to recognize an uncompressed tar.
func DetectFormat(header []byte) (ArchiveFormat, error) {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGzip, nil
	case bytes.HasPrefix(header, zstdMagic):
		return FormatTarZstd, nil
	case bytes.HasPrefix(header, zipMagic), bytes.HasPrefix(header, zipEmptyMagic):
		return FormatZip, nil
	case len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic):
		return FormatTar, nil
	default:
		return FormatAuto, ErrUnknownFormat
	}
}

// Extract unpacks an archive from a concrete filetree into a new one.
// Regular files, directories, symlinks and hard links are kept; device
// nodes and FIFOs are skipped. Entries whose names would leave the
// output tree fail the action.
type Extract struct {
	Archive buildcontext.ConcreteReference `json:"archive"`
	Format  ArchiveFormat                  `json:"format,omitempty"`
	// StripPrefix drops this leading directory from every entry name.
	// Entries outside it are skipped.
	StripPrefix string `json:"strip_prefix,omitempty"`
}

// Validate checks the format name and prefix.
func (e *Extract) Validate() error {
	if !e.Format.Valid() {
		return fmt.Errorf("%w: unknown archive format %q", ErrInvalidAction, e.Format)
	}
	if e.Archive.Subpath == "" {
		return fmt.Errorf("%w: archive reference %s names a tree, not a file", ErrInvalidAction, e.Archive)
	}
	if _, err := depmap.NormalizePath(e.StripPrefix); err != nil {
		return fmt.Errorf("strip prefix: %w", err)
	}
	return nil
}

func (e *Extract) run(ctx context.Context, c Context) (depmap.Hash, error) {
	archive, err := c.OpenDepmapFile(ctx, e.Archive)
	if err != nil {
		return depmap.Hash{}, err
	}
	defer archive.Close()

	format := e.Format
	if format == FormatAuto {
		header := make([]byte, 512)
		n, err := archive.ReadAt(header, 0)
		if err != nil && err != io.EOF {
			return depmap.Hash{}, fmt.Errorf("reading archive header: %w", err)
		}
		if format, err = DetectFormat(header[:n]); err != nil {
			return depmap.Hash{}, fmt.Errorf("%s: %w", e.Archive, err)
		}
	}

	stripPrefix, _ := depmap.NormalizePath(e.StripPrefix)
	x := &extractor{
		ctx:         ctx,
		c:           c,
		stripPrefix: stripPrefix,
		builder:     depmap.NewBuilder[depmap.FileEntry](),
		regular:     make(map[string]depmap.FileEntry),
	}
	switch format {
	case FormatZip:
		err = x.zip(archive)
	case FormatTarGzip:
		var decompressed *gzip.Reader
		if decompressed, err = gzip.NewReader(archive); err == nil {
			err = x.tar(decompressed)
			decompressed.Close()
		}
	case FormatTarZstd:
		var decoder *zstd.Decoder
		if decoder, err = zstd.NewReader(archive, zstd.WithDecoderConcurrency(1)); err == nil {
			err = x.tar(decoder)
			decoder.Close()
		}
	default:
		err = x.tar(archive)
	}
	if err != nil {
		return depmap.Hash{}, fmt.Errorf("extracting %s as %s: %w", e.Archive, format, err)
	}
	c.Logger().Debug("extracted archive", "archive", e.Archive.String(), "format", string(format), "files", x.files)

	result, err := x.builder.Build()
	if err != nil {
		return depmap.Hash{}, err
	}
	return c.RegisterConcreteFiletree(ctx, result)
}

type extractor struct {
	ctx         context.Context
	c           Context
	stripPrefix string
	builder     *depmap.Builder[depmap.FileEntry]
	// regular maps output paths to their entries so hard links can
	// reuse them.
	regular map[string]depmap.FileEntry
	files   int
}

// name maps an archive entry name to its output path. ok is false for
// entries outside the strip prefix and for the archive root itself.
func (x *extractor) name(raw string) (name string, ok bool, err error) {
	normalized, err := depmap.NormalizePath(strings.TrimPrefix(raw, "./"))
	if err != nil {
		return "", false, fmt.Errorf("entry %q escapes the archive root: %w", raw, err)
	}
	if x.stripPrefix != "" {
		rest, found := strings.CutPrefix(normalized, x.stripPrefix+"/")
		if !found {
			return "", false, nil
		}
		normalized = rest
	}
	return normalized, normalized != "", nil
}

func (x *extractor) addFile(name string, reader io.Reader, executable bool) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	inserted, err := cacheStream(x.c, "extract-"+name, reader, executable)
	if err != nil {
		return fmt.Errorf("caching %q: %w", name, err)
	}
	entry := inserted.Entry()
	x.regular[name] = entry
	x.files++
	return x.builder.Insert(name, entry)
}

func (x *extractor) tar(reader io.Reader) error {
	archive := tar.NewReader(reader)
	for {
		header, err := archive.Next()
		if err == io.EOF {
			return nil
		}
		// Unsafe names are rejected by name below, with or without
		// GODEBUG=tarinsecurepath=0.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return err
		}
		name, ok, err := x.name(header.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch header.Typeflag {
		case tar.TypeReg:
			err = x.addFile(name, archive, header.Mode&0o100 != 0)
		case tar.TypeDir:
			err = x.builder.Insert(name, depmap.DirectoryMarker())
		case tar.TypeSymlink:
			if header.Linkname == "" {
				return fmt.Errorf("symlink %q has no target", header.Name)
			}
			err = x.builder.Insert(name, depmap.SymlinkTo(header.Linkname))
		case tar.TypeLink:
			err = x.hardLink(name, header.Linkname)
		default:
			x.c.Logger().Debug("skipping archive entry", "name", header.Name, "type", string(header.Typeflag))
		}
		if err != nil {
			return err
		}
	}
}

// hardLink records name as another path to an earlier regular file.
func (x *extractor) hardLink(name, target string) error {
	targetName, ok, err := x.name(target)
	if err != nil {
		return err
	}
	entry, found := x.regular[targetName]
	if !ok || !found {
		return fmt.Errorf("hard link %q refers to %q, which is not an earlier regular file", name, target)
	}
	return x.builder.Insert(name, entry)
}

// zipArchive is the subset of *hotcache.FileGuard the zip reader needs.
type zipArchive interface {
	io.ReaderAt
	Stat() (fs.FileInfo, error)
}

var _ zipArchive = (*hotcache.FileGuard)(nil)

func (x *extractor) zip(archive zipArchive) error {
	info, err := archive.Stat()
	if err != nil {
		return err
	}
	reader, err := zip.NewReader(archive, info.Size())
	if err != nil {
		return err
	}
	for _, file := range reader.File {
		name, ok, err := x.name(file.Name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mode := file.Mode()
		switch {
		case mode.IsDir():
			err = x.builder.Insert(name, depmap.DirectoryMarker())
		case mode&fs.ModeSymlink != 0:
			err = x.zipSymlink(name, file)
		case mode.IsRegular():
			err = x.zipFile(name, file, mode.Perm()&0o100 != 0)
		default:
			x.c.Logger().Debug("skipping archive entry", "name", file.Name, "mode", mode.String())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) zipFile(name string, file *zip.File, executable bool) error {
	content, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening %q: %w", file.Name, err)
	}
	defer content.Close()
	return x.addFile(name, content, executable)
}

// maxZipSymlinkTarget bounds how much of a zip symlink entry is read
// as its target.
const maxZipSymlinkTarget = 4096

func (x *extractor) zipSymlink(name string, file *zip.File) error {
	content, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening %q: %w", file.Name, err)
	}
	defer content.Close()
	target, err := io.ReadAll(io.LimitReader(content, maxZipSymlinkTarget+1))
	if err != nil {
		return fmt.Errorf("reading symlink %q: %w", file.Name, err)
	}
	if len(target) == 0 || len(target) > maxZipSymlinkTarget {
		return fmt.Errorf("symlink %q has an invalid target", file.Name)
	}
	return x.builder.Insert(name, depmap.SymlinkTo(string(target)))
}
