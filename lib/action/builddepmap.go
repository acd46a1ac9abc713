// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/depmap"
)

// BuildDepmap assembles a concrete filetree. Entries apply in order
// under the builder's overwrite rules: repeating an identical entry is
// harmless, a conflicting one fails the action.
type BuildDepmap struct {
	Entries []BuildDepmapEntry `json:"entries"`
}

// BuildDepmapEntry places one thing at Path. Exactly one of the
// remaining fields is set.
//
// Reference mounts the tree it names at Path. If the reference names
// a file or symlink rather than a directory, that single entry is
// placed at Path instead. Filter mounts the subset of Base/Prefix
// selected by Patterns.
type BuildDepmapEntry struct {
	Path      string                          `json:"path"`
	Reference *buildcontext.ConcreteReference `json:"reference,omitempty"`
	Directory bool                            `json:"directory,omitempty"`
	File      *LiteralFile                    `json:"file,omitempty"`
	Symlink   string                          `json:"symlink,omitempty"`
	Filter    *Filter                         `json:"filter,omitempty"`
}

// LiteralFile is file content given inline.
type LiteralFile struct {
	Content    string `json:"content"`
	Executable bool   `json:"executable,omitempty"`
}

// Filter selects entries beneath Prefix in Base whose paths, relative
// to Prefix, match any of Patterns. Patterns use the depmap pattern
// syntax: globs, or anchored regular expressions prefixed with "re:".
type Filter struct {
	Base     buildcontext.ConcreteReference `json:"base"`
	Prefix   string                         `json:"prefix,omitempty"`
	Patterns []string                       `json:"patterns"`
}

// Validate checks every entry without touching any cache.
func (b *BuildDepmap) Validate() error {
	for index, entry := range b.Entries {
		if err := entry.validate(); err != nil {
			return fmt.Errorf("entry %d (%q): %w", index, entry.Path, err)
		}
	}
	return nil
}

func (e *BuildDepmapEntry) validate() error {
	var kinds []string
	if e.Reference != nil {
		kinds = append(kinds, "reference")
	}
	if e.Directory {
		kinds = append(kinds, "directory")
	}
	if e.File != nil {
		kinds = append(kinds, "file")
	}
	if e.Symlink != "" {
		kinds = append(kinds, "symlink")
	}
	if e.Filter != nil {
		kinds = append(kinds, "filter")
	}
	if len(kinds) != 1 {
		return fmt.Errorf("%w: entry must set exactly one of reference, directory, file, symlink, filter; has [%s]",
			ErrInvalidAction, strings.Join(kinds, ", "))
	}

	normalized, err := depmap.NormalizePath(e.Path)
	if err != nil {
		return err
	}
	// Only mounts may target the root.
	if normalized == "" && e.Reference == nil && e.Filter == nil {
		return fmt.Errorf("%w: %s entry needs a non-empty path", ErrInvalidAction, kinds[0])
	}
	if e.Filter != nil {
		if _, err := depmap.NormalizePath(e.Filter.Prefix); err != nil {
			return fmt.Errorf("filter prefix: %w", err)
		}
		if _, err := depmap.CompilePatterns(e.Filter.Patterns); err != nil {
			return err
		}
	}
	return nil
}

func (b *BuildDepmap) run(ctx context.Context, c Context) (depmap.Hash, error) {
	builder := depmap.NewBuilder[depmap.FileEntry]()
	for index, entry := range b.Entries {
		if err := entry.apply(ctx, c, builder); err != nil {
			return depmap.Hash{}, fmt.Errorf("entry %d (%q): %w", index, entry.Path, err)
		}
	}
	result, err := builder.Build()
	if err != nil {
		return depmap.Hash{}, err
	}
	return c.RegisterConcreteFiletree(ctx, result)
}

func (e *BuildDepmapEntry) apply(ctx context.Context, c Context, builder *depmap.Builder[depmap.FileEntry]) error {
	switch {
	case e.Reference != nil:
		resolution, err := c.LookupConcreteDepmap(ctx, *e.Reference)
		if err != nil {
			return err
		}
		if !resolution.IsSubpath() {
			return builder.Merge(e.Path, resolution.Depmap)
		}
		// LookupConcreteDepmap loaded every node on the way to the
		// subpath, so the lookup cannot come back NotLoaded.
		lookup := resolution.Depmap.Get(resolution.Subpath)
		return builder.Insert(e.Path, lookup.Value)

	case e.Directory:
		return builder.Insert(e.Path, depmap.DirectoryMarker())

	case e.File != nil:
		inserted, err := cacheStream(c, "literal-"+e.Path, strings.NewReader(e.File.Content), e.File.Executable)
		if err != nil {
			return fmt.Errorf("caching literal file: %w", err)
		}
		return builder.Insert(e.Path, inserted.Entry())

	case e.Symlink != "":
		return builder.Insert(e.Path, depmap.SymlinkTo(e.Symlink))

	case e.Filter != nil:
		return e.Filter.apply(ctx, c, e.Path, builder)
	}
	return fmt.Errorf("%w: empty entry", ErrInvalidAction)
}

func (f *Filter) apply(ctx context.Context, c Context, mountPath string, builder *depmap.Builder[depmap.FileEntry]) error {
	patterns, err := depmap.CompilePatterns(f.Patterns)
	if err != nil {
		return err
	}
	base, err := f.Base.Join(f.Prefix)
	if err != nil {
		return err
	}
	subtree, err := c.LookupConcreteDepmapForceDirectory(ctx, base)
	if err != nil {
		return fmt.Errorf("%w: %w", depmap.ErrSubpathNotFound, err)
	}
	// A pattern set that selects everything mounts the subtree shared,
	// leaving its sub-nodes unloaded. Anything narrower has to look at
	// every path.
	if !patterns.MatchesAll() {
		if err := c.EnsureResident(ctx, subtree); err != nil {
			return err
		}
	}
	return builder.MergeMatching(mountPath, "", patterns, subtree)
}
