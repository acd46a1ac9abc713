// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPath is returned for absolute paths, paths containing
	// "..", paths containing NUL, and inserts at the root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathConflict is returned when an insert would replace a
	// different value, or place a leaf where a directory (or a
	// directory beneath a leaf) already exists.
	ErrPathConflict = errors.New("path conflicts with existing entry")

	// ErrMountCollision is returned when a merge mounts onto or beneath
	// a non-directory leaf, or the merged entries conflict with
	// existing ones.
	ErrMountCollision = errors.New("mount collides with existing entry")

	// ErrSubpathNotFound is returned when a sub-path does not resolve
	// to a directory.
	ErrSubpathNotFound = errors.New("sub-path not found")

	// ErrBadPattern is returned for malformed filter patterns.
	ErrBadPattern = errors.New("bad pattern")

	// ErrCorrupt is returned by Decode and ScanReferences for records
	// that are structurally invalid or do not match their hash.
	ErrCorrupt = errors.New("corrupt depmap node")

	// ErrNotLoaded matches any *NotLoadedError via errors.Is.
	ErrNotLoaded = errors.New("sub-node not loaded")
)

// PathError records the operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("depmap %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// NotLoadedError reports that an operation needed the content of a
// mounted sub-node that is not resident. It is a cache-miss condition:
// fetch the node, Attach it, and retry.
type NotLoadedError struct {
	// Path is the mount point of the missing node.
	Path string
	// Hash identifies the missing node.
	Hash Hash
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("depmap sub-node %s mounted at %q is not loaded", e.Hash.Short(), e.Path)
}

// Is makes errors.Is(err, ErrNotLoaded) true for any NotLoadedError.
func (e *NotLoadedError) Is(target error) bool {
	return target == ErrNotLoaded
}
