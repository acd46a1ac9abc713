// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import "strings"

// NormalizePath returns the canonical form of a relative path: "."
// segments and repeated or trailing separators are removed. Absolute
// paths, ".." segments, and NUL bytes are rejected with
// [ErrInvalidPath]. The empty string (and ".") normalize to "", which
// denotes the root of a tree.
func NormalizePath(path string) (string, error) {
	if strings.IndexByte(path, 0) >= 0 {
		return "", &PathError{Op: "normalize", Path: path, Err: ErrInvalidPath}
	}
	if strings.HasPrefix(path, "/") {
		return "", &PathError{Op: "normalize", Path: path, Err: ErrInvalidPath}
	}

	segments := strings.Split(path, "/")
	kept := segments[:0]
	for _, segment := range segments {
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", &PathError{Op: "normalize", Path: path, Err: ErrInvalidPath}
		}
		kept = append(kept, segment)
	}
	return strings.Join(kept, "/"), nil
}

// JoinPath joins two normalized paths.
func JoinPath(base, relative string) string {
	switch {
	case base == "":
		return relative
	case relative == "":
		return base
	default:
		return base + "/" + relative
	}
}

// splitPath splits a normalized path into segments. The root path
// has no segments.
func splitPath(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, "/")
}

// validSegment reports whether name can appear as one path segment in
// a decoded node.
func validSegment(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsRune(name, '/') && strings.IndexByte(name, 0) < 0
}
