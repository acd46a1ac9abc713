// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package depmap implements depot's content-addressed dependency maps.
//
// A [DepMap] is an immutable mapping from normalized relative paths to
// values. Two instantiations exist: concrete filetrees map paths to
// [FileEntry] values (regular files by content hash, symlinks, and
// directory markers), and label filetrees map paths to [Label] values
// that name build targets not yet resolved to content. The set of
// instantiations is closed; [Kind] enumerates it.
//
// # Structure
//
// A DepMap is a tree keyed by path segment. Each directory level is
// stored inline, except where another DepMap was merged in at a mount
// point. A mount is held by reference ([Ref]): the mounted DepMap is a
// separate node with its own hash, shared between every tree that
// mounts it, and persisted as its own record. References may be
// unresolved. A DepMap decoded from storage starts with only its own
// node resident, and a lookup that crosses an unresolved mount reports
// [NotLoaded] with the hash of the missing node instead of pretending
// the path is absent. [DepMap.Attach] resolves references once the
// node has been fetched.
//
// # Hashing
//
// The [Hash] of a DepMap is a BLAKE3 keyed hash computed bottom-up.
// Each directory hashes its entries in segment order, each entry
// contributing its name, its value's canonical bytes and the hash of
// its child directory. A mount contributes the mounted DepMap's hash,
// which is computed by the same function over the same entries, so
// the hash depends only on the logical path to value contents. It is
// independent of insertion order, of which subtrees happen to be
// mounts, and of residency. Each Kind uses its own domain key.
//
// # Building
//
// [Builder] accumulates inserts and merges into a pending tree:
//
//	builder := depmap.NewBuilder[depmap.FileEntry]()
//	builder.Insert("bin/tool", depmap.RegularFile(hash, true))
//	builder.Merge("lib", dependency)
//	builder.MergeFiltered("include", "src", []string{"**/*.h"}, headers)
//	tree, err := builder.Build()
//
// Re-inserting an identical value at a path is a no-op. Any other
// overwrite is rejected with [ErrPathConflict], and merging onto or
// beneath a non-directory leaf is rejected with [ErrMountCollision].
// Merging onto an existing directory unions the two trees under the
// same rules. Builder errors are sticky: once an operation fails,
// every later call (including Build) returns that error.
//
// # Wire format
//
// [Encode] serializes one node: a CBOR record holding a format
// version, the Kind, the sorted list of direct sub-node hashes, and
// the inline tree. [ScanReferences] reads only the header, so a store
// can discover which sub-nodes a record needs before decoding it.
// [Decode] validates structure and recomputes the hash; any mismatch
// is [ErrCorrupt].
package depmap
