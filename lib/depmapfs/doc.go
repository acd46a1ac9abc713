// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package depmapfs serves concrete filetrees as a read-only FUSE
// filesystem.
//
// With [Options].Root set, the mount root is that tree. Otherwise the
// root is a content-addressed directory: looking up a depmap hash in
// hex yields the tree with that hash, so any stored output can be
// browsed at <mountpoint>/<hash>/. The root of a content-addressed
// mount cannot be listed.
//
// Depmap nodes are loaded on demand as directories are looked up, and
// file content is read straight from the hot cache. Nothing is copied
// or materialized.
package depmapfs
