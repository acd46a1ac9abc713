// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hotcache implements the hot disk cache: a content-addressed
// store of leaf file bytes, depmap node records, and action results
// under one root directory.
//
// Layout:
//
//	content/sha256/<xx>/<hex>          read-only files (0444)
//	content/sha256/exec/<xx>/<hex>     executable files (0555)
//	depmap/<kind>/blake3/<xx>/<hex>    depmap node records
//	action/blake3/<xx>/<hex>           action result records
//	tmp/                               staging for cache files
//	LAYOUT                             layout version stamp
//
// Insertion is a hard link from a staged file to its canonical path.
// The filesystem's link semantics provide atomicity: an existing
// destination means another writer already inserted identical content,
// which is success. A missing parent directory is created and the link
// retried once. No in-process locking is involved, so any number of
// goroutines and processes may insert concurrently.
//
// Cached files are never modified in place. Content files carry
// exactly one of two modes, 0555 or 0444, so a write to a cached file
// fails rather than silently diverging from its hash.
package hotcache
