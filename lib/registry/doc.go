// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry deduplicates DepMaps in memory by hash.
//
// A [Registry] holds at most one *depmap.DepMap per hash for each
// [depmap.Kind]. Registering a tree whose hash is already present
// keeps the existing instance and discards the new one, so every
// holder of a given hash shares one copy of its structure. Entries are
// never evicted.
//
// The registry is explicitly constructed and passed to whatever needs
// it (normally a buildcontext.Context); there is no process global.
// Tests construct their own.
//
// Each kind's table is split into shards selected by the first byte of
// the hash, each guarded by its own RWMutex. Locks are held only for a
// single map lookup or insert; hashing happens before the lock is
// taken, at DepMap construction.
package registry
