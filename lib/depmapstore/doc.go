// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package depmapstore persists depmaps across the cache boundary.
//
// A [Store] moves nodes between a [registry.Registry] and a [Backend]
// that holds opaque node records: the hot disk cache, an in-memory map,
// or anything else that can store bytes by hash. Records are the
// depmap wire encoding wrapped in a compression frame.
//
// Writing is bottom-up. [Store.Serialize] walks a depmap's transitive
// nodes in post-order so that every sub-node is stored before any node
// that mounts it, and a reader that finds a node can expect its
// children to be present too.
//
// Reading is top-down. [Store.Deserialize] scans a record's header for
// the sub-nodes it mounts, reads those first, then decodes the record
// and attaches them. [Store.ReadPartial] loads a single node and
// leaves its sub-nodes unresolved; [Store.Resolve] later fetches only
// the nodes on the way to one path.
//
// A missing or corrupt record is a cache miss, never an error: the
// caller can always recompute. Corruption is logged. Errors from the
// backend itself (permission denied, disk failure) are returned.
package depmapstore
