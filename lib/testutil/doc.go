// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for depot packages.
//
// [RequireReceive] and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Cachefile
// deletion and singleflight tests wait on channels through them.
//
// [WriteTree] lays out a directory of small files from a map, and
// [RequireFUSE] skips a test when /dev/fuse cannot be used.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as distinct file contents in concurrency tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no depot-internal dependencies.
package testutil
