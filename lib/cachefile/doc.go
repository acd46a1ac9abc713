// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cachefile provides temporary files destined for the hot disk
// cache.
//
// A [Cachefile] is created in the cache's staging directory, written
// and hashed by its producer, then hard-linked into its final
// content-addressed location with [Cachefile.LinkTo]. It comes in two
// variants behind one API:
//
//   - Unlinked: on Linux the file is opened with O_TMPFILE and has no
//     name until it is linked. A crash leaves nothing behind.
//   - Named: elsewhere, or on filesystems without O_TMPFILE support,
//     the file is an ordinary temporary file that must be deleted
//     after use.
//
// [Cachefile.Close] releases the handle. For the named variant it also
// removes the temporary name in a background goroutine; failures are
// logged, not returned, since by then the caller has nothing useful to
// do with them. [Cachefile.Deleted] reports completion for callers
// that must wait.
package cachefile
