// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash identifies file content by its SHA-256 digest.
//
// Every leaf file in a depmap and every file in the hot disk cache is
// addressed by a [Hash]. SHA-256 is used rather than BLAKE3 so that the
// checksums published alongside upstream downloads can be compared
// directly against cache keys without a second hashing pass.
//
// Hashes are computed either after the fact ([HashFile], [HashReader])
// or while the content is being written, by teeing writes through a
// [Hasher] and calling [Hasher.Sum] once the writer is done. The second
// form lets the hot disk cache skip re-reading files it just produced.
//
// The text form is "sha256:<hex>". [Parse] also accepts bare hex, which
// is how most upstream projects publish checksums.
//
// This package has no dependencies on other depot packages.
package contenthash
