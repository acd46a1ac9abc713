// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress frames small records with optional compression.
//
// Depmap node files and action records are written as a frame: one
// [Tag] byte, the uncompressed length as a uvarint, and the payload.
// [Encode] falls back to [None] when compression would not shrink the
// data, so a reader never pays decode cost for nothing. [Decode]
// verifies the declared length, so a truncated or bit-flipped frame
// fails with [ErrCorruptFrame] rather than yielding short data.
//
// LZ4 uses block mode (pierrec/lz4); zstd uses a shared
// klauspost/compress encoder and decoder, both safe for concurrent
// use.
package compress
