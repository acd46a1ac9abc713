// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides depot's CBOR encoding configuration.
//
// CBOR is used for everything depot persists: depmap node files,
// action result records, and the canonical form of actions that is
// hashed into an action digest. JSON (JSONC for hand-written input) is
// reserved for manifests and CLI output.
//
// Encoding always uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length
// items. Records whose bytes are hashed rely on this.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Content-addressed records should be read back with [UnmarshalStrict],
// which rejects input a deterministic encoder could not have produced.
//
// Struct tags: use `cbor` for types that are only ever persisted, and
// `json` for types that also appear in CLI --json output (fxamacker/cbor
// falls back to json tags when cbor tags are absent). Never use both
// on one field.
package codec
