// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildcontext wires the registry, the hot disk cache, and the
// depmap stores into the single object that build actions work
// against.
//
// A [Context] is constructed once per process (or per test) and passed
// down explicitly; nothing in this package is global. Actions stage
// output with [Context.Tempfile], move it into the cache, assemble
// depmaps, and publish them with [Context.RegisterConcreteFiletree],
// which both interns the depmap in the registry and persists it.
// Downstream actions name their inputs with a [ConcreteReference] and
// resolve it with [Context.LookupConcreteDepmap].
//
// [MaterializeContext] is the read-only view used when realizing a
// depmap onto a real filesystem; [Materialize] does that by hard
// linking cached files into a directory.
package buildcontext
