// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the depot CLI.
//
// The central type is [Command], which represents a named subcommand with
// optional nested [Command.Subcommands], a [pflag.FlagSet] factory (or a
// tagged params struct bound by [FlagsFromParams]), and a Run function.
// Commands are assembled into a tree in cmd/depot/commands and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and structured help output with examples.
//
// When a user types an unknown subcommand or flag, the framework computes
// Levenshtein edit distance against all known names and suggests the
// closest match (threshold: distance <= 3).
//
// [Environment] carries the flags shared by commands that open the
// cache (--config, --cache, --verbose) and turns them into a
// [Session]: the loaded configuration, a logger built by [NewLogger],
// and a build context over the hot disk cache.
package cli
