// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Depot is the CLI for the depot content-addressed cache. It provides
// subcommands for the content store (cache put, get, path), for
// building and inspecting concrete filetrees (depmap build, show, ls,
// cat, checkout), and for serving trees over FUSE (mount).
package main
