// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action implements the build actions that produce concrete
// filetrees: assembling a depmap from references and literal entries
// ([BuildDepmap]), fetching a file over HTTP ([Download]), and
// unpacking an archive already in the cache ([Extract]).
//
// Every action runs against a [Context], which supplies the hot disk
// cache, depmap registration, and the action result cache. [Run]
// consults the result cache by [Digest] before executing an action
// and records the output afterwards, so repeated builds of the same
// definition only resolve a cache record:
//
//	output, err := action.Run(ctx, buildContext, &action.Action{
//	    Download: &action.Download{
//	        URLs:   []string{"https://example.com/tool.tar.gz"},
//	        SHA256: &checksum,
//	    },
//	})
//
// Outputs are depmap hashes. The files they name are in the hot cache
// and the depmap nodes are persisted alongside them, so an output can
// be looked up, materialized, or used as the input of another action
// in a later process.
package action
