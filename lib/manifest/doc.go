// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest parses, validates and runs depot manifests. A
// manifest is an ordered list of named action steps authored as a
// JSONC file (JSON extended with comments and trailing commas):
//
//	{
//	  "steps": [
//	    {"name": "source", "download": {"urls": ["https://example.org/zlib.tar.gz"], "sha256": "sha256:..."}},
//	    {"name": "tree", "extract": {"archive": "step:source:zlib.tar.gz", "strip_prefix": "zlib-1.3"}},
//	    {"name": "headers", "build_depmap": {"entries": [
//	      {"path": "include", "filter": {"base": "step:tree", "patterns": ["*.h"]}},
//	    ]}},
//	  ],
//	}
//
// Reference fields (reference, base, archive) accept "step:<name>" or
// "step:<name>:<subpath>" in place of a concrete depmap hash. They
// resolve to the output filetree of an earlier step when the manifest
// runs.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes → Manifest
//  2. Validate: structural checks (unique names, one action per step,
//     step references point backwards)
//  3. Run: expand step references and run each action through
//     lib/action, in order
package manifest
