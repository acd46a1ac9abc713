// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/cachefile"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// Context is what actions need from their environment.
// *buildcontext.Context is the production implementation.
type Context interface {
	Tempfile(description string, executable bool) (*cachefile.Cachefile, error)
	MoveToCachePrehashed(file *cachefile.Cachefile, hash contenthash.Hash, executable bool) (hotcache.Inserted, error)

	RegisterConcreteFiletree(ctx context.Context, m *depmap.DepMap[depmap.FileEntry]) (depmap.Hash, error)
	LookupConcreteDepmap(ctx context.Context, reference buildcontext.ConcreteReference) (buildcontext.Resolution, error)
	LookupConcreteDepmapForceDirectory(ctx context.Context, reference buildcontext.ConcreteReference) (*depmap.DepMap[depmap.FileEntry], error)
	EnsureResident(ctx context.Context, m *depmap.DepMap[depmap.FileEntry]) error
	OpenDepmapFile(ctx context.Context, reference buildcontext.ConcreteReference) (*hotcache.FileGuard, error)

	LookupAction(key hotcache.ActionKey) ([]byte, bool, error)
	WriteAction(key hotcache.ActionKey, record []byte) error

	HTTPClient() *http.Client
	Logger() *slog.Logger
}

var _ Context = (*buildcontext.Context)(nil)
