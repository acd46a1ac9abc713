// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmapstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/depot/lib/compress"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/registry"
)

// DefaultParallelism bounds concurrent sub-node reads when
// Options.Parallelism is zero.
const DefaultParallelism = 8

// ErrIncomplete is returned by Serialize when a depmap mounts a
// sub-node that is neither resident nor already stored.
var ErrIncomplete = errors.New("depmap has sub-nodes that are neither resident nor stored")

// Options configures a Store.
type Options struct {
	// Compression applied to new records. The zero value stores
	// records uncompressed.
	Compression compress.Tag
	// Parallelism bounds concurrent sub-node reads.
	Parallelism int
	// Logger receives corruption diagnostics. Nil discards.
	Logger *slog.Logger
}

// Store persists depmaps of one kind. It is safe for concurrent use.
type Store[V depmap.Value] struct {
	backend     Backend
	registry    *registry.Registry
	kind        depmap.Kind
	compression compress.Tag
	parallelism int
	logger      *slog.Logger

	loads singleflight.Group
}

// New returns a Store that reads through and publishes into registry.
func New[V depmap.Value](backend Backend, registry *registry.Registry, options Options) *Store[V] {
	var zero V
	parallelism := options.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store[V]{
		backend:     backend,
		registry:    registry,
		kind:        zero.Kind(),
		compression: options.Compression,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Write stores the record for m alone. Its sub-nodes must already be
// stored; use Serialize to store a whole tree.
func (s *Store[V]) Write(ctx context.Context, m *depmap.DepMap[V]) error {
	present, err := s.backend.HasNode(ctx, s.kind, m.Hash())
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	encoded, err := depmap.Encode(m)
	if err != nil {
		return fmt.Errorf("encoding depmap %s: %w", m.Hash().Short(), err)
	}
	frame, err := compress.Encode(encoded, s.compression)
	if err != nil {
		return fmt.Errorf("compressing depmap %s: %w", m.Hash().Short(), err)
	}
	if err := s.backend.PutNode(ctx, s.kind, m.Hash(), frame); err != nil {
		return fmt.Errorf("storing depmap %s: %w", m.Hash().Short(), err)
	}
	return nil
}

// Serialize stores every resident node of m, sub-nodes before the
// nodes that mount them. Non-resident sub-nodes must already be
// stored, or Serialize fails with ErrIncomplete before writing
// anything.
func (s *Store[V]) Serialize(ctx context.Context, m *depmap.DepMap[V]) error {
	for _, hash := range m.Missing() {
		present, err := s.backend.HasNode(ctx, s.kind, hash)
		if err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("%w: %s", ErrIncomplete, hash.Short())
		}
	}
	for node := range m.Transitive() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Write(ctx, node); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the fully resident depmap for hash. A missing or corrupt
// node anywhere in the tree is a miss: (nil, false, nil).
//
// A node already in the registry is returned as is, after loading any
// sub-nodes it lacks. Concurrent reads of the same hash share one load;
// a caller whose context ends stops waiting for it.
func (s *Store[V]) Read(ctx context.Context, hash depmap.Hash) (*depmap.DepMap[V], bool, error) {
	return s.read(ctx, hash, nil)
}

// read loads hash beneath the nodes in ancestors. Only top-level reads
// join the shared load for a hash: a nested read waiting on another
// caller's load could wait on a load that is waiting on it.
func (s *Store[V]) read(ctx context.Context, hash depmap.Hash, ancestors []depmap.Hash) (*depmap.DepMap[V], bool, error) {
	if existing, ok := registry.Get[V](s.registry, hash); ok {
		complete, err := s.complete(ctx, existing, ancestors)
		if err != nil || !complete {
			return nil, false, err
		}
		return existing, true, nil
	}
	if len(ancestors) > 0 {
		return s.load(ctx, hash, ancestors)
	}

	results := s.loads.DoChan("full:"+hash.String(), func() (any, error) {
		loaded, found, err := s.load(ctx, hash, nil)
		if err != nil || !found {
			return nil, err
		}
		return loaded, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case result := <-results:
		if result.Err != nil || result.Val == nil {
			return nil, false, result.Err
		}
		return result.Val.(*depmap.DepMap[V]), true, nil
	}
}

func (s *Store[V]) load(ctx context.Context, hash depmap.Hash, ancestors []depmap.Hash) (*depmap.DepMap[V], bool, error) {
	frame, err := s.backend.ReadNode(ctx, s.kind, hash)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading depmap %s: %w", hash.Short(), err)
	}
	return s.deserialize(ctx, frame, hash, ancestors)
}

// Deserialize reconstructs the depmap for hash from its stored record,
// reading every sub-node it mounts first. The header is scanned for
// sub-node hashes before the record is fully decoded, so a record
// whose children are missing is rejected without decoding its body.
// The result is published in the registry.
func (s *Store[V]) Deserialize(ctx context.Context, frame []byte, hash depmap.Hash) (*depmap.DepMap[V], bool, error) {
	return s.deserialize(ctx, frame, hash, nil)
}

// deserialize is Deserialize for a record read beneath ancestors. A
// reference back to hash or to any ancestor can only come from damaged
// records, since a node's hash covers the hashes it mounts.
func (s *Store[V]) deserialize(ctx context.Context, frame []byte, hash depmap.Hash, ancestors []depmap.Hash) (*depmap.DepMap[V], bool, error) {
	data, ok := s.unframe(frame, hash)
	if !ok {
		return nil, false, nil
	}
	kind, references, err := depmap.ScanReferences(data)
	if err != nil {
		s.corrupt(hash, err)
		return nil, false, nil
	}
	if kind != s.kind {
		s.corrupt(hash, fmt.Errorf("record holds a %s tree", kind))
		return nil, false, nil
	}
	chain := append(slices.Clone(ancestors), hash)
	for _, reference := range references {
		if reference == hash {
			s.corrupt(hash, errors.New("record references itself"))
			return nil, false, nil
		}
		if slices.Contains(ancestors, reference) {
			s.corrupt(hash, fmt.Errorf("reference cycle through %s", reference.Short()))
			return nil, false, nil
		}
	}

	children, complete, err := s.readAll(ctx, references, chain)
	if err != nil || !complete {
		if err == nil {
			s.logger.Warn("depmap sub-node missing from cache",
				"kind", s.kind,
				"hash", hash,
			)
		}
		return nil, false, err
	}

	decoded, err := depmap.Decode[V](data, hash)
	if err != nil {
		s.corrupt(hash, err)
		return nil, false, nil
	}
	canonical := registry.Intern(s.registry, decoded)
	for _, child := range children {
		canonical.Attach(child)
	}
	return canonical, true, nil
}

// ReadPartial returns the depmap for hash with only its root node
// guaranteed resident. Sub-nodes already in the registry are not
// attached; use Resolve or Read to load them.
func (s *Store[V]) ReadPartial(ctx context.Context, hash depmap.Hash) (*depmap.DepMap[V], bool, error) {
	if existing, ok := registry.Get[V](s.registry, hash); ok {
		return existing, true, nil
	}
	result, err, _ := s.loads.Do("root:"+hash.String(), func() (any, error) {
		if existing, ok := registry.Get[V](s.registry, hash); ok {
			return existing, nil
		}
		frame, err := s.backend.ReadNode(ctx, s.kind, hash)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading depmap %s: %w", hash.Short(), err)
		}
		data, ok := s.unframe(frame, hash)
		if !ok {
			return nil, nil
		}
		decoded, err := depmap.Decode[V](data, hash)
		if err != nil {
			s.corrupt(hash, err)
			return nil, nil
		}
		return registry.Intern(s.registry, decoded), nil
	})
	if err != nil || result == nil {
		return nil, false, err
	}
	return result.(*depmap.DepMap[V]), true, nil
}

// Resolve looks up path in m, loading non-resident sub-nodes on the
// way. If a needed sub-node is not stored the result has status
// NotLoaded and identifies it.
func (s *Store[V]) Resolve(ctx context.Context, m *depmap.DepMap[V], path string) (depmap.Lookup[V], error) {
	for {
		lookup := m.Get(path)
		if lookup.Status != depmap.NotLoaded {
			return lookup, nil
		}
		attached, err := s.attachMissing(ctx, m, lookup.Missing)
		if err != nil || !attached {
			return lookup, err
		}
	}
}

// ResolveSubtree is Subtree with sub-node loading. A sub-node that is
// not stored yields the *depmap.NotLoadedError.
func (s *Store[V]) ResolveSubtree(ctx context.Context, m *depmap.DepMap[V], path string) (*depmap.DepMap[V], error) {
	for {
		subtree, err := m.Subtree(path)
		var notLoaded *depmap.NotLoadedError
		if !errors.As(err, &notLoaded) {
			return subtree, err
		}
		attached, loadErr := s.attachMissing(ctx, m, notLoaded.Hash)
		if loadErr != nil {
			return nil, loadErr
		}
		if !attached {
			return nil, err
		}
	}
}

func (s *Store[V]) attachMissing(ctx context.Context, m *depmap.DepMap[V], hash depmap.Hash) (bool, error) {
	node, found, err := s.ReadPartial(ctx, hash)
	if err != nil || !found {
		return false, err
	}
	return m.Attach(node) > 0, nil
}

// Complete loads every sub-node m lacks. It reports false if any is
// missing from the backend; m is then left partially resident.
func (s *Store[V]) Complete(ctx context.Context, m *depmap.DepMap[V]) (bool, error) {
	return s.complete(ctx, m, nil)
}

func (s *Store[V]) complete(ctx context.Context, m *depmap.DepMap[V], ancestors []depmap.Hash) (bool, error) {
	chain := append(slices.Clone(ancestors), m.Hash())
	for {
		missing := m.Missing()
		if len(missing) == 0 {
			return true, nil
		}
		nodes, complete, err := s.readAll(ctx, missing, chain)
		if err != nil || !complete {
			return false, err
		}
		progress := 0
		for _, node := range nodes {
			progress += m.Attach(node)
		}
		if progress == 0 {
			return false, fmt.Errorf("depmap %s: loaded sub-nodes did not attach", m.Hash().Short())
		}
	}
}

// readAll reads hashes concurrently beneath ancestors. complete is
// false if any is a miss.
func (s *Store[V]) readAll(ctx context.Context, hashes []depmap.Hash, ancestors []depmap.Hash) (nodes []*depmap.DepMap[V], complete bool, err error) {
	nodes = make([]*depmap.DepMap[V], len(hashes))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.parallelism)
	for index, hash := range hashes {
		group.Go(func() error {
			node, found, err := s.read(groupCtx, hash, ancestors)
			if err != nil {
				return err
			}
			if found {
				nodes[index] = node
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, false, err
	}
	for _, node := range nodes {
		if node == nil {
			return nil, false, nil
		}
	}
	return nodes, true, nil
}

func (s *Store[V]) unframe(frame []byte, hash depmap.Hash) ([]byte, bool) {
	data, err := compress.Decode(frame)
	if err != nil {
		s.corrupt(hash, err)
		return nil, false
	}
	return data, true
}

func (s *Store[V]) corrupt(hash depmap.Hash, err error) {
	s.logger.Warn("discarding corrupt depmap node",
		"kind", s.kind,
		"hash", hash,
		"error", err,
	)
}
