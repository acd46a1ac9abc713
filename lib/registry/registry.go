// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/depot/lib/depmap"
)

const shardCount = 64

type shard[V depmap.Value] struct {
	mutex   sync.RWMutex
	entries map[depmap.Hash]*depmap.DepMap[V]
}

type table[V depmap.Value] struct {
	shards [shardCount]shard[V]
}

func (t *table[V]) shardFor(hash depmap.Hash) *shard[V] {
	return &t.shards[int(hash[0])%shardCount]
}

// intern inserts m if its hash is absent and returns the canonical
// instance for that hash.
func (t *table[V]) intern(m *depmap.DepMap[V]) *depmap.DepMap[V] {
	hash := m.Hash()
	s := t.shardFor(hash)

	s.mutex.RLock()
	existing, ok := s.entries[hash]
	s.mutex.RUnlock()
	if ok {
		return existing
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if existing, ok := s.entries[hash]; ok {
		return existing
	}
	if s.entries == nil {
		s.entries = make(map[depmap.Hash]*depmap.DepMap[V])
	}
	s.entries[hash] = m
	return m
}

func (t *table[V]) get(hash depmap.Hash) (*depmap.DepMap[V], bool) {
	s := t.shardFor(hash)
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	m, ok := s.entries[hash]
	return m, ok
}

func (t *table[V]) len() int {
	total := 0
	for index := range t.shards {
		s := &t.shards[index]
		s.mutex.RLock()
		total += len(s.entries)
		s.mutex.RUnlock()
	}
	return total
}

// Registry is a concurrent, deduplicating store of DepMaps keyed by
// hash. The zero value is not usable; call New.
type Registry struct {
	concrete table[depmap.FileEntry]
	labels   table[depmap.Label]
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// tableFor selects the table for V. The switch is exhaustive over
// depmap.Kinds, and each assertion is checked against the Kind that
// selected it.
func tableFor[V depmap.Value](r *Registry) *table[V] {
	var zero V
	switch kind := zero.Kind(); kind {
	case depmap.ConcreteFiletree:
		return any(&r.concrete).(*table[V])
	case depmap.LabelFiletree:
		return any(&r.labels).(*table[V])
	default:
		panic(fmt.Sprintf("registry: unsupported depmap kind %s", kind))
	}
}

// Register publishes m under its hash and returns the hash. If an
// entry already exists for the hash, it is kept and m is discarded.
func Register[V depmap.Value](r *Registry, m *depmap.DepMap[V]) depmap.Hash {
	tableFor[V](r).intern(m)
	return m.Hash()
}

// Intern is Register, returning the canonical instance for m's hash:
// m itself if it was first, otherwise the instance registered before
// it.
func Intern[V depmap.Value](r *Registry, m *depmap.DepMap[V]) *depmap.DepMap[V] {
	return tableFor[V](r).intern(m)
}

// Get returns the registered DepMap for hash.
func Get[V depmap.Value](r *Registry, hash depmap.Hash) (*depmap.DepMap[V], bool) {
	return tableFor[V](r).get(hash)
}

// RegisterConcrete registers a concrete filetree.
func (r *Registry) RegisterConcrete(m *depmap.DepMap[depmap.FileEntry]) depmap.Hash {
	return Register(r, m)
}

// Concrete returns the registered concrete filetree for hash.
func (r *Registry) Concrete(hash depmap.Hash) (*depmap.DepMap[depmap.FileEntry], bool) {
	return r.concrete.get(hash)
}

// RegisterLabels registers a label filetree.
func (r *Registry) RegisterLabels(m *depmap.DepMap[depmap.Label]) depmap.Hash {
	return Register(r, m)
}

// Labels returns the registered label filetree for hash.
func (r *Registry) Labels(hash depmap.Hash) (*depmap.DepMap[depmap.Label], bool) {
	return r.labels.get(hash)
}

// Len returns the number of registered trees of the given kind.
func (r *Registry) Len(kind depmap.Kind) int {
	switch kind {
	case depmap.ConcreteFiletree:
		return r.concrete.len()
	case depmap.LabelFiletree:
		return r.labels.len()
	default:
		return 0
	}
}
