// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmapstore

import (
	"context"
	"fmt"
	"io/fs"
	"sync"

	"github.com/bureau-foundation/depot/lib/depmap"
)

// Backend stores node records by kind and hash.
type Backend interface {
	// HasNode reports whether a record is stored for hash.
	HasNode(ctx context.Context, kind depmap.Kind, hash depmap.Hash) (bool, error)

	// ReadNode returns the record for hash, or an error matching
	// fs.ErrNotExist if there is none.
	ReadNode(ctx context.Context, kind depmap.Kind, hash depmap.Hash) ([]byte, error)

	// PutNode stores a record. Storing a hash that is already present
	// is not an error; either record may be kept.
	PutNode(ctx context.Context, kind depmap.Kind, hash depmap.Hash, data []byte) error
}

type nodeKey struct {
	kind depmap.Kind
	hash depmap.Hash
}

// MemoryBackend is a Backend held in process memory.
type MemoryBackend struct {
	mutex   sync.RWMutex
	records map[nodeKey][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[nodeKey][]byte)}
}

func (b *MemoryBackend) HasNode(_ context.Context, kind depmap.Kind, hash depmap.Hash) (bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	_, ok := b.records[nodeKey{kind, hash}]
	return ok, nil
}

func (b *MemoryBackend) ReadNode(_ context.Context, kind depmap.Kind, hash depmap.Hash) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	data, ok := b.records[nodeKey{kind, hash}]
	if !ok {
		return nil, fmt.Errorf("depmap node %s/%s: %w", kind, hash.Short(), fs.ErrNotExist)
	}
	return data, nil
}

func (b *MemoryBackend) PutNode(_ context.Context, kind depmap.Kind, hash depmap.Hash, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	key := nodeKey{kind, hash}
	if _, ok := b.records[key]; !ok {
		b.records[key] = append([]byte(nil), data...)
	}
	return nil
}

// Delete removes a record, simulating eviction.
func (b *MemoryBackend) Delete(kind depmap.Kind, hash depmap.Hash) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.records, nodeKey{kind, hash})
}

// Replace overwrites a record unconditionally, simulating corruption.
func (b *MemoryBackend) Replace(kind depmap.Kind, hash depmap.Hash, data []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.records[nodeKey{kind, hash}] = append([]byte(nil), data...)
}

// Len returns the number of stored records.
func (b *MemoryBackend) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.records)
}
