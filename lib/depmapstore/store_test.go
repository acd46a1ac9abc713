// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmapstore

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/depot/lib/compress"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/registry"
	"github.com/bureau-foundation/depot/lib/testutil"
)

type concrete = depmap.DepMap[depmap.FileEntry]

func file(content string) depmap.FileEntry {
	return depmap.RegularFile(contenthash.Sum([]byte(content)), false)
}

// layered builds root -> mid -> leaf with leaf also mounted in root.
func layered(t *testing.T) (root, mid, leaf *concrete) {
	t.Helper()
	build := func(builder *depmap.Builder[depmap.FileEntry]) *concrete {
		t.Helper()
		built, err := builder.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return built
	}

	builder := depmap.NewBuilder[depmap.FileEntry]()
	builder.Insert("x.so", file("x"))
	builder.Insert("include/x.h", file("xh"))
	leaf = build(builder)

	builder = depmap.NewBuilder[depmap.FileEntry]()
	builder.Insert("README", file("readme"))
	builder.Merge("lib", leaf)
	mid = build(builder)

	builder = depmap.NewBuilder[depmap.FileEntry]()
	builder.Merge("a", mid)
	builder.Merge("b/c", leaf)
	builder.Insert("top", file("top"))
	root = build(builder)
	return root, mid, leaf
}

func contents(t *testing.T, m *concrete) map[string]depmap.FileEntry {
	t.Helper()
	values := make(map[string]depmap.FileEntry)
	if err := m.Walk(func(path string, value depmap.FileEntry) error {
		values[path] = value
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	return values
}

func newStore(backend Backend, options Options) *Store[depmap.FileEntry] {
	return New[depmap.FileEntry](backend, registry.New(), options)
}

func TestRoundTrip(t *testing.T) {
	for _, tag := range []compress.Tag{compress.None, compress.LZ4, compress.Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			ctx := context.Background()
			root, _, _ := layered(t)
			backend := NewMemoryBackend()

			if err := newStore(backend, Options{Compression: tag}).Serialize(ctx, root); err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if backend.Len() != 3 {
				t.Errorf("backend holds %d records, want 3", backend.Len())
			}

			loaded, found, err := newStore(backend, Options{}).Read(ctx, root.Hash())
			if err != nil || !found {
				t.Fatalf("Read: found=%v err=%v", found, err)
			}
			if loaded == root {
				t.Fatal("Read returned the original instance from a fresh registry")
			}
			if loaded.Hash() != root.Hash() {
				t.Errorf("hash = %s, want %s", loaded.Hash(), root.Hash())
			}
			if !loaded.Resident() {
				t.Error("Read returned a partially resident tree")
			}
			if diff := cmp.Diff(contents(t, root), contents(t, loaded)); diff != "" {
				t.Errorf("contents differ after round trip (-want +got):\n%s", diff)
			}
		})
	}
}

type recordingBackend struct {
	*MemoryBackend
	mutex sync.Mutex
	puts  []depmap.Hash
}

func (b *recordingBackend) PutNode(ctx context.Context, kind depmap.Kind, hash depmap.Hash, data []byte) error {
	b.mutex.Lock()
	b.puts = append(b.puts, hash)
	b.mutex.Unlock()
	return b.MemoryBackend.PutNode(ctx, kind, hash, data)
}

func TestSerializeWritesChildrenFirst(t *testing.T) {
	root, _, _ := layered(t)
	backend := &recordingBackend{MemoryBackend: NewMemoryBackend()}
	if err := newStore(backend, Options{}).Serialize(context.Background(), root); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	nodes := make(map[depmap.Hash]*concrete)
	for node := range root.Transitive() {
		nodes[node.Hash()] = node
	}
	written := make(map[depmap.Hash]bool)
	for _, hash := range backend.puts {
		for _, reference := range nodes[hash].References() {
			if !written[reference.Hash()] {
				t.Errorf("node %s written before its sub-node %s", hash.Short(), reference.Hash().Short())
			}
		}
		written[hash] = true
	}
	if len(backend.puts) != len(nodes) {
		t.Errorf("wrote %d records, want %d", len(backend.puts), len(nodes))
	}

	// A second Serialize finds everything present.
	backend.puts = nil
	if err := newStore(backend, Options{}).Serialize(context.Background(), root); err != nil {
		t.Fatalf("second Serialize: %v", err)
	}
	if len(backend.puts) != 0 {
		t.Errorf("second Serialize rewrote %d records", len(backend.puts))
	}
}

func TestReadMiss(t *testing.T) {
	loaded, found, err := newStore(NewMemoryBackend(), Options{}).Read(context.Background(), depmap.Hash{9})
	if err != nil || found || loaded != nil {
		t.Fatalf("Read of absent hash: loaded=%v found=%v err=%v", loaded, found, err)
	}
}

func TestReadPrefersRegistry(t *testing.T) {
	root, _, _ := layered(t)
	shared := registry.New()
	registry.Register(shared, root)

	store := New[depmap.FileEntry](NewMemoryBackend(), shared, Options{})
	loaded, found, err := store.Read(context.Background(), root.Hash())
	if err != nil || !found {
		t.Fatalf("Read: found=%v err=%v", found, err)
	}
	if loaded != root {
		t.Error("Read did not return the registered instance")
	}
}

func TestDanglingReferenceIsMiss(t *testing.T) {
	ctx := context.Background()
	root, _, leaf := layered(t)
	backend := NewMemoryBackend()
	if err := newStore(backend, Options{}).Serialize(ctx, root); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	backend.Delete(depmap.ConcreteFiletree, leaf.Hash())

	var logs bytes.Buffer
	store := newStore(backend, Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
	loaded, found, err := store.Read(ctx, root.Hash())
	if err != nil {
		t.Fatalf("Read with dangling reference returned an error: %v", err)
	}
	if found || loaded != nil {
		t.Fatal("Read with dangling reference reported a hit")
	}

	frame, err := backend.ReadNode(ctx, depmap.ConcreteFiletree, root.Hash())
	if err != nil {
		t.Fatalf("ReadNode: %v", err)
	}
	if _, found, err := newStore(backend, Options{}).Deserialize(ctx, frame, root.Hash()); err != nil || found {
		t.Fatalf("Deserialize with dangling reference: found=%v err=%v", found, err)
	}
	if !strings.Contains(logs.String(), "missing") {
		t.Errorf("no diagnostic logged for the missing sub-node:\n%s", logs.String())
	}
}

// TestReferenceCycleIsMiss stores two records under each other's
// sub-node hashes, so each names the other as a child. Reads must
// treat the loop as corruption instead of waiting on themselves.
func TestReferenceCycleIsMiss(t *testing.T) {
	single := func(name string) *concrete {
		t.Helper()
		builder := depmap.NewBuilder[depmap.FileEntry]()
		builder.Insert(name, file(name))
		built, err := builder.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return built
	}
	mounting := func(child *concrete) []byte {
		t.Helper()
		builder := depmap.NewBuilder[depmap.FileEntry]()
		builder.Merge("sub", child)
		built, err := builder.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		encoded, err := depmap.Encode(built)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		frame, err := compress.Encode(encoded, compress.None)
		if err != nil {
			t.Fatalf("compress.Encode: %v", err)
		}
		return frame
	}

	first, second := single("one"), single("two")
	backend := NewMemoryBackend()
	backend.Replace(depmap.ConcreteFiletree, second.Hash(), mounting(first))
	backend.Replace(depmap.ConcreteFiletree, first.Hash(), mounting(second))

	t.Run("single read", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var logs bytes.Buffer
		store := newStore(backend, Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
		loaded, found, err := store.Read(ctx, second.Hash())
		if err != nil {
			t.Fatalf("Read of cyclic records returned an error: %v", err)
		}
		if found || loaded != nil {
			t.Fatal("Read of cyclic records reported a hit")
		}
		if !strings.Contains(logs.String(), "cycle") {
			t.Errorf("reference cycle not logged:\n%s", logs.String())
		}
	})

	t.Run("concurrent reads", func(t *testing.T) {
		store := newStore(backend, Options{})
		done := make(chan error, 2)
		for _, hash := range []depmap.Hash{first.Hash(), second.Hash()} {
			go func() {
				_, found, err := store.Read(context.Background(), hash)
				if err == nil && found {
					err = errors.New("cyclic record reported as a hit")
				}
				done <- err
			}()
		}
		for range 2 {
			if err := testutil.RequireReceive(t, done, 5*time.Second, "waiting for cyclic read"); err != nil {
				t.Error(err)
			}
		}
	})
}

func TestCorruptRecordIsMiss(t *testing.T) {
	ctx := context.Background()
	root, mid, _ := layered(t)
	backend := NewMemoryBackend()
	if err := newStore(backend, Options{Compression: compress.Zstd}).Serialize(ctx, root); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	good, err := backend.ReadNode(ctx, depmap.ConcreteFiletree, root.Hash())
	if err != nil {
		t.Fatal(err)
	}
	other, err := backend.ReadNode(ctx, depmap.ConcreteFiletree, mid.Hash())
	if err != nil {
		t.Fatal(err)
	}
	uncompressed, err := compress.Encode([]byte{0xFF, 0x00}, compress.None)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a frame at all")},
		{"truncated", good[:len(good)/2]},
		{"invalid CBOR", uncompressed},
		{"another node's record", other},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			corrupted := NewMemoryBackend()
			if err := newStore(corrupted, Options{}).Serialize(ctx, root); err != nil {
				t.Fatal(err)
			}
			corrupted.Replace(depmap.ConcreteFiletree, root.Hash(), test.frame)

			var logs bytes.Buffer
			store := newStore(corrupted, Options{Logger: slog.New(slog.NewTextHandler(&logs, nil))})
			loaded, found, err := store.Read(ctx, root.Hash())
			if err != nil {
				t.Fatalf("Read of corrupt record returned an error: %v", err)
			}
			if found || loaded != nil {
				t.Fatal("Read of corrupt record reported a hit")
			}
			if !strings.Contains(logs.String(), "corrupt") {
				t.Errorf("corruption not logged:\n%s", logs.String())
			}
		})
	}
}

type failingBackend struct{ *MemoryBackend }

func (failingBackend) ReadNode(context.Context, depmap.Kind, depmap.Hash) ([]byte, error) {
	return nil, &fs.PathError{Op: "open", Path: "node", Err: fs.ErrPermission}
}

func TestBackendErrorPropagates(t *testing.T) {
	store := newStore(failingBackend{NewMemoryBackend()}, Options{})
	_, found, err := store.Read(context.Background(), depmap.Hash{1})
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("Read error = %v, want fs.ErrPermission", err)
	}
	if found {
		t.Error("failed Read reported a hit")
	}
	if _, _, err := store.ReadPartial(context.Background(), depmap.Hash{1}); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("ReadPartial error = %v, want fs.ErrPermission", err)
	}
}

func TestReadPartialAndResolve(t *testing.T) {
	ctx := context.Background()
	root, _, _ := layered(t)
	backend := NewMemoryBackend()
	if err := newStore(backend, Options{}).Serialize(ctx, root); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	store := newStore(backend, Options{})
	partial, found, err := store.ReadPartial(ctx, root.Hash())
	if err != nil || !found {
		t.Fatalf("ReadPartial: found=%v err=%v", found, err)
	}
	if partial.Resident() {
		t.Fatal("ReadPartial loaded sub-nodes")
	}
	if lookup := partial.Get("top"); lookup.Status != depmap.Found {
		t.Errorf("Get(top) on partial root = %v, want found", lookup.Status)
	}
	if lookup := partial.Get("a/lib/x.so"); lookup.Status != depmap.NotLoaded {
		t.Fatalf("Get through unloaded mount = %v, want not loaded", lookup.Status)
	}

	lookup, err := store.Resolve(ctx, partial, "a/lib/x.so")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if lookup.Status != depmap.Found || lookup.Value != file("x") {
		t.Errorf("Resolve = %+v, want found %v", lookup, file("x"))
	}

	// The other mount of leaf is now resident through the shared
	// registry instance.
	if lookup := partial.Get("b/c/include/x.h"); lookup.Status != depmap.Found {
		t.Errorf("Get(b/c/include/x.h) after resolving leaf elsewhere = %v", lookup.Status)
	}

	subtree, err := store.ResolveSubtree(ctx, partial, "a/lib")
	if err != nil {
		t.Fatalf("ResolveSubtree: %v", err)
	}
	if subtree.Get("include/x.h").Status != depmap.Found {
		t.Error("resolved subtree lacks include/x.h")
	}
}

func TestResolveMissingNode(t *testing.T) {
	ctx := context.Background()
	root, mid, _ := layered(t)
	backend := NewMemoryBackend()
	if err := newStore(backend, Options{}).Serialize(ctx, root); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	backend.Delete(depmap.ConcreteFiletree, mid.Hash())

	store := newStore(backend, Options{})
	partial, _, err := store.ReadPartial(ctx, root.Hash())
	if err != nil {
		t.Fatal(err)
	}
	lookup, err := store.Resolve(ctx, partial, "a/README")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if lookup.Status != depmap.NotLoaded || lookup.Missing != mid.Hash() {
		t.Errorf("Resolve = %+v, want not loaded %s", lookup, mid.Hash().Short())
	}

	_, err = store.ResolveSubtree(ctx, partial, "a")
	if !errors.Is(err, depmap.ErrNotLoaded) {
		t.Errorf("ResolveSubtree error = %v, want ErrNotLoaded", err)
	}
}

func TestSerializeRejectsUnstoredMissingNode(t *testing.T) {
	ctx := context.Background()
	root, _, _ := layered(t)
	source := NewMemoryBackend()
	if err := newStore(source, Options{}).Serialize(ctx, root); err != nil {
		t.Fatal(err)
	}
	partial, _, err := newStore(source, Options{}).ReadPartial(ctx, root.Hash())
	if err != nil {
		t.Fatal(err)
	}

	destination := NewMemoryBackend()
	err = newStore(destination, Options{}).Serialize(ctx, partial)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Serialize of partial tree into empty backend = %v, want ErrIncomplete", err)
	}
	if destination.Len() != 0 {
		t.Errorf("failed Serialize wrote %d records", destination.Len())
	}
}

func TestConcurrentReadsShareInstance(t *testing.T) {
	ctx := context.Background()
	root, _, _ := layered(t)
	backend := NewMemoryBackend()
	if err := newStore(backend, Options{}).Serialize(ctx, root); err != nil {
		t.Fatal(err)
	}

	store := newStore(backend, Options{Parallelism: 2})
	const readers = 16
	results := make([]*concrete, readers)
	var wait sync.WaitGroup
	for index := range readers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			loaded, found, err := store.Read(ctx, root.Hash())
			if err == nil && found {
				results[index] = loaded
			}
		}()
	}
	wait.Wait()

	for index, result := range results {
		if result == nil {
			t.Fatalf("reader %d missed", index)
		}
		if result != results[0] {
			t.Errorf("reader %d got a different instance", index)
		}
	}
}

func TestLabelStore(t *testing.T) {
	ctx := context.Background()
	builder := depmap.NewBuilder[depmap.Label]()
	builder.Insert("src/main.go", depmap.Label("//app:main"))
	builder.Insert("third_party", depmap.Label("@zlib//:files"))
	labels, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	backend := NewMemoryBackend()
	if err := New[depmap.Label](backend, registry.New(), Options{}).Serialize(ctx, labels); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if present, _ := backend.HasNode(ctx, depmap.ConcreteFiletree, labels.Hash()); present {
		t.Error("label node stored under the concrete kind")
	}

	// A concrete store never decodes a label record.
	if _, found, err := newStore(backend, Options{}).Read(ctx, labels.Hash()); err != nil || found {
		t.Errorf("concrete Read of label hash: found=%v err=%v", found, err)
	}

	loaded, found, err := New[depmap.Label](backend, registry.New(), Options{}).Read(ctx, labels.Hash())
	if err != nil || !found {
		t.Fatalf("label Read: found=%v err=%v", found, err)
	}
	if lookup := loaded.Get("third_party"); lookup.Value != "@zlib//:files" {
		t.Errorf("Get(third_party) = %+v", lookup)
	}
}
