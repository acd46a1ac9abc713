// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
)

func buildTree(t testing.TB, paths ...string) *depmap.DepMap[depmap.FileEntry] {
	t.Helper()
	builder := depmap.NewBuilder[depmap.FileEntry]()
	for _, path := range paths {
		entry := depmap.RegularFile(contenthash.Sum([]byte(path)), false)
		if err := builder.Insert(path, entry); err != nil {
			t.Fatalf("Insert(%q): %v", path, err)
		}
	}
	built, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return built
}

func TestRegisterKeepsFirstInstance(t *testing.T) {
	registry := New()
	first := buildTree(t, "a", "b/c")
	second := buildTree(t, "b/c", "a")
	if first == second {
		t.Fatal("test needs two distinct allocations")
	}

	firstHash := registry.RegisterConcrete(first)
	secondHash := registry.RegisterConcrete(second)
	if firstHash != secondHash {
		t.Fatalf("structurally equal trees registered under %s and %s", firstHash, secondHash)
	}

	got, ok := registry.Concrete(firstHash)
	if !ok {
		t.Fatal("registered tree not found")
	}
	if got != first {
		t.Error("registry returned the second instance; want the first")
	}
	if Intern(registry, second) != first {
		t.Error("Intern did not return the canonical instance")
	}
	if n := registry.Len(depmap.ConcreteFiletree); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestGetMissing(t *testing.T) {
	registry := New()
	if _, ok := registry.Concrete(depmap.Hash{1}); ok {
		t.Error("empty registry returned a tree")
	}
}

func TestKindsAreSeparate(t *testing.T) {
	registry := New()
	builder := depmap.NewBuilder[depmap.Label]()
	if err := builder.Insert("out", depmap.Label("//pkg:out")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	labels, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	hash := registry.RegisterLabels(labels)
	if _, ok := registry.Concrete(hash); ok {
		t.Error("label tree visible through the concrete table")
	}
	got, ok := Get[depmap.Label](registry, hash)
	if !ok || got != labels {
		t.Error("generic Get did not find the label tree")
	}
	if registry.Len(depmap.LabelFiletree) != 1 || registry.Len(depmap.ConcreteFiletree) != 0 {
		t.Error("Len does not reflect per-kind tables")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	registry := New()
	const workers = 32
	const distinct = 8

	// Every worker gets its own allocation of each tree.
	trees := make([][distinct]*depmap.DepMap[depmap.FileEntry], workers)
	for worker := range workers {
		for index := range distinct {
			trees[worker][index] = buildTree(t, fmt.Sprintf("file-%d", index))
		}
	}

	results := make([][distinct]*depmap.DepMap[depmap.FileEntry], workers)
	var wait sync.WaitGroup
	for worker := range workers {
		wait.Add(1)
		go func() {
			defer wait.Done()
			for index := range distinct {
				results[worker][index] = Intern(registry, trees[worker][index])
			}
		}()
	}
	wait.Wait()

	if n := registry.Len(depmap.ConcreteFiletree); n != distinct {
		t.Fatalf("Len = %d, want %d", n, distinct)
	}
	for index := range distinct {
		canonical := results[0][index]
		for worker := 1; worker < workers; worker++ {
			if results[worker][index] != canonical {
				t.Fatalf("worker %d got a different instance for tree %d", worker, index)
			}
		}
	}
}

func BenchmarkRegisterExisting(b *testing.B) {
	registry := New()
	tree := buildTree(b, "a", "b", "c")
	registry.RegisterConcrete(tree)

	b.ReportAllocs()
	for b.Loop() {
		registry.RegisterConcrete(tree)
	}
}
