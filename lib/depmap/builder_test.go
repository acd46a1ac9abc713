// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"errors"
	"testing"

	"github.com/bureau-foundation/depot/lib/contenthash"
)

func file(content string) FileEntry {
	return RegularFile(contenthash.Sum([]byte(content)), false)
}

func executable(content string) FileEntry {
	return RegularFile(contenthash.Sum([]byte(content)), true)
}

// buildFiles builds a concrete tree by inserting paths in the given
// order.
func buildFiles(t *testing.T, entries ...any) *DepMap[FileEntry] {
	t.Helper()
	if len(entries)%2 != 0 {
		t.Fatal("buildFiles needs path/entry pairs")
	}
	builder := NewBuilder[FileEntry]()
	for index := 0; index < len(entries); index += 2 {
		path := entries[index].(string)
		value := entries[index+1].(FileEntry)
		if err := builder.Insert(path, value); err != nil {
			t.Fatalf("Insert(%q): %v", path, err)
		}
	}
	built, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return built
}

func requireFound(t *testing.T, tree *DepMap[FileEntry], path string, want FileEntry) {
	t.Helper()
	lookup := tree.Get(path)
	if lookup.Status != Found {
		t.Fatalf("Get(%q).Status = %v, want found", path, lookup.Status)
	}
	if lookup.Value != want {
		t.Fatalf("Get(%q) = %v, want %v", path, lookup.Value, want)
	}
}

func requireAbsent(t *testing.T, tree *DepMap[FileEntry], path string) {
	t.Helper()
	if status := tree.Get(path).Status; status != NotPresent {
		t.Fatalf("Get(%q).Status = %v, want not present", path, status)
	}
}

func TestHashIndependentOfInsertOrder(t *testing.T) {
	first := buildFiles(t, "a", file("1"), "b", file("2"), "dir/c", file("3"))
	second := buildFiles(t, "dir/c", file("3"), "b", file("2"), "a", file("1"))
	if first.Hash() != second.Hash() {
		t.Errorf("insert order changed the hash: %s vs %s", first.Hash(), second.Hash())
	}
}

func TestHashIndependentOfMountStructure(t *testing.T) {
	inline := buildFiles(t, "x/a", file("1"), "x/b", file("2"), "y", file("3"))

	sub := buildFiles(t, "a", file("1"), "b", file("2"))
	builder := NewBuilder[FileEntry]()
	if err := builder.Insert("y", file("3")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := builder.Merge("x", sub); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	mounted, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(mounted.References()) != 1 {
		t.Fatalf("mounted tree has %d references, want 1", len(mounted.References()))
	}
	if len(inline.References()) != 0 {
		t.Fatalf("inline tree has %d references, want 0", len(inline.References()))
	}
	if inline.Hash() != mounted.Hash() {
		t.Errorf("mounting changed the hash: %s vs %s", inline.Hash(), mounted.Hash())
	}
}

func TestHashSensitiveToContent(t *testing.T) {
	base := buildFiles(t, "a", file("1"))
	tests := map[string]*DepMap[FileEntry]{
		"different content": buildFiles(t, "a", file("2")),
		"different name":    buildFiles(t, "b", file("1")),
		"executable":        buildFiles(t, "a", executable("1")),
		"extra entry":       buildFiles(t, "a", file("1"), "b", file("1")),
		"nested":            buildFiles(t, "d/a", file("1")),
		"symlink":           buildFiles(t, "a", SymlinkTo("1")),
	}
	for name, other := range tests {
		if other.Hash() == base.Hash() {
			t.Errorf("%s: hash did not change", name)
		}
	}
}

func TestKindsHashDifferently(t *testing.T) {
	if EmptyHash(ConcreteFiletree) == EmptyHash(LabelFiletree) {
		t.Error("empty concrete and label trees share a hash")
	}
	if Empty[FileEntry]().Hash() != EmptyHash(ConcreteFiletree) {
		t.Error("Empty[FileEntry] does not match EmptyHash")
	}
}

func TestMergeDoesNotMutateSource(t *testing.T) {
	source := buildFiles(t, "a", file("1"), "sub/b", file("2"))
	before := source.Hash()

	builder := NewBuilder[FileEntry]()
	if err := builder.Merge("mnt", source); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := builder.Insert("mnt/c", file("3")); err != nil {
		t.Fatalf("Insert beneath mount: %v", err)
	}
	if err := builder.Insert("mnt/sub/d", file("4")); err != nil {
		t.Fatalf("Insert beneath shared subtree: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if source.Hash() != before {
		t.Errorf("source hash changed from %s to %s", before, source.Hash())
	}
	requireAbsent(t, source, "c")
	requireAbsent(t, source, "sub/d")
	requireFound(t, source, "sub/b", file("2"))

	requireFound(t, merged, "mnt/a", file("1"))
	requireFound(t, merged, "mnt/c", file("3"))
	requireFound(t, merged, "mnt/sub/d", file("4"))
}

func TestMergeSharesMountedNode(t *testing.T) {
	source := buildFiles(t, "a", file("1"))
	builder := NewBuilder[FileEntry]()
	if err := builder.Merge("x", source); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	refs := merged.References()
	if len(refs) != 1 || refs[0].Target() != source {
		t.Fatal("merged tree does not reference the source node")
	}
	sub, err := merged.Subtree("x")
	if err != nil {
		t.Fatalf("Subtree: %v", err)
	}
	if sub != source {
		t.Error("Subtree at the mount point is not the mounted node")
	}
}

func TestMergeAtRootOfEmptyBuilder(t *testing.T) {
	source := buildFiles(t, "a", file("1"), "b/c", file("2"))
	builder := NewBuilder[FileEntry]()
	if err := builder.Merge("", source); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if merged.Hash() != source.Hash() {
		t.Errorf("root merge hash = %s, want %s", merged.Hash(), source.Hash())
	}
}

func TestMergeEmptyIsNoop(t *testing.T) {
	builder := NewBuilder[FileEntry]()
	if err := builder.Insert("a", file("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := builder.Merge("a", Empty[FileEntry]()); err != nil {
		t.Fatalf("Merge of empty tree onto a leaf should be a no-op: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if merged.Hash() != buildFiles(t, "a", file("1")).Hash() {
		t.Error("merging an empty tree changed the result")
	}
}

func TestMergeUnionsDirectories(t *testing.T) {
	left := buildFiles(t, "shared/a", file("1"), "left", file("L"))
	right := buildFiles(t, "shared/b", file("2"), "shared/a", file("1"), "right", file("R"))

	builder := NewBuilder[FileEntry]()
	if err := builder.Merge("out", left); err != nil {
		t.Fatalf("Merge left: %v", err)
	}
	if err := builder.Merge("out", right); err != nil {
		t.Fatalf("Merge right: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := buildFiles(t,
		"out/shared/a", file("1"),
		"out/shared/b", file("2"),
		"out/left", file("L"),
		"out/right", file("R"),
	)
	if merged.Hash() != want.Hash() {
		t.Errorf("union hash = %s, want %s", merged.Hash(), want.Hash())
	}
}

func TestMergeCollisions(t *testing.T) {
	leafTree := buildFiles(t, "x", file("1"))
	source := buildFiles(t, "a", file("2"))
	conflicting := buildFiles(t, "x", file("other"))

	tests := []struct {
		name  string
		mount string
		other *DepMap[FileEntry]
	}{
		{name: "onto leaf", mount: "x", other: source},
		{name: "beneath leaf", mount: "x/y", other: source},
		{name: "conflicting union", mount: "", other: conflicting},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			builder := NewBuilder[FileEntry]()
			if err := builder.Merge("", leafTree); err != nil {
				t.Fatalf("Merge base: %v", err)
			}
			err := builder.Merge(test.mount, test.other)
			if !errors.Is(err, ErrMountCollision) {
				t.Fatalf("Merge(%q) error = %v, want ErrMountCollision", test.mount, err)
			}
			if _, buildErr := builder.Build(); !errors.Is(buildErr, ErrMountCollision) {
				t.Errorf("Build after failed merge = %v, want the sticky error", buildErr)
			}
		})
	}
}

func TestMergeOntoDirectoryMarker(t *testing.T) {
	source := buildFiles(t, "a", file("1"))
	builder := NewBuilder[FileEntry]()
	if err := builder.Insert("dir", DirectoryMarker()); err != nil {
		t.Fatalf("Insert marker: %v", err)
	}
	if err := builder.Merge("dir", source); err != nil {
		t.Fatalf("Merge onto directory marker: %v", err)
	}
	merged, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	requireFound(t, merged, "dir", DirectoryMarker())
	requireFound(t, merged, "dir/a", file("1"))
	if !merged.Get("dir").IsDir() {
		t.Error("directory marker lookup does not report IsDir")
	}
}

func TestInsertPolicy(t *testing.T) {
	t.Run("identical reinsert", func(t *testing.T) {
		builder := NewBuilder[FileEntry]()
		for range 2 {
			if err := builder.Insert("a", file("1")); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
	})

	conflicts := []struct {
		name   string
		first  string
		value  FileEntry
		second string
		other  FileEntry
	}{
		{"different value", "a", file("1"), "a", file("2")},
		{"beneath leaf", "a", file("1"), "a/b", file("2")},
		{"leaf over directory", "a/b", file("1"), "a", file("2")},
		{"exec bit differs", "a", file("1"), "a", executable("1")},
	}
	for _, test := range conflicts {
		t.Run(test.name, func(t *testing.T) {
			builder := NewBuilder[FileEntry]()
			if err := builder.Insert(test.first, test.value); err != nil {
				t.Fatalf("first Insert: %v", err)
			}
			err := builder.Insert(test.second, test.other)
			if !errors.Is(err, ErrPathConflict) {
				t.Fatalf("second Insert error = %v, want ErrPathConflict", err)
			}
			if err := builder.Insert("unrelated", file("x")); !errors.Is(err, ErrPathConflict) {
				t.Errorf("builder error is not sticky: %v", err)
			}
		})
	}

	t.Run("marker over directory", func(t *testing.T) {
		builder := NewBuilder[FileEntry]()
		if err := builder.Insert("a/b", file("1")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := builder.Insert("a", DirectoryMarker()); err != nil {
			t.Fatalf("Insert marker over directory: %v", err)
		}
	})
}

func TestInsertRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		value FileEntry
		want  error
	}{
		{name: "absolute", path: "/etc/passwd", value: file("1"), want: ErrInvalidPath},
		{name: "escaping", path: "a/../../b", value: file("1"), want: ErrInvalidPath},
		{name: "root", path: "", value: file("1"), want: ErrInvalidPath},
		{name: "dot root", path: "./", value: file("1"), want: ErrInvalidPath},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := NewBuilder[FileEntry]().Insert(test.path, test.value)
			if !errors.Is(err, test.want) {
				t.Fatalf("Insert(%q) error = %v, want %v", test.path, err, test.want)
			}
		})
	}

	if err := NewBuilder[FileEntry]().Insert("a", FileEntry{Type: TypeRegular}); err == nil {
		t.Error("Insert accepted an invalid value")
	}
}

func TestMergeFilteredSelectsMatches(t *testing.T) {
	other := buildFiles(t,
		"subpath/a.so", file("so"),
		"subpath/a.txt", file("txt"),
		"elsewhere/b.so", file("b"),
	)

	builder := NewBuilder[FileEntry]()
	if err := builder.MergeFiltered("mount", "subpath", []string{"*.so"}, other); err != nil {
		t.Fatalf("MergeFiltered: %v", err)
	}
	filtered, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := buildFiles(t, "mount/a.so", file("so"))
	if filtered.Hash() != want.Hash() {
		t.Errorf("filtered hash = %s, want %s", filtered.Hash(), want.Hash())
	}
	requireFound(t, filtered, "mount/a.so", file("so"))
	requireAbsent(t, filtered, "mount/a.txt")
	requireAbsent(t, filtered, "mount/subpath")
}

func TestMergeFilteredMatchAllShares(t *testing.T) {
	inner := buildFiles(t, "x", file("1"), "y/z", file("2"))
	outerBuilder := NewBuilder[FileEntry]()
	if err := outerBuilder.Merge("pkg", inner); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	outer, err := outerBuilder.Build()
	if err != nil {
		t.Fatalf("Build outer: %v", err)
	}

	builder := NewBuilder[FileEntry]()
	if err := builder.MergeFiltered("out", "pkg", []string{"**"}, outer); err != nil {
		t.Fatalf("MergeFiltered: %v", err)
	}
	result, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	refs := result.References()
	if len(refs) != 1 || refs[0].Target() != inner {
		t.Error("match-all filter did not share the mounted node")
	}
}

func TestMergeFilteredErrors(t *testing.T) {
	other := buildFiles(t, "dir/a", file("1"), "leaf", file("2"))

	tests := []struct {
		name     string
		subPath  string
		patterns []string
		want     error
	}{
		{name: "missing sub-path", subPath: "nope", patterns: []string{"**"}, want: ErrSubpathNotFound},
		{name: "sub-path is a leaf", subPath: "leaf", patterns: []string{"**"}, want: ErrSubpathNotFound},
		{name: "bad pattern", subPath: "dir", patterns: []string{"[unclosed"}, want: ErrBadPattern},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := NewBuilder[FileEntry]().MergeFiltered("m", test.subPath, test.patterns, other)
			if !errors.Is(err, test.want) {
				t.Fatalf("MergeFiltered error = %v, want %v", err, test.want)
			}
		})
	}

	t.Run("mount collides with leaf", func(t *testing.T) {
		builder := NewBuilder[FileEntry]()
		if err := builder.Insert("m", file("x")); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		err := builder.MergeFiltered("m", "dir", []string{"nothing-matches"}, other)
		if !errors.Is(err, ErrMountCollision) {
			t.Fatalf("MergeFiltered error = %v, want ErrMountCollision", err)
		}
	})
}

func TestFilterOrderIndependentHash(t *testing.T) {
	other := buildFiles(t, "src/a.h", file("a"), "src/b.c", file("b"), "src/sub/c.h", file("c"))

	viaFilter := NewBuilder[FileEntry]()
	if err := viaFilter.Insert("include/extra.h", file("e")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := viaFilter.MergeFiltered("include", "src", []string{"**/*.h"}, other); err != nil {
		t.Fatalf("MergeFiltered: %v", err)
	}
	filtered, err := viaFilter.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	direct := buildFiles(t,
		"include/sub/c.h", file("c"),
		"include/a.h", file("a"),
		"include/extra.h", file("e"),
	)
	if filtered.Hash() != direct.Hash() {
		t.Errorf("filter hash = %s, want %s", filtered.Hash(), direct.Hash())
	}
}

func TestBuilderReuseAfterBuild(t *testing.T) {
	builder := NewBuilder[FileEntry]()
	if err := builder.Insert("a", file("1")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	first, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := builder.Insert("b", file("2")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second, err := builder.Build()
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	requireAbsent(t, first, "b")
	requireFound(t, second, "b", file("2"))
}

func TestLabelTree(t *testing.T) {
	builder := NewBuilder[Label]()
	if err := builder.Insert("bin/tool", Label("//tools:tool")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := builder.Insert("bin/bad", Label("no-slashes")); err == nil {
		t.Fatal("Insert accepted an invalid label")
	}

	valid := NewBuilder[Label]()
	if err := valid.Insert("bin/tool", Label("//tools:tool")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	labels, err := valid.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if labels.Kind() != LabelFiletree {
		t.Errorf("Kind = %v, want label", labels.Kind())
	}
	lookup := labels.Get("bin/tool")
	if lookup.Status != Found || lookup.Value != "//tools:tool" {
		t.Errorf("Get = %+v", lookup)
	}
}
