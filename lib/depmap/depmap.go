// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"bytes"
	"errors"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
)

// DepMap is an immutable, hash-identified path tree. Use [Builder] to
// construct one. A *DepMap is safe for concurrent use; the only state
// that changes after construction is the residency of mounted
// sub-nodes, which never changes the logical contents or the hash.
type DepMap[V Value] struct {
	hash Hash
	root *tree[V]
	refs []*Ref[V]
}

// tree is one immutable directory level. Trees are shared freely
// between DepMaps and builders once constructed.
type tree[V Value] struct {
	hash    Hash
	entries []entry[V]
}

// entry is one named child of a tree. It may carry a value, child
// entries, or both (when the value is a directory marker). Child
// entries are either inline (children) or a mounted node (mount),
// never both.
type entry[V Value] struct {
	name     string
	value    V
	hasValue bool
	children *tree[V]
	mount    *Ref[V]
}

func (e *entry[V]) childHash() (Hash, bool) {
	switch {
	case e.children != nil:
		return e.children.hash, true
	case e.mount != nil:
		return e.mount.hash, true
	default:
		return Hash{}, false
	}
}

// Ref is a reference to a mounted sub-node. The referenced DepMap may
// not be resident; Target returns nil until it is attached.
type Ref[V Value] struct {
	hash   Hash
	target atomic.Pointer[DepMap[V]]
}

func newRef[V Value](target *DepMap[V]) *Ref[V] {
	ref := &Ref[V]{hash: target.hash}
	ref.target.Store(target)
	return ref
}

// Hash returns the hash of the referenced node.
func (r *Ref[V]) Hash() Hash { return r.hash }

// Target returns the referenced DepMap, or nil if it is not resident.
func (r *Ref[V]) Target() *DepMap[V] { return r.target.Load() }

func (r *Ref[V]) resolve(target *DepMap[V]) bool {
	if target == nil || target.hash != r.hash {
		return false
	}
	return r.target.CompareAndSwap(nil, target)
}

var emptyHashes [3]Hash

func init() {
	for _, kind := range Kinds {
		switch kind {
		case ConcreteFiletree:
			emptyHashes[kind] = hashEntries[FileEntry](nil)
		case LabelFiletree:
			emptyHashes[kind] = hashEntries[Label](nil)
		}
	}
}

// EmptyHash returns the hash of the empty DepMap of the given kind.
func EmptyHash(kind Kind) Hash {
	return emptyHashes[kind]
}

// Empty returns an empty DepMap.
func Empty[V Value]() *DepMap[V] {
	return newDepMap(&tree[V]{hash: hashEntries[V](nil)})
}

// newDepMap wraps root, collecting its direct sub-node references.
func newDepMap[V Value](root *tree[V]) *DepMap[V] {
	byHash := make(map[Hash]*Ref[V])
	forEachMount(root, func(ref *Ref[V]) {
		existing, ok := byHash[ref.hash]
		if !ok || (existing.Target() == nil && ref.Target() != nil) {
			byHash[ref.hash] = ref
		}
	})
	refs := make([]*Ref[V], 0, len(byHash))
	for _, ref := range byHash {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		return bytes.Compare(refs[i].hash[:], refs[j].hash[:]) < 0
	})
	return &DepMap[V]{hash: root.hash, root: root, refs: refs}
}

// forEachMount calls fn for every mount in the inline part of t,
// without descending into mounted nodes.
func forEachMount[V Value](t *tree[V], fn func(*Ref[V])) {
	for index := range t.entries {
		current := &t.entries[index]
		switch {
		case current.mount != nil:
			fn(current.mount)
		case current.children != nil:
			forEachMount(current.children, fn)
		}
	}
}

// Hash returns the content hash, computed once at construction.
func (m *DepMap[V]) Hash() Hash { return m.hash }

// Kind returns the instantiation of m.
func (m *DepMap[V]) Kind() Kind {
	var zero V
	return zero.Kind()
}

// IsEmpty reports whether m has no entries.
func (m *DepMap[V]) IsEmpty() bool { return len(m.root.entries) == 0 }

// References returns the direct sub-nodes mounted in m, sorted by hash.
func (m *DepMap[V]) References() []*Ref[V] {
	return slices.Clone(m.refs)
}

// Resident reports whether every transitive sub-node of m is loaded.
func (m *DepMap[V]) Resident() bool {
	for node := range m.transitive(true) {
		for _, ref := range node.refs {
			if ref.Target() == nil {
				return false
			}
		}
	}
	return true
}

// Missing returns the hashes of sub-nodes that are referenced from
// resident nodes of m but are not themselves resident.
func (m *DepMap[V]) Missing() []Hash {
	seen := make(map[Hash]struct{})
	var missing []Hash
	for node := range m.transitive(true) {
		for _, ref := range node.refs {
			if ref.Target() != nil {
				continue
			}
			if _, ok := seen[ref.hash]; ok {
				continue
			}
			seen[ref.hash] = struct{}{}
			missing = append(missing, ref.hash)
		}
	}
	return missing
}

// Transitive returns every distinct resident node reachable from m,
// including m itself, in post-order: each node is yielded after all
// of the nodes it references. Serializing in this order persists
// children before their parents. Each call produces a fresh sequence.
func (m *DepMap[V]) Transitive() iter.Seq[*DepMap[V]] {
	return m.transitive(false)
}

func (m *DepMap[V]) transitive(preOrder bool) iter.Seq[*DepMap[V]] {
	return func(yield func(*DepMap[V]) bool) {
		seen := make(map[Hash]struct{})
		var visit func(node *DepMap[V]) bool
		visit = func(node *DepMap[V]) bool {
			if _, ok := seen[node.hash]; ok {
				return true
			}
			seen[node.hash] = struct{}{}
			if preOrder && !yield(node) {
				return false
			}
			for _, ref := range node.refs {
				if target := ref.Target(); target != nil {
					if !visit(target) {
						return false
					}
				}
			}
			if !preOrder {
				return yield(node)
			}
			return true
		}
		visit(m)
	}
}

// Attach makes node resident wherever m or its resident sub-nodes
// mount it. It returns the number of references resolved; zero means
// node was not referenced or was already resident everywhere.
func (m *DepMap[V]) Attach(node *DepMap[V]) int {
	resolved := 0
	for current := range m.transitive(true) {
		forEachMount(current.root, func(ref *Ref[V]) {
			if ref.resolve(node) {
				resolved++
			}
		})
	}
	return resolved
}

// Status classifies the result of a lookup.
type Status uint8

const (
	// NotPresent means nothing exists at the path.
	NotPresent Status = iota
	// Found means a value exists at the path. The path may also have
	// entries beneath it if the value is a directory marker.
	Found
	// Directory means the path is a directory implied by the entries
	// beneath it, with no value of its own.
	Directory
	// NotLoaded means the path lies inside a mounted sub-node that is
	// not resident. Lookup.Missing identifies it.
	NotLoaded
)

func (s Status) String() string {
	switch s {
	case NotPresent:
		return "not present"
	case Found:
		return "found"
	case Directory:
		return "directory"
	case NotLoaded:
		return "not loaded"
	default:
		return "unknown"
	}
}

// Lookup is the result of [DepMap.Get].
type Lookup[V Value] struct {
	Status Status
	// Value is set when Status is Found.
	Value V
	// Missing and MissingPath identify the unresolved sub-node and its
	// mount point when Status is NotLoaded.
	Missing     Hash
	MissingPath string
}

// IsDir reports whether the lookup found a directory, either implied
// or marked.
func (l Lookup[V]) IsDir() bool {
	return l.Status == Directory || (l.Status == Found && l.Value.IsDirectoryMarker())
}

// Get looks up path. Paths that fail normalization are NotPresent.
func (m *DepMap[V]) Get(path string) Lookup[V] {
	normalized, err := NormalizePath(path)
	if err != nil {
		return Lookup[V]{Status: NotPresent}
	}
	segments := splitPath(normalized)
	if len(segments) == 0 {
		return Lookup[V]{Status: Directory}
	}

	current := m.root
	for index, segment := range segments {
		found := current.find(segment)
		if found == nil {
			return Lookup[V]{Status: NotPresent}
		}
		if index == len(segments)-1 {
			switch {
			case found.hasValue:
				return Lookup[V]{Status: Found, Value: found.value}
			case found.children != nil || found.mount != nil:
				return Lookup[V]{Status: Directory}
			default:
				return Lookup[V]{Status: NotPresent}
			}
		}
		next, err := found.descend(strings.Join(segments[:index+1], "/"))
		var notLoaded *NotLoadedError
		if errors.As(err, &notLoaded) {
			return Lookup[V]{Status: NotLoaded, Missing: notLoaded.Hash, MissingPath: notLoaded.Path}
		}
		if err != nil {
			return Lookup[V]{Status: NotPresent}
		}
		if next == nil {
			return Lookup[V]{Status: NotPresent}
		}
		current = next
	}
	return Lookup[V]{Status: NotPresent}
}

// find returns the entry named segment, or nil.
func (t *tree[V]) find(segment string) *entry[V] {
	index, ok := slices.BinarySearchFunc(t.entries, segment, func(candidate entry[V], name string) int {
		switch {
		case candidate.name < name:
			return -1
		case candidate.name > name:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil
	}
	return &t.entries[index]
}

// descend returns the child tree of e: nil for a leaf, or a
// *NotLoadedError if e mounts a non-resident node.
func (e *entry[V]) descend(path string) (*tree[V], error) {
	switch {
	case e.children != nil:
		return e.children, nil
	case e.mount != nil:
		target := e.mount.Target()
		if target == nil {
			return nil, &NotLoadedError{Path: path, Hash: e.mount.hash}
		}
		return target.root, nil
	default:
		return nil, nil
	}
}

// Subtree returns the DepMap rooted at path. A mounted node is
// returned as is, preserving identity; an inline directory is wrapped
// in a new DepMap sharing the same tree. Returns [ErrSubpathNotFound]
// if path is not a directory, and a *NotLoadedError if reaching it
// requires a non-resident node.
func (m *DepMap[V]) Subtree(path string) (*DepMap[V], error) {
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	segments := splitPath(normalized)
	if len(segments) == 0 {
		return m, nil
	}

	current := m.root
	for index, segment := range segments {
		found := current.find(segment)
		if found == nil {
			return nil, &PathError{Op: "subtree", Path: normalized, Err: ErrSubpathNotFound}
		}
		prefix := strings.Join(segments[:index+1], "/")
		if index == len(segments)-1 && found.mount != nil {
			target := found.mount.Target()
			if target == nil {
				return nil, &NotLoadedError{Path: prefix, Hash: found.mount.hash}
			}
			return target, nil
		}
		next, err := found.descend(prefix)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, &PathError{Op: "subtree", Path: normalized, Err: ErrSubpathNotFound}
		}
		current = next
	}
	return newDepMap(current), nil
}

// DirEntry describes one child of a directory.
type DirEntry[V Value] struct {
	Name     string
	Value    V
	HasValue bool
	// IsDir is true when the child has entries beneath it.
	IsDir bool
}

// ReadDir lists the children of the directory at path in name order.
func (m *DepMap[V]) ReadDir(path string) ([]DirEntry[V], error) {
	directory, err := m.Subtree(path)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry[V], 0, len(directory.root.entries))
	for index := range directory.root.entries {
		current := &directory.root.entries[index]
		entries = append(entries, DirEntry[V]{
			Name:     current.name,
			Value:    current.value,
			HasValue: current.hasValue,
			IsDir:    current.children != nil || current.mount != nil,
		})
	}
	return entries, nil
}

// Walk calls fn for every value in m in path-segment order: an entry's
// value is visited before the entries beneath it. It returns a
// *NotLoadedError on reaching a non-resident sub-node, or the first
// error returned by fn.
func (m *DepMap[V]) Walk(fn func(path string, value V) error) error {
	return walkTree(m.root, "", fn)
}

func walkTree[V Value](t *tree[V], prefix string, fn func(string, V) error) error {
	for index := range t.entries {
		current := &t.entries[index]
		path := JoinPath(prefix, current.name)
		if current.hasValue {
			if err := fn(path, current.value); err != nil {
				return err
			}
		}
		child, err := current.descend(path)
		if err != nil {
			return err
		}
		if child != nil {
			if err := walkTree(child, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the number of values in m, or a *NotLoadedError if any
// sub-node is not resident.
func (m *DepMap[V]) Len() (int, error) {
	count := 0
	err := m.Walk(func(string, V) error {
		count++
		return nil
	})
	return count, err
}
