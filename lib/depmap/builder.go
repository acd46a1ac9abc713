// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"slices"
	"strings"
)

// Builder accumulates entries for a new DepMap. A Builder is not safe
// for concurrent use. It may be reused after Build; later operations
// do not affect DepMaps already built.
type Builder[V Value] struct {
	root pending[V]
	err  error
}

// pending is a mutable directory entry. At most one of dir, frozen and
// mount is set. frozen and mount share immutable structure with other
// DepMaps until a write lands beneath them, at which point thaw copies
// one level into dir.
type pending[V Value] struct {
	value    V
	hasValue bool
	dir      map[string]*pending[V]
	frozen   *tree[V]
	mount    *Ref[V]
}

// NewBuilder returns an empty Builder.
func NewBuilder[V Value]() *Builder[V] {
	return &Builder[V]{}
}

// Err returns the first error the builder encountered, if any.
func (b *Builder[V]) Err() error { return b.err }

func (b *Builder[V]) fail(err error) error {
	if err != nil && b.err == nil {
		b.err = err
	}
	return err
}

func (p *pending[V]) hasChildren() bool {
	return len(p.dir) > 0 || p.frozen != nil || p.mount != nil
}

// blocksChildren reports whether p is a leaf that nothing can be
// placed beneath.
func (p *pending[V]) blocksChildren() bool {
	return p.hasValue && !p.value.IsDirectoryMarker()
}

// shared returns the hash of p's children when they are still shared
// immutable structure.
func (p *pending[V]) shared() (Hash, bool) {
	switch {
	case p.frozen != nil:
		return p.frozen.hash, true
	case p.mount != nil:
		return p.mount.hash, true
	default:
		return Hash{}, false
	}
}

// thaw makes p's children mutable, copying one level of shared
// structure. Thawing a mount requires the mounted node to be resident.
func (p *pending[V]) thaw(path string) error {
	switch {
	case p.dir != nil:
		return nil
	case p.frozen != nil:
		p.dir = thawTree(p.frozen)
		p.frozen = nil
	case p.mount != nil:
		target := p.mount.Target()
		if target == nil {
			return &NotLoadedError{Path: path, Hash: p.mount.hash}
		}
		p.dir = thawTree(target.root)
		p.mount = nil
	default:
		p.dir = make(map[string]*pending[V])
	}
	return nil
}

func thawTree[V Value](t *tree[V]) map[string]*pending[V] {
	dir := make(map[string]*pending[V], len(t.entries))
	for index := range t.entries {
		current := &t.entries[index]
		dir[current.name] = &pending[V]{
			value:    current.value,
			hasValue: current.hasValue,
			frozen:   current.children,
			mount:    current.mount,
		}
	}
	return dir
}

// walkTo returns the pending entry at segments, creating intermediate
// directories. Every ancestor must admit children; a leaf in the way
// produces a PathError wrapping collision.
func (b *Builder[V]) walkTo(segments []string, op, path string, collision error) (*pending[V], error) {
	current := &b.root
	for index, segment := range segments {
		if current.blocksChildren() {
			return nil, &PathError{Op: op, Path: path, Err: collision}
		}
		if err := current.thaw(strings.Join(segments[:index], "/")); err != nil {
			return nil, err
		}
		child, ok := current.dir[segment]
		if !ok {
			child = &pending[V]{}
			current.dir[segment] = child
		}
		current = child
	}
	return current, nil
}

// Insert places value at path. Re-inserting an identical value is a
// no-op. A different value at the same path, a leaf above path, or
// entries beneath path (unless value is a directory marker) is an
// [ErrPathConflict].
func (b *Builder[V]) Insert(path string, value V) error {
	if b.err != nil {
		return b.err
	}
	normalized, err := NormalizePath(path)
	if err != nil {
		return b.fail(err)
	}
	if normalized == "" {
		return b.fail(&PathError{Op: "insert", Path: path, Err: ErrInvalidPath})
	}
	if err := value.Validate(); err != nil {
		return b.fail(&PathError{Op: "insert", Path: normalized, Err: err})
	}
	return b.fail(b.put(normalized, value, "insert", ErrPathConflict))
}

func (b *Builder[V]) put(path string, value V, op string, collision error) error {
	target, err := b.walkTo(splitPath(path), op, path, collision)
	if err != nil {
		return err
	}
	if target.hasValue {
		if target.value == value {
			return nil
		}
		return &PathError{Op: op, Path: path, Err: collision}
	}
	if target.hasChildren() && !value.IsDirectoryMarker() {
		return &PathError{Op: op, Path: path, Err: collision}
	}
	target.value = value
	target.hasValue = true
	return nil
}

// Merge grafts other at mountPath ("" for the root). When nothing
// exists at mountPath, other is mounted by reference and its structure
// is shared, not copied. When a directory already exists there, the
// two trees are unioned entry by entry. Mounting onto or beneath a
// non-directory leaf, or a conflicting entry during the union, is an
// [ErrMountCollision]. Merging an empty DepMap is a no-op.
func (b *Builder[V]) Merge(mountPath string, other *DepMap[V]) error {
	if b.err != nil {
		return b.err
	}
	normalized, err := NormalizePath(mountPath)
	if err != nil {
		return b.fail(err)
	}
	return b.fail(b.merge(normalized, other))
}

func (b *Builder[V]) merge(mountPath string, other *DepMap[V]) error {
	if other == nil || other.IsEmpty() {
		return nil
	}
	target, err := b.walkTo(splitPath(mountPath), "merge", mountPath, ErrMountCollision)
	if err != nil {
		return err
	}
	if target.blocksChildren() {
		return &PathError{Op: "merge", Path: mountPath, Err: ErrMountCollision}
	}
	if !target.hasChildren() {
		target.dir = nil
		if mountPath == "" {
			// The root cannot be a mount; share the tree inline.
			target.frozen = other.root
		} else {
			target.mount = newRef(other)
		}
		return nil
	}
	return union(target, mountPath, other.root)
}

// union merges the entries of source into target.
func union[V Value](target *pending[V], path string, source *tree[V]) error {
	if hash, ok := target.shared(); ok && hash == source.hash {
		return nil
	}
	if err := target.thaw(path); err != nil {
		return err
	}
	for index := range source.entries {
		incoming := &source.entries[index]
		childPath := JoinPath(path, incoming.name)

		existing, ok := target.dir[incoming.name]
		if !ok {
			target.dir[incoming.name] = &pending[V]{
				value:    incoming.value,
				hasValue: incoming.hasValue,
				frozen:   incoming.children,
				mount:    incoming.mount,
			}
			continue
		}

		if incoming.hasValue {
			switch {
			case existing.hasValue:
				if existing.value != incoming.value {
					return &PathError{Op: "merge", Path: childPath, Err: ErrMountCollision}
				}
			case existing.hasChildren() && !incoming.value.IsDirectoryMarker():
				return &PathError{Op: "merge", Path: childPath, Err: ErrMountCollision}
			default:
				existing.value = incoming.value
				existing.hasValue = true
			}
		}

		if incoming.children == nil && incoming.mount == nil {
			continue
		}
		if existing.blocksChildren() {
			return &PathError{Op: "merge", Path: childPath, Err: ErrMountCollision}
		}
		if hash, ok := existing.shared(); ok {
			if incomingHash, _ := incoming.childHash(); incomingHash == hash {
				continue
			}
		}
		if !existing.hasChildren() {
			existing.dir = nil
			existing.frozen = incoming.children
			existing.mount = incoming.mount
			continue
		}
		incomingTree, err := incoming.descend(childPath)
		if err != nil {
			return err
		}
		if err := union(existing, childPath, incomingTree); err != nil {
			return err
		}
	}
	return nil
}

// MergeFiltered mounts the entries of other beneath subPath that match
// any of patterns at mountPath. Patterns are matched against paths
// relative to subPath. subPath must resolve to a directory in other
// ([ErrSubpathNotFound]); malformed patterns are [ErrBadPattern]. When
// a pattern matches everything, the subtree is mounted by reference as
// in Merge; otherwise matching entries are copied one by one.
func (b *Builder[V]) MergeFiltered(mountPath, subPath string, patterns []string, other *DepMap[V]) error {
	if b.err != nil {
		return b.err
	}
	compiled, err := CompilePatterns(patterns)
	if err != nil {
		return b.fail(&PathError{Op: "merge", Path: mountPath, Err: err})
	}
	return b.MergeMatching(mountPath, subPath, compiled, other)
}

// MergeMatching is MergeFiltered with precompiled patterns.
func (b *Builder[V]) MergeMatching(mountPath, subPath string, patterns Patterns, other *DepMap[V]) error {
	if b.err != nil {
		return b.err
	}
	normalizedMount, err := NormalizePath(mountPath)
	if err != nil {
		return b.fail(err)
	}
	if other == nil {
		other = Empty[V]()
	}
	source, err := other.Subtree(subPath)
	if err != nil {
		return b.fail(err)
	}

	if patterns.MatchesAll() {
		return b.fail(b.merge(normalizedMount, source))
	}
	if err := b.checkMount(normalizedMount); err != nil {
		return b.fail(err)
	}
	return b.fail(source.Walk(func(relative string, value V) error {
		if !patterns.Match(relative) {
			return nil
		}
		return b.put(JoinPath(normalizedMount, relative), value, "merge", ErrMountCollision)
	}))
}

// checkMount verifies that nothing on the way to mountPath is a
// non-directory leaf, without creating entries.
func (b *Builder[V]) checkMount(mountPath string) error {
	current := &b.root
	segments := splitPath(mountPath)
	for index, segment := range segments {
		if current.blocksChildren() {
			return &PathError{Op: "merge", Path: mountPath, Err: ErrMountCollision}
		}
		var next *pending[V]
		switch {
		case current.dir != nil:
			next = current.dir[segment]
		case current.frozen != nil || current.mount != nil:
			var source *tree[V]
			if current.frozen != nil {
				source = current.frozen
			} else if target := current.mount.Target(); target != nil {
				source = target.root
			} else {
				return &NotLoadedError{Path: strings.Join(segments[:index], "/"), Hash: current.mount.hash}
			}
			if found := source.find(segment); found != nil {
				next = &pending[V]{
					value:    found.value,
					hasValue: found.hasValue,
					frozen:   found.children,
					mount:    found.mount,
				}
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	if current.blocksChildren() {
		return &PathError{Op: "merge", Path: mountPath, Err: ErrMountCollision}
	}
	return nil
}

// Build finalizes the pending tree into a DepMap, hashing each new
// directory bottom-up. Shared subtrees keep their existing hashes.
func (b *Builder[V]) Build() (*DepMap[V], error) {
	if b.err != nil {
		return nil, b.err
	}
	root := freeze(&b.root)
	if root == nil {
		return Empty[V](), nil
	}
	return newDepMap(root), nil
}

// freeze returns the immutable child tree of p, or nil if p has no
// children. Mounts are handled by the caller; the root is never one.
func freeze[V Value](p *pending[V]) *tree[V] {
	switch {
	case p.frozen != nil:
		return p.frozen
	case len(p.dir) == 0:
		return nil
	}

	names := make([]string, 0, len(p.dir))
	for name := range p.dir {
		names = append(names, name)
	}
	slices.Sort(names)

	entries := make([]entry[V], 0, len(names))
	for _, name := range names {
		child := p.dir[name]
		built := entry[V]{name: name, value: child.value, hasValue: child.hasValue}
		if child.mount != nil {
			built.mount = child.mount
		} else {
			built.children = freeze(child)
		}
		if !built.hasValue && built.children == nil && built.mount == nil {
			continue
		}
		entries = append(entries, built)
	}
	if len(entries) == 0 {
		return nil
	}
	return &tree[V]{hash: hashEntries(entries), entries: entries}
}
