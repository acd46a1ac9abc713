// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"bytes"
	"fmt"

	"github.com/bureau-foundation/depot/lib/codec"
)

// wireVersion is the node record format version.
const wireVersion = 1

// wireHeader is the part of a node record needed to discover its
// sub-nodes. Root stays raw so scanning does not decode the tree.
type wireHeader struct {
	Version uint             `cbor:"1,keyasint"`
	Kind    Kind             `cbor:"2,keyasint"`
	Refs    []Hash           `cbor:"3,keyasint,omitempty"`
	Root    codec.RawMessage `cbor:"4,keyasint"`
}

// wireEntry is one tree entry. Ref is an index into the header's
// Refs and is mutually exclusive with Entries.
type wireEntry[V Value] struct {
	Name    string         `cbor:"1,keyasint"`
	Value   *V             `cbor:"2,keyasint,omitempty"`
	Entries []wireEntry[V] `cbor:"3,keyasint,omitempty"`
	Ref     *uint32        `cbor:"4,keyasint,omitempty"`
}

// Encode serializes the node m: its inline tree plus the hashes of the
// sub-nodes it mounts. Sub-node contents are not included; persist
// them separately (see [DepMap.Transitive]).
func Encode[V Value](m *DepMap[V]) ([]byte, error) {
	index := make(map[Hash]uint32, len(m.refs))
	hashes := make([]Hash, len(m.refs))
	for position, ref := range m.refs {
		index[ref.hash] = uint32(position)
		hashes[position] = ref.hash
	}

	root, err := codec.Marshal(encodeTree(m.root, index))
	if err != nil {
		return nil, fmt.Errorf("encoding depmap %s tree: %w", m.hash.Short(), err)
	}
	data, err := codec.Marshal(wireHeader{
		Version: wireVersion,
		Kind:    m.Kind(),
		Refs:    hashes,
		Root:    root,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding depmap %s: %w", m.hash.Short(), err)
	}
	return data, nil
}

func encodeTree[V Value](t *tree[V], index map[Hash]uint32) []wireEntry[V] {
	entries := make([]wireEntry[V], 0, len(t.entries))
	for position := range t.entries {
		current := &t.entries[position]
		encoded := wireEntry[V]{Name: current.name}
		if current.hasValue {
			value := current.value
			encoded.Value = &value
		}
		switch {
		case current.mount != nil:
			refIndex := index[current.mount.hash]
			encoded.Ref = &refIndex
		case current.children != nil:
			encoded.Entries = encodeTree(current.children, index)
		}
		entries = append(entries, encoded)
	}
	return entries
}

// ScanReferences reads only the header of a node record and returns
// its kind and the hashes of the sub-nodes it mounts.
func ScanReferences(data []byte) (Kind, []Hash, error) {
	header, err := decodeHeader(data)
	if err != nil {
		return 0, nil, err
	}
	return header.Kind, header.Refs, nil
}

func decodeHeader(data []byte) (*wireHeader, error) {
	var header wireHeader
	if err := codec.UnmarshalStrict(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if header.Version != wireVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, header.Version)
	}
	if !header.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupt, header.Kind)
	}
	for position := 1; position < len(header.Refs); position++ {
		if bytes.Compare(header.Refs[position-1][:], header.Refs[position][:]) >= 0 {
			return nil, fmt.Errorf("%w: sub-node references not strictly sorted", ErrCorrupt)
		}
	}
	return &header, nil
}

// Decode parses a node record produced by Encode and verifies that it
// hashes to expected. The returned DepMap has no resident sub-nodes;
// use [DepMap.Attach] to resolve them. Any structural problem,
// including a hash mismatch, returns an error wrapping [ErrCorrupt].
func Decode[V Value](data []byte, expected Hash) (*DepMap[V], error) {
	header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	var zero V
	if header.Kind != zero.Kind() {
		return nil, fmt.Errorf("%w: record holds a %s tree, want %s", ErrCorrupt, header.Kind, zero.Kind())
	}

	refs := make([]*Ref[V], len(header.Refs))
	for position, hash := range header.Refs {
		if hash == expected {
			return nil, fmt.Errorf("%w: node references itself", ErrCorrupt)
		}
		refs[position] = &Ref[V]{hash: hash}
	}

	var entries []wireEntry[V]
	if err := codec.UnmarshalStrict(header.Root, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	used := make([]bool, len(refs))
	root, err := decodeTree(entries, refs, used, true)
	if err != nil {
		return nil, err
	}
	for position, wasUsed := range used {
		if !wasUsed {
			return nil, fmt.Errorf("%w: sub-node %s listed but not mounted", ErrCorrupt, refs[position].hash.Short())
		}
	}

	decoded := newDepMap(root)
	if decoded.hash != expected {
		return nil, fmt.Errorf("%w: content hashes to %s, want %s", ErrCorrupt, decoded.hash.Short(), expected.Short())
	}
	return decoded, nil
}

func decodeTree[V Value](entries []wireEntry[V], refs []*Ref[V], used []bool, isRoot bool) (*tree[V], error) {
	if len(entries) == 0 && !isRoot {
		return nil, fmt.Errorf("%w: empty directory", ErrCorrupt)
	}
	decoded := make([]entry[V], 0, len(entries))
	for position := range entries {
		current := &entries[position]
		if !validSegment(current.Name) {
			return nil, fmt.Errorf("%w: invalid entry name %q", ErrCorrupt, current.Name)
		}
		if position > 0 && entries[position-1].Name >= current.Name {
			return nil, fmt.Errorf("%w: entries not strictly sorted at %q", ErrCorrupt, current.Name)
		}

		built := entry[V]{name: current.Name}
		if current.Value != nil {
			if err := (*current.Value).Validate(); err != nil {
				return nil, fmt.Errorf("%w: entry %q: %v", ErrCorrupt, current.Name, err)
			}
			built.value = *current.Value
			built.hasValue = true
		}

		hasChildren := current.Entries != nil || current.Ref != nil
		switch {
		case current.Entries != nil && current.Ref != nil:
			return nil, fmt.Errorf("%w: entry %q has both inline and mounted children", ErrCorrupt, current.Name)
		case current.Ref != nil:
			refIndex := int(*current.Ref)
			if refIndex >= len(refs) {
				return nil, fmt.Errorf("%w: entry %q mounts unknown sub-node %d", ErrCorrupt, current.Name, refIndex)
			}
			built.mount = refs[refIndex]
			used[refIndex] = true
		case current.Entries != nil:
			children, err := decodeTree(current.Entries, refs, used, false)
			if err != nil {
				return nil, err
			}
			built.children = children
		}

		if !built.hasValue && !hasChildren {
			return nil, fmt.Errorf("%w: entry %q is empty", ErrCorrupt, current.Name)
		}
		if built.hasValue && hasChildren && !built.value.IsDirectoryMarker() {
			return nil, fmt.Errorf("%w: leaf %q has children", ErrCorrupt, current.Name)
		}
		decoded = append(decoded, built)
	}
	return &tree[V]{hash: hashEntries(decoded), entries: decoded}, nil
}
