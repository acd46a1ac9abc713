// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest identifying a DepMap's logical
// contents.
type Hash [32]byte

// domainKey is a 32-byte BLAKE3 key. Each Kind hashes under its own
// key so that a concrete and a label tree can never share a hash.
type domainKey [32]byte

// Domain keys are the ASCII domain name, zero-padded to 32 bytes.
// Changing one invalidates every persisted node of that kind.
var (
	concreteDomainKey = newDomainKey("depot.depmap.concrete")
	labelDomainKey    = newDomainKey("depot.depmap.label")
)

func newDomainKey(name string) domainKey {
	var key domainKey
	if len(name) > len(key) {
		panic("depmap: domain name longer than 32 bytes: " + name)
	}
	copy(key[:], name)
	return key
}

// String returns the hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for log output.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:6])
}

// IsZero reports whether h is the zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing depmap hash: %w", err)
	}
	if len(decoded) != len(hash) {
		return hash, fmt.Errorf("depmap hash is %d bytes, want %d", len(decoded), len(hash))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// Entry flag bits fed into the directory hash.
const (
	flagValue    byte = 1 << 0
	flagChildren byte = 1 << 1
)

// hashEntries computes the directory hash over entries, which must be
// sorted by name. The encoding is length-prefixed so no two distinct
// entry lists produce the same byte stream.
func hashEntries[V Value](entries []entry[V]) Hash {
	var zero V
	key := zero.Kind().domainKey()
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("depmap: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	scratch := make([]byte, 0, 256)
	scratch = binary.AppendUvarint(scratch, uint64(len(entries)))
	hasher.Write(scratch)

	for index := range entries {
		current := &entries[index]
		scratch = scratch[:0]
		scratch = binary.AppendUvarint(scratch, uint64(len(current.name)))
		scratch = append(scratch, current.name...)

		var flags byte
		if current.hasValue {
			flags |= flagValue
		}
		childHash, hasChildren := current.childHash()
		if hasChildren {
			flags |= flagChildren
		}
		scratch = append(scratch, flags)

		if current.hasValue {
			canonical := current.value.appendCanonical(nil)
			scratch = binary.AppendUvarint(scratch, uint64(len(canonical)))
			scratch = append(scratch, canonical...)
		}
		if hasChildren {
			scratch = append(scratch, childHash[:]...)
		}
		hasher.Write(scratch)
	}

	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
