// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Size is the length of a content hash in bytes.
const Size = sha256.Size

const textPrefix = "sha256:"

// Hash is the SHA-256 digest of a file's content.
type Hash [Size]byte

// Sum returns the content hash of data.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// HashReader streams reader through SHA-256 and returns the digest
// along with the number of bytes consumed.
func HashReader(reader io.Reader) (Hash, int64, error) {
	hasher := NewHasher()
	written, err := io.Copy(hasher, reader)
	if err != nil {
		return Hash{}, written, fmt.Errorf("hashing content: %w", err)
	}
	return hasher.Sum(), written, nil
}

// HashFile computes the content hash of the file at path with constant
// memory usage.
func HashFile(path string) (Hash, error) {
	file, err := os.Open(path)
	if err != nil {
		return Hash{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, _, err := HashReader(file)
	if err != nil {
		return Hash{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// Hasher accumulates a content hash from a stream of writes. Use it
// with io.MultiWriter to hash content while writing it elsewhere.
type Hasher struct {
	state   hash.Hash
	written int64
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{state: sha256.New()}
}

// Write adds data to the running hash. It never returns an error.
func (h *Hasher) Write(data []byte) (int, error) {
	h.written += int64(len(data))
	return h.state.Write(data)
}

// Written returns the number of bytes hashed so far.
func (h *Hasher) Written() int64 {
	return h.written
}

// Sum returns the hash of everything written so far. It does not
// reset the hasher.
func (h *Hasher) Sum() Hash {
	var digest Hash
	h.state.Sum(digest[:0])
	return digest
}

// IsZero reports whether h is the zero value, which is never a valid
// digest of real content.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the bare lowercase hex encoding of h. Cache paths are
// built from this form.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String returns "sha256:<hex>".
func (h Hash) String() string {
	return textPrefix + h.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Parse parses "sha256:<hex>" or bare hex into a Hash.
func Parse(text string) (Hash, error) {
	var digest Hash
	trimmed := strings.TrimPrefix(text, textPrefix)
	if len(trimmed) != hex.EncodedLen(Size) {
		return digest, fmt.Errorf("content hash %q: want %d hex characters, got %d",
			text, hex.EncodedLen(Size), len(trimmed))
	}
	if _, err := hex.Decode(digest[:], []byte(trimmed)); err != nil {
		return digest, fmt.Errorf("content hash %q: %w", text, err)
	}
	return digest, nil
}
