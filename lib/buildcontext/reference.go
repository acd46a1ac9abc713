// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buildcontext

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/depot/lib/depmap"
)

// ConcreteReference names a concrete filetree, or a path within one.
// Its text form is "<hash>" or "<hash>:<subpath>".
type ConcreteReference struct {
	Hash    depmap.Hash
	Subpath string
}

// Reference returns a reference to the root of the depmap with hash.
func Reference(hash depmap.Hash) ConcreteReference {
	return ConcreteReference{Hash: hash}
}

// Join returns a reference to path beneath r.
func (r ConcreteReference) Join(path string) (ConcreteReference, error) {
	normalized, err := depmap.NormalizePath(path)
	if err != nil {
		return ConcreteReference{}, err
	}
	return ConcreteReference{Hash: r.Hash, Subpath: depmap.JoinPath(r.Subpath, normalized)}, nil
}

func (r ConcreteReference) String() string {
	if r.Subpath == "" {
		return r.Hash.String()
	}
	return r.Hash.String() + ":" + r.Subpath
}

// ParseConcreteReference parses the text form of a reference. The
// subpath is normalized.
func ParseConcreteReference(text string) (ConcreteReference, error) {
	hashText, subpath, _ := strings.Cut(text, ":")
	hash, err := depmap.ParseHash(hashText)
	if err != nil {
		return ConcreteReference{}, fmt.Errorf("parsing reference %q: %w", text, err)
	}
	normalized, err := depmap.NormalizePath(subpath)
	if err != nil {
		return ConcreteReference{}, fmt.Errorf("parsing reference %q: %w", text, err)
	}
	return ConcreteReference{Hash: hash, Subpath: normalized}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (r ConcreteReference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ConcreteReference) UnmarshalText(text []byte) error {
	parsed, err := ParseConcreteReference(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
