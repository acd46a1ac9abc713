// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package depmap

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/depot/lib/contenthash"
)

// Kind identifies a DepMap instantiation. The set is closed: every
// switch over Kind in depot is exhaustive over these constants.
type Kind uint8

const (
	// ConcreteFiletree maps paths to resolved [FileEntry] values.
	ConcreteFiletree Kind = 1
	// LabelFiletree maps paths to unresolved [Label] values.
	LabelFiletree Kind = 2
)

// Kinds lists every supported Kind.
var Kinds = []Kind{ConcreteFiletree, LabelFiletree}

func (k Kind) String() string {
	switch k {
	case ConcreteFiletree:
		return "concrete"
	case LabelFiletree:
		return "label"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k == ConcreteFiletree || k == LabelFiletree
}

// ParseKind parses the String form of a Kind.
func ParseKind(name string) (Kind, error) {
	for _, kind := range Kinds {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown depmap kind %q", name)
}

func (k Kind) domainKey() domainKey {
	switch k {
	case ConcreteFiletree:
		return concreteDomainKey
	case LabelFiletree:
		return labelDomainKey
	default:
		panic(fmt.Sprintf("depmap: no domain key for %s", k))
	}
}

// Value is the constraint satisfied by the value types a DepMap can
// hold. It is a closed union: FileEntry and Label.
type Value interface {
	FileEntry | Label

	// Kind returns the DepMap instantiation this value type belongs to.
	Kind() Kind

	// Validate reports whether the value is well formed.
	Validate() error

	// IsDirectoryMarker reports whether the value marks a directory,
	// which may coexist with entries beneath it.
	IsDirectoryMarker() bool

	appendCanonical(buffer []byte) []byte
}

// EntryType discriminates the variants of a FileEntry.
type EntryType uint8

const (
	// TypeRegular is a regular file stored in the hot disk cache.
	TypeRegular EntryType = 1
	// TypeSymlink is a symbolic link with a literal target.
	TypeSymlink EntryType = 2
	// TypeDirectory marks a directory, possibly empty.
	TypeDirectory EntryType = 3
)

func (t EntryType) String() string {
	switch t {
	case TypeRegular:
		return "file"
	case TypeSymlink:
		return "symlink"
	case TypeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// FileEntry is what sits at one path of a concrete filetree. Only the
// fields relevant to Type are set; constructors below keep the rest
// zero so that equal entries compare equal with ==.
type FileEntry struct {
	Type       EntryType        `cbor:"1,keyasint"`
	Hash       contenthash.Hash `cbor:"2,keyasint"`
	Executable bool             `cbor:"3,keyasint,omitempty"`
	Target     string           `cbor:"4,keyasint,omitempty"`
}

// RegularFile returns a FileEntry for cached content.
func RegularFile(hash contenthash.Hash, executable bool) FileEntry {
	return FileEntry{Type: TypeRegular, Hash: hash, Executable: executable}
}

// SymlinkTo returns a FileEntry for a symbolic link to target.
func SymlinkTo(target string) FileEntry {
	return FileEntry{Type: TypeSymlink, Target: target}
}

// DirectoryMarker returns the FileEntry that marks a directory.
func DirectoryMarker() FileEntry {
	return FileEntry{Type: TypeDirectory}
}

// Kind returns ConcreteFiletree.
func (FileEntry) Kind() Kind { return ConcreteFiletree }

// IsDirectoryMarker reports whether e is a directory marker.
func (e FileEntry) IsDirectoryMarker() bool { return e.Type == TypeDirectory }

// Validate checks that e is one of the three well-formed variants.
func (e FileEntry) Validate() error {
	switch e.Type {
	case TypeRegular:
		if e.Hash.IsZero() {
			return fmt.Errorf("regular file entry has no content hash")
		}
		if e.Target != "" {
			return fmt.Errorf("regular file entry has a symlink target")
		}
	case TypeSymlink:
		if e.Target == "" {
			return fmt.Errorf("symlink entry has an empty target")
		}
		if strings.IndexByte(e.Target, 0) >= 0 {
			return fmt.Errorf("symlink target contains a NUL byte")
		}
		if !e.Hash.IsZero() || e.Executable {
			return fmt.Errorf("symlink entry carries file fields")
		}
	case TypeDirectory:
		if !e.Hash.IsZero() || e.Executable || e.Target != "" {
			return fmt.Errorf("directory entry carries file fields")
		}
	default:
		return fmt.Errorf("unknown file entry type %d", e.Type)
	}
	return nil
}

func (e FileEntry) String() string {
	switch e.Type {
	case TypeRegular:
		if e.Executable {
			return "file " + e.Hash.String() + " (executable)"
		}
		return "file " + e.Hash.String()
	case TypeSymlink:
		return "symlink -> " + e.Target
	default:
		return e.Type.String()
	}
}

func (e FileEntry) appendCanonical(buffer []byte) []byte {
	buffer = append(buffer, byte(e.Type))
	switch e.Type {
	case TypeRegular:
		buffer = append(buffer, e.Hash[:]...)
		if e.Executable {
			buffer = append(buffer, 1)
		} else {
			buffer = append(buffer, 0)
		}
	case TypeSymlink:
		buffer = binary.AppendUvarint(buffer, uint64(len(e.Target)))
		buffer = append(buffer, e.Target...)
	}
	return buffer
}

// Label names a build target whose output has not been resolved yet:
// "//package:target", "@workspace//package:target", or a
// package-relative ":target".
type Label string

// Kind returns LabelFiletree.
func (Label) Kind() Kind { return LabelFiletree }

// IsDirectoryMarker always returns false; label trees have no
// directory markers.
func (Label) IsDirectoryMarker() bool { return false }

// Validate checks the label's syntax.
func (l Label) Validate() error {
	text := string(l)
	if text == "" {
		return fmt.Errorf("empty label")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("label %q is not valid UTF-8", text)
	}
	if strings.IndexByte(text, 0) >= 0 {
		return fmt.Errorf("label %q contains a NUL byte", text)
	}
	if !strings.HasPrefix(text, "//") && !strings.HasPrefix(text, "@") && !strings.HasPrefix(text, ":") {
		return fmt.Errorf("label %q must start with //, @ or :", text)
	}
	return nil
}

func (l Label) String() string { return string(l) }

func (l Label) appendCanonical(buffer []byte) []byte {
	buffer = binary.AppendUvarint(buffer, uint64(len(l)))
	return append(buffer, l...)
}
