// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/codec"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// ErrInvalidAction is returned by Validate and Run for malformed
// action definitions.
var ErrInvalidAction = errors.New("invalid action")

// recordVersion is the action cache record format. Records with any
// other version are ignored.
const recordVersion = 1

// digestKey is the BLAKE3 key for action digests: the ASCII domain
// name, zero-padded to 32 bytes.
var digestKey = func() [32]byte {
	var key [32]byte
	copy(key[:], "depot.action")
	return key
}()

// Action is a tagged union of the supported actions. Exactly one
// field is set.
type Action struct {
	BuildDepmap *BuildDepmap `json:"build_depmap,omitempty"`
	Download    *Download    `json:"download,omitempty"`
	Extract     *Extract     `json:"extract,omitempty"`
}

// Kind names the action that is set, or "" if none is.
func (a *Action) Kind() string {
	switch {
	case a.BuildDepmap != nil:
		return "build_depmap"
	case a.Download != nil:
		return "download"
	case a.Extract != nil:
		return "extract"
	default:
		return ""
	}
}

// Validate checks that exactly one action is set and that it is well
// formed.
func (a *Action) Validate() error {
	set := 0
	for _, present := range []bool{a.BuildDepmap != nil, a.Download != nil, a.Extract != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one action must be set, have %d", ErrInvalidAction, set)
	}
	var err error
	switch {
	case a.BuildDepmap != nil:
		err = a.BuildDepmap.Validate()
	case a.Download != nil:
		err = a.Download.Validate()
	case a.Extract != nil:
		err = a.Extract.Validate()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", a.Kind(), err)
	}
	return nil
}

// Cacheable reports whether the action's output is fully determined
// by its definition. A download without a checksum may change
// upstream, so its result is never recorded.
func (a *Action) Cacheable() bool {
	if a.Download != nil {
		return a.Download.SHA256 != nil
	}
	return true
}

// Digest identifies an action definition.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 12 hex characters, for log messages.
func (d Digest) Short() string { return d.String()[:12] }

// Digest hashes the deterministic CBOR encoding of a.
func (a *Action) Digest() (Digest, error) {
	data, err := codec.Marshal(a)
	if err != nil {
		return Digest{}, fmt.Errorf("encoding action: %w", err)
	}
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		return Digest{}, err
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// Output is the result of an action.
type Output struct {
	// Files is the concrete filetree the action produced.
	Files depmap.Hash
	// Cached is set when the output came from the action cache.
	Cached bool
}

// record is the action cache entry. The digest is repeated so that a
// record stored under the wrong key is detected.
type record struct {
	Version int         `cbor:"1,keyasint"`
	Digest  Digest      `cbor:"2,keyasint"`
	Files   depmap.Hash `cbor:"3,keyasint"`
}

// Run executes a, or returns its recorded output if the action cache
// holds one whose filetree is still available.
func Run(ctx context.Context, c Context, a *Action) (Output, error) {
	if err := a.Validate(); err != nil {
		return Output{}, err
	}
	digest, err := a.Digest()
	if err != nil {
		return Output{}, err
	}
	logger := c.Logger().With("action", a.Kind(), "digest", digest.Short())

	cacheable := a.Cacheable()
	if cacheable {
		files, found, err := lookupRecord(ctx, c, digest)
		if err != nil {
			return Output{}, err
		}
		if found {
			logger.Debug("action cache hit", "files", files.Short())
			return Output{Files: files, Cached: true}, nil
		}
	}

	var files depmap.Hash
	switch {
	case a.BuildDepmap != nil:
		files, err = a.BuildDepmap.run(ctx, c)
	case a.Download != nil:
		files, err = a.Download.run(ctx, c)
	case a.Extract != nil:
		files, err = a.Extract.run(ctx, c)
	}
	if err != nil {
		return Output{}, fmt.Errorf("running %s action %s: %w", a.Kind(), digest.Short(), err)
	}
	logger.Info("action completed", "files", files.Short())

	if cacheable {
		data, err := codec.Marshal(record{Version: recordVersion, Digest: digest, Files: files})
		if err != nil {
			return Output{}, fmt.Errorf("encoding action record: %w", err)
		}
		if err := c.WriteAction(hotcache.ActionKey(digest), data); err != nil {
			logger.Warn("recording action result failed", "error", err)
		}
	}
	return Output{Files: files}, nil
}

// lookupRecord returns the recorded output for digest. Records that
// fail to decode, belong to another digest, or name a depmap with any
// node no longer stored are treated as misses.
func lookupRecord(ctx context.Context, c Context, digest Digest) (depmap.Hash, bool, error) {
	data, found, err := c.LookupAction(hotcache.ActionKey(digest))
	if err != nil || !found {
		return depmap.Hash{}, false, err
	}

	var stored record
	if err := codec.Unmarshal(data, &stored); err != nil {
		c.Logger().Warn("discarding corrupt action record", "digest", digest.Short(), "error", err)
		return depmap.Hash{}, false, nil
	}
	if stored.Version != recordVersion || stored.Digest != digest {
		c.Logger().Warn("discarding mismatched action record",
			"digest", digest.Short(),
			"version", stored.Version,
			"recorded_digest", stored.Digest.Short(),
		)
		return depmap.Hash{}, false, nil
	}

	// Every node of the output must still be stored: a hit whose
	// sub-nodes were evicted would fail consumers instead of costing a
	// rebuild.
	resolution, err := c.LookupConcreteDepmap(ctx, buildcontext.Reference(stored.Files))
	if err == nil {
		err = c.EnsureResident(ctx, resolution.Depmap)
	}
	if errors.Is(err, buildcontext.ErrDepmapNotFound) {
		c.Logger().Debug("action output no longer cached", "digest", digest.Short(), "files", stored.Files.Short())
		return depmap.Hash{}, false, nil
	}
	if err != nil {
		return depmap.Hash{}, false, err
	}
	return stored.Files, true, nil
}

// cacheStream copies reader into a new cache file, hashing as it
// goes, and inserts the result.
func cacheStream(c Context, description string, reader io.Reader, executable bool) (hotcache.Inserted, error) {
	file, err := c.Tempfile(description, executable)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	hasher := contenthash.NewHasher()
	if _, err := io.Copy(io.MultiWriter(file, hasher), reader); err != nil {
		file.Close()
		return hotcache.Inserted{}, err
	}
	return c.MoveToCachePrehashed(file, hasher.Sum(), executable)
}
