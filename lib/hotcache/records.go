// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hotcache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/bureau-foundation/depot/lib/depmap"
)

// HasNode reports whether the node record for hash is cached.
func (c *Cache) HasNode(_ context.Context, kind depmap.Kind, hash depmap.Hash) (bool, error) {
	_, err := os.Stat(c.NodePath(kind, hash))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking depmap node %s: %w", hash.Short(), err)
	}
}

// ReadNode returns the stored record for hash. A miss is an error
// matching fs.ErrNotExist.
func (c *Cache) ReadNode(_ context.Context, kind depmap.Kind, hash depmap.Hash) ([]byte, error) {
	return os.ReadFile(c.NodePath(kind, hash))
}

// PutNode stores the record for hash. Storing a hash that is already
// present leaves the existing record untouched.
func (c *Cache) PutNode(_ context.Context, kind depmap.Kind, hash depmap.Hash, data []byte) error {
	return c.writeRecord(c.NodePath(kind, hash), "depmap-"+hash.Short(), data)
}

// ActionKey identifies an action by the digest of its definition.
type ActionKey [32]byte

func (k ActionKey) String() string { return hex.EncodeToString(k[:]) }

// WriteAction records the result of the action identified by key.
// The first recorded result wins; actions are deterministic, so a
// later result for the same key is equivalent.
func (c *Cache) WriteAction(key ActionKey, record []byte) error {
	return c.writeRecord(c.ActionPath(key), "action-"+key.String()[:12], record)
}

// LookupAction returns the recorded result for key. A miss returns
// (nil, false, nil).
func (c *Cache) LookupAction(key ActionKey) ([]byte, bool, error) {
	data, err := os.ReadFile(c.ActionPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading action record %s: %w", key, err)
	}
	return data, true, nil
}
