// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var idSequence atomic.Uint64

// UniqueID returns "prefix-N" with N unique within the test binary.
// Cache tests use it for file contents that must hash differently
// across subtests sharing one cache root.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idSequence.Add(1))
}
