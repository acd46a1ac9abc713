// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package cachefile

import "os"

func openUnlinked(string, string, os.FileMode) (*os.File, error) {
	return nil, errUnlinkedUnsupported
}

func linkUnlinked(file *os.File, destination string) error {
	return &os.LinkError{Op: "link", Old: file.Name(), New: destination, Err: errUnlinkedUnsupported}
}
