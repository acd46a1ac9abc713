// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// WriteTree creates files under root from a map of slash-separated
// relative paths to contents. A path ending in "/" creates an empty
// directory. A trailing "*" on the path marks the file executable and
// is stripped from the name.
//
//	testutil.WriteTree(t, dir, map[string]string{
//		"bin/tool*":  "#!/bin/sh\n",
//		"share/doc/": "",
//	})
func WriteTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(name)), 0o755); err != nil {
				t.Fatalf("creating directory %s: %v", name, err)
			}
			continue
		}
		mode := os.FileMode(0o644)
		if trimmed, ok := strings.CutSuffix(name, "*"); ok {
			name = trimmed
			mode = 0o755
		}
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), mode); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
		// WriteFile applies the umask; tests depend on exact modes.
		if err := os.Chmod(path, mode); err != nil {
			t.Fatalf("setting mode on %s: %v", name, err)
		}
	}
}

// RequireFUSE skips the test unless /dev/fuse is openable and a
// fusermount helper is on PATH.
func RequireFUSE(t testing.TB) {
	t.Helper()
	device, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		t.Skipf("FUSE unavailable: %v", err)
	}
	device.Close()
	if _, err := exec.LookPath("fusermount3"); err != nil {
		if _, err := exec.LookPath("fusermount"); err != nil {
			t.Skip("FUSE unavailable: no fusermount helper on PATH")
		}
	}
}
