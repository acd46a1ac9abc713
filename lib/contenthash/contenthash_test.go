// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contenthash

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHashFile(t *testing.T) {
	content := []byte("hello, depot")
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if want := Hash(sha256.Sum256(content)); got != want {
		t.Errorf("HashFile = %s, want %s", got, want)
	}
}

func TestHashFileNonexistent(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("HashFile should fail for a nonexistent file")
	}
}

func TestHasherMatchesSum(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)

	hasher := NewHasher()
	var sink bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&sink, hasher), bytes.NewReader(content)); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if hasher.Written() != int64(len(content)) {
		t.Errorf("Written = %d, want %d", hasher.Written(), len(content))
	}
	if got, want := hasher.Sum(), Sum(content); got != want {
		t.Errorf("streaming hash = %s, want %s", got, want)
	}
	if !bytes.Equal(sink.Bytes(), content) {
		t.Error("tee destination did not receive the full content")
	}
}

func TestHashReaderCount(t *testing.T) {
	digest, count, err := HashReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if digest != Sum([]byte("abc")) {
		t.Errorf("digest = %s, want %s", digest, Sum([]byte("abc")))
	}
}

func TestParse(t *testing.T) {
	digest := Sum([]byte("parse me"))

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "prefixed", input: digest.String()},
		{name: "bare", input: digest.Hex()},
		{name: "short", input: "sha256:abcd", wantErr: true},
		{name: "not hex", input: strings.Repeat("zz", Size), wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Parse(test.input)
			if test.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", test.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", test.input, err)
			}
			if got != digest {
				t.Errorf("Parse(%q) = %s, want %s", test.input, got, digest)
			}
		})
	}
}

func TestTextRoundTrip(t *testing.T) {
	digest := Sum([]byte("text"))
	text, err := digest.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if !strings.HasPrefix(string(text), "sha256:") {
		t.Errorf("MarshalText = %q, want sha256: prefix", text)
	}

	var decoded Hash
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != digest {
		t.Errorf("round trip = %s, want %s", decoded, digest)
	}
}

func TestIsZero(t *testing.T) {
	if !(Hash{}).IsZero() {
		t.Error("zero Hash should report IsZero")
	}
	if Sum(nil).IsZero() {
		t.Error("hash of empty content is not the zero value")
	}
}
