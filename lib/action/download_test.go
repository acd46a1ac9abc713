// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/testutil"
	"github.com/bureau-foundation/depot/lib/version"
)

type fileServer struct {
	*httptest.Server
	hits       atomic.Int64
	userAgents chan string
}

// newFileServer serves files by path; anything else is a 404.
func newFileServer(t *testing.T, files map[string]string) *fileServer {
	t.Helper()
	server := &fileServer{userAgents: make(chan string, 16)}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.hits.Add(1)
		select {
		case server.userAgents <- r.UserAgent():
		default:
		}
		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDownload(t *testing.T) {
	const content = "#!/bin/sh\necho tool\n"
	server := newFileServer(t, map[string]string{"/releases/tool-1.0": content})
	env := newEnv(t)
	env.client = server.Client()

	checksum := contenthash.Sum([]byte(content))
	a := &Action{Download: &Download{
		URLs:       []string{server.URL + "/releases/tool-1.0"},
		SHA256:     &checksum,
		Executable: true,
	}}

	output := run(t, env.context(t), a)
	tree := loadTree(t, env.context(t), output.Files)
	lookup := tree.Get("tool-1.0")
	if lookup.Value.Hash != checksum || !lookup.Value.Executable {
		t.Errorf("tool-1.0 = %+v, want executable %s", lookup, checksum)
	}
	if got := readFile(t, env.context(t), output.Files, "tool-1.0"); got != content {
		t.Errorf("content = %q", got)
	}
	if agent := testutil.RequireReceive(t, server.userAgents, 5*time.Second, "waiting for request"); agent != version.UserAgent() {
		t.Errorf("User-Agent = %q, want %q", agent, version.UserAgent())
	}

	again := run(t, env.context(t), a)
	if !again.Cached || again.Files != output.Files {
		t.Errorf("second run = %+v, want cached %s", again, output.Files.Short())
	}
	if hits := server.hits.Load(); hits != 1 {
		t.Errorf("server saw %d requests, want 1", hits)
	}
}

func TestDownloadFilenameAndUserAgent(t *testing.T) {
	server := newFileServer(t, map[string]string{"/": "index"})
	env := newEnv(t)
	env.client = server.Client()

	output := run(t, env.context(t), &Action{Download: &Download{
		URLs:      []string{server.URL + "/"},
		Filename:  "share/index.html",
		UserAgent: "custom-agent/2",
	}})
	if got := readFile(t, env.context(t), output.Files, "share/index.html"); got != "index" {
		t.Errorf("share/index.html = %q", got)
	}
	if agent := testutil.RequireReceive(t, server.userAgents, 5*time.Second, "waiting for request"); agent != "custom-agent/2" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestDownloadDefaultFilename(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/dist/pkg-1.0.tar.gz", "pkg-1.0.tar.gz"},
		{"https://example.com/dist/pkg.zip?token=x", "pkg.zip"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
	}
	for _, test := range tests {
		download := Download{URLs: []string{test.url}}
		got, err := download.filename()
		if err != nil {
			t.Errorf("filename(%s): %v", test.url, err)
			continue
		}
		if got != test.want {
			t.Errorf("filename(%s) = %q, want %q", test.url, got, test.want)
		}
	}
}

func TestDownloadFallsBackToLaterURL(t *testing.T) {
	server := newFileServer(t, map[string]string{"/mirror/file": "payload"})
	env := newEnv(t)
	env.client = server.Client()

	output := run(t, env.context(t), &Action{Download: &Download{
		URLs: []string{server.URL + "/primary/file", server.URL + "/mirror/file"},
	}})
	if got := readFile(t, env.context(t), output.Files, "file"); got != "payload" {
		t.Errorf("file = %q", got)
	}
	if !strings.Contains(env.logs.String(), "download attempt failed") {
		t.Errorf("failed attempt not logged:\n%s", env.logs.String())
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	server := newFileServer(t, map[string]string{"/file": "tampered"})
	env := newEnv(t)
	env.client = server.Client()

	checksum := contenthash.Sum([]byte("expected"))
	c := env.context(t)
	_, err := Run(context.Background(), c, &Action{Download: &Download{
		URLs:   []string{server.URL + "/file"},
		SHA256: &checksum,
	}})
	if !errors.Is(err, ErrDownloadFailed) || !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Run = %v, want ErrDownloadFailed wrapping ErrChecksumMismatch", err)
	}
	if c.Cache().ContainsFile(contenthash.Sum([]byte("tampered")), false) {
		t.Error("content with the wrong checksum was inserted into the cache")
	}
}

func TestDownloadWithoutChecksumIsNotRecorded(t *testing.T) {
	server := newFileServer(t, map[string]string{"/latest": "v2"})
	env := newEnv(t)
	env.client = server.Client()

	a := &Action{Download: &Download{URLs: []string{server.URL + "/latest"}}}
	for range 2 {
		if output := run(t, env.context(t), a); output.Cached {
			t.Error("download without a checksum came from the action cache")
		}
	}
	if hits := server.hits.Load(); hits != 2 {
		t.Errorf("server saw %d requests, want 2", hits)
	}
}
