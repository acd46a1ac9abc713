// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/hotcache"
	"github.com/bureau-foundation/depot/lib/version"
)

var (
	// ErrChecksumMismatch is returned when downloaded content does not
	// have the declared SHA-256.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrDownloadFailed is returned when no URL of a download could be
	// fetched. It wraps the error of every attempt.
	ErrDownloadFailed = errors.New("download failed")
)

// Download fetches one file, trying each URL in order until one
// succeeds. The output is a filetree holding just that file.
type Download struct {
	URLs []string `json:"urls"`
	// Filename is the path of the file in the output. It defaults to
	// the last element of the first URL's path.
	Filename string `json:"filename,omitempty"`
	// SHA256 is the expected content hash. Downloads without one are
	// not recorded in the action cache.
	SHA256     *contenthash.Hash `json:"sha256,omitempty"`
	Executable bool              `json:"executable,omitempty"`
	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"user_agent,omitempty"`
}

// Validate checks that every URL is absolute http(s) and that the
// output filename is a valid non-root path.
func (d *Download) Validate() error {
	if len(d.URLs) == 0 {
		return fmt.Errorf("%w: download has no URLs", ErrInvalidAction)
	}
	for _, raw := range d.URLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%w: unsupported URL scheme in %q", ErrInvalidAction, raw)
		}
	}
	filename, err := d.filename()
	if err != nil {
		return err
	}
	if filename == "" {
		return fmt.Errorf("%w: download filename is empty", ErrInvalidAction)
	}
	return nil
}

func (d *Download) filename() (string, error) {
	if d.Filename != "" {
		return depmap.NormalizePath(d.Filename)
	}
	parsed, err := url.Parse(d.URLs[0])
	if err != nil {
		return "", err
	}
	base := path.Base(parsed.Path)
	if base == "/" || base == "." {
		return "download", nil
	}
	return base, nil
}

func (d *Download) run(ctx context.Context, c Context) (depmap.Hash, error) {
	filename, err := d.filename()
	if err != nil {
		return depmap.Hash{}, err
	}

	var attempts []error
	for _, source := range d.URLs {
		inserted, err := d.fetch(ctx, c, source)
		if err != nil {
			if ctx.Err() != nil {
				return depmap.Hash{}, ctx.Err()
			}
			c.Logger().Warn("download attempt failed", "url", source, "error", err)
			attempts = append(attempts, err)
			continue
		}

		builder := depmap.NewBuilder[depmap.FileEntry]()
		if err := builder.Insert(filename, inserted.Entry()); err != nil {
			return depmap.Hash{}, err
		}
		result, err := builder.Build()
		if err != nil {
			return depmap.Hash{}, err
		}
		return c.RegisterConcreteFiletree(ctx, result)
	}
	return depmap.Hash{}, fmt.Errorf("%w: %w", ErrDownloadFailed, errors.Join(attempts...))
}

// fetch streams one URL into the cache, verifying the checksum before
// the content is inserted.
func (d *Download) fetch(ctx context.Context, c Context, source string) (hotcache.Inserted, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	userAgent := d.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	request.Header.Set("User-Agent", userAgent)

	response, err := c.HTTPClient().Do(request)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return hotcache.Inserted{}, fmt.Errorf("GET %s: %s", source, response.Status)
	}

	file, err := c.Tempfile("download-"+path.Base(request.URL.Path), d.Executable)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	hasher := contenthash.NewHasher()
	if _, err := io.Copy(io.MultiWriter(file, hasher), response.Body); err != nil {
		file.Close()
		return hotcache.Inserted{}, fmt.Errorf("reading %s: %w", source, err)
	}
	hash := hasher.Sum()
	if d.SHA256 != nil && hash != *d.SHA256 {
		file.Close()
		return hotcache.Inserted{}, fmt.Errorf("%w: %s: expected %s, got %s", ErrChecksumMismatch, source, d.SHA256, hash)
	}
	c.Logger().Debug("downloaded file", "url", source, "bytes", hasher.Written(), "hash", hash)
	return c.MoveToCachePrehashed(file, hash, d.Executable)
}
