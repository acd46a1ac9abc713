// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements the "depot cache" CLI subcommands, which
// work on the content store of the hot disk cache directly: adding
// files, reading them back by content hash, and locating them on disk.
package cache

import (
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/contenthash"
	"github.com/bureau-foundation/depot/lib/hotcache"
)

// Command returns the top-level "cache" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "cache",
		Summary: "Add, read and locate content in the hot disk cache",
		Description: `Work with the content store of the hot disk cache.

Content is addressed by its SHA-256 hash ("sha256:<hex>"). Every hash
has two slots, one for read-only and one for executable content; the
--executable flag selects the executable slot.`,
		Subcommands: []*cli.Command{
			putCommand(),
			getCommand(),
			pathCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Cache a file and print its hash",
				Command:     "depot cache put zlib-1.3.tar.gz",
			},
			{
				Description: "Copy cached content to a file",
				Command:     "depot cache get sha256:9a93... -o zlib.tar.gz",
			},
		},
	}
}

// --- put ---

type putParams struct {
	cli.Environment
	cli.JSONOutput
	Executable bool `json:"executable" flag:"executable,x" desc:"store as executable regardless of the file's mode"`
}

// putResult is one cached file.
type putResult struct {
	Path       string           `json:"path"`
	Hash       contenthash.Hash `json:"hash"`
	Executable bool             `json:"executable"`
	New        bool             `json:"new"`
}

func putCommand() *cli.Command {
	var params putParams

	return &cli.Command{
		Name:    "put",
		Summary: "Copy files into the content store",
		Usage:   "depot cache put <file>... [flags]",
		Description: `Copy files into the content store and print their hashes.

The source files are copied, not moved, and left untouched. A file is
stored as executable when any execute bit is set on it, or when
--executable is given.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one file is required")
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()

			results := make([]putResult, 0, len(args))
			for _, path := range args {
				inserted, err := put(session, path, params.Executable)
				if err != nil {
					return err
				}
				results = append(results, putResult{
					Path:       path,
					Hash:       inserted.Hash,
					Executable: inserted.Executable,
					New:        inserted.New,
				})
			}

			if done, err := params.EmitJSON(results); done {
				return err
			}
			for _, result := range results {
				fmt.Printf("%s  %s\n", describe(result.Hash, result.Executable), result.Path)
			}
			return nil
		},
	}
}

// put streams path through the content hasher into a cache tempfile.
func put(session *cli.Session, path string, forceExecutable bool) (hotcache.Inserted, error) {
	source, err := os.Open(path)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return hotcache.Inserted{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return hotcache.Inserted{}, fmt.Errorf("%s: not a regular file", path)
	}
	executable := forceExecutable || info.Mode().Perm()&0o111 != 0

	file, err := session.Build.Tempfile("cache put "+path, executable)
	if err != nil {
		return hotcache.Inserted{}, err
	}
	hasher := contenthash.NewHasher()
	if _, err := io.Copy(io.MultiWriter(file.File(), hasher), source); err != nil {
		file.Close()
		return hotcache.Inserted{}, fmt.Errorf("copying %s: %w", path, err)
	}
	return session.Build.MoveToCachePrehashed(file, hasher.Sum(), executable)
}

// describe formats a content hash, marking executable content.
func describe(hash contenthash.Hash, executable bool) string {
	if executable {
		return hash.String() + " (x)"
	}
	return hash.String()
}

// --- get ---

type getParams struct {
	cli.Environment
	Executable bool   `json:"executable" flag:"executable,x" desc:"read the executable slot"`
	OutputPath string `json:"-"          flag:"output,o"     desc:"output file path (default: stdout)"`
}

func getCommand() *cli.Command {
	var params getParams

	return &cli.Command{
		Name:    "get",
		Summary: "Copy cached content to a file or stdout",
		Usage:   "depot cache get <hash> [flags]",
		Description: `Copy cached content to the named output file, or to stdout if -o is
not set. Exits with status 1, printing nothing to stdout, when the
content is not cached.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one hash is required")
			}
			hash, err := contenthash.Parse(args[0])
			if err != nil {
				return err
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()

			guard, found, err := session.Build.LookupFile(hash, params.Executable)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(os.Stderr, "%s is not cached\n", describe(hash, params.Executable))
				return &cli.ExitError{Code: 1}
			}
			defer guard.Close()

			if params.OutputPath == "" {
				_, err = io.Copy(os.Stdout, guard)
				return err
			}
			mode := os.FileMode(0o644)
			if params.Executable {
				mode = 0o755
			}
			output, err := os.OpenFile(params.OutputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
			if err != nil {
				return err
			}
			if _, err := io.Copy(output, guard); err != nil {
				output.Close()
				return fmt.Errorf("writing %s: %w", params.OutputPath, err)
			}
			return output.Close()
		},
	}
}

// --- path ---

type pathParams struct {
	cli.Environment
	Executable bool `json:"executable" flag:"executable,x" desc:"locate the executable slot"`
}

func pathCommand() *cli.Command {
	var params pathParams

	return &cli.Command{
		Name:    "path",
		Summary: "Print the on-disk path of cached content",
		Usage:   "depot cache path <hash> [flags]",
		Description: `Print the path of cached content inside the cache root. The file is
read-only and shared: hard-link or copy it, never modify it. Exits with
status 1 when the content is not cached.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one hash is required")
			}
			hash, err := contenthash.Parse(args[0])
			if err != nil {
				return err
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()

			if !session.Cache.ContainsFile(hash, params.Executable) {
				fmt.Fprintf(os.Stderr, "%s is not cached\n", describe(hash, params.Executable))
				return &cli.ExitError{Code: 1}
			}
			fmt.Println(session.Cache.ContentPath(hash, params.Executable))
			return nil
		},
	}
}
