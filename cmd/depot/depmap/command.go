// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package depmap implements the "depot depmap" CLI subcommands: building
// concrete filetrees from manifests and inspecting, reading and checking
// out the trees stored in the cache.
//
// Trees are named by reference: a depmap hash, optionally followed by
// ":" and a path inside the tree ("<hash>:lib/libz.so").
package depmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/buildcontext"
	"github.com/bureau-foundation/depot/lib/codec"
	"github.com/bureau-foundation/depot/lib/compress"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/manifest"
)

// Command returns the top-level "depmap" command with all subcommands.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "depmap",
		Summary: "Build and inspect concrete filetrees",
		Description: `Build and inspect concrete filetrees (depmaps) in the cache.

A depmap maps paths to cached file content, symlinks and directory
markers. It is identified by the hash of its canonical form, so two
builds producing the same tree produce the same hash.`,
		Subcommands: []*cli.Command{
			buildCommand(),
			showCommand(),
			lsCommand(),
			catCommand(),
			checkoutCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Build the trees described by a manifest",
				Command:     "depot depmap build deps/zlib.jsonc",
			},
			{
				Description: "List a directory inside a tree",
				Command:     "depot depmap ls 5c2e...:include",
			},
			{
				Description: "Check a tree out as hard links",
				Command:     "depot depmap checkout 5c2e... ./zlib",
			},
		},
	}
}

func parseReference(args []string) (buildcontext.ConcreteReference, error) {
	if len(args) != 1 {
		return buildcontext.ConcreteReference{}, fmt.Errorf("exactly one reference is required")
	}
	return buildcontext.ParseConcreteReference(args[0])
}

// --- build ---

type buildParams struct {
	cli.Environment
	cli.JSONOutput
	Check bool `json:"check" flag:"check" desc:"validate the manifest without running it"`
}

func buildCommand() *cli.Command {
	var params buildParams

	return &cli.Command{
		Name:    "build",
		Summary: "Run a manifest and print the resulting tree",
		Usage:   "depot depmap build <manifest.jsonc> [flags]",
		Description: `Run the steps of a JSONC manifest in order and print the hash of the
output tree. Steps whose result is already recorded in the action cache
are not run again.

With --check the manifest is validated and every issue is listed, but
nothing runs.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one manifest is required")
			}
			definition, err := manifest.ReadFile(args[0])
			if err != nil {
				return err
			}

			if params.Check {
				issues := manifest.Validate(definition)
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], issue)
				}
				if len(issues) > 0 {
					return &cli.ExitError{Code: 1}
				}
				fmt.Fprintf(os.Stderr, "%s: ok (%d steps)\n", args[0], len(definition.Steps))
				return nil
			}

			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			result, err := manifest.Run(ctx, session.Build, definition)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(result); done {
				return err
			}
			for _, step := range result.Steps {
				cached := ""
				if step.Output.Cached {
					cached = " (cached)"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s%s\n", step.Kind, step.Name, step.Output.Files.Short(), cached)
			}
			fmt.Println(result.Output)
			return nil
		},
	}
}

// --- show ---

type showParams struct {
	cli.Environment
	cli.JSONOutput
	Raw bool `json:"raw" flag:"raw" desc:"print the root node record in CBOR diagnostic notation"`
}

// summary describes one tree node.
type summary struct {
	Hash     depmap.Hash   `json:"hash"`
	Entries  int           `json:"entries"`
	Children []depmap.Hash `json:"children"`
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Summarize a tree and its sub-nodes",
		Usage:   "depot depmap show <reference> [flags]",
		Description: `Load a tree with all of its sub-nodes and print its hash, the number
of values it holds and the sub-nodes mounted directly in it. Fails if
any sub-node is missing from the cache.

With --raw, print the stored record of the root node instead, decoded
from its compression frame and rendered in CBOR diagnostic notation.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			reference, err := parseReference(args)
			if err != nil {
				return err
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			tree, err := session.Build.LookupConcreteDepmapForceDirectory(ctx, reference)
			if err != nil {
				return err
			}
			if params.Raw {
				return printRawNode(ctx, session, tree.Hash())
			}
			if err := session.Build.EnsureResident(ctx, tree); err != nil {
				return err
			}
			count, err := tree.Len()
			if err != nil {
				return err
			}
			result := summary{Hash: tree.Hash(), Entries: count}
			for _, ref := range tree.References() {
				result.Children = append(result.Children, ref.Hash())
			}

			if done, err := params.EmitJSON(result); done {
				return err
			}
			fmt.Printf("hash:     %s\n", result.Hash)
			fmt.Printf("entries:  %d\n", result.Entries)
			fmt.Printf("children: %d\n", len(result.Children))
			for _, child := range result.Children {
				fmt.Printf("  %s\n", child)
			}
			return nil
		},
	}
}

// printRawNode dumps the stored record of one concrete filetree node.
// An inline subdirectory has no record of its own.
func printRawNode(ctx context.Context, session *cli.Session, hash depmap.Hash) error {
	frame, err := session.Cache.ReadNode(ctx, depmap.ConcreteFiletree, hash)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no stored node %s (inline subdirectories are stored with their parent)", hash)
	}
	if err != nil {
		return err
	}
	record, err := compress.Decode(frame)
	if err != nil {
		return fmt.Errorf("node %s: %w", hash, err)
	}
	notation, err := codec.Diagnose(record)
	if err != nil {
		return fmt.Errorf("node %s: %w", hash, err)
	}
	fmt.Println(notation)
	return nil
}

// --- ls ---

type lsParams struct {
	cli.Environment
	cli.JSONOutput
	Recursive bool `json:"recursive" flag:"recursive,r" desc:"list every value beneath the reference"`
}

// listing is one line of ls output.
type listing struct {
	Path  string            `json:"path"`
	Entry *depmap.FileEntry `json:"entry,omitempty"`
}

func lsCommand() *cli.Command {
	var params lsParams

	return &cli.Command{
		Name:    "ls",
		Summary: "List the entries of a tree",
		Usage:   "depot depmap ls <reference> [flags]",
		Description: `List the children of the directory a reference names, or the single
entry it names. With --recursive every value beneath it is listed,
loading sub-nodes from the cache as needed.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			reference, err := parseReference(args)
			if err != nil {
				return err
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			resolution, err := session.Build.LookupConcreteDepmap(ctx, reference)
			if err != nil {
				return err
			}

			var listings []listing
			switch {
			case resolution.IsSubpath():
				entry := resolution.Depmap.Get(resolution.Subpath).Value
				listings = append(listings, listing{Path: resolution.Subpath, Entry: &entry})
			case params.Recursive:
				if err := session.Build.EnsureResident(ctx, resolution.Depmap); err != nil {
					return err
				}
				err = resolution.Depmap.Walk(func(path string, entry depmap.FileEntry) error {
					listings = append(listings, listing{Path: path, Entry: &entry})
					return nil
				})
				if err != nil {
					return err
				}
			default:
				entries, err := resolution.Depmap.ReadDir("")
				if err != nil {
					return err
				}
				for _, child := range entries {
					item := listing{Path: child.Name}
					if child.HasValue {
						entry := child.Value
						item.Entry = &entry
					} else {
						item.Path += "/"
					}
					listings = append(listings, item)
				}
			}

			if done, err := params.EmitJSON(listings); done {
				return err
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
			for _, item := range listings {
				fmt.Fprintf(writer, "%s\t%s\n", describeEntry(item.Entry), item.Path)
			}
			return writer.Flush()
		},
	}
}

// describeEntry renders an entry for ls: the content hash for files,
// the target for symlinks.
func describeEntry(entry *depmap.FileEntry) string {
	if entry == nil {
		return "dir"
	}
	switch entry.Type {
	case depmap.TypeRegular:
		if entry.Executable {
			return "exec " + entry.Hash.String()
		}
		return "file " + entry.Hash.String()
	case depmap.TypeSymlink:
		return "link -> " + entry.Target
	case depmap.TypeDirectory:
		return "dir"
	default:
		return entry.String()
	}
}

// --- cat ---

func catCommand() *cli.Command {
	var params cli.Environment

	return &cli.Command{
		Name:    "cat",
		Summary: "Print a file from a tree",
		Usage:   "depot depmap cat <hash>:<path> [flags]",
		Description: `Write the content of the file a reference names to stdout. Symlinks
inside the tree are followed.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			reference, err := parseReference(args)
			if err != nil {
				return err
			}
			if reference.Subpath == "" {
				return fmt.Errorf("%s names a tree, not a file (use <hash>:<path>)", args[0])
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			guard, err := session.Build.OpenDepmapFile(ctx, reference)
			if err != nil {
				return err
			}
			defer guard.Close()
			_, err = io.Copy(os.Stdout, guard)
			return err
		},
	}
}

// --- checkout ---

func checkoutCommand() *cli.Command {
	var params cli.Environment

	return &cli.Command{
		Name:    "checkout",
		Summary: "Materialize a tree as a directory",
		Usage:   "depot depmap checkout <hash> <destination> [flags]",
		Description: `Materialize a whole tree at destination, which must not exist. Files
are hard links to read-only cache entries, so destination must be on
the same filesystem as the cache.`,
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("a hash and a destination are required")
			}
			if strings.Contains(args[0], ":") {
				return fmt.Errorf("%s: checkout takes a tree hash without a subpath", args[0])
			}
			hash, err := depmap.ParseHash(args[0])
			if err != nil {
				return err
			}
			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			if err := buildcontext.Materialize(ctx, session.Build, hash, args[1]); err != nil {
				if errors.Is(err, buildcontext.ErrDepmapNotFound) {
					return fmt.Errorf("%w (is the tree in cache %s?)", err, session.Config.Cache.Root)
				}
				return err
			}
			session.Logger.Info("checked out tree", "hash", hash.Short(), "destination", args[1])
			return nil
		},
	}
}
