// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete depot CLI command tree.
package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	cachecmd "github.com/bureau-foundation/depot/cmd/depot/cache"
	"github.com/bureau-foundation/depot/cmd/depot/cli"
	depmapcmd "github.com/bureau-foundation/depot/cmd/depot/depmap"
	mountcmd "github.com/bureau-foundation/depot/cmd/depot/mount"
	"github.com/bureau-foundation/depot/lib/version"
)

// Root builds and returns the complete depot CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "depot",
		Description: `depot: content-addressed dependency trees.

Build file trees from downloads, archives and other trees into a local
content-addressed cache, and inspect, check out or mount them by hash.`,
		Subcommands: []*cli.Command{
			cachecmd.Command(),
			depmapcmd.Command(),
			mountcmd.Command(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Build the trees a manifest describes",
				Command:     "depot depmap build deps/zlib.jsonc",
			},
			{
				Description: "Check the resulting tree out",
				Command:     "depot depmap checkout 5c2e... ./third_party/zlib",
			},
			{
				Description: "Use a custom cache location",
				Command:     "DEPOT_CONFIG=./depot.yaml depot cache put file.bin",
			},
		},
	}
}

func versionCommand() *cli.Command {
	var selfHash bool

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&selfHash, "self-hash", false, "also print the content hash of the running binary")
			return flagSet
		},
		Run: func(args []string) error {
			fmt.Printf("depot %s\n", version.Full())
			if !selfHash {
				return nil
			}
			hash, path, err := version.SelfHash()
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", hash, path)
			return nil
		},
	}
}
