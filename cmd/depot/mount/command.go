// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount implements "depot mount", which serves concrete
// filetrees from the cache as a read-only FUSE filesystem until
// interrupted.
package mount

import (
	"fmt"

	"github.com/bureau-foundation/depot/cmd/depot/cli"
	"github.com/bureau-foundation/depot/lib/depmap"
	"github.com/bureau-foundation/depot/lib/depmapfs"
)

type mountParams struct {
	cli.Environment
	Root       string `json:"root"        flag:"root"        desc:"serve this tree at the mount root instead of every tree by hash"`
	AllowOther bool   `json:"allow_other" flag:"allow-other" desc:"let other users access the mount (needs user_allow_other in /etc/fuse.conf)"`
}

// Command returns the "mount" command.
func Command() *cli.Command {
	var params mountParams

	return &cli.Command{
		Name:    "mount",
		Summary: "Serve cached trees as a read-only FUSE filesystem",
		Usage:   "depot mount <mountpoint> [flags]",
		Description: `Mount a read-only view of the cache at mountpoint and serve it until
interrupted (SIGINT or SIGTERM), then unmount.

Without --root, the mount root lists nothing but resolves any depmap
hash as a directory: <mountpoint>/<hash>/lib/libz.so. With --root, that
one tree is the mount root. Nodes are loaded from the cache lazily as
paths are visited.`,
		Examples: []cli.Example{
			{
				Description: "Browse any cached tree by hash",
				Command:     "depot mount /tmp/depot && ls /tmp/depot/5c2e.../include",
			},
			{
				Description: "Mount one tree",
				Command:     "depot mount --root 5c2e... /tmp/zlib",
			},
		},
		Params: func() any { return &params },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one mountpoint is required")
			}
			var root depmap.Hash
			if params.Root != "" {
				parsed, err := depmap.ParseHash(params.Root)
				if err != nil {
					return fmt.Errorf("--root: %w", err)
				}
				root = parsed
			}

			session, err := params.Open()
			if err != nil {
				return err
			}
			defer session.Close()
			ctx, stop := cli.SignalContext()
			defer stop()

			server, err := depmapfs.Mount(depmapfs.Options{
				Mountpoint: args[0],
				Source:     session.Build,
				Root:       root,
				AllowOther: params.AllowOther,
				Logger:     session.Logger,
			})
			if err != nil {
				return err
			}
			session.Logger.Info("serving depmaps",
				"mountpoint", args[0],
				"root", params.Root,
			)

			<-ctx.Done()
			session.Logger.Info("unmounting", "mountpoint", args[0])
			if err := server.Unmount(); err != nil {
				return fmt.Errorf("unmounting %s: %w", args[0], err)
			}
			return nil
		},
	}
}
