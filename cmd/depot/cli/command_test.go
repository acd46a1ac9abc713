// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "depot",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "cache",
				Run: func(args []string) error {
					called = "cache"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"cache"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "cache" {
		t.Errorf("dispatched to %q, want %q", called, "cache")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "depot",
		Subcommands: []*Command{
			{
				Name: "depmap",
				Subcommands: []*Command{
					{
						Name: "ls",
						Run: func(args []string) error {
							called = "depmap ls"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"depmap", "ls", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "depmap ls" {
		t.Errorf("dispatched to %q, want %q", called, "depmap ls")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var output string
	var target string

	command := &Command{
		Name: "checkout",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("checkout", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "out", "destination")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"-o", "/tmp/tree", "abc123"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if output != "/tmp/tree" {
		t.Errorf("output = %q, want %q", output, "/tmp/tree")
	}
	if target != "abc123" {
		t.Errorf("target = %q, want %q", target, "abc123")
	}
}

func TestCommand_Execute_Params(t *testing.T) {
	type params struct {
		JSONOutput
		Depth int `flag:"depth" default:"2" desc:"listing depth"`
	}
	var p params

	command := &Command{
		Name:   "ls",
		Params: func() any { return &p },
		Run:    func(args []string) error { return nil },
	}

	if err := command.Execute([]string{"--json"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if !p.OutputJSON || p.Depth != 2 {
		t.Errorf("params = %+v, want json with default depth 2", p)
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "mount",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flagSet.Bool("allow-other", false, "allow other users")
			flagSet.String("root", "", "root depmap")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--allow-othr"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --allow-other?") {
		t.Errorf("error = %q, want suggestion for --allow-other", err)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "depot",
		Subcommands: []*Command{
			{Name: "depmap", Run: func(args []string) error { return nil }},
			{Name: "mount", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"depamp"})
	if err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "depmap"?`) {
		t.Errorf("error = %q, want suggestion for depmap", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "depot",
		Subcommands: []*Command{{Name: "version", Run: func(args []string) error { return nil }}},
	}

	var help bytes.Buffer
	err := root.execute(nil, &help)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want subcommand required", err)
	}
	if !strings.Contains(help.String(), "version") {
		t.Errorf("help output does not list subcommands:\n%s", help.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{Name: "depot"}
	command := &Command{
		Name:        "put",
		Summary:     "Add files to the cache",
		Description: "Add files to the content store.",
		Usage:       "depot cache put <file>...",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			flagSet.Bool("json", false, "output as JSON")
			return flagSet
		},
		Examples: []Example{
			{Description: "Cache a tarball", Command: "depot cache put src.tar.gz"},
		},
		parent: root,
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	help := buffer.String()

	for _, want := range []string{
		"Add files to the content store.",
		"depot cache put <file>...",
		"--json",
		"# Cache a tarball",
		"depot cache put src.tar.gz",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}

func TestCommand_HelpFlag(t *testing.T) {
	called := false
	command := &Command{
		Name: "version",
		Run: func(args []string) error {
			called = true
			return nil
		},
	}

	var help bytes.Buffer
	if err := command.execute([]string{"--help"}, &help); err != nil {
		t.Fatalf("execute(--help) error: %v", err)
	}
	if called {
		t.Error("Run was called for --help")
	}
	if help.Len() == 0 {
		t.Error("no help output")
	}
}
