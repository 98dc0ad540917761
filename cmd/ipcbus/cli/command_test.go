// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesNestedSubcommands(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name: "ipcbus",
		Subcommands: []*Command{
			{Name: "version", Run: func(context.Context, []string) error { called = "version"; return nil }},
			{
				Name: "debug",
				Subcommands: []*Command{{
					Name: "state",
					Run: func(_ context.Context, args []string) error {
						called, received = "debug state", args
						return nil
					},
				}},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"debug", "state", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "debug state" || len(received) != 1 || received[0] != "extra" {
		t.Errorf("called %q with %v", called, received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var address string
	var channel string
	command := &Command{
		Name: "listen",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("listen", pflag.ContinueOnError)
			flagSet.StringVarP(&address, "address", "a", "/default.sock", "bus address")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			channel = args[0]
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"-a", "/custom.sock", "jobs"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if address != "/custom.sock" || channel != "jobs" {
		t.Errorf("address = %q channel = %q", address, channel)
	}
}

func TestExecuteSuggestsFlags(t *testing.T) {
	command := &Command{
		Name: "request",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
			flagSet.Duration("timeout", 0, "")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--timout", "1s"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --timeout") {
		t.Errorf("Execute = %v, want a --timeout suggestion", err)
	}
	err = command.Execute(context.Background(), []string{"--zzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") || !strings.Contains(err.Error(), "--help") {
		t.Errorf("Execute = %v, want a --help pointer and no suggestion", err)
	}
}

func TestExecuteSuggestsSubcommands(t *testing.T) {
	root := &Command{
		Name:        "ipcbus",
		Subcommands: []*Command{{Name: "listen"}, {Name: "request"}, {Name: "state"}},
	}
	err := root.Execute(context.Background(), []string{"requst"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "request"`) {
		t.Errorf("Execute = %v, want a request suggestion", err)
	}
}

func TestExecuteHelpAndMissingSubcommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "ipcbus",
		HelpOutput:  &help,
		Subcommands: []*Command{{Name: "state", Summary: "Show router state"}},
	}
	for _, arg := range []string{"-h", "--help", "help"} {
		if err := root.Execute(context.Background(), []string{arg}); err != nil {
			t.Errorf("Execute(%q): %v", arg, err)
		}
	}
	if !strings.Contains(help.String(), "Show router state") {
		t.Errorf("help output = %q", help.String())
	}

	err := root.Execute(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("Execute() = %v, want subcommand required", err)
	}
}

func TestPrintHelp(t *testing.T) {
	root := &Command{Name: "ipcbus"}
	command := &Command{
		Name:        "request",
		Description: "Send a request and print the response.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
			flagSet.Duration("timeout", 0, "request timeout")
			return flagSet
		},
		Examples: []Example{{Description: "Ask the build service", Command: "ipcbus request builds app"}},
		parent:   root,
	}

	var output bytes.Buffer
	command.PrintHelp(&output)
	for _, want := range []string{
		"Send a request and print the response.",
		"ipcbus request [flags]",
		"Flags:",
		"--timeout",
		"# Ask the build service",
		"ipcbus request builds app",
	} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("help missing %q:\n%s", want, output.String())
		}
	}
}

func TestJSONOutput(t *testing.T) {
	var output bytes.Buffer
	json := JSONOutput{Output: &output}
	if done, err := json.EmitJSON([]string{"a"}); done || err != nil {
		t.Fatalf("EmitJSON without --json = %v, %v", done, err)
	}

	json.OutputJSON = true
	var empty []string
	if done, err := json.EmitJSON(empty); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if strings.TrimSpace(output.String()) != "[]" {
		t.Errorf("nil slice encoded as %q, want []", output.String())
	}
}
