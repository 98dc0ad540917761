// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the ipcbus CLI.
//
// A [Command] has a name, optional nested [Command.Subcommands], a
// pflag set factory and a Run function. [Command.Execute] parses
// flags, dispatches subcommands and prints help with examples. Unknown
// commands and flags get a "did you mean" suggestion when one is
// within an edit distance of three.
//
// [JSONOutput] gives commands a --json mode, and [ExitError] lets a
// command choose its exit status after printing its own result.
package cli
