// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ipcbus is the command-line client for the message bus. It connects
// to a broker or bridge as an ordinary socket peer, or with --stdio
// runs as a worker under ipcbus-bridge.
//
// Run "ipcbus --help" for the list of commands.
package main
