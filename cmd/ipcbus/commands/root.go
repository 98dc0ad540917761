// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import "github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"

// Root returns the ipcbus command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "ipcbus",
		Description: `ipcbus talks to a message bus broker or bridge: send messages, make
requests, listen on channels, answer requests and inspect routing
state.

The bus address defaults to broker.address from the file named by
IPCBUS_CONFIG, or the built-in default socket.`,
		Subcommands: []*cli.Command{
			sendCommand(),
			requestCommand(),
			listenCommand(),
			serveCommand(),
			stateCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{Description: "Make a request", Command: "ipcbus request builds app"},
			{Description: "Inspect the broker", Command: "ipcbus state --address /run/ipcbus.sock"},
		},
	}
}
