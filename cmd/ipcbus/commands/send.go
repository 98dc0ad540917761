// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
)

func sendCommand() *cli.Command {
	var bus busFlags
	var raw bool
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message to every listener on a channel",
		Description: `Send a fire-and-forget message. Each argument after the channel is
one message argument: valid JSON is sent as the decoded value, anything
else as a string (--raw sends every argument as a string).`,
		Usage: "ipcbus send <channel> [args...] [flags]",
		Examples: []cli.Example{
			{Description: "Announce a deploy", Command: `ipcbus send deploys '{"service":"api","version":"1.4.2"}'`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			bus.register(flagSet)
			flagSet.BoolVar(&raw, "raw", false, "send every argument as a string")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("send: channel required")
			}
			connection, err := bus.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer connection.close()
			return connection.bus.Send(args[0], parseArguments(args[1:], raw)...)
		},
	}
}
