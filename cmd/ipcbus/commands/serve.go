// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
	"github.com/bureau-foundation/ipcbus/transport"
)

// responder answers requests with fixed arguments, a rejection, or an
// echo of the request's own arguments.
type responder struct {
	reply  []any
	reject string
	logger *slog.Logger
}

func (r *responder) handle(message *transport.Message) {
	if !message.IsRequest() {
		return
	}
	var err error
	switch {
	case r.reject != "":
		err = message.Reject(r.reject)
	case r.reply != nil:
		err = message.Resolve(r.reply...)
	default:
		err = message.Resolve(message.Args...)
	}
	if err != nil {
		r.logger.Warn("answering request", "channel", message.Channel, "error", err)
		return
	}
	r.logger.Debug("answered request", "channel", message.Channel, "sender", message.Sender.ID)
}

func serveCommand() *cli.Command {
	var bus busFlags
	var reply []string
	var reject string
	return &cli.Command{
		Name:    "serve",
		Summary: "Answer requests on channels",
		Description: `Subscribe to channels and answer every request delivered to them. By
default a request is resolved with its own arguments; --reply sets
fixed response arguments and --reject rejects with a reason.

With --stdio the command speaks the bus protocol on stdin and stdout,
so it can run as a worker under ipcbus-bridge.`,
		Usage: "ipcbus serve <channel>... [flags]",
		Examples: []cli.Example{
			{Description: "Echo requests on a channel", Command: "ipcbus serve echo"},
			{Description: "Run as a bridge worker", Command: "ipcbus-bridge -- ipcbus serve --stdio echo"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			bus.register(flagSet)
			flagSet.StringArrayVar(&reply, "reply", nil, "response argument (repeatable; JSON or string)")
			flagSet.StringVar(&reject, "reject", "", "reject every request with this reason")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("serve: at least one channel required")
			}
			if reject != "" && reply != nil {
				return fmt.Errorf("serve: --reply and --reject are mutually exclusive")
			}
			handler := &responder{reject: reject, logger: cli.NewCommandLogger(bus.Verbose)}
			if reply != nil {
				handler.reply = parseArguments(reply, false)
			}

			connection, err := bus.connect(ctx, func(bus *transport.Transport) {
				for _, channel := range args {
					bus.Subscribe(channel, handler.handle)
				}
			})
			if err != nil {
				return err
			}
			defer connection.close()
			connection.logger.Info("serving", "channels", args, "peer", connection.bus.Peer().ID)

			return connection.wait(ctx, nil)
		},
	}
}
