// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

type receivedMessage struct {
	Channel string   `json:"channel"`
	Sender  ipc.Peer `json:"sender"`
	Request bool     `json:"request"`
	Args    []any    `json:"args"`
}

// messagePrinter writes one line per delivered message. Handlers run
// on the transport's dispatch goroutine, but the count is shared with
// the caller.
type messagePrinter struct {
	output io.Writer
	json   bool
	limit  int

	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newMessagePrinter(output io.Writer, json bool, limit int) *messagePrinter {
	return &messagePrinter{output: output, json: json, limit: limit, done: make(chan struct{})}
}

func (p *messagePrinter) print(message *transport.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.count >= p.limit {
		return
	}
	p.count++

	if p.json {
		cli.WriteJSON(p.output, receivedMessage{
			Channel: message.Channel,
			Sender:  message.Sender,
			Request: message.IsRequest(),
			Args:    jsonSafe(message.Args).([]any),
		})
	} else {
		kind := "message"
		if message.IsRequest() {
			kind = "request"
		}
		fmt.Fprintf(p.output, "%s %s from %s: %s\n", message.Channel, kind, senderLabel(message.Sender), formatArguments(message.Args))
	}

	if p.limit > 0 && p.count == p.limit {
		close(p.done)
	}
}

func senderLabel(peer ipc.Peer) string {
	if peer.Name != "" {
		return peer.Name
	}
	return peer.ID
}

func listenCommand() *cli.Command {
	var bus busFlags
	var count int
	var jsonOutput bool
	return &cli.Command{
		Name:    "listen",
		Summary: "Print messages and requests arriving on channels",
		Description: `Subscribe to one or more channels and print every message and request
delivered to them until interrupted. Requests are printed but not
answered; use "ipcbus serve" to answer them.`,
		Usage: "ipcbus listen <channel>... [flags]",
		Examples: []cli.Example{
			{Description: "Watch deploy announcements", Command: "ipcbus listen deploys"},
			{Description: "Wait for one message and exit", Command: "ipcbus listen builds --count 1 --json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("listen", pflag.ContinueOnError)
			bus.register(flagSet)
			flagSet.IntVar(&count, "count", 0, "exit after this many messages (0 runs until interrupted)")
			flagSet.BoolVar(&jsonOutput, "json", false, "print each message as a JSON object")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("listen: at least one channel required")
			}
			printer := newMessagePrinter(os.Stdout, jsonOutput, count)
			connection, err := bus.connect(ctx, func(bus *transport.Transport) {
				for _, channel := range args {
					bus.Subscribe(channel, printer.print)
				}
			})
			if err != nil {
				return err
			}
			defer connection.close()

			return connection.wait(ctx, printer.done)
		},
	}
}
