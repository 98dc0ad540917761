// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

// Exit codes for a request that completed without an answer.
const (
	exitRejected = 2
	exitTimeout  = 3
)

type requestResult struct {
	Channel   string   `json:"channel"`
	Responder ipc.Peer `json:"responder"`
	Args      []any    `json:"args"`
}

func requestCommand() *cli.Command {
	var bus busFlags
	var raw bool
	var timeout time.Duration
	var output cli.JSONOutput
	return &cli.Command{
		Name:    "request",
		Summary: "Send a request and print the response",
		Description: `Send a request on a channel and wait for the first listener to answer.
The response arguments are printed as a JSON array. A rejected request
prints the reason to stderr and exits 2; a timeout exits 3.`,
		Usage: "ipcbus request <channel> [args...] [flags]",
		Examples: []cli.Example{
			{Description: "Ask the build service for an artifact", Command: "ipcbus request builds app --timeout 10s"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
			bus.register(flagSet)
			flagSet.BoolVar(&raw, "raw", false, "send every argument as a string")
			flagSet.DurationVarP(&timeout, "timeout", "t", 0, "give up after this long (default transport.request_timeout)")
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("request: channel required")
			}
			connection, err := bus.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer connection.close()

			response, err := connection.bus.Request(ctx, args[0], timeout, parseArguments(args[1:], raw)...)
			return reportResponse(os.Stdout, os.Stderr, &output, response, err)
		},
	}
}

func reportResponse(stdout, stderr io.Writer, output *cli.JSONOutput, response *transport.Response, err error) error {
	var rejected *ipc.RequestError
	switch {
	case errors.As(err, &rejected):
		fmt.Fprintf(stderr, "rejected: %s\n", rejected.Reason)
		return &cli.ExitError{Code: exitRejected}
	case errors.Is(err, ipc.ErrRequestTimeout):
		fmt.Fprintln(stderr, "request timed out")
		return &cli.ExitError{Code: exitTimeout}
	case err != nil:
		return err
	}

	output.Output = stdout
	if done, err := output.EmitJSON(requestResult{
		Channel:   response.Channel,
		Responder: response.Responder,
		Args:      jsonSafe(response.Args).([]any),
	}); done {
		return err
	}
	_, err = fmt.Fprintln(stdout, formatArguments(response.Args))
	return err
}
