// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/testutil"
)

const testTimeout = 5 * time.Second

type received struct {
	command ipc.Command
	args    []any
}

// recordingClient is a ConnectorClient that pushes what it receives
// onto channels.
type recordingClient struct {
	packets  chan received
	shutdown chan error
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		packets:  make(chan received, 64),
		shutdown: make(chan error, 1),
	}
}

func (c *recordingClient) OnPacketReceived(command ipc.Command, args []any, frame []byte) {
	decoded, err := Arguments(args, frame)
	if err != nil {
		panic(err)
	}
	c.packets <- received{command: command, args: decoded}
}

func (c *recordingClient) OnShutdown(err error) {
	c.shutdown <- err
}

func (c *recordingClient) next(t *testing.T) received {
	t.Helper()
	return testutil.RequireReceive(t, c.packets, testTimeout, "waiting for packet")
}

func TestArgumentsPrefersStructuredArgs(t *testing.T) {
	args, err := Arguments([]any{"a", 1}, nil)
	if err != nil {
		t.Fatalf("Arguments: %v", err)
	}
	if len(args) != 2 || args[0] != "a" {
		t.Fatalf("Arguments = %v", args)
	}
}

func TestArgumentsDecodesFrame(t *testing.T) {
	frame, err := ipc.EncodeCommand(ipc.Command{Kind: ipc.KindSendMessage, Channel: "jobs"}, "payload", true)
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	args, err := Arguments(nil, frame)
	if err != nil {
		t.Fatalf("Arguments: %v", err)
	}
	if len(args) != 2 || args[0] != "payload" || args[1] != true {
		t.Fatalf("Arguments = %#v", args)
	}
}
