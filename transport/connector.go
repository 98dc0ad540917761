// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// Connector owns one link between a bus participant and a router.
type Connector interface {
	// Start begins delivering inbound commands to client. It is
	// called once, before any Post.
	Start(client ConnectorClient) error

	// PostCommand sends a command with its arguments.
	PostCommand(command ipc.Command, args ...any) error

	// PostBuffer sends a complete command frame as produced by
	// ipc.EncodeCommand. Routers use it to forward frames unchanged.
	PostBuffer(frame []byte) error

	// Framed reports whether the link carries bytes. Routers encode a
	// structured command once and PostBuffer it to every framed
	// connector.
	Framed() bool

	// Process describes the process at the other end of the link, as
	// far as the connector can tell. Ids it cannot determine are
	// ipc.Unavailable.
	Process() ipc.Process

	// Close tears the link down. The client receives OnShutdown.
	Close() error
}

// ConnectorClient receives what a Connector reads.
type ConnectorClient interface {
	// OnPacketReceived delivers one command. A framed connector passes
	// the whole frame and nil args; an in-memory connector passes args
	// and a nil frame. Use [Arguments] to get args either way.
	OnPacketReceived(command ipc.Command, args []any, frame []byte)

	// OnShutdown is called once when the link ends. err wraps
	// ipc.ErrClosed after a local Close and ipc.ErrConnectionLost
	// otherwise.
	OnShutdown(err error)
}

// Arguments returns the arguments of a received command, decoding them
// from frame when the connector delivered bytes.
func Arguments(args []any, frame []byte) ([]any, error) {
	if frame == nil {
		return args, nil
	}
	_, decoded, err := ipc.DecodeCommand(frame)
	if err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	return decoded, nil
}
