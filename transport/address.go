// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// ParseAddress splits a bus address into a network and an address for
// the net package. "unix:PATH" and "tcp:HOST:PORT" are explicit; a
// bare address containing a slash is a Unix socket path, anything else
// is TCP.
func ParseAddress(address string) (network, target string, err error) {
	switch {
	case address == "":
		return "", "", fmt.Errorf("empty bus address")
	case strings.HasPrefix(address, "unix:"):
		target = strings.TrimPrefix(address, "unix:")
		network = "unix"
	case strings.HasPrefix(address, "tcp:"):
		target = strings.TrimPrefix(address, "tcp:")
		network = "tcp"
	case strings.Contains(address, "/"):
		network, target = "unix", address
	default:
		network, target = "tcp", address
	}
	if target == "" {
		return "", "", fmt.Errorf("bus address %q has no target", address)
	}
	return network, target, nil
}

// Listen listens on a bus address. A stale Unix socket file left by a
// previous run is removed first; the file is removed again when the
// listener closes.
func Listen(address string) (net.Listener, error) {
	network, target, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if network == "unix" {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", target, err)
		}
	}
	listener, err := net.Listen(network, target)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	if unixListener, ok := listener.(*net.UnixListener); ok {
		unixListener.SetUnlinkOnClose(true)
	}
	return listener, nil
}

// Dialer opens the stream under a socket connector.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dial connects to a bus address and returns a connector over the
// connection. The connector's Process reports the peer credentials of
// Unix socket peers.
func Dial(ctx context.Context, address string, options StreamOptions) (*StreamConnector, error) {
	return DialWith(ctx, &net.Dialer{Timeout: 10 * time.Second}, address, options)
}

// DialWith is Dial with a caller-supplied Dialer.
func DialWith(ctx context.Context, dialer Dialer, address string, options StreamOptions) (*StreamConnector, error) {
	network, target, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	if options.Name == "" {
		options.Name = address
	}
	if options.Process == (ipc.Process{}) {
		options.Process = PeerProcess(conn)
	}
	return NewConnConnector(conn, options), nil
}
