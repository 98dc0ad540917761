// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/router"
	"github.com/bureau-foundation/ipcbus/transport"
)

// Broker routes commands between socket-connected peers.
type Broker struct {
	// Address is the bus address to listen on ("unix:/run/ipcbus.sock",
	// "tcp:127.0.0.1:7300", or a bare path).
	Address string

	// Name is the broker's peer name in state answers. Defaults to
	// "broker".
	Name string

	// HandshakeTimeout closes connections that never handshake.
	HandshakeTimeout time.Duration

	// Observer, if set, sees every routed command.
	Observer router.Observer

	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-command events are logged at Debug level; connection
	// lifecycle at Info.
	Logger *slog.Logger

	core     *router.Core
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (b *Broker) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Start binds the listener and begins accepting peers in the
// background. It returns an error if binding fails. The broker runs
// until Stop is called or ctx is cancelled.
func (b *Broker) Start(ctx context.Context) error {
	if b.Address == "" {
		return fmt.Errorf("broker: Address is required")
	}
	listener, err := transport.Listen(b.Address)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	b.listener = listener

	name := b.Name
	if name == "" {
		name = "broker"
	}
	b.core = router.NewCore(router.Options{
		Component:        "broker",
		Peer:             ipc.Peer{ID: uuid.NewString(), Name: name, Process: ipc.UnknownProcess(ipc.TierSocket)},
		HandshakeTimeout: b.HandshakeTimeout,
		Observer:         b.Observer,
		Clock:            b.Clock,
		Logger:           b.logger(),
	})

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		ServeListener(ctx, listener, b.core, SocketOptions{Clock: b.Clock, Logger: b.logger()})
	}()

	b.logger().Info("broker started", "address", b.Address, "listen_addr", listener.Addr().String())
	return nil
}

// Addr returns the listener's address, useful with an ephemeral TCP
// port. Nil before Start.
func (b *Broker) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// State returns the broker's peers, subscriptions and pending routes.
func (b *Broker) State(ctx context.Context) (*ipc.State, error) {
	if b.core == nil {
		return nil, errors.New("broker: not started")
	}
	return b.core.State(ctx)
}

// Stop closes the listener, every peer connection and the router.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.listener != nil {
			b.listener.Close()
		}
		if b.done != nil {
			<-b.done
		}
		if b.core != nil {
			b.core.Close()
		}
		b.logger().Info("broker stopped")
	})
}

// Wait blocks until the accept loop has ended.
func (b *Broker) Wait() {
	if b.done != nil {
		<-b.done
	}
}

// SocketOptions configures the connectors ServeListener creates.
type SocketOptions struct {
	FlushTimeout time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// ServeListener accepts connections until listener closes or ctx is
// cancelled and attaches each one to core.
func ServeListener(ctx context.Context, listener net.Listener, core *router.Core, options SocketOptions) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var connectionCount int64
	for {
		connection, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("accept failed", "error", err)
			continue
		}

		connectionCount++
		process := transport.PeerProcess(connection)
		connector := transport.NewConnConnector(connection, transport.StreamOptions{
			Name:         fmt.Sprintf("socket %d", connectionCount),
			Process:      process,
			FlushTimeout: options.FlushTimeout,
			Clock:        options.Clock,
			Logger:       logger,
		})
		key, err := core.Attach("socket", connector)
		if err != nil {
			logger.Warn("attaching connection failed", "error", err)
			connector.Close()
			if errors.Is(err, ipc.ErrClosed) {
				return
			}
			continue
		}
		logger.Debug("connection accepted",
			"endpoint", key,
			"remote_addr", connection.RemoteAddr(),
			"pid", process.PID,
		)
	}
}
