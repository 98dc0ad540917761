// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/ipcbus/broker"
	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/router"
	"github.com/bureau-foundation/ipcbus/transport"
)

// Bridge routes between a supervisor, its workers and a broker.
type Bridge struct {
	// Name is the supervisor's peer name and the bridge's name at the
	// broker.
	Name string

	// BrokerAddress, if set, is dialed by Start.
	BrokerAddress string

	// Address, if set, is a bus address on which socket peers may
	// connect to this bridge directly.
	Address string

	// HandshakeTimeout bounds every handshake the bridge waits for or
	// enforces.
	HandshakeTimeout time.Duration

	// Trace makes the supervisor transport report deliveries so the
	// Observer sees complete causal chains.
	Trace bool

	Observer router.Observer
	Clock    clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	core     *router.Core
	local    *transport.Transport
	listener net.Listener
	cancel   context.CancelFunc
	serving  chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	workers []*Worker
	index   int
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// supervisorProcess describes this process as the supervisor tier.
func supervisorProcess() ipc.Process {
	return ipc.Process{Tier: ipc.TierSupervisor, PID: os.Getpid(), UID: os.Getuid(), Worker: ipc.Unavailable}
}

// Start creates the router, connects the supervisor transport, opens
// the socket listener and links to the broker, in that order. Any
// failure stops what was started.
func (b *Bridge) Start(ctx context.Context) error {
	name := b.Name
	if name == "" {
		name = "bridge"
	}
	b.core = router.NewCore(router.Options{
		Component:        "bridge",
		Peer:             ipc.Peer{ID: uuid.NewString(), Name: name, Process: supervisorProcess()},
		HandshakeTimeout: b.HandshakeTimeout,
		Observer:         b.Observer,
		Clock:            b.Clock,
		Logger:           b.logger(),
	})
	ctx, b.cancel = context.WithCancel(ctx)

	supervisorEnd, routerEnd := transport.Pipe(supervisorProcess(), supervisorProcess())
	if _, err := b.core.Attach("supervisor", routerEnd); err != nil {
		b.Stop()
		return fmt.Errorf("bridge: %w", err)
	}
	b.local = transport.NewTransport(supervisorEnd, transport.Options{
		Name:             name,
		Tier:             ipc.TierSupervisor,
		HandshakeTimeout: b.HandshakeTimeout,
		Trace:            b.Trace,
		Clock:            b.Clock,
		Logger:           b.logger(),
	})
	if _, err := b.local.Connect(ctx); err != nil {
		b.Stop()
		return fmt.Errorf("bridge: connecting supervisor: %w", err)
	}

	if b.Address != "" {
		listener, err := transport.Listen(b.Address)
		if err != nil {
			b.Stop()
			return fmt.Errorf("bridge: %w", err)
		}
		b.listener = listener
		b.serving = make(chan struct{})
		go func() {
			defer close(b.serving)
			broker.ServeListener(ctx, listener, b.core, broker.SocketOptions{Clock: b.Clock, Logger: b.logger()})
		}()
	}

	if b.BrokerAddress != "" {
		if err := b.ConnectBroker(ctx, b.BrokerAddress); err != nil {
			b.Stop()
			return err
		}
	}

	b.logger().Info("bridge started",
		"name", name,
		"address", b.Address,
		"broker_address", b.BrokerAddress,
	)
	return nil
}

// Transport returns the supervisor's own bus transport. It is
// connected once Start returns.
func (b *Bridge) Transport() *transport.Transport { return b.local }

// Addr returns the socket listener's address, or nil without one.
func (b *Bridge) Addr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// ConnectBroker links the bridge to the broker at address.
func (b *Bridge) ConnectBroker(ctx context.Context, address string) error {
	connector, err := transport.Dial(ctx, address, transport.StreamOptions{
		Name:   "broker " + address,
		Clock:  b.Clock,
		Logger: b.logger(),
	})
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if err := b.core.AttachUpstream(ctx, connector); err != nil {
		return fmt.Errorf("bridge: linking to %s: %w", address, err)
	}
	return nil
}

// DisconnectBroker withdraws from the broker. Local routing carries on.
func (b *Bridge) DisconnectBroker() {
	b.core.DetachUpstream()
}

// AttachWorker attaches an already connected worker link.
func (b *Bridge) AttachWorker(connector transport.Connector) (string, error) {
	return b.core.Attach("worker", connector)
}

// LocalWorker attaches an in-process worker and returns the connector
// the worker's transport should use.
func (b *Bridge) LocalWorker() (*transport.LocalConnector, error) {
	process := ipc.Process{Tier: ipc.TierWorker, PID: os.Getpid(), UID: os.Getuid(), Worker: b.nextIndex()}
	workerEnd, routerEnd := transport.Pipe(process, supervisorProcess())
	if _, err := b.AttachWorker(routerEnd); err != nil {
		return nil, err
	}
	return workerEnd, nil
}

func (b *Bridge) nextIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index++
	return b.index
}

// State returns the bridge router's peers, subscriptions, routes and
// upstream mirror.
func (b *Bridge) State(ctx context.Context) (*ipc.State, error) {
	if b.core == nil {
		return nil, errors.New("bridge: not started")
	}
	return b.core.State(ctx)
}

// Stop closes the supervisor transport, the listener, the broker link
// and every worker link, then waits for spawned workers to exit.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.local != nil {
			b.local.Close(context.Background())
		}
		if b.cancel != nil {
			b.cancel()
		}
		if b.listener != nil {
			b.listener.Close()
			<-b.serving
		}
		if b.core != nil {
			b.core.Close()
		}

		b.mu.Lock()
		workers := b.workers
		b.mu.Unlock()
		for _, worker := range workers {
			worker.stop(b.workerGrace())
		}
		b.logger().Info("bridge stopped")
	})
}

func (b *Bridge) workerGrace() time.Duration {
	if b.HandshakeTimeout > 0 {
		return b.HandshakeTimeout
	}
	return 5 * time.Second
}
