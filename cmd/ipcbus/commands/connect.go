// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/bridge"
	"github.com/bureau-foundation/ipcbus/cmd/ipcbus/cli"
	"github.com/bureau-foundation/ipcbus/lib/config"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

// busFlags are the connection flags every bus command shares.
type busFlags struct {
	Address   string
	Name      string
	Stdio     bool
	Sandboxed bool
	Verbose   bool
}

func (f *busFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&f.Address, "address", "a", "", "broker or bridge address (default from config)")
	flagSet.StringVarP(&f.Name, "name", "n", "", "peer name sent in the handshake")
	flagSet.BoolVar(&f.Stdio, "stdio", false, "speak the bus protocol on stdin/stdout, as a bridge worker")
	flagSet.BoolVar(&f.Sandboxed, "sandboxed", false, "do not report this process's ids in the handshake")
	flagSet.BoolVarP(&f.Verbose, "verbose", "v", false, "log bus traffic to stderr")
}

// loadConfig reads IPCBUS_CONFIG when it is set and the defaults
// otherwise.
func loadConfig() (*config.Config, error) {
	if os.Getenv("IPCBUS_CONFIG") == "" {
		return config.Resolve(), nil
	}
	return config.Load()
}

// connection is a connected bus transport plus what it was configured
// with.
type connection struct {
	bus    *transport.Transport
	logger *slog.Logger
	stdio  bool
}

// wait blocks until ctx ends, finished closes, or the connection
// drops. A stdio worker losing its bridge is a normal shutdown.
func (c *connection) wait(ctx context.Context, finished <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return nil
	case <-finished:
		return nil
	case <-c.bus.Done():
		err := c.bus.Err()
		if c.stdio && errors.Is(err, ipc.ErrConnectionLost) {
			return nil
		}
		return err
	}
}

func (c *connection) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.bus.Close(ctx); err != nil {
		c.logger.Debug("closing bus connection", "error", err)
	}
}

// connect dials the bus (or adopts stdio) and completes the handshake.
// setup runs before the handshake so subscriptions are announced as
// part of connecting.
func (f *busFlags) connect(ctx context.Context, setup func(*transport.Transport)) (*connection, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := cli.NewCommandLogger(f.Verbose)

	name := f.Name
	if name == "" {
		name = cfg.Transport.Name
	}
	if name == "" {
		name = fmt.Sprintf("ipcbus-%d", os.Getpid())
	}
	options := transport.Options{
		Name:             name,
		Sandboxed:        f.Sandboxed || cfg.Transport.Sandboxed,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		CloseTimeout:     cfg.Transport.CloseTimeout,
		RequestTimeout:   cfg.Transport.RequestTimeout,
		Logger:           logger,
	}

	if f.Stdio {
		bus, err := bridge.ServeStdio(ctx, options, setup)
		if err != nil {
			return nil, fmt.Errorf("connecting over stdio: %w", err)
		}
		return &connection{bus: bus, logger: logger, stdio: true}, nil
	}

	address := f.Address
	if address == "" {
		address = cfg.Broker.Address
	}
	connector, err := transport.Dial(ctx, address, transport.StreamOptions{Name: "bus " + address, Logger: logger})
	if err != nil {
		return nil, err
	}
	bus := transport.NewTransport(connector, options)
	if setup != nil {
		setup(bus)
	}
	if _, err := bus.Connect(ctx); err != nil {
		connector.Close()
		return nil, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return &connection{bus: bus, logger: logger}, nil
}
