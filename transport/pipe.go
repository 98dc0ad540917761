// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/mailbox"
)

// LocalConnector is one end of an in-memory link created by [Pipe].
// Commands cross as values; nothing is framed.
type LocalConnector struct {
	name    string
	process ipc.Process // of the other end
	peer    *LocalConnector
	inbox   *mailbox.Mailbox[localDelivery]

	startOnce sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	client   ConnectorClient
	shutdown error
}

type localDelivery struct {
	command ipc.Command
	args    []any
}

var _ Connector = (*LocalConnector)(nil)

// Pipe returns two connected LocalConnectors. first.Process() reports
// secondProcess and second.Process() reports firstProcess.
func Pipe(firstProcess, secondProcess ipc.Process) (*LocalConnector, *LocalConnector) {
	first := newLocalConnector("pipe:first", secondProcess)
	second := newLocalConnector("pipe:second", firstProcess)
	first.peer, second.peer = second, first
	return first, second
}

func newLocalConnector(name string, process ipc.Process) *LocalConnector {
	return &LocalConnector{
		name:    name,
		process: process,
		inbox:   mailbox.New[localDelivery](),
	}
}

// Start begins delivering to client. Commands posted by the other end
// before Start are delivered in order once it runs.
func (c *LocalConnector) Start(client ConnectorClient) error {
	started := false
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		go c.deliverLoop()
		started = true
	})
	if !started {
		return errors.New("local connector already started")
	}
	return nil
}

// PostCommand hands the command to the other end.
func (c *LocalConnector) PostCommand(command ipc.Command, args ...any) error {
	if !c.peer.inbox.Put(localDelivery{command: command, args: args}) {
		return fmt.Errorf("%s: %w", c.name, ipc.ErrClosed)
	}
	return nil
}

// PostBuffer decodes frame and hands the result to the other end.
func (c *LocalConnector) PostBuffer(frame []byte) error {
	command, args, err := ipc.DecodeCommand(frame)
	if err != nil {
		return err
	}
	return c.PostCommand(command, args...)
}

func (c *LocalConnector) Framed() bool { return false }

func (c *LocalConnector) Process() ipc.Process { return c.process }

// Close ends both sides of the pipe. This end's client sees
// ipc.ErrClosed, the other end's client sees ipc.ErrConnectionLost.
func (c *LocalConnector) Close() error {
	c.closeOnce.Do(func() {
		c.end(fmt.Errorf("%s: %w", c.name, ipc.ErrClosed))
		c.peer.end(fmt.Errorf("%s: %w: other end closed", c.peer.name, ipc.ErrConnectionLost))
	})
	return nil
}

func (c *LocalConnector) end(reason error) {
	c.mu.Lock()
	if c.shutdown != nil {
		c.mu.Unlock()
		return
	}
	c.shutdown = reason
	c.mu.Unlock()
	c.inbox.Close()
}

func (c *LocalConnector) deliverLoop() {
	for {
		select {
		case <-c.inbox.Ready():
		case <-c.inbox.Done():
			c.dispatch(c.inbox.Take())
			c.mu.Lock()
			client, reason := c.client, c.shutdown
			c.mu.Unlock()
			client.OnShutdown(reason)
			return
		}
		c.dispatch(c.inbox.Take())
	}
}

func (c *LocalConnector) dispatch(deliveries []localDelivery) {
	for _, delivery := range deliveries {
		c.client.OnPacketReceived(delivery.command, delivery.args, nil)
	}
}
