// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/mailbox"
	"github.com/bureau-foundation/ipcbus/lib/netutil"
	"github.com/bureau-foundation/ipcbus/lib/packet"
)

// readBufferSize is the size of each read from the stream. Frames
// larger than this are reassembled across reads.
const readBufferSize = 64 * 1024

// defaultFlushTimeout bounds how long Close waits for queued frames to
// reach the stream.
const defaultFlushTimeout = time.Second

// StreamOptions configures a StreamConnector.
type StreamOptions struct {
	// Name labels the link in logs ("socket 3", "worker renderer").
	Name string

	// Process describes the remote end. Dial and the broker fill it in
	// from the socket; zero means unknown.
	Process ipc.Process

	// FlushTimeout bounds how long Close waits for queued frames.
	// Defaults to one second.
	FlushTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// StreamConnector carries framed commands over a byte stream.
type StreamConnector struct {
	name         string
	reader       io.Reader
	writer       io.Writer
	closer       io.Closer
	process      ipc.Process
	flushTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	outbox *mailbox.Mailbox[[]byte]

	startOnce    sync.Once
	shutdownOnce sync.Once
	closeOnce    sync.Once

	mu          sync.Mutex
	client      ConnectorClient
	closing     bool
	writerDone  chan struct{}
	readerDone  chan struct{}
	writeFailed error
}

var _ Connector = (*StreamConnector)(nil)

// NewStreamConnector returns a connector reading frames from reader
// and writing them to writer. closer is closed when the link ends; it
// must unblock a pending Read.
func NewStreamConnector(reader io.Reader, writer io.Writer, closer io.Closer, options StreamOptions) *StreamConnector {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.FlushTimeout <= 0 {
		options.FlushTimeout = defaultFlushTimeout
	}
	if options.Process == (ipc.Process{}) {
		options.Process = ipc.UnknownProcess(ipc.TierSocket)
	}
	return &StreamConnector{
		name:         options.Name,
		reader:       reader,
		writer:       writer,
		closer:       closer,
		process:      options.Process,
		flushTimeout: options.FlushTimeout,
		clock:        options.Clock,
		logger:       options.Logger.With("link", options.Name),
		outbox:       mailbox.New[[]byte](),
		writerDone:   make(chan struct{}),
		readerDone:   make(chan struct{}),
	}
}

// NewConnConnector wraps a bidirectional stream such as a net.Conn.
func NewConnConnector(conn io.ReadWriteCloser, options StreamOptions) *StreamConnector {
	return NewStreamConnector(conn, conn, conn, options)
}

// Start launches the read and write loops.
func (c *StreamConnector) Start(client ConnectorClient) error {
	started := false
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.client = client
		c.mu.Unlock()
		go c.readLoop()
		go c.writeLoop()
		started = true
	})
	if !started {
		return errors.New("stream connector already started")
	}
	return nil
}

// PostCommand encodes and queues a command.
func (c *StreamConnector) PostCommand(command ipc.Command, args ...any) error {
	frame, err := ipc.EncodeCommand(command, args...)
	if err != nil {
		return err
	}
	return c.PostBuffer(frame)
}

// PostBuffer queues a frame. It never blocks on the stream.
func (c *StreamConnector) PostBuffer(frame []byte) error {
	if !c.outbox.Put(frame) {
		return fmt.Errorf("%s: %w", c.name, ipc.ErrClosed)
	}
	return nil
}

func (c *StreamConnector) Framed() bool { return true }

func (c *StreamConnector) Process() ipc.Process { return c.process }

// Close flushes queued frames (bounded by the flush timeout), closes
// the stream and waits for the read loop to finish.
func (c *StreamConnector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		started := c.client != nil
		c.mu.Unlock()

		c.outbox.Close()
		if started {
			select {
			case <-c.writerDone:
			case <-c.clock.After(c.flushTimeout):
				c.logger.Warn("closing stream with unflushed frames", "pending", c.outbox.Len())
			}
		}
		err = c.closer.Close()
		if netutil.IsExpectedCloseError(err) {
			err = nil
		}
		if started {
			<-c.readerDone
		} else {
			c.shutdown(nil)
		}
	})
	return err
}

func (c *StreamConnector) readLoop() {
	defer close(c.readerDone)

	var accumulator packet.Accumulator
	buffer := make([]byte, readBufferSize)
	for {
		count, readErr := c.reader.Read(buffer)
		if count > 0 {
			packets, err := accumulator.Feed(buffer[:count])
			if err != nil {
				c.logger.Warn("discarding malformed frame", "error", err)
			}
			for _, framed := range packets {
				c.deliver(framed)
			}
		}
		if readErr != nil {
			c.shutdown(readErr)
			return
		}
	}
}

func (c *StreamConnector) deliver(framed packet.Packet) {
	command, err := ipc.DecodeHeader(framed)
	if err != nil {
		c.logger.Warn("discarding undecodable command", "error", err, "size", framed.Header.PacketSize)
		return
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	client.OnPacketReceived(command, nil, framed.Bytes)
}

func (c *StreamConnector) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.outbox.Ready():
		case <-c.outbox.Done():
			// Drain what was queued before Close, then stop.
			c.writeFrames(c.outbox.Take())
			return
		}
		if !c.writeFrames(c.outbox.Take()) {
			return
		}
	}
}

func (c *StreamConnector) writeFrames(frames [][]byte) bool {
	for _, frame := range frames {
		if _, err := c.writer.Write(frame); err != nil {
			c.mu.Lock()
			closing := c.closing
			c.writeFailed = err
			c.mu.Unlock()
			if !closing && !netutil.IsExpectedCloseError(err) {
				c.logger.Warn("stream write failed", "error", err)
			}
			// Unblock the reader so the client hears about the loss.
			c.closer.Close()
			return false
		}
	}
	return true
}

// shutdown reports the end of the link to the client exactly once.
func (c *StreamConnector) shutdown(readErr error) {
	c.shutdownOnce.Do(func() {
		c.outbox.Close()

		c.mu.Lock()
		client, closing, writeFailed := c.client, c.closing, c.writeFailed
		c.mu.Unlock()

		var reason error
		switch {
		case closing:
			reason = fmt.Errorf("%s: %w", c.name, ipc.ErrClosed)
		case writeFailed != nil:
			reason = fmt.Errorf("%s: %w: %v", c.name, ipc.ErrConnectionLost, writeFailed)
		case readErr == nil || netutil.IsExpectedCloseError(readErr):
			reason = fmt.Errorf("%s: %w: peer closed the stream", c.name, ipc.ErrConnectionLost)
		default:
			reason = fmt.Errorf("%s: %w: %v", c.name, ipc.ErrConnectionLost, readErr)
		}
		if client != nil {
			client.OnShutdown(reason)
		}
	})
}
