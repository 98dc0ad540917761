// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

// SandboxedEnv is set to "1" in the environment of workers spawned as
// sandboxed. [ServeStdio] then hides the worker's host ids in its
// handshake.
const SandboxedEnv = "IPCBUS_SANDBOXED"

// Worker is a subprocess attached to the bridge over its stdin and
// stdout.
type Worker struct {
	// Key identifies the worker's link in bridge state and logs.
	Key string

	// Process is what the bridge reports for the worker in handshakes.
	Process ipc.Process

	cmd       *exec.Cmd
	connector *transport.StreamConnector
	exited    chan struct{}
	err       error
}

// Wait blocks until the worker exits and returns its exit error.
func (w *Worker) Wait() error {
	<-w.exited
	return w.err
}

// Done is closed when the worker exits.
func (w *Worker) Done() <-chan struct{} { return w.exited }

// stop closes the worker's pipes and waits up to grace for it to exit
// before killing it.
func (w *Worker) stop(grace time.Duration) {
	w.connector.Close()
	select {
	case <-w.exited:
		return
	case <-time.After(grace):
	}
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	<-w.exited
}

// closers closes each member once, returning the first error.
type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, closer := range c {
		if err := closer.Close(); err != nil && first == nil && !errors.Is(err, os.ErrClosed) {
			first = err
		}
	}
	return first
}

// SpawnWorker starts cmd with its stdin and stdout connected to the
// bridge. The command's Stdin and Stdout must be unset; Stderr is left
// to the caller. A sandboxed worker is attached without host ids.
//
// The returned worker is attached before its handshake arrives; a
// worker that never says hello is dropped after HandshakeTimeout.
func (b *Bridge) SpawnWorker(ctx context.Context, cmd *exec.Cmd, sandboxed bool) (*Worker, error) {
	if b.core == nil {
		return nil, errors.New("bridge: not started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cmd.Stdin != nil || cmd.Stdout != nil {
		return nil, errors.New("bridge: worker command already has stdin or stdout")
	}

	// os.Pipe rather than StdinPipe/StdoutPipe: those are closed by
	// cmd.Wait, which runs concurrently with the reader here.
	childStdin, toWorker, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: worker stdin: %w", err)
	}
	fromWorker, childStdout, err := os.Pipe()
	if err != nil {
		childStdin.Close()
		toWorker.Close()
		return nil, fmt.Errorf("bridge: worker stdout: %w", err)
	}
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	if sandboxed {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, SandboxedEnv+"=1")
	}

	if err := cmd.Start(); err != nil {
		closers{childStdin, toWorker, fromWorker, childStdout}.Close()
		return nil, fmt.Errorf("bridge: starting worker %s: %w", cmd.Path, err)
	}
	// The child holds its own copies now.
	childStdin.Close()
	childStdout.Close()

	index := b.nextIndex()
	process := ipc.Process{Tier: ipc.TierWorker, PID: cmd.Process.Pid, UID: os.Getuid(), Worker: index}
	if sandboxed {
		process = ipc.UnknownProcess(ipc.TierWorker)
		process.Worker = index
	}

	connector := transport.NewStreamConnector(fromWorker, toWorker, closers{toWorker, fromWorker}, transport.StreamOptions{
		Name:    fmt.Sprintf("worker %d", index),
		Process: process,
		Clock:   b.Clock,
		Logger:  b.logger(),
	})
	worker := &Worker{
		Process:   process,
		cmd:       cmd,
		connector: connector,
		exited:    make(chan struct{}),
	}
	go func() {
		worker.err = cmd.Wait()
		close(worker.exited)
		b.logger().Info("worker exited", "worker", index, "pid", cmd.Process.Pid, "error", worker.err)
	}()

	key, err := b.AttachWorker(connector)
	if err != nil {
		worker.stop(b.workerGrace())
		return nil, err
	}
	worker.Key = key

	b.mu.Lock()
	b.workers = append(b.workers, worker)
	b.mu.Unlock()

	b.logger().Info("worker spawned",
		"worker", index,
		"key", key,
		"pid", cmd.Process.Pid,
		"sandboxed", sandboxed,
	)
	return worker, nil
}

// ServeStdio connects a transport over this process's stdin and
// stdout, for programs running as a bridge worker. Handlers subscribed
// in setup are announced the moment the handshake completes. setup may
// be nil.
func ServeStdio(ctx context.Context, options transport.Options, setup func(*transport.Transport)) (*transport.Transport, error) {
	connector := transport.NewStreamConnector(os.Stdin, os.Stdout, closers{os.Stdin, os.Stdout}, transport.StreamOptions{
		Name:   "stdio",
		Clock:  options.Clock,
		Logger: options.Logger,
	})
	if options.Tier == "" {
		options.Tier = ipc.TierWorker
	}
	if os.Getenv(SandboxedEnv) == "1" {
		options.Sandboxed = true
	}
	bus := transport.NewTransport(connector, options)
	if setup != nil {
		setup(bus)
	}
	if _, err := bus.Connect(ctx); err != nil {
		return nil, err
	}
	return bus, nil
}
