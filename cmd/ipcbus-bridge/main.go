// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/bridge"
	"github.com/bureau-foundation/ipcbus/lib/config"
	"github.com/bureau-foundation/ipcbus/lib/process"
	"github.com/bureau-foundation/ipcbus/lib/service"
	"github.com/bureau-foundation/ipcbus/lib/version"
)

func main() {
	code, err := run()
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var flags service.CommonFlags
	service.RegisterCommonFlags(pflag.CommandLine, &flags)

	name := pflag.StringP("name", "n", "", "peer name of this bridge (overrides bridge.name)")
	brokerAddress := pflag.StringP("broker", "b", "", "broker to link to (overrides bridge.broker_address)")
	address := pflag.StringP("address", "a", "", "also accept socket peers on this bus address")
	sandboxed := pflag.Bool("sandboxed", false, "spawn the command after -- as a sandboxed worker")
	handshakeTimeout := pflag.Duration("handshake-timeout", 0, "handshake deadline for workers and the broker link")
	pflag.Parse()

	if flags.ShowVersion {
		fmt.Printf("ipcbus-bridge %s\n", version.Info())
		return 0, nil
	}

	var command []string
	positional := pflag.Args()
	if dash := pflag.CommandLine.ArgsLenAtDash(); dash >= 0 {
		command = positional[dash:]
		positional = positional[:dash]
	}
	if len(positional) > 0 {
		return 1, fmt.Errorf("unexpected arguments %v (put the worker command after --)", positional)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, cleanup, err := service.Bootstrap(service.BootstrapConfig{Flags: flags, Component: "bridge"})
	if err != nil {
		return 1, err
	}
	defer cleanup()

	cfg := boot.Config.Bridge
	if *name != "" {
		cfg.Name = *name
	}
	if *brokerAddress != "" {
		cfg.BrokerAddress = *brokerAddress
	}
	if *address != "" {
		cfg.Address = *address
	}
	timeout := boot.Config.Transport.HandshakeTimeout
	if *handshakeTimeout > 0 {
		timeout = *handshakeTimeout
	}

	b := &bridge.Bridge{
		Name:             cfg.Name,
		BrokerAddress:    cfg.BrokerAddress,
		Address:          cfg.Address,
		HandshakeTimeout: timeout,
		Trace:            boot.Tracing(),
		Observer:         boot.Recorder,
		Clock:            boot.Clock,
		Logger:           boot.Logger,
	}
	if err := b.Start(ctx); err != nil {
		return 1, err
	}
	defer b.Stop()

	for _, worker := range cfg.Workers {
		if _, err := spawn(ctx, b, worker); err != nil {
			return 1, err
		}
	}

	// The worker after -- decides when the bridge exits.
	var primaryDone <-chan struct{}
	var primary *bridge.Worker
	if len(command) > 0 {
		primary, err = spawn(ctx, b, config.WorkerConfig{Name: command[0], Command: command, Sandboxed: *sandboxed})
		if err != nil {
			return 1, err
		}
		primaryDone = primary.Done()
	}

	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			boot.Logger.Info("shutting down", "reason", context.Cause(ctx))
			return 0, nil
		case <-primaryDone:
			b.Stop()
			return exitCode(primary.Wait()), nil
		case <-flush.C:
			if boot.Sink != nil {
				if err := boot.Sink.Flush(); err != nil {
					boot.Logger.Debug("flushing trace log", "error", err)
				}
			}
		}
	}
}

func spawn(ctx context.Context, b *bridge.Bridge, worker config.WorkerConfig) (*bridge.Worker, error) {
	path, err := exec.LookPath(worker.Command[0])
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", worker.Name, err)
	}
	cmd := exec.Command(path, worker.Command[1:]...)
	cmd.Env = append(os.Environ(), worker.Env...)
	cmd.Stderr = os.Stderr
	spawned, err := b.SpawnWorker(ctx, cmd, worker.Sandboxed)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", worker.Name, err)
	}
	return spawned, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
