// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/broker"
	"github.com/bureau-foundation/ipcbus/lib/process"
	"github.com/bureau-foundation/ipcbus/lib/service"
	"github.com/bureau-foundation/ipcbus/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var flags service.CommonFlags
	service.RegisterCommonFlags(pflag.CommandLine, &flags)

	address := pflag.StringP("address", "a", "", "bus address to listen on (overrides broker.address)")
	handshakeTimeout := pflag.Duration("handshake-timeout", 0, "drop connections that send no handshake within this time")
	pflag.Parse()

	if flags.ShowVersion {
		fmt.Printf("ipcbus-broker %s\n", version.Info())
		return nil
	}
	if pflag.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", pflag.Args())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	boot, cleanup, err := service.Bootstrap(service.BootstrapConfig{Flags: flags, Component: "broker"})
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := boot.Config.Broker
	if *address != "" {
		cfg.Address = *address
	}
	if *handshakeTimeout > 0 {
		cfg.HandshakeTimeout = *handshakeTimeout
	}

	hostname, _ := os.Hostname()
	hub := &broker.Broker{
		Address:          cfg.Address,
		Name:             "broker@" + hostname,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Observer:         boot.Recorder,
		Clock:            boot.Clock,
		Logger:           boot.Logger,
	}
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Stop()

	acceptDone := make(chan struct{})
	go func() {
		hub.Wait()
		close(acceptDone)
	}()

	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			boot.Logger.Info("shutting down", "reason", context.Cause(ctx))
			return nil
		case <-acceptDone:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listener on %s closed unexpectedly", cfg.Address)
		case <-flush.C:
			if boot.Sink != nil {
				if err := boot.Sink.Flush(); err != nil {
					boot.Logger.Debug("flushing trace log", "error", err)
				}
			}
		}
	}
}
