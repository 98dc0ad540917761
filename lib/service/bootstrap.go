// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/config"
	"github.com/bureau-foundation/ipcbus/lib/trace"
)

// CommonFlags holds the flag values shared by the ipcbus daemons. Call
// [RegisterCommonFlags] to bind them before parsing.
type CommonFlags struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	TraceLevel  string
	TracePath   string
	ShowVersion bool
}

// RegisterCommonFlags binds [CommonFlags] fields to flagSet. Empty
// string flags leave the configured value alone.
func RegisterCommonFlags(flagSet *pflag.FlagSet, flags *CommonFlags) {
	flagSet.StringVarP(&flags.ConfigPath, "config", "c", "", "config file (default $IPCBUS_CONFIG, else built-in defaults)")
	flagSet.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn or error")
	flagSet.StringVar(&flags.LogFormat, "log-format", "", "log format: auto, text or json")
	flagSet.StringVar(&flags.TraceLevel, "trace-level", "", "causal trace level: none, traffic or args")
	flagSet.StringVar(&flags.TracePath, "trace-log", "", "write causal traces to this file (.zst or .lz4 compresses)")
	flagSet.BoolVar(&flags.ShowVersion, "version", false, "print version information and exit")
}

// BootstrapConfig controls [Bootstrap].
type BootstrapConfig struct {
	// Flags are the parsed common flag values.
	Flags CommonFlags

	// Component names the daemon in log output ("broker", "bridge").
	Component string

	// Clock is used by the trace recorder. Defaults to clock.Real().
	Clock clock.Clock
}

// BootstrapResult holds what [Bootstrap] produced.
type BootstrapResult struct {
	Config *config.Config

	// Logger is also installed as slog's default.
	Logger *slog.Logger

	Clock clock.Clock

	// Recorder is never nil. It records nothing at trace level none,
	// so daemons can hand it to the router unconditionally.
	Recorder *trace.Recorder

	// Sink is the trace log, or nil when no trace path is configured.
	Sink *trace.FileSink
}

// Tracing reports whether the recorder captures anything.
func (r *BootstrapResult) Tracing() bool {
	return r.Recorder.Enabled()
}

// Bootstrap performs the common daemon startup sequence:
//
//  1. Load the config file named by --config or IPCBUS_CONFIG, or
//     fall back to the defaults
//  2. Apply flag overrides and validate
//  3. Build the logger and install it as slog's default
//  4. Create the trace recorder and, if configured, its file sink
//
// The returned cleanup function closes the trace sink. The caller must
// defer it.
func Bootstrap(bootstrap BootstrapConfig) (*BootstrapResult, func(), error) {
	flags := bootstrap.Flags

	cfg, err := loadConfig(flags.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	setString(&cfg.Logging.Level, flags.LogLevel)
	setString(&cfg.Logging.Format, flags.LogFormat)
	setString(&cfg.Trace.Level, flags.TraceLevel)
	setString(&cfg.Trace.Path, flags.TracePath)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	if bootstrap.Component != "" {
		logger = logger.With("component", bootstrap.Component)
	}
	slog.SetDefault(logger)

	clk := bootstrap.Clock
	if clk == nil {
		clk = clock.Real()
	}

	level, err := trace.ParseLevel(cfg.Trace.Level)
	if err != nil {
		return nil, nil, err
	}
	recorder := trace.NewRecorder(trace.RecorderOptions{Level: level, Clock: clk, Logger: logger})

	result := &BootstrapResult{
		Config:   cfg,
		Logger:   logger,
		Clock:    clk,
		Recorder: recorder,
	}
	cleanup := func() {}

	if cfg.Trace.Path != "" && level != trace.LevelNone {
		compression := trace.CompressionForPath(cfg.Trace.Path)
		if cfg.Trace.Compression != "" {
			compression, err = trace.ParseCompression(cfg.Trace.Compression)
			if err != nil {
				return nil, nil, err
			}
		}
		sink, err := trace.CreateFileSink(cfg.Trace.Path, compression, logger)
		if err != nil {
			return nil, nil, err
		}
		recorder.SetCallback(sink.Write)
		result.Sink = sink
		cleanup = func() {
			recorder.SetCallback(nil)
			if err := sink.Close(); err != nil {
				logger.Error("closing trace log", "path", cfg.Trace.Path, "error", err)
			}
		}
		logger.Info("recording causal traces",
			"path", cfg.Trace.Path,
			"level", level.String(),
			"compression", string(compression),
		)
	}

	return result, cleanup, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load()
	if err == nil {
		return cfg, nil
	}
	if os.Getenv("IPCBUS_CONFIG") != "" {
		return nil, err
	}
	return config.Resolve(), nil
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}
