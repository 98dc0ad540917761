// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the configuration shared by every ipcbus binary. Each
// binary reads the sections it needs.
type Config struct {
	Environment Environment `yaml:"environment"`

	Broker    BrokerConfig    `yaml:"broker"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Transport TransportConfig `yaml:"transport"`
	Trace     TraceConfig     `yaml:"trace"`
	Logging   LoggingConfig   `yaml:"logging"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds per-environment replacements. Only non-zero fields
// replace base values.
type Overrides struct {
	Broker    *BrokerConfig    `yaml:"broker,omitempty"`
	Bridge    *BridgeConfig    `yaml:"bridge,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Trace     *TraceConfig     `yaml:"trace,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// BrokerConfig configures ipcbus-broker.
type BrokerConfig struct {
	// Address is where the broker listens: a Unix socket path, or
	// "unix:PATH" / "tcp:HOST:PORT".
	Address string `yaml:"address"`

	// HandshakeTimeout bounds how long an accepted connection may stay
	// silent before its first handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// BridgeConfig configures ipcbus-bridge.
type BridgeConfig struct {
	// Name is the peer name the bridge registers with its broker.
	Name string `yaml:"name"`

	// BrokerAddress is the broker to link to. Empty runs the bridge
	// without an upstream link.
	BrokerAddress string `yaml:"broker_address"`

	// Address optionally exposes the bridge itself on a socket for
	// peers that should join the supervisor tier directly.
	Address string `yaml:"address"`

	Workers []WorkerConfig `yaml:"workers"`
}

// WorkerConfig describes a worker subprocess the bridge spawns and
// talks to over the child's stdin and stdout.
type WorkerConfig struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Env     []string `yaml:"env"`

	// Sandboxed workers are never probed for OS process ids.
	Sandboxed bool `yaml:"sandboxed"`
}

// TransportConfig configures client transports.
type TransportConfig struct {
	// Name is the peer name sent in the handshake.
	Name string `yaml:"name"`

	// Sandboxed marks this process as sandboxed in its handshake.
	Sandboxed bool `yaml:"sandboxed"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	CloseTimeout     time.Duration `yaml:"close_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// TraceConfig configures causal trace recording.
type TraceConfig struct {
	// Level is none, traffic or args.
	Level string `yaml:"level"`

	// Path is the trace log file. Empty logs traces at debug level
	// only.
	Path string `yaml:"path"`

	// Compression is none, zstd or lz4. Empty infers it from Path.
	Compression string `yaml:"compression"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto, text or json. Auto picks text on a terminal.
	Format string `yaml:"format"`
}

// Default returns the development defaults the config file is merged
// into.
func Default() *Config {
	return &Config{
		Environment: Development,
		Broker: BrokerConfig{
			Address:          "${XDG_RUNTIME_DIR:-/tmp}/ipcbus.sock",
			HandshakeTimeout: 5 * time.Second,
		},
		Bridge: BridgeConfig{
			Name: "bridge",
		},
		Transport: TransportConfig{
			HandshakeTimeout: 5 * time.Second,
			CloseTimeout:     2 * time.Second,
			RequestTimeout:   30 * time.Second,
		},
		Trace: TraceConfig{
			Level: "none",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by IPCBUS_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("IPCBUS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("IPCBUS_CONFIG environment variable not set; " +
			"set it to the path of your ipcbus.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over Default(), applies the
// matching environment section and expands variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.parse(path, data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// Resolve returns Default() with variables expanded. Binaries use it
// when neither --config nor IPCBUS_CONFIG is given and flags supply
// everything.
func Resolve() *Config {
	cfg := Default()
	cfg.expandVariables()
	return cfg
}

func (c *Config) parse(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if broker := overrides.Broker; broker != nil {
		setString(&c.Broker.Address, broker.Address)
		setDuration(&c.Broker.HandshakeTimeout, broker.HandshakeTimeout)
	}
	if bridge := overrides.Bridge; bridge != nil {
		setString(&c.Bridge.Name, bridge.Name)
		setString(&c.Bridge.BrokerAddress, bridge.BrokerAddress)
		setString(&c.Bridge.Address, bridge.Address)
		if bridge.Workers != nil {
			c.Bridge.Workers = bridge.Workers
		}
	}
	if transport := overrides.Transport; transport != nil {
		setString(&c.Transport.Name, transport.Name)
		// Sandboxed is a bool, so an override section always applies it.
		c.Transport.Sandboxed = transport.Sandboxed
		setDuration(&c.Transport.HandshakeTimeout, transport.HandshakeTimeout)
		setDuration(&c.Transport.CloseTimeout, transport.CloseTimeout)
		setDuration(&c.Transport.RequestTimeout, transport.RequestTimeout)
	}
	if trace := overrides.Trace; trace != nil {
		setString(&c.Trace.Level, trace.Level)
		setString(&c.Trace.Path, trace.Path)
		setString(&c.Trace.Compression, trace.Compression)
	}
	if logging := overrides.Logging; logging != nil {
		setString(&c.Logging.Level, logging.Level)
		setString(&c.Logging.Format, logging.Format)
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Broker.Address = expandVars(c.Broker.Address, vars)
	c.Bridge.BrokerAddress = expandVars(c.Bridge.BrokerAddress, vars)
	c.Bridge.Address = expandVars(c.Bridge.Address, vars)
	c.Trace.Path = expandVars(c.Trace.Path, vars)
	for index := range c.Bridge.Workers {
		for argument := range c.Bridge.Workers[index].Command {
			c.Bridge.Workers[index].Command[argument] = expandVars(c.Bridge.Workers[index].Command[argument], vars)
		}
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	validTraceLevels  = map[string]bool{"none": true, "traffic": true, "args": true}
	validCompressions = map[string]bool{"": true, "none": true, "zstd": true, "lz4": true}
	validLogLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Broker.Address == "" {
		errs = append(errs, errors.New("broker.address is required"))
	}
	if c.Broker.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("broker.handshake_timeout must be positive"))
	}
	for index, worker := range c.Bridge.Workers {
		if worker.Name == "" {
			errs = append(errs, fmt.Errorf("bridge.workers[%d].name is required", index))
		}
		if len(worker.Command) == 0 {
			errs = append(errs, fmt.Errorf("bridge.workers[%d].command is required", index))
		}
	}
	if c.Transport.HandshakeTimeout <= 0 {
		errs = append(errs, errors.New("transport.handshake_timeout must be positive"))
	}
	if c.Transport.CloseTimeout <= 0 {
		errs = append(errs, errors.New("transport.close_timeout must be positive"))
	}
	if c.Transport.RequestTimeout <= 0 {
		errs = append(errs, errors.New("transport.request_timeout must be positive"))
	}
	if !validTraceLevels[c.Trace.Level] {
		errs = append(errs, fmt.Errorf("trace.level %q must be none, traffic or args", c.Trace.Level))
	}
	if !validCompressions[c.Trace.Compression] {
		errs = append(errs, fmt.Errorf("trace.compression %q must be none, zstd or lz4", c.Trace.Compression))
	}
	if !validLogLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	if !validLogFormats[c.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format %q must be auto, text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}
