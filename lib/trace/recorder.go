// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// Level selects how much a Recorder captures.
type Level int

const (
	// LevelNone records nothing.
	LevelNone Level = iota
	// LevelTraffic records hops without message arguments.
	LevelTraffic
	// LevelArgs also records the arguments of the newest hop.
	LevelArgs
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelTraffic:
		return "traffic"
	case LevelArgs:
		return "args"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses "none", "traffic" or "args". The empty string is
// LevelNone.
func ParseLevel(name string) (Level, error) {
	switch name {
	case "", "none":
		return LevelNone, nil
	case "traffic":
		return LevelTraffic, nil
	case "args":
		return LevelArgs, nil
	default:
		return LevelNone, fmt.Errorf("unknown trace level %q (want none, traffic or args)", name)
	}
}

// Callback receives each trace exactly once.
type Callback func(*Trace)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Level Level

	// Clock stamps commands that arrive without a log descriptor.
	// Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Recorder builds traces for routed commands. It satisfies the
// router's Observer interface. A Recorder is safe for concurrent use.
type Recorder struct {
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	level    Level
	callback Callback
	order    uint64
}

// NewRecorder returns a recorder with no callback. Until SetCallback
// is called traces are built and logged at debug level only.
func NewRecorder(options RecorderOptions) *Recorder {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Recorder{
		clock:  options.Clock,
		logger: options.Logger,
		level:  options.Level,
	}
}

// SetCallback replaces the trace callback. nil removes it.
func (r *Recorder) SetCallback(callback Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = callback
}

// SetLevel changes the capture level.
func (r *Recorder) SetLevel(level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = level
}

// Level returns the capture level.
func (r *Recorder) Level() Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Enabled reports whether the recorder captures anything. Transports
// only emit log kinds when their recorder is enabled.
func (r *Recorder) Enabled() bool {
	return r.Level() != LevelNone
}

// OnCommandRouted records a command whose arguments are already
// decoded.
func (r *Recorder) OnCommandRouted(command ipc.Command, args []any) {
	r.record(command, args, nil)
}

// OnBufferFramed records a command the router only holds as a frame.
// Arguments are decoded from the frame when the level asks for them.
func (r *Recorder) OnBufferFramed(command ipc.Command, frame []byte) {
	var args []any
	if r.Level() == LevelArgs {
		if _, decoded, err := ipc.DecodeCommand(frame); err == nil {
			args = decoded
		} else {
			r.logger.Warn("trace: decoding arguments failed",
				"kind", command.Kind, "channel", command.Channel, "error", err)
		}
	}
	r.record(command, args, frame)
}

// Traceable reports whether a command kind produces a trace.
func Traceable(kind ipc.Kind) bool {
	switch kind {
	case ipc.KindSendMessage, ipc.KindRequestMessage, ipc.KindRequestResponse,
		ipc.KindRequestCancel, ipc.KindLogGetMessage, ipc.KindLogRequestResponse:
		return true
	}
	return false
}

func (r *Recorder) record(command ipc.Command, args []any, frame []byte) {
	if !Traceable(command.Kind) {
		return
	}

	r.mu.Lock()
	level, callback := r.level, r.callback
	if level == LevelNone {
		r.mu.Unlock()
		return
	}
	r.order++
	order := r.order
	r.mu.Unlock()

	if command.Log == nil {
		// Peers that do not trace still show up, stamped on arrival.
		command.Log = &ipc.Log{
			ID:        fmt.Sprintf("external-%s-%d", command.Peer.ID, order),
			Timestamp: r.clock.Now(),
		}
	}

	trace := Build(command)
	trace.Order = order
	if level == LevelArgs {
		trace.Stack[0].Args = args
	}
	if frame != nil {
		digest := blake3.Sum256(frame)
		trace.PayloadSize = len(frame)
		trace.PayloadDigest = hex.EncodeToString(digest[:])
	}

	current := trace.Current()
	r.logger.Debug("trace",
		"order", trace.Order,
		"id", trace.ID,
		"kind", current.Kind,
		"channel", current.Channel,
		"peer", current.Peer.ID,
		"hops", len(trace.Stack),
		"delay", current.Delay,
	)
	if callback != nil {
		callback(trace)
	}
}
