// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func requestAndResponse() (ipc.Command, ipc.Command) {
	request := ipc.Command{
		Kind:    ipc.KindRequestMessage,
		Channel: "jobs",
		Peer:    ipc.Peer{ID: "b"},
		Request: &ipc.Request{ID: "b-1", Channel: "jobs", ReplyChannel: "jobs#1"},
		Log:     &ipc.Log{ID: "b-1", Timestamp: epoch},
	}
	response := ipc.Command{
		Kind:    ipc.KindRequestResponse,
		Channel: "jobs#1",
		Peer:    ipc.Peer{ID: "a"},
		Request: &ipc.Request{ID: "b-1", Channel: "jobs", ReplyChannel: "jobs#1", Resolve: true},
		Log:     &ipc.Log{ID: "a-1", Timestamp: epoch.Add(25 * time.Millisecond), Previous: &request},
	}
	return request, response
}

func TestBuildResponseTrace(t *testing.T) {
	_, response := requestAndResponse()

	trace := Build(response)
	if len(trace.Stack) != 2 {
		t.Fatalf("stack has %d entries, want 2", len(trace.Stack))
	}
	current, first := trace.Current(), trace.First()
	if current.ID != "a-1" || current.Kind != SendRequestResponse || current.Status != StatusResolved {
		t.Errorf("current = %+v", current)
	}
	if current.Channel != "jobs" || current.ReplyChannel != "jobs#1" {
		t.Errorf("current channel = %q reply = %q", current.Channel, current.ReplyChannel)
	}
	if first.ID != "b-1" || first.Kind != SendRequest {
		t.Errorf("first = %+v", first)
	}
	if current.Delay != 25*time.Millisecond || first.Delay != 0 {
		t.Errorf("delays = %v, %v; want 25ms, 0", current.Delay, first.Delay)
	}
	if trace.ID != "b-1_SEND-REQUEST-RESPONSE" {
		t.Errorf("trace ID = %q", trace.ID)
	}
}

func TestBuildMergesGetWithDeliveredCommand(t *testing.T) {
	send := ipc.Command{
		Kind:    ipc.KindSendMessage,
		Channel: "jobs",
		Peer:    ipc.Peer{ID: "b"},
		Log:     &ipc.Log{ID: "b-7", Timestamp: epoch},
	}
	get := ipc.Command{
		Kind: ipc.KindLogGetMessage,
		Peer: ipc.Peer{ID: "a"},
		Log:  &ipc.Log{ID: "a-3", Timestamp: epoch.Add(3 * time.Millisecond), Previous: &send},
	}

	trace := Build(get)
	// The get entry absorbs the delivered send, so the chain ends at
	// whatever caused the send: nothing.
	if len(trace.Stack) != 1 {
		t.Fatalf("stack = %+v, want one merged entry", trace.Stack)
	}
	entry := trace.Current()
	if entry.Kind != GetMessage || entry.Channel != "jobs" || entry.Peer.ID != "a" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestBuildGetOfResponseReachesRequest(t *testing.T) {
	_, response := requestAndResponse()
	get := ipc.Command{
		Kind: ipc.KindLogGetMessage,
		Peer: ipc.Peer{ID: "b"},
		Log:  &ipc.Log{ID: "b-2", Timestamp: epoch.Add(30 * time.Millisecond), Previous: &response},
	}

	trace := Build(get)
	if len(trace.Stack) != 2 {
		t.Fatalf("stack has %d entries, want 2", len(trace.Stack))
	}
	if trace.Current().Kind != GetRequestResponse || trace.First().Kind != SendRequest {
		t.Errorf("kinds = %s, %s", trace.Current().Kind, trace.First().Kind)
	}
	if trace.Current().Delay != 30*time.Millisecond {
		t.Errorf("delay = %v", trace.Current().Delay)
	}
}

func TestBuildWithoutLog(t *testing.T) {
	trace := Build(ipc.Command{Kind: ipc.KindSendMessage, Channel: "jobs", Peer: ipc.Peer{ID: "x"}})
	if len(trace.Stack) != 1 || trace.Current().Kind != SendMessage {
		t.Fatalf("trace = %+v", trace)
	}
}

func TestRecorderLevels(t *testing.T) {
	_, response := requestAndResponse()

	for _, level := range []Level{LevelNone, LevelTraffic, LevelArgs} {
		t.Run(level.String(), func(t *testing.T) {
			recorder := NewRecorder(RecorderOptions{Level: level, Clock: clock.Fake(epoch)})
			var traces []*Trace
			recorder.SetCallback(func(trace *Trace) { traces = append(traces, trace) })

			recorder.OnCommandRouted(response, []any{"done"})
			recorder.OnCommandRouted(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: "jobs"}, nil)

			if level == LevelNone {
				if len(traces) != 0 {
					t.Fatalf("level none produced %d traces", len(traces))
				}
				return
			}
			if len(traces) != 1 {
				t.Fatalf("got %d traces, want 1 (listener changes are not traced)", len(traces))
			}
			args := traces[0].Current().Args
			if level == LevelArgs && (len(args) != 1 || args[0] != "done") {
				t.Errorf("args = %v, want [done]", args)
			}
			if level == LevelTraffic && args != nil {
				t.Errorf("traffic level captured args %v", args)
			}
		})
	}
}

func TestRecorderStampsExternalCommands(t *testing.T) {
	recorder := NewRecorder(RecorderOptions{Level: LevelTraffic, Clock: clock.Fake(epoch)})
	var got *Trace
	recorder.SetCallback(func(trace *Trace) { got = trace })

	command := ipc.Command{Kind: ipc.KindSendMessage, Channel: "jobs", Peer: ipc.Peer{ID: "legacy"}}
	recorder.OnCommandRouted(command, nil)

	if got == nil {
		t.Fatal("no trace recorded")
	}
	if got.Current().ID != "external-legacy-1" || !got.Current().Timestamp.Equal(epoch) {
		t.Errorf("entry = %+v", got.Current())
	}
	if command.Log != nil {
		t.Error("recorder mutated the caller's command")
	}
}

func TestRecorderDigestsFrames(t *testing.T) {
	request, _ := requestAndResponse()
	frame, err := ipc.EncodeCommand(request, "build", int64(3))
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}

	recorder := NewRecorder(RecorderOptions{Level: LevelArgs})
	var got *Trace
	recorder.SetCallback(func(trace *Trace) { got = trace })
	recorder.OnBufferFramed(request, frame)

	if got.PayloadSize != len(frame) || len(got.PayloadDigest) != 64 {
		t.Errorf("payload size %d digest %q", got.PayloadSize, got.PayloadDigest)
	}
	if args := got.Current().Args; len(args) != 2 || args[0] != "build" || args[1] != int64(3) {
		t.Errorf("args = %#v", args)
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{"": LevelNone, "none": LevelNone, "traffic": LevelTraffic, "args": LevelArgs} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}

func TestFileSinkCompressions(t *testing.T) {
	_, response := requestAndResponse()
	trace := Build(response)
	trace.Order = 9

	for _, compression := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(compression), func(t *testing.T) {
			var output bytes.Buffer
			sink, err := NewSink(&output, compression, nil)
			if err != nil {
				t.Fatalf("NewSink: %v", err)
			}
			sink.Write(trace)
			if err := sink.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reader, err := OpenReader(&output, compression)
			if err != nil {
				t.Fatalf("OpenReader: %v", err)
			}
			defer reader.Close()
			content, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("reading trace log: %v", err)
			}

			lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
			if len(lines) != 3 {
				t.Fatalf("got %d lines, want header + 2 hops:\n%s", len(lines), content)
			}
			if lines[0] != strings.Join(Columns, "\t") {
				t.Errorf("header = %q", lines[0])
			}
			fields := strings.Split(lines[1], "\t")
			if len(fields) != len(Columns) {
				t.Fatalf("hop line has %d fields, want %d", len(fields), len(Columns))
			}
			if fields[0] != "9" || fields[3] != string(SendRequestResponse) || fields[10] != "25.000" {
				t.Errorf("hop fields = %q", fields)
			}
		})
	}
}

func TestFileSinkSanitizesFields(t *testing.T) {
	var output bytes.Buffer
	sink, err := NewSink(&output, CompressionNone, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	sink.Write(&Trace{ID: "x", Stack: []Entry{{Kind: SendMessage, Channel: "tab\there", Args: []any{"line\nbreak"}}}})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n")
	if len(lines) != 2 || len(strings.Split(lines[1], "\t")) != len(Columns) {
		t.Errorf("sanitized output = %q", output.String())
	}
}

func TestCompressionForPath(t *testing.T) {
	tests := map[string]Compression{
		"trace.tsv":     CompressionNone,
		"trace.tsv.zst": CompressionZstd,
		"trace.tsv.lz4": CompressionLZ4,
	}
	for path, want := range tests {
		if got := CompressionForPath(path); got != want {
			t.Errorf("CompressionForPath(%q) = %s, want %s", path, got, want)
		}
	}
}
