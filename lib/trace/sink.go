// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a FileSink compresses its output.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression parses a compression name. The empty string means
// CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd, CompressionLZ4:
		return Compression(name), nil
	default:
		return "", fmt.Errorf("unknown trace compression %q (want none, zstd or lz4)", name)
	}
}

// CompressionForPath infers compression from a file extension: .zst
// is zstd, .lz4 is lz4, anything else is uncompressed.
func CompressionForPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Columns is the header line of a trace log.
var Columns = []string{
	"order", "trace", "hop", "kind", "peer", "name", "channel",
	"reply_channel", "status", "local", "delay_ms", "timestamp",
	"payload_size", "payload_digest", "args",
}

// FileSink writes traces as tab-separated lines, one per hop. Use its
// Write method as a Recorder callback.
type FileSink struct {
	logger *slog.Logger

	mu         sync.Mutex
	output     io.Closer // nil when the sink does not own the writer
	compressor io.WriteCloser
	buffered   *bufio.Writer
	failed     error
	closed     bool
}

var errSinkClosed = errors.New("trace sink closed")

// CreateFileSink creates (or truncates) path and returns a sink writing
// to it.
func CreateFileSink(path string, compression Compression, logger *slog.Logger) (*FileSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating trace log: %w", err)
	}
	sink, err := NewSink(file, compression, logger)
	if err != nil {
		file.Close()
		return nil, err
	}
	sink.output = file
	return sink, nil
}

// NewSink returns a sink writing to w. Closing the sink flushes the
// compressor but does not close w.
func NewSink(w io.Writer, compression Compression, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sink := &FileSink{logger: logger}

	target := w
	switch compression {
	case "", CompressionNone:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		sink.compressor = encoder
		target = encoder
	case CompressionLZ4:
		writer := lz4.NewWriter(w)
		sink.compressor = writer
		target = writer
	default:
		return nil, fmt.Errorf("unknown trace compression %q", compression)
	}

	sink.buffered = bufio.NewWriter(target)
	if _, err := sink.buffered.WriteString(strings.Join(Columns, "\t") + "\n"); err != nil {
		return nil, fmt.Errorf("writing trace header: %w", err)
	}
	return sink, nil
}

// Write appends trace. Write errors are logged once; later traces are
// dropped.
func (s *FileSink) Write(trace *Trace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return
	}
	for hop, entry := range trace.Stack {
		fields := []string{
			strconv.FormatUint(trace.Order, 10),
			trace.ID,
			strconv.Itoa(hop),
			string(entry.Kind),
			entry.Peer.ID,
			entry.Peer.Name,
			entry.Channel,
			entry.ReplyChannel,
			entry.Status,
			strconv.FormatBool(entry.Local),
			strconv.FormatFloat(float64(entry.Delay)/float64(time.Millisecond), 'f', 3, 64),
			formatTimestamp(entry.Timestamp),
			strconv.Itoa(trace.PayloadSize),
			trace.PayloadDigest,
			formatArgs(entry.Args),
		}
		for index, field := range fields {
			fields[index] = sanitize(field)
		}
		if _, err := s.buffered.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			s.failed = err
			s.logger.Error("trace log write failed, dropping further traces", "error", err)
			return
		}
	}
}

// Flush pushes buffered lines through the compressor. Compressed
// output only reaches the writer in whole blocks, or on Close.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	return s.buffered.Flush()
}

// Close flushes everything and finishes the compressed stream.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.buffered.Flush()
	if s.compressor != nil {
		if closeErr := s.compressor.Close(); err == nil {
			err = closeErr
		}
	}
	if s.output != nil {
		if closeErr := s.output.Close(); err == nil {
			err = closeErr
		}
	}
	if s.failed == nil {
		s.failed = errSinkClosed
	}
	return err
}

// OpenReader returns a reader of the uncompressed lines of a trace log.
func OpenReader(r io.Reader, compression Compression) (io.ReadCloser, error) {
	switch compression {
	case "", CompressionNone:
		return io.NopCloser(r), nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	case CompressionLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown trace compression %q", compression)
	}
}

func formatTimestamp(timestamp time.Time) string {
	if timestamp.IsZero() {
		return ""
	}
	return timestamp.UTC().Format(time.RFC3339Nano)
}

func formatArgs(args []any) string {
	if args == nil {
		return ""
	}
	return fmt.Sprint(args...)
}

var fieldReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func sanitize(field string) string {
	return fieldReplacer.Replace(field)
}
