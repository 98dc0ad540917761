// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace reconstructs the causal history of bus messages.
//
// Every command a Transport emits carries a log descriptor whose
// Previous field points at the command that caused it: a response
// points at its request, a log-get-message points at the message that
// was delivered. [Build] walks that chain from the newest hop back to
// the origin and returns a [Trace] whose stack lists each hop with its
// delay from the origin.
//
// A [Recorder] is the observability context a router is constructed
// with. It decides which commands to trace (its [Level]), builds the
// trace once per routed command, and hands it to a single callback.
// [FileSink] is a callback that appends one tab-separated line per hop
// to a file, optionally compressed with zstd or lz4.
package trace
