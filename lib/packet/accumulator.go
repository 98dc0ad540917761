// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"bytes"
	"errors"
)

// Accumulator reassembles frames from a byte stream that arrives in
// arbitrary chunks. Feed it every chunk read from the stream; it
// returns each frame as soon as its final byte has arrived and keeps
// the remainder for the next call.
//
// A frame with an unknown tag cannot be skipped by length, so the
// accumulator discards bytes up to the next header separator and
// resumes there. The discarded frame is reported as an error wrapping
// ErrProtocol; frames after it are still returned.
//
// An Accumulator is not safe for concurrent use. Each stream reader
// owns one.
type Accumulator struct {
	pending []byte
}

// Feed appends chunk to the pending bytes and returns every complete
// frame now available, in stream order. Returned packets own their
// bytes and stay valid after later Feed calls.
func (a *Accumulator) Feed(chunk []byte) ([]Packet, error) {
	a.pending = append(a.pending, chunk...)

	var (
		packets []Packet
		errs    []error
		offset  int
	)
	for offset < len(a.pending) {
		packet, err := Next(a.pending, offset)
		if err != nil {
			errs = append(errs, err)
			offset = a.resync(offset + 1)
			continue
		}
		if packet.Header.Partial {
			break
		}
		frame := make([]byte, len(packet.Bytes))
		copy(frame, packet.Bytes)
		packets = append(packets, Packet{Header: packet.Header, Bytes: frame})
		offset += packet.Header.PacketSize
	}

	remaining := copy(a.pending, a.pending[offset:])
	a.pending = a.pending[:remaining]
	return packets, errors.Join(errs...)
}

// Pending returns the number of buffered bytes belonging to a frame
// that has not completed yet.
func (a *Accumulator) Pending() int {
	return len(a.pending)
}

// Reset drops any buffered bytes.
func (a *Accumulator) Reset() {
	a.pending = a.pending[:0]
}

// resync returns the offset of the next header separator at or after
// from, or len(pending) when there is none.
func (a *Accumulator) resync(from int) int {
	if from >= len(a.pending) {
		return len(a.pending)
	}
	index := bytes.IndexByte(a.pending[from:], headerSeparator)
	if index < 0 {
		return len(a.pending)
	}
	return from + index
}
