// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package packet implements the framed binary envelope used whenever a
// command crosses a process or socket boundary.
//
// Every frame opens with a two byte marker: the separator '[' followed
// by a one byte type tag. Sized types (string, buffer, number, array,
// object) follow the marker with a little-endian uint32 giving the
// total frame length, header and footer included. Boolean frames carry
// a single payload byte and have a fixed total size of four bytes.
// Every frame closes with the footer separator ']'.
//
//	['[', 's', len:uint32, payload..., ']']
//	['[', 'b', 0|1, ']']
//
// Array payloads are the concatenation of their element frames. Object
// payloads are CBOR (see lib/codec). Number payloads are the decimal
// text of the value, which keeps integers and floats distinct.
//
// Truncation is the normal state of a streaming transport, not an
// error: [ReadHeader] and [Next] report it through [Header.Partial] and
// the caller retries once more bytes arrive. [Accumulator] wraps that
// retry loop for a byte stream. An unrecognised type tag yields
// [TypeNotValid] and an error wrapping [ErrProtocol]; it is never
// confused with a partial frame.
package packet
