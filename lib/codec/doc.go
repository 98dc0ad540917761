// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the bus's standard CBOR encoding configuration.
//
// CBOR is the payload format of object frames (type tag 'O') in
// lib/packet, which makes it the encoding of every command envelope
// and of every structured argument that crosses a process or socket
// boundary. Keeping the configuration in one package means every peer
// on the bus encodes identically.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Timestamps encode as RFC 3339 text with nanoseconds so causal trace
// delays survive a hop. When decoding into an untyped target, maps
// become map[string]any so decoded arguments mix freely with
// encoding/json and ordinary Go code.
//
//	data, err := codec.Marshal(command)
//	err = codec.Unmarshal(data, &command)
//
// [Convert] re-decodes a loosely typed value (an argument that arrived
// as map[string]any over a socket) into a concrete Go type.
//
// # Struct Tag Rules
//
// Types that only ever travel inside frames use `cbor` tags. Types that
// are also printed as JSON by the CLI use `json` tags, which fxamacker
// reads as a fallback. Never put both tags on one field.
package codec
