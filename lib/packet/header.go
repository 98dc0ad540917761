// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrProtocol is wrapped by every error reporting a malformed frame:
// an unknown type tag, a missing separator, an impossible length, or a
// missing footer.
var ErrProtocol = errors.New("protocol error")

// BufferType is the one byte type tag following the header separator.
// These values are protocol constants shared with every peer on the bus.
type BufferType byte

const (
	TypeNotValid BufferType = 'X'
	TypeString   BufferType = 's'
	TypeBuffer   BufferType = 'B'
	TypeBoolean  BufferType = 'b'
	TypeArray    BufferType = 'A'
	TypeNumber   BufferType = 'n'
	TypeObject   BufferType = 'O'
)

// String returns the human-readable name of a type tag.
func (t BufferType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBuffer:
		return "buffer"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeNumber:
		return "number"
	case TypeObject:
		return "object"
	default:
		return "not-valid"
	}
}

const (
	headerSeparator byte = '['
	footerSeparator byte = ']'

	// markerLength is the separator plus the type tag.
	markerLength = 2

	// FooterLength is the size of the trailing ']' separator.
	FooterLength = 1

	// SizedHeaderLength is the header size for every type carrying a
	// length field.
	SizedHeaderLength = markerLength + 4

	// BooleanHeaderLength is the header size of a boolean frame, which
	// has no length field.
	BooleanHeaderLength = markerLength

	// BooleanPacketSize is the fixed total size of a boolean frame.
	BooleanPacketSize = BooleanHeaderLength + 1 + FooterLength

	// MaxPacketSize bounds the length field so that a corrupt or
	// hostile peer cannot make a reader buffer unbounded memory.
	MaxPacketSize = 64 * 1024 * 1024
)

// Header describes one frame, parsed from its leading bytes. A Header
// is built per decode attempt and discarded once the frame is consumed
// or found incomplete.
type Header struct {
	// Type is the frame's type tag, or TypeNotValid when the bytes do
	// not start a recognisable frame.
	Type BufferType

	// PacketSize is the total frame length including header and footer.
	// Zero when the header itself is incomplete.
	PacketSize int

	// HeaderSize is the length of the marker plus length field.
	HeaderSize int

	// ContentSize is PacketSize - HeaderSize - FooterLength.
	ContentSize int

	// Partial is true when fewer bytes are available than the frame
	// needs. Partial takes precedence over Type: a partial header may
	// not have revealed its type yet.
	Partial bool
}

// Valid reports whether the header carries a recognised type tag.
func (h Header) Valid() bool {
	return h.Type != TypeNotValid
}

// ReadHeader parses the frame header starting at data[offset]. It never
// reads past len(data) and never panics on truncated input.
//
// The returned header is Partial when data ends before the complete
// frame (not just the header) is available. It has Type TypeNotValid
// when the separator is missing, the tag is unknown, or the declared
// length is impossible; callers must treat that as a protocol error.
func ReadHeader(data []byte, offset int) Header {
	header := Header{Type: TypeNotValid}
	if offset < 0 {
		return header
	}
	available := len(data) - offset
	if available < markerLength {
		if available == 1 && data[offset] != headerSeparator {
			return header
		}
		header.Partial = true
		return header
	}
	if data[offset] != headerSeparator {
		return header
	}

	switch tag := BufferType(data[offset+1]); tag {
	case TypeString, TypeBuffer, TypeArray, TypeNumber, TypeObject:
		header.Type = tag
		header.HeaderSize = SizedHeaderLength
		if available < SizedHeaderLength {
			header.Partial = true
			return header
		}
		size := binary.LittleEndian.Uint32(data[offset+markerLength : offset+SizedHeaderLength])
		if size < SizedHeaderLength+FooterLength || size > MaxPacketSize {
			return Header{Type: TypeNotValid, HeaderSize: SizedHeaderLength, PacketSize: int(size)}
		}
		header.PacketSize = int(size)

	case TypeBoolean:
		header.Type = tag
		header.HeaderSize = BooleanHeaderLength
		header.PacketSize = BooleanPacketSize

	default:
		return header
	}

	header.ContentSize = header.PacketSize - header.HeaderSize - FooterLength
	if available < header.PacketSize {
		header.Partial = true
	}
	return header
}

// protocolError builds an error wrapping ErrProtocol for the frame at
// offset.
func protocolError(offset int, header Header, reason string) error {
	return fmt.Errorf("%w: frame at offset %d (tag %s, size %d): %s",
		ErrProtocol, offset, header.Type, header.PacketSize, reason)
}
