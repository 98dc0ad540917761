// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package packet

import (
	"fmt"
	"strconv"

	"github.com/bureau-foundation/ipcbus/lib/codec"
)

// Packet is one complete frame.
type Packet struct {
	Header Header

	// Bytes is the whole frame, separator through footer. It aliases
	// the slice passed to Next.
	Bytes []byte
}

// Content returns the frame payload between header and footer.
func (p Packet) Content() []byte {
	return p.Bytes[p.Header.HeaderSize : p.Header.HeaderSize+p.Header.ContentSize]
}

// Next locates the frame starting at data[offset]. When the frame is
// incomplete the returned packet has Header.Partial set, no Bytes, and
// a nil error. A frame with an unknown tag or a bad footer returns an
// error wrapping ErrProtocol.
func Next(data []byte, offset int) (Packet, error) {
	header := ReadHeader(data, offset)
	if header.Partial {
		return Packet{Header: header}, nil
	}
	if !header.Valid() {
		return Packet{Header: header}, protocolError(offset, header, "unrecognised frame")
	}
	end := offset + header.PacketSize
	if data[end-1] != footerSeparator {
		return Packet{Header: header}, protocolError(offset, header, "missing footer separator")
	}
	return Packet{Header: header, Bytes: data[offset:end]}, nil
}

// Decode decodes the frame at data[offset] into a Go value and reports
// how many bytes it consumed. A partial frame returns a Partial header,
// a nil value and zero bytes consumed; the caller keeps the bytes and
// retries with more data.
func Decode(data []byte, offset int) (Header, any, int, error) {
	packet, err := Next(data, offset)
	if err != nil || packet.Header.Partial {
		return packet.Header, nil, 0, err
	}
	value, err := packet.Value()
	if err != nil {
		return packet.Header, nil, 0, err
	}
	return packet.Header, value, packet.Header.PacketSize, nil
}

// Value decodes the frame into a Go value: string, []byte, bool, int64
// or float64 (uint64 for unsigned values above the int64 range), []any,
// or for objects whatever CBOR decodes to (map[string]any for maps).
func (p Packet) Value() (any, error) {
	content := p.Content()
	switch p.Header.Type {
	case TypeString:
		return string(content), nil
	case TypeBuffer:
		buffer := make([]byte, len(content))
		copy(buffer, content)
		return buffer, nil
	case TypeBoolean:
		return content[0] != 0, nil
	case TypeNumber:
		return parseNumber(string(content))
	case TypeArray:
		elements, err := p.Elements()
		if err != nil {
			return nil, err
		}
		values := make([]any, len(elements))
		for index, element := range elements {
			if values[index], err = element.Value(); err != nil {
				return nil, fmt.Errorf("array element %d: %w", index, err)
			}
		}
		return values, nil
	case TypeObject:
		var value any
		if err := codec.Unmarshal(content, &value); err != nil {
			return nil, fmt.Errorf("%w: object payload: %v", ErrProtocol, err)
		}
		return value, nil
	default:
		return nil, protocolError(0, p.Header, "no value for frame type")
	}
}

// Elements splits an array frame into its element frames without
// decoding them.
func (p Packet) Elements() ([]Packet, error) {
	if p.Header.Type != TypeArray {
		return nil, fmt.Errorf("%w: elements of a %s frame", ErrProtocol, p.Header.Type)
	}
	content := p.Content()
	var elements []Packet
	for offset := 0; offset < len(content); {
		element, err := Next(content, offset)
		if err != nil {
			return nil, err
		}
		if element.Header.Partial {
			return nil, protocolError(offset, element.Header, "element overruns its array")
		}
		elements = append(elements, element)
		offset += element.Header.PacketSize
	}
	return elements, nil
}

// UnmarshalObject decodes an object frame's CBOR payload into target.
func (p Packet) UnmarshalObject(target any) error {
	if p.Header.Type != TypeObject {
		return fmt.Errorf("%w: expected object frame, got %s", ErrProtocol, p.Header.Type)
	}
	if err := codec.Unmarshal(p.Content(), target); err != nil {
		return fmt.Errorf("%w: object payload: %v", ErrProtocol, err)
	}
	return nil
}

func parseNumber(text string) (any, error) {
	if integer, err := strconv.ParseInt(text, 10, 64); err == nil {
		return integer, nil
	}
	if unsigned, err := strconv.ParseUint(text, 10, 64); err == nil {
		return unsigned, nil
	}
	float, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: number payload %q", ErrProtocol, text)
	}
	return float, nil
}
