// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/bureau-foundation/ipcbus/lib/packet"
)

// EncodeCommand frames command and its arguments as one array frame.
func EncodeCommand(command Command, args ...any) ([]byte, error) {
	values := make([]any, 0, len(args)+1)
	values = append(values, command)
	values = append(values, args...)
	frame, err := packet.EncodeArray(values...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", command.Kind, err)
	}
	return frame, nil
}

// DecodeCommand decodes a complete command frame into the command and
// its arguments.
func DecodeCommand(frame []byte) (Command, []any, error) {
	framed, err := packet.Next(frame, 0)
	if err != nil {
		return Command{}, nil, err
	}
	if framed.Header.Partial {
		return Command{}, nil, fmt.Errorf("%w: truncated command frame", ErrProtocol)
	}
	return DecodePacket(framed)
}

// DecodePacket decodes a command from an already delimited frame.
func DecodePacket(framed packet.Packet) (Command, []any, error) {
	command, elements, err := splitCommand(framed)
	if err != nil {
		return Command{}, nil, err
	}
	args := make([]any, len(elements))
	for index, element := range elements {
		if args[index], err = element.Value(); err != nil {
			return Command{}, nil, fmt.Errorf("%s argument %d: %w", command.Kind, index, err)
		}
	}
	return command, args, nil
}

// DecodeHeader decodes only the command of a frame and leaves the
// arguments encoded. Routers use it to decide fan-out without paying
// for argument decoding.
func DecodeHeader(framed packet.Packet) (Command, error) {
	command, _, err := splitCommand(framed)
	return command, err
}

func splitCommand(framed packet.Packet) (Command, []packet.Packet, error) {
	elements, err := framed.Elements()
	if err != nil {
		return Command{}, nil, err
	}
	if len(elements) == 0 {
		return Command{}, nil, fmt.Errorf("%w: empty command frame", ErrProtocol)
	}
	var command Command
	if err := elements[0].UnmarshalObject(&command); err != nil {
		return Command{}, nil, err
	}
	if err := command.Validate(); err != nil {
		return Command{}, nil, err
	}
	return command, elements[1:], nil
}
