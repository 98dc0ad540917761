// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// envelope is a command in flight through the core. Arguments are kept
// in whichever form they arrived and converted at most once: a framed
// command forwarded to framed endpoints is never re-encoded, and a
// structured one is encoded once however many sockets it fans out to.
type envelope struct {
	command ipc.Command
	args    []any
	frame   []byte
	decoded bool
}

func newEnvelope(command ipc.Command, args []any, frame []byte) *envelope {
	return &envelope{command: command, args: args, frame: frame, decoded: frame == nil}
}

// control builds an argument-less envelope for a command the core
// originates.
func control(command ipc.Command) *envelope {
	return newEnvelope(command, nil, nil)
}

func (e *envelope) encoded() ([]byte, error) {
	if e.frame != nil {
		return e.frame, nil
	}
	frame, err := ipc.EncodeCommand(e.command, e.args...)
	if err != nil {
		return nil, err
	}
	e.frame = frame
	return frame, nil
}

func (e *envelope) arguments() ([]any, error) {
	if e.decoded {
		return e.args, nil
	}
	_, args, err := ipc.DecodeCommand(e.frame)
	if err != nil {
		return nil, err
	}
	e.args, e.decoded = args, true
	return args, nil
}

// rewrite returns an envelope carrying command with the same
// arguments. The frame embeds the old command, so it is not reused.
func (e *envelope) rewrite(command ipc.Command) (*envelope, error) {
	args, err := e.arguments()
	if err != nil {
		return nil, err
	}
	return newEnvelope(command, args, nil), nil
}
