// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bureau-foundation/ipcbus/lib/codec"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

var (
	// ErrNotConnected is returned by Send and Request before Connect
	// succeeds.
	ErrNotConnected = errors.New("transport not connected")

	// ErrNotRequest is returned when answering a plain message.
	ErrNotRequest = errors.New("message is not a request")

	// ErrAlreadyAnswered is returned by a second Resolve or Reject.
	ErrAlreadyAnswered = errors.New("request already answered")
)

// Handler receives messages on a subscribed channel. Handlers for one
// transport run one at a time, in delivery order.
type Handler func(*Message)

// Message is a delivered send or request.
type Message struct {
	Channel string
	Sender  ipc.Peer
	Args    []any

	// Request is set when the sender expects an answer.
	Request *ipc.Request

	// Local is set when the message came from this transport.
	Local bool

	command   ipc.Command
	transport *Transport
	answered  *atomic.Bool
}

// IsRequest reports whether the message expects Resolve or Reject.
func (m *Message) IsRequest() bool { return m.Request != nil }

// Resolve answers a request successfully. Only the first answer from
// any handler is sent.
func (m *Message) Resolve(args ...any) error {
	return m.answer(true, args)
}

// Reject answers a request with a failure reason.
func (m *Message) Reject(reason string) error {
	return m.answer(false, []any{reason})
}

// Decode converts argument index into target, which must be a pointer.
// Arguments that crossed a socket arrive as generic values (maps,
// int64); Decode gives them back their concrete type.
func (m *Message) Decode(index int, target any) error {
	if index < 0 || index >= len(m.Args) {
		return fmt.Errorf("message on %q has %d arguments, no index %d", m.Channel, len(m.Args), index)
	}
	return codec.Convert(m.Args[index], target)
}

func (m *Message) answer(resolve bool, args []any) error {
	if m.Request == nil {
		return ErrNotRequest
	}
	if !m.answered.CompareAndSwap(false, true) {
		return ErrAlreadyAnswered
	}
	return m.transport.respond(m, resolve, args)
}

// Response is the successful answer to a request.
type Response struct {
	Channel   string
	Responder ipc.Peer
	Args      []any
}

// Decode converts argument index into target. See [Message.Decode].
func (r *Response) Decode(index int, target any) error {
	if index < 0 || index >= len(r.Args) {
		return fmt.Errorf("response on %q has %d arguments, no index %d", r.Channel, len(r.Args), index)
	}
	return codec.Convert(r.Args[index], target)
}

type responseResult struct {
	response *Response
	err      error
}

func resultFor(command ipc.Command, args []any) responseResult {
	channel := command.Channel
	if command.Request != nil {
		channel = command.Request.Channel
	}
	if command.Request != nil && command.Request.Resolve {
		return responseResult{response: &Response{Channel: channel, Responder: command.Peer, Args: args}}
	}
	reason := "rejected"
	if len(args) > 0 {
		reason = fmt.Sprint(args[0])
	}
	return responseResult{err: &ipc.RequestError{Channel: channel, Reason: reason}}
}
