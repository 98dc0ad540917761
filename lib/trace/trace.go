// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"strings"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// EntryKind describes what a hop did.
type EntryKind string

const (
	SendMessage         EntryKind = "SEND-MESSAGE"
	GetMessage          EntryKind = "GET-MESSAGE"
	SendRequest         EntryKind = "SEND-REQUEST"
	GetRequest          EntryKind = "GET-REQUEST"
	SendRequestResponse EntryKind = "SEND-REQUEST-RESPONSE"
	GetRequestResponse  EntryKind = "GET-REQUEST-RESPONSE"
	SendCancelRequest   EntryKind = "SEND-CANCEL-REQUEST"
	GetCancelRequest    EntryKind = "GET-CANCEL-REQUEST"
)

// Response statuses.
const (
	StatusResolved = "resolved"
	StatusRejected = "rejected"
)

// maxDepth bounds the walk. Chains are acyclic by construction; the
// bound only keeps a corrupt chain from spinning forever.
const maxDepth = 1024

// Entry is one hop of a trace.
type Entry struct {
	ID        string
	Peer      ipc.Peer
	Kind      EntryKind
	Channel   string
	Timestamp time.Time

	// Delay is Timestamp minus the origin's timestamp.
	Delay time.Duration

	ReplyChannel string
	Status       string
	Local        bool

	// Args is set on the newest hop when the recorder level includes
	// arguments.
	Args []any
}

// Trace is the reconstructed chain of one command, newest first.
type Trace struct {
	// Order numbers traces in the order a recorder built them.
	Order uint64
	ID    string
	Stack []Entry

	// PayloadSize and PayloadDigest describe the framed command when
	// the router saw it as bytes. The digest is a BLAKE3-256 hex
	// string.
	PayloadSize   int
	PayloadDigest string
}

// Current returns the newest hop.
func (t *Trace) Current() Entry { return t.Stack[0] }

// First returns the origin hop.
func (t *Trace) First() Entry { return t.Stack[len(t.Stack)-1] }

// Build walks command's causal chain and returns its trace. A command
// without a log descriptor yields a single-entry trace.
func Build(command ipc.Command) *Trace {
	var stack []Entry
	next := &command
	for next != nil && len(stack) < maxDepth {
		var entry Entry
		entry, next = describe(*next)
		stack = append(stack, entry)
	}

	origin := stack[len(stack)-1].Timestamp
	for index := range stack {
		if !stack[index].Timestamp.IsZero() && !origin.IsZero() {
			stack[index].Delay = stack[index].Timestamp.Sub(origin)
		}
	}

	trace := &Trace{Stack: stack}
	trace.ID = trace.First().ID + "_" + string(trace.Current().Kind)
	return trace
}

// describe converts one command into a trace entry and returns the
// command that precedes it in the chain.
func describe(command ipc.Command) (Entry, *ipc.Command) {
	entry := Entry{
		Peer:    command.Peer,
		Channel: command.Channel,
	}
	var previous *ipc.Command
	if command.Log != nil {
		entry.ID = command.Log.ID
		entry.Timestamp = command.Log.Timestamp
		entry.Local = command.Log.Local
		previous = command.Log.Previous
	}

	switch command.Kind {
	case ipc.KindSendMessage:
		entry.Kind = SendMessage
	case ipc.KindRequestMessage:
		entry.Kind = SendRequest
		entry.ReplyChannel = command.ReplyChannel()
	case ipc.KindRequestCancel:
		entry.Kind = SendCancelRequest
		describeRequest(&entry, command)
		entry.Status = StatusRejected
	case ipc.KindRequestResponse, ipc.KindLogRequestResponse:
		entry.Kind = SendRequestResponse
		describeRequest(&entry, command)
	case ipc.KindLogGetMessage:
		// A get wraps the delivered command; the two form one hop.
		delivered := previous
		if delivered == nil {
			entry.Kind = GetMessage
			break
		}
		entry.Channel = delivered.Channel
		switch delivered.Kind {
		case ipc.KindRequestMessage:
			entry.Kind = GetRequest
			entry.ReplyChannel = delivered.ReplyChannel()
		case ipc.KindRequestResponse:
			entry.Kind = GetRequestResponse
			describeRequest(&entry, *delivered)
			entry.Channel = delivered.Channel
		case ipc.KindRequestCancel:
			entry.Kind = GetCancelRequest
		default:
			entry.Kind = GetMessage
		}
		previous = nil
		if delivered.Log != nil {
			previous = delivered.Log.Previous
		}
	default:
		entry.Kind = EntryKind(strings.ToUpper(string(command.Kind)))
	}
	return entry, previous
}

func describeRequest(entry *Entry, command ipc.Command) {
	if command.Request == nil {
		return
	}
	entry.Channel = command.Request.Channel
	entry.ReplyChannel = command.Request.ReplyChannel
	if command.Request.Resolve {
		entry.Status = StatusResolved
	} else {
		entry.Status = StatusRejected
	}
}
