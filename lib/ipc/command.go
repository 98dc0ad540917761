// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"time"
)

// Tier is the kind of process a peer lives in.
type Tier string

const (
	// TierSupervisor is the process hosting a Bridge.
	TierSupervisor Tier = "supervisor"
	// TierWorker is a subprocess owned by a supervisor.
	TierWorker Tier = "worker"
	// TierSocket is an external process reaching the bus through a
	// Broker socket.
	TierSocket Tier = "socket"
)

// Unavailable marks an OS-level id the connector could not determine,
// or must not probe (sandboxed peers).
const Unavailable = -1

// Process is the host metadata of a peer, filled in by the connector
// that accepted it.
type Process struct {
	Tier Tier `cbor:"tier"`

	// PID and UID come from SO_PEERCRED for socket peers, or from the
	// spawned command for workers. Unavailable when unknown.
	PID int `cbor:"pid"`
	UID int `cbor:"uid"`

	// Worker is the bridge-assigned index of a worker connection, or
	// Unavailable outside the worker tier.
	Worker int `cbor:"worker"`
}

// UnknownProcess returns process metadata for tier with every id
// Unavailable.
func UnknownProcess(tier Tier) Process {
	return Process{Tier: tier, PID: Unavailable, UID: Unavailable, Worker: Unavailable}
}

// Peer identifies one bus participant.
type Peer struct {
	ID      string  `cbor:"id"`
	Name    string  `cbor:"name,omitempty"`
	Process Process `cbor:"process"`
}

func (p Peer) String() string {
	if p.Name == "" {
		return p.ID
	}
	return fmt.Sprintf("%s(%s)", p.Name, p.ID)
}

// Request describes a request or the response to one. Responses copy
// the request descriptor and set Resolve.
type Request struct {
	ID string `cbor:"id"`

	// Channel is the channel the request was sent on.
	Channel string `cbor:"channel"`

	// ReplyChannel is the single-use channel the response is routed
	// on. Routers keep a route from it back to the requester.
	ReplyChannel string `cbor:"reply_channel"`

	// Resolve is true for a successful response. A rejected response
	// carries the reason as its only argument.
	Resolve bool `cbor:"resolve,omitempty"`

	TimeoutMs int64 `cbor:"timeout_ms,omitempty"`
}

// Log links a command to the command that caused it. Following
// Previous reconstructs the causal chain of a message.
type Log struct {
	ID        string    `cbor:"id"`
	Timestamp time.Time `cbor:"timestamp"`

	// Local is set when the command was delivered inside its origin
	// process without crossing a router.
	Local bool `cbor:"local,omitempty"`

	Previous *Command `cbor:"previous,omitempty"`
}

// Handshake is the payload of a handshake command.
type Handshake struct {
	Name string `cbor:"name,omitempty"`

	// Sandboxed comes from configuration, never from probing. The
	// router does not attempt OS process discovery for sandboxed
	// peers.
	Sandboxed bool `cbor:"sandboxed,omitempty"`

	Version string `cbor:"version,omitempty"`
}

// Command is the unit of control and data on the bus. A command is a
// value: routers that need a different kind build a new one with
// [Command.WithKind] and leave the original untouched.
type Command struct {
	Kind    Kind   `cbor:"kind"`
	Channel string `cbor:"channel,omitempty"`
	Peer    Peer   `cbor:"peer"`

	Request   *Request   `cbor:"request,omitempty"`
	Log       *Log       `cbor:"log,omitempty"`
	Handshake *Handshake `cbor:"handshake,omitempty"`

	// Channels is the aggregate channel set of a bridge-connect.
	Channels []string `cbor:"channels,omitempty"`

	// State answers a query-state.
	State *State `cbor:"state,omitempty"`
}

// WithKind returns a copy of c with its kind replaced. Nested
// descriptors are shared, so callers must not mutate them.
func (c Command) WithKind(kind Kind) Command {
	c.Kind = kind
	return c
}

// ReplyChannel returns the reply channel of a request or response
// command, or "" when c carries no request descriptor.
func (c Command) ReplyChannel() string {
	if c.Request == nil {
		return ""
	}
	return c.Request.ReplyChannel
}

// Validate checks the fields a router depends on.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: unknown command kind %q", ErrProtocol, c.Kind)
	}
	switch c.Kind {
	case KindRequestMessage, KindRequestResponse, KindRequestCancel:
		if c.ReplyChannel() == "" {
			return fmt.Errorf("%w: %s without reply channel", ErrProtocol, c.Kind)
		}
	case KindSendMessage, KindAddChannelListener, KindRemoveChannelListener, KindRemoveChannelAllListeners:
		if c.Channel == "" {
			return fmt.Errorf("%w: %s without channel", ErrProtocol, c.Kind)
		}
	}
	return nil
}

// State is a router's answer to query-state.
type State struct {
	// Component names the answering router ("broker", "bridge").
	Component string         `cbor:"component"`
	Peers     []Peer         `cbor:"peers,omitempty"`
	Channels  []ChannelState `cbor:"channels,omitempty"`
	Routes    []RouteState   `cbor:"routes,omitempty"`
	Upstream  *UpstreamState `cbor:"upstream,omitempty"`
}

// ChannelState lists the subscriptions on one channel.
type ChannelState struct {
	Channel   string          `cbor:"channel"`
	Listeners []ListenerState `cbor:"listeners"`
}

// ListenerState is one registry row.
type ListenerState struct {
	Connection string `cbor:"connection"`
	PeerID     string `cbor:"peer_id"`
	RefCount   int    `cbor:"ref_count"`
}

// RouteState is one pending response route.
type RouteState struct {
	ReplyChannel string `cbor:"reply_channel"`
	Connection   string `cbor:"connection"`
	PeerID       string `cbor:"peer_id"`
}

// UpstreamState describes a bridge's link to its broker.
type UpstreamState struct {
	Connected bool     `cbor:"connected"`
	Channels  []string `cbor:"channels,omitempty"`
}
