// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sort"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

// endpoint is one attached connector. All fields belong to the routing
// goroutine.
type endpoint struct {
	key       string
	connector transport.Connector
	process   ipc.Process

	// bridge is set once the endpoint sent bridge-connect: its
	// subscriptions are another router's aggregate.
	bridge bool

	// upstream marks a bridge core's link to its broker.
	upstream bool

	attached bool
	peers    map[string]ipc.Peer

	handshakeTimer *clock.Timer
}

func newEndpoint(key string, connector transport.Connector) *endpoint {
	return &endpoint{
		key:       key,
		connector: connector,
		process:   connector.Process(),
		peers:     make(map[string]ipc.Peer),
	}
}

func (e *endpoint) sortedPeers() []ipc.Peer {
	peers := make([]ipc.Peer, 0, len(e.peers))
	for _, peer := range e.peers {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// endpointClient feeds a connector's callbacks into the core's event
// queue.
type endpointClient struct {
	core     *Core
	endpoint *endpoint
}

func (c endpointClient) OnPacketReceived(command ipc.Command, args []any, frame []byte) {
	c.core.events.Put(event{endpoint: c.endpoint, envelope: newEnvelope(command, args, frame)})
}

func (c endpointClient) OnShutdown(err error) {
	c.core.events.Put(event{endpoint: c.endpoint, shutdown: err, lost: true})
}

// enrichProcess merges what a peer reports about itself with what its
// connector observed. The tier and worker index always come from the
// connector. Sandboxed peers are never given OS ids.
func enrichProcess(reported, observed ipc.Process, sandboxed bool) ipc.Process {
	if sandboxed {
		process := ipc.UnknownProcess(observed.Tier)
		process.Worker = observed.Worker
		return process
	}
	process := observed
	if reported.Tier == "" {
		return process
	}
	if process.PID == ipc.Unavailable {
		process.PID = reported.PID
	}
	if process.UID == ipc.Unavailable {
		process.UID = reported.UID
	}
	return process
}
