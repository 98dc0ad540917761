// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// Registry is a per-channel, per-connection, per-peer reference counted
// listener table. K identifies a connection (the conduit fan-out goes
// through); C is the handle used to write to it.
type Registry[K comparable, C any] struct {
	channels map[string]*channelEntry[K, C]
	routes   map[string]Route[K, C]
}

// Route is a pending response route.
type Route[K comparable, C any] struct {
	Key        K
	Connection C
	Peer       ipc.Peer
}

type channelEntry[K comparable, C any] struct {
	// order keeps fan-out in subscription order.
	order       []K
	connections map[K]*connectionEntry[C]
}

type connectionEntry[C any] struct {
	connection C
	peers      map[string]int
}

// New returns an empty registry.
func New[K comparable, C any]() *Registry[K, C] {
	return &Registry[K, C]{
		channels: make(map[string]*channelEntry[K, C]),
		routes:   make(map[string]Route[K, C]),
	}
}

// AddRef increments the count of (channel, key, peerID) and returns the
// new count. The connection handle is stored the first time key
// subscribes to channel.
func (r *Registry[K, C]) AddRef(channel string, key K, connection C, peerID string) int {
	entry, ok := r.channels[channel]
	if !ok {
		entry = &channelEntry[K, C]{connections: make(map[K]*connectionEntry[C])}
		r.channels[channel] = entry
	}
	row, ok := entry.connections[key]
	if !ok {
		row = &connectionEntry[C]{connection: connection, peers: make(map[string]int)}
		entry.connections[key] = row
		entry.order = append(entry.order, key)
	}
	row.peers[peerID]++
	return row.peers[peerID]
}

// Release decrements the count of (channel, key, peerID) and returns
// what remains. Releasing an absent row is a no-op returning 0.
func (r *Registry[K, C]) Release(channel string, key K, peerID string) int {
	row := r.row(channel, key)
	if row == nil {
		return 0
	}
	count, ok := row.peers[peerID]
	if !ok {
		return 0
	}
	if count > 1 {
		row.peers[peerID] = count - 1
		return count - 1
	}
	r.dropPeer(channel, key, peerID)
	return 0
}

// ReleaseAll removes (channel, key, peerID) whatever its count.
func (r *Registry[K, C]) ReleaseAll(channel string, key K, peerID string) {
	r.dropPeer(channel, key, peerID)
}

// RemovePeer removes every row of peerID under key, across all
// channels. It returns the channels that lost their last listener.
func (r *Registry[K, C]) RemovePeer(key K, peerID string) []string {
	var emptied []string
	for _, channel := range r.Channels() {
		if r.row(channel, key) == nil {
			continue
		}
		r.dropPeer(channel, key, peerID)
		if !r.HasChannel(channel) {
			emptied = append(emptied, channel)
		}
	}
	return emptied
}

// RemoveConnection removes every row under key and every response
// route that would deliver to key. It returns the channels that lost
// their last listener. Unknown keys are a no-op.
func (r *Registry[K, C]) RemoveConnection(key K) []string {
	var emptied []string
	for _, channel := range r.Channels() {
		entry := r.channels[channel]
		if _, ok := entry.connections[key]; !ok {
			continue
		}
		r.dropConnection(channel, entry, key)
		if !r.HasChannel(channel) {
			emptied = append(emptied, channel)
		}
	}
	for replyChannel, route := range r.routes {
		if route.Key == key {
			delete(r.routes, replyChannel)
		}
	}
	return emptied
}

// HasChannel reports whether anyone listens on channel.
func (r *Registry[K, C]) HasChannel(channel string) bool {
	_, ok := r.channels[channel]
	return ok
}

// HasListener reports whether key has any listener on channel.
func (r *Registry[K, C]) HasListener(channel string, key K) bool {
	return r.row(channel, key) != nil
}

// Channels returns the subscribed channel names, sorted.
func (r *Registry[K, C]) Channels() []string {
	channels := make([]string, 0, len(r.channels))
	for channel := range r.channels {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// ForEachChannel calls visit once per connection subscribed to channel,
// in subscription order.
func (r *Registry[K, C]) ForEachChannel(channel string, visit func(key K, connection C)) {
	entry, ok := r.channels[channel]
	if !ok {
		return
	}
	// visit may release rows; iterate over a copy of the order.
	order := append([]K(nil), entry.order...)
	for _, key := range order {
		if row, ok := entry.connections[key]; ok {
			visit(key, row.connection)
		}
	}
}

// PushResponseRoute records where the response on replyChannel must
// go. A second push for the same reply channel replaces the first.
func (r *Registry[K, C]) PushResponseRoute(replyChannel string, key K, connection C, peer ipc.Peer) {
	r.routes[replyChannel] = Route[K, C]{Key: key, Connection: connection, Peer: peer}
}

// PopResponseRoute returns and deletes the route for replyChannel.
func (r *Registry[K, C]) PopResponseRoute(replyChannel string) (Route[K, C], bool) {
	route, ok := r.routes[replyChannel]
	if ok {
		delete(r.routes, replyChannel)
	}
	return route, ok
}

// PendingRoutes returns the number of live response routes.
func (r *Registry[K, C]) PendingRoutes() int {
	return len(r.routes)
}

// Snapshot describes the registry for a query-state answer. name
// renders connection keys.
func (r *Registry[K, C]) Snapshot(name func(K) string) ([]ipc.ChannelState, []ipc.RouteState) {
	if name == nil {
		name = func(key K) string { return fmt.Sprint(key) }
	}
	channels := make([]ipc.ChannelState, 0, len(r.channels))
	for _, channel := range r.Channels() {
		entry := r.channels[channel]
		state := ipc.ChannelState{Channel: channel}
		for _, key := range entry.order {
			row := entry.connections[key]
			peerIDs := make([]string, 0, len(row.peers))
			for peerID := range row.peers {
				peerIDs = append(peerIDs, peerID)
			}
			sort.Strings(peerIDs)
			for _, peerID := range peerIDs {
				state.Listeners = append(state.Listeners, ipc.ListenerState{
					Connection: name(key),
					PeerID:     peerID,
					RefCount:   row.peers[peerID],
				})
			}
		}
		channels = append(channels, state)
	}

	routes := make([]ipc.RouteState, 0, len(r.routes))
	for replyChannel, route := range r.routes {
		routes = append(routes, ipc.RouteState{
			ReplyChannel: replyChannel,
			Connection:   name(route.Key),
			PeerID:       route.Peer.ID,
		})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ReplyChannel < routes[j].ReplyChannel })
	return channels, routes
}

func (r *Registry[K, C]) row(channel string, key K) *connectionEntry[C] {
	entry, ok := r.channels[channel]
	if !ok {
		return nil
	}
	return entry.connections[key]
}

func (r *Registry[K, C]) dropPeer(channel string, key K, peerID string) {
	entry, ok := r.channels[channel]
	if !ok {
		return
	}
	row, ok := entry.connections[key]
	if !ok {
		return
	}
	delete(row.peers, peerID)
	if len(row.peers) == 0 {
		r.dropConnection(channel, entry, key)
	}
}

func (r *Registry[K, C]) dropConnection(channel string, entry *channelEntry[K, C], key K) {
	delete(entry.connections, key)
	for index, ordered := range entry.order {
		if ordered == key {
			entry.order = append(entry.order[:index], entry.order[index+1:]...)
			break
		}
	}
	if len(entry.connections) == 0 {
		delete(r.channels, channel)
	}
}
