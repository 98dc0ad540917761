// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"sort"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// route handles a command from a downstream endpoint (a socket peer, a
// worker, the local transport, or a bridge attached to a broker).
func (c *Core) route(origin *endpoint, message *envelope) {
	command := message.command
	c.logger.Debug("routing",
		"kind", command.Kind,
		"channel", command.Channel,
		"peer", command.Peer.ID,
		"endpoint", origin.key,
	)

	switch command.Kind {
	case ipc.KindHandshake, ipc.KindConnect:
		c.handshake(origin, command)

	case ipc.KindClose, ipc.KindDisconnect:
		c.disconnect(origin, message)

	case ipc.KindAddChannelListener, ipc.KindRemoveChannelListener,
		ipc.KindRemoveChannelAllListeners, ipc.KindRemoveListeners:
		c.listenerChange(origin, message)

	case ipc.KindSendMessage:
		c.observe(message)
		c.fanOut(origin, message)

	case ipc.KindRequestMessage:
		c.observe(message)
		c.local.PushResponseRoute(command.ReplyChannel(), origin.key, origin, command.Peer)
		c.fanOut(origin, message)

	case ipc.KindRequestResponse:
		c.observe(message)
		c.deliverResponse(message)

	case ipc.KindRequestCancel:
		c.observe(message)
		c.cancel(origin, message)

	case ipc.KindBridgeConnect:
		c.bridgeConnect(origin, command)

	case ipc.KindBridgeClose:
		c.bridgeClose(origin, command)

	case ipc.KindQueryState:
		state := c.snapshot()
		c.post(origin, control(ipc.Command{
			Kind:    ipc.KindQueryStateResponse,
			Channel: command.Channel,
			Peer:    c.self,
			State:   state,
		}))

	case ipc.KindLogGetMessage, ipc.KindLogRequestResponse:
		c.observe(message)

	default:
		c.logger.Debug("ignoring command", "kind", command.Kind, "endpoint", origin.key)
	}
}

// routeFromUpstream handles a command arriving from the broker. Its
// listener changes describe the broker side of the bus and go to the
// remote mirror; messages fan out locally.
func (c *Core) routeFromUpstream(link *endpoint, message *envelope) {
	command := message.command
	c.logger.Debug("routing from upstream",
		"kind", command.Kind, "channel", command.Channel, "peer", command.Peer.ID)

	switch command.Kind {
	case ipc.KindConnectConfirm, ipc.KindCloseConfirm:
		// Answers to the link's own handshake and bridge-close.

	case ipc.KindBridgeConnect:
		if command.State != nil {
			for _, channel := range command.State.Channels {
				for _, listener := range channel.Listeners {
					for i, n := 0, max(listener.RefCount, 1); i < n; i++ {
						c.remote.AddRef(channel.Channel, link.key, link, listener.PeerID)
					}
				}
			}
		}
		if c.attaching != nil {
			c.attaching <- nil
			c.attaching = nil
		}

	case ipc.KindAddChannelListener:
		c.remote.AddRef(command.Channel, link.key, link, command.Peer.ID)
	case ipc.KindRemoveChannelListener:
		c.remote.Release(command.Channel, link.key, command.Peer.ID)
	case ipc.KindRemoveChannelAllListeners:
		c.remote.ReleaseAll(command.Channel, link.key, command.Peer.ID)
	case ipc.KindRemoveListeners, ipc.KindDisconnect, ipc.KindClose:
		c.remote.RemovePeer(link.key, command.Peer.ID)

	case ipc.KindSendMessage:
		c.observe(message)
		c.fanOut(link, message)

	case ipc.KindRequestMessage:
		c.observe(message)
		c.local.PushResponseRoute(command.ReplyChannel(), link.key, link, command.Peer)
		c.fanOut(link, message)

	case ipc.KindRequestResponse:
		c.observe(message)
		c.deliverResponse(message)

	case ipc.KindRequestCancel:
		c.observe(message)
		c.cancel(link, message)

	default:
		c.logger.Debug("ignoring upstream command", "kind", command.Kind)
	}
}

func (c *Core) handshake(origin *endpoint, command ipc.Command) {
	peer := command.Peer
	sandboxed := false
	if command.Handshake != nil {
		sandboxed = command.Handshake.Sandboxed
		if command.Handshake.Name != "" {
			peer.Name = command.Handshake.Name
		}
	}
	peer.Process = enrichProcess(peer.Process, origin.process, sandboxed)
	origin.peers[peer.ID] = peer
	if origin.handshakeTimer != nil {
		origin.handshakeTimer.Stop()
		origin.handshakeTimer = nil
	}

	c.logger.Info("peer connected",
		"peer", peer.ID,
		"name", peer.Name,
		"endpoint", origin.key,
		"tier", peer.Process.Tier,
		"pid", peer.Process.PID,
	)
	c.post(origin, control(ipc.Command{Kind: ipc.KindConnectConfirm, Peer: peer}))
}

// disconnect handles close and disconnect alike. Only close is
// answered.
func (c *Core) disconnect(origin *endpoint, message *envelope) {
	command := message.command
	c.removePeer(origin, command.Peer.ID)
	c.logger.Info("peer disconnected", "peer", command.Peer.ID, "endpoint", origin.key)

	if command.Kind == ipc.KindClose {
		c.post(origin, control(ipc.Command{Kind: ipc.KindCloseConfirm, Peer: command.Peer}))
	}
	forwarded := message
	if command.Kind != ipc.KindDisconnect {
		forwarded = control(command.WithKind(ipc.KindDisconnect))
	}
	c.forwardToBridges(origin, forwarded)
}

func (c *Core) removePeer(origin *endpoint, peerID string) {
	delete(origin.peers, peerID)
	c.announce(ipc.KindRemoveChannelListener, c.local.RemovePeer(origin.key, peerID))
}

func (c *Core) notePeer(origin *endpoint, peer ipc.Peer) {
	if _, known := origin.peers[peer.ID]; !known && peer.ID != "" {
		origin.peers[peer.ID] = peer
	}
}

func (c *Core) listenerChange(origin *endpoint, message *envelope) {
	command := message.command
	channel := command.Channel
	c.notePeer(origin, command.Peer)

	switch command.Kind {
	case ipc.KindAddChannelListener:
		present := c.local.HasChannel(channel)
		c.local.AddRef(channel, origin.key, origin, command.Peer.ID)
		if !present {
			c.announce(ipc.KindAddChannelListener, []string{channel})
		}
	case ipc.KindRemoveChannelListener:
		c.local.Release(channel, origin.key, command.Peer.ID)
		c.announceIfEmptied(channel)
	case ipc.KindRemoveChannelAllListeners:
		c.local.ReleaseAll(channel, origin.key, command.Peer.ID)
		c.announceIfEmptied(channel)
	case ipc.KindRemoveListeners:
		c.announce(ipc.KindRemoveChannelListener, c.local.RemovePeer(origin.key, command.Peer.ID))
	}
	c.forwardToBridges(origin, message)
}

func (c *Core) announceIfEmptied(channel string) {
	if !c.local.HasChannel(channel) {
		c.announce(ipc.KindRemoveChannelListener, []string{channel})
	}
}

// announce tells the broker that channels gained their first local
// listener or lost their last one. Nothing happens without a link.
func (c *Core) announce(kind ipc.Kind, channels []string) {
	if c.upstream == nil {
		return
	}
	for _, channel := range channels {
		c.post(c.upstream, control(ipc.Command{Kind: kind, Channel: channel, Peer: c.self}))
	}
}

// fanOut delivers a send or request to every endpoint subscribed to
// its channel except origin, then upstream when the broker side has a
// listener.
func (c *Core) fanOut(origin *endpoint, message *envelope) {
	channel := message.command.Channel
	delivered := 0
	c.local.ForEachChannel(channel, func(_ string, target *endpoint) {
		if target == origin {
			return
		}
		c.post(target, message)
		delivered++
	})
	if c.upstream != nil && origin != c.upstream && c.remote.HasChannel(channel) {
		c.post(c.upstream, message)
		delivered++
	}
	if delivered == 0 {
		c.logger.Debug("no listeners", "channel", channel, "kind", message.command.Kind)
	}
}

func (c *Core) deliverResponse(message *envelope) {
	replyChannel := message.command.ReplyChannel()
	route, found := c.local.PopResponseRoute(replyChannel)
	if !found {
		c.logger.Debug("dropping response",
			"reply_channel", replyChannel, "error", ipc.ErrRouteNotFound)
		return
	}
	c.post(route.Connection, message)
}

// cancel drops the route for a request whose caller stopped waiting.
// The cancel travels on to bridge endpoints and upstream, which may
// hold routes for the same request.
func (c *Core) cancel(origin *endpoint, message *envelope) {
	replyChannel := message.command.ReplyChannel()
	if _, found := c.local.PopResponseRoute(replyChannel); !found {
		c.logger.Debug("cancel without route", "reply_channel", replyChannel)
	}
	c.forwardToBridges(origin, message)
	if c.upstream != nil && origin != c.upstream {
		c.post(c.upstream, message)
	}
}

func (c *Core) forwardToBridges(origin *endpoint, message *envelope) {
	for _, key := range c.bridgeKeys() {
		target := c.endpoints[key]
		if target == origin {
			continue
		}
		c.post(target, message)
	}
}

// bridgeKeys returns the keys of bridge endpoints in a stable order.
func (c *Core) bridgeKeys() []string {
	var keys []string
	for key, attached := range c.endpoints {
		if attached.bridge {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// bridgeConnect registers a bridge's aggregate channels and answers
// with the subscriptions held everywhere else.
func (c *Core) bridgeConnect(origin *endpoint, command ipc.Command) {
	origin.bridge = true
	c.notePeer(origin, command.Peer)
	for _, channel := range command.Channels {
		c.local.AddRef(channel, origin.key, origin, command.Peer.ID)
		c.forwardToBridges(origin, control(ipc.Command{
			Kind:    ipc.KindAddChannelListener,
			Channel: channel,
			Peer:    command.Peer,
		}))
	}

	channels, _ := c.local.Snapshot(func(key string) string { return key })
	var others []ipc.ChannelState
	for _, channel := range channels {
		var listeners []ipc.ListenerState
		for _, listener := range channel.Listeners {
			if listener.Connection != origin.key {
				listeners = append(listeners, listener)
			}
		}
		if len(listeners) > 0 {
			others = append(others, ipc.ChannelState{Channel: channel.Channel, Listeners: listeners})
		}
	}

	c.logger.Info("bridge connected",
		"peer", command.Peer.ID, "endpoint", origin.key, "channels", len(command.Channels))
	c.post(origin, control(ipc.Command{
		Kind:  ipc.KindBridgeConnect,
		Peer:  c.self,
		State: &ipc.State{Component: c.component, Channels: others},
	}))
}

func (c *Core) bridgeClose(origin *endpoint, command ipc.Command) {
	origin.bridge = false
	c.removePeer(origin, command.Peer.ID)
	c.logger.Info("bridge withdrew", "peer", command.Peer.ID, "endpoint", origin.key)
	c.forwardToBridges(origin, control(ipc.Command{Kind: ipc.KindDisconnect, Peer: command.Peer}))
}
