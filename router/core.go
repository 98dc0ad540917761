// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/mailbox"
	"github.com/bureau-foundation/ipcbus/lib/subscription"
	"github.com/bureau-foundation/ipcbus/transport"
)

// upstreamKey is the registry key of a bridge core's broker link.
const upstreamKey = "upstream"

// Options configures a Core.
type Options struct {
	// Component names the router in query-state answers and logs
	// ("broker", "bridge").
	Component string

	// Peer is the router's own identity. A bridge core announces its
	// aggregate subscriptions upstream under it.
	Peer ipc.Peer

	// HandshakeTimeout is how long an attached endpoint may stay
	// silent before it is closed. Defaults to 5s.
	HandshakeTimeout time.Duration

	// Observer, if set, sees every routed command.
	Observer Observer

	Clock  clock.Clock
	Logger *slog.Logger
}

type registry = subscription.Registry[string, *endpoint]

// Core routes commands between endpoints on a single goroutine.
type Core struct {
	component        string
	self             ipc.Peer
	handshakeTimeout time.Duration
	observer         Observer
	clock            clock.Clock
	logger           *slog.Logger

	events    *mailbox.Mailbox[event]
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the routing goroutine.
	endpoints map[string]*endpoint
	sequence  int
	local     *registry
	remote    *registry
	upstream  *endpoint
	attaching chan error
}

type event struct {
	endpoint *endpoint
	envelope *envelope

	lost     bool
	shutdown error

	handshakeExpired bool

	call func()
}

// NewCore returns a running Core. Close stops it.
func NewCore(options Options) *Core {
	if options.Component == "" {
		options.Component = "router"
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 5 * time.Second
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	core := &Core{
		component:        options.Component,
		self:             options.Peer,
		handshakeTimeout: options.HandshakeTimeout,
		observer:         options.Observer,
		clock:            options.Clock,
		logger:           options.Logger.With("component", options.Component),
		events:           mailbox.New[event](),
		done:             make(chan struct{}),
		endpoints:        make(map[string]*endpoint),
		local:            subscription.New[string, *endpoint](),
		remote:           subscription.New[string, *endpoint](),
	}
	go core.run()
	return core
}

// Peer returns the router's own identity.
func (c *Core) Peer() ipc.Peer { return c.self }

// Attach registers connector as a new endpoint and starts it. name
// prefixes the endpoint key shown in state and logs. The returned key
// is unique within the core.
func (c *Core) Attach(name string, connector transport.Connector) (string, error) {
	var attached *endpoint
	err := c.do(func() {
		c.sequence++
		attached = newEndpoint(fmt.Sprintf("%s-%d", name, c.sequence), connector)
		attached.attached = true
		c.endpoints[attached.key] = attached
		attached.handshakeTimer = c.clock.AfterFunc(c.handshakeTimeout, func() {
			c.events.Put(event{endpoint: attached, handshakeExpired: true})
		})
		c.logger.Debug("endpoint attached", "endpoint", attached.key, "tier", attached.process.Tier)
	})
	if err != nil {
		return "", err
	}
	if err := connector.Start(endpointClient{core: c, endpoint: attached}); err != nil {
		c.do(func() { c.detach(attached) })
		return "", fmt.Errorf("starting %s: %w", attached.key, err)
	}
	return attached.key, nil
}

// AttachUpstream links a bridge core to a broker over connector. It
// sends the handshake and the bridge's aggregate channel set, and
// returns once the broker answered with its own, or fails after the
// handshake timeout.
func (c *Core) AttachUpstream(ctx context.Context, connector transport.Connector) error {
	link := newEndpoint(upstreamKey, connector)
	link.upstream = true
	if err := connector.Start(endpointClient{core: c, endpoint: link}); err != nil {
		return fmt.Errorf("starting upstream link: %w", err)
	}

	answered := make(chan error, 1)
	var attachErr error
	err := c.do(func() {
		if c.upstream != nil {
			attachErr = errors.New("upstream link already attached")
			return
		}
		link.attached = true
		c.endpoints[link.key] = link
		c.upstream = link
		c.remote = subscription.New[string, *endpoint]()
		c.attaching = answered

		c.post(link, control(ipc.Command{
			Kind:      ipc.KindHandshake,
			Peer:      c.self,
			Handshake: &ipc.Handshake{Name: c.self.Name},
		}))
		c.post(link, control(ipc.Command{
			Kind:     ipc.KindBridgeConnect,
			Peer:     c.self,
			Channels: c.local.Channels(),
		}))
	})
	if err == nil {
		err = attachErr
	}
	if err != nil {
		connector.Close()
		return err
	}

	select {
	case err := <-answered:
		if err != nil {
			return err
		}
		c.logger.Info("linked to broker", "peer", c.self.ID)
		return nil
	case <-c.clock.After(c.handshakeTimeout):
		err = fmt.Errorf("linking to broker: %w", ipc.ErrHandshakeTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.DetachUpstream()
	return err
}

// DetachUpstream withdraws the bridge from its broker and closes the
// link. It is a no-op without a link.
func (c *Core) DetachUpstream() {
	var link *endpoint
	c.do(func() {
		link = c.upstream
		if link == nil {
			return
		}
		c.post(link, control(ipc.Command{Kind: ipc.KindBridgeClose, Peer: c.self}))
		c.detach(link)
	})
	if link != nil {
		link.connector.Close()
	}
}

// State returns the core's peers, subscriptions and pending routes.
func (c *Core) State(ctx context.Context) (*ipc.State, error) {
	answer := make(chan *ipc.State, 1)
	if err := c.do(func() { answer <- c.snapshot() }); err != nil {
		return nil, err
	}
	select {
	case state := <-answer:
		return state, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close withdraws from the broker, closes every endpoint and stops the
// routing goroutine.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		var connectors []transport.Connector
		c.do(func() {
			if c.upstream != nil {
				c.post(c.upstream, control(ipc.Command{Kind: ipc.KindBridgeClose, Peer: c.self}))
			}
			for _, attached := range c.endpoints {
				connectors = append(connectors, attached.connector)
			}
		})
		for _, connector := range connectors {
			if err := connector.Close(); err != nil {
				c.logger.Debug("closing endpoint", "error", err)
			}
		}
		c.events.Close()
		<-c.done
	})
	return nil
}

// do runs call on the routing goroutine and waits for it.
func (c *Core) do(call func()) error {
	finished := make(chan struct{})
	if !c.events.Put(event{call: func() { call(); close(finished) }}) {
		return fmt.Errorf("%s: %w", c.component, ipc.ErrClosed)
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", c.component, ipc.ErrClosed)
	}
}

func (c *Core) run() {
	defer close(c.done)
	for {
		select {
		case <-c.events.Ready():
		case <-c.events.Done():
			return
		}
		for _, next := range c.events.Take() {
			c.handle(next)
		}
	}
}

func (c *Core) handle(next event) {
	switch {
	case next.call != nil:
		next.call()
	case next.lost:
		c.endpointLost(next.endpoint, next.shutdown)
	case next.handshakeExpired:
		c.handshakeExpired(next.endpoint)
	case next.envelope != nil:
		if !next.endpoint.attached {
			return
		}
		if next.endpoint.upstream {
			c.routeFromUpstream(next.endpoint, next.envelope)
			return
		}
		c.route(next.endpoint, next.envelope)
	}
}

func (c *Core) handshakeExpired(silent *endpoint) {
	if !silent.attached || len(silent.peers) > 0 {
		return
	}
	c.logger.Warn("closing endpoint that never completed a handshake",
		"endpoint", silent.key, "timeout", c.handshakeTimeout)
	c.endpointLost(silent, fmt.Errorf("%s: %w", silent.key, ipc.ErrHandshakeTimeout))
	go silent.connector.Close()
}

// endpointLost removes everything the endpoint held and tells bridge
// endpoints that its peers are gone.
func (c *Core) endpointLost(lost *endpoint, reason error) {
	if !lost.attached {
		return
	}
	if reason == nil || errors.Is(reason, ipc.ErrClosed) {
		c.logger.Debug("endpoint closed", "endpoint", lost.key)
	} else {
		c.logger.Info("endpoint lost", "endpoint", lost.key, "error", reason)
	}

	if lost.upstream {
		c.detach(lost)
		if c.attaching != nil {
			c.attaching <- fmt.Errorf("linking to broker: %w", reason)
			c.attaching = nil
		}
		return
	}

	peers := lost.sortedPeers()
	c.detach(lost)
	for _, peer := range peers {
		c.forwardToBridges(lost, control(ipc.Command{Kind: ipc.KindDisconnect, Peer: peer}))
	}
}

// detach forgets an endpoint and purges its subscriptions and the
// routes that would deliver to it.
func (c *Core) detach(gone *endpoint) {
	if !gone.attached {
		return
	}
	gone.attached = false
	if gone.handshakeTimer != nil {
		gone.handshakeTimer.Stop()
	}
	delete(c.endpoints, gone.key)
	c.announce(ipc.KindRemoveChannelListener, c.local.RemoveConnection(gone.key))
	if gone == c.upstream {
		c.upstream = nil
		c.remote = subscription.New[string, *endpoint]()
	}
}

// post hands an envelope to an endpoint in the form its connector
// carries.
func (c *Core) post(target *endpoint, message *envelope) {
	var err error
	if target.connector.Framed() {
		var frame []byte
		if frame, err = message.encoded(); err == nil {
			err = target.connector.PostBuffer(frame)
		}
	} else {
		var args []any
		if args, err = message.arguments(); err == nil {
			err = target.connector.PostCommand(message.command, args...)
		}
	}
	if err != nil {
		c.logger.Debug("post failed",
			"endpoint", target.key, "kind", message.command.Kind, "error", err)
	}
}

func (c *Core) observe(message *envelope) {
	if c.observer == nil {
		return
	}
	if message.decoded {
		c.observer.OnCommandRouted(message.command, message.args)
		return
	}
	c.observer.OnBufferFramed(message.command, message.frame)
}

func (c *Core) snapshot() *ipc.State {
	var peers []ipc.Peer
	for _, attached := range c.endpoints {
		peers = append(peers, attached.sortedPeers()...)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	channels, routes := c.local.Snapshot(func(key string) string { return key })
	state := &ipc.State{
		Component: c.component,
		Peers:     peers,
		Channels:  channels,
		Routes:    routes,
	}
	if c.upstream != nil {
		state.Upstream = &ipc.UpstreamState{Connected: true, Channels: c.remote.Channels()}
	}
	return state
}
