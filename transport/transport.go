// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/mailbox"
	"github.com/bureau-foundation/ipcbus/lib/version"
)

// Options configures a Transport.
type Options struct {
	// Name is the peer name sent in the handshake.
	Name string

	// Sandboxed is sent in the handshake; routers then never attach
	// OS process ids to this peer. It also stops the transport from
	// reporting its own pid.
	Sandboxed bool

	// Tier is the process tier reported for this peer. Defaults to
	// ipc.TierSocket.
	Tier ipc.Tier

	HandshakeTimeout time.Duration // default 5s
	CloseTimeout     time.Duration // default 2s

	// RequestTimeout applies to Request calls with no timeout and to
	// QueryState. Default 30s.
	RequestTimeout time.Duration

	// Trace makes the transport report deliveries with log kinds so
	// the router's recorder can close causal chains.
	Trace bool

	Clock  clock.Clock
	Logger *slog.Logger
}

type connectionState int

const (
	stateIdle connectionState = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Transport is a process's façade onto the bus. It is safe for
// concurrent use.
type Transport struct {
	connector Connector
	options   Options
	clock     clock.Clock
	logger    *slog.Logger

	sequence  atomic.Uint64
	startOnce sync.Once
	startErr  error

	// deliveries feeds handlers on the dispatch goroutine.
	deliveries *mailbox.Mailbox[delivery]

	// lost is closed when the connector shuts down.
	lost chan struct{}

	mu          sync.Mutex
	peer        ipc.Peer
	state       connectionState
	handlers    map[string][]*subscriptionEntry
	pending     map[string]chan responseResult
	queries     map[string]chan *ipc.State
	connectDone chan ipc.Peer
	closeDone   chan struct{}
	shutdownErr error
}

type subscriptionEntry struct {
	handler Handler
}

type delivery struct {
	command ipc.Command
	args    []any
}

// NewTransport returns a transport over connector. Nothing is sent
// until Connect.
func NewTransport(connector Connector, options Options) *Transport {
	if options.Tier == "" {
		options.Tier = ipc.TierSocket
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = 5 * time.Second
	}
	if options.CloseTimeout <= 0 {
		options.CloseTimeout = 2 * time.Second
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 30 * time.Second
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	process := ipc.UnknownProcess(options.Tier)
	if !options.Sandboxed {
		process.PID = os.Getpid()
		process.UID = os.Getuid()
	}
	peer := ipc.Peer{ID: uuid.NewString(), Name: options.Name, Process: process}

	return &Transport{
		connector:  connector,
		options:    options,
		clock:      options.Clock,
		logger:     options.Logger.With("peer", peer.ID),
		deliveries: mailbox.New[delivery](),
		lost:       make(chan struct{}),
		peer:       peer,
		handlers:   make(map[string][]*subscriptionEntry),
		pending:    make(map[string]chan responseResult),
		queries:    make(map[string]chan *ipc.State),
	}
}

// Peer returns this transport's identity. After Connect it includes
// what the router added.
func (t *Transport) Peer() ipc.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peer
}

// Done is closed once the transport is closed or its connection is
// lost. Err then reports which.
func (t *Transport) Done() <-chan struct{} { return t.lost }

// Err returns nil while the transport is usable, and the reason it
// stopped afterwards.
func (t *Transport) Err() error {
	select {
	case <-t.lost:
		return t.closedError()
	default:
		return nil
	}
}

// Connect performs the handshake and waits for the router's
// confirmation. Subscriptions made before Connect are announced once
// it succeeds.
func (t *Transport) Connect(ctx context.Context) (ipc.Peer, error) {
	t.mu.Lock()
	switch t.state {
	case stateConnected:
		defer t.mu.Unlock()
		return t.peer, nil
	case stateClosed:
		t.mu.Unlock()
		return ipc.Peer{}, t.closedError()
	case stateConnecting:
		t.mu.Unlock()
		return ipc.Peer{}, errors.New("connect already in progress")
	}
	t.state = stateConnecting
	confirmed := make(chan ipc.Peer, 1)
	t.connectDone = confirmed
	peer := t.peer
	t.mu.Unlock()

	if err := t.start(); err != nil {
		t.resetConnecting()
		return ipc.Peer{}, err
	}

	handshake := ipc.Command{
		Kind: ipc.KindHandshake,
		Peer: peer,
		Handshake: &ipc.Handshake{
			Name:      t.options.Name,
			Sandboxed: t.options.Sandboxed,
			Version:   version.Short(),
		},
	}
	if err := t.connector.PostCommand(handshake); err != nil {
		t.resetConnecting()
		return ipc.Peer{}, fmt.Errorf("sending handshake: %w", err)
	}

	select {
	case confirmedPeer := <-confirmed:
		return t.finishConnect(confirmedPeer), nil
	case <-t.clock.After(t.options.HandshakeTimeout):
		t.resetConnecting()
		return ipc.Peer{}, fmt.Errorf("%w after %v", ipc.ErrHandshakeTimeout, t.options.HandshakeTimeout)
	case <-t.lost:
		return ipc.Peer{}, t.closedError()
	case <-ctx.Done():
		t.resetConnecting()
		return ipc.Peer{}, ctx.Err()
	}
}

func (t *Transport) start() error {
	t.startOnce.Do(func() {
		go t.dispatchLoop()
		t.startErr = t.connector.Start(t)
	})
	return t.startErr
}

func (t *Transport) resetConnecting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateConnecting {
		t.state = stateIdle
	}
	t.connectDone = nil
}

func (t *Transport) finishConnect(confirmed ipc.Peer) ipc.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The router may enrich name and process; the id is ours.
	confirmed.ID = t.peer.ID
	t.peer = confirmed
	t.state = stateConnected
	t.connectDone = nil

	for channel, entries := range t.handlers {
		for range entries {
			t.postLocked(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: channel, Peer: t.peer})
		}
	}
	t.logger.Info("connected to bus", "name", t.peer.Name, "tier", t.peer.Process.Tier)
	return t.peer
}

// Close announces the close, waits for the router's confirmation or
// the close timeout, then closes the connector. Pending requests fail
// with ipc.ErrClosed.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.state == stateClosed {
		t.mu.Unlock()
		return nil
	}
	wasConnected := t.state == stateConnected
	confirmed := make(chan struct{})
	t.closeDone = confirmed
	if wasConnected {
		t.postLocked(ipc.Command{Kind: ipc.KindClose, Peer: t.peer})
	}
	t.mu.Unlock()

	if wasConnected {
		select {
		case <-confirmed:
		case <-t.lost:
		case <-t.clock.After(t.options.CloseTimeout):
			t.logger.Debug("close not confirmed before timeout", "timeout", t.options.CloseTimeout)
		case <-ctx.Done():
		}
	}

	t.markClosed(fmt.Errorf("transport: %w", ipc.ErrClosed))
	err := t.connector.Close()
	t.deliveries.Close()
	return err
}

// Subscribe registers handler on channel and returns a function that
// removes it again. Each subscription counts once at the router.
func (t *Transport) Subscribe(channel string, handler Handler) (unsubscribe func()) {
	entry := &subscriptionEntry{handler: handler}

	t.mu.Lock()
	t.handlers[channel] = append(t.handlers[channel], entry)
	if t.state == stateConnected {
		t.postLocked(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: channel, Peer: t.peer})
	}
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(channel, entry) })
	}
}

func (t *Transport) unsubscribe(channel string, entry *subscriptionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.handlers[channel]
	for index, candidate := range entries {
		if candidate != entry {
			continue
		}
		entries = append(entries[:index:index], entries[index+1:]...)
		if len(entries) == 0 {
			delete(t.handlers, channel)
		} else {
			t.handlers[channel] = entries
		}
		if t.state == stateConnected {
			t.postLocked(ipc.Command{Kind: ipc.KindRemoveChannelListener, Channel: channel, Peer: t.peer})
		}
		return
	}
}

// UnsubscribeAll removes every handler on channel.
func (t *Transport) UnsubscribeAll(channel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[channel]; !ok {
		return
	}
	delete(t.handlers, channel)
	if t.state == stateConnected {
		t.postLocked(ipc.Command{Kind: ipc.KindRemoveChannelAllListeners, Channel: channel, Peer: t.peer})
	}
}

// RemoveAllListeners removes every handler on every channel.
func (t *Transport) RemoveAllListeners() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = make(map[string][]*subscriptionEntry)
	if t.state == stateConnected {
		t.postLocked(ipc.Command{Kind: ipc.KindRemoveListeners, Peer: t.peer})
	}
}

// Send publishes args on channel. The router fans it out to every
// other subscribed connection; local handlers receive it directly.
func (t *Transport) Send(channel string, args ...any) error {
	t.mu.Lock()
	if err := t.requireConnectedLocked(); err != nil {
		t.mu.Unlock()
		return err
	}
	command := ipc.Command{Kind: ipc.KindSendMessage, Channel: channel, Peer: t.peer, Log: t.newLog(nil)}
	local := len(t.handlers[channel]) > 0
	t.mu.Unlock()

	if err := t.connector.PostCommand(command, args...); err != nil {
		return err
	}
	if local {
		t.deliverLocally(command, args)
	}
	return nil
}

// Request sends a request on channel and waits for the first answer.
// A rejection returns *ipc.RequestError. When timeout elapses first the
// request is cancelled at the router and ipc.ErrRequestTimeout is
// returned. A timeout of zero uses Options.RequestTimeout.
func (t *Transport) Request(ctx context.Context, channel string, timeout time.Duration, args ...any) (*Response, error) {
	if timeout <= 0 {
		timeout = t.options.RequestTimeout
	}

	t.mu.Lock()
	if err := t.requireConnectedLocked(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	sequence := t.sequence.Add(1)
	request := &ipc.Request{
		ID:           fmt.Sprintf("%s-%d", t.peer.ID, sequence),
		Channel:      channel,
		ReplyChannel: fmt.Sprintf("%s#%s-%d", channel, t.peer.ID, sequence),
		TimeoutMs:    timeout.Milliseconds(),
	}
	command := ipc.Command{
		Kind:    ipc.KindRequestMessage,
		Channel: channel,
		Peer:    t.peer,
		Request: request,
		Log:     t.newLog(nil),
	}
	result := make(chan responseResult, 1)
	t.pending[request.ReplyChannel] = result
	local := len(t.handlers[channel]) > 0
	t.mu.Unlock()

	// Posted before local delivery so the router holds the route
	// before a local answer releases it.
	if err := t.connector.PostCommand(command, args...); err != nil {
		t.dropPending(request.ReplyChannel)
		return nil, err
	}
	if local {
		t.deliverLocally(command, args)
	}

	select {
	case answer := <-result:
		return answer.response, answer.err
	case <-t.clock.After(timeout):
		t.cancel(command)
		return nil, fmt.Errorf("%w: %q after %v", ipc.ErrRequestTimeout, channel, timeout)
	case <-t.lost:
		t.dropPending(request.ReplyChannel)
		return nil, t.closedError()
	case <-ctx.Done():
		t.cancel(command)
		return nil, ctx.Err()
	}
}

// QueryState asks the router for its peers, subscriptions and pending
// routes.
func (t *Transport) QueryState(ctx context.Context) (*ipc.State, error) {
	t.mu.Lock()
	if err := t.requireConnectedLocked(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	key := fmt.Sprintf("query#%s-%d", t.peer.ID, t.sequence.Add(1))
	answer := make(chan *ipc.State, 1)
	t.queries[key] = answer
	t.postLocked(ipc.Command{Kind: ipc.KindQueryState, Channel: key, Peer: t.peer})
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.queries, key)
		t.mu.Unlock()
	}()

	select {
	case state := <-answer:
		return state, nil
	case <-t.clock.After(t.options.RequestTimeout):
		return nil, fmt.Errorf("%w: query-state after %v", ipc.ErrRequestTimeout, t.options.RequestTimeout)
	case <-t.lost:
		return nil, t.closedError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnPacketReceived implements ConnectorClient.
func (t *Transport) OnPacketReceived(command ipc.Command, args []any, frame []byte) {
	switch command.Kind {
	case ipc.KindConnectConfirm:
		t.mu.Lock()
		if t.connectDone != nil {
			select {
			case t.connectDone <- command.Peer:
			default:
			}
		}
		t.mu.Unlock()

	case ipc.KindCloseConfirm:
		t.mu.Lock()
		if t.closeDone != nil {
			close(t.closeDone)
			t.closeDone = nil
		}
		t.mu.Unlock()

	case ipc.KindSendMessage, ipc.KindRequestMessage:
		decoded, err := Arguments(args, frame)
		if err != nil {
			t.logger.Warn("dropping message with undecodable arguments", "channel", command.Channel, "error", err)
			return
		}
		t.deliveries.Put(delivery{command: command, args: decoded})

	case ipc.KindRequestResponse:
		decoded, err := Arguments(args, frame)
		if err != nil {
			t.logger.Warn("dropping response with undecodable arguments", "channel", command.Channel, "error", err)
			return
		}
		if !t.completeRequest(command, decoded) {
			t.logger.Debug("dropping response without pending request", "reply_channel", command.ReplyChannel())
			return
		}
		t.traceDelivery(command, decoded)

	case ipc.KindQueryStateResponse:
		t.mu.Lock()
		answer, ok := t.queries[command.Channel]
		t.mu.Unlock()
		if ok && command.State != nil {
			select {
			case answer <- command.State:
			default:
			}
		}

	default:
		t.logger.Debug("ignoring command", "kind", command.Kind, "channel", command.Channel)
	}
}

// OnShutdown implements ConnectorClient.
func (t *Transport) OnShutdown(err error) {
	if errors.Is(err, ipc.ErrClosed) {
		t.logger.Debug("connector closed")
	} else {
		t.logger.Warn("bus connection lost", "error", err)
	}
	t.markClosed(err)
	t.deliveries.Close()
}

func (t *Transport) markClosed(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateClosed {
		return
	}
	t.state = stateClosed
	t.shutdownErr = reason
	close(t.lost)
}

func (t *Transport) closedError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdownErr != nil {
		return t.shutdownErr
	}
	return fmt.Errorf("transport: %w", ipc.ErrClosed)
}

func (t *Transport) requireConnectedLocked() error {
	switch t.state {
	case stateConnected:
		return nil
	case stateClosed:
		if t.shutdownErr != nil {
			return t.shutdownErr
		}
		return fmt.Errorf("transport: %w", ipc.ErrClosed)
	default:
		return ErrNotConnected
	}
}

// postLocked sends a command while t.mu is held, which keeps
// subscription changes in the order they were made. Posting never
// blocks.
func (t *Transport) postLocked(command ipc.Command, args ...any) {
	if err := t.connector.PostCommand(command, args...); err != nil {
		t.logger.Debug("post failed", "kind", command.Kind, "error", err)
	}
}

func (t *Transport) newLog(previous *ipc.Command) *ipc.Log {
	return &ipc.Log{
		ID:        fmt.Sprintf("%s-%d", t.peer.ID, t.sequence.Add(1)),
		Timestamp: t.clock.Now(),
		Previous:  previous,
	}
}

func (t *Transport) deliverLocally(command ipc.Command, args []any) {
	if command.Log != nil {
		local := *command.Log
		local.Local = true
		command.Log = &local
	}
	t.deliveries.Put(delivery{command: command, args: args})
}

func (t *Transport) dropPending(replyChannel string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, replyChannel)
}

// cancel withdraws a request after its caller stopped waiting.
func (t *Transport) cancel(request ipc.Command) {
	t.dropPending(request.ReplyChannel())
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateConnected {
		return
	}
	t.postLocked(ipc.Command{
		Kind:    ipc.KindRequestCancel,
		Channel: request.Channel,
		Peer:    t.peer,
		Request: request.Request,
		Log:     t.newLog(&request),
	})
}

// completeRequest hands a response to its waiting Request call.
func (t *Transport) completeRequest(response ipc.Command, args []any) bool {
	t.mu.Lock()
	result, ok := t.pending[response.ReplyChannel()]
	delete(t.pending, response.ReplyChannel())
	t.mu.Unlock()
	if !ok {
		return false
	}
	result <- resultFor(response, args)
	return true
}

func (t *Transport) respond(message *Message, resolve bool, args []any) error {
	request := *message.Request
	request.Resolve = resolve

	t.mu.Lock()
	previous := message.command
	response := ipc.Command{
		Kind:    ipc.KindRequestResponse,
		Channel: request.ReplyChannel,
		Peer:    t.peer,
		Request: &request,
		Log:     t.newLog(&previous),
	}
	connected := t.state == stateConnected
	t.mu.Unlock()

	if message.Local {
		if t.completeRequest(response, args) {
			t.traceLocalResponse(response, args)
			// The router still holds a route for this request.
			t.mu.Lock()
			if t.state == stateConnected {
				t.postLocked(ipc.Command{
					Kind:    ipc.KindRequestCancel,
					Channel: request.Channel,
					Peer:    t.peer,
					Request: &request,
				})
			}
			t.mu.Unlock()
		}
		return nil
	}
	if !connected {
		return t.closedError()
	}
	return t.connector.PostCommand(response, args...)
}

func (t *Transport) traceDelivery(delivered ipc.Command, args []any) {
	if !t.options.Trace {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateConnected {
		return
	}
	log := t.newLog(&delivered)
	if delivered.Log != nil {
		log.Local = delivered.Log.Local
	}
	t.postLocked(ipc.Command{Kind: ipc.KindLogGetMessage, Channel: delivered.Channel, Peer: t.peer, Log: log}, args...)
}

func (t *Transport) traceLocalResponse(response ipc.Command, args []any) {
	if !t.options.Trace {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateConnected {
		return
	}
	local := *response.Log
	local.Local = true
	response.Log = &local
	t.postLocked(response.WithKind(ipc.KindLogRequestResponse), args...)
}

func (t *Transport) dispatchLoop() {
	for {
		select {
		case <-t.deliveries.Ready():
		case <-t.deliveries.Done():
			return
		}
		for _, item := range t.deliveries.Take() {
			t.dispatch(item)
		}
	}
}

func (t *Transport) dispatch(item delivery) {
	command := item.command
	t.mu.Lock()
	entries := append([]*subscriptionEntry(nil), t.handlers[command.Channel]...)
	t.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	message := &Message{
		Channel:   command.Channel,
		Sender:    command.Peer,
		Args:      item.args,
		Request:   command.Request,
		Local:     command.Log != nil && command.Log.Local,
		command:   command,
		transport: t,
		answered:  new(atomic.Bool),
	}
	for _, entry := range entries {
		entry.handler(message)
	}
	t.traceDelivery(command, item.args)
}
