// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/testutil"
	"github.com/bureau-foundation/ipcbus/transport"
)

const testTimeout = 5 * time.Second

type received struct {
	command ipc.Command
	args    []any
}

// rawPeer drives a core endpoint with hand-built commands.
type rawPeer struct {
	peer     ipc.Peer
	conn     *transport.LocalConnector
	key      string
	received chan received
	shutdown chan error

	// stash holds commands read past while waiting for a sync answer.
	stash []received
}

func (p *rawPeer) OnPacketReceived(command ipc.Command, args []any, frame []byte) {
	decoded, err := transport.Arguments(args, frame)
	if err != nil {
		panic(err)
	}
	p.received <- received{command: command, args: decoded}
}

func (p *rawPeer) OnShutdown(err error) { p.shutdown <- err }

// attachRaw attaches a pipe to core and returns the peer side without
// sending anything.
func attachRaw(t *testing.T, core *Core, name string, process ipc.Process) *rawPeer {
	t.Helper()
	peerEnd, routerEnd := transport.Pipe(process, ipc.UnknownProcess(ipc.TierSupervisor))
	peer := &rawPeer{
		peer:     ipc.Peer{ID: testutil.UniqueID(name), Name: name},
		conn:     peerEnd,
		received: make(chan received, 64),
		shutdown: make(chan error, 1),
	}
	if err := peerEnd.Start(peer); err != nil {
		t.Fatalf("starting %s: %v", name, err)
	}
	key, err := core.Attach(name, routerEnd)
	if err != nil {
		t.Fatalf("attaching %s: %v", name, err)
	}
	peer.key = key
	return peer
}

// connectRaw attaches a peer and completes its handshake.
func connectRaw(t *testing.T, core *Core, name string) *rawPeer {
	t.Helper()
	peer := attachRaw(t, core, name, ipc.Process{Tier: ipc.TierSocket, PID: 1000, UID: 1000, Worker: ipc.Unavailable})
	peer.post(ipc.Command{Kind: ipc.KindHandshake, Handshake: &ipc.Handshake{Name: name}})
	peer.expect(t, ipc.KindConnectConfirm)
	return peer
}

func (p *rawPeer) post(command ipc.Command, args ...any) {
	if command.Peer.ID == "" {
		command.Peer = p.peer
	}
	if err := p.conn.PostCommand(command, args...); err != nil {
		panic(err)
	}
}

func (p *rawPeer) subscribe(t *testing.T, channel string) {
	t.Helper()
	p.post(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: channel})
	p.sync(t)
}

// sync round-trips a query-state through the core. Commands on one
// pipe arrive in order, so everything p posted earlier has been routed
// when it returns.
func (p *rawPeer) sync(t *testing.T) *ipc.State {
	t.Helper()
	marker := testutil.UniqueID("sync")
	p.post(ipc.Command{Kind: ipc.KindQueryState, Channel: marker})
	for {
		got := testutil.RequireReceive(t, p.received, testTimeout, "%s waiting for sync", p.peer.Name)
		if got.command.Kind == ipc.KindQueryStateResponse && got.command.Channel == marker {
			return got.command.State
		}
		p.stash = append(p.stash, got)
	}
}

func (p *rawPeer) next(t *testing.T, wait time.Duration) (received, bool) {
	t.Helper()
	if len(p.stash) > 0 {
		got := p.stash[0]
		p.stash = p.stash[1:]
		return got, true
	}
	select {
	case got := <-p.received:
		return got, true
	case <-time.After(wait):
		return received{}, false
	}
}

func (p *rawPeer) request(channel, replyChannel string, args ...any) ipc.Command {
	command := ipc.Command{
		Kind:    ipc.KindRequestMessage,
		Channel: channel,
		Peer:    p.peer,
		Request: &ipc.Request{ID: replyChannel, Channel: channel, ReplyChannel: replyChannel},
	}
	p.post(command, args...)
	return command
}

func (p *rawPeer) respond(request ipc.Command, resolve bool, args ...any) {
	descriptor := *request.Request
	descriptor.Resolve = resolve
	p.post(ipc.Command{
		Kind:    ipc.KindRequestResponse,
		Channel: descriptor.ReplyChannel,
		Request: &descriptor,
	}, args...)
}

// expect returns the next command and fails unless it has kind.
func (p *rawPeer) expect(t *testing.T, kind ipc.Kind) received {
	t.Helper()
	got, ok := p.next(t, testTimeout)
	if !ok {
		t.Fatalf("%s timed out waiting for %s", p.peer.Name, kind)
	}
	if got.command.Kind != kind {
		t.Fatalf("%s received %s on %q, want %s", p.peer.Name, got.command.Kind, got.command.Channel, kind)
	}
	return got
}

func (p *rawPeer) expectNothing(t *testing.T) {
	t.Helper()
	if got, ok := p.next(t, 50*time.Millisecond); ok {
		t.Fatalf("%s received unexpected %s on %q", p.peer.Name, got.command.Kind, got.command.Channel)
	}
}

func newTestCore(t *testing.T, options Options) *Core {
	t.Helper()
	if options.Component == "" {
		options.Component = "broker"
	}
	if options.Peer.ID == "" {
		options.Peer = ipc.Peer{ID: testutil.UniqueID(options.Component), Name: options.Component}
	}
	core := NewCore(options)
	t.Cleanup(func() { core.Close() })
	return core
}

func channelListeners(state *ipc.State, channel string) []ipc.ListenerState {
	for _, entry := range state.Channels {
		if entry.Channel == channel {
			return entry.Listeners
		}
	}
	return nil
}
