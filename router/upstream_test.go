// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/transport"
)

// routedLog records what an Observer saw.
type routedLog struct {
	mu     sync.Mutex
	routed []ipc.Command
	framed int
}

func (l *routedLog) OnCommandRouted(command ipc.Command, _ []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routed = append(l.routed, command)
}

func (l *routedLog) OnBufferFramed(command ipc.Command, _ []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routed = append(l.routed, command)
	l.framed++
}

func (l *routedLog) sawSend(channel string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, command := range l.routed {
		if command.Kind == ipc.KindSendMessage && command.Channel == channel {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func coreState(t *testing.T, core *Core) *ipc.State {
	t.Helper()
	state, err := core.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return state
}

// link attaches bridge to broker over an in-memory pipe.
func link(t *testing.T, broker, bridge *Core) {
	t.Helper()
	bridgeSide, brokerSide := transport.Pipe(
		ipc.UnknownProcess(ipc.TierSocket),
		ipc.UnknownProcess(ipc.TierSocket),
	)
	if _, err := broker.Attach("bridge", brokerSide); err != nil {
		t.Fatalf("attaching bridge at broker: %v", err)
	}
	if err := bridge.AttachUpstream(context.Background(), bridgeSide); err != nil {
		t.Fatalf("AttachUpstream: %v", err)
	}
}

func TestBridgeConnectAnswersWithOtherSubscriptions(t *testing.T) {
	broker := newTestCore(t, Options{Component: "broker"})
	socket := connectRaw(t, broker, "socket")
	socket.subscribe(t, "jobs")

	rawBridge := connectRaw(t, broker, "bridge")
	rawBridge.post(ipc.Command{Kind: ipc.KindBridgeConnect, Channels: []string{"x"}})
	reply := rawBridge.expect(t, ipc.KindBridgeConnect)
	if reply.command.State == nil {
		t.Fatal("bridge-connect answer without state")
	}
	channels := reply.command.State.Channels
	if len(channels) != 1 || channels[0].Channel != "jobs" || channels[0].Listeners[0].PeerID != socket.peer.ID {
		t.Fatalf("bridge-connect answer channels = %+v, want only jobs from socket", channels)
	}

	// The bridge's aggregate subscription makes it a fan-out target.
	socket.post(ipc.Command{Kind: ipc.KindSendMessage, Channel: "x"}, "for-bridge")
	if got := rawBridge.expect(t, ipc.KindSendMessage); got.args[0] != "for-bridge" {
		t.Errorf("bridge received %v", got.args)
	}

	// Listener changes and disconnects of other peers are mirrored.
	socket.post(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: "y"})
	if got := rawBridge.expect(t, ipc.KindAddChannelListener); got.command.Channel != "y" || got.command.Peer.ID != socket.peer.ID {
		t.Errorf("mirrored add = %+v", got.command)
	}
	socket.post(ipc.Command{Kind: ipc.KindClose})
	if got := rawBridge.expect(t, ipc.KindDisconnect); got.command.Peer.ID != socket.peer.ID {
		t.Errorf("mirrored disconnect = %+v", got.command)
	}

	// A second bridge's aggregate reaches the first.
	second := connectRaw(t, broker, "bridge2")
	second.post(ipc.Command{Kind: ipc.KindBridgeConnect, Channels: []string{"z"}})
	second.expect(t, ipc.KindBridgeConnect)
	if got := rawBridge.expect(t, ipc.KindAddChannelListener); got.command.Channel != "z" || got.command.Peer.ID != second.peer.ID {
		t.Errorf("second bridge add = %+v", got.command)
	}

	second.conn.Close()
	if got := rawBridge.expect(t, ipc.KindDisconnect); got.command.Peer.ID != second.peer.ID {
		t.Errorf("disconnect after bridge loss = %+v", got.command)
	}
}

func TestBridgeAggregatesUpstream(t *testing.T) {
	observed := &routedLog{}
	broker := newTestCore(t, Options{Component: "broker", Observer: observed})
	bridge := newTestCore(t, Options{Component: "bridge"})

	first := connectRaw(t, bridge, "worker1")
	second := connectRaw(t, bridge, "worker2")
	first.subscribe(t, "jobs")

	link(t, broker, bridge)
	socket := connectRaw(t, broker, "socket")

	jobsAtBroker := func() []ipc.ListenerState { return channelListeners(coreState(t, broker), "jobs") }
	if listeners := jobsAtBroker(); len(listeners) != 1 || listeners[0].PeerID != bridge.Peer().ID || listeners[0].RefCount != 1 {
		t.Fatalf("broker jobs rows = %+v, want one aggregate row for the bridge", listeners)
	}

	// A second local listener does not change the aggregate.
	second.subscribe(t, "jobs")
	second.subscribe(t, "local-only")
	if listeners := jobsAtBroker(); len(listeners) != 1 || listeners[0].RefCount != 1 {
		t.Fatalf("broker jobs rows after second listener = %+v", listeners)
	}

	socket.post(ipc.Command{Kind: ipc.KindSendMessage, Channel: "jobs"}, "from-socket")
	first.expect(t, ipc.KindSendMessage)
	second.expect(t, ipc.KindSendMessage)

	// Local traffic stays local when nobody upstream listens.
	first.post(ipc.Command{Kind: ipc.KindSendMessage, Channel: "local-only"})
	second.expect(t, ipc.KindSendMessage)
	first.sync(t)
	time.Sleep(20 * time.Millisecond)
	if observed.sawSend("local-only") {
		t.Error("local-only message crossed to the broker")
	}

	// A request from a worker reaches a socket responder and the
	// response finds its way back through both routers.
	socket.subscribe(t, "svc")
	eventually(t, "bridge mirror of svc", func() bool {
		upstream := coreState(t, bridge).Upstream
		return upstream != nil && slices.Contains(upstream.Channels, "svc")
	})
	request := first.request("svc", "svc#1", "ping")
	got := socket.expect(t, ipc.KindRequestMessage)
	if got.command.Peer.ID != first.peer.ID || got.args[0] != "ping" {
		t.Fatalf("socket received %+v", got)
	}
	socket.respond(request, true, "pong")
	response := first.expect(t, ipc.KindRequestResponse)
	if response.args[0] != "pong" {
		t.Errorf("worker received %v", response.args)
	}
	if routes := coreState(t, bridge).Routes; len(routes) != 0 {
		t.Errorf("bridge routes after response = %+v", routes)
	}

	// The last local listener going away withdraws the aggregate.
	first.post(ipc.Command{Kind: ipc.KindRemoveChannelListener, Channel: "jobs"})
	second.post(ipc.Command{Kind: ipc.KindRemoveChannelAllListeners, Channel: "jobs"})
	eventually(t, "jobs withdrawn at broker", func() bool { return jobsAtBroker() == nil })
}

func TestSocketRequestAnsweredByWorker(t *testing.T) {
	broker := newTestCore(t, Options{Component: "broker"})
	bridge := newTestCore(t, Options{Component: "bridge"})
	worker := connectRaw(t, bridge, "worker")
	link(t, broker, bridge)
	worker.subscribe(t, "render")

	socket := connectRaw(t, broker, "socket")
	eventually(t, "render announced", func() bool {
		return channelListeners(coreState(t, broker), "render") != nil
	})

	request := socket.request("render", "render#7", "page")
	if got := worker.expect(t, ipc.KindRequestMessage); got.command.ReplyChannel() != "render#7" {
		t.Fatalf("worker received %+v", got.command)
	}
	worker.respond(request, false, "no gpu")
	response := socket.expect(t, ipc.KindRequestResponse)
	if response.command.Request.Resolve || response.args[0] != "no gpu" {
		t.Errorf("socket received %+v", response)
	}

	// Cancels travel down to the bridge and drop its route.
	socket.request("render", "render#8")
	worker.expect(t, ipc.KindRequestMessage)
	socket.post(ipc.Command{
		Kind:    ipc.KindRequestCancel,
		Channel: "render",
		Request: &ipc.Request{Channel: "render", ReplyChannel: "render#8"},
	})
	eventually(t, "bridge route cancelled", func() bool { return len(coreState(t, bridge).Routes) == 0 })
}

func TestUpstreamLossClearsMirror(t *testing.T) {
	broker := NewCore(Options{Component: "broker"})
	bridge := newTestCore(t, Options{Component: "bridge"})
	socket := connectRaw(t, broker, "socket")
	socket.subscribe(t, "jobs")
	link(t, broker, bridge)

	if upstream := coreState(t, bridge).Upstream; upstream == nil || !slices.Contains(upstream.Channels, "jobs") {
		t.Fatalf("bridge upstream = %+v, want jobs mirrored", upstream)
	}
	broker.Close()
	eventually(t, "upstream cleared", func() bool { return coreState(t, bridge).Upstream == nil })

	// Local routing carries on.
	worker := connectRaw(t, bridge, "worker")
	worker.subscribe(t, "jobs")
}

func TestAttachUpstreamTwice(t *testing.T) {
	broker := newTestCore(t, Options{Component: "broker"})
	bridge := newTestCore(t, Options{Component: "bridge"})
	link(t, broker, bridge)

	extra, _ := transport.Pipe(ipc.UnknownProcess(ipc.TierSocket), ipc.UnknownProcess(ipc.TierSocket))
	if err := bridge.AttachUpstream(context.Background(), extra); err == nil {
		t.Fatal("second AttachUpstream succeeded")
	}

	bridge.DetachUpstream()
	eventually(t, "bridge withdrawn at broker", func() bool {
		for _, peer := range coreState(t, broker).Peers {
			if peer.ID == bridge.Peer().ID {
				return false
			}
		}
		return true
	})
}
