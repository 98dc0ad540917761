// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/clock"
	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/testutil"
)

func TestHandshakeEnrichesPeer(t *testing.T) {
	core := newTestCore(t, Options{})
	worker := ipc.Process{Tier: ipc.TierWorker, PID: 77, UID: 1000, Worker: 2}

	plain := attachRaw(t, core, "plain", worker)
	plain.post(ipc.Command{
		Kind:      ipc.KindHandshake,
		Peer:      ipc.Peer{ID: "plain-peer", Process: ipc.UnknownProcess(ipc.TierSocket)},
		Handshake: &ipc.Handshake{Name: "renderer"},
	})
	confirm := plain.expect(t, ipc.KindConnectConfirm).command.Peer
	if confirm.ID != "plain-peer" || confirm.Name != "renderer" {
		t.Errorf("confirmed peer = %+v", confirm)
	}
	if confirm.Process != worker {
		t.Errorf("confirmed process = %+v, want %+v", confirm.Process, worker)
	}

	sandboxed := attachRaw(t, core, "sandboxed", worker)
	sandboxed.post(ipc.Command{
		Kind:      ipc.KindHandshake,
		Peer:      ipc.Peer{ID: "sandboxed-peer"},
		Handshake: &ipc.Handshake{Sandboxed: true},
	})
	process := sandboxed.expect(t, ipc.KindConnectConfirm).command.Peer.Process
	if process.PID != ipc.Unavailable || process.UID != ipc.Unavailable {
		t.Errorf("sandboxed process = %+v, want unavailable ids", process)
	}
	if process.Tier != ipc.TierWorker || process.Worker != 2 {
		t.Errorf("sandboxed process = %+v, want worker tier and index", process)
	}

	state := plain.sync(t)
	if len(state.Peers) != 2 {
		t.Errorf("state peers = %+v, want 2", state.Peers)
	}
}

func TestEnrichProcessKeepsReportedIDs(t *testing.T) {
	observed := ipc.UnknownProcess(ipc.TierSocket)
	reported := ipc.Process{Tier: ipc.TierSocket, PID: 5, UID: 6, Worker: ipc.Unavailable}
	got := enrichProcess(reported, observed, false)
	if got.PID != 5 || got.UID != 6 {
		t.Errorf("enrichProcess = %+v, want reported ids", got)
	}
	if got := enrichProcess(ipc.Process{}, observed, false); got != observed {
		t.Errorf("enrichProcess with empty report = %+v, want %+v", got, observed)
	}
}

func TestSendFansOutToSubscribersOnly(t *testing.T) {
	core := newTestCore(t, Options{})
	sender := connectRaw(t, core, "sender")
	listener := connectRaw(t, core, "listener")
	bystander := connectRaw(t, core, "bystander")

	sender.subscribe(t, "news")
	listener.subscribe(t, "news")
	bystander.subscribe(t, "sports")

	sender.post(ipc.Command{Kind: ipc.KindSendMessage, Channel: "news"}, "headline")

	got := listener.expect(t, ipc.KindSendMessage)
	if got.command.Peer.ID != sender.peer.ID || got.args[0] != "headline" {
		t.Errorf("listener received %+v", got)
	}
	sender.expectNothing(t)
	bystander.expectNothing(t)
}

func TestSendReachesEachConnectionOnce(t *testing.T) {
	core := newTestCore(t, Options{})
	sender := connectRaw(t, core, "sender")
	listener := connectRaw(t, core, "listener")

	// Two subscriptions and a second peer on the same connection.
	listener.subscribe(t, "news")
	listener.subscribe(t, "news")
	listener.post(ipc.Command{Kind: ipc.KindAddChannelListener, Channel: "news", Peer: ipc.Peer{ID: "second"}})
	listener.sync(t)

	sender.post(ipc.Command{Kind: ipc.KindSendMessage, Channel: "news"})
	listener.expect(t, ipc.KindSendMessage)
	listener.expectNothing(t)
}

func TestListenerRefCounts(t *testing.T) {
	core := newTestCore(t, Options{})
	peer := connectRaw(t, core, "peer")

	peer.subscribe(t, "jobs")
	peer.subscribe(t, "jobs")
	state := peer.sync(t)
	listeners := channelListeners(state, "jobs")
	if len(listeners) != 1 || listeners[0].RefCount != 2 {
		t.Fatalf("jobs listeners = %+v, want one row with count 2", listeners)
	}

	peer.post(ipc.Command{Kind: ipc.KindRemoveChannelListener, Channel: "jobs"})
	if listeners := channelListeners(peer.sync(t), "jobs"); len(listeners) != 1 || listeners[0].RefCount != 1 {
		t.Fatalf("after one release = %+v", listeners)
	}
	peer.post(ipc.Command{Kind: ipc.KindRemoveChannelListener, Channel: "jobs"})
	if listeners := channelListeners(peer.sync(t), "jobs"); listeners != nil {
		t.Fatalf("after second release = %+v, want none", listeners)
	}

	peer.subscribe(t, "a")
	peer.subscribe(t, "a")
	peer.post(ipc.Command{Kind: ipc.KindRemoveChannelAllListeners, Channel: "a"})
	if listeners := channelListeners(peer.sync(t), "a"); listeners != nil {
		t.Fatalf("after remove-all = %+v, want none", listeners)
	}

	peer.subscribe(t, "x")
	peer.subscribe(t, "y")
	peer.post(ipc.Command{Kind: ipc.KindRemoveListeners})
	if channels := peer.sync(t).Channels; len(channels) != 0 {
		t.Fatalf("after remove-listeners = %+v, want none", channels)
	}
}

// Peer A subscribes to "jobs"; B requests with reply channel "jobs#1";
// A answers; B receives exactly one response even when a stray second
// responder answers too.
func TestRequestResponseDeliveredOnce(t *testing.T) {
	core := newTestCore(t, Options{})
	responder := connectRaw(t, core, "a")
	stray := connectRaw(t, core, "stray")
	requester := connectRaw(t, core, "b")

	responder.subscribe(t, "jobs")
	stray.subscribe(t, "jobs")

	request := requester.request("jobs", "jobs#1", "build")
	state := requester.sync(t)
	if len(state.Routes) != 1 || state.Routes[0].ReplyChannel != "jobs#1" || state.Routes[0].PeerID != requester.peer.ID {
		t.Fatalf("routes = %+v, want jobs#1 to requester", state.Routes)
	}

	responder.expect(t, ipc.KindRequestMessage)
	stray.expect(t, ipc.KindRequestMessage)
	requester.expectNothing(t)

	responder.respond(request, true, "done")
	responder.sync(t)
	stray.respond(request, true, "late")
	stray.sync(t)

	response := requester.expect(t, ipc.KindRequestResponse)
	if response.args[0] != "done" || response.command.Peer.ID != responder.peer.ID {
		t.Errorf("response = %+v", response)
	}
	requester.expectNothing(t)
	if routes := requester.sync(t).Routes; len(routes) != 0 {
		t.Errorf("routes after response = %+v", routes)
	}
}

func TestCancelDropsRoute(t *testing.T) {
	core := newTestCore(t, Options{})
	responder := connectRaw(t, core, "responder")
	requester := connectRaw(t, core, "requester")
	responder.subscribe(t, "jobs")

	request := requester.request("jobs", "jobs#9")
	responder.expect(t, ipc.KindRequestMessage)
	requester.post(ipc.Command{Kind: ipc.KindRequestCancel, Channel: "jobs", Request: request.Request})
	requester.sync(t)

	responder.respond(request, true)
	responder.sync(t)
	requester.expectNothing(t)
}

func TestCloseCleansUp(t *testing.T) {
	core := newTestCore(t, Options{})
	peer := connectRaw(t, core, "peer")
	other := connectRaw(t, core, "other")
	peer.subscribe(t, "jobs")

	peer.post(ipc.Command{Kind: ipc.KindClose})
	confirm := peer.expect(t, ipc.KindCloseConfirm)
	if confirm.command.Peer.ID != peer.peer.ID {
		t.Errorf("close-confirm for %q", confirm.command.Peer.ID)
	}
	state := other.sync(t)
	if channelListeners(state, "jobs") != nil {
		t.Errorf("jobs still subscribed after close: %+v", state.Channels)
	}
	for _, known := range state.Peers {
		if known.ID == peer.peer.ID {
			t.Errorf("closed peer still listed")
		}
	}
}

func TestConnectionLossDropsRoutesAndListeners(t *testing.T) {
	core := newTestCore(t, Options{})
	responder := connectRaw(t, core, "responder")
	requester := connectRaw(t, core, "requester")
	watcher := connectRaw(t, core, "watcher")
	responder.subscribe(t, "jobs")
	requester.subscribe(t, "only-requester")

	request := requester.request("jobs", "jobs#2")
	responder.expect(t, ipc.KindRequestMessage)

	requester.conn.Close()
	testutil.RequireReceive(t, requester.shutdown, testTimeout, "requester shutdown")

	// Loss is queued behind nothing the watcher posts, so poll.
	deadline := time.Now().Add(testTimeout)
	for {
		state := watcher.sync(t)
		if len(state.Routes) == 0 && channelListeners(state, "only-requester") == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state after loss = %+v", state)
		}
		time.Sleep(10 * time.Millisecond)
	}

	responder.respond(request, true)
	if state := responder.sync(t); len(state.Routes) != 0 {
		t.Errorf("routes = %+v", state.Routes)
	}
}

func TestHandshakeTimeoutClosesSilentEndpoint(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	core := newTestCore(t, Options{Clock: fakeClock, HandshakeTimeout: time.Second})

	silent := attachRaw(t, core, "silent", ipc.UnknownProcess(ipc.TierSocket))
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(time.Second)

	err := testutil.RequireReceive(t, silent.shutdown, testTimeout, "silent endpoint shutdown")
	if !errors.Is(err, ipc.ErrConnectionLost) {
		t.Errorf("shutdown = %v, want ErrConnectionLost", err)
	}
}

func TestHandshakeStopsTimer(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(1700000000, 0))
	core := newTestCore(t, Options{Clock: fakeClock, HandshakeTimeout: time.Second})

	peer := connectRaw(t, core, "peer")
	fakeClock.Advance(time.Hour)
	peer.subscribe(t, "still-here")
	select {
	case err := <-peer.shutdown:
		t.Fatalf("endpoint closed after handshake: %v", err)
	default:
	}
}

func TestLogKindsAreNotForwarded(t *testing.T) {
	core := newTestCore(t, Options{})
	sender := connectRaw(t, core, "sender")
	listener := connectRaw(t, core, "listener")
	listener.subscribe(t, "news")

	sender.post(ipc.Command{Kind: ipc.KindLogGetMessage, Channel: "news"})
	sender.sync(t)
	listener.expectNothing(t)
}

func TestCoreStateAndClose(t *testing.T) {
	core := NewCore(Options{Component: "bridge"})
	state, err := core.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Component != "bridge" || state.Upstream != nil {
		t.Errorf("state = %+v", state)
	}
	core.Close()
	core.Close()
	if _, err := core.State(context.Background()); !errors.Is(err, ipc.ErrClosed) {
		t.Errorf("State after Close = %v, want ErrClosed", err)
	}
}
