// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
	"github.com/bureau-foundation/ipcbus/lib/testutil"
	"github.com/bureau-foundation/ipcbus/lib/trace"
	"github.com/bureau-foundation/ipcbus/transport"
)

const testTimeout = 5 * time.Second

func startBroker(t *testing.T, broker *Broker) string {
	t.Helper()
	if broker.Address == "" {
		broker.Address = "unix:" + testutil.SocketPath(t, "broker")
	}
	if err := broker.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(broker.Stop)
	return broker.Address
}

func dialTransport(t *testing.T, address, name string) *transport.Transport {
	t.Helper()
	connector, err := transport.Dial(context.Background(), address, transport.StreamOptions{Name: name})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client := transport.NewTransport(connector, transport.Options{Name: name})
	if _, err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect %s: %v", name, err)
	}
	t.Cleanup(func() { client.Close(context.Background()) })
	return client
}

// routed waits until the broker has handled everything client posted.
func routed(t *testing.T, client *transport.Transport) *ipc.State {
	t.Helper()
	state, err := client.QueryState(context.Background())
	if err != nil {
		t.Fatalf("QueryState: %v", err)
	}
	return state
}

func TestBrokerRoutesBetweenSocketPeers(t *testing.T) {
	address := startBroker(t, &Broker{})
	responder := dialTransport(t, address, "responder")
	listener := dialTransport(t, address, "listener")
	requester := dialTransport(t, address, "requester")

	if pid := responder.Peer().Process.PID; pid != os.Getpid() {
		t.Errorf("responder pid = %d, want %d from peer credentials", pid, os.Getpid())
	}

	responder.Subscribe("jobs", func(message *transport.Message) {
		var job struct {
			Name     string `json:"name"`
			Priority int    `json:"priority"`
		}
		if err := message.Decode(0, &job); err != nil {
			message.Reject(err.Error())
			return
		}
		message.Resolve(job.Name, job.Priority*2)
	})
	news := make(chan *transport.Message, 4)
	listener.Subscribe("news", func(message *transport.Message) { news <- message })
	routed(t, responder)
	routed(t, listener)

	response, err := requester.Request(context.Background(), "jobs", time.Minute,
		map[string]any{"name": "deploy", "priority": 3})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if response.Args[0] != "deploy" || response.Args[1] != int64(6) {
		t.Errorf("response args = %#v", response.Args)
	}

	if err := requester.Send("news", "extra", 2.5, true, []byte{1, 2}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	message := testutil.RequireReceive(t, news, testTimeout, "news delivery")
	if message.Sender.ID != requester.Peer().ID || message.Local {
		t.Errorf("news sender = %+v local=%v", message.Sender, message.Local)
	}
	if len(message.Args) != 4 || message.Args[0] != "extra" || message.Args[1] != 2.5 || message.Args[2] != true {
		t.Errorf("news args = %#v", message.Args)
	}

	_, err = requester.Request(context.Background(), "nobody", 50*time.Millisecond)
	if !errors.Is(err, ipc.ErrRequestTimeout) {
		t.Errorf("Request without responder = %v, want ErrRequestTimeout", err)
	}
}

func TestBrokerStateAndPeerLoss(t *testing.T) {
	broker := &Broker{}
	address := startBroker(t, broker)
	first := dialTransport(t, address, "first")
	second := dialTransport(t, address, "second")
	first.Subscribe("jobs", func(*transport.Message) {})
	routed(t, first)
	routed(t, second)

	state, err := broker.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.Component != "broker" || len(state.Peers) != 2 || len(state.Channels) != 1 {
		t.Fatalf("state = %+v", state)
	}

	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline := time.Now().Add(testTimeout)
	for {
		state := routed(t, second)
		if len(state.Peers) == 1 && len(state.Channels) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("state after close = %+v", state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBrokerStopDisconnectsPeers(t *testing.T) {
	broker := &Broker{}
	address := startBroker(t, broker)
	client := dialTransport(t, address, "client")

	broker.Stop()
	broker.Wait()

	deadline := time.Now().Add(testTimeout)
	for {
		err := client.Send("after-stop")
		if errors.Is(err, ipc.ErrConnectionLost) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Send after broker stop = %v, want ErrConnectionLost", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestBrokerRecordsFramedTraces(t *testing.T) {
	recorder := trace.NewRecorder(trace.RecorderOptions{Level: trace.LevelArgs})
	traces := make(chan *trace.Trace, 16)
	recorder.SetCallback(func(built *trace.Trace) { traces <- built })

	address := startBroker(t, &Broker{Observer: recorder})
	sender := dialTransport(t, address, "sender")
	if err := sender.Send("audit", "entry"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	built := testutil.RequireReceive(t, traces, testTimeout, "send trace")
	current := built.Current()
	if current.Kind != trace.SendMessage || current.Channel != "audit" {
		t.Fatalf("trace hop = %+v", current)
	}
	if built.PayloadSize == 0 || len(built.PayloadDigest) != 64 {
		t.Errorf("payload size %d digest %q, want framed digest", built.PayloadSize, built.PayloadDigest)
	}
	if len(current.Args) != 1 || current.Args[0] != "entry" {
		t.Errorf("trace args = %v", current.Args)
	}
}

func TestBrokerRequiresAddress(t *testing.T) {
	if err := (&Broker{}).Start(context.Background()); err == nil {
		t.Fatal("Start without address succeeded")
	}
	if _, err := (&Broker{}).State(context.Background()); err == nil {
		t.Fatal("State before Start succeeded")
	}
}
