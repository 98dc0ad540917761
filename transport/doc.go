// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport connects a process to the bus.
//
// A [Connector] owns one physical link to a router and is the only
// piece of the bus that touches I/O. Two implementations ship:
//
//   - [StreamConnector] carries framed commands (see lib/packet) over
//     any byte stream: a Unix or TCP socket from [Dial] or an accepted
//     connection from [Listen], or a worker subprocess's stdin and
//     stdout. Reads are reassembled with a packet.Accumulator, so
//     commands may arrive split at any byte boundary. A malformed
//     frame is logged and discarded without dropping the link.
//   - [Pipe] returns two [LocalConnector]s joined in memory. Commands
//     cross as structured values without framing; a frame posted to a
//     LocalConnector is decoded first.
//
// Connectors hand inbound commands to a [ConnectorClient]. Routers are
// connector clients, and so is the [Transport], the per-process façade
// that turns Subscribe, Send and Request calls into commands:
//
//	connector, err := transport.Dial(ctx, "/run/ipcbus.sock", transport.StreamOptions{})
//	bus := transport.NewTransport(connector, transport.Options{Name: "indexer"})
//	if _, err := bus.Connect(ctx); err != nil { ... }
//	bus.Subscribe("jobs", func(message *transport.Message) {
//	    message.Resolve("accepted")
//	})
//	response, err := bus.Request(ctx, "jobs", 5*time.Second, "build")
//
// A Transport delivers its own sends to its own subscribers directly;
// routers never echo a command back to the connection it came from.
package transport
