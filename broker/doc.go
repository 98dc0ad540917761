// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker runs the rendezvous router for socket peers.
//
// A [Broker] listens on a Unix or TCP bus address and attaches every
// accepted connection to a [router.Core] as its own endpoint, carried
// by a framed [transport.StreamConnector]. Unix socket peers are
// enriched with the pid and uid read from SO_PEERCRED.
//
// Bridges connect like any other peer and then send bridge-connect.
// From then on the broker treats the bridge's subscriptions as one
// aggregate row and mirrors every other listener change to it, so the
// bridge can decide locally whether a message must cross.
//
// Start binds the listener and returns; Stop closes the listener,
// every connection and the router. [ServeListener] exposes the accept
// loop so a bridge can accept socket peers the same way.
package broker
