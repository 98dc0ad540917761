// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge joins a supervising process, the workers it owns and
// an optional broker into one bus.
//
// A [Bridge] runs a [router.Core] inside the supervisor. The
// supervisor's own [transport.Transport] is attached through an
// in-memory pipe, so its commands cross as values and are never
// framed. Workers are attached either in-process ([Bridge.LocalWorker],
// again a pipe) or as subprocesses speaking framed commands on their
// stdin and stdout ([Bridge.SpawnWorker]). Socket peers can also
// connect directly when Address is set.
//
// With BrokerAddress set, the bridge links upstream: it announces the
// channels its tier listens on as one aggregate subscription and keeps
// a mirror of what the broker side listens on, so a message leaves the
// tier only when someone beyond it is listening. Responses find their
// way back through the per-endpoint routes each router records, never
// through anything carried inside the command.
//
// Start brings everything up and returns; Stop tears it down, closing
// worker pipes so well-behaved workers exit.
package bridge
