// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package router implements the command routing state machine shared
// by the broker and the bridge.
//
// A [Core] owns a subscription registry and a set of endpoints, one
// per attached [transport.Connector]. Every inbound command, endpoint
// shutdown and external call is queued on one mailbox and handled by a
// single goroutine, so the registry needs no locking and routing never
// waits on I/O: connectors queue outbound frames in their own
// outboxes.
//
// Commands are routed by kind:
//
//   - handshake registers the sender, enriched with what the endpoint's
//     connector knows about the remote process, and answers
//     connect-confirm to that endpoint only.
//   - close and disconnect remove the sender's subscriptions. Both are
//     forwarded as disconnect to bridge endpoints.
//   - listener changes update reference counts. A core with an
//     upstream link announces a channel upstream when its first
//     listener appears and withdraws it when the last one goes.
//   - send-message and request-message fan out to every subscribed
//     endpoint except the sender's. A request also records a
//     single-use response route from its reply channel back to the
//     sender's endpoint.
//   - request-response follows that route once and is dropped when the
//     route is gone. request-cancel removes the route.
//   - bridge-connect marks an endpoint as a bridge and registers the
//     aggregate channel set it serves.
//   - log kinds only feed the [Observer].
//
// A bridge core additionally holds an upstream endpoint toward a
// broker and a mirror of the broker's subscriptions, used to decide
// whether a locally originated message must cross upstream.
package router
