// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import "strings"

// Kind identifies what a command asks the receiving router to do.
type Kind string

const (
	// KindHandshake registers a peer with its router. The router
	// answers with KindConnectConfirm addressed only to the sender.
	KindHandshake Kind = "handshake"
	// KindConnect is accepted as a synonym of KindHandshake.
	KindConnect        Kind = "connect"
	KindConnectConfirm Kind = "connect-confirm"

	// KindClose and KindDisconnect both end a peer. Routers rewrite
	// KindClose to KindDisconnect before forwarding it.
	KindClose        Kind = "close"
	KindDisconnect   Kind = "disconnect"
	KindCloseConfirm Kind = "close-confirm"

	KindAddChannelListener        Kind = "add-channel-listener"
	KindRemoveChannelListener     Kind = "remove-channel-listener"
	KindRemoveChannelAllListeners Kind = "remove-channel-all-listeners"
	KindRemoveListeners           Kind = "remove-listeners"

	KindSendMessage     Kind = "send-message"
	KindRequestMessage  Kind = "request-message"
	KindRequestResponse Kind = "request-response"
	KindRequestCancel   Kind = "request-cancel"

	// KindBridgeConnect announces the full channel set a bridging tier
	// serves. KindBridgeClose withdraws it.
	KindBridgeConnect Kind = "bridge-connect"
	KindBridgeClose   Kind = "bridge-close"

	KindQueryState         Kind = "query-state"
	KindQueryStateResponse Kind = "query-state-response"

	// Log kinds report local delivery for causal tracing. Routers hand
	// them to their recorder and never forward them.
	KindLogGetMessage      Kind = "log-get-message"
	KindLogRequestResponse Kind = "log-request-response"
)

var knownKinds = map[Kind]bool{
	KindHandshake: true, KindConnect: true, KindConnectConfirm: true,
	KindClose: true, KindDisconnect: true, KindCloseConfirm: true,
	KindAddChannelListener: true, KindRemoveChannelListener: true,
	KindRemoveChannelAllListeners: true, KindRemoveListeners: true,
	KindSendMessage: true, KindRequestMessage: true,
	KindRequestResponse: true, KindRequestCancel: true,
	KindBridgeConnect: true, KindBridgeClose: true,
	KindQueryState: true, KindQueryStateResponse: true,
	KindLogGetMessage: true, KindLogRequestResponse: true,
}

// Valid reports whether k is a kind this package defines.
func (k Kind) Valid() bool { return knownKinds[k] }

// IsLog reports whether k is a trace-only kind.
func (k Kind) IsLog() bool { return strings.HasPrefix(string(k), "log-") }

// IsListenerChange reports whether k alters a router's subscription
// table. Brokers mirror these to their bridge endpoints.
func (k Kind) IsListenerChange() bool {
	switch k {
	case KindAddChannelListener, KindRemoveChannelListener,
		KindRemoveChannelAllListeners, KindRemoveListeners:
		return true
	}
	return false
}
