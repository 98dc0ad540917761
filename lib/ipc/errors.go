// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/ipcbus/lib/packet"
)

var (
	// ErrProtocol marks a frame or command that cannot be understood.
	// Routers log and discard it; the connection stays up.
	ErrProtocol = packet.ErrProtocol

	// ErrRouteNotFound marks a response or cancel whose reply channel
	// has no live route. Routers drop such commands.
	ErrRouteNotFound = errors.New("response route not found")

	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrRequestTimeout   = errors.New("request timed out")

	// ErrConnectionLost is reported by a connector whose link failed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed is returned by operations on a closed transport or
	// connector.
	ErrClosed = errors.New("closed")
)

// RequestError is a request rejected by its responder.
type RequestError struct {
	Channel string
	Reason  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request on %q rejected: %s", e.Channel, e.Reason)
}
