// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package transport

import (
	"net"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// PeerProcess reports ipc.Unavailable ids; peer credentials are only
// read on Linux.
func PeerProcess(net.Conn) ipc.Process {
	return ipc.UnknownProcess(ipc.TierSocket)
}
