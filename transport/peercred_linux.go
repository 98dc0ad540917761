// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/ipcbus/lib/ipc"
)

// PeerProcess reads SO_PEERCRED from a Unix socket connection. Other
// connections, and sockets whose credentials cannot be read, report
// ipc.Unavailable ids.
func PeerProcess(conn net.Conn) ipc.Process {
	process := ipc.UnknownProcess(ipc.TierSocket)
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return process
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return process
	}
	var credentials *unix.Ucred
	var credentialErr error
	controlErr := raw.Control(func(fd uintptr) {
		credentials, credentialErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if controlErr != nil || credentialErr != nil {
		return process
	}
	process.PID = int(credentials.Pid)
	process.UID = int(credentials.Uid)
	return process
}
