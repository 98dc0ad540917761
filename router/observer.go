// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import "github.com/bureau-foundation/ipcbus/lib/ipc"

// Observer is notified of every command a Core routes, before it is
// forwarded. Implementations must not block; trace.Recorder is the
// usual one.
type Observer interface {
	// OnCommandRouted receives a command whose arguments arrived as
	// values.
	OnCommandRouted(command ipc.Command, args []any)

	// OnBufferFramed receives a command that arrived as a frame. The
	// frame must not be retained or modified.
	OnBufferFramed(command ipc.Command, frame []byte)
}
