// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ipcbus-bridge runs a bus router inside a supervising process. It
// spawns the workers listed under bridge.workers in the config, each
// speaking the bus protocol on its stdin and stdout, and links the
// tier to a broker when bridge.broker_address (or --broker) is set.
//
// Everything after "--" is spawned as one more worker, and the bridge
// exits with that worker's exit code once it finishes:
//
//	ipcbus-bridge --broker /run/ipcbus.sock -- ipcbus serve --stdio --channel echo
//
// Without "--" the bridge runs until SIGINT or SIGTERM.
package main
