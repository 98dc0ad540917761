// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// ipcbus-broker is the bus hub: it listens on a Unix or TCP socket,
// routes messages and requests between every connected peer and links
// bridges so their tiers share one channel namespace.
//
// Configuration comes from the file named by --config or IPCBUS_CONFIG
// (YAML, or JSON with comments when the name ends in .json or .jsonc);
// --address and the common flags override it. With --trace-level set
// the broker records a causal trace for every message, request and
// response it routes, written to --trace-log when given.
//
// The broker runs until SIGINT or SIGTERM, then disconnects every peer
// and removes its socket.
package main
