// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the ipcbus command tree. Every bus
// command shares the connection flags in connect.go; arguments given
// on the command line are parsed as JSON where possible so typed
// values reach subscribers.
package commands
