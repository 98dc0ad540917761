// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for ipcbus packages.
//
// [SocketDir] creates a short directory under /tmp for Unix domain
// sockets, whose paths are limited to 108 bytes (sun_path), which
// t.TempDir() paths often exceed.
//
// [RequireReceive], [RequireNoReceive], [RequireSend], and
// [RequireClosed] wrap the select-with-timeout pattern so tests never
// hang on a lost message. They are the only place tests use wall-clock
// timeouts.
//
// [UniqueID] generates distinct channel names and payloads so
// concurrent tests on one broker never see each other's traffic.
//
// All helpers call t.Fatalf on failure.
package testutil
