// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the startup scaffolding shared by the
// ipcbus daemons (ipcbus-broker and ipcbus-bridge).
//
// Daemons compose these pieces in their own main() rather than
// inheriting a runtime:
//
//   - [RegisterCommonFlags] binds --config, --log-level, --log-format,
//     --trace-level, --trace-log and --version to a pflag set.
//   - [Bootstrap] loads the configuration (from --config, IPCBUS_CONFIG
//     or the built-in defaults), applies flag overrides, validates it,
//     builds the logger and opens the causal trace recorder and sink.
//   - [NewLogger] picks a text handler on a terminal and JSON
//     otherwise, matching what the rest of the tooling emits.
//
// Bootstrap does not create a signal context; callers do that first
// so shutdown can begin before the bus is up.
package service
