// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler shared by the
// ipcbus binaries. main() calls [Fatal] with the error from run(),
// which may fire before the structured logger exists.
package process
