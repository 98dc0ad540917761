// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads configuration for the ipcbus broker, bridge and
// CLI.
//
// Configuration comes from a single file named by either the
// IPCBUS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no fallback search path.
// Files are YAML; a file ending in .json or .jsonc is stripped of
// comments and trailing commas first and parsed by the same decoder.
//
// A file may carry development and production sections that override
// base values when [Config].Environment matches. Path fields expand
// ${VAR} and ${VAR:-default} after loading; no other environment
// variable overrides a config value.
//
// Durations are written as Go duration strings ("5s", "250ms").
package config
