// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the command model shared by every bus component:
// the [Command] envelope and its [Kind]s, peer identity ([Peer],
// [Process]), the request and causal log descriptors, the state
// snapshot returned by query-state, and the error taxonomy.
//
// On the wire a command travels as one array frame (see lib/packet):
// the first element is an object frame holding the CBOR-encoded
// Command, the remaining elements are the message arguments.
// [EncodeCommand] and [DecodeCommand] convert between the two forms.
package ipc
