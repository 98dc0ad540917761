// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package subscription implements the table of who listens to what that
// every router consults for fan-out.
//
// A [Registry] maps each channel to the connections subscribed to it
// and, under each connection, the peers listening through it with a
// reference count per peer. A row exists exactly while its count is
// positive. The registry also holds single-use response routes from a
// request's reply channel back to the requesting connection; popping a
// route deletes it, so a duplicated response finds nothing.
//
// Registry is not safe for concurrent use. Each router owns one and
// touches it only from its routing goroutine.
package subscription
