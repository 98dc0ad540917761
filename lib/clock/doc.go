// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the bus.
//
// Request timeouts, causal trace timestamps, and handshake deadlines
// all read time through a [Clock]. Production code uses [Real]; tests
// use [Fake], which only moves when Advance is called:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	transport := transport.NewTransport(connector, transport.Options{Clock: fakeClock})
//	go transport.Request(ctx, "jobs", time.Second)
//	fakeClock.WaitForTimers(1)
//	fakeClock.Advance(time.Second) // request times out deterministically
package clock
