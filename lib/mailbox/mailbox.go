// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mailbox provides an unbounded FIFO with a readiness channel.
//
// Routers use a Mailbox as their inbox and connectors use one as their
// outbox, so producers never block on a slow consumer: routing decisions
// stay fire-and-forget and a stalled socket write cannot stall fan-out
// to other peers.
//
//	for {
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-inbox.Ready():
//	    }
//	    for _, item := range inbox.Take() {
//	        handle(item)
//	    }
//	}
package mailbox

import "sync"

// Mailbox is an unbounded FIFO safe for concurrent producers and one
// consumer.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// New returns an empty open mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Put appends item. It returns false, dropping item, once the mailbox
// is closed.
func (m *Mailbox[T]) Put(item T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, item)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready receives after at least one Put since the last Take. A receive
// may be spurious; Take returning nil is normal.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Take removes and returns everything queued, oldest first.
func (m *Mailbox[T]) Take() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops accepting items. Items already queued stay available to
// Take. Close is idempotent.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Done is closed by Close.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}
