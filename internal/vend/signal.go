// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vend

import "sync"

// Signal is a single-slot, overwrite-on-send mailbox: exactly the
// "reset-on-send signal" spec §4.7/§9 describes for the orchestrator to
// await a cashless settlement event. Reset drains any stale value left
// over from a previous transaction before a fresh StartTransaction is
// issued; Send replaces whatever value is currently pending rather than
// blocking the publisher.
type Signal[T any] struct {
	mu sync.Mutex
	ch chan T
}

func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{ch: make(chan T, 1)}
}

// Reset drains any pending value without delivering it to a waiter.
func (s *Signal[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.ch:
	default:
	}
}

// Send delivers v, replacing any value not yet consumed.
func (s *Signal[T]) Send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// C exposes the underlying channel for use in a select alongside other
// wake sources (timers, cancellation, other signals).
func (s *Signal[T]) C() <-chan T {
	return s.ch
}
