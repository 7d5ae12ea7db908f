// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides the busy-wait-with-timeout primitives the teacher's
// internal/reg package offers for memory-mapped SoC registers, adapted to
// poll an arbitrary sampling function instead of a fixed hardware address:
// this controller's "registers" are GPIO sense lines and ADC conversions,
// not a documented memory map.
package reg

import (
	"runtime"
	"time"
)

// Wait blocks until sample returns true, yielding the scheduler between
// checks so other goroutines (in particular the cooperative peripheral
// tasks sharing the MDB bus) make progress.
func Wait(sample func() bool) {
	for !sample() {
		runtime.Gosched()
	}
}

// WaitFor blocks until sample returns true or timeout elapses. The returned
// bool reports whether the condition was observed (true) or the wait timed
// out (false).
func WaitFor(timeout time.Duration, sample func() bool) bool {
	deadline := time.Now().Add(timeout)

	for !sample() {
		if time.Now().After(deadline) {
			return false
		}
		runtime.Gosched()
	}

	return true
}
