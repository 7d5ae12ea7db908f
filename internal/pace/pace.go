// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pace gates the cadence of the coin and cashless peripheral poll
// loops (100 ms) on a golang.org/x/time rate.Limiter instead of a bare
// time.Ticker, so the wait is cancellable through a context the way every
// other blocking call in these tasks is. Their 10 s re-init backoff does
// not use this package; it is a context-aware timer in each task.
package pace

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Ticker paces repeated work at a fixed interval.
type Ticker struct {
	limiter *rate.Limiter
}

// NewTicker builds a Ticker that allows one tick per interval, with no
// burst: a caller that falls behind does not get to catch up by bursting.
func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next tick is due or ctx is done.
func (t *Ticker) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
