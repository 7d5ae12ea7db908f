// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package vend

import (
	"sync"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/coin"
)

// CashlessHub is the single cashless.Sink registered with internal/cashless
// for the life of the process. It fans every event out to an optional
// downstream (the RPC topic publisher, C8) while also making the latest
// event available to whichever vend transaction is currently awaiting
// settlement, via a Signal.
type CashlessHub struct {
	signal *Signal[cashless.Event]

	mu         sync.Mutex
	downstream cashless.Sink
}

func NewCashlessHub() *CashlessHub {
	return &CashlessHub{signal: NewSignal[cashless.Event]()}
}

// SetDownstream registers the sink every event is additionally forwarded
// to (nil to stop forwarding).
func (h *CashlessHub) SetDownstream(s cashless.Sink) {
	h.mu.Lock()
	h.downstream = s
	h.mu.Unlock()
}

// Publish implements cashless.Sink.
func (h *CashlessHub) Publish(e cashless.Event) {
	h.signal.Send(e)

	h.mu.Lock()
	d := h.downstream
	h.mu.Unlock()
	if d != nil {
		d.Publish(e)
	}
}

// Reset clears any settlement event left over from a previous transaction.
func (h *CashlessHub) Reset() {
	h.signal.Reset()
}

// C delivers the next settlement event to whichever transaction is
// currently waiting.
func (h *CashlessHub) C() <-chan cashless.Event {
	return h.signal.C()
}

// CoinHub is the single coin.Sink registered with internal/coin. It fans
// every event out to an optional downstream (the RPC topic publisher)
// and separately signals an in-flight vend transaction when the escrow
// lever is pressed, per spec §8 scenario 4.
type CoinHub struct {
	mu         sync.Mutex
	downstream coin.Sink
	escrow     chan struct{}
}

func NewCoinHub() *CoinHub {
	return &CoinHub{escrow: make(chan struct{}, 1)}
}

func (h *CoinHub) SetDownstream(s coin.Sink) {
	h.mu.Lock()
	h.downstream = s
	h.mu.Unlock()
}

// Publish implements coin.Sink.
func (h *CoinHub) Publish(e coin.Event) {
	if e.Kind == coin.KindStatus && e.Status == coin.EventEscrowPressed {
		select {
		case h.escrow <- struct{}{}:
		default:
		}
	}

	h.mu.Lock()
	d := h.downstream
	h.mu.Unlock()
	if d != nil {
		d.Publish(e)
	}
}

// EscrowPressed fires once per escrow-lever press observed while a
// transaction is awaiting settlement.
func (h *CoinHub) EscrowPressed() <-chan struct{} {
	return h.escrow
}
