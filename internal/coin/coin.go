// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package coin implements C4: the coin acceptor peripheral task. It owns
// no hardware of its own — every MDB transaction is performed through a
// shared internal/hal/mdb.Bus — and publishes decoded events rather than
// exposing any polled state directly, per the "events, local task state
// only" design in spec §9.
package coin

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/hal/mdb"
	"github.com/davidmpye/snackbot/internal/mdbproto"
	"github.com/davidmpye/snackbot/internal/pace"
)

// State is the coin acceptor task's lifecycle state.
type State int

const (
	StateAbsent State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

const (
	pollInterval = 100 * time.Millisecond
	initBackoff  = 10 * time.Second
)

// Sink receives decoded coin acceptor events.
type Sink interface {
	Publish(Event)
}

// Driver is the C4 task. Run should be started once as a goroutine; it
// runs until ctx is cancelled, re-initializing after every bus error per
// spec §4.4's recovery rule.
type Driver struct {
	bus  *mdb.Bus
	sink Sink
	log  *logrus.Entry

	mu            sync.Mutex
	state         State
	scalingFactor byte
	level3        bool
}

// New builds a coin acceptor Driver over bus, publishing decoded events to
// sink.
func New(bus *mdb.Bus, sink Sink, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{bus: bus, sink: sink, log: log.WithField("component", "coin")}
}

// State returns the task's current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run drives the Absent -> Initializing -> Ready cycle until ctx is
// cancelled, re-attempting initialization after initBackoff whenever the
// bus reports an error.
func (d *Driver) Run(ctx context.Context) {
	ticker := pace.NewTicker(pollInterval)

	for ctx.Err() == nil {
		d.setState(StateInitializing)

		if err := d.init(); err != nil {
			d.log.WithError(err).Warn("init failed, backing off")
			d.setState(StateAbsent)
			if !sleepCtx(ctx, initBackoff) {
				return
			}
			continue
		}

		d.setState(StateReady)
		d.log.Info("coin acceptor ready")
		d.pollLoop(ctx, ticker)
		d.setState(StateAbsent)
		if !sleepCtx(ctx, initBackoff) {
			return
		}
	}
}

func (d *Driver) init() error {
	if _, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinReset, nil); err != nil {
		return err
	}

	setup, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinSetup, nil)
	if err != nil {
		return err
	}
	level, scaling := parseSetup(setup)

	d.mu.Lock()
	d.scalingFactor = scaling
	d.level3 = level >= 3
	d.mu.Unlock()

	if _, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinTubeStatus, nil); err != nil {
		return err
	}

	if level >= 3 {
		if _, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinExpansion, nil); err != nil {
			return err
		}
	}

	// Start with acceptance disabled; SetEnabled(true) opens the mask once
	// the application is ready to take payment.
	_, err = d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinCoinType, []byte{0x00, 0x00})
	return err
}

// parseSetup extracts the feature level and scaling factor from a coin
// acceptor Setup reply (MDB/ICP v4.2 §6.2: level, country/currency x2,
// scaling factor, decimal places, coin type routing x2, coin type credit
// x16). Only the fields this driver needs are decoded.
func parseSetup(reply []byte) (level byte, scalingFactor byte) {
	if len(reply) < 4 {
		return 0, 1
	}
	return reply[0], reply[3]
}

func (d *Driver) pollLoop(ctx context.Context, ticker *pace.Ticker) {
	for {
		if err := ticker.Wait(ctx); err != nil {
			return
		}

		activity, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinPoll, nil)
		if err != nil {
			d.log.WithError(err).Warn("poll failed, re-initializing")
			return
		}

		d.mu.Lock()
		scaling := d.scalingFactor
		d.mu.Unlock()

		for _, ev := range decodePoll(activity, scaling) {
			if d.sink != nil {
				d.sink.Publish(ev)
			}
		}
	}
}

// SetEnabled toggles the coin type accept mask between fully open
// (0xFFFF) and fully closed (0x0000).
func (d *Driver) SetEnabled(enabled bool) error {
	mask := []byte{0x00, 0x00}
	if enabled {
		mask = []byte{0xFF, 0xFF}
	}
	_, err := d.bus.Transact(mdbproto.AddrCoinAcceptor, mdbproto.CoinCoinType, mask)
	return err
}

// DispenseCoins is reserved in the wire vocabulary but unimplemented: the
// firmware never commanded a coin acceptor payout. It always reports
// nothing refunded, matching the original's documented non-behavior.
func (d *Driver) DispenseCoins(amount uint16) uint16 {
	d.log.WithField("amount", amount).Warn("DispenseCoins requested but not implemented")
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
