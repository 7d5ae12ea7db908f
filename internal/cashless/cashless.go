// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cashless implements C5: the cashless (contactless card reader)
// peripheral task. Like internal/coin, it owns no hardware directly —
// every MDB transaction runs through a shared internal/hal/mdb.Bus — and
// keeps session state local to the task, visible to the rest of the
// system only through published events and the command API.
package cashless

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/hal/mdb"
	"github.com/davidmpye/snackbot/internal/mdbproto"
	"github.com/davidmpye/snackbot/internal/pace"
)

// State is the cashless device task's session lifecycle state.
type State int

const (
	StateAbsent State = iota
	StateInitializing
	StateIdle
	StateEnabled
	StateStarting
	StateApproved
	StateDenied
	StateSettling
	StateRefunding
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateEnabled:
		return "enabled"
	case StateStarting:
		return "starting"
	case StateApproved:
		return "approved"
	case StateDenied:
		return "denied"
	case StateSettling:
		return "settling"
	case StateRefunding:
		return "refunding"
	default:
		return "absent"
	}
}

const (
	pollInterval   = 100 * time.Millisecond
	initBackoff    = 10 * time.Second
	commandBacklog = 4
)

// EventKind distinguishes the two outcomes a transaction commander needs
// to hear about.
type EventKind int

const (
	EventVendApproved EventKind = iota
	EventVendDenied
)

// Event is published to Sink when the reader resolves a vend request.
type Event struct {
	Kind   EventKind
	Amount uint16
}

// Sink receives cashless transaction outcome events.
type Sink interface {
	Publish(Event)
}

type commandKind int

const (
	cmdSetEnabled commandKind = iota
	cmdStartTransaction
	cmdCancelTransaction
	cmdVendSuccess
	cmdVendFailed
)

type command struct {
	kind    commandKind
	enabled bool
	amount  uint16
	addr    dispenser.Address
}

// Driver is the C5 task.
type Driver struct {
	bus  *mdb.Bus
	sink Sink
	log  *logrus.Entry

	commands chan command

	mu    sync.Mutex
	state State
}

// New builds a cashless device Driver over bus, publishing transaction
// outcomes to sink.
func New(bus *mdb.Bus, sink Sink, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Driver{
		bus:      bus,
		sink:     sink,
		log:      log.WithField("component", "cashless"),
		commands: make(chan command, commandBacklog),
	}
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

// SetEnabled moves the task to Enabled (true) or back to Idle (false). It
// sends no command to the reader and does not itself start a transaction;
// reader-initiated sessions are cancelled in either state.
func (d *Driver) SetEnabled(enabled bool) {
	d.enqueue(command{kind: cmdSetEnabled, enabled: enabled})
}

// StartTransaction requests a vend authorization for amount against addr.
// The response arrives asynchronously as an Event on Sink.
func (d *Driver) StartTransaction(amount uint16, addr dispenser.Address) {
	d.enqueue(command{kind: cmdStartTransaction, amount: amount, addr: addr})
}

// CancelTransaction requests cancellation of an in-flight authorization.
// Idempotent: safe to call in any state.
func (d *Driver) CancelTransaction() {
	d.enqueue(command{kind: cmdCancelTransaction})
}

// VendSuccess reports that addr was successfully dispensed, settling the
// approved session.
func (d *Driver) VendSuccess(addr dispenser.Address) {
	d.enqueue(command{kind: cmdVendSuccess, addr: addr})
}

// VendFailed reports that dispense failed after approval, triggering the
// reader's refund handling.
func (d *Driver) VendFailed() {
	d.enqueue(command{kind: cmdVendFailed})
}

func (d *Driver) enqueue(c command) {
	select {
	case d.commands <- c:
	default:
		d.log.Warn("command channel full, dropping command")
	}
}

// Run drives initialization and the poll loop until ctx is cancelled,
// reinitializing after every bus error, Malfunction or CmdOutOfSequence
// event, per spec §4.5's state diagram.
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

		d.setState(StateIdle)
		d.log.Info("cashless device ready")
		d.pollLoop(ctx, ticker)
		if ctx.Err() != nil {
			return
		}
		d.setState(StateAbsent)
	}
}

func (d *Driver) init() error {
	if _, err := d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessReset, nil); err != nil {
		return err
	}
	if _, err := d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessSetup, nil); err != nil {
		return err
	}
	_, err := d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessExpansion, nil)
	return err
}

func (d *Driver) pollLoop(ctx context.Context, ticker *pace.Ticker) {
	for {
		if err := ticker.Wait(ctx); err != nil {
			return
		}

		activity, err := d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessPoll, nil)
		if err != nil {
			d.log.WithError(err).Warn("poll failed, re-initializing")
			return
		}

		for _, ev := range decodePoll(activity) {
			if !d.handlePollEvent(ev) {
				return
			}
		}

		d.drainCommands()
	}
}

// handlePollEvent applies one decoded poll event and reports whether the
// task should keep polling (false forces a reinitialization).
func (d *Driver) handlePollEvent(ev pollEvent) bool {
	switch ev.kind {
	case pollBeginSession:
		d.log.Debug("rejecting reader-initiated session, this machine always initiates from its keypad")
		_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessVend, []byte{mdbproto.VendCancel})
	case pollVendApproved:
		d.setState(StateApproved)
		d.publish(Event{Kind: EventVendApproved, Amount: ev.amount})
	case pollVendDenied:
		d.setState(StateDenied)
		d.publish(Event{Kind: EventVendDenied})
		d.endSession()
	case pollSessionCancelRequest, pollCancelled:
		d.endSession()
	case pollEndSession:
		d.log.Debug("end session confirmed by reader")
		d.setState(StateEnabled)
	case pollMalfunction:
		d.log.WithField("code", ev.code).Warn("reader reported malfunction, reinitializing")
		return false
	case pollCmdOutOfSequence:
		d.log.Warn("reader reported command out of sequence, reinitializing")
		return false
	}
	return true
}

func (d *Driver) endSession() {
	_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessSessionComplete, nil)
	d.setState(StateEnabled)
}

func (d *Driver) publish(e Event) {
	if d.sink != nil {
		d.sink.Publish(e)
	}
}

func (d *Driver) drainCommands() {
	for {
		select {
		case cmd := <-d.commands:
			d.execCommand(cmd)
		default:
			return
		}
	}
}

func (d *Driver) execCommand(cmd command) {
	switch cmd.kind {
	case cmdSetEnabled:
		if cmd.enabled {
			d.setState(StateEnabled)
		} else {
			d.setState(StateIdle)
		}
	case cmdStartTransaction:
		d.log.WithField("address", cmd.addr.String()).WithField("amount", cmd.amount).Debug("starting transaction")
		d.setState(StateStarting)
		payload := []byte{mdbproto.VendRequest, byte(cmd.amount >> 8), byte(cmd.amount)}
		_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessVend, payload)
	case cmdCancelTransaction:
		_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessVend, []byte{mdbproto.VendCancel})
	case cmdVendSuccess:
		d.log.WithField("address", cmd.addr.String()).Debug("vend success")
		_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessVend, []byte{mdbproto.VendSuccess})
		d.setState(StateSettling)
		d.endSession()
	case cmdVendFailed:
		d.log.Debug("vend failed, reader will handle refund")
		_, _ = d.bus.Transact(mdbproto.AddrCashless, mdbproto.CashlessVend, []byte{mdbproto.VendFailure})
		d.setState(StateRefunding)
		d.endSession()
	}
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
