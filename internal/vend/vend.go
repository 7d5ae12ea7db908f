// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package vend implements C7: the per-transaction vend orchestrator. It
// sequences a single transaction across the dispenser driver (C2) and the
// cashless device task (C5), sharing the MDB bus and the matrix hardware
// with every other peripheral task but touching neither directly — all
// access goes through the two driver interfaces below. One Orchestrator
// serves every vend request, each as its own Vend call (spec §4.7); the
// RPC dispatcher (C8) serializes requests so only one ever runs
// concurrently in practice.
package vend

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/dispenser"
)

// authorizationDeadline bounds how long the orchestrator waits for the
// cashless device to resolve a StartTransaction request, per spec §5.
const authorizationDeadline = 30 * time.Second

// Outcome is the single result the APP sees for one vend request (spec
// §3's DispenseOutcome, widened with PaymentFailed and Cancelled).
type Outcome int

const (
	OutcomeOk Outcome = iota
	OutcomeInvalidAddress
	OutcomeMotorNotHome
	OutcomeMotorStuckHome
	OutcomeMotorStuckNotHome
	OutcomeOneOrNoCansLeft
	OutcomePaymentFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOk:
		return "ok"
	case OutcomeInvalidAddress:
		return "invalid-address"
	case OutcomeMotorNotHome:
		return "motor-not-home"
	case OutcomeMotorStuckHome:
		return "motor-stuck-home"
	case OutcomeMotorStuckNotHome:
		return "motor-stuck-not-home"
	case OutcomeOneOrNoCansLeft:
		return "one-or-no-cans-left"
	case OutcomePaymentFailed:
		return "payment-failed"
	default:
		return "cancelled"
	}
}

// DispenserPort is the subset of *dispenser.Driver the orchestrator drives.
type DispenserPort interface {
	PreFlight(addr dispenser.Address) error
	Dispense(addr dispenser.Address, policy dispenser.Policy) error
}

// CashlessPort is the subset of *cashless.Driver the orchestrator drives.
type CashlessPort interface {
	State() cashless.State
	StartTransaction(amount uint16, addr dispenser.Address)
	CancelTransaction()
	VendSuccess(addr dispenser.Address)
	VendFailed()
}

// Orchestrator is C7.
type Orchestrator struct {
	dispenser DispenserPort
	cashless  CashlessPort
	cashlessC *CashlessHub
	coinC     *CoinHub
	log       *logrus.Entry

	authDeadline time.Duration
}

// New builds an Orchestrator. cashlessHub and coinHub must be the same
// hubs registered as the Sink of the running cashless and coin drivers, so
// that events they publish reach this transaction.
func New(d DispenserPort, c CashlessPort, cashlessHub *CashlessHub, coinHub *CoinHub, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{
		dispenser:    d,
		cashless:     c,
		cashlessC:    cashlessHub,
		coinC:        coinHub,
		log:          log.WithField("component", "vend"),
		authDeadline: authorizationDeadline,
	}
}

// Vend runs the full sequence of spec §4.7 for one request and returns the
// single outcome reported to the APP. It is safe, and intended, to run
// Vend on its own goroutine per request (spec: "spawned so long-running
// vends do not block the RPC dispatcher").
func (o *Orchestrator) Vend(ctx context.Context, addr dispenser.Address, price uint16) Outcome {
	log := o.log.WithField("address", addr.String())

	if err := o.dispenser.PreFlight(addr); err != nil {
		outcome := mapDispenserErr(err)
		log.WithField("outcome", outcome).Info("vend rejected at pre-flight")
		return outcome
	}

	if o.cashless.State() == cashless.StateAbsent {
		log.Warn("cashless device absent, no payment path available")
		return OutcomePaymentFailed
	}

	outcome := o.authorize(ctx, addr, price, log)
	if outcome != OutcomeOk {
		return outcome
	}

	if err := o.dispenser.Dispense(addr, dispenser.Forced); err != nil {
		log.WithError(err).Warn("dispense failed after payment approved")
		o.cashless.VendFailed()
		return mapDispenserErr(err)
	}

	o.cashless.VendSuccess(addr)
	log.Info("vend completed")
	return OutcomeOk
}

// authorize runs step 3: request payment and wait for its resolution,
// also watching for an escrow-lever cancellation, up to authDeadline.
func (o *Orchestrator) authorize(ctx context.Context, addr dispenser.Address, price uint16, log *logrus.Entry) Outcome {
	o.cashlessC.Reset()
	// Discard an escrow press left over from before this transaction.
	select {
	case <-o.coinC.EscrowPressed():
	default:
	}
	o.cashless.StartTransaction(price, addr)

	deadline := time.NewTimer(o.authDeadline)
	defer deadline.Stop()

	for {
		select {
		case ev := <-o.cashlessC.C():
			switch ev.Kind {
			case cashless.EventVendApproved:
				if ev.Amount != price {
					log.WithFields(logrus.Fields{"approved": ev.Amount, "price": price}).
						Warn("cashless device approved the wrong amount")
					o.cashless.CancelTransaction()
					return OutcomePaymentFailed
				}
				return OutcomeOk
			case cashless.EventVendDenied:
				log.Info("payment denied")
				return OutcomePaymentFailed
			}
		case <-o.coinC.EscrowPressed():
			log.Info("escrow pressed during authorization, cancelling")
			o.cashless.CancelTransaction()
			return OutcomeCancelled
		case <-deadline.C:
			log.Warn("payment authorization timed out")
			o.cashless.CancelTransaction()
			return OutcomePaymentFailed
		case <-ctx.Done():
			o.cashless.CancelTransaction()
			return OutcomePaymentFailed
		}
	}
}

func mapDispenserErr(err error) Outcome {
	switch {
	case errors.Is(err, dispenser.ErrInvalidAddress):
		return OutcomeInvalidAddress
	case errors.Is(err, dispenser.ErrMotorNotHome):
		return OutcomeMotorNotHome
	case errors.Is(err, dispenser.ErrMotorStuckHome):
		return OutcomeMotorStuckHome
	case errors.Is(err, dispenser.ErrMotorStuckNotHome):
		return OutcomeMotorStuckNotHome
	case errors.Is(err, dispenser.ErrOneOrNoCansLeft):
		return OutcomeOneOrNoCansLeft
	default:
		// ErrMotorNotPresent, ErrNoDropDetected: reserved, never actually
		// returned by this machine's wiring (see dispenser.go).
		return OutcomePaymentFailed
	}
}
