package vend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
)

type fakeDispenser struct {
	preFlightErr error
	dispenseErr  error

	mu        sync.Mutex
	dispensed bool
}

func (f *fakeDispenser) PreFlight(dispenser.Address) error { return f.preFlightErr }

func (f *fakeDispenser) Dispense(dispenser.Address, dispenser.Policy) error {
	f.mu.Lock()
	f.dispensed = true
	f.mu.Unlock()
	return f.dispenseErr
}

func (f *fakeDispenser) wasDispensed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispensed
}

type fakeCashless struct {
	mu         sync.Mutex
	state      cashless.State
	started    bool
	cancelled  int
	vendOk     bool
	vendFailed bool
}

func (f *fakeCashless) State() cashless.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCashless) StartTransaction(amount uint16, addr dispenser.Address) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeCashless) CancelTransaction() {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
}

func (f *fakeCashless) VendSuccess(dispenser.Address) {
	f.mu.Lock()
	f.vendOk = true
	f.mu.Unlock()
}

func (f *fakeCashless) VendFailed() {
	f.mu.Lock()
	f.vendFailed = true
	f.mu.Unlock()
}

func (f *fakeCashless) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func newTestOrchestrator(d *fakeDispenser, c *fakeCashless) (*Orchestrator, *CashlessHub, *CoinHub) {
	cashlessHub := NewCashlessHub()
	coinHub := NewCoinHub()
	o := New(d, c, cashlessHub, coinHub, nil)
	o.authDeadline = 200 * time.Millisecond
	return o, cashlessHub, coinHub
}

var addrA0 = dispenser.Address{Row: 'A', Col: '0'}

func TestVendHappyPath(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateIdle}
	o, cashlessHub, _ := newTestOrchestrator(d, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cashlessHub.Publish(cashless.Event{Kind: cashless.EventVendApproved, Amount: 100})
	}()

	outcome := o.Vend(context.Background(), addrA0, 100)
	require.Equal(t, OutcomeOk, outcome)
	require.True(t, d.wasDispensed())
	require.True(t, c.vendOk)
}

func TestVendInvalidAddress(t *testing.T) {
	d := &fakeDispenser{preFlightErr: dispenser.ErrInvalidAddress}
	c := &fakeCashless{state: cashless.StateIdle}
	o, _, _ := newTestOrchestrator(d, c)

	outcome := o.Vend(context.Background(), dispenser.Address{Row: '@', Col: ':'}, 100)
	require.Equal(t, OutcomeInvalidAddress, outcome)
	require.False(t, d.wasDispensed())
	require.False(t, c.started)
}

func TestVendOneOrNoCansLeft(t *testing.T) {
	d := &fakeDispenser{preFlightErr: dispenser.ErrOneOrNoCansLeft}
	c := &fakeCashless{state: cashless.StateIdle}
	o, _, _ := newTestOrchestrator(d, c)

	outcome := o.Vend(context.Background(), dispenser.Address{Row: 'F', Col: '0'}, 100)
	require.Equal(t, OutcomeOneOrNoCansLeft, outcome)
	require.False(t, c.started, "payment must never be requested when pre-flight fails")
}

func TestVendPaymentTimeout(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateIdle}
	o, _, _ := newTestOrchestrator(d, c)

	outcome := o.Vend(context.Background(), addrA0, 150)
	require.Equal(t, OutcomePaymentFailed, outcome)
	require.False(t, d.wasDispensed())
	require.Equal(t, 1, c.cancelCount())
}

func TestVendPaymentDenied(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateIdle}
	o, cashlessHub, _ := newTestOrchestrator(d, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cashlessHub.Publish(cashless.Event{Kind: cashless.EventVendDenied})
	}()

	outcome := o.Vend(context.Background(), addrA0, 150)
	require.Equal(t, OutcomePaymentFailed, outcome)
	require.False(t, d.wasDispensed())
}

func TestVendMotorJamAfterApproval(t *testing.T) {
	d := &fakeDispenser{dispenseErr: dispenser.ErrMotorStuckHome}
	c := &fakeCashless{state: cashless.StateIdle}
	o, cashlessHub, _ := newTestOrchestrator(d, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cashlessHub.Publish(cashless.Event{Kind: cashless.EventVendApproved, Amount: 100})
	}()

	outcome := o.Vend(context.Background(), addrA0, 100)
	require.Equal(t, OutcomeMotorStuckHome, outcome)
	require.True(t, c.vendFailed)
}

func TestVendEscrowCancelsDuringAuthorization(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateIdle}
	o, _, coinHub := newTestOrchestrator(d, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		coinHub.Publish(coin.Event{Kind: coin.KindStatus, Status: coin.EventEscrowPressed})
	}()

	outcome := o.Vend(context.Background(), addrA0, 100)
	require.Equal(t, OutcomeCancelled, outcome)
	require.False(t, d.wasDispensed())
	require.Equal(t, 1, c.cancelCount())
}

func TestVendReaderAbsentFailsFast(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateAbsent}
	o, _, _ := newTestOrchestrator(d, c)

	start := time.Now()
	outcome := o.Vend(context.Background(), addrA0, 100)
	require.Equal(t, OutcomePaymentFailed, outcome)
	require.Less(t, time.Since(start), o.authDeadline)
	require.False(t, c.started)
}

func TestVendApprovedWrongAmountFails(t *testing.T) {
	d := &fakeDispenser{}
	c := &fakeCashless{state: cashless.StateIdle}
	o, cashlessHub, _ := newTestOrchestrator(d, c)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cashlessHub.Publish(cashless.Event{Kind: cashless.EventVendApproved, Amount: 50})
	}()

	outcome := o.Vend(context.Background(), addrA0, 100)
	require.Equal(t, OutcomePaymentFailed, outcome)
	require.False(t, d.wasDispensed())
	require.Equal(t, 1, c.cancelCount())
}
