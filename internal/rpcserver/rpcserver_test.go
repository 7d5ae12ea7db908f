package rpcserver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/vend"
)

func coinEventFixture() coin.Event {
	return coin.Event{Kind: coin.KindCoin, Coin: coin.CoinInserted{Slot: 1, Routing: coin.RoutingCashBox, Value: 50}}
}

type fakeDispenser struct {
	status dispenser.Dispenser
	found  bool
}

func (f *fakeDispenser) Status(dispenser.Address) (dispenser.Dispenser, bool) {
	return f.status, f.found
}

type fakeCoin struct {
	mu       sync.Mutex
	enabled  bool
	err      error
	refunded uint16
}

func (f *fakeCoin) SetEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return f.err
}

func (f *fakeCoin) DispenseCoins(uint16) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunded
}

type fakeCashless struct {
	mu        sync.Mutex
	enabled   bool
	started   bool
	cancelled bool
	amount    uint16
	addr      dispenser.Address
}

func (f *fakeCashless) SetEnabled(enabled bool) { f.mu.Lock(); f.enabled = enabled; f.mu.Unlock() }
func (f *fakeCashless) StartTransaction(amount uint16, addr dispenser.Address) {
	f.mu.Lock()
	f.started, f.amount, f.addr = true, amount, addr
	f.mu.Unlock()
}
func (f *fakeCashless) CancelTransaction()              { f.mu.Lock(); f.cancelled = true; f.mu.Unlock() }
func (f *fakeCashless) VendSuccess(dispenser.Address)   {}
func (f *fakeCashless) VendFailed()                     {}

type fakeVend struct {
	outcome vend.Outcome
}

func (f *fakeVend) Vend(context.Context, dispenser.Address, uint16) vend.Outcome {
	return f.outcome
}

func TestHandleDispenseRoundTrips(t *testing.T) {
	v := &fakeVend{outcome: vend.OutcomeOk}
	s := New(&fakeDispenser{}, &fakeCoin{}, &fakeCashless{}, v, nil)

	req := append([]byte{byte(EndpointDispense)}, encodeDispenseRequest(dispenser.Address{Row: 'A', Col: '0'}, 100)...)
	resp := s.HandleRequest(context.Background(), req)

	outcome, err := decodeOutcome(resp)
	require.NoError(t, err)
	require.Equal(t, vend.OutcomeOk, outcome)
}

func TestHandleDispenserStatusFound(t *testing.T) {
	d := &fakeDispenser{found: true, status: dispenser.Dispenser{Kind: dispenser.Can, MotorStatus: dispenser.MotorOk, CanStatus: dispenser.CanLastCan}}
	s := New(d, &fakeCoin{}, &fakeCashless{}, &fakeVend{}, nil)

	req := append([]byte{byte(EndpointDispenserStatus)}, encodeAddress(dispenser.Address{Row: 'F', Col: '0'})...)
	resp := s.HandleRequest(context.Background(), req)

	got, found, err := decodeDispenserStatus(resp)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, dispenser.Can, got.Kind)
	require.Equal(t, dispenser.CanLastCan, got.CanStatus)
}

func TestHandleDispenserStatusNotFound(t *testing.T) {
	s := New(&fakeDispenser{found: false}, &fakeCoin{}, &fakeCashless{}, &fakeVend{}, nil)

	req := append([]byte{byte(EndpointDispenserStatus)}, encodeAddress(dispenser.Address{Row: '@', Col: ':'})...)
	resp := s.HandleRequest(context.Background(), req)

	_, found, err := decodeDispenserStatus(resp)
	require.NoError(t, err)
	require.False(t, found)
}

func TestHandleSetCoinAcceptorEnabled(t *testing.T) {
	c := &fakeCoin{}
	s := New(&fakeDispenser{}, c, &fakeCashless{}, &fakeVend{}, nil)

	resp := s.HandleRequest(context.Background(), []byte{byte(EndpointSetCoinAcceptorEnabled), 1})
	require.Empty(t, resp)
	require.True(t, c.enabled)
}

func TestHandleDispenseCoins(t *testing.T) {
	c := &fakeCoin{refunded: 25}
	s := New(&fakeDispenser{}, c, &fakeCashless{}, &fakeVend{}, nil)

	req := append([]byte{byte(EndpointDispenseCoins)}, encodeDispenseCoinsRequest(50)...)
	resp := s.HandleRequest(context.Background(), req)

	refunded, err := decodeAmountRefunded(resp)
	require.NoError(t, err)
	require.Equal(t, uint16(25), refunded)
}

func TestHandleCashlessCommandStartTransaction(t *testing.T) {
	cl := &fakeCashless{}
	s := New(&fakeDispenser{}, &fakeCoin{}, cl, &fakeVend{}, nil)

	addr := dispenser.Address{Row: 'B', Col: '2'}
	payload := []byte{byte(cashlessCmdStartTransaction), 0x00, 0x64, addr.Row, addr.Col}
	req := append([]byte{byte(EndpointCashlessCommand)}, payload...)

	s.HandleRequest(context.Background(), req)
	require.True(t, cl.started)
	require.Equal(t, uint16(100), cl.amount)
	require.Equal(t, addr, cl.addr)
}

func TestUnknownEndpointReturnsNil(t *testing.T) {
	s := New(&fakeDispenser{}, &fakeCoin{}, &fakeCashless{}, &fakeVend{}, nil)
	resp := s.HandleRequest(context.Background(), []byte{0xFF})
	require.Nil(t, resp)
}

func TestPublishCoinInsertedReachesEventsChannel(t *testing.T) {
	s := New(&fakeDispenser{}, &fakeCoin{}, &fakeCashless{}, &fakeVend{}, nil)
	sink := s.CoinSink()

	sink.Publish(coinEventFixture())

	select {
	case frame := <-s.Events():
		require.Equal(t, byte(TopicCoinInserted), frame[0])
	default:
		t.Fatal("expected a queued event frame")
	}
}
