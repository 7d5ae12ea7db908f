package coin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/hal/mdb"
)

type symbol struct {
	b    byte
	mode bool
}

func replyFrame(data ...byte) []symbol {
	var chk byte
	var out []symbol
	for _, d := range data {
		out = append(out, symbol{d, false})
		chk += d
	}
	return append(out, symbol{chk, true})
}

// fakePort is an mdb.NinthBitPort test double that hands out a queue of
// scripted reply frames (one per Transact call, in order), falling back to
// defaultReply once the queue is drained, or failing every Transact if
// broken is set — standing in for an absent/unplugged peripheral.
type fakePort struct {
	mu           sync.Mutex
	frames       [][]byte
	defaultReply []byte
	broken       bool
	cur          []symbol
}

func (p *fakePort) TxByte(b byte, mode bool) {}

func (p *fakePort) RxByte(timeout time.Duration) (byte, bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken {
		return 0, false, false
	}

	if len(p.cur) == 0 {
		data := p.defaultReply
		if len(p.frames) > 0 {
			data = p.frames[0]
			p.frames = p.frames[1:]
		}
		p.cur = replyFrame(data...)
	}

	s := p.cur[0]
	p.cur = p.cur[1:]
	return s.b, s.mode, true
}

type captureSink struct {
	mu   sync.Mutex
	evts []Event
}

func (s *captureSink) Publish(e Event) {
	s.mu.Lock()
	s.evts = append(s.evts, e)
	s.mu.Unlock()
}

func (s *captureSink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.evts...)
}

func TestInitReachesReadyAndDecodesPoll(t *testing.T) {
	port := &fakePort{
		frames: [][]byte{
			{},                       // Reset
			{2, 0x00, 0x00, 5},       // Setup: level 2, scaling factor 5
			{},                       // TubeStatus
			{},                       // CoinTypeEnable(mask=0)
		},
		defaultReply: []byte{0x01, 3}, // poll: slot 1 cashbox, count 3 -> value 15
	}
	bus := mdb.New(port)
	sink := &captureSink{}
	d := New(bus, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return len(sink.events()) > 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	evs := sink.events()
	require.Equal(t, KindCoin, evs[0].Kind)
	require.Equal(t, RoutingCashBox, evs[0].Coin.Routing)
	require.Equal(t, uint16(15), evs[0].Coin.Value)
}

func TestInitFailureStaysAbsentUntilCancelled(t *testing.T) {
	port := &fakePort{broken: true}
	bus := mdb.New(port)
	d := New(bus, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return d.State() == StateAbsent }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit while backed off")
	}
	require.Equal(t, StateAbsent, d.State())
}

func TestSetEnabledSendsCoinTypeMask(t *testing.T) {
	port := &fakePort{}
	bus := mdb.New(port)
	d := New(bus, nil, nil)

	require.NoError(t, d.SetEnabled(true))
	require.NoError(t, d.SetEnabled(false))
}

func TestDispenseCoinsIsUnimplementedNoOp(t *testing.T) {
	port := &fakePort{}
	bus := mdb.New(port)
	d := New(bus, nil, nil)

	require.Equal(t, uint16(0), d.DispenseCoins(50))
}
