package cashless

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/dispenser"
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

// fakePort scripts one reply frame per Transact call, falling back to
// defaultReply once exhausted, or simulating a dead bus when broken.
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

func (p *fakePort) setDefault(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultReply = data
	p.cur = nil
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

func TestInitReachesIdleAndPublishesVendApproved(t *testing.T) {
	port := &fakePort{
		frames: [][]byte{{}, {}, {}}, // Reset, Setup, Expansion
	}
	bus := mdb.New(port)
	sink := &captureSink{}
	d := New(bus, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return d.State() == StateIdle }, time.Second, 5*time.Millisecond)

	// byte 0x01 (bit7 clear, record tag) + amount 0x00,0x32 = 50
	port.setDefault([]byte{recordVendApproved, 0x00, 0x32})

	require.Eventually(t, func() bool { return len(sink.events()) > 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	evs := sink.events()
	require.Equal(t, EventVendApproved, evs[0].Kind)
	require.Equal(t, uint16(50), evs[0].Amount)
	require.Equal(t, StateApproved, d.State())
}

func TestVendDeniedEndsSessionBackToEnabled(t *testing.T) {
	port := &fakePort{frames: [][]byte{{}, {}, {}}}
	bus := mdb.New(port)
	sink := &captureSink{}
	d := New(bus, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return d.State() == StateIdle }, time.Second, 5*time.Millisecond)

	port.setDefault([]byte{0x80 | statusVendDenied})

	require.Eventually(t, func() bool { return len(sink.events()) > 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, EventVendDenied, sink.events()[0].Kind)
	require.Eventually(t, func() bool { return d.State() == StateEnabled }, time.Second, 5*time.Millisecond)
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
}

func TestCommandsAreNonBlockingAndDriveState(t *testing.T) {
	port := &fakePort{frames: [][]byte{{}, {}, {}}}
	bus := mdb.New(port)
	d := New(bus, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return d.State() == StateIdle }, time.Second, 5*time.Millisecond)

	d.SetEnabled(true)
	require.Eventually(t, func() bool { return d.State() == StateEnabled }, time.Second, 5*time.Millisecond)

	d.StartTransaction(125, dispenser.Address{Row: 'A', Col: '0'})
	require.Eventually(t, func() bool { return d.State() == StateStarting }, time.Second, 5*time.Millisecond)
}
