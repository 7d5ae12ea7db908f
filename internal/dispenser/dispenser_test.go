package dispenser

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/hal/matrix"
	"github.com/davidmpye/snackbot/internal/hal/pin"
)

// testHarness builds a Driver over a matrix.Bus backed entirely by pin.Sim
// lines, plus direct access to the sense-line sims so tests can impersonate
// a motor's home/can-present switches.
type testHarness struct {
	driver *Driver
	sims   [8]*pin.Sim
}

func newHarness() *testHarness {
	var data [8]pin.Pin
	var sims [8]*pin.Sim
	for i := range data {
		s := pin.NewSim()
		sims[i] = s
		data[i] = s
	}
	var clk [3]pin.Pin
	for i := range clk {
		clk[i] = pin.NewSim()
	}
	bus := matrix.New(data, clk, pin.NewSim(), pin.NewSim())
	bus.PowerOn()

	d := New(bus, nil).withTimings(50*time.Millisecond, 10*time.Millisecond, 80*time.Millisecond, time.Millisecond)
	return &testHarness{driver: d, sims: sims}
}

// drive sets the level of a sense line, e.g. a wiring's home switch.
func (h *testHarness) drive(bit int, level bool) {
	h.sims[bit].Drive(level)
}

func TestWireOfAndValid(t *testing.T) {
	cases := []struct {
		addr    Address
		present bool
	}{
		{Address{'A', '0'}, true},
		{Address{'A', '1'}, false}, // A/B only wired on even columns
		{Address{'C', '7'}, true},
		{Address{'E', '0'}, true},
		{Address{'F', '3'}, true},
		{Address{'D', '0'}, false}, // in range but not populated
		{Address{'G', '0'}, false},
		{Address{'Z', '0'}, false}, // out of letter range
		{Address{'A', 'X'}, false}, // out of digit range
	}
	for _, c := range cases {
		_, ok := valid(c.addr)
		require.Equal(t, c.present, ok, "address %s", c.addr)
	}
}

func TestStatusUnknownAddress(t *testing.T) {
	h := newHarness()
	_, ok := h.driver.Status(Address{'D', '0'})
	require.False(t, ok)
}

func TestStatusSpiralHomeAndNotHome(t *testing.T) {
	h := newHarness()
	w := wireOf(Address{'A', '0'})

	h.drive(w.homeBit, true)
	s, ok := h.driver.Status(Address{'A', '0'})
	require.True(t, ok)
	require.Equal(t, MotorOk, s.MotorStatus)
	require.Equal(t, Spiral, s.Kind)
	require.Equal(t, CanNone, s.CanStatus)

	h.drive(w.homeBit, false)
	s, ok = h.driver.Status(Address{'A', '0'})
	require.True(t, ok)
	require.Equal(t, MotorNotHome, s.MotorStatus)
}

func TestStatusCanLastCan(t *testing.T) {
	h := newHarness()
	w := wireOf(Address{'E', '0'})
	h.drive(w.homeBit, true)

	h.drive(w.canBit, true)
	s, ok := h.driver.Status(Address{'E', '0'})
	require.True(t, ok)
	require.Equal(t, Can, s.Kind)
	require.Equal(t, CanOk, s.CanStatus)

	h.drive(w.canBit, false)
	s, ok = h.driver.Status(Address{'E', '0'})
	require.True(t, ok)
	require.Equal(t, CanLastCan, s.CanStatus)
}

func TestDispenseInvalidAddress(t *testing.T) {
	h := newHarness()
	err := h.driver.Dispense(Address{'D', '0'}, Checked)
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDispenseCheckedMotorNotHome(t *testing.T) {
	h := newHarness()
	w := wireOf(Address{'A', '0'})
	h.drive(w.homeBit, false)

	err := h.driver.Dispense(Address{'A', '0'}, Checked)
	require.ErrorIs(t, err, ErrMotorNotHome)
}

func TestDispenseCheckedOneOrNoCansLeft(t *testing.T) {
	h := newHarness()
	w := wireOf(Address{'F', '1'})
	h.drive(w.homeBit, true)
	h.drive(w.canBit, false)

	err := h.driver.Dispense(Address{'F', '1'}, Checked)
	require.ErrorIs(t, err, ErrOneOrNoCansLeft)
}

func TestDispenseSuccess(t *testing.T) {
	h := newHarness()
	addr := Address{'A', '0'}
	w := wireOf(addr)
	h.drive(w.homeBit, true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// leave home shortly after the cycle starts, return home well
		// within the (shortened) deadlines.
		time.Sleep(5 * time.Millisecond)
		h.drive(w.homeBit, false)
		time.Sleep(20 * time.Millisecond)
		h.drive(w.homeBit, true)
	}()

	err := h.driver.Dispense(addr, Checked)
	wg.Wait()
	require.NoError(t, err)
}

func TestDispenseMotorStuckHome(t *testing.T) {
	h := newHarness()
	addr := Address{'A', '0'}
	w := wireOf(addr)
	h.drive(w.homeBit, true) // never leaves

	err := h.driver.Dispense(addr, Checked)
	require.ErrorIs(t, err, ErrMotorStuckHome)
}

func TestDispenseMotorStuckNotHome(t *testing.T) {
	h := newHarness()
	addr := Address{'A', '0'}
	w := wireOf(addr)
	h.drive(w.homeBit, true)

	go func() {
		time.Sleep(5 * time.Millisecond)
		h.drive(w.homeBit, false) // leaves, never returns
	}()

	err := h.driver.Dispense(addr, Checked)
	require.ErrorIs(t, err, ErrMotorStuckNotHome)
}

func TestDispenseForcedSkipsPreflight(t *testing.T) {
	h := newHarness()
	addr := Address{'A', '0'}
	w := wireOf(addr)
	h.drive(w.homeBit, false) // would fail a Checked pre-flight

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// the home switch already reads not-home, so run()'s leave-home
		// wait is satisfied immediately; after the debounce it waits for
		// the motor to return home.
		time.Sleep(20 * time.Millisecond)
		h.drive(w.homeBit, true)
	}()

	err := h.driver.Dispense(addr, Forced)
	wg.Wait()
	require.NoError(t, err)
}
