package chiller

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidmpye/snackbot/internal/hal/adc"
	"github.com/davidmpye/snackbot/internal/hal/matrix"
	"github.com/davidmpye/snackbot/internal/hal/pin"
)

func newTestBus() *matrix.Bus {
	var data [8]pin.Pin
	for i := range data {
		data[i] = pin.NewSim()
	}
	var clk [3]pin.Pin
	for i := range clk {
		clk[i] = pin.NewSim()
	}
	bus := matrix.New(data, clk, pin.NewSim(), pin.NewSim())
	bus.PowerOn()
	return bus
}

func TestEvaluateTurnsCompressorOnAboveSetpoint(t *testing.T) {
	bus := newTestBus()
	led := pin.NewSim()
	d := New(&adc.Sim{}, bus, led, 8.0, nil)

	d.evaluate(10.0) // well above setpoint+0.5

	require.True(t, d.chillerOn)
}

func TestEvaluateHoldsBetweenCommits(t *testing.T) {
	bus := newTestBus()
	d := New(&adc.Sim{}, bus, nil, 8.0, nil)

	d.evaluate(10.0)
	require.True(t, d.chillerOn)

	// Even though the temperature has now dropped well under setpoint, a
	// new decision is committed only once every minCycleCount calls.
	for i := 0; i < minCycleCount-1; i++ {
		d.evaluate(2.0)
		require.True(t, d.chillerOn, "state should hold mid-cycle")
	}
	d.evaluate(2.0)
	require.False(t, d.chillerOn)
}

func TestMeasureAveragesReadings(t *testing.T) {
	bus := newTestBus()
	sim := &adc.Sim{Sequence: []uint16{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000}}
	d := New(sim, bus, nil, 8.0, nil)

	avg, err := d.measure()
	require.NoError(t, err)
	require.Equal(t, uint16(550), avg)
}

func TestSteinhartTempRejectsNonPositiveResistance(t *testing.T) {
	_, err := steinhartTemp(0)
	require.Error(t, err)
}
