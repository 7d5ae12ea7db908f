// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/davidmpye/snackbot/internal/hal/adc"
	"github.com/davidmpye/snackbot/internal/hal/matrix"
	"github.com/davidmpye/snackbot/internal/hal/pin"
)

// idleMDBPort is the internal/hal/mdb.NinthBitPort used when no real PIO
// UART is wired in. It never receives a reply, so the coin and cashless
// tasks time out their init handshake and settle into their normal
// no-peripheral-attached behaviour rather than panicking on a nil port.
// A real board package replaces this with a PIO-driven 9-bit UART; the
// GPIO map and MDB timing in spec §6 are informative only and out of
// scope here.
type idleMDBPort struct{}

func (idleMDBPort) TxByte(b byte, mode bool) {}

func (idleMDBPort) RxByte(timeout time.Duration) (b byte, mode bool, ok bool) {
	return 0, false, false
}

// newMatrixBus wires the dispenser matrix bus to simulated GPIO lines.
// A real board package supplies soc-specific pin.Pin implementations for
// the fixed D0..D7/CLK0..CLK2/OE/CLR lines spec §6 names.
func newMatrixBus() *matrix.Bus {
	var data [8]pin.Pin
	for i := range data {
		data[i] = pin.NewSim()
	}
	var clk [3]pin.Pin
	for i := range clk {
		clk[i] = pin.NewSim()
	}
	return matrix.New(data, clk, pin.NewSim(), pin.NewSim())
}

// chillerADC and heartbeatPin are likewise simulated absent a real board
// package; Counts sits mid-range so the Steinhart-Hart conversion has a
// plausible resistance to work from instead of dividing by zero.
func chillerADC() adc.Channel {
	return &adc.Sim{Counts: 2048}
}

func heartbeatPin() pin.Pin {
	return pin.NewSim()
}

func chillerLEDPin() pin.Pin {
	return pin.NewSim()
}

// simWatchdog stands in for a real watchdog register driver (such as
// soc/nxp/wdog.WDOG in the teacher tree) on a host with no watchdog
// peripheral; it only counts arm/service calls.
type simWatchdog struct {
	armed    int
	serviced int
}

func (w *simWatchdog) EnableTimeout(timeoutMillis int) { w.armed++ }
func (w *simWatchdog) Service(timeoutMillis int)       { w.serviced++ }
