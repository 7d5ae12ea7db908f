// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package matrix drives the dispenser matrix's shared eight-line bus: three
// 8-bit flip-flops (U2, U3, U4) clocked from a common open-drain data bus,
// an output-enable line that switches the bus between driving latches and
// sensing motor-home/can-present inputs, and a flip-flop clear line pulsed
// once at power-on.
//
// This is C1 in the controller design: it knows nothing about which
// (row, col) address maps to which bit — that is internal/dispenser's job
// (C2) — it only knows how to get eight bits of state onto (or off of) the
// shared bus safely.
package matrix

import (
	"sync/atomic"
	"time"

	"github.com/davidmpye/snackbot/internal/hal/bits"
	"github.com/davidmpye/snackbot/internal/hal/pin"
)

// Timing constants, p4.1 of the design: all bus idle-high, CLK pulses at
// least 1us per phase, OE settling time at least 20us either side of a
// direction change, a 50us dwell before and during the power-on CLR pulse.
const (
	clkPulse    = 1 * time.Microsecond
	oeSettle    = 20 * time.Microsecond
	powerOnIdle = 50 * time.Microsecond
	clrPulse    = 50 * time.Microsecond
)

// compressorBit is where the shared compressor relay flag lands in U2,
// ORed into every latch write regardless of what the dispenser logic asked
// for (p4.1: "Each write always includes the compressor bit").
const compressorBit = 4

// Bus is the matrix GPIO driver. Callers obtain one via New, call PowerOn
// once, and thereafter WriteLatches/ReadSensorBit to drive dispensers and
// sense their home/can switches. Bus itself holds no transaction-level
// lock: internal/dispenser (C2) serializes access for the duration of a
// whole dispense cycle, not Bus.
type Bus struct {
	data [8]pin.Pin
	clk  [3]pin.Pin
	oe   pin.Pin
	clr  pin.Pin

	compressorOn atomic.Bool
}

// New builds a Bus from its eight data lines (D0..D7), three latch clocks
// (CLK0..CLK2), the shared output-enable line and the flip-flop clear line.
func New(data [8]pin.Pin, clk [3]pin.Pin, oe, clr pin.Pin) *Bus {
	return &Bus{data: data, clk: clk, oe: oe, clr: clr}
}

// PowerOn runs the one-time reset sequence (I4): dwell, then pulse CLR,
// leaving all three latches at zero. Must be called before any
// WriteLatches/ReadSensorBit.
func (b *Bus) PowerOn() {
	for _, p := range b.data {
		p.Out()
		p.High()
	}
	for _, c := range b.clk {
		c.High()
	}
	b.oe.High()
	b.clr.High()

	time.Sleep(powerOnIdle)
	b.clr.Low()
	time.Sleep(clrPulse)
	b.clr.High()
}

// SetCompressor sets the shared compressor relay flag. It is written by
// internal/chiller and read by every subsequent WriteLatches; no lock is
// needed since it is a single atomic bool (p9, "Shared compressor bit").
func (b *Bus) SetCompressor(on bool) {
	b.compressorOn.Store(on)
}

// WriteLatches drives u2, u3 and u4 onto U2/U3/U4 in turn, ORing the
// current compressor flag into U2 bit 4 on every write. Bus direction is
// left in drive-out mode (OE high) on return, satisfying I3.
func (b *Bus) WriteLatches(u2, u3, u4 byte) {
	u2 = bits.SetTo8(u2, compressorBit, b.compressorOn.Load())

	b.oe.High()

	bytes := [3]byte{u2, u3, u4}
	for i, byteVal := range bytes {
		b.driveByte(byteVal)
		b.clk[i].Low()
		time.Sleep(clkPulse)
		b.clk[i].High()
		time.Sleep(clkPulse)
	}

	b.releaseBus()
}

// Stop writes all-zero latches while preserving the compressor flag,
// de-energizing every motor (I1).
func (b *Bus) Stop() {
	b.WriteLatches(0, 0, 0)
}

func (b *Bus) driveByte(v byte) {
	for i, p := range b.data {
		if v&(1<<uint(i)) == 0 {
			p.Low()
		} else {
			p.High()
		}
	}
}

func (b *Bus) releaseBus() {
	for _, p := range b.data {
		p.High()
	}
}

// ReadSensorBit samples data line index with a single sense pulse: switch
// to read mode, settle, sample, switch back to drive mode (I3). Used for
// the one-shot pre-flight and status-query pulses.
func (b *Bus) ReadSensorBit(index int) bool {
	b.BeginSense()
	value := b.SenseBit(index)
	b.EndSense()
	return value
}

// BeginSense switches the bus to sense mode (OE low) and leaves it there,
// for callers that need to sample a line repeatedly across a bounded wait
// (internal/dispenser's leave-home/return-home polling) without paying the
// settle time on every sample. Callers must call EndSense when done.
func (b *Bus) BeginSense() {
	b.oe.Low()
	time.Sleep(oeSettle)

	for _, p := range b.data {
		p.In()
	}
}

// SenseBit samples data line index. Valid only between BeginSense and
// EndSense.
func (b *Bus) SenseBit(index int) bool {
	return b.data[index].Value()
}

// EndSense restores drive mode (I3). Must be called to balance every
// BeginSense.
func (b *Bus) EndSense() {
	for _, p := range b.data {
		p.Out()
	}
	b.oe.High()
	time.Sleep(oeSettle)
}
