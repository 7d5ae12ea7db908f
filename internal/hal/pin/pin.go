// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pin defines the GPIO line abstraction shared by the matrix bus
// (internal/hal/matrix), the ADC front-end (internal/hal/adc) and the
// watchdog heartbeat (internal/watchdog). It plays the role the teacher's
// soc/nxp/gpio.Pin plays for a single memory-mapped SoC: a small, directly
// testable handle to one electrical line, except here the line is backed by
// whatever the board package wires in rather than a fixed register offset.
package pin

// Pin is a single GPIO line. Bus lines on this controller are open-drain
// and bidirectional: Out/In switch direction, High/Low drive a level, and
// Value samples the current level regardless of direction.
type Pin interface {
	// Out configures the pin to drive its line.
	Out()
	// In configures the pin to sense its line without driving it.
	In()
	// High drives (or, while In, requests) a logic-high level.
	High()
	// Low drives a logic-low level.
	Low()
	// Value samples the current line level.
	Value() bool
}

// Sim is an in-memory Pin for hosts with no real hardware attached: unit
// tests, and the firmware binary when built without a board driver wired
// in. It models a genuine open-drain line with a pull-up, the way the
// matrix bus's shared lines are wired: the line reads high unless either
// side — this end via Low, or whatever a test harness impersonates on the
// other end via Drive — is actively pulling it low. Driving High never
// overrides an externally-asserted low, matching the wired-AND behaviour
// the real bus depends on (a closed home switch must still read low even
// while this end idles its output high).
type Sim struct {
	driving    bool
	weDriveLow bool
	extLow     bool
}

// NewSim returns a Sim pin idling high, matching the bus's power-on state.
func NewSim() *Sim {
	return &Sim{driving: true}
}

func (p *Sim) Out() { p.driving = true }
func (p *Sim) In()  { p.driving = false }

func (p *Sim) High() { p.weDriveLow = false }
func (p *Sim) Low()  { p.weDriveLow = true }

func (p *Sim) Value() bool { return !p.weDriveLow && !p.extLow }

// Drive is a test/simulation hook letting a harness impersonate whatever is
// wired to the other end of the line (a sensor, a peer latch) by asserting
// or releasing an external low, independent of this end's own drive state.
func (p *Sim) Drive(level bool) { p.extLow = !level }
