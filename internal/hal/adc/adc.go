// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package adc defines the single-channel analog input abstraction
// internal/chiller reads the thermistor divider through. It plays the
// same role here pin.Pin plays for GPIO lines: a small interface standing
// in for a board-specific 12-bit ADC peripheral.
package adc

// Channel samples one analog input, returning a 12-bit raw conversion
// count (0-4095).
type Channel interface {
	Read() (uint16, error)
}

// Sim is an in-memory Channel for tests and hosts with no ADC wired in.
// If Sequence is non-empty, successive Read calls pop values off its
// front (and hold the last value once exhausted); otherwise every Read
// returns Counts.
type Sim struct {
	Counts   uint16
	Sequence []uint16
}

func (s *Sim) Read() (uint16, error) {
	if len(s.Sequence) == 0 {
		return s.Counts, nil
	}
	v := s.Sequence[0]
	if len(s.Sequence) > 1 {
		s.Sequence = s.Sequence[1:]
	}
	return v, nil
}
