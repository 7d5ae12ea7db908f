// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mdb implements C3: a 9-bit Multi-Drop Bus transport on top of a
// 9th-bit-capable serial port. It knows the MDB frame shape (address byte,
// payload, checksum, ACK/NAK) but nothing about what any particular
// peripheral's commands mean — that is internal/mdbproto's vocabulary and
// internal/coin / internal/cashless's job.
package mdb

import (
	"errors"
	"sync"
	"time"

	"github.com/davidmpye/snackbot/internal/mdbproto"
)

// Timeouts, spec §4.3/§9.
const (
	interByteTimeout  = 1 * time.Millisecond
	interFrameTimeout = 5 * time.Millisecond
	maxRetries        = 2
)

// BusError classifies a failed transact() call.
type BusError int

const (
	ErrNone BusError = iota
	ErrTimeout
	ErrChecksumMismatch
	ErrNoReply
)

func (e BusError) Error() string {
	switch e {
	case ErrTimeout:
		return "mdb: inter-byte/inter-frame timeout"
	case ErrChecksumMismatch:
		return "mdb: reply checksum mismatch"
	case ErrNoReply:
		return "mdb: no reply after retries"
	default:
		return "mdb: no error"
	}
}

var errBadReply = errors.New("mdb: malformed reply")

// NinthBitPort is the 9-bit-capable UART this driver is built on: a
// PIO/timer-driven bit engine on real hardware (out of scope here, per
// spec §4.3 "users never see that"), a software stand-in in tests. TxByte
// sends one 9-bit symbol; RxByte receives one, blocking at most timeout
// before reporting ok=false.
type NinthBitPort interface {
	TxByte(b byte, mode bool)
	RxByte(timeout time.Duration) (b byte, mode bool, ok bool)
}

// Bus is the MDB transport: process-wide singleton, exclusive access
// serialized through mu for the duration of one Transact call (spec's
// MdbBusHandle, I2). It keeps no peripheral state.
type Bus struct {
	port NinthBitPort
	mu   sync.Mutex
}

// New wraps port as an MDB Bus.
func New(port NinthBitPort) *Bus {
	return &Bus{port: port}
}

// Transact sends one MDB frame addressed to addr with the given command
// and payload, receives and validates one reply, ACKs it, and returns the
// reply's data bytes. It retries on a bad or missing reply up to
// maxRetries times before giving up with the last attempt's error
// (ErrNoReply for a missing reply, ErrChecksumMismatch for a corrupt one).
// The bus lock is held
// for the full call; callers must never call Transact while holding any
// other lock (in particular the dispenser driver's).
func (b *Bus) Transact(addr byte, command byte, payload []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		reply, err := b.transactOnce(addr, command, payload)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (b *Bus) transactOnce(addr, command byte, payload []byte) ([]byte, error) {
	b.sendFrame(addr, command, payload)

	reply, ok := b.receiveFrame()
	if !ok {
		return nil, ErrNoReply
	}

	data, err := validateReply(reply)
	if err != nil {
		b.port.TxByte(mdbproto.Nak, true)
		return nil, err
	}

	b.port.TxByte(mdbproto.Ack, true)
	return data, nil
}

func (b *Bus) sendFrame(addr, command byte, payload []byte) {
	b.port.TxByte(mdbproto.AddressByte(addr, command), true)

	chk := mdbproto.Checksum([]byte{mdbproto.AddressByte(addr, command)})
	for _, d := range payload {
		b.port.TxByte(d, false)
		chk += d
	}
	b.port.TxByte(chk, true)
}

// receiveFrame reads MODE=0 data bytes until a MODE=1 checksum byte
// arrives, honoring the inter-byte and inter-frame timeouts. ok is false
// if no byte at all arrived within the inter-frame timeout, or a
// subsequent byte was late within the inter-byte timeout.
func (b *Bus) receiveFrame() (frame []byte, ok bool) {
	first, mode, got := b.port.RxByte(interFrameTimeout)
	if !got {
		return nil, false
	}
	frame = append(frame, first)
	if mode {
		return frame, true
	}

	for {
		next, mode, got := b.port.RxByte(interByteTimeout)
		if !got {
			return nil, false
		}
		frame = append(frame, next)
		if mode {
			return frame, true
		}
	}
}

// validateReply splits a received frame into its data payload, checking
// the trailing checksum byte against the rest of the frame.
func validateReply(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errBadReply
	}
	data, chk := frame[:len(frame)-1], frame[len(frame)-1]
	if mdbproto.Checksum(data) != chk {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}
