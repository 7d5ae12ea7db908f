// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dispenser implements C2: the translation from a (row, col)
// dispenser address to the latch bytes that drive it, and the dispense
// cycle state machine built on top of internal/hal/matrix (C1).
package dispenser

import (
	"fmt"

	"github.com/davidmpye/snackbot/internal/hal/bits"
)

// Address identifies one dispenser mechanism by its row letter and column
// digit, exactly as silkscreened on the machine's fascia.
type Address struct {
	Row byte
	Col byte
}

// String renders the address the way the fascia does, e.g. "A0", "F3".
func (a Address) String() string {
	return fmt.Sprintf("%c%c", a.Row, a.Col)
}

// Kind distinguishes the two physical dispenser mechanisms wired on this
// machine.
type Kind int

const (
	Spiral Kind = iota
	Can
)

func (k Kind) String() string {
	if k == Can {
		return "can"
	}
	return "spiral"
}

// wiring describes how one logical address maps onto the shared matrix bus:
// which flip-flop byte and bit drives its motor, and which data line senses
// its home switch (and, for can rows, its can-present switch).
type wiring struct {
	kind      Kind
	u2, u3, u4 byte
	homeBit    int
	canBit     int // -1 if not a can row
}

// table enumerates the 24 dispensers physically wired on this machine: rows
// A, B and C are spirals (A/B on even columns only, C on every column), rows
// E and F are cans. Rows D and G are part of the matrix's addressable range
// but are not populated on this machine.
var table map[Address]wiring

func init() {
	table = make(map[Address]wiring)

	for _, row := range []byte{'A', 'B'} {
		for _, col := range []byte{'0', '2', '4', '6'} {
			addr := Address{row, col}
			table[addr] = wireOf(addr)
		}
	}
	for col := byte('0'); col <= '7'; col++ {
		addr := Address{'C', col}
		table[addr] = wireOf(addr)
	}
	for _, row := range []byte{'E', 'F'} {
		for col := byte('0'); col <= '3'; col++ {
			addr := Address{row, col}
			table[addr] = wireOf(addr)
		}
	}
}

// wireOf computes the latch-byte mapping for addr per the design table in
// spec §4.2. It is defined for any syntactically valid address (letter
// 'A'-'G', digit '0'-'9'); whether the address is actually populated on
// this machine is decided by the (separately built) table above.
func wireOf(addr Address) wiring {
	rowIndex := int(addr.Row - 'A')
	colLogical := int(addr.Col - '0')

	var colWired int
	kind := Spiral
	switch addr.Row {
	case 'E', 'F':
		colWired = colLogical * 2
		kind = Can
	default:
		colWired = colLogical
	}

	evenOddBit := bits.Get8(byte(colWired), 0)
	evenOdd := 0
	if evenOddBit {
		evenOdd = 1
	}
	colPair := colWired / 2

	w := wiring{kind: kind, canBit: -1}

	switch addr.Row {
	case 'A', 'B', 'C', 'D':
		w.u4 = 1 << uint(rowIndex*2+evenOdd)
		w.u3 = 1 << uint(colPair)
		if !evenOddBit {
			w.homeBit = 0
		} else {
			w.homeBit = 1
		}
	case 'E', 'F':
		w.u2 = 1 << uint((rowIndex-4)*2+evenOdd)
		w.u3 = 1 << uint(colPair)
		if addr.Row == 'E' {
			w.homeBit = 4
			w.canBit = 5
		} else {
			w.homeBit = 6
			w.canBit = 7
		}
	case 'G':
		w.u3 = (1 << 5) | (1 << uint(colPair))
		if !evenOddBit {
			w.homeBit = 0
		} else {
			w.homeBit = 1
		}
	}

	return w
}

// valid reports whether addr is both syntactically well-formed and present
// on this machine's fixed wiring table.
func valid(addr Address) (wiring, bool) {
	if addr.Row < 'A' || addr.Row > 'G' || addr.Col < '0' || addr.Col > '9' {
		return wiring{}, false
	}
	w, ok := table[addr]
	return w, ok
}
