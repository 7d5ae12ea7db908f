// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mdbproto holds the wire-level constants of the Multi-Drop Bus
// (MDB) protocol shared by internal/hal/mdb (the transport), internal/coin
// and internal/cashless (the peripheral tasks): peripheral addresses,
// per-peripheral command and sub-command codes, and the checksum used on
// every frame. None of it is specific to this machine's wiring — it is the
// wire vocabulary defined by the MDB/ICP v4.2 specification for the two
// peripheral classes this controller talks to.
package mdbproto

// Peripheral addresses (p100, MDB/ICP v4.2 table 3): the 5-bit address
// field carried in the top bits of the first (MODE=1) byte of a
// master-to-peripheral frame.
const (
	AddrCoinAcceptor = 0x08
	AddrCashless     = 0x10
)

// ACK and NAK are master-to-peripheral single-byte replies (MODE=1) that
// are not addressed — they acknowledge or request retransmission of the
// peripheral's preceding reply frame.
const (
	Ack byte = 0x00
	Nak byte = 0xFF
)

// Coin acceptor commands (MDB/ICP v4.2 §6.2). Command is ORed into the
// low 3 bits of the address byte.
const (
	CoinReset      = 0x00
	CoinSetup      = 0x01
	CoinTubeStatus = 0x02
	CoinPoll       = 0x03
	CoinCoinType   = 0x04
	CoinExpansion  = 0x07
)

// Cashless device commands (MDB/ICP v4.2 §7.2).
const (
	CashlessReset           = 0x00
	CashlessSetup           = 0x01
	CashlessPoll            = 0x02
	CashlessVend            = 0x03
	CashlessSessionComplete = 0x04
	CashlessExpansion       = 0x07
)

// Cashless Vend sub-commands, carried as the first data byte of a
// CashlessVend frame.
const (
	VendRequest = 0x00
	VendCancel  = 0x01
	VendSuccess = 0x02
	VendFailure = 0x04
)

// AddressByte packs a peripheral address and command into the single
// MODE=1 byte that opens every master-to-peripheral frame.
func AddressByte(addr, command byte) byte {
	return addr | command
}

// Checksum computes the modulo-256 sum of frame, the MDB CHK trailer
// carried as the final MODE=1 byte of both directions of a transaction.
func Checksum(frame []byte) byte {
	var sum byte
	for _, b := range frame {
		sum += b
	}
	return sum
}
