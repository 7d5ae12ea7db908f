// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rpcserver

import (
	"encoding/binary"
	"fmt"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/vend"
)

// Endpoint identifies a request/response handler. The byte value is the
// first byte of every request frame; spec §6 calls the rest of the framing
// opaque, so this is this driver's own one-byte dispatch tag, not a
// mandated wire format.
type Endpoint byte

const (
	EndpointDispense Endpoint = iota + 1
	EndpointDispenserStatus
	EndpointSetCoinAcceptorEnabled
	EndpointCashlessCommand
	EndpointDispenseCoins
)

// Topic identifies a publish-only event frame, tagged the same way as
// Endpoint.
type Topic byte

const (
	TopicCoinInserted Topic = iota + 1
	TopicCoinStatus
	TopicCashlessEvent
)

func encodeAddress(addr dispenser.Address) []byte {
	return []byte{addr.Row, addr.Col}
}

func decodeAddress(b []byte) (dispenser.Address, error) {
	if len(b) < 2 {
		return dispenser.Address{}, fmt.Errorf("rpcserver: short address frame (%d bytes)", len(b))
	}
	return dispenser.Address{Row: b[0], Col: b[1]}, nil
}

func encodeDispenseRequest(addr dispenser.Address, price uint16) []byte {
	buf := make([]byte, 4)
	buf[0], buf[1] = addr.Row, addr.Col
	binary.BigEndian.PutUint16(buf[2:], price)
	return buf
}

func decodeDispenseRequest(b []byte) (dispenser.Address, uint16, error) {
	if len(b) < 4 {
		return dispenser.Address{}, 0, fmt.Errorf("rpcserver: short dispense request (%d bytes)", len(b))
	}
	return dispenser.Address{Row: b[0], Col: b[1]}, binary.BigEndian.Uint16(b[2:4]), nil
}

func encodeOutcome(o vend.Outcome) []byte {
	return []byte{byte(o)}
}

func decodeOutcome(b []byte) (vend.Outcome, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("rpcserver: empty outcome frame")
	}
	return vend.Outcome(b[0]), nil
}

// encodeDispenserStatus lays out: found(1) [kind(1) motor(1) can(1)].
func encodeDispenserStatus(d dispenser.Dispenser, found bool) []byte {
	if !found {
		return []byte{0}
	}
	return []byte{1, byte(d.Kind), byte(d.MotorStatus), byte(d.CanStatus)}
}

func decodeDispenserStatus(b []byte) (dispenser.Dispenser, bool, error) {
	if len(b) < 1 {
		return dispenser.Dispenser{}, false, fmt.Errorf("rpcserver: empty status frame")
	}
	if b[0] == 0 {
		return dispenser.Dispenser{}, false, nil
	}
	if len(b) < 4 {
		return dispenser.Dispenser{}, false, fmt.Errorf("rpcserver: short status frame (%d bytes)", len(b))
	}
	return dispenser.Dispenser{
		Kind:        dispenser.Kind(b[1]),
		MotorStatus: dispenser.MotorStatus(b[2]),
		CanStatus:   dispenser.CanStatus(b[3]),
	}, true, nil
}

func encodeDispenseCoinsRequest(amount uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, amount)
	return buf
}

func decodeDispenseCoinsRequest(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("rpcserver: short dispense-coins request (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}

func encodeAmountRefunded(amount uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, amount)
	return buf
}

func decodeAmountRefunded(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("rpcserver: short amount-refunded response (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}

func encodeCoinInserted(c coin.CoinInserted) []byte {
	buf := make([]byte, 4)
	buf[0] = c.Slot
	buf[1] = byte(c.Routing)
	binary.BigEndian.PutUint16(buf[2:], c.Value)
	return buf
}

func encodeCoinStatus(s coin.AcceptorEvent) []byte {
	return []byte{byte(s)}
}

func encodeCashlessEvent(e cashless.Event) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(e.Kind)
	binary.BigEndian.PutUint16(buf[1:], e.Amount)
	return buf
}

// cashlessCommandKind enumerates spec §3's CashlessCommand vocabulary.
// RecordCashTransaction and Reset are accepted on the wire but
// unimplemented in internal/cashless: the dispatcher only logs a warning
// for them, much like coin_acceptor.dispense_coins's documented no-op.
type cashlessCommandKind byte

const (
	cashlessCmdEnable cashlessCommandKind = iota + 1
	cashlessCmdDisable
	cashlessCmdStartTransaction
	cashlessCmdCancelTransaction
	cashlessCmdVendSuccess
	cashlessCmdVendFailed
	cashlessCmdRecordCashTransaction
	cashlessCmdReset
)

type cashlessCommandFrame struct {
	kind   cashlessCommandKind
	amount uint16
	addr   dispenser.Address
}

func decodeCashlessCommand(b []byte) (cashlessCommandFrame, error) {
	if len(b) < 1 {
		return cashlessCommandFrame{}, fmt.Errorf("rpcserver: empty cashless command frame")
	}
	f := cashlessCommandFrame{kind: cashlessCommandKind(b[0])}
	switch f.kind {
	case cashlessCmdStartTransaction, cashlessCmdRecordCashTransaction:
		if len(b) < 5 {
			return f, fmt.Errorf("rpcserver: short cashless command frame (%d bytes)", len(b))
		}
		f.amount = binary.BigEndian.Uint16(b[1:3])
		f.addr = dispenser.Address{Row: b[3], Col: b[4]}
	case cashlessCmdVendSuccess:
		if len(b) < 3 {
			return f, fmt.Errorf("rpcserver: short cashless command frame (%d bytes)", len(b))
		}
		f.addr = dispenser.Address{Row: b[1], Col: b[2]}
	}
	return f, nil
}
