// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package usbtransport is the host-side (cmd/app) USB bulk transport to
// the VMC and KBD devices. Spec §6 calls the RPC framing opaque; the VMC
// firmware (internal/rpcserver) and this client are two independently
// built binaries that must agree on a wire convention without sharing
// code (the firmware package can't be imported by a host binary), so the
// endpoint/topic tag values and frame layouts here are a deliberate,
// by-hand mirror of internal/rpcserver's wire.go, not a shared package.
package usbtransport

import (
	"encoding/binary"
	"fmt"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/vend"
)

// vmcEndpoint mirrors rpcserver.Endpoint's wire values.
type vmcEndpoint byte

const (
	epDispense vmcEndpoint = iota + 1
	epDispenserStatus
	epSetCoinAcceptorEnabled
	epCashlessCommand
	epDispenseCoins
)

// vmcTopic mirrors rpcserver.Topic's wire values.
type vmcTopic byte

const (
	topicCoinInserted vmcTopic = iota + 1
	topicCoinStatus
	topicCashlessEvent
)

// cashlessCmd mirrors rpcserver's cashlessCommandKind wire values.
type cashlessCmd byte

const (
	cashlessCmdEnable cashlessCmd = iota + 1
	cashlessCmdDisable
	cashlessCmdStartTransaction
	cashlessCmdCancelTransaction
	cashlessCmdVendSuccess
	cashlessCmdVendFailed
	cashlessCmdRecordCashTransaction
	cashlessCmdReset
)

func encodeAddress(addr dispenser.Address) []byte {
	return []byte{addr.Row, addr.Col}
}

func decodeAddress(b []byte) (dispenser.Address, error) {
	if len(b) < 2 {
		return dispenser.Address{}, fmt.Errorf("usbtransport: short address frame (%d bytes)", len(b))
	}
	return dispenser.Address{Row: b[0], Col: b[1]}, nil
}

func encodeDispenseRequest(addr dispenser.Address, price uint16) []byte {
	req := make([]byte, 1+4)
	req[0] = byte(epDispense)
	req[1], req[2] = addr.Row, addr.Col
	binary.BigEndian.PutUint16(req[3:5], price)
	return req
}

func decodeOutcome(b []byte) (vend.Outcome, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("usbtransport: empty outcome frame")
	}
	return vend.Outcome(b[0]), nil
}

func encodeDispenserStatusRequest(addr dispenser.Address) []byte {
	return append([]byte{byte(epDispenserStatus)}, encodeAddress(addr)...)
}

// DispenserStatus is the host-side copy of a VMC dispenser status reply:
// dispenser.Dispenser decoded without pulling in the firmware-only motor
// control types this client has no use for.
type DispenserStatus struct {
	Kind        dispenser.Kind
	MotorStatus dispenser.MotorStatus
	CanStatus   dispenser.CanStatus
}

func decodeDispenserStatus(b []byte) (DispenserStatus, bool, error) {
	if len(b) < 1 {
		return DispenserStatus{}, false, fmt.Errorf("usbtransport: empty status frame")
	}
	if b[0] == 0 {
		return DispenserStatus{}, false, nil
	}
	if len(b) < 4 {
		return DispenserStatus{}, false, fmt.Errorf("usbtransport: short status frame (%d bytes)", len(b))
	}
	return DispenserStatus{
		Kind:        dispenser.Kind(b[1]),
		MotorStatus: dispenser.MotorStatus(b[2]),
		CanStatus:   dispenser.CanStatus(b[3]),
	}, true, nil
}

func encodeSetCoinAcceptorEnabledRequest(enabled bool) []byte {
	b := byte(0)
	if enabled {
		b = 1
	}
	return []byte{byte(epSetCoinAcceptorEnabled), b}
}

func encodeDispenseCoinsRequest(amount uint16) []byte {
	buf := make([]byte, 1+2)
	buf[0] = byte(epDispenseCoins)
	binary.BigEndian.PutUint16(buf[1:3], amount)
	return buf
}

func decodeAmountRefunded(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("usbtransport: short amount-refunded response (%d bytes)", len(b))
	}
	return binary.BigEndian.Uint16(b[:2]), nil
}

func encodeCashlessCommandRequest(cmd cashlessCmd, amount uint16, addr dispenser.Address) []byte {
	switch cmd {
	case cashlessCmdStartTransaction, cashlessCmdRecordCashTransaction:
		buf := make([]byte, 1+5)
		buf[0] = byte(epCashlessCommand)
		buf[1] = byte(cmd)
		binary.BigEndian.PutUint16(buf[2:4], amount)
		buf[4], buf[5] = addr.Row, addr.Col
		return buf
	case cashlessCmdVendSuccess:
		return []byte{byte(epCashlessCommand), byte(cmd), addr.Row, addr.Col}
	default:
		return []byte{byte(epCashlessCommand), byte(cmd)}
	}
}

// CoinCredit is the host-side decode of a coin.inserted topic frame.
type CoinCredit struct {
	Slot    byte
	Routing coin.Routing
	Value   uint16
}

func decodeCoinInserted(b []byte) (CoinCredit, error) {
	if len(b) < 4 {
		return CoinCredit{}, fmt.Errorf("usbtransport: short coin-inserted frame (%d bytes)", len(b))
	}
	return CoinCredit{
		Slot:    b[0],
		Routing: coin.Routing(b[1]),
		Value:   binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

func decodeCoinStatus(b []byte) (coin.AcceptorEvent, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("usbtransport: empty coin-status frame")
	}
	return coin.AcceptorEvent(b[0]), nil
}

// CashlessEvent is the host-side decode of a cashless.event topic frame.
type CashlessEvent struct {
	Kind   cashless.EventKind
	Amount uint16
}

func decodeCashlessEvent(b []byte) (CashlessEvent, error) {
	if len(b) < 3 {
		return CashlessEvent{}, fmt.Errorf("usbtransport: short cashless-event frame (%d bytes)", len(b))
	}
	return CashlessEvent{Kind: cashless.EventKind(b[0]), Amount: binary.BigEndian.Uint16(b[1:3])}, nil
}

// TopicKind distinguishes the decoded payload carried in a TopicEvent.
type TopicKind int

const (
	TopicKindCoinInserted TopicKind = iota
	TopicKindCoinStatus
	TopicKindCashlessEvent
)

// TopicEvent is one decoded publish-topic frame from the VMC's event
// endpoint.
type TopicEvent struct {
	Kind     TopicKind
	Coin     CoinCredit
	Status   coin.AcceptorEvent
	Cashless CashlessEvent
}

func decodeTopicEvent(frame []byte) (TopicEvent, error) {
	if len(frame) < 1 {
		return TopicEvent{}, fmt.Errorf("usbtransport: empty topic frame")
	}
	switch vmcTopic(frame[0]) {
	case topicCoinInserted:
		c, err := decodeCoinInserted(frame[1:])
		return TopicEvent{Kind: TopicKindCoinInserted, Coin: c}, err
	case topicCoinStatus:
		s, err := decodeCoinStatus(frame[1:])
		return TopicEvent{Kind: TopicKindCoinStatus, Status: s}, err
	case topicCashlessEvent:
		e, err := decodeCashlessEvent(frame[1:])
		return TopicEvent{Kind: TopicKindCashlessEvent, Cashless: e}, err
	default:
		return TopicEvent{}, fmt.Errorf("usbtransport: unknown topic tag 0x%02x", frame[0])
	}
}
