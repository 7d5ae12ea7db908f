// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rpcserver implements C8: the request/response and publish/
// subscribe dispatch fronting the dispenser (C2), coin acceptor (C4) and
// cashless device (C5) drivers, plus the vend orchestrator (C7). Spec
// §4.8 classes every handler as blocking, async or spawn; HandleRequest
// runs every class to completion before returning (the single opaque
// request/response pipe this is built on has no way to deliver a result
// out of band), but Spawn-class handlers run their body on a dedicated
// goroutine so a slow or panicking vend never blocks future additions of
// pipelined transports, and so ctx cancellation can unwind it cleanly.
package rpcserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/vend"
)

// HandlerKind classes a registered endpoint per spec §4.8.
type HandlerKind int

const (
	KindBlocking HandlerKind = iota
	KindAsync
	KindSpawn
)

func (k HandlerKind) String() string {
	switch k {
	case KindAsync:
		return "async"
	case KindSpawn:
		return "spawn"
	default:
		return "blocking"
	}
}

type handlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

type handlerEntry struct {
	kind HandlerKind
	fn   handlerFunc
}

// DispenserPort, CoinPort and CashlessPort are the subsets of the C2/C4/C5
// drivers the server fronts.
type DispenserPort interface {
	Status(addr dispenser.Address) (dispenser.Dispenser, bool)
}

type CoinPort interface {
	SetEnabled(enabled bool) error
	DispenseCoins(amount uint16) uint16
}

type CashlessPort interface {
	SetEnabled(enabled bool)
	StartTransaction(amount uint16, addr dispenser.Address)
	CancelTransaction()
	VendSuccess(addr dispenser.Address)
	VendFailed()
}

// VendPort runs one vend transaction to completion.
type VendPort interface {
	Vend(ctx context.Context, addr dispenser.Address, price uint16) vend.Outcome
}

// Server is the C8 dispatcher. The events channel is drained by the USB
// transport's publish-direction endpoint and carries every
// frame a Publish* method encodes; it must never be allowed to block a
// peripheral task, so it is buffered and drops the oldest frame under
// sustained backpressure.
type Server struct {
	dispenser DispenserPort
	coin      CoinPort
	cashless  CashlessPort
	vend      VendPort

	vendMu sync.Mutex // spec §4.7: only one vend runs at a time in practice

	handlers map[Endpoint]handlerEntry
	events   chan []byte
	log      *logrus.Entry
}

const eventBacklog = 32

// New builds a Server fronting the given drivers.
func New(d DispenserPort, c CoinPort, cl CashlessPort, v VendPort, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		dispenser: d,
		coin:      c,
		cashless:  cl,
		vend:      v,
		events:    make(chan []byte, eventBacklog),
		log:       log.WithField("component", "rpcserver"),
	}
	s.handlers = map[Endpoint]handlerEntry{
		EndpointDispense:               {KindSpawn, s.handleDispense},
		EndpointDispenserStatus:        {KindAsync, s.handleDispenserStatus},
		EndpointSetCoinAcceptorEnabled: {KindBlocking, s.handleSetCoinAcceptorEnabled},
		EndpointCashlessCommand:        {KindBlocking, s.handleCashlessCommand},
		EndpointDispenseCoins:          {KindBlocking, s.handleDispenseCoins},
	}
	return s
}

// HandleRequest dispatches one opaque request frame (endpoint tag byte
// followed by its payload) and returns the matching response frame.
func (s *Server) HandleRequest(ctx context.Context, frame []byte) []byte {
	if len(frame) < 1 {
		s.log.Warn("rejected empty request frame")
		return nil
	}

	ep := Endpoint(frame[0])
	entry, ok := s.handlers[ep]
	if !ok {
		s.log.WithField("endpoint", ep).Warn("unknown endpoint")
		return nil
	}

	if entry.kind == KindSpawn {
		done := make(chan []byte, 1)
		go func() {
			resp, err := entry.fn(ctx, frame[1:])
			if err != nil {
				s.log.WithError(err).WithField("endpoint", ep).Warn("handler error")
			}
			done <- resp
		}()
		select {
		case resp := <-done:
			return resp
		case <-ctx.Done():
			return nil
		}
	}

	resp, err := entry.fn(ctx, frame[1:])
	if err != nil {
		s.log.WithError(err).WithField("endpoint", ep).Warn("handler error")
	}
	return resp
}

// Events returns the channel the publish-direction transport endpoint
// reads topic frames from.
func (s *Server) Events() <-chan []byte {
	return s.events
}

func (s *Server) publish(frame []byte) {
	select {
	case s.events <- frame:
	default:
		// Drop the oldest frame under sustained backpressure rather than
		// block whichever peripheral task is publishing.
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- frame:
		default:
		}
	}
}

// PublishCoinInserted encodes a coin insertion event. CoinSink wraps it
// (with PublishCoinStatus) as the coin.Sink installed as the downstream of
// a vend.CoinHub.
func (s *Server) PublishCoinInserted(c coin.CoinInserted) {
	s.publish(append([]byte{byte(TopicCoinInserted)}, encodeCoinInserted(c)...))
}

// PublishCoinStatus encodes a coin acceptor status event.
func (s *Server) PublishCoinStatus(e coin.AcceptorEvent) {
	s.publish(append([]byte{byte(TopicCoinStatus)}, encodeCoinStatus(e)...))
}

// CoinSink adapts Server to coin.Sink, splitting each Event into its
// Coin/Status topic frame. It is a distinct type (rather than a method
// directly on Server) because coin.Sink and cashless.Sink both name their
// single method Publish with a different argument type, and a Go type
// cannot carry two overloads of the same method name.
type CoinSink struct{ s *Server }

func (s *Server) CoinSink() CoinSink { return CoinSink{s} }

func (c CoinSink) Publish(e coin.Event) {
	if e.Kind == coin.KindCoin {
		c.s.PublishCoinInserted(e.Coin)
	} else {
		c.s.PublishCoinStatus(e.Status)
	}
}

// CashlessSink adapts Server to cashless.Sink.
type CashlessSink struct{ s *Server }

func (s *Server) CashlessSink() CashlessSink { return CashlessSink{s} }

func (c CashlessSink) Publish(e cashless.Event) {
	c.s.publish(append([]byte{byte(TopicCashlessEvent)}, encodeCashlessEvent(e)...))
}

func (s *Server) handleDispense(ctx context.Context, payload []byte) ([]byte, error) {
	addr, price, err := decodeDispenseRequest(payload)
	if err != nil {
		return nil, err
	}

	s.vendMu.Lock()
	defer s.vendMu.Unlock()

	outcome := s.vend.Vend(ctx, addr, price)
	return encodeOutcome(outcome), nil
}

func (s *Server) handleDispenserStatus(_ context.Context, payload []byte) ([]byte, error) {
	addr, err := decodeAddress(payload)
	if err != nil {
		return nil, err
	}
	d, found := s.dispenser.Status(addr)
	return encodeDispenserStatus(d, found), nil
}

func (s *Server) handleSetCoinAcceptorEnabled(_ context.Context, payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("rpcserver: empty set-enabled payload")
	}
	if err := s.coin.SetEnabled(payload[0] != 0); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleDispenseCoins(_ context.Context, payload []byte) ([]byte, error) {
	amount, err := decodeDispenseCoinsRequest(payload)
	if err != nil {
		return nil, err
	}
	refunded := s.coin.DispenseCoins(amount)
	return encodeAmountRefunded(refunded), nil
}

func (s *Server) handleCashlessCommand(_ context.Context, payload []byte) ([]byte, error) {
	cmd, err := decodeCashlessCommand(payload)
	if err != nil {
		return nil, err
	}

	switch cmd.kind {
	case cashlessCmdEnable:
		s.cashless.SetEnabled(true)
	case cashlessCmdDisable:
		s.cashless.SetEnabled(false)
	case cashlessCmdStartTransaction:
		s.cashless.StartTransaction(cmd.amount, cmd.addr)
	case cashlessCmdCancelTransaction:
		s.cashless.CancelTransaction()
	case cashlessCmdVendSuccess:
		s.cashless.VendSuccess(cmd.addr)
	case cashlessCmdVendFailed:
		s.cashless.VendFailed()
	case cashlessCmdRecordCashTransaction:
		s.log.WithField("amount", cmd.amount).Warn("record-cash-transaction requested but not implemented")
	case cashlessCmdReset:
		s.log.Warn("cashless reset requested but not implemented")
	default:
		return nil, fmt.Errorf("rpcserver: unknown cashless command %d", cmd.kind)
	}
	return nil, nil
}
