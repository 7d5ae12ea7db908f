// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usbtransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/vend"
)

// Endpoint numbers the VMC gadget exposes. Request/response share one
// OUT/IN pair; published topics arrive on a second, dedicated IN
// endpoint so a slow host reader of one stream never starves the other.
const (
	reqOutEndpoint  = 0x01
	respInEndpoint  = 0x81
	eventInEndpoint = 0x82
)

const requestTimeout = 5 * time.Second

// VMCClient is a bulk-USB connection to the vending machine controller.
type VMCClient struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface

	epOut   *gousb.OutEndpoint
	epIn    *gousb.InEndpoint
	epEvent *gousb.InEndpoint

	mu sync.Mutex // serializes request/response pairs on the shared pipe

	events chan []byte
	cancel context.CancelFunc
}

// OpenVMC opens the VMC gadget by VID/PID and claims its bulk interface,
// following the teacher pack's direct-USB-bypass-the-kernel-driver
// pattern (no libusb device file, no udev rule beyond permissions).
func OpenVMC(vid, pid gousb.ID) (*VMCClient, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open VMC: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: VMC not found (vid=%s pid=%s)", vid, pid)
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: set VMC config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: claim VMC interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(reqOutEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open VMC request endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(respInEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open VMC response endpoint: %w", err)
	}

	epEvent, err := intf.InEndpoint(eventInEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open VMC event endpoint: %w", err)
	}

	c := &VMCClient{
		ctx: ctx, dev: dev, config: config, intf: intf,
		epOut: epOut, epIn: epIn, epEvent: epEvent,
		events: make(chan []byte, 32),
	}

	eventCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.pumpEvents(eventCtx)

	return c, nil
}

// Close releases the USB interface and device handle.
func (c *VMCClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.intf.Close()
	c.config.Close()
	c.dev.Close()
	c.ctx.Close()
	return nil
}

// writeFrame sends payload length-delimited: a 2-byte big-endian length
// prefix followed by payload, in one bulk write.
func (c *VMCClient) writeFrame(ctx context.Context, payload []byte) error {
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame[:2], uint16(len(payload)))
	copy(frame[2:], payload)
	_, err := c.epOut.WriteContext(ctx, frame)
	return err
}

// readFrame reads one length-delimited frame from ep.
func readFrame(ctx context.Context, ep *gousb.InEndpoint) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := ep.ReadContext(ctx, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(header)
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := ep.ReadContext(ctx, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// request performs one request/response round trip. The pipe is shared
// process-wide, so calls are serialized; this mirrors rpcserver.Server
// being fronted by a single opaque transport on the firmware side.
func (c *VMCClient) request(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout := requestTimeout
	if len(payload) > 0 && vmcEndpoint(payload[0]) == epDispense {
		// A vend waits up to 30 s for payment authorization, then runs
		// the dispense cycle, so it gets a longer bound.
		timeout = 45 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.writeFrame(rctx, payload); err != nil {
		return nil, fmt.Errorf("usbtransport: write request: %w", err)
	}
	resp, err := readFrame(rctx, c.epIn)
	if err != nil {
		return nil, fmt.Errorf("usbtransport: read response: %w", err)
	}
	return resp, nil
}

// pumpEvents drains the event endpoint into the buffered events channel
// until ctx is cancelled, dropping the oldest frame under backpressure
// exactly like rpcserver.Server.publish on the firmware side.
func (c *VMCClient) pumpEvents(ctx context.Context) {
	for {
		frame, err := readFrame(ctx, c.epEvent)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if frame == nil {
			continue
		}
		select {
		case c.events <- frame:
		default:
			select {
			case <-c.events:
			default:
			}
			select {
			case c.events <- frame:
			default:
			}
		}
	}
}

// Dispense runs a full vend transaction for addr at price and blocks
// until the VMC resolves it (spec §4.8: spawned because it may take many
// seconds).
func (c *VMCClient) Dispense(ctx context.Context, addr dispenser.Address, price uint16) (vend.Outcome, error) {
	resp, err := c.request(ctx, encodeDispenseRequest(addr, price))
	if err != nil {
		return 0, err
	}
	return decodeOutcome(resp)
}

// DispenserStatus queries one dispenser slot.
func (c *VMCClient) DispenserStatus(ctx context.Context, addr dispenser.Address) (DispenserStatus, bool, error) {
	resp, err := c.request(ctx, encodeDispenserStatusRequest(addr))
	if err != nil {
		return DispenserStatus{}, false, err
	}
	return decodeDispenserStatus(resp)
}

// SetCoinAcceptorEnabled enables or disables the coin acceptor.
func (c *VMCClient) SetCoinAcceptorEnabled(ctx context.Context, enabled bool) error {
	_, err := c.request(ctx, encodeSetCoinAcceptorEnabledRequest(enabled))
	return err
}

// EnableCashless toggles the cashless device's listening state.
func (c *VMCClient) EnableCashless(ctx context.Context, enabled bool) error {
	cmd := cashlessCmdEnable
	if !enabled {
		cmd = cashlessCmdDisable
	}
	_, err := c.request(ctx, encodeCashlessCommandRequest(cmd, 0, dispenser.Address{}))
	return err
}

// StartCashlessTransaction asks the cashless device to authorize amount
// for addr, mirroring the vend orchestrator's own cashless command.
func (c *VMCClient) StartCashlessTransaction(ctx context.Context, amount uint16, addr dispenser.Address) error {
	_, err := c.request(ctx, encodeCashlessCommandRequest(cashlessCmdStartTransaction, amount, addr))
	return err
}

// DispenseCoins requests change-dispensing of amount from the coin
// acceptor's tubes. Reserved in the wire vocabulary per SPEC_FULL.md's
// SUPPLEMENTED FEATURES: the firmware side is documented as unimplemented
// and always reports amountRefunded as 0.
func (c *VMCClient) DispenseCoins(ctx context.Context, amount uint16) (uint16, error) {
	resp, err := c.request(ctx, encodeDispenseCoinsRequest(amount))
	if err != nil {
		return 0, err
	}
	return decodeAmountRefunded(resp)
}

// Events returns the channel carrying decoded publish-topic events
// (coin credits, coin status, cashless transaction events).
func (c *VMCClient) Events() <-chan TopicEvent {
	out := make(chan TopicEvent)
	go func() {
		defer close(out)
		for frame := range c.events {
			ev, err := decodeTopicEvent(frame)
			if err != nil {
				continue
			}
			out <- ev
		}
	}()
	return out
}
