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

	"github.com/google/gousb"
)

// KeyEvent is one keypress reported by the KBD matrix/fascia unit. The
// keypad scan and HID report protocol itself is out of scope (spec §1);
// this is only the decoded shape a caller needs.
type KeyEvent struct {
	Row byte
	Col byte
}

// KBDClient is a bulk-USB connection to the keypad/display fascia unit.
// Like VMCClient it bypasses a kernel HID driver entirely, opening the
// raw bulk endpoints directly.
type KBDClient struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint
}

const (
	kbdKeyInEndpoint      = 0x81
	kbdDisplayOutEndpoint = 0x01
)

// OpenKBD opens the keypad/display unit by VID/PID.
func OpenKBD(vid, pid gousb.ID) (*KBDClient, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open KBD: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: KBD not found (vid=%s pid=%s)", vid, pid)
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: set KBD config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: claim KBD interface: %w", err)
	}

	epOut, err := intf.OutEndpoint(kbdDisplayOutEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open KBD display endpoint: %w", err)
	}

	epIn, err := intf.InEndpoint(kbdKeyInEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("usbtransport: open KBD key endpoint: %w", err)
	}

	return &KBDClient{ctx: ctx, dev: dev, config: config, intf: intf, epOut: epOut, epIn: epIn}, nil
}

// Close releases the USB interface and device handle.
func (k *KBDClient) Close() error {
	k.intf.Close()
	k.config.Close()
	k.dev.Close()
	k.ctx.Close()
	return nil
}

// ReadKey blocks for one keypress.
func (k *KBDClient) ReadKey(ctx context.Context) (KeyEvent, error) {
	buf := make([]byte, 2)
	if _, err := k.epIn.ReadContext(ctx, buf); err != nil {
		return KeyEvent{}, fmt.Errorf("usbtransport: read key: %w", err)
	}
	return KeyEvent{Row: buf[0], Col: buf[1]}, nil
}

// Display writes text to the fascia's character LCD. The character
// protocol itself is opaque (spec §6); this client only frames
// line/text as [line(1)][len(2) BE][text].
type Display struct {
	kbd *KBDClient
}

// NewDisplay wraps kbd for LCD writes.
func NewDisplay(kbd *KBDClient) *Display {
	return &Display{kbd: kbd}
}

// Write sends text to be shown on the given display line.
func (d *Display) Write(ctx context.Context, line int, text string) error {
	if line < 0 || line > 255 {
		return fmt.Errorf("usbtransport: display line %d out of range", line)
	}
	payload := []byte(text)
	frame := make([]byte, 3+len(payload))
	frame[0] = byte(line)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)
	_, err := d.kbd.epOut.WriteContext(ctx, frame)
	return err
}
