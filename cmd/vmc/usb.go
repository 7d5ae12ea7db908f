// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/rpcserver"
)

// endpointFunc mirrors the teacher's soc/imx6/usb.EndpointDescriptor
// callback contract: an OUT endpoint is invoked with each inbound
// transfer and returns the bytes to queue as the next reply; an IN
// endpoint is polled repeatedly and returns the next bytes to send (nil
// to skip a poll with no data pending). rpcserver.Server.HandleRequest
// and Events were shaped to satisfy exactly this contract so a real
// board package can wire them to real endpoint descriptors unchanged.
type endpointFunc func(buf []byte, err error) ([]byte, error)

// requestEndpoint returns the OUT endpoint function fronting s.
func requestEndpoint(ctx context.Context, s *rpcserver.Server) endpointFunc {
	return func(buf []byte, err error) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return s.HandleRequest(ctx, buf), nil
	}
}

// eventEndpoint returns the IN endpoint function draining s.Events().
func eventEndpoint(s *rpcserver.Server) endpointFunc {
	return func(_ []byte, err error) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		select {
		case frame := <-s.Events():
			return frame, nil
		default:
			return nil, nil
		}
	}
}

// gadgetEndpoints are the OUT (request) and IN (publish) endpoint
// functions a board package installs on its USB device-mode descriptors.
type gadgetEndpoints struct {
	request endpointFunc
	event   endpointFunc
}

// serveUSB builds the gadget endpoint functions and blocks until ctx is
// cancelled. On real hardware a board package's usb.Device.Start drives
// these callbacks from gadget interrupts; absent one here, building them
// is still the integration point a board package replaces, so
// HandleRequest/Events never need to change shape to be wired in.
func serveUSB(ctx context.Context, s *rpcserver.Server, log *logrus.Entry) {
	gadget := gadgetEndpoints{
		request: requestEndpoint(ctx, s),
		event:   eventEndpoint(s),
	}
	_ = gadget

	log.Info("usb gadget endpoints registered, awaiting board wiring")
	<-ctx.Done()
}
