// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package watchdog implements C9: periodic refresh of the hardware
// watchdog timer while the rest of the firmware is live, plus a toggling
// heartbeat indicator. Grounded on the teacher's soc/nxp/wdog.WDOG
// (EnableTimeout/Service) register driver and the original's watchdog.rs,
// which toggles its heartbeat pin once per feed rather than merely
// driving it high.
package watchdog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/hal/pin"
)

const (
	// Timeout is the hardware watchdog period: if Driver.Run stalls for
	// this long without a Service call, the MCU resets.
	Timeout = 2 * time.Second
	// FeedInterval is how often Run services the watchdog and toggles the
	// heartbeat pin.
	FeedInterval = 250 * time.Millisecond
)

// Timer is the hardware watchdog peripheral, mirroring the subset of the
// teacher's soc/nxp/wdog.WDOG this driver needs.
type Timer interface {
	// EnableTimeout arms the watchdog to reset the MCU after timeoutMillis
	// without a Service call.
	EnableTimeout(timeoutMillis int)
	// Service refreshes the countdown, preventing the timeout.
	Service(timeoutMillis int)
}

// Driver is the C9 task.
type Driver struct {
	timer     Timer
	heartbeat pin.Pin
	log       *logrus.Entry

	timeout      time.Duration
	feedInterval time.Duration
}

// New builds a watchdog Driver arming timer for Timeout and toggling
// heartbeat once per FeedInterval. heartbeat may be nil on builds with no
// indicator LED wired.
func New(timer Timer, heartbeat pin.Pin, log *logrus.Entry) *Driver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if heartbeat != nil {
		heartbeat.Out()
		heartbeat.High()
	}
	return &Driver{
		timer:        timer,
		heartbeat:    heartbeat,
		log:          log.WithField("component", "watchdog"),
		timeout:      Timeout,
		feedInterval: FeedInterval,
	}
}

// Run arms the watchdog and feeds it every feedInterval until ctx is
// cancelled. It should be the first task spawned by main(), per the
// original's main.rs ordering comment ("Spawn the watchdog task first").
func (d *Driver) Run(ctx context.Context) {
	d.timer.EnableTimeout(int(d.timeout / time.Millisecond))
	d.log.WithField("timeout", d.timeout).Info("watchdog armed")

	ticker := time.NewTicker(d.feedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.timer.Service(int(d.timeout / time.Millisecond))
			d.toggleHeartbeat()
		}
	}
}

func (d *Driver) toggleHeartbeat() {
	if d.heartbeat == nil {
		return
	}
	if d.heartbeat.Value() {
		d.heartbeat.Low()
	} else {
		d.heartbeat.High()
	}
}
