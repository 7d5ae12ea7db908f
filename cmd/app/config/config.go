// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads the host application's snackbot.toml: the USB
// identifiers for the VMC and KBD devices, the price table, and any
// chiller setpoint override.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/davidmpye/snackbot/internal/dispenser"
)

// USBDevice identifies one gousb-addressable device by vendor/product ID.
type USBDevice struct {
	VendorID  uint16 `toml:"vendor_id"`
	ProductID uint16 `toml:"product_id"`
}

// Config is the decoded contents of snackbot.toml.
type Config struct {
	VMC USBDevice `toml:"vmc"`
	KBD USBDevice `toml:"kbd"`

	// PriceTablePath points at the row/column -> price mapping file; the
	// VMC itself has no stock-catalog knowledge (spec §1 non-goal), so
	// the host owns pricing entirely.
	PriceTablePath string `toml:"price_table"`

	// ChillerSetpointC is decoded from the file but not applied: no
	// command sends it to the VMC, whose chiller runs at
	// internal/chiller.DefaultSetpoint.
	ChillerSetpointC float64 `toml:"chiller_setpoint_c"`

	// Prices maps an address string (e.g. "A0") to its price in minor
	// currency units. The VMC has no stock-catalog knowledge (spec §1
	// non-goal), so pricing lives entirely on the host side.
	Prices map[string]uint16 `toml:"prices"`
}

// Load reads and decodes the TOML config file at path.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return c, nil
}

// PriceFor looks up the configured price for addr.
func (c Config) PriceFor(addr dispenser.Address) (uint16, bool) {
	p, ok := c.Prices[addr.String()]
	return p, ok
}
