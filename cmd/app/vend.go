// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var vendCmd = &cobra.Command{
	Use:   "vend <address>",
	Short: "vend the item at address, e.g. \"A0\", using the configured price table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		client, cfg, err := openVMC()
		if err != nil {
			return err
		}
		defer client.Close()

		price, ok := cfg.PriceFor(addr)
		if !ok {
			return fmt.Errorf("no configured price for %s", addr)
		}

		outcome, err := client.Dispense(context.Background(), addr, price)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", addr, outcome)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vendCmd)
}
