// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var coinCmd = &cobra.Command{
	Use:   "coin",
	Short: "coin acceptor controls",
}

var coinEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "enable the coin acceptor",
	Args:  cobra.NoArgs,
	RunE:  setCoinEnabled(true),
}

var coinDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "disable the coin acceptor",
	Args:  cobra.NoArgs,
	RunE:  setCoinEnabled(false),
}

var coinDispenseCmd = &cobra.Command{
	Use:   "dispense <amount>",
	Short: "ask the coin acceptor to dispense change (unimplemented in firmware, always refunds 0)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}

		client, _, err := openVMC()
		if err != nil {
			return err
		}
		defer client.Close()

		refunded, err := client.DispenseCoins(context.Background(), uint16(amount))
		if err != nil {
			return err
		}
		fmt.Printf("amount refunded: %d\n", refunded)
		return nil
	},
}

func setCoinEnabled(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, _, err := openVMC()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.SetCoinAcceptorEnabled(context.Background(), enabled); err != nil {
			return err
		}
		fmt.Printf("coin acceptor enabled=%v\n", enabled)
		return nil
	}
}

func init() {
	coinCmd.AddCommand(coinEnableCmd, coinDisableCmd, coinDispenseCmd)
	rootCmd.AddCommand(coinCmd)
}
