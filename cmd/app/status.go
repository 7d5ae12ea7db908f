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

	"github.com/davidmpye/snackbot/internal/dispenser"
)

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "query one dispenser's status, e.g. \"A0\"",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		client, _, err := openVMC()
		if err != nil {
			return err
		}
		defer client.Close()

		status, found, err := client.DispenserStatus(context.Background(), addr)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("%s: no such dispenser\n", addr)
			return nil
		}
		fmt.Printf("%s: kind=%s motor=%s can=%s\n", addr, status.Kind, status.MotorStatus, status.CanStatus)
		return nil
	},
}

func parseAddress(s string) (dispenser.Address, error) {
	if len(s) != 2 {
		return dispenser.Address{}, fmt.Errorf("invalid address %q: expected two characters, e.g. \"A0\"", s)
	}
	return dispenser.Address{Row: s[0], Col: s[1]}, nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
