// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/davidmpye/snackbot/cmd/app/config"
	"github.com/davidmpye/snackbot/internal/usbtransport"
)

var (
	configPath string
	log        = logrus.NewEntry(logrus.StandardLogger())
)

var rootCmd = &cobra.Command{
	Use:   "snackbot",
	Short: "snackbot host application: vend, status and coin acceptor control",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "snackbot.toml", "path to configuration file")
}

// openVMC loads the configured VMC VID/PID and opens it.
func openVMC() (*usbtransport.VMCClient, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	client, err := usbtransport.OpenVMC(gousb.ID(cfg.VMC.VendorID), gousb.ID(cfg.VMC.ProductID))
	if err != nil {
		return nil, config.Config{}, err
	}
	return client, cfg, nil
}
