// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davidmpye/snackbot/internal/usbtransport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run as a daemon, logging VMC events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := openVMC()
		if err != nil {
			return err
		}
		defer client.Close()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		log.Info("serving: watching VMC events")
		events := client.Events()
		for {
			select {
			case ev := <-events:
				logTopicEvent(ev)
			case <-sig:
				log.Info("serve: shutdown signal received")
				return nil
			}
		}
	},
}

func logTopicEvent(ev usbtransport.TopicEvent) {
	switch ev.Kind {
	case usbtransport.TopicKindCoinInserted:
		log.WithFields(map[string]interface{}{
			"slot":    ev.Coin.Slot,
			"routing": ev.Coin.Routing,
			"value":   ev.Coin.Value,
		}).Info("coin inserted")
	case usbtransport.TopicKindCoinStatus:
		log.WithField("status", ev.Status).Info("coin acceptor status")
	case usbtransport.TopicKindCashlessEvent:
		log.WithFields(map[string]interface{}{
			"kind":   ev.Cashless.Kind,
			"amount": ev.Cashless.Amount,
		}).Info("cashless event")
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
