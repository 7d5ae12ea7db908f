// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command vmc is the vending machine controller firmware image. It wires
// C1-C9 together and serves the RPC dispatcher (C8) over the USB gadget's
// endpoints. Task spawn order mirrors the original's main.rs: the
// watchdog is armed first, so any lockup during the rest of bring-up
// still trips a reset instead of wedging silently.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/davidmpye/snackbot/internal/cashless"
	"github.com/davidmpye/snackbot/internal/chiller"
	"github.com/davidmpye/snackbot/internal/coin"
	"github.com/davidmpye/snackbot/internal/dispenser"
	"github.com/davidmpye/snackbot/internal/hal/mdb"
	"github.com/davidmpye/snackbot/internal/rpcserver"
	"github.com/davidmpye/snackbot/internal/vend"
	"github.com/davidmpye/snackbot/internal/watchdog"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())
	logrus.SetLevel(logrus.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	wd := watchdog.New(&simWatchdog{}, heartbeatPin(), log)
	go wd.Run(ctx)

	matrixBus := newMatrixBus()
	matrixBus.PowerOn()
	dispenserDrv := dispenser.New(matrixBus, log)

	chillerDrv := chiller.New(chillerADC(), matrixBus, chillerLEDPin(), chiller.DefaultSetpoint, log)
	go chillerDrv.Run(ctx)

	mdbBus := mdb.New(idleMDBPort{})

	coinHub := vend.NewCoinHub()
	cashlessHub := vend.NewCashlessHub()

	coinDrv := coin.New(mdbBus, coinHub, log)
	go coinDrv.Run(ctx)

	cashlessDrv := cashless.New(mdbBus, cashlessHub, log)
	go cashlessDrv.Run(ctx)

	orchestrator := vend.New(dispenserDrv, cashlessDrv, cashlessHub, coinHub, log)

	server := rpcserver.New(dispenserDrv, coinDrv, cashlessDrv, orchestrator, log)
	coinHub.SetDownstream(server.CoinSink())
	cashlessHub.SetDownstream(server.CashlessSink())

	log.Info("snackbot vmc firmware started")

	serveUSB(ctx, server, log)

	log.Info("snackbot vmc firmware stopped")
}
