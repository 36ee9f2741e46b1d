// Copyright (c) 2024 The Jito Foundation developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/jito-foundation/kobe/internal/adminsrv"
	"github.com/jito-foundation/kobe/internal/config"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/scheduler"
	"github.com/jito-foundation/kobe/internal/steward"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "steward-indexer")

const listenTickInterval = 5 * time.Minute

func main() {
	app := cli.App{
		Name:  "steward-indexer",
		Usage: "tails the steward program's log events and persists them",
		Flags: config.Flags,
		Commands: []cli.Command{
			{
				Name:   "listen",
				Usage:  "tail new steward events every 5 minutes, resuming from the persisted cursor",
				Flags:  config.Flags,
				Action: listenAction,
			},
			{
				Name:  "backfill",
				Usage: "index steward events in [start-slot, end-slot]",
				Flags: append(config.Flags,
					cli.IntFlag{Name: "start-slot", Value: -1, Usage: "first slot to index (inclusive)"},
					cli.IntFlag{Name: "end-slot", Value: -1, Usage: "last slot to index (inclusive); defaults to the current slot"},
				),
				Action: backfillAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newIndexer(ctx *cli.Context) (*steward.Indexer, *config.Config, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	gw := rpc.New(cfg.RPCEndpoint)
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	ix := &steward.Indexer{
		Gateway:        gw,
		Store:          st,
		StewardProgram: solana.MustPublicKeyFromBase58(cfg.StewardProgram),
		StakePool:      solana.MustPublicKeyFromBase58(cfg.StakePool),
	}
	return ix, &cfg, nil
}

func listenAction(ctx *cli.Context) error {
	ix, cfg, err := newIndexer(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	sched := scheduler.New(nil)
	_, shutdown, err := adminsrv.StartServer(cfg.AdminAddr, sched.Tracker())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer shutdown()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(rootCtx, scheduler.Task{
		Name:     "steward-indexer",
		Interval: listenTickInterval,
		Run:      ix.ListenTick,
	})
	sched.Wait()
	return nil
}

func backfillAction(ctx *cli.Context) error {
	ix, _, err := newIndexer(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	startSlot := ctx.Int("start-slot")
	if startSlot < 0 {
		return cli.NewExitError("backfill requires --start-slot", 1)
	}
	endSlot := ctx.Int("end-slot")
	rootCtx := context.Background()
	if endSlot < 0 {
		info, err := ix.Gateway.GetEpochInfo(rootCtx)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		endSlot = int(info.AbsoluteSlot)
	}
	if err := ix.Backfill(rootCtx, uint64(startSlot), uint64(endSlot)); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logger.Info("backfill complete", "start_slot", startSlot, "end_slot", endSlot)
	return nil
}
