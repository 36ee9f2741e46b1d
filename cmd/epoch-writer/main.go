// Copyright (c) 2024 The Jito Foundation developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/jito-foundation/kobe/internal/adminsrv"
	"github.com/jito-foundation/kobe/internal/config"
	"github.com/jito-foundation/kobe/internal/epochwriter"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "epoch-writer")

func main() {
	app := cli.App{
		Name:  "epoch-writer",
		Usage: "writes per-epoch validator facts (stake-pool snapshots are not written by this binary)",
		Flags: config.Flags,
		Commands: []cli.Command{
			{
				Name:   "live",
				Usage:  "write the current epoch's facts once and exit (does not loop)",
				Flags:  config.Flags,
				Action: liveAction,
			},
			{
				Name:   "backfill",
				Usage:  "write facts for a single historical epoch",
				Flags:  append(config.Flags, cli.IntFlag{Name: "epoch", Usage: "epoch to backfill", Value: -1}),
				Action: backfillAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newWriter(ctx *cli.Context) (*epochwriter.Writer, *config.Config, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	gw := rpc.New(cfg.RPCEndpoint)
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	w := &epochwriter.Writer{
		Gateway: gw,
		Store:   st,
		Programs: epochwriter.ChainProgramIDs{
			TipDistributionProgram:         solana.MustPublicKeyFromBase58(cfg.TipDistributionProgram),
			PriorityFeeDistributionProgram: solana.MustPublicKeyFromBase58(cfg.PriorityFeeDistributionProgram),
			ValidatorHistoryProgram:        solana.MustPublicKeyFromBase58(cfg.ValidatorHistoryProgram),
		},
	}
	return w, &cfg, nil
}

func liveAction(ctx *cli.Context) error {
	w, cfg, err := newWriter(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	tracker := adminsrv.NewTracker()
	_, shutdown, err := adminsrv.StartServer(cfg.AdminAddr, tracker)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer shutdown()

	rootCtx := context.Background()
	epochInfo, err := w.Gateway.GetEpochInfo(rootCtx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := runEpoch(rootCtx, w, epochInfo.Epoch); err != nil {
		tracker.RecordRun("epoch-writer", err)
		return cli.NewExitError(err.Error(), 1)
	}
	tracker.RecordRun("epoch-writer", nil)
	return nil
}

func backfillAction(ctx *cli.Context) error {
	w, _, err := newWriter(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	rawEpoch := ctx.Int("epoch")
	if rawEpoch < 0 {
		return cli.NewExitError("backfill requires --epoch", 1)
	}
	epoch := uint64(rawEpoch)
	if err := runEpoch(context.Background(), w, epoch); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func runEpoch(ctx context.Context, w *epochwriter.Writer, epoch uint64) error {
	records, err := w.FetchAllValidators(ctx, epoch)
	if err != nil {
		return err
	}
	if err := w.Upsert(epoch, records); err != nil {
		return err
	}
	logger.Info("epoch written", "epoch", epoch, "validators", len(records))
	return nil
}
