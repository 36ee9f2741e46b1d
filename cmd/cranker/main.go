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
	"github.com/jito-foundation/kobe/internal/cranker"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/slack"
)

var logger = log15.New("pkg", "cranker")

func main() {
	app := cli.App{
		Name:  "cranker",
		Usage: "advances the stake pool's maintenance state at each epoch boundary",
		Flags: append(config.Flags,
			cli.BoolFlag{Name: "force", Usage: "run even if the pool already reports the current epoch"},
			cli.BoolFlag{Name: "dry-run", Usage: "build instructions but never submit them"},
			cli.BoolFlag{Name: "simulate", Usage: "submit via simulateTransaction instead of sendTransaction"},
		),
		Action: runAction,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAction(ctx *cli.Context) error {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	signer, err := loadSigner(cfg.SignerKeyPath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	mode := cranker.ModeSubmit
	if ctx.Bool("dry-run") {
		mode = cranker.ModeDryRun
	} else if ctx.Bool("simulate") {
		mode = cranker.ModeSimulate
	}

	c := &cranker.Cranker{
		Gateway:          rpc.New(cfg.RPCEndpoint),
		StakePool:        solana.MustPublicKeyFromBase58(cfg.StakePool),
		StakePoolProgram: solana.MustPublicKeyFromBase58(cfg.StakePoolProgram),
		Signer:           signer,
		Notifier:         slack.Notifier{WebhookURL: cfg.SlackWebhook},
		Mode:             mode,
	}

	tracker := adminsrv.NewTracker()
	_, shutdown, err := adminsrv.StartServer(cfg.AdminAddr, tracker)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer shutdown()

	runErr := c.Run(context.Background(), ctx.Bool("force"))
	tracker.RecordRun("cranker", runErr)
	if runErr != nil {
		return cli.NewExitError(runErr.Error(), 1)
	}
	logger.Info("crank run complete")
	return nil
}

func loadSigner(path string) (solana.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("cranker: --signer-key-path is required")
	}
	return solana.PrivateKeyFromSolanaKeygenFile(path)
}
