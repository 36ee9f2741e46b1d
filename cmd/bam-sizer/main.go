// Copyright (c) 2024 The Jito Foundation developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/jito-foundation/kobe/internal/adminsrv"
	"github.com/jito-foundation/kobe/internal/bam"
	"github.com/jito-foundation/kobe/internal/config"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/scheduler"
	"github.com/jito-foundation/kobe/internal/store"
	"github.com/jito-foundation/kobe/internal/validatorhistory"
)

var logger = log15.New("pkg", "bam-sizer")

func main() {
	app := cli.App{
		Name:  "bam-sizer",
		Usage: "computes BAM validator eligibility and delegation allocation at epoch-progress ticks",
		Flags: append(config.Flags,
			cli.StringFlag{Name: "eligibility-bypass-file", Usage: "newline-separated vote accounts that bypass eligibility"},
			cli.StringFlag{Name: "blacklist-file", Usage: "newline-separated externally-blacklisted vote accounts"},
			cli.Int64Flag{Name: "fixed-delegation-lamports", Value: -1, Usage: "if set, every eligible validator gets exactly this much delegation"},
			cli.Int64Flag{Name: "jitosol-tvl-lamports", Usage: "JitoSOL total value locked, in lamports"},
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

	gw := rpc.New(cfg.RPCEndpoint)
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	overrides, err := loadOverrides(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	blacklistFile, err := loadVoteAccountSet(ctx.String("blacklist-file"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	runner := &bam.Runner{Gateway: gw, Store: st, Overrides: overrides}
	jitosolTVL := uint64(ctx.Int64("jitosol-tvl-lamports"))
	validatorHistoryProgram := solana.MustPublicKeyFromBase58(cfg.ValidatorHistoryProgram)

	sched := scheduler.New(nil)
	_, shutdown, err := adminsrv.StartServer(cfg.AdminAddr, sched.Tracker())
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer shutdown()

	fired := make(map[float64]uint64) // threshold -> last epoch fired
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(rootCtx, scheduler.Task{
		Name: "bam-sizer",
		ProgressTrigger: func(ctx context.Context) (bool, error) {
			info, err := gw.GetEpochInfo(ctx)
			if err != nil {
				return false, err
			}
			progress := float64(info.SlotIndex) / float64(info.SlotsInEpoch)
			for _, threshold := range bam.ProgressThresholds {
				if progress < threshold {
					continue
				}
				if fired[threshold] == info.Epoch {
					continue
				}
				alreadyFired, err := runner.ThresholdFired(info.Epoch, threshold)
				if err != nil {
					return false, err
				}
				if alreadyFired {
					fired[threshold] = info.Epoch
					continue
				}
				fired[threshold] = info.Epoch
				return true, nil
			}
			return false, nil
		},
		Run: func(ctx context.Context) error {
			info, err := gw.GetEpochInfo(ctx)
			if err != nil {
				return err
			}
			epochCtx, err := buildEpochContext(ctx, gw, st, validatorHistoryProgram, info.Epoch, jitosolTVL, blacklistFile)
			if err != nil {
				return err
			}
			if _, err := runner.RunTick(ctx, epochCtx); err != nil {
				return err
			}
			for _, threshold := range bam.ProgressThresholds {
				if fired[threshold] == info.Epoch {
					if err := runner.MarkThresholdFired(info.Epoch, threshold); err != nil {
						return err
					}
				}
			}
			logger.Info("bam run cycle complete", "epoch", info.Epoch)
			return nil
		},
	})
	sched.Wait()
	return nil
}

func loadOverrides(ctx *cli.Context) (bam.Overrides, error) {
	bypass, err := loadVoteAccountSet(ctx.String("eligibility-bypass-file"))
	if err != nil {
		return bam.Overrides{}, err
	}
	overrides := bam.Overrides{EligibilityBypass: bypass}
	if fixed := ctx.Int64("fixed-delegation-lamports"); fixed >= 0 {
		v := uint64(fixed)
		overrides.FixedDelegationLamports = &v
	}
	return overrides, nil
}

func loadVoteAccountSet(path string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	if path == "" {
		return set, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bam-sizer: open %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		set[line] = struct{}{}
	}
	return set, scanner.Err()
}

// buildEpochContext fetches vote accounts and their decoded
// ValidatorHistory samples, precomputes the per-epoch network max vote
// credits, and assembles one bam.ValidatorState per validator. The
// operator-supplied blacklist file is synced into the persisted
// bam_delegation_blacklist collection (§6) so the external-blacklist
// check reads from the real store on every run cycle rather than from a
// value threaded through process memory.
func buildEpochContext(ctx context.Context, gw *rpc.ChainGateway, st *store.Store, validatorHistoryProgram solana.PublicKey, epoch, jitosolTVL uint64, blacklistFile map[string]struct{}) (bam.EpochContext, error) {
	if len(blacklistFile) > 0 {
		if err := bam.SyncBlacklist(st, blacklistFile, epoch); err != nil {
			return bam.EpochContext{}, err
		}
	}
	blacklist, err := bam.LoadBlacklist(st)
	if err != nil {
		return bam.EpochContext{}, err
	}

	voteAccounts, err := gw.GetVoteAccounts(ctx)
	if err != nil {
		return bam.EpochContext{}, err
	}

	var totalStake uint64
	histories := make(map[string]map[uint64]bam.HistorySample, len(voteAccounts))
	maxCredits := make(map[uint64]uint64)

	for _, va := range voteAccounts {
		totalStake += va.ActivatedStake

		pda, _, err := solana.FindProgramAddress([][]byte{[]byte("validator-history"), va.NodePubkey.Bytes()}, validatorHistoryProgram)
		if err != nil {
			continue
		}
		acc, err := gw.GetCachedAccount(ctx, pda, validatorHistoryProgram)
		if err != nil || acc == nil || acc.Missing || len(acc.Data) == 0 {
			continue
		}
		samples, err := validatorhistory.Decode(acc.Data)
		if err != nil {
			logger.Warn("validator-history decode failed", "identity", va.NodePubkey, "err", err)
			continue
		}
		histories[va.VotePubkey.String()] = samples
		for e, s := range samples {
			if s.VoteCredits > maxCredits[e] {
				maxCredits[e] = s.VoteCredits
			}
		}
	}

	validators := make([]bam.ValidatorState, 0, len(voteAccounts))
	for _, va := range voteAccounts {
		voteKey := va.VotePubkey.String()
		_, blacklisted := blacklist[voteKey]
		validators = append(validators, bam.ValidatorState{
			VoteAccount: voteKey,
			Identity:    va.NodePubkey.String(),
			ActiveStake: va.ActivatedStake,
			Eligibility: bam.EligibilityInput{
				Epoch:                 epoch,
				History:                histories[voteKey],
				MaxNetworkCredits:      maxCredits,
				BlacklistedExternally:  blacklisted,
			},
		})
	}

	return bam.EpochContext{
		Epoch:              epoch,
		JitosolTVLLamports: jitosolTVL,
		TotalNetworkStake:  totalStake,
		Validators:         validators,
	}, nil
}
