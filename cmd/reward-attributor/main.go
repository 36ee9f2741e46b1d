// Copyright (c) 2024 The Jito Foundation developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/jito-foundation/kobe/internal/adminsrv"
	"github.com/jito-foundation/kobe/internal/attifact"
	"github.com/jito-foundation/kobe/internal/config"
	"github.com/jito-foundation/kobe/internal/rewards"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "reward-attributor")

func main() {
	priorityServersFlag := cli.StringFlag{Name: "priority-servers", Usage: "comma-separated server-name preference order for artifact selection"}
	progressFlag := cli.BoolFlag{Name: "progress", Usage: "show a console progress bar while downloading artifacts"}

	app := cli.App{
		Name:  "reward-attributor",
		Usage: "joins stake-meta/merkle-tree snapshot artifacts and writes validator_rewards/staker_rewards",
		Flags: config.Flags,
		Commands: []cli.Command{
			{
				Name:   "live",
				Usage:  "attribute the epoch given by --epoch (normally the most recently completed one)",
				Flags:  append(config.Flags, priorityServersFlag, progressFlag, cli.IntFlag{Name: "epoch", Usage: "epoch to attribute (required)", Value: -1}),
				Action: liveAction,
			},
			{
				Name:   "backfill",
				Usage:  "attribute a single historical epoch",
				Flags:  append(config.Flags, priorityServersFlag, progressFlag, cli.IntFlag{Name: "epoch", Usage: "epoch to attribute", Value: -1}),
				Action: backfillAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func liveAction(ctx *cli.Context) error {
	bucket, attributor, cfg, err := newAttributor(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	tracker := adminsrv.NewTracker()
	_, shutdown, err := adminsrv.StartServer(cfg.AdminAddr, tracker)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer shutdown()

	epoch := ctx.Int("epoch")
	if epoch < 0 {
		return cli.NewExitError("reward-attributor live requires --epoch (the caller determines the last completed epoch; this binary does not poll ChainGateway for it)", 1)
	}

	rootCtx := context.Background()
	if err := attributeEpoch(rootCtx, bucket, attributor, uint64(epoch), priorityServers(ctx)); err != nil {
		tracker.RecordRun("reward-attributor", err)
		return cli.NewExitError(err.Error(), 1)
	}
	tracker.RecordRun("reward-attributor", nil)
	return nil
}

func backfillAction(ctx *cli.Context) error {
	bucket, attributor, _, err := newAttributor(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	rawEpoch := ctx.Int("epoch")
	if rawEpoch < 0 {
		return cli.NewExitError("backfill requires --epoch", 1)
	}
	if err := attributeEpoch(context.Background(), bucket, attributor, uint64(rawEpoch), priorityServers(ctx)); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func newAttributor(ctx *cli.Context) (*attifact.Bucket, *rewards.Attributor, *config.Config, error) {
	cfg, err := config.FromContext(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	bucket, err := attifact.New(context.Background(), cfg.SnapshotBucket, bucketOpts(cfg)...)
	if err != nil {
		return nil, nil, nil, err
	}
	bucket.ShowProgress = ctx.Bool("progress")

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, nil, err
	}

	attributor := &rewards.Attributor{
		Store:                st,
		TipProgramID:         cfg.TipDistributionProgram,
		PriorityFeeProgramID: cfg.PriorityFeeDistributionProgram,
	}
	return bucket, attributor, &cfg, nil
}

// bucketOpts overrides the AWS SDK default credential chain only when
// the operator supplied an explicit access key; otherwise the bucket
// client falls back to env vars/shared config/instance role.
func bucketOpts(cfg config.Config) []func(*awsconfig.LoadOptions) error {
	if cfg.AWSAccessKeyID == "" {
		return nil
	}
	return []func(*awsconfig.LoadOptions) error{
		attifact.WithStaticCredentials(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken),
	}
}

func priorityServers(ctx *cli.Context) []string {
	raw := ctx.String("priority-servers")
	if raw == "" {
		return nil
	}
	var servers []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers
}

// attributeEpoch lists the bucket's epoch prefix, picks the
// stake-meta/merkle-tree artifact pair per the configured server
// preference order, downloads both, and runs the attribution join.
func attributeEpoch(ctx context.Context, bucket *attifact.Bucket, attributor *rewards.Attributor, epoch uint64, priorityServers []string) error {
	prefix := fmt.Sprintf("%d/", epoch)
	keys, err := bucket.ListUnderPrefix(ctx, prefix)
	if err != nil {
		return err
	}

	stakeMetaKey, ok := attifact.FindByNameFragment(keys, priorityServers, "stake-meta")
	if !ok {
		return fmt.Errorf("reward-attributor: no stake-meta artifact found under %s", prefix)
	}
	treeKey, ok := attifact.FindByNameFragment(keys, priorityServers, "merkle-tree")
	if !ok {
		return fmt.Errorf("reward-attributor: no merkle-tree artifact found under %s", prefix)
	}

	stakeMetaBytes, err := bucket.Download(ctx, stakeMetaKey)
	if err != nil {
		return errors.Wrap(err, "reward-attributor: download stake-meta")
	}
	treeBytes, err := bucket.Download(ctx, treeKey)
	if err != nil {
		return errors.Wrap(err, "reward-attributor: download merkle-tree")
	}

	var stakeMeta rewards.StakeMetaFile
	if err := json.Unmarshal(stakeMetaBytes, &stakeMeta); err != nil {
		return errors.Wrap(err, "reward-attributor: parse stake-meta")
	}
	var tree rewards.MerkleTreeFile
	if err := json.Unmarshal(treeBytes, &tree); err != nil {
		return errors.Wrap(err, "reward-attributor: parse merkle-tree")
	}

	if err := attributor.Attribute(epoch, stakeMeta, tree); err != nil {
		return err
	}
	logger.Info("epoch attributed", "epoch", epoch, "stake_meta_key", stakeMetaKey, "merkle_tree_key", treeKey)
	return nil
}
