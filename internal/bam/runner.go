package bam

import (
	"context"
	"fmt"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "bam")

// ProgressThresholds are the default epoch-progress tick points of §4.5
// ("e.g. 50/75/90%").
var ProgressThresholds = []float64{0.50, 0.75, 0.90}

// Overrides implements §4.5's two independent override modes.
type Overrides struct {
	// EligibilityBypass lists vote accounts that bypass eligibility and
	// are marked eligible unconditionally (mode a).
	EligibilityBypass map[string]struct{}
	// FixedDelegationLamports, when non-nil, bypasses tier computation
	// entirely: every eligible validator receives this fixed amount
	// (mode b).
	FixedDelegationLamports *uint64
}

// ValidatorState bundles one validator's per-epoch inputs for a run.
type ValidatorState struct {
	VoteAccount string
	Identity    string
	ActiveStake uint64
	Eligibility EligibilityInput
}

// EpochContext is everything one tick of the run cycle needs, per §4.5's
// "fetch epoch info, pool total lamports, vote accounts, validator-history
// accounts, steward-config bitmap, an external blacklist list".
type EpochContext struct {
	Epoch             uint64
	JitosolTVLLamports uint64
	TotalNetworkStake uint64
	Validators        []ValidatorState
}

// Runner drives the BAM run cycle and persists its outputs.
type Runner struct {
	Gateway   *rpc.ChainGateway
	Store     *store.Store
	Overrides Overrides
}

// RunTick implements §4.5's run cycle body: idempotent per (epoch,
// threshold) — callers are expected to track which thresholds have
// already fired for the current epoch (ThresholdFired/MarkThresholdFired)
// and skip re-invoking RunTick for an already-fired threshold. It
// resolves the two-epoch hysteresis against the previous epoch's
// persisted metrics before delegating to the per-validator bookkeeping.
func (r *Runner) RunTick(ctx context.Context, in EpochContext) (model.BamEpochMetrics, error) {
	var prev model.BamEpochMetrics
	hasPrev, err := r.Store.Get(store.CollectionBamEpochMetrics, store.BamEpochMetricsKey(in.Epoch-1), &prev)
	if err != nil {
		return model.BamEpochMetrics{}, errors.Wrap(err, "bam: read previous epoch metrics")
	}

	var bamStake uint64
	for _, v := range in.Validators {
		if _, bypassed := r.Overrides.EligibilityBypass[v.VoteAccount]; bypassed {
			bamStake += v.ActiveStake
			continue
		}
		if Evaluate(v.Eligibility) == nil {
			bamStake += v.ActiveStake
		}
	}
	swCurrent := Stakeweight(bamStake, in.TotalNetworkStake)
	var swPrev uint64
	if hasPrev {
		swPrev = Stakeweight(prev.BamStakeLamports, prev.TotalNetworkStake)
	}
	allocationBps := AllocationBps(swCurrent, swPrev, hasPrev)
	available := AvailableDelegation(in.JitosolTVLLamports, allocationBps)

	metrics, err := r.runWithAllocation(in, allocationBps, available)
	if err != nil {
		return model.BamEpochMetrics{}, err
	}
	return metrics, nil
}

func (r *Runner) runWithAllocation(in EpochContext, allocationBps, available uint64) (model.BamEpochMetrics, error) {
	now := time.Now().UTC()
	var bamStake uint64
	rows := make([]model.BamValidator, 0, len(in.Validators))
	eligibleCount := 0

	for _, v := range in.Validators {
		row := model.BamValidator{
			Epoch:       in.Epoch,
			VoteAccount: v.VoteAccount,
			ActiveStake: v.ActiveStake,
			Identity:    v.Identity,
			Timestamp:   now,
		}
		if _, bypassed := r.Overrides.EligibilityBypass[v.VoteAccount]; bypassed {
			row.Eligible = true
		} else if reason := Evaluate(v.Eligibility); reason != nil {
			row.IneligibilityReason = reason
		} else {
			row.Eligible = true
		}
		if row.Eligible {
			bamStake += v.ActiveStake
			eligibleCount++
		}
		rows = append(rows, row)
	}

	if eligibleCount > 0 {
		var perValidator uint64
		if r.Overrides.FixedDelegationLamports != nil {
			perValidator = *r.Overrides.FixedDelegationLamports
		} else {
			perValidator = available / uint64(eligibleCount)
		}
		for i := range rows {
			if rows[i].Eligible {
				score := perValidator
				rows[i].DelegationScoreBps = &score
			}
		}
	}

	if err := r.persistValidators(in.Epoch, rows); err != nil {
		return model.BamEpochMetrics{}, err
	}

	metrics := model.BamEpochMetrics{
		Epoch:                               in.Epoch,
		BamStakeLamports:                    bamStake,
		TotalNetworkStake:                   in.TotalNetworkStake,
		JitosolStakeLamports:                in.JitosolTVLLamports,
		EligibleValidatorCount:              uint32(eligibleCount),
		AllocationBps:                       allocationBps,
		AvailableBamDelegationStakeLamports: available,
		Timestamp:                           now,
	}
	if err := r.persistMetrics(metrics); err != nil {
		return model.BamEpochMetrics{}, err
	}
	logger.Info("bam run tick complete", "epoch", in.Epoch, "eligible", eligibleCount, "allocation_bps", allocationBps, "available", available)
	return metrics, nil
}

func (r *Runner) persistValidators(epoch uint64, rows []model.BamValidator) error {
	items := make([]store.BulkItem, len(rows))
	for i, row := range rows {
		items[i] = store.BulkItem{
			Key: store.BamValidatorKey(epoch, row.VoteAccount),
			Doc: row,
			Indexes: map[string]string{
				store.IndexByEpoch: store.EpochIndexValue(epoch),
			},
		}
	}
	return r.Store.BulkPut(store.CollectionBamValidators, items, 100, func() { time.Sleep(50 * time.Millisecond) })
}

func (r *Runner) persistMetrics(m model.BamEpochMetrics) error {
	return r.Store.Put(store.CollectionBamEpochMetrics, store.BamEpochMetricsKey(m.Epoch), m, map[string]string{
		store.IndexByEpoch: store.EpochIndexValue(m.Epoch),
	})
}

// ThresholdFired reports whether threshold (e.g. 0.75) has already been
// recorded as fired for epoch, using bam_boost_validators as a firing
// ledger keyed by (epoch, threshold) — the idempotent-per-threshold
// contract of §4.5.
func (r *Runner) ThresholdFired(epoch uint64, threshold float64) (bool, error) {
	var fired struct{}
	return r.Store.Get(store.CollectionBamBoostValidators, fmt.Sprintf("%020d/%.2f", epoch, threshold), &fired)
}

// MarkThresholdFired records that threshold has fired for epoch.
func (r *Runner) MarkThresholdFired(epoch uint64, threshold float64) error {
	return r.Store.Put(store.CollectionBamBoostValidators, fmt.Sprintf("%020d/%.2f", epoch, threshold), struct {
		FiredAt time.Time `json:"fired_at"`
	}{FiredAt: time.Now().UTC()}, nil)
}
