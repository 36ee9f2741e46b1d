package bam

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func eligibleValidator(voteAccount string, stake uint64) ValidatorState {
	return ValidatorState{
		VoteAccount: voteAccount,
		Identity:    voteAccount + "-identity",
		ActiveStake: stake,
		Eligibility: EligibilityInput{Epoch: 100}, // zero History -> InsufficientHistory unless bypassed
	}
}

func TestRunTickFirstEpochHasNoPreviousMetricsAndForcesFloorTier(t *testing.T) {
	r := &Runner{Store: openTestStore(t), Overrides: Overrides{EligibilityBypass: map[string]struct{}{"v1": {}}}}
	metrics, err := r.RunTick(context.Background(), EpochContext{
		Epoch:              100,
		JitosolTVLLamports: 10_000_000,
		TotalNetworkStake:  1_000_000,
		Validators:         []ValidatorState{eligibleValidator("v1", 1_000_000)},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2_000), metrics.AllocationBps)
	require.Equal(t, uint32(1), metrics.EligibleValidatorCount)
}

func TestRunTickIneligibleValidatorsGetNoDelegation(t *testing.T) {
	r := &Runner{Store: openTestStore(t)}
	metrics, err := r.RunTick(context.Background(), EpochContext{
		Epoch:              100,
		JitosolTVLLamports: 10_000_000,
		TotalNetworkStake:  1_000_000,
		Validators:         []ValidatorState{eligibleValidator("v1", 1_000_000)}, // not bypassed, insufficient history
	})
	require.NoError(t, err)
	require.Equal(t, uint32(0), metrics.EligibleValidatorCount)
	require.Equal(t, uint64(0), metrics.BamStakeLamports)
}

func TestRunTickFixedDelegationOverrideAppliesToEveryEligibleValidator(t *testing.T) {
	fixed := uint64(777)
	r := &Runner{
		Store: openTestStore(t),
		Overrides: Overrides{
			EligibilityBypass:       map[string]struct{}{"v1": {}, "v2": {}},
			FixedDelegationLamports: &fixed,
		},
	}
	_, err := r.RunTick(context.Background(), EpochContext{
		Epoch:              100,
		JitosolTVLLamports: 10_000_000,
		TotalNetworkStake:  2_000_000,
		Validators: []ValidatorState{
			eligibleValidator("v1", 1_000_000),
			eligibleValidator("v2", 1_000_000),
		},
	})
	require.NoError(t, err)

	var row model.BamValidator
	ok, err := r.Store.Get(store.CollectionBamValidators, store.BamValidatorKey(100, "v1"), &row)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, row.DelegationScoreBps)
	require.Equal(t, fixed, *row.DelegationScoreBps)
}

func TestRunTickUsesHysteresisAgainstPersistedPreviousEpoch(t *testing.T) {
	st := openTestStore(t)
	require.NoError(t, st.Put(store.CollectionBamEpochMetrics, store.BamEpochMetricsKey(99), model.BamEpochMetrics{
		Epoch:             99,
		BamStakeLamports:  400_000,
		TotalNetworkStake: 1_000_000, // sw(99) == 4_000 bps, top tier
	}, nil))

	r := &Runner{Store: st, Overrides: Overrides{EligibilityBypass: map[string]struct{}{"v1": {}}}}
	metrics, err := r.RunTick(context.Background(), EpochContext{
		Epoch:              100,
		JitosolTVLLamports: 10_000_000,
		TotalNetworkStake:  1_000_000,
		Validators:         []ValidatorState{eligibleValidator("v1", 400_000)}, // sw(100) == 4_000 bps too
	})
	require.NoError(t, err)
	require.Equal(t, uint64(10_000), metrics.AllocationBps)
}

func TestThresholdFiredIdempotence(t *testing.T) {
	r := &Runner{Store: openTestStore(t)}
	fired, err := r.ThresholdFired(100, 0.75)
	require.NoError(t, err)
	require.False(t, fired)

	require.NoError(t, r.MarkThresholdFired(100, 0.75))

	fired, err = r.ThresholdFired(100, 0.75)
	require.NoError(t, err)
	require.True(t, fired)

	// a different threshold for the same epoch is independently unfired.
	fired, err = r.ThresholdFired(100, 0.90)
	require.NoError(t, err)
	require.False(t, fired)
}
