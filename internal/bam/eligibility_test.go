package bam

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/model"
)

func fullHistory(epoch uint64, span uint64, mutate func(e uint64, s *HistorySample)) map[uint64]HistorySample {
	history := make(map[uint64]HistorySample)
	for e := epoch - span + 1; e <= epoch; e++ {
		s := HistorySample{
			Epoch:            e,
			Present:          true,
			ClientType:       ClientTypeBam,
			CommissionBps:    0,
			MevCommissionBps: 5,
			IsSuperminority:  false,
			VoteCredits:      970_000,
		}
		if mutate != nil {
			mutate(e, &s)
		}
		history[e] = s
	}
	return history
}

func baseInput(epoch uint64) EligibilityInput {
	history := fullHistory(epoch, 30, nil)
	maxCredits := make(map[uint64]uint64)
	for e := range history {
		maxCredits[e] = 1_000_000
	}
	return EligibilityInput{Epoch: epoch, History: history, MaxNetworkCredits: maxCredits}
}

func TestEvaluateEligibleHappyPath(t *testing.T) {
	require.Nil(t, Evaluate(baseInput(100)))
}

func TestEvaluateInsufficientHistory(t *testing.T) {
	in := baseInput(100)
	delete(in.History, 99)
	delete(in.History, 98)
	r := Evaluate(in)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonInsufficientHistory, r.Kind)
}

func TestEvaluateNotBamClient(t *testing.T) {
	in := baseInput(100)
	s := in.History[99]
	s.ClientType = "Jito"
	in.History[99] = s
	r := Evaluate(in)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonNotBamClient, r.Kind)
}

func TestEvaluateNonZeroCommission(t *testing.T) {
	in := baseInput(100)
	s := in.History[80]
	s.CommissionBps = 1
	in.History[80] = s
	r := Evaluate(in)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonNonZeroCommission, r.Kind)
}

func TestEvaluateMevCommissionBoundary(t *testing.T) {
	// exactly 10 (the threshold) is eligible; 11 is not.
	in10 := baseInput(100)
	s := in10.History[95]
	s.MevCommissionBps = 10
	in10.History[95] = s
	require.Nil(t, Evaluate(in10))

	in11 := baseInput(100)
	s = in11.History[95]
	s.MevCommissionBps = 11
	in11.History[95] = s
	r := Evaluate(in11)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonMevCommissionTooHigh, r.Kind)
}

func TestEvaluateSuperminority(t *testing.T) {
	in := baseInput(100)
	s := in.History[99]
	s.IsSuperminority = true
	in.History[99] = s
	r := Evaluate(in)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonSuperminority, r.Kind)
}

func TestEvaluateVoteCreditsBoundary(t *testing.T) {
	// floor(0.97 * 1_000_000) == 970_000 is eligible; one less is not.
	in := baseInput(100)
	s := in.History[99]
	s.VoteCredits = 970_000
	in.History[99] = s
	require.Nil(t, Evaluate(in))

	in2 := baseInput(100)
	s2 := in2.History[99]
	s2.VoteCredits = 969_999
	in2.History[99] = s2
	r := Evaluate(in2)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonVoteCreditsTooLow, r.Kind)
}

func TestEvaluateBlacklisted(t *testing.T) {
	in := baseInput(100)
	in.BlacklistedExternally = true
	r := Evaluate(in)
	require.NotNil(t, r)
	require.Equal(t, model.ReasonBlacklisted, r.Kind)
}

func TestAllocationBpsNoPreviousEpochForcesFloor(t *testing.T) {
	require.Equal(t, uint64(2_000), AllocationBps(10_000, 0, false))
}

func TestAllocationBpsRequiresBothEpochs(t *testing.T) {
	// current epoch qualifies for the top tier but the prior epoch doesn't:
	// hysteresis holds it to the highest tier both epochs jointly clear.
	require.Equal(t, uint64(5_000), AllocationBps(4_000, 3_000, true))
	require.Equal(t, uint64(10_000), AllocationBps(4_000, 4_000, true))
}

func TestAvailableDelegationBoundary(t *testing.T) {
	require.Equal(t, uint64(4_000_000), AvailableDelegation(10_000_000, 4_000))
}
