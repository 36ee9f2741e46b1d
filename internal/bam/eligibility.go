// Package bam implements BamSizer (§4.5): the eligibility predicate, the
// hysteresis tier table, and the run cycle that persists bam_validators
// and bam_epoch_metrics.
package bam

import (
	"fmt"

	"github.com/jito-foundation/kobe/internal/bps"
	"github.com/jito-foundation/kobe/internal/model"
)

// HistorySample is one epoch's worth of ValidatorHistory facts, as
// decoded from the ring buffer. A zero-value Present=false entry means
// the epoch has no recorded sample (§4.5: "every present entry").
type HistorySample struct {
	Epoch            uint64
	Present          bool
	ClientType       string
	CommissionBps    uint16
	MevCommissionBps uint16
	IsSuperminority  bool
	VoteCredits      uint64
}

const (
	ClientTypeBam = "Bam"
)

// EligibilityInput bundles everything the predicate needs for one
// validator at epoch E.
type EligibilityInput struct {
	Epoch                uint64
	History              map[uint64]HistorySample // keyed by epoch
	MaxNetworkCredits     map[uint64]uint64        // network max vote credits per epoch
	BlacklistedOnChain    bool
	BlacklistedExternally bool
}

// window returns the inclusive [from, to] epoch range, newest last.
func window(to uint64, span uint64) []uint64 {
	epochs := make([]uint64, 0, span)
	for e := to - span + 1; e <= to; e++ {
		epochs = append(epochs, e)
	}
	return epochs
}

// Evaluate runs the five-criterion eligibility predicate of §4.5 and
// returns the first-failed reason, or nil if eligible.
func Evaluate(in EligibilityInput) *model.IneligibilityReason {
	e := in.Epoch

	present3 := presentCount(in.History, window(e-1, 3))
	if present3 < 3 {
		return reason(model.ReasonInsufficientHistory, 0, fmt.Sprintf("only %d of 3 epochs present in [%d,%d]", present3, e-3, e-1))
	}

	for _, ep := range window(e-1, 3) {
		s, ok := in.History[ep]
		if !ok || !s.Present {
			continue
		}
		if s.ClientType != ClientTypeBam {
			return reason(model.ReasonNotBamClient, ep, fmt.Sprintf("client_type=%s at epoch %d", s.ClientType, ep))
		}
	}

	for _, ep := range window(e-1, 30) {
		s, ok := in.History[ep]
		if !ok || !s.Present {
			continue
		}
		if s.CommissionBps != 0 {
			return reason(model.ReasonNonZeroCommission, ep, fmt.Sprintf("commission=%d at epoch %d", s.CommissionBps, ep))
		}
	}

	for _, ep := range window(e-1, 10) {
		s, ok := in.History[ep]
		if !ok || !s.Present {
			continue
		}
		if s.MevCommissionBps > 10 {
			return reason(model.ReasonMevCommissionTooHigh, ep, fmt.Sprintf("mev_commission=%d at epoch %d", s.MevCommissionBps, ep))
		}
	}

	for _, ep := range window(e-1, 3) {
		s, ok := in.History[ep]
		if !ok || !s.Present {
			continue
		}
		if s.IsSuperminority {
			return reason(model.ReasonSuperminority, ep, fmt.Sprintf("superminority at epoch %d", ep))
		}
	}

	for _, ep := range window(e-1, 3) {
		s, ok := in.History[ep]
		if !ok || !s.Present {
			continue
		}
		maxCredits := in.MaxNetworkCredits[ep]
		threshold := voteCreditsThreshold(maxCredits)
		if s.VoteCredits < threshold {
			return reason(model.ReasonVoteCreditsTooLow, ep, fmt.Sprintf("credits=%d < threshold=%d at epoch %d", s.VoteCredits, threshold, ep))
		}
	}

	if in.BlacklistedOnChain || in.BlacklistedExternally {
		return reason(model.ReasonBlacklisted, 0, "")
	}

	return nil
}

// voteCreditsThreshold computes floor(0.97 * max) without floating point,
// matching §8's exact boundary ("credits == floor(0.97 * max) is
// eligible; one less is not").
func voteCreditsThreshold(maxCredits uint64) uint64 {
	return maxCredits * 97 / 100
}

func presentCount(history map[uint64]HistorySample, epochs []uint64) int {
	n := 0
	for _, e := range epochs {
		if s, ok := history[e]; ok && s.Present {
			n++
		}
	}
	return n
}

func reason(kind model.IneligibilityReasonKind, epoch uint64, detail string) *model.IneligibilityReason {
	r := &model.IneligibilityReason{Kind: kind, Detail: detail}
	if epoch != 0 {
		r.Epoch = &epoch
	}
	return r
}

// TierThresholds is the stakeweight -> allocation table of §4.5, ordered
// ascending by threshold.
var TierThresholds = []struct {
	ThresholdBps uint64
	AllocationBps uint64
}{
	{0, 2_000},
	{2_000, 3_000},
	{2_500, 4_000},
	{3_000, 5_000},
	{3_500, 7_000},
	{4_000, 10_000},
}

// AllocationBps implements the two-epoch hysteresis of §4.5: the highest
// tier whose threshold is met by BOTH sw(E) and sw(E-1). Absence of E-1
// data (hasPrev=false) forces the initial 2_000 tier.
func AllocationBps(swCurrent uint64, swPrev uint64, hasPrev bool) uint64 {
	if !hasPrev {
		return 2_000
	}
	allocation := uint64(2_000)
	for _, tier := range TierThresholds {
		if swCurrent >= tier.ThresholdBps && swPrev >= tier.ThresholdBps {
			allocation = tier.AllocationBps
		}
	}
	return allocation
}

// Stakeweight computes floor(bamStake * 10_000 / totalStake) via
// saturating 128-bit-intermediate arithmetic (internal/bps).
func Stakeweight(bamStake, totalStake uint64) uint64 {
	return bps.StakeweightBps(bamStake, totalStake)
}

// AvailableDelegation computes floor(jitosolTVL * allocationBps / 10_000).
func AvailableDelegation(jitosolTVL, allocationBps uint64) uint64 {
	return bps.ApplyBps(jitosolTVL, allocationBps)
}
