// Package model holds the document-store record types of spec §3. Every
// monetary amount is lamports (unsigned base units); every commission is
// basis points (0..=10_000); epoch numbers are uint64.
package model

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Validator is the per-epoch validator fact record. Key: (Epoch,
// VoteAccount) unique.
type Validator struct {
	Epoch    uint64 `json:"epoch"`
	Identity string `json:"identity_pubkey"`
	VoteAccount string `json:"vote_account"`

	ActiveStake      uint64 `json:"active_stake"`
	Delinquent       bool   `json:"delinquent"`
	RunningJito      bool   `json:"running_jito"`
	RunningBam       bool   `json:"running_bam"`
	MevCommissionBps *uint16 `json:"mev_commission_bps,omitempty"`
	MevRevenue       uint64 `json:"mev_revenue"`

	PriorityFeeCommissionBps uint16 `json:"priority_fee_commission_bps"`
	PriorityFeeRevenue       uint64 `json:"priority_fee_revenue"`

	PoolActiveStake     uint64 `json:"pool_active_stake"`
	PoolTransientStake  uint64 `json:"pool_transient_stake"`

	StakePercentBps     uint64 `json:"stake_percent_bps"`
	VoteCreditProportionBps uint64 `json:"vote_credit_proportion_bps"`

	InflationRewardLamports uint64 `json:"inflation_reward_lamports"`

	PoolEligible      bool `json:"pool_eligible"`
	DirectedStakeEligible bool `json:"directed_stake_eligible"`

	// Name and Keybase are the external validator-metadata feed's
	// identity overlay (epochwriter's ValidatorMetadata merge); absent when the
	// feed has no entry for this identity.
	Name    *string `json:"name,omitempty"`
	Keybase *string `json:"keybase,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// StakePoolSnapshot is the stake_pool_stats record. Key: Timestamp
// (hour-aligned).
type StakePoolSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Epoch     uint64    `json:"epoch"`

	ReserveLamports   uint64 `json:"reserve_lamports"`
	TotalLamports     uint64 `json:"total_lamports"`
	PoolTokenSupply   uint64 `json:"pool_token_supply"`
	MevRewardsEpochSum uint64 `json:"mev_rewards_epoch_sum"`

	APY float64 `json:"apy"`

	NumValidators  uint32 `json:"num_validators"`
	FeesCollected  uint64 `json:"fees_collected"`
	TotalNetworkStakedLamports uint64 `json:"total_network_staked_lamports"`
}

// ValidatorRewards is the validator_rewards record. Key: (Epoch,
// VoteAccount).
type ValidatorRewards struct {
	Epoch       uint64 `json:"epoch"`
	VoteAccount string `json:"vote_account"`

	MevRevenue          uint64 `json:"mev_revenue"`
	MevCommissionBps    uint16 `json:"mev_commission_bps"`
	PriorityFeeRevenue  uint64 `json:"priority_fee_revenue"`
	PriorityFeeCommissionBps uint16 `json:"priority_fee_commission_bps"`

	NumStakers   uint64 `json:"num_stakers"`
	ClaimStatus  solana.PublicKey `json:"claim_status"`
}

// StakerRewards is the staker_rewards record. Key: (Epoch, Claimant).
type StakerRewards struct {
	Epoch       uint64 `json:"epoch"`
	Claimant    string `json:"claimant"`

	StakeAuthority    string `json:"stake_authority"`
	WithdrawAuthority string `json:"withdraw_authority"`
	VoteAccount       string `json:"validator_vote_account"`

	TipAmount      uint64        `json:"tip_amount"`
	TipClaimStatus solana.PublicKey `json:"tip_claim_status"`

	PriorityFeeAmount      uint64        `json:"priority_fee_amount"`
	PriorityFeeClaimStatus solana.PublicKey `json:"priority_fee_claim_status"`
}

// StewardEventType enumerates the closed tagged union of §6.
type StewardEventType string

const (
	EventScoreComponents             StewardEventType = "ScoreComponents"
	EventScoreComponentsV3           StewardEventType = "ScoreComponentsV3"
	EventScoreComponentsV4           StewardEventType = "ScoreComponentsV4"
	EventInstantUnstakeComponents    StewardEventType = "InstantUnstakeComponents"
	EventInstantUnstakeComponentsV3  StewardEventType = "InstantUnstakeComponentsV3"
	EventDecreaseComponents          StewardEventType = "DecreaseComponents"
	EventRebalance                   StewardEventType = "RebalanceEvent"
	EventStateTransition             StewardEventType = "StateTransition"
	EventAutoAddValidator            StewardEventType = "AutoAddValidatorEvent"
	EventAutoRemoveValidator         StewardEventType = "AutoRemoveValidatorEvent"
	EventEpochMaintenance            StewardEventType = "EpochMaintenanceEvent"
)

// StewardEvent is the steward_events record. Key:
// (Signature, EventType, VoteAccount) upsert; secondary index on Slot.
type StewardEvent struct {
	Signature      string           `json:"signature"`
	InstructionIdx uint32           `json:"instruction_idx"`
	EventType      StewardEventType `json:"event_type"`
	VoteAccount    string           `json:"vote_account,omitempty"`

	Signer    string `json:"signer"`
	StakePool string `json:"stake_pool"`
	Epoch     uint64 `json:"epoch"`
	Slot      uint64 `json:"slot"`

	Metadata map[string]any `json:"metadata"`
	TxError  *string        `json:"tx_error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// IneligibilityReason is the tagged sum type of §4.5.
type IneligibilityReasonKind string

const (
	ReasonInsufficientHistory  IneligibilityReasonKind = "InsufficientHistory"
	ReasonNotBamClient         IneligibilityReasonKind = "NotBamClient"
	ReasonNonZeroCommission    IneligibilityReasonKind = "NonZeroCommission"
	ReasonMevCommissionTooHigh IneligibilityReasonKind = "MevCommissionTooHigh"
	ReasonSuperminority        IneligibilityReasonKind = "Superminority"
	ReasonVoteCreditsTooLow    IneligibilityReasonKind = "VoteCreditsTooLow"
	ReasonBlacklisted          IneligibilityReasonKind = "Blacklisted"
)

// IneligibilityReason identifies the first-failed criterion, including
// the epoch and numeric detail where applicable (§4.5).
type IneligibilityReason struct {
	Kind   IneligibilityReasonKind `json:"kind"`
	Epoch  *uint64                 `json:"epoch,omitempty"`
	Detail string                  `json:"detail,omitempty"`
}

// String renders a human-readable reason, persisted verbatim.
func (r IneligibilityReason) String() string {
	if r.Epoch != nil {
		return string(r.Kind) + ": " + r.Detail
	}
	return string(r.Kind)
}

// BamValidator is the bam_validators record. Key: (Epoch, VoteAccount).
type BamValidator struct {
	Epoch       uint64 `json:"epoch"`
	VoteAccount string `json:"vote_account"`

	ActiveStake uint64 `json:"active_stake"`
	Identity    string `json:"identity"`

	Eligible            bool                  `json:"eligible"`
	IneligibilityReason *IneligibilityReason  `json:"ineligibility_reason,omitempty"`
	DelegationScoreBps  *uint64               `json:"delegation_score_bps,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// BamDelegationBlacklistEntry is the bam_delegation_blacklist record: an
// operator-managed exclusion from BAM delegation sizing, independent of
// (and in addition to) the on-chain eligibility criteria. Key: VoteAccount.
type BamDelegationBlacklistEntry struct {
	VoteAccount string `json:"vote_account"`
	AddedEpoch  uint64 `json:"added_epoch"`
}

// BamEpochMetrics is the bam_epoch_metrics record. Key: Epoch unique.
type BamEpochMetrics struct {
	Epoch uint64 `json:"epoch"`

	BamStakeLamports     uint64 `json:"bam_stake_lamports"`
	TotalNetworkStake    uint64 `json:"total_network_stake"`
	JitosolStakeLamports uint64 `json:"jitosol_stake_lamports"`

	EligibleValidatorCount uint32 `json:"eligible_validator_count"`
	AllocationBps          uint64 `json:"allocation_bps"`
	AvailableBamDelegationStakeLamports uint64 `json:"available_bam_delegation_stake_lamports"`

	Timestamp time.Time `json:"timestamp"`
}
