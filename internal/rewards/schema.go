package rewards

// StakeMetaFile is the minimum schema of the stake-meta artifact (§6).
type StakeMetaFile struct {
	Epoch                             uint64      `json:"epoch"`
	Slot                               uint64      `json:"slot"`
	TipDistributionProgramID          string      `json:"tip_distribution_program_id"`
	PriorityFeeDistributionProgramID  string      `json:"priority_fee_distribution_program_id"`
	StakeMetas                        []StakeMeta `json:"stake_metas"`
}

// StakeMeta is one validator's entry in the stake-meta artifact.
type StakeMeta struct {
	ValidatorVoteAccount             string            `json:"validator_vote_account"`
	ValidatorNodePubkey              string            `json:"validator_node_pubkey"`
	MaybeTipDistributionMeta         *DistributionMeta `json:"maybe_tip_distribution_meta,omitempty"`
	MaybePriorityFeeDistributionMeta *DistributionMeta `json:"maybe_priority_fee_distribution_meta,omitempty"`
	TotalDelegated                   uint64            `json:"total_delegated"`
	Commission                       uint8             `json:"commission"`
}

// DistributionMeta carries whichever PDA field applies (tip or priority
// fee) plus the commission/total-tips shared shape. Only one of the two
// pubkey fields is ever populated on a given instance, matching the
// artifact's own two distinct maybe_* slots.
type DistributionMeta struct {
	TipDistributionPubkey         string `json:"tip_distribution_pubkey,omitempty"`
	PriorityFeeDistributionPubkey string `json:"priority_fee_distribution_pubkey,omitempty"`
	ValidatorFeeBps               uint16 `json:"validator_fee_bps"`
	TotalTips                     uint64 `json:"total_tips"`
}

// PDA returns whichever pubkey field is populated.
func (d DistributionMeta) PDA() string {
	if d.TipDistributionPubkey != "" {
		return d.TipDistributionPubkey
	}
	return d.PriorityFeeDistributionPubkey
}

// MerkleTreeFile is the minimum schema of the merkle-tree artifact (§6).
type MerkleTreeFile struct {
	Epoch                uint64                `json:"epoch"`
	Slot                 uint64                `json:"slot"`
	BankHash             string                `json:"bank_hash"`
	GeneratedMerkleTrees []GeneratedMerkleTree `json:"generated_merkle_trees"`
}

// GeneratedMerkleTree is one program's distribution tree within the
// artifact.
type GeneratedMerkleTree struct {
	DistributionProgram string             `json:"distribution_program"`
	DistributionAccount string             `json:"distribution_account"`
	MerkleRoot           string             `json:"merkle_root"`
	TreeNodes            []ArtifactTreeNode `json:"tree_nodes"`
	MaxTotalClaim        uint64             `json:"max_total_claim"`
	MaxNumNodes          uint64             `json:"max_num_nodes"`
}

// ArtifactTreeNode is a single claimant leaf as persisted in the
// merkle-tree artifact.
type ArtifactTreeNode struct {
	Claimant          string      `json:"claimant"`
	ClaimStatusPubkey string      `json:"claim_status_pubkey"`
	ClaimStatusBump   uint8       `json:"claim_status_bump"`
	StakerPubkey      string      `json:"staker_pubkey"`
	WithdrawerPubkey  string      `json:"withdrawer_pubkey"`
	Amount            uint64      `json:"amount"`
	Proof             [][32]byte  `json:"proof,omitempty"`
}
