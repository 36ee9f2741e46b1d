package epochwriter

import (
	bin "github.com/gagliardetto/binary"
)

const distributionDiscriminatorSize = 8

// merkleRoot is the optional sub-account set once a distribution's
// Merkle tree has been uploaded.
type merkleRoot struct {
	Root              [32]byte
	MaxTotalClaim     uint64
	MaxNumNodes       uint64
	TotalFundsClaimed uint64
	NumNodesClaimed   uint64
}

// distributionAccount is the Borsh body shared by the tip-distribution
// and priority-fee-distribution Anchor accounts; the caller strips the
// 8-byte discriminator before decoding. Field order follows the
// upstream tip-distribution/priority-fee-distribution account shape;
// see DESIGN.md for this layout's grounding caveat.
type distributionAccount struct {
	ValidatorVoteAccount      [32]byte
	MerkleRootUploadAuthority [32]byte
	MerkleRoot                *merkleRoot `bin:"optional"`
	EpochCreatedAt            uint64
	ValidatorCommissionBps    uint16
	ExpiresAt                 uint64
	Bump                      uint8
}

// decodeDistributionAccount decodes a tip/priority-fee distribution
// account's validator-set commission, in bps. ok=false marks a
// too-short or malformed account; callers fall back to another source
// rather than treating it as fatal, matching validatorhistory.Decode's
// skip-on-malformed contract.
func decodeDistributionAccount(data []byte) (commissionBps uint16, ok bool) {
	if len(data) <= distributionDiscriminatorSize {
		return 0, false
	}
	var acct distributionAccount
	if err := bin.NewBorshDecoder(data[distributionDiscriminatorSize:]).Decode(&acct); err != nil {
		logger.Warn("distribution account decode failed", "err", err)
		return 0, false
	}
	return acct.ValidatorCommissionBps, true
}
