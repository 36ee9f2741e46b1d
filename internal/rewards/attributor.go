// Package rewards implements the RewardAttributor join/attribution
// algorithm (§4.3 steps 3-6) and the BAM-subsidy Merkle generator
// operation built atop internal/merkle.
package rewards

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/merkle"
	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/store"
)

var logger = log15.New("pkg", "rewards")

// ErrMalformedMerkleTree is returned when an artifact does not
// self-report the expected epoch, per §4.3 step 3.
var ErrMalformedMerkleTree = errors.New("rewards: artifact epoch mismatch")

// zeroPubkey is Pubkey::default(), the sentinel staker_pubkey identifying
// the validator's own claim leaf within a tip-distribution tree.
var zeroPubkey solana.PublicKey

// Attributor joins a stake-meta artifact with its paired merkle-tree
// artifact and writes validator_rewards / staker_rewards.
type Attributor struct {
	Store                 *store.Store
	TipProgramID          string
	PriorityFeeProgramID  string
}

// Attribute runs §4.3 steps 3-6 for epoch against the two already-
// downloaded artifacts. It is a no-op (idempotent) if staker_rewards
// already has any row for epoch.
func (a *Attributor) Attribute(epoch uint64, stakeMeta StakeMetaFile, tree MerkleTreeFile) error {
	if stakeMeta.Epoch != epoch || tree.Epoch != epoch {
		return errors.Wrapf(ErrMalformedMerkleTree, "epoch %d: stake-meta reports %d, merkle-tree reports %d", epoch, stakeMeta.Epoch, tree.Epoch)
	}

	already, err := a.Store.ExistsByIndex(store.CollectionStakerRewards, store.IndexByEpoch, store.EpochIndexValue(epoch))
	if err != nil {
		return errors.Wrap(err, "rewards: idempotence check")
	}
	if already {
		logger.Info("attribution already recorded, skipping", "epoch", epoch)
		return nil
	}

	byTipPDA, byPriorityPDA := indexStakeMetas(stakeMeta)

	validatorRewards := make(map[string]*model.ValidatorRewards)
	stakerRewards := make(map[stakerKey]*model.StakerRewards)

	for _, gt := range tree.GeneratedMerkleTrees {
		switch gt.DistributionProgram {
		case a.TipProgramID:
			if err := a.applyTipTree(epoch, gt, byTipPDA, validatorRewards, stakerRewards); err != nil {
				return err
			}
		case a.PriorityFeeProgramID:
			if err := a.applyPriorityFeeTree(epoch, gt, byPriorityPDA, validatorRewards, stakerRewards); err != nil {
				return err
			}
		default:
			return fmt.Errorf("rewards: unknown distribution_program %q", gt.DistributionProgram)
		}
	}

	if err := a.writeValidatorRewards(epoch, validatorRewards); err != nil {
		return err
	}
	return a.writeStakerRewards(epoch, stakerRewards)
}

type validatorMeta struct {
	voteAccount      string
	mevCommissionBps uint16
	priorityFeeCommissionBps uint16
}

func indexStakeMetas(sm StakeMetaFile) (byTipPDA, byPriorityPDA map[string]validatorMeta) {
	byTipPDA = make(map[string]validatorMeta)
	byPriorityPDA = make(map[string]validatorMeta)
	for _, m := range sm.StakeMetas {
		if m.MaybeTipDistributionMeta != nil {
			byTipPDA[m.MaybeTipDistributionMeta.PDA()] = validatorMeta{
				voteAccount:      m.ValidatorVoteAccount,
				mevCommissionBps: m.MaybeTipDistributionMeta.ValidatorFeeBps,
			}
		}
		if m.MaybePriorityFeeDistributionMeta != nil {
			byPriorityPDA[m.MaybePriorityFeeDistributionMeta.PDA()] = validatorMeta{
				voteAccount:              m.ValidatorVoteAccount,
				priorityFeeCommissionBps: m.MaybePriorityFeeDistributionMeta.ValidatorFeeBps,
			}
		}
	}
	return
}

type stakerKey struct {
	voteAccount string
	claimant    string
}

func (a *Attributor) applyTipTree(epoch uint64, gt GeneratedMerkleTree, byTipPDA map[string]validatorMeta, validatorRewards map[string]*model.ValidatorRewards, stakerRewards map[stakerKey]*model.StakerRewards) error {
	vm, ok := byTipPDA[gt.DistributionAccount]
	if !ok {
		return fmt.Errorf("rewards: no stake-meta entry for tip PDA %s", gt.DistributionAccount)
	}
	vr := validatorRewardsFor(validatorRewards, epoch, vm.voteAccount)
	vr.MevRevenue = gt.MaxTotalClaim
	vr.MevCommissionBps = vm.mevCommissionBps
	if uint64(len(gt.TreeNodes)) > vr.NumStakers {
		vr.NumStakers = uint64(len(gt.TreeNodes))
	}

	for _, leaf := range gt.TreeNodes {
		if isDefaultStaker(leaf.StakerPubkey) {
			vr.ClaimStatus = mustPubkey(leaf.ClaimStatusPubkey)
			continue
		}
		sr := stakerRewardsFor(stakerRewards, epoch, vm.voteAccount, leaf.Claimant)
		sr.TipAmount = leaf.Amount
		sr.TipClaimStatus = mustPubkey(leaf.ClaimStatusPubkey)
		sr.StakeAuthority = leaf.StakerPubkey
		sr.WithdrawAuthority = leaf.WithdrawerPubkey
	}
	return nil
}

func (a *Attributor) applyPriorityFeeTree(epoch uint64, gt GeneratedMerkleTree, byPriorityPDA map[string]validatorMeta, validatorRewards map[string]*model.ValidatorRewards, stakerRewards map[stakerKey]*model.StakerRewards) error {
	vm, ok := byPriorityPDA[gt.DistributionAccount]
	if !ok {
		return fmt.Errorf("rewards: no stake-meta entry for priority-fee PDA %s", gt.DistributionAccount)
	}
	vr := validatorRewardsFor(validatorRewards, epoch, vm.voteAccount)
	vr.PriorityFeeRevenue = gt.MaxTotalClaim
	vr.PriorityFeeCommissionBps = vm.priorityFeeCommissionBps
	if uint64(len(gt.TreeNodes)) > vr.NumStakers {
		vr.NumStakers = uint64(len(gt.TreeNodes))
	}

	for _, leaf := range gt.TreeNodes {
		sr := stakerRewardsFor(stakerRewards, epoch, vm.voteAccount, leaf.Claimant)
		sr.PriorityFeeAmount = leaf.Amount
		sr.PriorityFeeClaimStatus = mustPubkey(leaf.ClaimStatusPubkey)
		if sr.StakeAuthority == "" {
			sr.StakeAuthority = leaf.StakerPubkey
		}
		if sr.WithdrawAuthority == "" {
			sr.WithdrawAuthority = leaf.WithdrawerPubkey
		}
	}
	return nil
}

func validatorRewardsFor(m map[string]*model.ValidatorRewards, epoch uint64, voteAccount string) *model.ValidatorRewards {
	if vr, ok := m[voteAccount]; ok {
		return vr
	}
	vr := &model.ValidatorRewards{Epoch: epoch, VoteAccount: voteAccount}
	m[voteAccount] = vr
	return vr
}

func stakerRewardsFor(m map[stakerKey]*model.StakerRewards, epoch uint64, voteAccount, claimant string) *model.StakerRewards {
	key := stakerKey{voteAccount: voteAccount, claimant: claimant}
	if sr, ok := m[key]; ok {
		return sr
	}
	sr := &model.StakerRewards{Epoch: epoch, Claimant: claimant, VoteAccount: voteAccount}
	m[key] = sr
	return sr
}

func isDefaultStaker(stakerPubkey string) bool {
	if stakerPubkey == "" {
		return true
	}
	return mustPubkey(stakerPubkey).Equals(zeroPubkey)
}

func mustPubkey(s string) solana.PublicKey {
	if s == "" {
		return zeroPubkey
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		logger.Warn("malformed pubkey in artifact, substituting zero key", "value", s, "err", err)
		return zeroPubkey
	}
	return pk
}

func (a *Attributor) writeValidatorRewards(epoch uint64, rows map[string]*model.ValidatorRewards) error {
	items := make([]store.BulkItem, 0, len(rows))
	for _, vr := range rows {
		items = append(items, store.BulkItem{
			Key: store.ValidatorRewardsKey(epoch, vr.VoteAccount),
			Doc: vr,
			Indexes: map[string]string{
				store.IndexByEpoch: store.EpochIndexValue(epoch),
			},
		})
	}
	return a.Store.BulkPut(store.CollectionValidatorRewards, items, 100, sleepBetweenChunks)
}

func (a *Attributor) writeStakerRewards(epoch uint64, rows map[stakerKey]*model.StakerRewards) error {
	items := make([]store.BulkItem, 0, len(rows))
	for key, sr := range rows {
		items = append(items, store.BulkItem{
			Key: store.StakerRewardsKey(epoch, key.claimant),
			Doc: sr,
			Indexes: map[string]string{
				store.IndexByEpoch: store.EpochIndexValue(epoch),
			},
		})
	}
	return a.Store.BulkPut(store.CollectionStakerRewards, items, 100, sleepBetweenChunks)
}

func sleepBetweenChunks() {
	time.Sleep(50 * time.Millisecond)
}

// GenerateBamSubsidyTree is the BAM-subsidy Merkle generator operation of
// §4.3's closing paragraph: dedup + build + validate a distribution tree
// from raw (claimant, amount) entries, entirely via internal/merkle.
func GenerateBamSubsidyTree(entries []merkle.Entry) (*merkle.Tree, error) {
	tree, err := merkle.Build(entries)
	if err != nil {
		return nil, errors.Wrap(err, "rewards: bam-subsidy tree generation")
	}
	logger.Info("generated bam-subsidy tree", "root", tree.RootHex(), "num_nodes", tree.MaxNumNodes, "max_total_claim", tree.MaxTotalClaim)
	return tree, nil
}
