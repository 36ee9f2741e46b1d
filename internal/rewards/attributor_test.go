package rewards

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/merkle"
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

func TestAttributeRejectsEpochMismatch(t *testing.T) {
	a := &Attributor{Store: openTestStore(t), TipProgramID: "tip", PriorityFeeProgramID: "pf"}
	err := a.Attribute(5, StakeMetaFile{Epoch: 5}, MerkleTreeFile{Epoch: 6})
	require.ErrorIs(t, err, ErrMalformedMerkleTree)
}

func TestAttributeSplitsTipAndPriorityFeeRevenue(t *testing.T) {
	st := openTestStore(t)
	a := &Attributor{Store: st, TipProgramID: "tip-program", PriorityFeeProgramID: "pf-program"}

	validatorVote := "validator-vote-account"
	claimant := "staker-claimant"

	stakeMeta := StakeMetaFile{
		Epoch: 10,
		StakeMetas: []StakeMeta{
			{
				ValidatorVoteAccount: validatorVote,
				MaybeTipDistributionMeta: &DistributionMeta{
					TipDistributionPubkey: "tip-pda",
					ValidatorFeeBps:       500,
				},
				MaybePriorityFeeDistributionMeta: &DistributionMeta{
					PriorityFeeDistributionPubkey: "pf-pda",
					ValidatorFeeBps:                400,
				},
			},
		},
	}
	tree := MerkleTreeFile{
		Epoch: 10,
		GeneratedMerkleTrees: []GeneratedMerkleTree{
			{
				DistributionProgram: "tip-program",
				DistributionAccount: "tip-pda",
				MaxTotalClaim:        190,
				TreeNodes: []ArtifactTreeNode{
					{Claimant: claimant, Amount: 145, StakerPubkey: pk(9).String(), WithdrawerPubkey: ""},
					{Claimant: "", Amount: 45, StakerPubkey: ""}, // default staker == validator's own leaf
				},
			},
			{
				DistributionProgram: "pf-program",
				DistributionAccount: "pf-pda",
				MaxTotalClaim:        40,
				TreeNodes: []ArtifactTreeNode{
					{Claimant: claimant, Amount: 40},
				},
			},
		},
	}

	require.NoError(t, a.Attribute(10, stakeMeta, tree))

	var vr model.ValidatorRewards
	ok, err := st.Get(store.CollectionValidatorRewards, store.ValidatorRewardsKey(10, validatorVote), &vr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(190), vr.MevRevenue)
	require.Equal(t, uint16(500), vr.MevCommissionBps)
	require.Equal(t, uint64(40), vr.PriorityFeeRevenue)
	require.Equal(t, uint16(400), vr.PriorityFeeCommissionBps)

	var sr model.StakerRewards
	ok, err = st.Get(store.CollectionStakerRewards, store.StakerRewardsKey(10, claimant), &sr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(145), sr.TipAmount)
	require.Equal(t, uint64(40), sr.PriorityFeeAmount)
}

func TestAttributeIsIdempotentPerEpoch(t *testing.T) {
	st := openTestStore(t)
	a := &Attributor{Store: st, TipProgramID: "tip-program", PriorityFeeProgramID: "pf-program"}

	stakeMeta := StakeMetaFile{
		Epoch: 20,
		StakeMetas: []StakeMeta{{
			ValidatorVoteAccount: "vote-1",
			MaybeTipDistributionMeta: &DistributionMeta{TipDistributionPubkey: "tip-pda"},
		}},
	}
	tree := MerkleTreeFile{
		Epoch: 20,
		GeneratedMerkleTrees: []GeneratedMerkleTree{{
			DistributionProgram: "tip-program",
			DistributionAccount: "tip-pda",
			MaxTotalClaim:        10,
			TreeNodes:            []ArtifactTreeNode{{Claimant: "c1", Amount: 10, StakerPubkey: pk(9).String()}},
		}},
	}

	require.NoError(t, a.Attribute(20, stakeMeta, tree))
	// second run with an entirely different tree must be a no-op: rewards already recorded for epoch 20.
	tree.GeneratedMerkleTrees[0].TreeNodes[0].Amount = 999
	require.NoError(t, a.Attribute(20, stakeMeta, tree))

	var sr model.StakerRewards
	ok, err := st.Get(store.CollectionStakerRewards, store.StakerRewardsKey(20, "c1"), &sr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), sr.TipAmount, "second Attribute call must not overwrite the first run's rewards")
}

func TestGenerateBamSubsidyTree(t *testing.T) {
	entries := []merkle.Entry{
		{Claimant: pk(1), Amount: 100},
		{Claimant: pk(2), Amount: 200},
	}
	tree, err := GenerateBamSubsidyTree(entries)
	require.NoError(t, err)
	require.Equal(t, uint64(300), tree.MaxTotalClaim)
}

func pk(seed byte) solana.PublicKey {
	var b [32]byte
	b[0] = seed
	return solana.PublicKeyFromBytes(b[:])
}
