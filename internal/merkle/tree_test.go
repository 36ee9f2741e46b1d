package merkle

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func pk(seed byte) solana.PublicKey {
	var b [32]byte
	b[0] = seed
	return solana.PublicKeyFromBytes(b[:])
}

func TestBuildDedupesAndSumsAmounts(t *testing.T) {
	entries := []Entry{
		{Claimant: pk(1), Amount: 100},
		{Claimant: pk(2), Amount: 200},
		{Claimant: pk(1), Amount: 50}, // duplicate claimant, summed not overwritten
	}
	tree, err := Build(entries)
	require.NoError(t, err)
	require.Equal(t, uint64(2), tree.MaxNumNodes)
	require.Equal(t, uint64(350), tree.MaxTotalClaim)

	var found bool
	for _, n := range tree.TreeNodes {
		if n.Claimant.Equals(pk(1)) {
			require.Equal(t, uint64(150), n.Amount)
			found = true
		}
	}
	require.True(t, found)
}

func TestBuildOddLayerDuplicatesTrailingNode(t *testing.T) {
	entries := []Entry{
		{Claimant: pk(1), Amount: 10},
		{Claimant: pk(2), Amount: 20},
		{Claimant: pk(3), Amount: 30},
	}
	tree, err := Build(entries)
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	require.Len(t, tree.TreeNodes, 3)
}

func TestVerifyRoundTrip(t *testing.T) {
	entries := []Entry{
		{Claimant: pk(1), Amount: 10},
		{Claimant: pk(2), Amount: 20},
		{Claimant: pk(3), Amount: 30},
		{Claimant: pk(4), Amount: 40},
	}
	tree, err := Build(entries)
	require.NoError(t, err)

	for i, n := range tree.TreeNodes {
		require.True(t, Verify(tree.Root, n.Claimant, n.Amount, n.Proof, uint64(i)))
	}
}

func TestVerifyRejectsTamperedAmount(t *testing.T) {
	entries := []Entry{
		{Claimant: pk(1), Amount: 10},
		{Claimant: pk(2), Amount: 20},
	}
	tree, err := Build(entries)
	require.NoError(t, err)

	n := tree.TreeNodes[0]
	require.False(t, Verify(tree.Root, n.Claimant, n.Amount+1, n.Proof, 0))
}

func TestValidateRejectsForeignRoot(t *testing.T) {
	entries := []Entry{{Claimant: pk(1), Amount: 10}, {Claimant: pk(2), Amount: 20}}
	tree, err := Build(entries)
	require.NoError(t, err)

	tampered := *tree
	tampered.TreeNodes = append([]TreeNode{}, tree.TreeNodes...)
	tampered.TreeNodes[0].Amount += 1
	require.Error(t, tampered.Validate())
}

func TestBuildOverflowSummingAmounts(t *testing.T) {
	entries := []Entry{
		{Claimant: pk(1), Amount: ^uint64(0)},
		{Claimant: pk(1), Amount: 1},
	}
	_, err := Build(entries)
	require.Error(t, err)
}

func TestBuildEmpty(t *testing.T) {
	tree, err := Build(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), tree.MaxNumNodes)
	require.Equal(t, uint64(0), tree.MaxTotalClaim)
}
