package epochwriter

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/rpc"
)

func TestStakePercentBps(t *testing.T) {
	require.Equal(t, uint64(10), stakePercentBps(3_000, 3_000_000))
	require.Equal(t, uint64(0), stakePercentBps(100, 0))
}

func TestMeasuredSlotMsFallsBackWhenTimestampsMissing(t *testing.T) {
	require.Equal(t, float64(400), measuredSlotMs(time.Time{}, time.Time{}))
}

func TestMeasuredSlotMsDerivedFromElapsedTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(DefaultSlotsPerEpoch) * 400 * time.Millisecond)
	require.InDelta(t, 400, measuredSlotMs(start, end), 0.001)
}

func TestComputeAPYZeroWhenNoPriorSnapshot(t *testing.T) {
	stats := StakePoolStats{TotalLamports: 100, PoolTokenSupply: 90}
	require.Equal(t, 0.0, computeAPY(stats, 0, 0))
}

func TestComputeAPYPositiveOnExchangeRateGrowth(t *testing.T) {
	stats := StakePoolStats{
		TotalLamports:   110,
		PoolTokenSupply: 100,
	}
	apy := computeAPY(stats, 100, 100)
	require.Greater(t, apy, 0.0)
}

func TestAggregateRollingAPYLimitsToLatestTenEpochs(t *testing.T) {
	var snapshots []model.StakePoolSnapshot
	for e := uint64(1); e <= 15; e++ {
		snapshots = append(snapshots, model.StakePoolSnapshot{Epoch: e, APY: float64(e)})
	}
	// latest 10 distinct epochs are 6..15, mean of means == mean(6..15) == 10.5
	require.InDelta(t, 10.5, AggregateRollingAPY(snapshots), 0.0001)
}

func TestAggregateRollingAPYEmpty(t *testing.T) {
	require.Equal(t, 0.0, AggregateRollingAPY(nil))
}

func TestAggregateRollingAPYAveragesMultipleSnapshotsPerEpoch(t *testing.T) {
	snapshots := []model.StakePoolSnapshot{
		{Epoch: 1, APY: 2},
		{Epoch: 1, APY: 4},
	}
	require.InDelta(t, 3.0, AggregateRollingAPY(snapshots), 0.0001)
}

// fakeGateway serves canned on-chain facts to buildValidatorRecord
// without a live RPC endpoint.
type fakeGateway struct {
	accounts  map[solana.PublicKey]*rpc.OwnedAccount
	inflation map[solana.PublicKey]uint64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accounts:  make(map[solana.PublicKey]*rpc.OwnedAccount),
		inflation: make(map[solana.PublicKey]uint64),
	}
}

func (f *fakeGateway) GetEpochInfo(context.Context) (*rpc.EpochInfo, error) { return nil, nil }

func (f *fakeGateway) GetVoteAccounts(context.Context) ([]rpc.VoteAccount, error) { return nil, nil }

func (f *fakeGateway) GetAccount(_ context.Context, pubkey, _ solana.PublicKey) (*rpc.OwnedAccount, error) {
	if acc, ok := f.accounts[pubkey]; ok {
		return acc, nil
	}
	return &rpc.OwnedAccount{Pubkey: pubkey, Missing: true}, nil
}

func (f *fakeGateway) GetCachedAccount(ctx context.Context, pubkey, expectedOwner solana.PublicKey) (*rpc.OwnedAccount, error) {
	return f.GetAccount(ctx, pubkey, expectedOwner)
}

func (f *fakeGateway) GetInflationReward(_ context.Context, addresses []solana.PublicKey, _ uint64) ([]*solanarpc.GetInflationRewardResult, error) {
	out := make([]*solanarpc.GetInflationRewardResult, len(addresses))
	for i, a := range addresses {
		if amount, ok := f.inflation[a]; ok {
			out[i] = &solanarpc.GetInflationRewardResult{Amount: amount}
		}
	}
	return out, nil
}

// buildDistributionAccountBytes encodes a minimal distributionAccount:
// a zero discriminator, zeroed pubkey fields, merkle_root=None, and the
// given commission bps at its real Borsh offset.
func buildDistributionAccountBytes(commissionBps uint16) []byte {
	const size = distributionDiscriminatorSize + 32 + 32 + 1 + 8 + 2 + 8 + 1
	buf := make([]byte, size)
	offset := distributionDiscriminatorSize + 32 + 32 + 1 + 8
	binary.LittleEndian.PutUint16(buf[offset:offset+2], commissionBps)
	return buf
}

// buildHistoryAccountBytes encodes a single-entry ValidatorHistory
// account at epoch, per validatorhistory.Decode's documented layout.
func buildHistoryAccountBytes(epoch uint64, clientType byte, mevCommissionBps uint16, commission byte, voteCredits uint64) []byte {
	const headerSize = 8 + 32 + 2 + 2
	const entrySize = 32
	data := make([]byte, headerSize+entrySize)
	binary.LittleEndian.PutUint16(data[8+32+2:8+32+4], 1) // ring length = 1
	entry := data[headerSize : headerSize+entrySize]
	binary.LittleEndian.PutUint16(entry[8:10], uint16(epoch))
	binary.LittleEndian.PutUint16(entry[10:12], mevCommissionBps)
	binary.LittleEndian.PutUint64(entry[12:20], voteCredits)
	entry[20] = commission
	entry[21] = clientType
	return data
}

func testProgramIDs() ChainProgramIDs {
	return ChainProgramIDs{
		TipDistributionProgram:         solana.NewWallet().PublicKey(),
		PriorityFeeDistributionProgram: solana.NewWallet().PublicKey(),
		ValidatorHistoryProgram:        solana.NewWallet().PublicKey(),
	}
}

func testVoteAccount(epoch, credits uint64) rpc.VoteAccount {
	return rpc.VoteAccount{
		VotePubkey:     solana.NewWallet().PublicKey(),
		NodePubkey:     solana.NewWallet().PublicKey(),
		ActivatedStake: 1_000_000,
		EpochCredits:   [][3]uint64{{epoch, credits, 0}},
	}
}

func TestBuildValidatorRecordDecodesTipAccountCommissionAndRevenue(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	tipPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("TIP_DISTRIBUTION_ACCOUNT"), va.VotePubkey.Bytes(), epochBytes(500)}, programs.TipDistributionProgram)
	require.NoError(t, err)

	fg := newFakeGateway()
	fg.accounts[tipPDA] = &rpc.OwnedAccount{Data: buildDistributionAccountBytes(250), Lamports: 7_000_000}
	w := &Writer{Gateway: fg, Programs: programs}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, record.RunningJito)
	require.NotNil(t, record.MevCommissionBps)
	require.Equal(t, uint16(250), *record.MevCommissionBps)
	require.Equal(t, uint64(7_000_000), record.MevRevenue)
}

func TestBuildValidatorRecordRunningJitoWithoutTipAccountFallsBackToHistory(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	historyPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("validator-history"), va.NodePubkey.Bytes()}, programs.ValidatorHistoryProgram)
	require.NoError(t, err)

	fg := newFakeGateway()
	fg.accounts[historyPDA] = &rpc.OwnedAccount{Data: buildHistoryAccountBytes(500, 2 /* clientJito */, 180, 0, 400_000)}
	w := &Writer{Gateway: fg, Programs: programs}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, record.RunningJito, "history client_type==Jito must set running_jito even with no tip account")
	require.NotNil(t, record.MevCommissionBps, "running_jito invariant requires mev_commission_bps to be set")
	require.Equal(t, uint16(180), *record.MevCommissionBps)
	require.Equal(t, uint64(0), record.MevRevenue, "no tip account means no on-chain revenue figure")
}

func TestBuildValidatorRecordNotRunningJitoLeavesMevCommissionNil(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	w := &Writer{Gateway: newFakeGateway(), Programs: programs}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, record.RunningJito)
	require.Nil(t, record.MevCommissionBps)
}

func TestBuildValidatorRecordDecodesPriorityFeeAccount(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	pfPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("PF_DISTRIBUTION_ACCOUNT"), va.VotePubkey.Bytes(), epochBytes(500)}, programs.PriorityFeeDistributionProgram)
	require.NoError(t, err)

	fg := newFakeGateway()
	fg.accounts[pfPDA] = &rpc.OwnedAccount{Data: buildDistributionAccountBytes(50), Lamports: 1_500_000}
	w := &Writer{Gateway: fg, Programs: programs}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint16(50), record.PriorityFeeCommissionBps)
	require.Equal(t, uint64(1_500_000), record.PriorityFeeRevenue)
}

func TestBuildValidatorRecordVoteCreditProportionAndInflationReward(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 485_000) // half of network average (970,000)
	w := &Writer{Gateway: newFakeGateway(), Programs: programs}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 970_000, 42_000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5_000), record.VoteCreditProportionBps)
	require.Equal(t, uint64(42_000), record.InflationRewardLamports)
}

type fakeMetadata struct {
	identities map[string]Identity
}

func (f fakeMetadata) Lookup(identity string) (Identity, bool) {
	id, ok := f.identities[identity]
	return id, ok
}

func TestBuildValidatorRecordMergesMetadataFeed(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	w := &Writer{
		Gateway: newFakeGateway(),
		Programs: programs,
		Metadata: fakeMetadata{identities: map[string]Identity{
			va.NodePubkey.String(): {Name: "Example Validator", Keybase: "examplevalidator"},
		}},
	}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, record.Name)
	require.Equal(t, "Example Validator", *record.Name)
	require.NotNil(t, record.Keybase)
	require.Equal(t, "examplevalidator", *record.Keybase)
}

func TestBuildValidatorRecordUnknownIdentitySkipsMetadataMerge(t *testing.T) {
	programs := testProgramIDs()
	va := testVoteAccount(500, 400_000)
	w := &Writer{
		Gateway:  newFakeGateway(),
		Programs: programs,
		Metadata: fakeMetadata{identities: map[string]Identity{}},
	}

	record, ok, err := w.buildValidatorRecord(context.Background(), 500, va, 10_000_000, 400_000, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, record.Name)
	require.Nil(t, record.Keybase)
}
