// Package epochwriter implements EpochWriter (§4.2): the per-epoch
// validator-facts snapshot and the rolling stake-pool/APY snapshot.
package epochwriter

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jito-foundation/kobe/internal/bam"
	"github.com/jito-foundation/kobe/internal/bps"
	"github.com/jito-foundation/kobe/internal/model"
	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/store"
	"github.com/jito-foundation/kobe/internal/validatorhistory"
)

var logger = log15.New("pkg", "epochwriter")

// DefaultSlotsPerEpoch mirrors the chain's own constant, used for
// epochs-per-year derivation and as a fallback epoch/slot conversion
// elsewhere in the core.
const DefaultSlotsPerEpoch = 432000

// ValidatorMetadata is the external feed shape EpochWriter merges into a
// Validator record (identity/name/keybase overlay). Parsing the feed
// itself is out of scope (spec §1); this interface gives the merge logic
// a concrete seam to test against, per SPEC_FULL.md §3.4.
type ValidatorMetadata interface {
	// Lookup returns the metadata for identity, or ok=false if unknown.
	Lookup(identity string) (Identity, bool)
}

// Identity is the name/keybase overlay a ValidatorMetadata feed returns
// for one validator identity. A zero-value field means the feed didn't
// carry that piece, not that it merges as empty-string.
type Identity struct {
	Name    string
	Keybase string
}

// Gateway is the subset of ChainGateway EpochWriter needs: vote
// accounts, owner-checked PDA reads (cached and uncached), and batched
// inflation rewards. Giving it a seam lets buildValidatorRecord be
// tested against canned on-chain facts instead of a live RPC endpoint;
// *rpc.ChainGateway satisfies this directly.
type Gateway interface {
	GetEpochInfo(ctx context.Context) (*rpc.EpochInfo, error)
	GetVoteAccounts(ctx context.Context) ([]rpc.VoteAccount, error)
	GetAccount(ctx context.Context, pubkey, expectedOwner solana.PublicKey) (*rpc.OwnedAccount, error)
	GetCachedAccount(ctx context.Context, pubkey, expectedOwner solana.PublicKey) (*rpc.OwnedAccount, error)
	GetInflationReward(ctx context.Context, addresses []solana.PublicKey, epoch uint64) ([]*solanarpc.GetInflationRewardResult, error)
}

// ChainProgramIDs are the owner-checked PDAs EpochWriter derives facts
// from.
type ChainProgramIDs struct {
	TipDistributionProgram         solana.PublicKey
	PriorityFeeDistributionProgram solana.PublicKey
	ValidatorHistoryProgram        solana.PublicKey
}

// Writer is EpochWriter.
type Writer struct {
	Gateway  Gateway
	Store    *store.Store
	Programs ChainProgramIDs
	Metadata ValidatorMetadata
	BamSet   map[string]struct{} // identity pubkeys known to be running BAM, possibly empty
}

// FetchAllValidators implements §4.2's fetch_all_validators. Any
// validator whose on-chain facts fail to decode is skipped with a
// warning; the rest proceed (failure semantics, §4.2).
func (w *Writer) FetchAllValidators(ctx context.Context, epoch uint64) ([]model.Validator, error) {
	voteAccounts, err := w.Gateway.GetVoteAccounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "epochwriter: fetch vote accounts")
	}

	totalActive := networkActiveStake(voteAccounts)
	networkAvgCredits := averageEpochCredits(voteAccounts, epoch)
	inflationRewards := w.fetchInflationRewards(ctx, voteAccounts, epoch)

	records := make([]model.Validator, 0, len(voteAccounts))
	var mu errgroupResults
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, va := range voteAccounts {
		va := va
		g.Go(func() error {
			record, ok, err := w.buildValidatorRecord(gctx, epoch, va, totalActive, networkAvgCredits, inflationRewards[va.VotePubkey.String()])
			if err != nil {
				logger.Warn("skipping validator, on-chain facts failed to decode", "vote_account", va.VotePubkey, "err", err)
				return nil
			}
			if !ok {
				return nil
			}
			mu.add(record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	records = append(records, mu.results...)
	return records, nil
}

// errgroupResults collects results from concurrent fetches without
// requiring the caller to hold a lock across a suspension point (spec
// §5: "no critical section holds a lock across suspension" — the append
// here is synchronous CPU work, never itself a suspension point).
type errgroupResults struct {
	mu      sync.Mutex
	results []model.Validator
}

func (r *errgroupResults) add(v model.Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, v)
}

func (w *Writer) buildValidatorRecord(ctx context.Context, epoch uint64, va rpc.VoteAccount, totalActiveStake, networkAvgCredits, inflationRewardLamports uint64) (model.Validator, bool, error) {
	tipPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("TIP_DISTRIBUTION_ACCOUNT"), va.VotePubkey.Bytes(), epochBytes(epoch)}, w.Programs.TipDistributionProgram)
	if err != nil {
		return model.Validator{}, false, errors.Wrap(err, "derive tip distribution pda")
	}
	tipAccount, err := w.Gateway.GetAccount(ctx, tipPDA, w.Programs.TipDistributionProgram)
	if err != nil {
		return model.Validator{}, false, err
	}
	hasTipAccount := tipAccount != nil && !tipAccount.Missing

	pfPDA, _, err := solana.FindProgramAddress([][]byte{[]byte("PF_DISTRIBUTION_ACCOUNT"), va.VotePubkey.Bytes(), epochBytes(epoch)}, w.Programs.PriorityFeeDistributionProgram)
	if err != nil {
		return model.Validator{}, false, errors.Wrap(err, "derive priority-fee distribution pda")
	}
	pfAccount, err := w.Gateway.GetAccount(ctx, pfPDA, w.Programs.PriorityFeeDistributionProgram)
	if err != nil {
		return model.Validator{}, false, err
	}
	hasPfAccount := pfAccount != nil && !pfAccount.Missing

	history, err := w.latestHistoryEntry(ctx, va.NodePubkey, epoch)
	if err != nil {
		return model.Validator{}, false, err
	}

	runningJito := hasTipAccount || (history != nil && history.ClientType == clientTypeJito)
	_, inBamSet := w.BamSet[va.NodePubkey.String()]
	runningBam := inBamSet
	if !runningBam && history != nil {
		runningBam = history.ClientType == clientTypeBam
	}

	// running_jito ⇒ mev_commission_bps.is_some() (spec §3). The
	// distribution account's own commission field is authoritative;
	// ValidatorHistory's mirrored value is the fallback when the account
	// itself doesn't decode, and a bare zero only when neither source
	// has an opinion, so the invariant holds unconditionally.
	var mevCommissionBps *uint16
	var mevRevenue uint64
	if runningJito {
		var decoded uint16
		var ok bool
		if hasTipAccount {
			decoded, ok = decodeDistributionAccount(tipAccount.Data)
		}
		commission := decoded
		if !ok && history != nil {
			commission = history.MevCommissionBps
		}
		mevCommissionBps = &commission
	}
	if hasTipAccount {
		mevRevenue = tipAccount.Lamports
	}

	var priorityFeeCommissionBps uint16
	var priorityFeeRevenue uint64
	if hasPfAccount {
		if decoded, ok := decodeDistributionAccount(pfAccount.Data); ok {
			priorityFeeCommissionBps = decoded
		}
		priorityFeeRevenue = pfAccount.Lamports
	}

	record := model.Validator{
		Epoch:                    epoch,
		Identity:                 va.NodePubkey.String(),
		VoteAccount:              va.VotePubkey.String(),
		ActiveStake:              va.ActivatedStake,
		Delinquent:               va.Delinquent,
		RunningJito:              runningJito,
		RunningBam:               runningBam,
		MevCommissionBps:         mevCommissionBps,
		MevRevenue:               mevRevenue,
		PriorityFeeCommissionBps: priorityFeeCommissionBps,
		PriorityFeeRevenue:       priorityFeeRevenue,
		StakePercentBps:          stakePercentBps(va.ActivatedStake, totalActiveStake),
		VoteCreditProportionBps:  bps.StakeweightBps(epochCreditsDelta(va, epoch), networkAvgCredits),
		InflationRewardLamports:  inflationRewardLamports,
		// PoolActiveStake/PoolTransientStake/PoolEligible/DirectedStakeEligible
		// are left at their zero value: deriving them needs the stake
		// pool's ValidatorList entry layout and the pool/directed-stake
		// list membership criteria, neither of which spec.md or the
		// example pack defines (see DESIGN.md).
		Timestamp: time.Now().UTC(),
	}
	if w.Metadata != nil {
		if identity, ok := w.Metadata.Lookup(record.Identity); ok {
			if identity.Name != "" {
				name := identity.Name
				record.Name = &name
			}
			if identity.Keybase != "" {
				keybase := identity.Keybase
				record.Keybase = &keybase
			}
		}
	}
	return record, true, nil
}

// fetchInflationRewards batches a getInflationReward call across every
// vote account for epoch; a fetch failure is logged and treated as "no
// reward data this run" rather than failing the whole epoch, matching
// §4.2's "skip on decode/fetch failure" contract.
func (w *Writer) fetchInflationRewards(ctx context.Context, voteAccounts []rpc.VoteAccount, epoch uint64) map[string]uint64 {
	byVote := make(map[string]uint64, len(voteAccounts))
	pubkeys := make([]solana.PublicKey, len(voteAccounts))
	for i, va := range voteAccounts {
		pubkeys[i] = va.VotePubkey
	}
	results, err := w.Gateway.GetInflationReward(ctx, pubkeys, epoch)
	if err != nil {
		logger.Warn("inflation reward fetch failed, leaving inflation_reward_lamports at 0", "epoch", epoch, "err", err)
		return byVote
	}
	for i, r := range results {
		if r == nil || i >= len(pubkeys) {
			continue
		}
		byVote[pubkeys[i].String()] = r.Amount
	}
	return byVote
}

// averageEpochCredits is network_avg in §3's "vote credit proportion
// (avg_credits / network_avg)": the mean, across validators that
// earned credits this epoch, of credits earned this epoch.
func averageEpochCredits(voteAccounts []rpc.VoteAccount, epoch uint64) uint64 {
	var sum, count uint64
	for _, va := range voteAccounts {
		credits := epochCreditsDelta(va, epoch)
		if credits == 0 {
			continue
		}
		sum += credits
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// epochCreditsDelta returns the vote credits va earned during epoch,
// from the getVoteAccounts epoch-credits history ([epoch, credits,
// prevCredits] triples), or 0 if epoch isn't present.
func epochCreditsDelta(va rpc.VoteAccount, epoch uint64) uint64 {
	for _, ec := range va.EpochCredits {
		if ec[0] != epoch {
			continue
		}
		if ec[1] <= ec[2] {
			return 0
		}
		return ec[1] - ec[2]
	}
	return 0
}

func networkActiveStake(accounts []rpc.VoteAccount) uint64 {
	var total uint64
	for _, a := range accounts {
		total += a.ActivatedStake
	}
	return total
}

func stakePercentBps(stake, total uint64) uint64 {
	return bps.StakeweightBps(stake, total)
}

func epochBytes(epoch uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(epoch >> (8 * i))
	}
	return b
}

const (
	clientTypeJito = validatorhistory.ClientTypeJito
	clientTypeBam  = validatorhistory.ClientTypeBam
)

// latestHistoryEntry fetches and decodes the ValidatorHistory account
// for identity, returning its ring-buffer sample at epoch if one is
// present.
func (w *Writer) latestHistoryEntry(ctx context.Context, identity solana.PublicKey, epoch uint64) (*bam.HistorySample, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{[]byte("validator-history"), identity.Bytes()}, w.Programs.ValidatorHistoryProgram)
	if err != nil {
		return nil, errors.Wrap(err, "derive validator-history pda")
	}
	acc, err := w.Gateway.GetCachedAccount(ctx, pda, w.Programs.ValidatorHistoryProgram)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.Missing || len(acc.Data) == 0 {
		return nil, nil
	}
	samples, err := validatorhistory.Decode(acc.Data)
	if err != nil {
		logger.Warn("validator-history decode failed, skipping client classification", "identity", identity, "err", err)
		return nil, nil
	}
	sample, ok := samples[epoch]
	if !ok {
		return nil, nil
	}
	return &sample, nil
}

// Upsert implements §4.2's upsert(epoch, records): bulk-upsert keyed by
// (epoch, vote_account) in chunks of 100 with a small inter-batch sleep.
func (w *Writer) Upsert(epoch uint64, records []model.Validator) error {
	items := make([]store.BulkItem, len(records))
	for i, r := range records {
		items[i] = store.BulkItem{
			Key: store.ValidatorKey(epoch, r.VoteAccount),
			Doc: r,
			Indexes: map[string]string{
				store.IndexByEpoch: store.EpochIndexValue(epoch),
			},
		}
	}
	return w.Store.BulkPut(store.CollectionValidators, items, 100, func() {
		time.Sleep(50 * time.Millisecond)
	})
}

// StakePoolStats is the subset of on-chain pool state
// WriteStakePoolSnapshot needs, fetched by the caller.
type StakePoolStats struct {
	Epoch             uint64
	ReserveLamports   uint64
	TotalLamports     uint64
	PoolTokenSupply   uint64
	MevRewardsEpochSum uint64
	NumValidators     uint32
	FeesCollected     uint64
	FirstBlockTimeEpochMinus1 time.Time
	FirstBlockTimeEpoch       time.Time
}

// WriteStakePoolSnapshot implements §4.2's write_stake_pool_snapshot,
// including the per-record APY formula and the 10-distinct-epoch
// aggregation step.
func (w *Writer) WriteStakePoolSnapshot(stats StakePoolStats, prevTotalLamports, prevPoolTokenSupply uint64) error {
	apy := computeAPY(stats, prevTotalLamports, prevPoolTokenSupply)

	snapshot := model.StakePoolSnapshot{
		Timestamp:          hourAlign(time.Now().UTC()),
		Epoch:              stats.Epoch,
		ReserveLamports:    stats.ReserveLamports,
		TotalLamports:      stats.TotalLamports,
		PoolTokenSupply:    stats.PoolTokenSupply,
		MevRewardsEpochSum: stats.MevRewardsEpochSum,
		APY:                apy,
		NumValidators:      stats.NumValidators,
		FeesCollected:      stats.FeesCollected,
	}
	if err := w.Store.Put(store.CollectionStakePoolStats, store.StakePoolStatsKey(snapshot.Timestamp.Unix()), snapshot, map[string]string{
		store.IndexByEpoch: store.EpochIndexValue(stats.Epoch),
	}); err != nil {
		return errors.Wrap(err, "epochwriter: write stake pool snapshot")
	}
	return nil
}

func hourAlign(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// computeAPY implements §4.2's per-record APY formula:
//
//	(total_lamports/pool_token_supply) / (last_epoch_total_lamports/last_epoch_pool_token_supply) ^ epochs_per_year - 1
func computeAPY(stats StakePoolStats, prevTotalLamports, prevPoolTokenSupply uint64) float64 {
	if prevTotalLamports == 0 || prevPoolTokenSupply == 0 || stats.PoolTokenSupply == 0 {
		return 0
	}
	curExchangeRate := float64(stats.TotalLamports) / float64(stats.PoolTokenSupply)
	prevExchangeRate := float64(prevTotalLamports) / float64(prevPoolTokenSupply)
	if prevExchangeRate == 0 {
		return 0
	}
	slotMs := measuredSlotMs(stats.FirstBlockTimeEpochMinus1, stats.FirstBlockTimeEpoch)
	epochsPerYear := (365.25 * 86400) / (float64(DefaultSlotsPerEpoch) * slotMs / 1000)
	growth := curExchangeRate / prevExchangeRate
	return math.Pow(growth, epochsPerYear) - 1
}

// measuredSlotMs derives slot time in milliseconds from the first block
// timestamps of epoch e-1 and e, per §4.2.
func measuredSlotMs(firstBlockEpochMinus1, firstBlockEpoch time.Time) float64 {
	if firstBlockEpochMinus1.IsZero() || firstBlockEpoch.IsZero() {
		return 400 // conservative fallback matching the network's nominal slot time
	}
	elapsedMs := firstBlockEpoch.Sub(firstBlockEpochMinus1).Milliseconds()
	if elapsedMs <= 0 {
		return 400
	}
	return float64(elapsedMs) / DefaultSlotsPerEpoch
}

// AggregateRollingAPY implements §4.2's read-aggregation step: the
// per-record APY is replaced by the arithmetic mean of per-epoch mean APY
// over the latest 10 distinct epochs present.
func AggregateRollingAPY(snapshots []model.StakePoolSnapshot) float64 {
	byEpoch := make(map[uint64][]float64)
	for _, s := range snapshots {
		byEpoch[s.Epoch] = append(byEpoch[s.Epoch], s.APY)
	}
	epochs := make([]uint64, 0, len(byEpoch))
	for e := range byEpoch {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] > epochs[j] })
	if len(epochs) > 10 {
		epochs = epochs[:10]
	}
	if len(epochs) == 0 {
		return 0
	}
	var sumOfMeans float64
	for _, e := range epochs {
		values := byEpoch[e]
		var sum float64
		for _, v := range values {
			sum += v
		}
		sumOfMeans += sum / float64(len(values))
	}
	return sumOfMeans / float64(len(epochs))
}
