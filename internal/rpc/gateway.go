// Package rpc implements ChainGateway (§4.1): a typed, retrying read
// interface over the Solana JSON-RPC surface, built on
// github.com/gagliardetto/solana-go/rpc exactly as other Solana-ecosystem
// Go services in the reference pack (doublezero's revdist CLI/indexer)
// construct their client with solanarpc.New(endpoint) and drive typed
// calls through it.
package rpc

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	lru "github.com/hashicorp/golang-lru"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/metrics"
)

var logger = log15.New("pkg", "rpc")

// ChainGateway is shared by reference across every pipeline (spec §5).
type ChainGateway struct {
	client *solanarpc.Client

	// historyCache memoizes ValidatorHistory account reads within a single
	// process run, per spec §5 ("built once per run and read-only
	// thereafter").
	historyCache *lru.Cache
}

// New constructs a ChainGateway against endpoint.
func New(endpoint string) *ChainGateway {
	cache, _ := lru.New(4096)
	return &ChainGateway{
		client:       solanarpc.New(endpoint),
		historyCache: cache,
	}
}

func (g *ChainGateway) call(ctx context.Context, method string, fn func() error) error {
	start := time.Now()
	attempts := 0
	err := withRetry(ctx, func(attempt int) {
		attempts = attempt
		metrics.RPCRetries.WithLabelValues(method).Inc()
		logger.Warn("retrying rpc call", "method", method, "attempt", attempt)
	}, isTransient, fn)
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return errors.Wrapf(err, "rpc: %s (after %d attempts)", method, attempts+1)
	}
	return nil
}

// isTransient classifies retryable errors: network errors and 5xx/rate
// limit style RPC errors retry, malformed-input errors do not (§4.1).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var rpcErr *solanarpc.JsonRpcError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case solanarpc.JsonRpcInternalError, -32005 /* node unhealthy */, -32004 /* block not available */:
			return true
		default:
			return false
		}
	}
	// Unrecognized error shapes (context deadline, connection reset, EOF)
	// are treated as transient; truly malformed request errors surface as
	// typed JsonRpcError above.
	return true
}

// EpochInfo is the subset of GetEpochInfo consumed by the core.
type EpochInfo struct {
	Epoch            uint64
	SlotIndex        uint64
	SlotsInEpoch     uint64
	AbsoluteSlot     uint64
	BlockHeight      uint64
}

func (g *ChainGateway) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	var out *solanarpc.GetEpochInfoResult
	err := g.call(ctx, "getEpochInfo", func() error {
		res, err := g.client.GetEpochInfo(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &EpochInfo{
		Epoch:        out.Epoch,
		SlotIndex:    out.SlotIndex,
		SlotsInEpoch: out.SlotsInEpoch,
		AbsoluteSlot: out.AbsoluteSlot,
		BlockHeight:  derefUint64(out.BlockHeight),
	}, nil
}

func derefUint64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

// VoteAccount mirrors the fields ChainGateway consumers need from
// getVoteAccounts, across both the current and delinquent lists.
type VoteAccount struct {
	VotePubkey     solana.PublicKey
	NodePubkey     solana.PublicKey
	ActivatedStake uint64
	Commission     uint8
	EpochCredits   [][3]uint64 // [epoch, credits, prevCredits]
	Delinquent     bool
}

// GetVoteAccounts returns the union of current and delinquent vote
// accounts, matching the spec §9 Open Question resolution: "network
// active" = current ∪ delinquent.
func (g *ChainGateway) GetVoteAccounts(ctx context.Context) ([]VoteAccount, error) {
	var out *solanarpc.GetVoteAccountsResult
	err := g.call(ctx, "getVoteAccounts", func() error {
		res, err := g.client.GetVoteAccounts(ctx, &solanarpc.GetVoteAccountsOpts{
			Commitment: solanarpc.CommitmentFinalized,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]VoteAccount, 0, len(out.Current)+len(out.Delinquent))
	for _, v := range out.Current {
		accounts = append(accounts, convertVoteAccount(v, false))
	}
	for _, v := range out.Delinquent {
		accounts = append(accounts, convertVoteAccount(v, true))
	}
	return accounts, nil
}

func convertVoteAccount(v solanarpc.VoteAccountsResult, delinquent bool) VoteAccount {
	credits := make([][3]uint64, 0, len(v.EpochCredits))
	for _, ec := range v.EpochCredits {
		if len(ec) == 3 {
			credits = append(credits, [3]uint64{ec[0], ec[1], ec[2]})
		}
	}
	return VoteAccount{
		VotePubkey:     v.VotePubkey,
		NodePubkey:     v.NodePubkey,
		ActivatedStake: v.ActivatedStake,
		Commission:     v.Commission,
		EpochCredits:   credits,
		Delinquent:     delinquent,
	}
}

// OwnedAccount is a raw account together with the owner program that was
// verified to hold it, or Missing=true if the account does not exist.
type OwnedAccount struct {
	Pubkey   solana.PublicKey
	Owner    solana.PublicKey
	Data     []byte
	Lamports uint64
	Missing  bool
}

// GetAccount fetches a single account, owner-checked against expectedOwner.
// An owner mismatch is logged as a warning and returned as a skip (nil,
// nil) rather than decoded, per §4.1's contract.
func (g *ChainGateway) GetAccount(ctx context.Context, pubkey, expectedOwner solana.PublicKey) (*OwnedAccount, error) {
	var out *solanarpc.GetAccountInfoResult
	err := g.call(ctx, "getAccountInfo", func() error {
		res, err := g.client.GetAccountInfoWithOpts(ctx, pubkey, &solanarpc.GetAccountInfoOpts{
			Commitment: solanarpc.CommitmentFinalized,
			Encoding:   solanarpc.EncodingBase64,
		})
		if err != nil {
			if errors.Is(err, solanarpc.ErrNotFound) {
				out = nil
				return nil
			}
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return &OwnedAccount{Pubkey: pubkey, Missing: true}, nil
	}
	owner := out.Value.Owner
	if !owner.Equals(expectedOwner) {
		logger.Warn("account owner mismatch, skipping decode", "pubkey", pubkey, "expected", expectedOwner, "actual", owner)
		return nil, nil
	}
	return &OwnedAccount{
		Pubkey:   pubkey,
		Owner:    owner,
		Data:     out.Value.Data.GetBinary(),
		Lamports: out.Value.Lamports,
	}, nil
}

// GetCachedAccount wraps GetAccount with the in-process LRU cache, so BAM
// eligibility and EpochWriter don't refetch the same ValidatorHistory PDA
// twice within one run (§5: "built once per run and read-only
// thereafter"). Only call this for accounts that are immutable for the
// duration of a run; GetAccount bypasses the cache for everything else.
func (g *ChainGateway) GetCachedAccount(ctx context.Context, pubkey, expectedOwner solana.PublicKey) (*OwnedAccount, error) {
	if cached, ok := g.historyCache.Get(pubkey); ok {
		return cached.(*OwnedAccount), nil
	}
	acc, err := g.GetAccount(ctx, pubkey, expectedOwner)
	if err != nil {
		return nil, err
	}
	if acc != nil {
		g.historyCache.Add(pubkey, acc)
	}
	return acc, nil
}

const multiAccountChunkSize = 100

// GetMultipleAccounts fetches accounts in order-preserving chunks of 100
// (§4.1). Each result entry is either a decoded OwnedAccount, a
// Missing=true placeholder for a legitimately absent account, or nil when
// the account's owner is not expectedOwner. An RPC failure fails the
// whole call with a non-nil error.
func (g *ChainGateway) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey, expectedOwner solana.PublicKey) ([]*OwnedAccount, error) {
	results := make([]*OwnedAccount, len(pubkeys))
	for start := 0; start < len(pubkeys); start += multiAccountChunkSize {
		end := start + multiAccountChunkSize
		if end > len(pubkeys) {
			end = len(pubkeys)
		}
		chunk := pubkeys[start:end]
		var out *solanarpc.GetMultipleAccountsResult
		err := g.call(ctx, "getMultipleAccounts", func() error {
			res, err := g.client.GetMultipleAccountsWithOpts(ctx, chunk, &solanarpc.GetMultipleAccountsOpts{
				Commitment: solanarpc.CommitmentFinalized,
				Encoding:   solanarpc.EncodingBase64,
			})
			if err != nil {
				return err
			}
			out = res
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "getMultipleAccounts chunk [%d:%d)", start, end)
		}
		for i, acc := range out.Value {
			idx := start + i
			if acc == nil {
				results[idx] = &OwnedAccount{Pubkey: chunk[i], Missing: true}
				continue
			}
			if !acc.Owner.Equals(expectedOwner) {
				logger.Warn("account owner mismatch, skipping decode", "pubkey", chunk[i], "expected", expectedOwner, "actual", acc.Owner)
				continue
			}
			results[idx] = &OwnedAccount{
				Pubkey:   chunk[i],
				Owner:    acc.Owner,
				Data:     acc.Data.GetBinary(),
				Lamports: acc.Lamports,
			}
		}
	}
	return results, nil
}

// SignatureInfo is the subset of getSignaturesForAddress consumed here.
type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	Err       bool
	BlockTime *time.Time
}

// GetSignaturesForAddress pages backward from before (exclusive) down to
// until (exclusive), in pages of pageSize, as required by both the
// steward indexer's listen and backfill modes (§4.4).
func (g *ChainGateway) GetSignaturesForAddress(ctx context.Context, address solana.PublicKey, before, until *solana.Signature, pageSize int) ([]SignatureInfo, error) {
	opts := &solanarpc.GetSignaturesForAddressOpts{
		Limit:      &pageSize,
		Commitment: solanarpc.CommitmentFinalized,
	}
	if before != nil {
		opts.Before = *before
	}
	if until != nil {
		opts.Until = *until
	}
	var out []*solanarpc.TransactionSignature
	err := g.call(ctx, "getSignaturesForAddress", func() error {
		res, err := g.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	infos := make([]SignatureInfo, len(out))
	for i, s := range out {
		var bt *time.Time
		if s.BlockTime != nil {
			t := s.BlockTime.Time()
			bt = &t
		}
		infos[i] = SignatureInfo{
			Signature: s.Signature,
			Slot:      s.Slot,
			Err:       s.Err != nil,
			BlockTime: bt,
		}
	}
	return infos, nil
}

// GetTransaction fetches a full confirmed transaction with
// max-supported-version 0, as required by §4.4's log-decoding step.
func (g *ChainGateway) GetTransaction(ctx context.Context, sig solana.Signature) (*solanarpc.GetTransactionResult, error) {
	version := uint64(0)
	var out *solanarpc.GetTransactionResult
	err := g.call(ctx, "getTransaction", func() error {
		res, err := g.client.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Commitment:                     solanarpc.CommitmentFinalized,
			Encoding:                       solanarpc.EncodingBase64,
			MaxSupportedTransactionVersion: &version,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// GetInflationRate returns the current inflation rate parameters.
func (g *ChainGateway) GetInflationRate(ctx context.Context) (*solanarpc.GetInflationRateResult, error) {
	var out *solanarpc.GetInflationRateResult
	err := g.call(ctx, "getInflationRate", func() error {
		res, err := g.client.GetInflationRate(ctx)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// GetInflationReward returns the per-address inflation reward credited
// at epoch, in address order; a nil entry means that address earned no
// reward that epoch (too new, or not delegated). Called with vote-account
// addresses, this surfaces the validator's own commission-cut reward.
func (g *ChainGateway) GetInflationReward(ctx context.Context, addresses []solana.PublicKey, epoch uint64) ([]*solanarpc.GetInflationRewardResult, error) {
	var out []*solanarpc.GetInflationRewardResult
	err := g.call(ctx, "getInflationReward", func() error {
		res, err := g.client.GetInflationReward(ctx, addresses, &solanarpc.GetInflationRewardOpts{
			Commitment: solanarpc.CommitmentFinalized,
			Epoch:      &epoch,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetProgramAccounts fetches all accounts owned by programID, used for
// steward-config/blacklist-bitmap style whole-program scans.
func (g *ChainGateway) GetProgramAccounts(ctx context.Context, programID solana.PublicKey) (solanarpc.GetProgramAccountsResult, error) {
	var out solanarpc.GetProgramAccountsResult
	err := g.call(ctx, "getProgramAccounts", func() error {
		res, err := g.client.GetProgramAccountsWithOpts(ctx, programID, &solanarpc.GetProgramAccountsOpts{
			Commitment: solanarpc.CommitmentFinalized,
			Encoding:   solanarpc.EncodingBase64,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for a
// data size in bytes, used by the cranker when sizing new accounts.
func (g *ChainGateway) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	var out uint64
	err := g.call(ctx, "getMinimumBalanceForRentExemption", func() error {
		res, err := g.client.GetMinimumBalanceForRentExemption(ctx, dataSize, solanarpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// GetLatestBlockhash is used by the cranker for blockhash refresh.
func (g *ChainGateway) GetLatestBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	var out *solanarpc.GetLatestBlockhashResult
	err := g.call(ctx, "getLatestBlockhash", func() error {
		res, err := g.client.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return solana.Hash{}, 0, err
	}
	return out.Value.Blockhash, out.Value.LastValidBlockHeight, nil
}

// HTTPClient exposes the underlying HTTP transport for artifact fetch
// reuse (RewardAttributor shares connection pooling with ChainGateway).
func (g *ChainGateway) HTTPClient() *http.Client {
	return http.DefaultClient
}

// SendTransaction submits a signed transaction, optionally skipping
// preflight (the cranker always does, per §4.6 step 4).
func (g *ChainGateway) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	var sig solana.Signature
	err := g.call(ctx, "sendTransaction", func() error {
		s, err := g.client.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: solanarpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	return sig, err
}

// SimulateResult is the subset of simulate_transaction's response the
// cranker's simulate mode logs.
type SimulateResult struct {
	Err  any
	Logs []string
}

// SimulateTransaction runs simulate_transaction without submitting.
func (g *ChainGateway) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulateResult, error) {
	var out *solanarpc.SimulateTransactionResponse
	err := g.call(ctx, "simulateTransaction", func() error {
		res, err := g.client.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
			Commitment: solanarpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		out = res.Value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &SimulateResult{Err: out.Err, Logs: out.Logs}, nil
}

// GetSignatureStatus checks a single signature's confirmation status. A
// signature with no status yet (unknown or dropped) or not yet confirmed
// is reported retryable; a status carrying a transaction error is a
// terminal failure for that transaction.
func (g *ChainGateway) GetSignatureStatus(ctx context.Context, sig solana.Signature) (confirmed bool, retryable bool, err error) {
	var out *solanarpc.GetSignatureStatusesResult
	callErr := g.call(ctx, "getSignatureStatuses", func() error {
		res, err := g.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if callErr != nil {
		return false, true, callErr
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return false, true, nil
	}
	status := out.Value[0]
	if status.Err != nil {
		return false, false, nil
	}
	if status.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
		return true, false, nil
	}
	return false, true, nil
}
