// Package cranker implements the Cranker (§4.6): the maintenance driver
// that advances the stake pool's last_update_epoch every epoch boundary.
package cranker

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/rpc"
	"github.com/jito-foundation/kobe/internal/slack"
)

var logger = log15.New("pkg", "cranker")

const (
	epochRewardsPollInterval = 30 * time.Second
	epochRewardsTimeout      = 60 * time.Minute
	confirmationGrace        = 30 * time.Second
	maxConfirmationRounds    = 250
	maxSubmissionBatchSize   = 250

	normalComputeUnitPrice = uint64(10_000)
	escalatedComputeUnitPrice = uint64(1_000_000)
	listComputeUnitLimit   = uint32(600_000)
	finalComputeUnitLimit  = uint32(1_400_000)
)

// Mode selects how transactions are handled once built.
type Mode int

const (
	// ModeSubmit builds and submits transactions for real.
	ModeSubmit Mode = iota
	// ModeDryRun builds transactions but never submits them.
	ModeDryRun
	// ModeSimulate replaces submission with simulate_transaction,
	// logging err+logs.
	ModeSimulate
)

// Cranker drives one stake pool's maintenance cycle.
type Cranker struct {
	Gateway        *rpc.ChainGateway
	StakePool      solana.PublicKey
	StakePoolProgram solana.PublicKey
	Signer         solana.PrivateKey
	Notifier       slack.Notifier
	Mode           Mode
}

// PoolState is the subset of on-chain stake-pool state the cranker reads
// to decide whether to run.
type PoolState struct {
	LastUpdateEpoch uint64
}

// Run implements the full §4.6 protocol for one epoch boundary.
func (c *Cranker) Run(ctx context.Context, force bool) error {
	info, err := c.Gateway.GetEpochInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "cranker: get epoch info")
	}

	pool, err := c.fetchPoolState(ctx)
	if err != nil {
		return errors.Wrap(err, "cranker: fetch stake pool state")
	}

	if pool.LastUpdateEpoch == info.Epoch && !force {
		logger.Info("stake pool already current, nothing to do", "epoch", info.Epoch)
		return nil
	}

	if err := c.waitForEpochRewardsInactive(ctx); err != nil {
		c.Notifier.PostCrankResult(info.Epoch, false, err.Error())
		return err
	}

	listInstructions, finalInstructions, err := c.buildInstructionSets(ctx, info.Epoch)
	if err != nil {
		c.Notifier.PostCrankResult(info.Epoch, false, err.Error())
		return errors.Wrap(err, "cranker: build instruction sets")
	}

	if c.Mode == ModeDryRun {
		logger.Info("dry-run: constructed instruction sets, not submitting", "epoch", info.Epoch, "list_txs", len(listInstructions), "final_instr", len(finalInstructions))
		return nil
	}

	if c.Mode == ModeSimulate {
		return c.simulateAll(ctx, listInstructions, finalInstructions)
	}

	if err := c.submitListPhase(ctx, listInstructions, normalComputeUnitPrice); err != nil {
		c.Notifier.PostCrankResult(info.Epoch, false, err.Error())
		return err
	}

	if err := c.submitFinal(ctx, finalInstructions, normalComputeUnitPrice); err != nil {
		c.Notifier.PostCrankResult(info.Epoch, false, err.Error())
		return err
	}

	c.Notifier.PostCrankResult(info.Epoch, true, "crank complete")
	return nil
}

func (c *Cranker) fetchPoolState(ctx context.Context) (PoolState, error) {
	acc, err := c.Gateway.GetAccount(ctx, c.StakePool, c.StakePoolProgram)
	if err != nil {
		return PoolState{}, err
	}
	if acc == nil || acc.Missing {
		return PoolState{}, errors.New("cranker: stake pool account not found")
	}
	// StakePool account layout decoding (last_update_epoch field offset)
	// is owned by the stake-pool program's own SDK in a full build; here
	// we decode only the field this protocol actually reads.
	if len(acc.Data) < 16 {
		return PoolState{}, errors.New("cranker: stake pool account too short to decode")
	}
	epoch := leU64(acc.Data[8:16])
	return PoolState{LastUpdateEpoch: epoch}, nil
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// waitForEpochRewardsInactive implements §4.6 step 2.
func (c *Cranker) waitForEpochRewardsInactive(ctx context.Context) error {
	deadline := time.Now().Add(epochRewardsTimeout)
	for {
		active, err := c.epochRewardsActive(ctx)
		if err != nil {
			return err
		}
		if !active {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("cranker: timed out waiting for EpochRewards to go inactive")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(epochRewardsPollInterval):
		}
	}
}

// sysvarEpochRewards is the well-known EpochRewards sysvar address.
var sysvarEpochRewards = solana.MustPublicKeyFromBase58("SysvarEpochRewards1111111111111111111111111")

func (c *Cranker) epochRewardsActive(ctx context.Context) (bool, error) {
	acc, err := c.Gateway.GetAccount(ctx, sysvarEpochRewards, sysvarEpochRewards)
	if err != nil {
		return false, err
	}
	if acc == nil || acc.Missing {
		return false, nil
	}
	return len(acc.Data) > 0 && acc.Data[len(acc.Data)-1] != 0, nil
}

// Instruction is an opaque transaction instruction already built by the
// stake-pool-program client layer (construction of the exact pool-
// program instructions is out of this module's scope; the cranker's
// contract is the submission protocol around them).
type Instruction = solana.Instruction

// buildInstructionSets implements §4.6 step 3.
func (c *Cranker) buildInstructionSets(ctx context.Context, epoch uint64) (listTxInstructionPairs [][2]Instruction, finalInstructions []Instruction, err error) {
	validatorList, err := c.fetchValidatorList(ctx)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i+1 < len(validatorList); i += 2 {
		listTxInstructionPairs = append(listTxInstructionPairs, [2]Instruction{
			updateValidatorListBalanceIx(c.StakePoolProgram, c.StakePool, validatorList[i]),
			updateValidatorListBalanceIx(c.StakePoolProgram, c.StakePool, validatorList[i+1]),
		})
	}
	finalInstructions = []Instruction{
		updateStakePoolBalanceIx(c.StakePoolProgram, c.StakePool),
		cleanupRemovedValidatorEntriesIx(c.StakePoolProgram, c.StakePool),
	}
	return listTxInstructionPairs, finalInstructions, nil
}

func (c *Cranker) fetchValidatorList(ctx context.Context) ([]solana.PublicKey, error) {
	accounts, err := c.Gateway.GetProgramAccounts(ctx, c.StakePoolProgram)
	if err != nil {
		return nil, err
	}
	list := make([]solana.PublicKey, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, a.Pubkey)
	}
	return list, nil
}

// submissionResult tracks one in-flight transaction's signature and
// retry eligibility.
type submissionResult struct {
	Signature    solana.Signature
	Instructions []Instruction
	ComputeUnitPrice uint64
	Confirmed    bool
}

// submitListPhase implements §4.6 steps 4-5: batches of up to 250
// transactions, 30s grace, confirmation polling, and the
// escalate-and-restart-once fallback. Transactions are sent one after
// another; a batch is not submitted concurrently.
func (c *Cranker) submitListPhase(ctx context.Context, pairs [][2]Instruction, computeUnitPrice uint64) error {
	pending := make([]submissionResult, 0, len(pairs))
	for start := 0; start < len(pairs); start += maxSubmissionBatchSize {
		end := start + maxSubmissionBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]
		blockhash, _, err := c.Gateway.GetLatestBlockhash(ctx)
		if err != nil {
			return errors.Wrap(err, "cranker: refresh blockhash for list batch")
		}
		for _, pair := range batch {
			sig, err := c.sendComputeBudgetedTx(ctx, blockhash, computeUnitPrice, listComputeUnitLimit, pair[:])
			if err != nil {
				logger.Warn("list instruction pair send failed, will retry in confirmation loop", "err", err)
				// A zero signature has no status, so confirmWithRetries
				// treats it as unresolved and resubmits the pair.
				pending = append(pending, submissionResult{Instructions: pair[:], ComputeUnitPrice: computeUnitPrice})
				continue
			}
			pending = append(pending, submissionResult{Signature: sig, Instructions: pair[:], ComputeUnitPrice: computeUnitPrice})
		}
	}

	time.Sleep(confirmationGrace)

	escalated, err := c.confirmWithRetries(ctx, pending)
	if err != nil {
		return err
	}
	if escalated {
		if computeUnitPrice != normalComputeUnitPrice {
			return errors.New("cranker: list phase retry budget exhausted after escalation")
		}
		logger.Warn("list phase retry budget exhausted, escalating compute price and restarting once")
		return c.submitListPhase(ctx, pairs, escalatedComputeUnitPrice)
	}
	return nil
}

// confirmWithRetries polls signature statuses and re-submits failed or
// unconfirmed transactions with a fresh blockhash, up to
// maxConfirmationRounds. Returns escalate=true if the retry budget was
// exhausted with unconfirmed transactions remaining.
func (c *Cranker) confirmWithRetries(ctx context.Context, pending []submissionResult) (escalate bool, err error) {
	for round := 0; round < maxConfirmationRounds; round++ {
		var unresolved []submissionResult
		for _, p := range pending {
			if p.Confirmed {
				continue
			}
			confirmed, retryable, err := c.checkStatus(ctx, p.Signature)
			if err != nil {
				return false, err
			}
			if confirmed {
				continue
			}
			if retryable {
				unresolved = append(unresolved, p)
			}
		}
		if len(unresolved) == 0 {
			return false, nil
		}

		blockhash, _, err := c.Gateway.GetLatestBlockhash(ctx)
		if err != nil {
			return false, errors.Wrap(err, "cranker: refresh blockhash for retry round")
		}
		var resubmitted []submissionResult
		for _, p := range unresolved {
			sig, err := c.sendComputeBudgetedTx(ctx, blockhash, p.ComputeUnitPrice, listComputeUnitLimit, p.Instructions)
			if err != nil {
				logger.Warn("resubmission failed", "err", err)
				resubmitted = append(resubmitted, p)
				continue
			}
			p.Signature = sig
			resubmitted = append(resubmitted, p)
		}
		pending = resubmitted

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return true, nil
}

func (c *Cranker) checkStatus(ctx context.Context, sig solana.Signature) (confirmed, retryable bool, err error) {
	return c.Gateway.GetSignatureStatus(ctx, sig)
}

// submitFinal implements §4.6 step 6.
func (c *Cranker) submitFinal(ctx context.Context, finalInstructions []Instruction, computeUnitPrice uint64) error {
	blockhash, _, err := c.Gateway.GetLatestBlockhash(ctx)
	if err != nil {
		return errors.Wrap(err, "cranker: refresh blockhash for final tx")
	}
	sig, err := c.sendComputeBudgetedTx(ctx, blockhash, computeUnitPrice, finalComputeUnitLimit, finalInstructions)
	if err != nil {
		if computeUnitPrice == normalComputeUnitPrice {
			logger.Warn("final tx failed at normal price, escalating", "err", err)
			return c.submitFinal(ctx, finalInstructions, escalatedComputeUnitPrice)
		}
		return errors.Wrap(err, "cranker: final transaction failed after escalation")
	}

	if escalated, err := c.confirmWithRetries(ctx, []submissionResult{{Signature: sig, Instructions: finalInstructions, ComputeUnitPrice: computeUnitPrice}}); err != nil {
		return err
	} else if escalated {
		if computeUnitPrice == normalComputeUnitPrice {
			return c.submitFinal(ctx, finalInstructions, escalatedComputeUnitPrice)
		}
		return errors.New("cranker: final transaction unconfirmed after escalation")
	}
	return nil
}

func (c *Cranker) simulateAll(ctx context.Context, pairs [][2]Instruction, finalInstructions []Instruction) error {
	blockhash, _, err := c.Gateway.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		tx, err := c.buildTx(blockhash, normalComputeUnitPrice, listComputeUnitLimit, pair[:])
		if err != nil {
			return err
		}
		result, err := c.Gateway.SimulateTransaction(ctx, tx)
		if err != nil {
			return err
		}
		logger.Info("simulate list tx", "err", result.Err, "logs", result.Logs)
	}
	tx, err := c.buildTx(blockhash, normalComputeUnitPrice, finalComputeUnitLimit, finalInstructions)
	if err != nil {
		return err
	}
	result, err := c.Gateway.SimulateTransaction(ctx, tx)
	if err != nil {
		return err
	}
	logger.Info("simulate final tx", "err", result.Err, "logs", result.Logs)
	return nil
}

// sendComputeBudgetedTx builds and submits a transaction with a leading
// compute-budget instruction pair, skipping preflight, per §4.6 step 4.
func (c *Cranker) sendComputeBudgetedTx(ctx context.Context, blockhash solana.Hash, computeUnitPrice uint64, computeUnitLimit uint32, instructions []Instruction) (solana.Signature, error) {
	tx, err := c.buildTx(blockhash, computeUnitPrice, computeUnitLimit, instructions)
	if err != nil {
		return solana.Signature{}, err
	}
	return c.sendRaw(ctx, tx)
}

func (c *Cranker) buildTx(blockhash solana.Hash, computeUnitPrice uint64, computeUnitLimit uint32, instructions []Instruction) (*solana.Transaction, error) {
	all := append([]Instruction{
		computeBudgetSetPriceIx(computeUnitPrice),
		computeBudgetSetLimitIx(computeUnitLimit),
	}, instructions...)
	tx, err := solana.NewTransaction(all, blockhash, solana.TransactionPayer(c.Signer.PublicKey()))
	if err != nil {
		return nil, errors.Wrap(err, "cranker: build transaction")
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.Signer.PublicKey()) {
			return &c.Signer
		}
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "cranker: sign transaction")
	}
	return tx, nil
}

// sendRaw submits tx skipping preflight, per §4.6 step 4.
func (c *Cranker) sendRaw(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.Gateway.SendTransaction(ctx, tx, true)
}
