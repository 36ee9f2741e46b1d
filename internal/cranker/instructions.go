package cranker

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// computeBudgetProgram is the native Compute Budget program address.
var computeBudgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Compute Budget program instruction discriminators (first instruction
// byte), per the native program's instruction enum.
const (
	computeBudgetIxSetComputeUnitLimit = byte(2)
	computeBudgetIxSetComputeUnitPrice = byte(3)
)

// computeBudgetSetLimitIx builds a SetComputeUnitLimit instruction.
func computeBudgetSetLimitIx(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetIxSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(computeBudgetProgram, solana.AccountMetaSlice{}, data)
}

// computeBudgetSetPriceIx builds a SetComputeUnitPrice instruction
// (microLamports per compute unit).
func computeBudgetSetPriceIx(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetIxSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgram, solana.AccountMetaSlice{}, data)
}

// Stake-pool program instruction discriminators, matching the upstream
// SPL stake-pool program's StakePoolInstruction enum ordering. The full
// account layouts (validator-list, withdraw-authority, reserve stake,
// sysvars) aren't reproducible without the program's IDL, so these
// instructions carry the accounts the maintenance protocol actually
// needs to name (pool, validator entry, clock and stake-history
// sysvars) and leave the remainder for the real stake-pool client to
// fill in at the call site.
const (
	stakePoolIxUpdateValidatorListBalance     = byte(7)
	stakePoolIxUpdateStakePoolBalance         = byte(8)
	stakePoolIxCleanupRemovedValidatorEntries = byte(9)
)

// updateValidatorListBalanceIx builds one UpdateValidatorListBalance
// instruction for a single validator entry, per §4.6 step 3.
func updateValidatorListBalanceIx(program, stakePool, validatorVoteOrStakeAccount solana.PublicKey) Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(stakePool, false, false),
		solana.NewAccountMeta(validatorVoteOrStakeAccount, true, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarStakeHistoryPubkey, false, false),
	}
	return solana.NewInstruction(program, accounts, []byte{stakePoolIxUpdateValidatorListBalance})
}

// updateStakePoolBalanceIx builds the pool-wide balance reconciliation
// instruction, per §4.6 step 3.
func updateStakePoolBalanceIx(program, stakePool solana.PublicKey) Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(stakePool, true, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
	}
	return solana.NewInstruction(program, accounts, []byte{stakePoolIxUpdateStakePoolBalance})
}

// cleanupRemovedValidatorEntriesIx builds the final trim-stale-entries
// instruction, per §4.6 step 3.
func cleanupRemovedValidatorEntriesIx(program, stakePool solana.PublicKey) Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(stakePool, false, false),
	}
	return solana.NewInstruction(program, accounts, []byte{stakePoolIxCleanupRemovedValidatorEntries})
}
