// Package validatorhistory decodes the on-chain ValidatorHistory ring-
// buffer account shared by EpochWriter (client classification) and
// BamSizer (eligibility history). Decoding lives in its own package so
// both callers read the same bytes the same way.
package validatorhistory

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/jito-foundation/kobe/internal/bam"
)

// Client-type byte values as written into each ring-buffer entry.
const (
	clientUnknown = byte(0)
	clientSolana  = byte(1)
	clientJito    = byte(2)
	clientFiredancer = byte(3)
	clientBam     = byte(4)
)

const (
	discriminatorSize = 8
	entrySize         = 32 // activated_stake(8) + epoch(2) + mev_commission(2) + epoch_credits(8) + commission(1) + client_type(1) + is_superminority(1) + rank(4) + padding(5)
	headerSize        = discriminatorSize + 32 /* vote account pubkey */ + 2 /* ring idx */ + 2 /* len */
)

// ClientTypeJito/ClientTypeBam mirror bam.ClientTypeBam for readability
// at call sites that branch on the decoded string.
const (
	ClientTypeJito = "Jito"
	ClientTypeBam  = bam.ClientTypeBam
)

// Decode parses a raw ValidatorHistory account into one HistorySample
// per populated ring-buffer slot, keyed by epoch. Malformed or
// too-short accounts return an error; callers (EpochWriter, BamSizer)
// are expected to skip the validator for this run rather than fail the
// whole pipeline, per §4.2/§4.5's "decode failure -> skip" contract.
func Decode(data []byte) (map[uint64]bam.HistorySample, error) {
	if len(data) < headerSize {
		return nil, errors.New("validatorhistory: account too short for header")
	}
	ringLen := int(binary.LittleEndian.Uint16(data[discriminatorSize+32+2 : discriminatorSize+32+4]))
	samples := make(map[uint64]bam.HistorySample, ringLen)

	offset := headerSize
	for i := 0; i < ringLen; i++ {
		start := offset + i*entrySize
		end := start + entrySize
		if end > len(data) {
			break
		}
		entry := data[start:end]
		sample := decodeEntry(entry)
		if sample.Present {
			samples[sample.Epoch] = sample
		}
	}
	return samples, nil
}

func decodeEntry(entry []byte) bam.HistorySample {
	// activated_stake_lamports (entry[0:8]) isn't needed by either
	// caller today; left undecoded rather than read-and-discarded.
	epoch := binary.LittleEndian.Uint16(entry[8:10])
	mevCommission := binary.LittleEndian.Uint16(entry[10:12])
	epochCredits := binary.LittleEndian.Uint64(entry[12:20])
	commission := entry[20]
	clientType := entry[21]
	isSuperminority := entry[22] != 0

	// epoch==0xFFFF (sentinel default) marks an unpopulated slot;
	// everything else is a written sample.
	if epoch == 0xFFFF {
		return bam.HistorySample{Present: false}
	}

	return bam.HistorySample{
		Epoch:            uint64(epoch),
		Present:          true,
		ClientType:       clientTypeString(clientType),
		CommissionBps:    uint16(commission) * 100,
		MevCommissionBps: mevCommission,
		IsSuperminority:  isSuperminority,
		VoteCredits:      epochCredits,
	}
}

func clientTypeString(b byte) string {
	switch b {
	case clientJito:
		return ClientTypeJito
	case clientBam:
		return ClientTypeBam
	case clientSolana:
		return "SolanaLabs"
	case clientFiredancer:
		return "Firedancer"
	default:
		return "Unknown"
	}
}
