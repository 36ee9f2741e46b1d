package validatorhistory

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildAccount(entries [][32]byte) []byte {
	data := make([]byte, headerSize+len(entries)*entrySize)
	binary.LittleEndian.PutUint16(data[discriminatorSize+32+2:discriminatorSize+32+4], uint16(len(entries)))
	for i, e := range entries {
		copy(data[headerSize+i*entrySize:headerSize+(i+1)*entrySize], e[:])
	}
	return data
}

func buildEntry(epoch, mevCommission uint16, epochCredits uint64, commission, clientType byte, superminority bool) [32]byte {
	var e [32]byte
	binary.LittleEndian.PutUint16(e[8:10], epoch)
	binary.LittleEndian.PutUint16(e[10:12], mevCommission)
	binary.LittleEndian.PutUint64(e[12:20], epochCredits)
	e[20] = commission
	e[21] = clientType
	if superminority {
		e[22] = 1
	}
	return e
}

func unpopulatedEntry() [32]byte {
	var e [32]byte
	binary.LittleEndian.PutUint16(e[8:10], 0xFFFF)
	return e
}

func TestDecodePopulatesPresentEpochsOnly(t *testing.T) {
	entries := [][32]byte{
		buildEntry(500, 5, 970_000, 0, clientBam, false),
		unpopulatedEntry(),
		buildEntry(501, 10, 900_000, 2, clientJito, true),
	}
	data := buildAccount(entries)

	samples, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, samples, 2)

	s500, ok := samples[500]
	require.True(t, ok)
	require.True(t, s500.Present)
	require.Equal(t, ClientTypeBam, s500.ClientType)
	require.Equal(t, uint16(0), s500.CommissionBps)
	require.Equal(t, uint16(5), s500.MevCommissionBps)
	require.False(t, s500.IsSuperminority)
	require.Equal(t, uint64(970_000), s500.VoteCredits)

	s501, ok := samples[501]
	require.True(t, ok)
	require.Equal(t, ClientTypeJito, s501.ClientType)
	require.Equal(t, uint16(200), s501.CommissionBps)
	require.True(t, s501.IsSuperminority)
}

func TestDecodeUnknownClientType(t *testing.T) {
	entries := [][32]byte{buildEntry(1, 0, 0, 0, 99, false)}
	samples, err := Decode(buildAccount(entries))
	require.NoError(t, err)
	require.Equal(t, "Unknown", samples[1].ClientType)
}

func TestDecodeTooShortAccountErrors(t *testing.T) {
	_, err := Decode(make([]byte, headerSize-1))
	require.Error(t, err)
}

func TestDecodeTruncatedRingStopsEarly(t *testing.T) {
	data := buildAccount([][32]byte{buildEntry(1, 0, 0, 0, clientBam, false)})
	binary.LittleEndian.PutUint16(data[discriminatorSize+32+2:discriminatorSize+32+4], 5) // claims 5 entries, only 1 present
	samples, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, samples, 1)
}
