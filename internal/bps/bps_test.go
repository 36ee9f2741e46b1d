package bps

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMulDivExact(t *testing.T) {
	v, err := MulDiv(3, 10_000, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(7_500), v)
}

func TestMulDivDivByZero(t *testing.T) {
	_, err := MulDiv(1, 1, 0)
	require.Error(t, err)
}

func TestMulDivSaturatesOnOverflow(t *testing.T) {
	v, err := MulDiv(math.MaxUint64, math.MaxUint64, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), v)
}

func TestApplyBps(t *testing.T) {
	require.Equal(t, uint64(4_000_000), ApplyBps(10_000_000, 4_000))
}

func TestStakeweightBpsZeroTotal(t *testing.T) {
	require.Equal(t, uint64(0), StakeweightBps(5, 0))
}

func TestStakeweightBpsFloorsDown(t *testing.T) {
	// 3,000 of 3,000,000 lamports is exactly 10 bps (0.1%).
	require.Equal(t, uint64(10), StakeweightBps(3_000, 3_000_000))
	// one lamport short of the boundary floors to 9 bps, not 10.
	require.Equal(t, uint64(9), StakeweightBps(2_999, 3_000_000))
}
