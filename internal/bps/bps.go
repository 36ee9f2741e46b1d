// Package bps implements the saturating, 128-bit-intermediate basis-point
// arithmetic required by §9 ("Arithmetic") of the spec: every multiplication
// feeding a persisted lamport or bps field must be computed with a 128-bit
// intermediate and saturate (not wrap) on downcast to uint64.
//
// No library in the example pack offers a saturating uint64 mul-div
// primitive (math/big is available but allocates on every call, which is
// unacceptable on the per-validator hot path this is called from); the
// stdlib math/bits 64x64->128 multiply and 128/64 divide are exact,
// allocation-free, and are the standard idiom for this in Go.
package bps

import "math/bits"

// Denominator is the fixed-point denominator for all basis-point fields
// in the data model (10_000 bps == 100%).
const Denominator = 10_000

// MulDiv computes floor(a * b / d) using a 128-bit intermediate product,
// saturating to math.MaxUint64 on overflow of the final result and
// returning an error if d == 0.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, errDivByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		// quotient would not fit in 64 bits: saturate.
		return ^uint64(0), nil
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// ApplyBps computes floor(amount * bpsValue / Denominator), saturating on
// overflow. Used for allocation-bps -> lamports conversions (e.g.
// available = floor(jitosol_tvl * allocation_bps / 10_000)).
func ApplyBps(amount, bpsValue uint64) uint64 {
	v, _ := MulDiv(amount, bpsValue, Denominator)
	return v
}

// StakeweightBps computes floor(part * 10_000 / total) in bps, returning 0
// when total is 0 (no network stake observed yet).
func StakeweightBps(part, total uint64) uint64 {
	if total == 0 {
		return 0
	}
	v, err := MulDiv(part, Denominator, total)
	if err != nil {
		return 0
	}
	return v
}

type divByZeroError struct{}

func (divByZeroError) Error() string { return "bps: division by zero" }

var errDivByZero = divByZeroError{}
