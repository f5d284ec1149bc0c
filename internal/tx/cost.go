package tx

import (
	"math"
	"math/big"
)

// MinCost computes min_cost(size, diff) per §4.1:
//
//	trunc( 2·(s+3210)·COST_PER_BYTE / max(d − (DIFF_CENTER − 2), 2) · 1.2^((s+3210)/1048576) )
//
// where d is effectiveDiff: per §9's resolution of the tx_cost_above_min
// ambiguity, MinCost itself uses diff when diff >= diffCenter and
// diffCenter otherwise, so callers pass the raw difficulty.
func MinCost(size int, diff, diffCenter uint64, costPerByte *big.Int) *big.Int {
	effectiveDiff := diff
	if effectiveDiff < diffCenter {
		effectiveDiff = diffCenter
	}

	s := float64(size + 3210)
	denom := float64(effectiveDiff) - float64(diffCenter-2)
	if denom < 2 {
		denom = 2
	}

	cpb := new(big.Float).SetInt(costPerByte)
	cpbF, _ := cpb.Float64()

	base := 2 * s * cpbF / denom
	scale := math.Pow(1.2, s/1048576)
	cost := base * scale

	out := big.NewFloat(cost)
	i, _ := out.Int(nil)
	return i
}
