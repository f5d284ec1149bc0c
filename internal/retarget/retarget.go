// Package retarget implements the difficulty-retarget rule (§4.10, §4.6
// item 6). It is pure, state-free arithmetic so both the Node Server
// (producing a candidate block) and internal/validate (checking one) call
// the exact same function.
package retarget

import "math"

// MaxAdjustmentFactor bounds how many leading-zero bits a single retarget
// may add to or remove from difficulty, regardless of how far elapsed time
// deviates from the target.
const MaxAdjustmentFactor = 4

// IsRetargetHeight reports whether height is a retarget boundary.
func IsRetargetHeight(height, retargetBlocks uint64) bool {
	if retargetBlocks == 0 {
		return false
	}
	return height%retargetBlocks == 0
}

// Next computes the new difficulty for a retarget boundary block, given the
// previous difficulty, the wall-clock elapsed (seconds) since last_retarget,
// the number of blocks in the retarget period, and the target seconds per
// block. A single retarget may not move difficulty by more than
// MaxAdjustmentFactor in either direction (§4.10).
func Next(prevDiff uint64, elapsedSeconds int64, retargetBlocks uint64, targetSecondsPerBlock int64) uint64 {
	if elapsedSeconds <= 0 {
		elapsedSeconds = 1
	}
	expected := targetSecondsPerBlock * int64(retargetBlocks)
	if expected <= 0 {
		return prevDiff
	}

	// Difficulty here is measured in required leading-zero bits, so the
	// "hash rate" implied by elapsed time maps onto an additive, not
	// multiplicative, adjustment: doubling/halving the expected block
	// interval shifts the bit target by one, bounded by
	// MaxAdjustmentFactor bits per retarget.
	ratio := float64(expected) / float64(elapsedSeconds)
	delta := log2(ratio)

	maxDelta := float64(MaxAdjustmentFactor)
	if delta > maxDelta {
		delta = maxDelta
	}
	if delta < -maxDelta {
		delta = -maxDelta
	}

	newDiff := int64(prevDiff) + roundToInt(delta)
	if newDiff < 1 {
		newDiff = 1
	}
	return uint64(newDiff)
}

// OK implements retarget_ok(B, P) (§4.6 item 6): at a retarget height B.Diff
// must equal Next(...) of P's difficulty over the elapsed wall-clock since
// P.LastRetarget; otherwise B must carry P's diff and last_retarget
// unchanged.
func OK(candidateHeight uint64, candidateDiff uint64, candidateLastRetarget int64,
	prevDiff uint64, prevLastRetarget int64, candidateTimestamp int64,
	retargetBlocks uint64, targetSecondsPerBlock int64) bool {
	if IsRetargetHeight(candidateHeight, retargetBlocks) {
		want := Next(prevDiff, candidateTimestamp-prevLastRetarget, retargetBlocks, targetSecondsPerBlock)
		return candidateDiff == want && candidateLastRetarget == candidateTimestamp
	}
	return candidateDiff == prevDiff && candidateLastRetarget == prevLastRetarget
}

func log2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log2(x)
}

func roundToInt(f float64) int64 {
	if f >= 0 {
		return int64(f + 0.5)
	}
	return -int64(-f + 0.5)
}
