package execution

import (
	"math"
	"time"

	"yqhp/load-engine/pkg/types"
)

// TargetAtExact returns the exact value of the target curve at elapsed.
// The curve is piecewise linear through (0, startVUs) and the end of each
// stage at that stage's target. A zero-duration stage jumps to its target;
// past the last stage the final target holds.
func TargetAtExact(startVUs int, stages []types.Stage, elapsed time.Duration) float64 {
	v, _ := curveAt(startVUs, stages, elapsed)
	return v
}

// curveAt returns the curve value and whether the active stage ramps down.
func curveAt(startVUs int, stages []types.Stage, elapsed time.Duration) (float64, bool) {
	if elapsed < 0 {
		elapsed = 0
	}
	prev := float64(startVUs)
	var offset time.Duration
	for _, s := range stages {
		end := offset + s.Duration
		if elapsed < end {
			progress := float64(elapsed-offset) / float64(s.Duration)
			return prev + (float64(s.Target)-prev)*progress, float64(s.Target) < prev
		}
		prev = float64(s.Target)
		offset = end
	}
	return prev, false
}

// TargetAt returns the integer VU target at elapsed. Ramping up it takes the
// floor of the curve, ramping down the ceiling, so a VU is added once the
// curve reaches the next integer and removed only after the curve has
// dropped below the current one.
func TargetAt(startVUs int, stages []types.Stage, elapsed time.Duration) int {
	v, falling := curveAt(startVUs, stages, elapsed)
	// 容忍浮点误差，避免 2.9999999 被取整为 2
	if falling {
		return int(math.Ceil(v - 1e-9))
	}
	return int(math.Floor(v + 1e-9))
}

// StageIndexAt returns the index of the stage active at elapsed, or
// len(stages) once all stages are over.
func StageIndexAt(stages []types.Stage, elapsed time.Duration) int {
	var offset time.Duration
	for i, s := range stages {
		offset += s.Duration
		if elapsed < offset {
			return i
		}
	}
	return len(stages)
}
