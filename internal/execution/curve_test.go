package execution

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"yqhp/load-engine/pkg/types"
)

func TestTargetAt(t *testing.T) {
	stages := []types.Stage{
		{Duration: time.Minute, Target: 20},
		{Duration: time.Minute, Target: 15},
		{Duration: time.Minute, Target: 0},
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{3 * time.Second, 1},
		{30 * time.Second, 10},
		{time.Minute, 20},
		{90 * time.Second, 18},
		{2 * time.Minute, 15},
		{150 * time.Second, 8},
		{179 * time.Second, 1},
		{3 * time.Minute, 0},
		{time.Hour, 0},
		{-time.Second, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetAt(0, stages, tt.elapsed), tt.elapsed.String())
	}
}

func TestTargetAt_StartVUs(t *testing.T) {
	stages := []types.Stage{{Duration: 10 * time.Second, Target: 2}}
	assert.Equal(t, 4, TargetAt(4, stages, 0))
	assert.Equal(t, 3, TargetAt(4, stages, 5*time.Second))
	assert.Equal(t, 2, TargetAt(4, stages, 10*time.Second))
}

func TestTargetAt_RoundsTowardsPreviousTarget(t *testing.T) {
	// 4 -> 6 -> 1: 上升取下整，下降取上整
	stages := []types.Stage{
		{Duration: 2 * time.Second, Target: 6},
		{Duration: 5 * time.Second, Target: 1},
	}
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 4},
		{500 * time.Millisecond, 4},
		{time.Second, 5},
		{1500 * time.Millisecond, 5},
		{2 * time.Second, 6},
		{2500 * time.Millisecond, 6},
		{3 * time.Second, 5},
		{3500 * time.Millisecond, 5},
		{6500 * time.Millisecond, 2},
		{7 * time.Second, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TargetAt(4, stages, tt.elapsed), tt.elapsed.String())
	}
}

func TestTargetAt_PeakHoldsUntilCurveFalls(t *testing.T) {
	stages := []types.Stage{
		{Duration: 10 * time.Second, Target: 2},
		{Duration: 5 * time.Second, Target: 0},
	}
	assert.Equal(t, 0, TargetAt(0, stages, 4*time.Second))
	assert.Equal(t, 1, TargetAt(0, stages, 5*time.Second))
	assert.Equal(t, 2, TargetAt(0, stages, 10*time.Second))
	assert.Equal(t, 2, TargetAt(0, stages, 10*time.Second+time.Millisecond))
	assert.Equal(t, 2, TargetAt(0, stages, 12*time.Second))
	assert.Equal(t, 1, TargetAt(0, stages, 13*time.Second))
	assert.Equal(t, 0, TargetAt(0, stages, 15*time.Second))
}

func TestTargetAt_ZeroDurationStageJumps(t *testing.T) {
	stages := []types.Stage{
		{Duration: 0, Target: 5},
		{Duration: time.Second, Target: 5},
		{Duration: 0, Target: 1},
		{Duration: time.Second, Target: 1},
	}
	assert.Equal(t, 5, TargetAt(0, stages, 0))
	assert.Equal(t, 5, TargetAt(0, stages, 999*time.Millisecond))
	assert.Equal(t, 1, TargetAt(0, stages, time.Second))
	assert.Equal(t, 1, TargetAt(0, stages, 2*time.Second))
}

func TestTargetAt_NoStages(t *testing.T) {
	assert.Equal(t, 3, TargetAt(3, nil, time.Second))
	assert.Equal(t, 0, TargetAt(0, nil, 0))
}

func TestStageIndexAt(t *testing.T) {
	stages := []types.Stage{{Duration: time.Second}, {Duration: 0}, {Duration: time.Second}}
	assert.Equal(t, 0, StageIndexAt(stages, 0))
	assert.Equal(t, 2, StageIndexAt(stages, time.Second))
	assert.Equal(t, 3, StageIndexAt(stages, 2*time.Second))
}

func stagesGen(t *rapid.T) (int, []types.Stage) {
	start := rapid.IntRange(0, 100).Draw(t, "start")
	n := rapid.IntRange(1, 5).Draw(t, "stages")
	stages := make([]types.Stage, n)
	for i := range stages {
		stages[i] = types.Stage{
			Duration: time.Duration(rapid.IntRange(0, 60_000).Draw(t, "ms")) * time.Millisecond,
			Target:   rapid.IntRange(0, 100).Draw(t, "target"),
		}
	}
	return start, stages
}

func TestProperty_CurveEndpoints(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start, stages := stagesGen(t)
		total := types.TotalDuration(stages)
		last := stages[len(stages)-1].Target

		if stages[0].Duration > 0 {
			if got := TargetAt(start, stages, 0); got != start {
				t.Fatalf("TargetAt(0) = %d, want start %d", got, start)
			}
		}
		if got := TargetAt(start, stages, total); got != last {
			t.Fatalf("TargetAt(total) = %d, want %d", got, last)
		}
		extra := time.Duration(rapid.IntRange(0, 1_000_000).Draw(t, "extra")) * time.Millisecond
		if got := TargetAt(start, stages, total+extra); got != last {
			t.Fatalf("TargetAt(total+%s) = %d, want %d", extra, got, last)
		}

		// 曲线始终在所有目标的范围之内
		peak := types.MaxTarget(start, stages)
		at := time.Duration(rapid.Int64Range(0, int64(total)).Draw(t, "at"))
		if got := TargetAt(start, stages, at); got < 0 || got > peak {
			t.Fatalf("TargetAt(%s) = %d outside [0,%d]", at, got, peak)
		}
	})
}

func TestProperty_CurveMonotonicAndContinuousPerStage(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("monotonic within a stage", prop.ForAll(
		func(start, target, durMs, aMs, bMs int) bool {
			stages := []types.Stage{{Duration: time.Duration(durMs) * time.Millisecond, Target: target}}
			a := time.Duration(min(aMs, bMs)%durMs) * time.Millisecond
			b := time.Duration(max(aMs, bMs)%durMs) * time.Millisecond
			if a > b {
				a, b = b, a
			}
			fa := TargetAtExact(start, stages, a)
			fb := TargetAtExact(start, stages, b)
			if target >= start {
				return fa <= fb+1e-9
			}
			return fa >= fb-1e-9
		},
		gen.IntRange(0, 200),
		gen.IntRange(0, 200),
		gen.IntRange(1, 120_000),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 1_000_000),
	))

	properties.Property("continuous at stage boundaries", prop.ForAll(
		func(start, t1, t2, d1Ms, d2Ms int) bool {
			stages := []types.Stage{
				{Duration: time.Duration(d1Ms) * time.Millisecond, Target: t1},
				{Duration: time.Duration(d2Ms) * time.Millisecond, Target: t2},
			}
			knot := stages[0].Duration
			before := TargetAtExact(start, stages, knot-time.Microsecond)
			at := TargetAtExact(start, stages, knot)
			after := TargetAtExact(start, stages, knot+time.Microsecond)

			// 每微秒的最大变化量
			slope1 := math.Abs(float64(t1-start)) / float64(stages[0].Duration/time.Microsecond)
			slope2 := math.Abs(float64(t2-t1)) / float64(stages[1].Duration/time.Microsecond)
			return at == float64(t1) &&
				math.Abs(at-before) <= slope1+1e-9 &&
				math.Abs(after-at) <= slope2+1e-9
		},
		gen.IntRange(0, 200),
		gen.IntRange(0, 200),
		gen.IntRange(0, 200),
		gen.IntRange(1, 60_000),
		gen.IntRange(1, 60_000),
	))

	properties.TestingRun(t)
}
