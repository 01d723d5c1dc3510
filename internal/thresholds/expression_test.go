package thresholds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		src        string
		agg        string
		percentile float64
		op         Operator
		value      float64
	}{
		{"count < 100", AggCount, 0, OpLess, 100},
		{"rate<0.01", AggRate, 0, OpLess, 0.01},
		{"p(95)<200", AggPercentile, 95, OpLess, 200},
		{"p( 99.9 ) <= 1500", AggPercentile, 99.9, OpLessEqual, 1500},
		{"avg>=10", AggAvg, 0, OpGreaterEqual, 10},
		{"med > 3", AggMed, 0, OpGreater, 3},
		{"value == 0", AggValue, 0, OpEqual, 0},
		{"max != -1", AggMax, 0, OpNotEqual, -1},
		{"  min<1e3 ", AggMin, 0, OpLess, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.agg, e.Aggregation)
			assert.Equal(t, tt.percentile, e.Percentile)
			assert.Equal(t, tt.op, e.Op)
			assert.Equal(t, tt.value, e.Value)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, src := range []string{
		"",
		"p(95)",
		"< 100",
		"avg = 100",
		"p(101) < 1",
		"p(abc) < 1",
		"percentile < 1",
		"rate < abc",
		"rate <",
		"rate => 1",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			var exprErr *ExpressionError
			assert.ErrorAs(t, err, &exprErr)
		})
	}
}

func TestExpression_Compare_Boundaries(t *testing.T) {
	e, err := Parse("count<100")
	require.NoError(t, err)
	assert.True(t, e.Compare(99))
	assert.False(t, e.Compare(100))

	e, err = Parse("count<=100")
	require.NoError(t, err)
	assert.True(t, e.Compare(100))
}

func TestProperty_OperatorSemantics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bound := float64(rapid.IntRange(-1000, 1000).Draw(t, "bound"))
		observed := float64(rapid.IntRange(-1000, 1000).Draw(t, "observed"))
		op := rapid.SampledFrom(operators).Draw(t, "op")

		e, err := Parse("avg" + string(op) + formatFloat(bound))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		var want bool
		switch op {
		case OpLess:
			want = observed < bound
		case OpLessEqual:
			want = observed <= bound
		case OpGreater:
			want = observed > bound
		case OpGreaterEqual:
			want = observed >= bound
		case OpEqual:
			want = observed == bound
		case OpNotEqual:
			want = observed != bound
		}
		if got := e.Compare(observed); got != want {
			t.Fatalf("%v %s %v = %v, want %v", observed, op, bound, got, want)
		}
	})
}
