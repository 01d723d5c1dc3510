// Package thresholds parses threshold expressions and evaluates them against
// metric snapshots. Evaluation is pure and fail-closed: a threshold that
// cannot be evaluated counts as failed.
package thresholds

import (
	"errors"
	"fmt"
	"time"

	"github.com/duke-git/lancet/v2/slice"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Threshold is a compiled threshold definition.
type Threshold struct {
	Definition types.ThresholdDefinition
	Expr       *Expression
	MetricName string
	Tags       map[string]string
	// Key 是快照中的规范化键，标签按名称排序
	Key string
}

// Set is an ordered, compiled list of thresholds.
type Set struct {
	thresholds []*Threshold
}

// Compile parses every definition. All problems are reported together.
func Compile(defs []types.ThresholdDefinition) (*Set, error) {
	set := &Set{thresholds: make([]*Threshold, 0, len(defs))}
	var errs []error

	for _, def := range defs {
		name, tags, err := metrics.ParseMetricKey(def.Metric)
		if err != nil {
			errs = append(errs, &DefinitionError{Metric: def.Metric, Cause: err})
			continue
		}
		expr, err := Parse(def.Expression)
		if err != nil {
			errs = append(errs, &DefinitionError{Metric: def.Metric, Cause: err})
			continue
		}
		if def.DelayAbortEval < 0 {
			errs = append(errs, &DefinitionError{Metric: def.Metric, Cause: fmt.Errorf("delay_abort_eval must not be negative")})
			continue
		}
		if t, ok := metrics.BuiltinType(name); ok && !expr.SupportedBy(t) {
			errs = append(errs, &DefinitionError{
				Metric: def.Metric,
				Cause:  fmt.Errorf("aggregation %s is not defined for %s metric %s", expr.AggregationName(), t, name),
			})
			continue
		}
		set.thresholds = append(set.thresholds, &Threshold{
			Definition: def,
			Expr:       expr,
			MetricName: name,
			Tags:       tags,
			Key:        metrics.MetricKey(name, tags),
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return set, nil
}

// Len returns the number of thresholds.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.thresholds)
}

// Thresholds returns the compiled thresholds in definition order.
func (s *Set) Thresholds() []*Threshold {
	if s == nil {
		return nil
	}
	return s.thresholds
}

// Bind prepares the store for evaluation: it creates submetrics for tagged
// thresholds and checks aggregations against custom metric types. Thresholds
// on metrics that do not exist yet are returned as warnings; they fail at
// evaluation unless the metric appears during the run.
func (s *Set) Bind(store *metrics.Store) (warnings []string, err error) {
	var errs []error
	for _, th := range s.Thresholds() {
		parent := store.Get(th.MetricName)
		if parent == nil {
			warnings = append(warnings, fmt.Sprintf("threshold %q references unknown metric %q", th.Definition.String(), th.MetricName))
			continue
		}
		if !th.Expr.SupportedBy(parent.Type) {
			errs = append(errs, &DefinitionError{
				Metric: th.Definition.Metric,
				Cause:  fmt.Errorf("aggregation %s is not defined for %s metric %s", th.Expr.AggregationName(), parent.Type, parent.Name),
			})
			continue
		}
		if len(th.Tags) > 0 {
			if _, err := store.Submetric(parent, th.Tags); err != nil {
				errs = append(errs, &DefinitionError{Metric: th.Definition.Metric, Cause: err})
			}
		}
	}
	return warnings, errors.Join(errs...)
}

// Evaluate evaluates every threshold against snap, in definition order.
// It never mutates the store the snapshot came from.
func (s *Set) Evaluate(snap *metrics.Snapshot) []types.ThresholdResult {
	results := make([]types.ThresholdResult, 0, s.Len())
	for _, th := range s.Thresholds() {
		results = append(results, th.Evaluate(snap))
	}
	return results
}

// Evaluate evaluates one threshold.
func (th *Threshold) Evaluate(snap *metrics.Snapshot) types.ThresholdResult {
	res := types.ThresholdResult{
		Metric:     th.Definition.Metric,
		Expression: th.Definition.Expression,
	}

	ms, ok := snap.Get(th.Key)
	if !ok {
		res.Reason = "unknown metric"
		return res
	}

	value, reason, ok := th.Expr.Observe(ms)
	if !ok {
		res.Reason = reason
		return res
	}
	res.Value = value
	res.Passed = th.Expr.Compare(value)
	return res
}

// ShouldAbort reports whether a failed result may abort the run at elapsed.
func (th *Threshold) ShouldAbort(elapsed time.Duration) bool {
	return th.Definition.AbortOnFail && elapsed >= th.Definition.DelayAbortEval
}

// Failed returns the failing results, preserving order. An empty result
// means the thresholds passed.
func Failed(results []types.ThresholdResult) []types.ThresholdResult {
	return slice.Filter(results, func(_ int, r types.ThresholdResult) bool {
		return !r.Passed
	})
}
