package thresholds

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"yqhp/load-engine/pkg/metrics"
)

// Operator 比较运算符
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// 长的运算符必须排在前面，避免 "<=" 被识别成 "<"
var operators = []Operator{OpLessEqual, OpGreaterEqual, OpEqual, OpNotEqual, OpLess, OpGreater}

// Aggregation names.
const (
	AggCount      = "count"
	AggRate       = "rate"
	AggValue      = "value"
	AggAvg        = "avg"
	AggMin        = "min"
	AggMax        = "max"
	AggMed        = "med"
	AggPercentile = "p"
)

var percentileRe = regexp.MustCompile(`^p\(\s*(\d+(?:\.\d+)?)\s*\)$`)

// Expression is a parsed "<aggregation> <op> <number>" threshold.
type Expression struct {
	Source      string
	Aggregation string
	Percentile  float64
	Op          Operator
	Value       float64
}

// AggregationName renders the aggregation the way it was written, e.g. "p(95)".
func (e *Expression) AggregationName() string {
	if e.Aggregation == AggPercentile {
		return "p(" + strconv.FormatFloat(e.Percentile, 'f', -1, 64) + ")"
	}
	return e.Aggregation
}

func (e *Expression) String() string {
	return fmt.Sprintf("%s%s%s", e.AggregationName(), e.Op, strconv.FormatFloat(e.Value, 'f', -1, 64))
}

// Compare applies the operator to an observed value.
func (e *Expression) Compare(observed float64) bool {
	switch e.Op {
	case OpLess:
		return observed < e.Value
	case OpLessEqual:
		return observed <= e.Value
	case OpGreater:
		return observed > e.Value
	case OpGreaterEqual:
		return observed >= e.Value
	case OpEqual:
		return observed == e.Value
	case OpNotEqual:
		return observed != e.Value
	}
	return false
}

// Parse parses a threshold expression such as "p(95)<200" or "rate < 0.01".
func Parse(src string) (*Expression, error) {
	expr := strings.TrimSpace(src)
	if expr == "" {
		return nil, &ExpressionError{Source: src, Message: "empty expression"}
	}

	idx := strings.IndexAny(expr, "<>=!")
	if idx < 0 {
		return nil, &ExpressionError{Source: src, Message: "missing comparison operator"}
	}

	var op Operator
	for _, candidate := range operators {
		if strings.HasPrefix(expr[idx:], string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, &ExpressionError{Source: src, Message: fmt.Sprintf("unknown operator near %q", expr[idx:])}
	}

	left := strings.TrimSpace(expr[:idx])
	right := strings.TrimSpace(expr[idx+len(op):])

	e := &Expression{Source: src, Op: op}
	if err := parseAggregation(left, e); err != nil {
		return nil, &ExpressionError{Source: src, Message: err.Error()}
	}

	v, err := strconv.ParseFloat(right, 64)
	if err != nil {
		return nil, &ExpressionError{Source: src, Message: fmt.Sprintf("invalid threshold value %q", right)}
	}
	e.Value = v
	return e, nil
}

func parseAggregation(s string, e *Expression) error {
	switch s {
	case AggCount, AggRate, AggValue, AggAvg, AggMin, AggMax, AggMed:
		e.Aggregation = s
		return nil
	case "":
		return fmt.Errorf("missing aggregation")
	}

	m := percentileRe.FindStringSubmatch(s)
	if m == nil {
		return fmt.Errorf("unknown aggregation %q", s)
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil || p < 0 || p > 100 {
		return fmt.Errorf("percentile out of range in %q", s)
	}
	e.Aggregation = AggPercentile
	e.Percentile = p
	return nil
}

// SupportedBy reports whether the aggregation is defined for a metric type.
func (e *Expression) SupportedBy(t metrics.MetricType) bool {
	switch t {
	case metrics.Counter:
		return e.Aggregation == AggCount || e.Aggregation == AggRate
	case metrics.Rate:
		return e.Aggregation == AggRate
	case metrics.Gauge:
		return e.Aggregation == AggValue || e.Aggregation == AggMin || e.Aggregation == AggMax
	case metrics.Trend:
		switch e.Aggregation {
		case AggAvg, AggMin, AggMax, AggMed, AggPercentile:
			return true
		}
	}
	return false
}

// Observe extracts the aggregated value from a metric snapshot. ok is false
// when the value is undefined, which callers treat as a failure.
func (e *Expression) Observe(ms *metrics.MetricSnapshot) (value float64, reason string, ok bool) {
	if !e.SupportedBy(ms.Type) {
		return 0, fmt.Sprintf("aggregation %s is not defined for %s metrics", e.AggregationName(), ms.Type), false
	}

	switch ms.Type {
	case metrics.Counter:
		// 没有样本的计数器按 0 参与比较
		return ms.Values[e.Aggregation], "", true
	case metrics.Rate:
		// 没有样本的比率按 0 参与比较
		return ms.Values[AggRate], "", true
	}

	if ms.Empty() {
		return 0, "no samples", false
	}

	switch e.Aggregation {
	case AggMed:
		v, ok := ms.Percentile(50)
		return v, "", ok
	case AggPercentile:
		v, ok := ms.Percentile(e.Percentile)
		return v, "", ok
	default:
		v, exists := ms.Values[e.Aggregation]
		if !exists {
			return 0, "value unavailable", false
		}
		return v, "", true
	}
}
