package types

import "time"

// ThresholdDefinition binds a pass/fail expression to a metric. Metric may
// carry a submetric selector such as "http_req_duration{status:200}".
type ThresholdDefinition struct {
	Metric         string        `json:"metric"`
	Expression     string        `json:"expression"`
	AbortOnFail    bool          `json:"abort_on_fail,omitempty"`
	DelayAbortEval time.Duration `json:"delay_abort_eval,omitempty"`
}

// String returns "metric: expression".
func (d ThresholdDefinition) String() string {
	return d.Metric + ": " + d.Expression
}

// ThresholdResult contains the result of one threshold evaluation.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Value      float64 `json:"value"`
	// Reason 仅在无法求值时填写，例如指标不存在或没有样本
	Reason string `json:"reason,omitempty"`
}
