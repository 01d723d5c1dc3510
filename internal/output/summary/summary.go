// Package summary builds the machine readable end-of-test report written
// by --summary-export.
package summary

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Report is the exported summary document.
type Report struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	Passed     bool      `json:"passed"`
	Aborted    bool      `json:"aborted"`
	Reason     string    `json:"reason,omitempty"`
	ExitCode   int       `json:"exit_code"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs int64     `json:"duration_ms"`

	Metrics    map[string]*MetricReport          `json:"metrics"`
	Thresholds []types.ThresholdResult           `json:"thresholds"`
	TimeSeries []*controlsurface.TimeSeriesPoint `json:"time_series,omitempty"`
}

// MetricReport is one metric or submetric.
type MetricReport struct {
	Type     metrics.MetricType `json:"type"`
	Contains metrics.ValueType  `json:"contains"`
	Samples  int64              `json:"samples"`
	Values   map[string]float64 `json:"values"`
	// Thresholds 记录该指标上每个表达式是否通过
	Thresholds map[string]bool `json:"thresholds,omitempty"`
}

// Build assembles the report from the verdict and the optional time series.
func Build(v *types.TestVerdict, series []*controlsurface.TimeSeriesPoint) *Report {
	r := &Report{
		RunID:      v.RunID,
		Name:       v.Name,
		Passed:     v.Passed,
		Aborted:    v.Aborted,
		Reason:     v.Reason,
		ExitCode:   v.ExitCode(),
		StartTime:  v.StartTime,
		EndTime:    v.EndTime,
		DurationMs: v.Duration.Milliseconds(),
		Metrics:    make(map[string]*MetricReport),
		Thresholds: v.Thresholds,
		TimeSeries: series,
	}
	if r.Thresholds == nil {
		r.Thresholds = []types.ThresholdResult{}
	}

	for _, key := range v.Snapshot.Keys() {
		ms, _ := v.Snapshot.Get(key)
		r.Metrics[key] = &MetricReport{
			Type:     ms.Type,
			Contains: ms.Contains,
			Samples:  ms.Samples,
			Values:   ms.Values,
		}
	}

	for _, th := range v.Thresholds {
		key := normalizeKey(th.Metric)
		mr, ok := r.Metrics[key]
		if !ok {
			continue
		}
		if mr.Thresholds == nil {
			mr.Thresholds = make(map[string]bool)
		}
		mr.Thresholds[th.Expression] = th.Passed
	}
	return r
}

// normalizeKey 把阈值中的指标写法转换为快照键
func normalizeKey(metric string) string {
	name, tags, err := metrics.ParseMetricKey(metric)
	if err != nil {
		return metric
	}
	return metrics.MetricKey(name, tags)
}

// Marshal encodes the report as indented JSON with sorted keys.
func (r *Report) Marshal() ([]byte, error) {
	return sonic.ConfigStd.MarshalIndent(r, "", "  ")
}

// Export writes the report to path; "-" writes to stdout.
func Export(path string, r *Report) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}
