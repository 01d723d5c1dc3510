// Package controlsurface provides the ControlSurface type used to reach a
// running test's state from the REST layer without importing internal packages.
package controlsurface

import (
	"sync"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// MetricsEngineInterface abstracts the MetricsEngine to avoid importing internal packages.
type MetricsEngineInterface interface {
	GetTimeSeriesData() []*TimeSeriesPoint
	GetLatestSnapshot() *TimeSeriesPoint
	BuildRealtimeMetrics(status string, getVUs func() int64) *RealtimeMetrics
	GetBreachedThresholdsCount() uint32
}

// TimeSeriesPoint captures a snapshot of key metrics at a point in time.
type TimeSeriesPoint struct {
	Timestamp  string  `json:"timestamp"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	Iterations int64   `json:"iterations"`
	ActiveVUs  int64   `json:"active_vus"`
	RPS        float64 `json:"rps"`
	ErrorRate  float64 `json:"error_rate"`
	AvgRT      float64 `json:"avg_rt_ms"`
	P50RT      float64 `json:"p50_rt_ms"`
	P90RT      float64 `json:"p90_rt_ms"`
	P95RT      float64 `json:"p95_rt_ms"`
	P99RT      float64 `json:"p99_rt_ms"`

	DataSentPerSec     float64 `json:"data_sent_per_sec"`
	DataReceivedPerSec float64 `json:"data_received_per_sec"`
}

// RealtimeMetrics is the live view served by the REST API.
type RealtimeMetrics struct {
	Status           string                         `json:"status"`
	ElapsedMs        int64                          `json:"elapsed_ms"`
	TotalVUs         int64                          `json:"total_vus"`
	TotalIterations  int64                          `json:"total_iterations"`
	RPS              float64                        `json:"rps"`
	ErrorRate        float64                        `json:"error_rate"`
	ThresholdsFailed int                            `json:"thresholds_failed"`
	RequestMetrics   map[string]*RequestMetricStats `json:"request_metrics,omitempty"`
}

// RequestMetricStats contains per-request aggregated statistics, keyed by
// the request's name tag.
type RequestMetricStats struct {
	Name         string  `json:"name"`
	Count        int64   `json:"count"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	AvgMs        float64 `json:"avg_ms"`
	MinMs        float64 `json:"min_ms"`
	MaxMs        float64 `json:"max_ms"`
	P50Ms        float64 `json:"p50_ms"`
	P90Ms        float64 `json:"p90_ms"`
	P95Ms        float64 `json:"p95_ms"`
	P99Ms        float64 `json:"p99_ms"`
}

// ExecutionStatus represents the current test execution status.
type ExecutionStatus struct {
	RunID            string         `json:"run_id"`
	Name             string         `json:"name"`
	Phase            types.RunPhase `json:"phase"`
	Running          bool           `json:"running"`
	VUs              int64          `json:"vus"`
	TargetVUs        int64          `json:"target_vus"`
	MaxVUs           int64          `json:"max_vus"`
	Iterations       int64          `json:"iterations"`
	DurationMs       int64          `json:"duration_ms"`
	ThresholdsFailed int            `json:"thresholds_failed"`
}

// ControlSurface provides access to a running test's internal state.
// Nil function fields mean the capability is unavailable.
type ControlSurface struct {
	mu sync.RWMutex

	MetricsEngine MetricsEngineInterface

	GetStatus     func() *ExecutionStatus
	GetSnapshot   func() *metrics.Snapshot
	StopExecution func() error
	GetVUs        func() int64

	verdict *types.TestVerdict
}

// SetVerdict stores the final verdict once the run is evaluated.
func (cs *ControlSurface) SetVerdict(v *types.TestVerdict) {
	cs.mu.Lock()
	cs.verdict = v
	cs.mu.Unlock()
}

// Verdict returns the final verdict, nil while the run is in progress.
func (cs *ControlSurface) Verdict() *types.TestVerdict {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.verdict
}

// Snapshot returns the current metric snapshot, nil when unavailable.
func (cs *ControlSurface) Snapshot() *metrics.Snapshot {
	if cs.GetSnapshot == nil {
		return nil
	}
	return cs.GetSnapshot()
}

// Status returns the current execution status.
func (cs *ControlSurface) Status() *ExecutionStatus {
	if cs.GetStatus == nil {
		return &ExecutionStatus{Phase: types.PhaseInit}
	}
	return cs.GetStatus()
}

// Realtime builds the live metrics view.
func (cs *ControlSurface) Realtime() *RealtimeMetrics {
	if cs.MetricsEngine == nil {
		return nil
	}
	status := cs.Status()
	getVUs := cs.GetVUs
	if getVUs == nil {
		getVUs = func() int64 { return status.VUs }
	}
	return cs.MetricsEngine.BuildRealtimeMetrics(string(status.Phase), getVUs)
}
