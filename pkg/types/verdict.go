package types

import (
	"time"

	"yqhp/load-engine/pkg/metrics"
)

// RunPhase is a TestRunner lifecycle phase.
type RunPhase string

const (
	PhaseInit      RunPhase = "init"
	PhaseSetup     RunPhase = "setup"
	PhaseRunning   RunPhase = "running"
	PhaseTeardown  RunPhase = "teardown"
	PhaseEvaluated RunPhase = "evaluated"
)

// TestVerdict is the final outcome of a run. Produced once, never mutated.
type TestVerdict struct {
	RunID            string            `json:"run_id"`
	Name             string            `json:"name"`
	Passed           bool              `json:"passed"`
	Aborted          bool              `json:"aborted,omitempty"`
	SetupFailed      bool              `json:"setup_failed,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	Thresholds       []ThresholdResult `json:"thresholds"`
	FailedThresholds []ThresholdResult `json:"failed_thresholds"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	Duration         time.Duration     `json:"duration"`
	Snapshot         *metrics.Snapshot `json:"metrics"`
}

// ExitCode maps the verdict to a process exit code.
func (v *TestVerdict) ExitCode() int {
	switch {
	case v == nil:
		return ExitGenericError
	case v.Passed:
		return ExitOK
	case len(v.FailedThresholds) > 0 && v.Reason == "":
		return ExitThresholdsFailed
	default:
		return ExitGenericError
	}
}

const (
	ExitOK               = 0
	ExitGenericError     = 1
	ExitThresholdsFailed = 99
)
