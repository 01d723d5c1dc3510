package types

import "time"

// ExecutionMode defines the execution mode.
type ExecutionMode string

const (
	// ModeConstantVUs maintains a fixed number of VUs.
	ModeConstantVUs ExecutionMode = "constant-vus"
	// ModeRampingVUs adjusts VU count according to stages.
	ModeRampingVUs ExecutionMode = "ramping-vus"
)

// Stage defines an execution stage. Target is reached at the end of the stage.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"`
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// TotalDuration returns the sum of all stage durations.
func TotalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// MaxTarget returns the highest target across start and all stages.
func MaxTarget(startVUs int, stages []Stage) int {
	max := startVUs
	for _, s := range stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// VUStatus 表示 VU 的生命周期状态。
type VUStatus string

const (
	VUStatusRunning  VUStatus = "running"
	VUStatusStopping VUStatus = "stopping"
	VUStatusStopped  VUStatus = "stopped"
)

// VUState is a point-in-time view of one virtual user.
type VUState struct {
	ID         int       `json:"id"`
	Status     VUStatus  `json:"status"`
	Iterations int64     `json:"iterations"`
	StartedAt  time.Time `json:"started_at"`
}
