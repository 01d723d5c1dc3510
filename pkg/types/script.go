package types

import "time"

// TestScript is the immutable description of one load test.
type TestScript struct {
	Name     string        `yaml:"name" json:"name"`
	Mode     ExecutionMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	StartVUs int           `yaml:"start_vus,omitempty" json:"start_vus,omitempty"`
	Stages   []Stage       `yaml:"stages,omitempty" json:"stages,omitempty"`

	// VUs + Duration 是 constant-vus 的简写
	VUs      int           `yaml:"vus,omitempty" json:"vus,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	MaxVUs int           `yaml:"max_vus,omitempty" json:"max_vus,omitempty"`
	Pacing time.Duration `yaml:"pacing,omitempty" json:"pacing,omitempty"`

	Thresholds []ThresholdDefinition `yaml:"-" json:"thresholds,omitempty"`
	Metrics    []MetricDeclaration   `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	Setup    *HookSpec `yaml:"setup,omitempty" json:"setup,omitempty"`
	Teardown *HookSpec `yaml:"teardown,omitempty" json:"teardown,omitempty"`

	Requests []Request        `yaml:"requests" json:"requests"`
	Tags     map[string]string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// MetricDeclaration declares a custom metric up front.
type MetricDeclaration struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Contains string `yaml:"contains,omitempty" json:"contains,omitempty"`
}

// HookSpec is a declarative setup or teardown: an optional sleep followed
// by requests. Any failed request or check fails the hook.
type HookSpec struct {
	Sleep    time.Duration `yaml:"sleep,omitempty" json:"sleep,omitempty"`
	Requests []Request     `yaml:"requests,omitempty" json:"requests,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// EffectiveStages resolves the constant-vus shorthand into stages.
func (s *TestScript) EffectiveStages() (startVUs int, stages []Stage) {
	if len(s.Stages) == 0 && s.VUs > 0 && s.Duration > 0 {
		return s.VUs, []Stage{{Duration: s.Duration, Target: s.VUs}}
	}
	return s.StartVUs, s.Stages
}
