package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"yqhp/load-engine/pkg/types"
)

// Overrides are command-line values that take precedence over the script.
type Overrides struct {
	VUs      int
	Duration time.Duration
	Stages   []types.Stage
	Tags     map[string]string
}

// Empty reports whether no override is set.
func (o Overrides) Empty() bool {
	return o.VUs == 0 && o.Duration == 0 && len(o.Stages) == 0 && len(o.Tags) == 0
}

// ApplyOverrides returns a copy of script with o applied. Stages replace
// the script's load profile; --vus with --duration switch to a constant
// load. The input is not modified.
func ApplyOverrides(script *types.TestScript, o Overrides) *types.TestScript {
	out := *script
	switch {
	case len(o.Stages) > 0:
		out.Mode = types.ModeRampingVUs
		out.Stages = append([]types.Stage(nil), o.Stages...)
		out.VUs, out.Duration = 0, 0
	case o.Duration > 0:
		out.Stages = nil
		out.StartVUs = 0
		out.Duration = o.Duration
		out.VUs = o.VUs
		if out.VUs <= 0 {
			out.VUs = max(script.VUs, 1)
		}
	case o.VUs > 0:
		out.VUs = o.VUs
		if len(script.Stages) > 0 {
			// 只改 VU 数时按比例缩放各阶段目标
			out.Stages = scaleStages(script.Stages, o.VUs, types.MaxTarget(script.StartVUs, script.Stages))
		}
	}

	if len(o.Tags) > 0 {
		out.Tags = make(map[string]string, len(script.Tags)+len(o.Tags))
		for k, v := range script.Tags {
			out.Tags[k] = v
		}
		for k, v := range o.Tags {
			out.Tags[k] = v
		}
	}
	return &out
}

func scaleStages(stages []types.Stage, vus, peak int) []types.Stage {
	out := make([]types.Stage, len(stages))
	for i, s := range stages {
		out[i] = s
		if peak > 0 {
			out[i].Target = s.Target * vus / peak
		}
	}
	return out
}

// ParseStage parses "duration:target", e.g. "30s:10".
func ParseStage(s string) (types.Stage, error) {
	d, t, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return types.Stage{}, fmt.Errorf("stage %q: expected duration:target", s)
	}
	duration, err := time.ParseDuration(strings.TrimSpace(d))
	if err != nil {
		return types.Stage{}, fmt.Errorf("stage %q: %w", s, err)
	}
	if duration < 0 {
		return types.Stage{}, fmt.Errorf("stage %q: duration must not be negative", s)
	}
	target, err := strconv.Atoi(strings.TrimSpace(t))
	if err != nil {
		return types.Stage{}, fmt.Errorf("stage %q: invalid target: %w", s, err)
	}
	if target < 0 {
		return types.Stage{}, fmt.Errorf("stage %q: target must not be negative", s)
	}
	return types.Stage{Duration: duration, Target: target}, nil
}

// ParseStages parses every stage flag value.
func ParseStages(values []string) ([]types.Stage, error) {
	stages := make([]types.Stage, 0, len(values))
	for _, v := range values {
		st, err := ParseStage(v)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

// ParseTags parses "k=v" pairs.
func ParseTags(values []string) (map[string]string, error) {
	tags := make(map[string]string, len(values))
	for _, v := range values {
		k, val, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("tag %q: expected key=value", v)
		}
		tags[strings.TrimSpace(k)] = val
	}
	return tags, nil
}
