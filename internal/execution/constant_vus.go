package execution

import (
	"context"

	"yqhp/load-engine/pkg/types"
)

// ConstantVUsMode implements the constant-vus execution mode. It keeps
// VUs running for Duration using the ramping scheduler with one flat stage.
type ConstantVUsMode struct {
	*RampingVUsMode
}

// NewConstantVUsMode creates a new constant VUs mode.
func NewConstantVUsMode() *ConstantVUsMode {
	return &ConstantVUsMode{RampingVUsMode: newRampingVUsMode(types.ModeConstantVUs)}
}

// Run starts the constant VUs execution.
func (m *ConstantVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}

	vus := config.VUs
	if vus <= 0 {
		vus = 1
	}

	flat := *config
	flat.StartVUs = vus
	flat.Stages = nil
	if config.Duration > 0 {
		flat.Stages = []types.Stage{{Duration: config.Duration, Target: vus}}
	}
	return m.RampingVUsMode.Run(ctx, &flat)
}
