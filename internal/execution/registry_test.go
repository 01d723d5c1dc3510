package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []types.ExecutionMode{types.ModeConstantVUs, types.ModeRampingVUs}, r.List())

	mode, err := r.Get(types.ModeConstantVUs)
	require.NoError(t, err)
	assert.IsType(t, &ConstantVUsMode{}, mode)

	mode, err = r.GetOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, types.ModeRampingVUs, mode.Name())

	_, err = r.Get("per-vu-iterations")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestRegistry_NewInstancePerCall(t *testing.T) {
	a, err := GetModeOrDefault(types.ModeRampingVUs)
	require.NoError(t, err)
	b, err := GetModeOrDefault(types.ModeRampingVUs)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
