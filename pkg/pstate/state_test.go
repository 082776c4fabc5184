package pstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
)

func TestAddFlowToEdgeAccumulatesNodeFlows(t *testing.T) {
	s := New(2, 1, 0, 0, 0, 0)
	require.NoError(t, s.AddFlowToEdge(0, 0, 1, 4))
	require.NoError(t, s.AddFlowToEdge(0, 0, 1, 1.5))

	out, err := s.GetNodeOutFlow(0)
	require.NoError(t, err)
	in, err := s.GetNodeInFlow(1)
	require.NoError(t, err)
	assert.Equal(t, 5.5, out)
	assert.Equal(t, 5.5, in)
	assert.Equal(t, 5.5, s.EdgeFlows[0])
}

func TestResetForStepClearsFlowsNotVolumes(t *testing.T) {
	s := New(1, 1, 0, 0, 0, 0)
	require.NoError(t, s.AddFlowToEdge(0, metric.InvalidIndex, 0, 7))
	require.NoError(t, s.SetNodeVolume(0, 42))

	s.ResetForStep()

	in, err := s.GetNodeInFlow(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, in, "flow accumulators reset every step")

	volume, err := s.GetNodeVolume(0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, volume, "volume carries over between steps")
}

func TestClampVolumeWithinTolerancePasses(t *testing.T) {
	s := New(1, 0, 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(0, 100.0000005))
	require.NoError(t, s.ClampVolume(0, 0, 100))

	volume, err := s.GetNodeVolume(0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, volume, "a sub-tolerance overshoot is clamped silently (spec §3, §8 property 2)")
}

func TestClampVolumeBeyondToleranceFaults(t *testing.T) {
	s := New(1, 0, 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(0, 150))
	err := s.ClampVolume(0, 0, 100)
	require.Error(t, err)

	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeMassBalance, code)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.SeverityFatal, appErr.Severity)
}

func TestGetNodeProportionalVolumeZeroMaxReturnsOne(t *testing.T) {
	s := New(1, 0, 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(0, 0))
	require.NoError(t, s.FreezeStepStartVolumeBounds(0, 0, 0))

	v, err := s.GetNodeProportionalVolume(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "a full empty reservoir, per spec §4.3")
}

func TestAggregatedProportionalVolumeZeroMaxReturnsOne(t *testing.T) {
	assert.Equal(t, 1.0, AggregatedProportionalVolume(nil, nil))
	assert.Equal(t, 0.25, AggregatedProportionalVolume([]float64{5, 20}, []float64{40, 60}))
}

func TestParameterValueSlotsAppendOnly(t *testing.T) {
	s := New(0, 0, 0, 0, 2, 0)
	slot0 := s.PushParameterFloat(1.5)
	slot1 := s.PushParameterFloat(2.5)
	assert.Equal(t, 0, slot0)
	assert.Equal(t, 1, slot1)

	v, err := s.GetParameterValue(slot1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestDerivedMetricReadBeforeWriteErrors(t *testing.T) {
	s := New(0, 0, 0, 0, 0, 1)
	_, err := s.GetDerivedMetricValue(0)
	require.Error(t, err)

	require.NoError(t, s.SetDerivedMetricValue(0, 3.25))
	v, err := s.GetDerivedMetricValue(0)
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)
}

func TestNonFinite(t *testing.T) {
	zero := 0.0
	assert.True(t, NonFinite(zero/zero)) // NaN
	assert.False(t, NonFinite(1.0))
}
