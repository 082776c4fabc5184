package parameters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

func ts(index int, date time.Time) timedomain.Timestep {
	return timedomain.Timestep{Date: date, Index: index, Duration: 24 * time.Hour}
}

func TestConstantParameter(t *testing.T) {
	p := NewConstant("c", 4.5)
	v, err := p.Compute(p.Setup(nil), nil, nil, ts(0, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, 4.5, v.Float64())
}

func TestArray1OffsetClamping(t *testing.T) {
	p := NewArray1("a1", []float64{10, 20, 30}, -1)
	v, err := p.Compute(nil, nil, nil, ts(0, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Float64(), "offset below zero clamps to first entry")

	v, err = p.Compute(nil, nil, nil, ts(2, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Float64())
}

func TestWeeklyProfileRejectsBadLength(t *testing.T) {
	_, err := NewWeeklyProfile("w", make([]float64, 10))
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeInvalidWeeklyProfile, code)
}

func TestWeeklyProfileAccepts52Or53(t *testing.T) {
	_, err := NewWeeklyProfile("w52", make([]float64, 52))
	require.NoError(t, err)
	_, err = NewWeeklyProfile("w53", make([]float64, 53))
	require.NoError(t, err)
}

func TestAggregationFunctions(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	v, err := applyAggregation(AggSum, values)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	v, err = applyAggregation(AggMean, values)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = applyAggregation(AggProduct, values)
	require.NoError(t, err)
	assert.Equal(t, 24.0, v)

	v, err = applyAggregation(AggMin, values)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = applyAggregation(AggMax, values)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	v, err = applyAggregation(AggAny, []float64{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = applyAggregation(AggAll, []float64{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestInterpolationRule(t *testing.T) {
	assert.Equal(t, 0.0, interpolate(-1, 0, 10, 0, 100), "below lower clamps to lower_value")
	assert.Equal(t, 100.0, interpolate(11, 0, 10, 0, 100), "above upper clamps to upper_value")
	assert.Equal(t, 50.0, interpolate(5, 0, 10, 0, 100), "midpoint interpolates linearly")
	assert.Equal(t, 7.0, interpolate(5, 5, 5, 7, 99), "equal bounds return lower_value")
}

func TestThresholdRatchetLatches(t *testing.T) {
	net := network.New()
	input, err := net.AddInput("in", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)

	p := NewThreshold("thr", metric.NodeInFlow(input), metric.Constant(5), ComparatorGreaterOrEqual, true, nil)
	st := p.Setup(nil)

	s := pstate.New(1, 1, 0, 0, 0, 0)
	require.NoError(t, s.AddFlowToEdge(0, metric.InvalidIndex, input, 10))

	v, err := p.Compute(st, net, s, ts(0, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Index)

	// Next step: in-flow drops below threshold, but ratchet keeps it latched.
	s.ResetForStep()
	v, err = p.Compute(st, net, s, ts(1, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Index)
}

func TestDelayReturnsInitialThenRing(t *testing.T) {
	net := network.New()
	p := NewDelay("d", metric.Constant(42), 2, -1, nil)
	st := p.Setup(nil)
	s := pstate.New(0, 0, 0, 0, 0, 0)

	v, err := p.Compute(st, net, s, ts(0, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, v.Float64())
	require.NoError(t, p.After(st, net, s, ts(0, time.Now())))

	v, err = p.Compute(st, net, s, ts(1, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, -1.0, v.Float64(), "still within the initial window")
	require.NoError(t, p.After(st, net, s, ts(1, time.Now())))

	v, err = p.Compute(st, net, s, ts(2, time.Now()), timedomain.ScenarioIndex{})
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Float64(), "ring now has 2 entries, both 42")
}

func TestMuskingumCoefficientsSumToOne(t *testing.T) {
	c1, c2, c3, err := coefficients(12, 0.2, 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c1+c2+c3, 1e-9)
}

// TestControlCurveSimpleSelectsSupplyBand exercises spec S3: a storage
// frozen at each of three proportional-volume bands must select exactly
// that band's supply cost, reading the level through
// metric.NodeProportionalVolume rather than raw volume.
func TestControlCurveSimpleSelectsSupplyBand(t *testing.T) {
	net := network.New()
	reservoir, err := net.AddStorage("reservoir", metric.Constant(0), metric.Constant(100), metric.Constant(100), metric.Constant(0))
	require.NoError(t, err)

	p, err := NewControlCurveSimple(
		"supply-cost",
		metric.NodeProportionalVolume(reservoir),
		[]metric.Metric{metric.Constant(0.6), metric.Constant(0.3)},
		[]float64{-1, -5, -20},
		nil,
	)
	require.NoError(t, err)
	st := p.Setup(nil)

	cases := []struct {
		volume   float64
		expected float64
	}{
		{80, -1},  // above 0.6: band 0
		{45, -5},  // between 0.3 and 0.6: band 1
		{10, -20}, // below 0.3: band 2
	}
	for _, c := range cases {
		s := pstate.New(1, 0, 0, 0, 0, 0)
		require.NoError(t, s.SetNodeVolume(reservoir, c.volume))
		require.NoError(t, s.FreezeStepStartVolumeBounds(reservoir, 0, 100))

		v, err := p.Compute(st, net, s, ts(0, time.Now()), timedomain.ScenarioIndex{})
		require.NoError(t, err)
		assert.Equal(t, c.expected, v.Float64())
	}
}

func TestDivisionByZeroErrors(t *testing.T) {
	net := network.New()
	s := pstate.New(0, 0, 0, 0, 0, 0)
	p := NewDivision("div", metric.Constant(1), metric.Constant(0), nil)
	_, err := p.Compute(nil, net, s, ts(0, time.Now()), timedomain.ScenarioIndex{})
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeDivisionByZero, code)
}
