package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/metricset"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/parameters"
)

// TestRunRecordsUnaggregatedMetricSetEveryStep checks a MetricSet with no
// Aggregator records the raw resolved value on every step (spec §6).
func TestRunRecordsUnaggregatedMetricSetEveryStep(t *testing.T) {
	n := network.New()
	ps := parameters.NewSet(n)

	in, err := n.AddInput("supply", metric.Constant(6), metric.Constant(0))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	edge, err := n.Connect(in, out)
	require.NoError(t, err)

	ts, scenarios := dailySteps(2)
	backend := &chainBackend{from: in, to: out, edge: edge}
	m, err := NewModel(n, ps, ts, scenarios, backend, Config{Mode: ExecutionSerial}, nil)
	require.NoError(t, err)

	ms := metricset.New("demand-inflow", []metricset.OutputMetric{
		{Name: "demand", Attribute: "inflow", Type: "node", SubType: "output", Metric: metric.NodeInFlow(out)},
	}, nil)
	m.AddMetricSet(ms)

	_, err = m.Run("metricset-unaggregated")
	require.NoError(t, err)

	values, fresh, ok := m.MetricSetValues(0, "demand-inflow")
	require.True(t, ok)
	require.Len(t, values, 1)
	assert.InDelta(t, 6.0, values[0], 1e-9)
	assert.True(t, fresh[0])

	_, _, ok = m.MetricSetValues(0, "not-registered")
	assert.False(t, ok)
}

// TestRunRecordsMonthlyAggregatedMetricSetOnlyOnBoundary checks a
// MetricSet wrapped in a monthly Sum Aggregator only publishes a fresh
// value on the step that crosses into the next period, and that the
// final partial period is captured by Finalise (spec §6, §8 property 9).
func TestRunRecordsMonthlyAggregatedMetricSetOnlyOnBoundary(t *testing.T) {
	n := network.New()
	ps := parameters.NewSet(n)

	in, err := n.AddInput("supply", metric.Constant(2), metric.Constant(0))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	edge, err := n.Connect(in, out)
	require.NoError(t, err)

	ts, scenarios := dailySteps(3) // 4 daily steps, all within January
	backend := &chainBackend{from: in, to: out, edge: edge}
	m, err := NewModel(n, ps, ts, scenarios, backend, Config{Mode: ExecutionSerial}, nil)
	require.NoError(t, err)

	ms := metricset.New("demand-inflow-monthly", []metricset.OutputMetric{
		{Name: "demand", Attribute: "inflow", Type: "node", SubType: "output", Metric: metric.NodeInFlow(out)},
	}, &metricset.Aggregator{Frequency: metricset.Monthly(), Function: metricset.FunctionSum})
	m.AddMetricSet(ms)

	_, err = m.Run("metricset-monthly")
	require.NoError(t, err)

	values, fresh, ok := m.MetricSetValues(0, "demand-inflow-monthly")
	require.True(t, ok)
	require.True(t, fresh[0], "Finalise must flush January's still-open period at the end of the run")
	// 4 steps of 2.0 units/day, duration-weighted sum over 4 days.
	assert.InDelta(t, 8.0, values[0], 1e-9)
}
