package metricset

import (
	"fmt"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// OutputMetric pairs a Metric with the schema-level naming a recorder
// needs to label it meaningfully to a user: the node or parameter it
// came from (Name), which of its outputs (Attribute, e.g. "volume" or
// "flow"), and its originating component kind/sub-kind (Type, SubType).
// Grounded on recorders/metric_set.rs's OutputMetric.
type OutputMetric struct {
	Name     string
	Attribute string
	Type     string
	SubType  string
	Metric   metric.Metric
}

func (om OutputMetric) resolve(net *network.Network, s *pstate.State, params network.ParameterLookup) (float64, error) {
	v, err := net.Resolve(om.Metric, s, params)
	if err != nil {
		return 0, apperror.Wrap(apperror.CodeUnresolvedMetric, fmt.Sprintf("metricset: resolving output metric %q", om.Name), err)
	}
	return v, nil
}

// MetricSet is a named list of OutputMetrics, optionally reduced through
// an Aggregator before being recorded. Grounded on recorders/
// metric_set.rs's MetricSet.
type MetricSet struct {
	Name       string
	Metrics    []OutputMetric
	Aggregator *Aggregator
}

// New builds a MetricSet. aggregator may be nil, meaning every step's
// raw metric values are recorded unreduced.
func New(name string, metrics []OutputMetric, aggregator *Aggregator) *MetricSet {
	return &MetricSet{Name: name, Metrics: metrics, Aggregator: aggregator}
}

// RunState is the per-scenario mutable state a MetricSet accumulates
// across a run: the aggregator state for each tracked metric (nil when
// the set has no Aggregator) and the most recently produced values.
type RunState struct {
	aggStates []*State
	current   []PeriodValue
	haveValue []bool
}

// Setup creates a fresh RunState for one scenario.
func (ms *MetricSet) Setup() *RunState {
	rs := &RunState{}
	if ms.Aggregator != nil {
		rs.aggStates = make([]*State, len(ms.Metrics))
		for i := range rs.aggStates {
			rs.aggStates[i] = ms.Aggregator.Setup()
		}
	}
	return rs
}

// Save resolves every OutputMetric for the given timestep, optionally
// reduces each through the Aggregator, and stores whatever values result
// in rs for CurrentValues to read. With no Aggregator, the raw resolved
// values are always the current values; with an Aggregator, current
// values only change on the step that closes out an aggregation period.
func (ms *MetricSet) Save(t timedomain.Timestep, net *network.Network, s *pstate.State, params network.ParameterLookup, rs *RunState) error {
	values := make([]PeriodValue, len(ms.Metrics))
	for i, om := range ms.Metrics {
		v, err := om.resolve(net, s, params)
		if err != nil {
			return err
		}
		values[i] = PeriodValue{Start: t.Date, Duration: t.Duration, Value: v}
	}

	if ms.Aggregator == nil {
		rs.current = values
		rs.haveValue = allTrue(len(values))
		return nil
	}

	aggValues := make([]PeriodValue, len(values))
	haveValue := make([]bool, len(values))
	anySet, anyUnset := false, false
	for i, v := range values {
		agg, err := ms.Aggregator.Append(rs.aggStates[i], v)
		if err != nil {
			return apperror.Wrap(apperror.CodeInternal, fmt.Sprintf("metricset %q: aggregating metric %q", ms.Name, ms.Metrics[i].Name), err)
		}
		if agg != nil {
			aggValues[i] = *agg
			haveValue[i] = true
			anySet = true
		} else {
			anyUnset = true
		}
	}
	if anySet && anyUnset {
		return apperror.Newf(apperror.CodeInternal, "metricset %q: aggregator yielded values for some metrics but not others", ms.Name)
	}
	if anySet {
		rs.current = aggValues
		rs.haveValue = haveValue
	}
	return nil
}

// Finalise computes the aggregation of any partial trailing period, to
// be called once after the last timestep of a run. With no Aggregator
// this is a no-op.
func (ms *MetricSet) Finalise(rs *RunState) error {
	if ms.Aggregator == nil {
		return nil
	}
	values := make([]PeriodValue, len(ms.Metrics))
	haveValue := make([]bool, len(ms.Metrics))
	for i := range ms.Metrics {
		final, err := ms.Aggregator.Finalise(rs.aggStates[i])
		if err != nil {
			return apperror.Wrap(apperror.CodeInternal, fmt.Sprintf("metricset %q: finalising metric %q", ms.Name, ms.Metrics[i].Name), err)
		}
		if final != nil {
			values[i] = *final
			haveValue[i] = true
		}
	}
	rs.current = values
	rs.haveValue = haveValue
	return nil
}

// CurrentValues returns the most recently produced value for each
// metric, in Metrics order, alongside whether that slot actually holds a
// fresh value this step (an Aggregator only yields on the step closing
// out its period).
func (rs *RunState) CurrentValues() ([]float64, []bool) {
	values := make([]float64, len(rs.current))
	for i, v := range rs.current {
		values[i] = v.Value
	}
	return values, rs.haveValue
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}
