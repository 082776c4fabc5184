package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// AggregationFunction selects how an AggregatedParameter combines its
// child metrics (spec §4.4).
type AggregationFunction int

const (
	AggSum AggregationFunction = iota
	AggProduct
	AggMean
	AggMin
	AggMax
	AggAny
	AggAll
)

func resolveChildren(net *network.Network, s *pstate.State, params network.ParameterLookup, children []metric.Metric) ([]float64, error) {
	values := make([]float64, len(children))
	for i, m := range children {
		v, err := net.Resolve(m, s, params)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func applyAggregation(fn AggregationFunction, values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, apperror.New(apperror.CodeInvalidAggregationFunction, "aggregation over an empty child list")
	}
	switch fn {
	case AggSum:
		var total float64
		for _, v := range values {
			total += v
		}
		return total, nil
	case AggProduct:
		total := 1.0
		for _, v := range values {
			total *= v
		}
		return total, nil
	case AggMean:
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values)), nil
	case AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case AggAny:
		for _, v := range values {
			if v != 0 {
				return 1, nil
			}
		}
		return 0, nil
	case AggAll:
		for _, v := range values {
			if v == 0 {
				return 0, nil
			}
		}
		return 1, nil
	default:
		return 0, apperror.Newf(apperror.CodeInvalidAggregationFunction, "unknown aggregation function %d", fn)
	}
}

// AggregatedParameter applies fn over a fixed list of child metrics and
// returns a scalar.
type AggregatedParameter struct {
	base
	NoAfter
	Children []metric.Metric
	Function AggregationFunction
	params   network.ParameterLookup
}

// NewAggregated creates a ScopeGeneral aggregated parameter. lookup is
// the parameter Set the children's KindParameterValue metrics resolve
// against.
func NewAggregated(name string, children []metric.Metric, fn AggregationFunction, lookup network.ParameterLookup) *AggregatedParameter {
	return &AggregatedParameter{base: base{name: name, scope: metric.ScopeGeneral}, Children: children, Function: fn, params: lookup}
}

func (p *AggregatedParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *AggregatedParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	values, err := resolveChildren(net, s, p.params, p.Children)
	if err != nil {
		return metric.Value{}, err
	}
	v, err := applyAggregation(p.Function, values)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.FloatValue(v), nil
}

// AggregatedIndexParameter is the index-valued counterpart of
// AggregatedParameter, used where the result selects a band or option
// rather than a physical quantity.
type AggregatedIndexParameter struct {
	base
	NoAfter
	Children []metric.Metric
	Function AggregationFunction
	params   network.ParameterLookup
}

// NewAggregatedIndex creates a ScopeGeneral aggregated-index parameter.
func NewAggregatedIndex(name string, children []metric.Metric, fn AggregationFunction, lookup network.ParameterLookup) *AggregatedIndexParameter {
	return &AggregatedIndexParameter{base: base{name: name, scope: metric.ScopeGeneral}, Children: children, Function: fn, params: lookup}
}

func (p *AggregatedIndexParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *AggregatedIndexParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	values, err := resolveChildren(net, s, p.params, p.Children)
	if err != nil {
		return metric.Value{}, err
	}
	v, err := applyAggregation(p.Function, values)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.IndexValue(int64(v)), nil
}
