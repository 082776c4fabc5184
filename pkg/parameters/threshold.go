package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// Comparator selects the relational operator a ThresholdParameter tests.
type Comparator int

const (
	ComparatorLess Comparator = iota
	ComparatorGreater
	ComparatorEqual
	ComparatorLessOrEqual
	ComparatorGreaterOrEqual
)

func compare(cmp Comparator, value, threshold float64) bool {
	switch cmp {
	case ComparatorLess:
		return value < threshold
	case ComparatorGreater:
		return value > threshold
	case ComparatorEqual:
		return value == threshold
	case ComparatorLessOrEqual:
		return value <= threshold
	case ComparatorGreaterOrEqual:
		return value >= threshold
	default:
		return false
	}
}

type thresholdState struct {
	latched bool
}

// ThresholdParameter compares a metric to a threshold and returns 0 or 1.
// With Ratchet set, the output latches at 1 for the remainder of the
// scenario once first triggered (spec §4.4).
type ThresholdParameter struct {
	base
	Value      metric.Metric
	Threshold  metric.Metric
	Comparator Comparator
	Ratchet    bool
	params     network.ParameterLookup
}

// NewThreshold creates a ScopeGeneral threshold parameter.
func NewThreshold(name string, value, threshold metric.Metric, cmp Comparator, ratchet bool, lookup network.ParameterLookup) *ThresholdParameter {
	return &ThresholdParameter{base: base{name: name, scope: metric.ScopeGeneral}, Value: value, Threshold: threshold, Comparator: cmp, Ratchet: ratchet, params: lookup}
}

func (p *ThresholdParameter) Setup([]timedomain.Timestep) InternalState {
	return &thresholdState{}
}

func (p *ThresholdParameter) Compute(st InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	ts, ok := st.(*thresholdState)
	if !ok {
		return metric.Value{}, apperror.Newf(apperror.CodeNotInitialised, "threshold parameter %s: setup not called", p.name)
	}
	if p.Ratchet && ts.latched {
		return metric.IndexValue(1), nil
	}
	value, err := net.Resolve(p.Value, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	threshold, err := net.Resolve(p.Threshold, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	triggered := compare(p.Comparator, value, threshold)
	if triggered && p.Ratchet {
		ts.latched = true
	}
	if triggered {
		return metric.IndexValue(1), nil
	}
	return metric.IndexValue(0), nil
}

func (p *ThresholdParameter) After(InternalState, *network.Network, *pstate.State, timedomain.Timestep) error {
	return nil
}

type switchState struct {
	on bool
}

// AsymmetricSwitchParameter is a two-input hysteretic switch: once the
// "on" input becomes truthy the state latches at 1 until the "off" input
// becomes false (spec §4.4).
type AsymmetricSwitchParameter struct {
	base
	OnCondition  metric.Metric
	OffCondition metric.Metric
	params       network.ParameterLookup
}

// NewAsymmetricSwitch creates a ScopeGeneral hysteretic switch parameter.
func NewAsymmetricSwitch(name string, onCondition, offCondition metric.Metric, lookup network.ParameterLookup) *AsymmetricSwitchParameter {
	return &AsymmetricSwitchParameter{base: base{name: name, scope: metric.ScopeGeneral}, OnCondition: onCondition, OffCondition: offCondition, params: lookup}
}

func (p *AsymmetricSwitchParameter) Setup([]timedomain.Timestep) InternalState {
	return &switchState{}
}

func (p *AsymmetricSwitchParameter) Compute(st InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	ss, ok := st.(*switchState)
	if !ok {
		return metric.Value{}, apperror.Newf(apperror.CodeNotInitialised, "switch parameter %s: setup not called", p.name)
	}
	if !ss.on {
		on, err := net.Resolve(p.OnCondition, s, p.params)
		if err != nil {
			return metric.Value{}, err
		}
		if on != 0 {
			ss.on = true
		}
	} else {
		off, err := net.Resolve(p.OffCondition, s, p.params)
		if err != nil {
			return metric.Value{}, err
		}
		if off == 0 {
			ss.on = false
		}
	}
	if ss.on {
		return metric.IndexValue(1), nil
	}
	return metric.IndexValue(0), nil
}

func (p *AsymmetricSwitchParameter) After(InternalState, *network.Network, *pstate.State, timedomain.Timestep) error {
	return nil
}
