package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// binaryTransformParameter applies a scalar function fn to one or two
// resolved operands; each concrete transform parameter below is one of
// these with its Metric operand(s) (spec §4.4 scalar transforms).
type binaryTransformParameter struct {
	base
	NoAfter
	A, B   metric.Metric
	fn     func(a, b float64) (float64, error)
	params network.ParameterLookup
}

func (p *binaryTransformParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *binaryTransformParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	a, err := net.Resolve(p.A, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	b, err := net.Resolve(p.B, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	v, err := p.fn(a, b)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.FloatValue(v), nil
}

// NewMax creates a ScopeGeneral parameter returning max(a, b).
func NewMax(name string, a, b metric.Metric, lookup network.ParameterLookup) Parameter {
	return &binaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, B: b, params: lookup,
		fn: func(x, y float64) (float64, error) {
			if x > y {
				return x, nil
			}
			return y, nil
		}}
}

// NewMin creates a ScopeGeneral parameter returning min(a, b).
func NewMin(name string, a, b metric.Metric, lookup network.ParameterLookup) Parameter {
	return &binaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, B: b, params: lookup,
		fn: func(x, y float64) (float64, error) {
			if x < y {
				return x, nil
			}
			return y, nil
		}}
}

// NewDivision creates a ScopeGeneral parameter returning a / b, erroring
// on division by zero rather than propagating Inf/NaN.
func NewDivision(name string, a, b metric.Metric, lookup network.ParameterLookup) Parameter {
	return &binaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, B: b, params: lookup,
		fn: func(x, y float64) (float64, error) {
			if y == 0 {
				return 0, apperror.Newf(apperror.CodeDivisionByZero, "division parameter %s: divisor is zero", name)
			}
			return x / y, nil
		}}
}

// NewOffset creates a ScopeGeneral parameter returning a + b.
func NewOffset(name string, a, b metric.Metric, lookup network.ParameterLookup) Parameter {
	return &binaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, B: b, params: lookup,
		fn: func(x, y float64) (float64, error) { return x + y, nil }}
}

// unaryTransformParameter wraps a single-operand scalar function.
type unaryTransformParameter struct {
	base
	NoAfter
	A      metric.Metric
	fn     func(a float64) float64
	params network.ParameterLookup
}

func (p *unaryTransformParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *unaryTransformParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	a, err := net.Resolve(p.A, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.FloatValue(p.fn(a)), nil
}

// NewNegative creates a ScopeGeneral parameter returning -a.
func NewNegative(name string, a metric.Metric, lookup network.ParameterLookup) Parameter {
	return &unaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, params: lookup,
		fn: func(x float64) float64 { return -x }}
}

// NewNegativeMax creates a ScopeGeneral parameter returning max(-a, threshold).
func NewNegativeMax(name string, a metric.Metric, threshold float64, lookup network.ParameterLookup) Parameter {
	return &unaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, params: lookup,
		fn: func(x float64) float64 {
			n := -x
			if n > threshold {
				return n
			}
			return threshold
		}}
}

// NewNegativeMin creates a ScopeGeneral parameter returning min(-a, threshold).
func NewNegativeMin(name string, a metric.Metric, threshold float64, lookup network.ParameterLookup) Parameter {
	return &unaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, params: lookup,
		fn: func(x float64) float64 {
			n := -x
			if n < threshold {
				return n
			}
			return threshold
		}}
}

// NewPolynomial1D creates a ScopeGeneral parameter evaluating a
// polynomial in a single operand, coeffs ordered from the constant term
// upward (coeffs[0] + coeffs[1]*a + coeffs[2]*a^2 + ...).
func NewPolynomial1D(name string, a metric.Metric, coeffs []float64, lookup network.ParameterLookup) Parameter {
	cp := append([]float64(nil), coeffs...)
	return &unaryTransformParameter{base: base{name: name, scope: metric.ScopeGeneral}, A: a, params: lookup,
		fn: func(x float64) float64 {
			var total, power float64 = 0, 1
			for _, c := range cp {
				total += c * power
				power *= x
			}
			return total
		}}
}
