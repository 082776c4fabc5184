package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

type muskingumState struct {
	previousInflow  float64
	previousOutflow float64
}

// MuskingumParameter emits the discrete Muskingum routing coefficients as
// a MultiValue {inflow_factor, rhs}, so that an aggregated-node equality
// constraint in the solver can reproduce the routing law
//
//	C1*I[t] + C2*I[t-1] + C3*O[t-1] = O[t]
//
// by constraining O[t] - C1*I[t] == rhs, where rhs = C2*I[t-1] + C3*O[t-1]
// is known at the start of the step (spec §4.4).
//
// K is the storage time constant (same units as the timestep duration)
// and X the dimensionless weighting factor, 0 <= X <= 0.5.
type MuskingumParameter struct {
	base
	K               metric.Metric
	X               metric.Metric
	InflowMetric    metric.Metric // measured routed inflow, read in After
	OutflowMetric   metric.Metric // measured routed outflow, read in After
	SteadyStateFlow float64       // used as both I[-1] and O[-1] if InitialInflow/Outflow are not set
	InitialInflow   *float64
	InitialOutflow  *float64
	params          network.ParameterLookup
}

// NewMuskingum creates a ScopeGeneral Muskingum routing parameter.
func NewMuskingum(name string, k, x, inflow, outflow metric.Metric, steadyStateFlow float64, lookup network.ParameterLookup) *MuskingumParameter {
	return &MuskingumParameter{
		base: base{name: name, scope: metric.ScopeGeneral},
		K:    k, X: x, InflowMetric: inflow, OutflowMetric: outflow,
		SteadyStateFlow: steadyStateFlow, params: lookup,
	}
}

func (p *MuskingumParameter) Setup([]timedomain.Timestep) InternalState {
	st := &muskingumState{previousInflow: p.SteadyStateFlow, previousOutflow: p.SteadyStateFlow}
	if p.InitialInflow != nil {
		st.previousInflow = *p.InitialInflow
	}
	if p.InitialOutflow != nil {
		st.previousOutflow = *p.InitialOutflow
	}
	return st
}

// coefficients computes the standard Muskingum C1, C2, C3 routing
// coefficients for storage constant k, weighting x and timestep duration
// dt (all in consistent time units). C1+C2+C3 == 1 by construction.
func coefficients(k, x, dt float64) (c1, c2, c3 float64, err error) {
	denom := 2*k*(1-x) + dt
	if denom == 0 {
		return 0, 0, 0, apperror.New(apperror.CodeDivisionByZero, "muskingum parameter: degenerate K/X/dt combination")
	}
	c1 = (dt - 2*k*x) / denom
	c2 = (dt + 2*k*x) / denom
	c3 = (2*k*(1-x) - dt) / denom
	return c1, c2, c3, nil
}

func (p *MuskingumParameter) Compute(st InternalState, net *network.Network, s *pstate.State, t timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	ms, ok := st.(*muskingumState)
	if !ok {
		return metric.Value{}, apperror.Newf(apperror.CodeNotInitialised, "muskingum parameter %s: setup not called", p.name)
	}
	k, err := net.Resolve(p.K, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	x, err := net.Resolve(p.X, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	if x < 0 || x > 0.5 {
		return metric.Value{}, apperror.Newf(apperror.CodeDataOutOfRange, "muskingum parameter %s: X=%f out of [0, 0.5]", p.name, x)
	}
	dt := t.Duration.Hours()
	c1, c2, c3, err := coefficients(k, x, dt)
	if err != nil {
		return metric.Value{}, err
	}
	rhs := c2*ms.previousInflow + c3*ms.previousOutflow
	mv := metric.NewMultiValue().WithFloat("inflow_factor", c1).WithFloat("rhs", rhs)
	return metric.MultiVal(mv), nil
}

func (p *MuskingumParameter) After(st InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep) error {
	ms, ok := st.(*muskingumState)
	if !ok {
		return apperror.Newf(apperror.CodeNotInitialised, "muskingum parameter %s: setup not called", p.name)
	}
	inflow, err := net.Resolve(p.InflowMetric, s, p.params)
	if err != nil {
		return err
	}
	outflow, err := net.Resolve(p.OutflowMetric, s, p.params)
	if err != nil {
		return err
	}
	ms.previousInflow = inflow
	ms.previousOutflow = outflow
	return nil
}
