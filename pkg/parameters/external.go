package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// InterModelTransferParameter is a placeholder whose value is written
// from outside the simulation step, by a multi-network coupling
// collaborator. Reading it before SetValue has ever been called is a
// CodeTransferNotSet error (spec §4.4); once set, the last written value
// is returned on every later step until SetValue is called again.
type InterModelTransferParameter struct {
	base
	NoAfter
	value float64
	set   bool
}

// NewInterModelTransfer creates a ScopeGeneral transfer placeholder.
func NewInterModelTransfer(name string) *InterModelTransferParameter {
	return &InterModelTransferParameter{base: base{name: name, scope: metric.ScopeGeneral}}
}

// SetValue is called by the external coupling collaborator before this
// step's parameter evaluation runs.
func (p *InterModelTransferParameter) SetValue(v float64) {
	p.value = v
	p.set = true
}

func (p *InterModelTransferParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *InterModelTransferParameter) Compute(InternalState, *network.Network, *pstate.State, timedomain.Timestep, timedomain.ScenarioIndex) (metric.Value, error) {
	if !p.set {
		return metric.Value{}, apperror.Newf(apperror.CodeTransferNotSet, "inter-model transfer parameter %s has not been written", p.name)
	}
	return metric.FloatValue(p.value), nil
}

// ScriptInputs is the named bag of metric/index values a user-scripted
// parameter's Compute receives: only strings and numbers cross the
// scripting boundary (spec §4.4).
type ScriptInputs struct {
	Date     timedomain.Timestep
	Scenario timedomain.ScenarioIndex
	Values   map[string]float64
}

// ScriptRuntime is implemented by the embedded scripting runtime
// collaborator (e.g. a Starlark or Lua host) that evaluates user-supplied
// compute expressions. It is external to this package by design: the
// simulator never depends on a concrete scripting engine.
type ScriptRuntime interface {
	Evaluate(scriptName string, inputs ScriptInputs) (metric.Value, error)
}

// ScriptParameter delegates Compute to an embedded scripting runtime,
// passing only the named scalar/index values listed in Inputs.
type ScriptParameter struct {
	base
	NoAfter
	ScriptName string
	Inputs     map[string]metric.Metric
	Runtime    ScriptRuntime
	params     network.ParameterLookup
}

// NewScript creates a ScopeGeneral user-scripted parameter.
func NewScript(name, scriptName string, inputs map[string]metric.Metric, runtime ScriptRuntime, lookup network.ParameterLookup) *ScriptParameter {
	return &ScriptParameter{base: base{name: name, scope: metric.ScopeGeneral}, ScriptName: scriptName, Inputs: inputs, Runtime: runtime, params: lookup}
}

func (p *ScriptParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ScriptParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) (metric.Value, error) {
	values := make(map[string]float64, len(p.Inputs))
	for key, m := range p.Inputs {
		v, err := net.Resolve(m, s, p.params)
		if err != nil {
			return metric.Value{}, err
		}
		values[key] = v
	}
	v, err := p.Runtime.Evaluate(p.ScriptName, ScriptInputs{Date: t, Scenario: scenario, Values: values})
	if err != nil {
		return metric.Value{}, apperror.Wrap(apperror.CodeCalculation, "script parameter "+p.name+" failed", err)
	}
	return v, nil
}
