package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// ValueKind records which State vector a parameter's result is written
// into, so Set can answer network.ParameterLookup queries.
type ValueKind int

const (
	ValueKindFloat ValueKind = iota
	ValueKindIndex
	ValueKindMulti
)

// Set owns the ordered list of Parameters for a Network and the
// per-scenario InternalState and slot bookkeeping needed to evaluate them
// and answer metric.Metric lookups. One Set's parameter list is shared
// read-only across scenarios; InternalState is per-scenario.
type Set struct {
	net        *network.Network
	parameters []Parameter
	kinds      []ValueKind
	slots      []int // most recent slot written for parameter i, -1 if none yet
	byIndex    map[metric.ParameterIndex]int
}

// NewSet creates an empty parameter Set bound to net.
func NewSet(net *network.Network) *Set {
	return &Set{net: net, byIndex: make(map[metric.ParameterIndex]int)}
}

// Add registers a parameter, reserving and returning its ParameterIndex.
// Parameters must be added in the order they should evaluate: a
// ScopeGeneral parameter referencing an earlier parameter's value is only
// legal if that parameter was added first (spec §3, §5).
func (ps *Set) Add(p Parameter, kind ValueKind) metric.ParameterIndex {
	idx := ps.net.NextParameterIndex()
	pos := len(ps.parameters)
	ps.parameters = append(ps.parameters, p)
	ps.kinds = append(ps.kinds, kind)
	ps.slots = append(ps.slots, -1)
	ps.byIndex[idx] = pos
	return idx
}

// Parameter returns the Parameter registered at handle idx.
func (ps *Set) Parameter(idx metric.ParameterIndex) (Parameter, bool) {
	pos, ok := ps.byIndex[idx]
	if !ok {
		return nil, false
	}
	return ps.parameters[pos], true
}

// ScenarioState is the per-scenario InternalState vector, indexed the
// same way as ps.parameters. Callers outside this package hold it as an
// opaque handle, passed back into EvaluateStep/AfterStep for the same
// scenario on every subsequent step.
type ScenarioState struct {
	internal []InternalState
}

// SetupScenario allocates InternalState for every parameter, for one
// scenario's full timestep sequence.
func (ps *Set) SetupScenario(timesteps []timedomain.Timestep) *ScenarioState {
	ss := &ScenarioState{internal: make([]InternalState, len(ps.parameters))}
	for i, p := range ps.parameters {
		ss.internal[i] = p.Setup(timesteps)
	}
	return ss
}

// EvaluateStep computes every parameter in insertion order for the given
// timestep, writing results into state's parameter vectors (spec §5
// ordering guarantees: parameter evaluation follows insertion order).
func (ps *Set) EvaluateStep(ss *ScenarioState, state *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) error {
	return ps.evaluateWhere(ss, state, t, scenario, func(metric.Scope) bool { return true })
}

// EvaluateSimple computes only the Constant- and Simple-scope parameters,
// in insertion order (spec §2 "Before: ... simple/constant parameters
// computed"). Volume bounds, which are required to be simple-metric only,
// are safe to freeze immediately afterwards.
func (ps *Set) EvaluateSimple(ss *ScenarioState, state *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) error {
	return ps.evaluateWhere(ss, state, t, scenario, func(s metric.Scope) bool { return s != metric.ScopeGeneral })
}

// EvaluateGeneral computes the General-scope parameters, in insertion
// order, following EvaluateSimple (spec §2 "Parameter evaluation: general
// parameters evaluated in dependency order").
func (ps *Set) EvaluateGeneral(ss *ScenarioState, state *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) error {
	return ps.evaluateWhere(ss, state, t, scenario, func(s metric.Scope) bool { return s == metric.ScopeGeneral })
}

func (ps *Set) evaluateWhere(ss *ScenarioState, state *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex, include func(metric.Scope) bool) error {
	for i, p := range ps.parameters {
		if !include(p.Scope()) {
			continue
		}
		v, err := p.Compute(ss.internal[i], ps.net, state, t, scenario)
		if err != nil {
			return apperror.Wrap(apperror.CodeCalculation, "parameter "+p.Name()+" failed", err)
		}
		switch ps.kinds[i] {
		case ValueKindFloat:
			ps.slots[i] = state.PushParameterFloat(v.Float64())
		case ValueKindIndex:
			ps.slots[i] = state.PushParameterIndex(v.Index)
		case ValueKindMulti:
			ps.slots[i] = state.PushParameterMulti(v.Multi)
		}
	}
	return nil
}

// AfterStep runs every parameter's After hook in insertion order,
// following the solve (spec §5 ordering guarantees).
func (ps *Set) AfterStep(ss *ScenarioState, state *pstate.State, t timedomain.Timestep) error {
	for i, p := range ps.parameters {
		if err := p.After(ss.internal[i], ps.net, state, t); err != nil {
			return apperror.Wrap(apperror.CodeCalculation, "parameter "+p.Name()+" after-hook failed", err)
		}
	}
	return nil
}

// FloatSlot implements network.ParameterLookup.
func (ps *Set) FloatSlot(p metric.ParameterIndex) (int, bool) {
	pos, ok := ps.byIndex[p]
	if !ok || ps.kinds[pos] != ValueKindFloat || ps.slots[pos] < 0 {
		return 0, false
	}
	return ps.slots[pos], true
}

// IndexSlot implements network.ParameterLookup.
func (ps *Set) IndexSlot(p metric.ParameterIndex) (int, bool) {
	pos, ok := ps.byIndex[p]
	if !ok || ps.kinds[pos] != ValueKindIndex || ps.slots[pos] < 0 {
		return 0, false
	}
	return ps.slots[pos], true
}

// MultiSlot implements network.ParameterLookup.
func (ps *Set) MultiSlot(p metric.ParameterIndex) (int, bool) {
	pos, ok := ps.byIndex[p]
	if !ok || ps.kinds[pos] != ValueKindMulti || ps.slots[pos] < 0 {
		return 0, false
	}
	return ps.slots[pos], true
}
