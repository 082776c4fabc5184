// Package parameters implements the evaluable expression graph that
// drives every Metric-typed bound and cost in the network: constants,
// lookups, calendar profiles, control curves, aggregations, thresholds,
// switches, delays, scalar transforms and the externally-driven families
// (inter-model transfer, user scripts). Evaluation order is the
// insertion (topological) order established when parameters are added to
// a Set, so a ScopeGeneral parameter may read any earlier parameter's
// already-computed value (spec §3, §4.4, §5 ordering guarantees).
package parameters

import (
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// InternalState is the per-scenario mutable memory a Parameter may
// allocate in Setup: ring buffers for Delay, running totals for
// aggregations that need them, or an embedded script runtime's object
// handle. Parameters with no memory needs return a nil InternalState.
type InternalState interface{}

// Parameter is the common contract every parameter family implements
// (spec §4.4).
type Parameter interface {
	// Name identifies the parameter for diagnostics and MultiValueSub
	// metric resolution.
	Name() string

	// Scope reports when the parameter may be evaluated relative to the
	// simulation step.
	Scope() metric.Scope

	// Setup allocates this parameter's InternalState for one scenario,
	// given the full timestep sequence it will run across.
	Setup(timesteps []timedomain.Timestep) InternalState

	// Compute evaluates the parameter for the given timestep and
	// scenario, reading only values legal for its Scope.
	Compute(st InternalState, net *network.Network, s *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) (metric.Value, error)

	// After runs once per step, after the solve, for parameters that need
	// to observe post-solve flows (e.g. Delay, Muskingum). Parameters
	// with no after-behaviour embed NoAfter.
	After(st InternalState, net *network.Network, s *pstate.State, t timedomain.Timestep) error
}

// NoAfter is embedded by parameters with no post-solve behaviour.
type NoAfter struct{}

func (NoAfter) After(InternalState, *network.Network, *pstate.State, timedomain.Timestep) error {
	return nil
}

// base holds the fields common to nearly every parameter family.
type base struct {
	name  string
	scope metric.Scope
}

func (b base) Name() string       { return b.name }
func (b base) Scope() metric.Scope { return b.scope }
