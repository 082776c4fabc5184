// Package solver defines the abstract LP backend boundary: the Feature
// set a backend supports, SolverSettings it is configured with, and the
// Solver/MultiScenarioSolver contracts the engine drives one scenario (or
// a batch of scenarios) through per time-step (spec §4.6).
//
// Concrete backends live in sibling packages: pkg/solver/flowsolver is
// the pure-Go reference backend shipped with this module; Clp, HiGHS and
// CBC bindings are external collaborators implementing the same
// interface and are out of scope here.
package solver

import (
	"time"

	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// Feature names an optional capability a Solver backend may support.
type Feature int

const (
	FeatureAggregatedNode Feature = iota
	FeatureAggregatedNodeFactors
	FeatureAggregatedNodeDynamicFactors
	FeatureVirtualStorage
	FeatureMutualExclusivity
)

// FeatureSet is the set of Features a backend reports supporting.
type FeatureSet map[Feature]bool

// NewFeatureSet builds a FeatureSet from the given features.
func NewFeatureSet(features ...Feature) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = true
	}
	return fs
}

// Supports reports whether f is present in the set.
func (fs FeatureSet) Supports(f Feature) bool { return fs[f] }

// SolverSettings carries backend-agnostic tuning knobs. Backends may
// ignore settings that don't apply to them (an external MILP solver has
// no use for IPM tolerances, for instance).
type SolverSettings struct {
	Lanes         int
	MaxIterations int
	PrimalTol     float64
	DualTol       float64
	OptimalityTol float64
}

// SolverTimings reports per-solve diagnostics back to the caller, for
// logging and the Prometheus collector in pkg/metrics.
type SolverTimings struct {
	SetupDuration time.Duration
	SolveDuration time.Duration
	Iterations    int
	ConvergedLanes int
}

// Solver is the contract every LP backend implements, whether the
// self-contained interior-point core or an external black-box library
// (spec §4.6).
type Solver interface {
	// Features reports which optional capabilities this backend supports.
	// The engine calls this during setup to fail fast with
	// CodeUnsupportedFeature if the network requires a capability the
	// configured backend lacks (e.g. MutualExclusivity on an LP-only
	// solver).
	Features() FeatureSet

	// Setup builds the initial LP from the network's topology and any
	// constant-scope metric values, so that Solve only needs to patch
	// coefficients that can change between steps.
	Setup(net *network.Network, settings SolverSettings) error

	// Solve updates bounds/costs from the mutable metrics for the given
	// timestep, solves, and writes the resulting edge flows into state.
	// params resolves KindParameterValue-family metrics encountered while
	// reading bounds and costs.
	Solve(net *network.Network, t timedomain.Timestep, state *pstate.State, params network.ParameterLookup) (SolverTimings, error)
}

// MultiScenarioSolver solves a batch of scenario States together (e.g.
// the SIMD interior-point core's L-lane batches), returning one aggregate
// timing for the whole batch.
type MultiScenarioSolver interface {
	Features() FeatureSet
	Setup(net *network.Network, settings SolverSettings) error
	SolveBatch(net *network.Network, t timedomain.Timestep, states []*pstate.State, params []network.ParameterLookup) (SolverTimings, error)
}
