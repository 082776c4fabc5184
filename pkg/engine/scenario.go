package engine

import (
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/metricset"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/parameters"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// scenarioRun is one scenario's private runtime: its own State and its
// own parameter InternalState vector (spec §5 "each scenario owns its
// State and its solver workspace"). The parameter *list* (Model.Params)
// is shared read-only and answers network.ParameterLookup identically
// for every scenario — a parameter's slot is a fixed position in the
// insertion-ordered list, not a per-scenario value, so every scenario's
// lookups resolve against the same Model.Params instance (see
// Simulation.evaluateScenario for why this stays race-free).
type scenarioRun struct {
	Index timedomain.ScenarioIndex
	State *pstate.State
	pvals *parameters.ScenarioState

	// metricSetStates holds one metricset.RunState per entry in
	// Model.metricSets, in the same order, so each scenario accumulates
	// its own aggregation independently (spec §6's metric sets are
	// recorded per scenario).
	metricSetStates []*metricset.RunState
}

// newScenarioRun allocates a scenario's State and parameter workspace and
// seeds every Storage node's initial volume (spec §3 node invariant c:
// "on the first time-step every Storage writes its resolved initial
// volume into state before any parameter reads it").
func newScenarioRun(net *network.Network, params *parameters.Set, metricSets []*metricset.MetricSet, steps []timedomain.Timestep, idx timedomain.ScenarioIndex) (*scenarioRun, error) {
	st := pstate.New(net.NodeCount(), net.EdgeCount(), net.AggregatedNodeCount(), net.VirtualStorageCount(), net.ParameterCount(), net.DerivedMetricCount())

	for i := 0; i < net.NodeCount(); i++ {
		n := net.Node(metric.NodeIndex(i))
		if n.Kind != network.KindStorage {
			continue
		}
		initial, err := net.Resolve(n.InitialVolume, st, params)
		if err != nil {
			return nil, err
		}
		if err := st.SetNodeVolume(metric.NodeIndex(i), initial); err != nil {
			return nil, err
		}
	}
	for i := 0; i < net.VirtualStorageCount(); i++ {
		vs := net.VirtualStorage(metric.VirtualStorageIndex(i))
		initial, err := net.Resolve(vs.InitialVolume, st, params)
		if err != nil {
			return nil, err
		}
		st.VirtualStorages[i].Volume = initial
	}

	msStates := make([]*metricset.RunState, len(metricSets))
	for i, ms := range metricSets {
		msStates[i] = ms.Setup()
	}

	return &scenarioRun{
		Index:           idx,
		State:           st,
		pvals:           params.SetupScenario(steps),
		metricSetStates: msStates,
	}, nil
}
