package flowsolver

import (
	"math"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/solver"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// Backend is the pure-Go reference Solver: every network node is split
// into an (in, out) vertex pair joined by a bound-and-cost edge, network
// edges connect out(u) -> in(v) unconstrained, and a super-source/
// super-sink pair collects all Input/Output nodes so a single min-cost
// max-flow computation solves the whole network per step.
//
// Storage nodes additionally get a "fill" bypass (in-vertex -> sink,
// capped by the volume room still free this step) that diverts real
// inflow away from passing straight through to the out-vertex, and a
// "release" bypass (source -> out-vertex, capped by the volume still
// available to draw down) that lets the out-vertex emit more than
// arrives via the through edge. Without these two arcs, conservation at
// the in/out vertex pair forces a storage's in-flow and out-flow to be
// exactly equal every step — the vertex split alone has no variable
// representing "this flow stayed in the reservoir" — so no storage could
// ever fill or drain.
//
// It reports no support for AggregatedNode, VirtualStorage or
// MutualExclusivity: a plain min-cost flow formulation has no way to
// express ratio/proportion coupling between nodes or virtual accounting
// storages (spec §4.6, §9 "Mutual exclusivity requires MILP"). Networks
// using those features must run against a different Solver backend.
//
// It also rejects any Input/Output/Link node with a non-zero min flow at
// Setup: a min-cost max-flow residual graph has no lower-bound-on-an-arc
// primitive, so a min_flow here would be silently dropped rather than
// enforced (spec §8 property 3). Use ipmsolver, which resolves MinFlow
// as a genuine lower bound on each node's through-arc, for networks that
// need one.
type Backend struct {
	settings solver.SolverSettings

	// Per-node vertex layout, fixed once Setup has run.
	numNodes   int
	sourceV    int
	sinkV      int
	nodeEdgeOf []int // per network.NodeIndex, the flowsolver edge index for its internal (in->out) bound edge
	edgeOf     []int // per network.EdgeIndex, the flowsolver edge index for that network edge
	inputs     []metric.NodeIndex
	outputs    []metric.NodeIndex
}

// New creates an unconfigured flowsolver Backend.
func New() *Backend { return &Backend{} }

// Features reports the topology-only feature set this backend supports.
func (b *Backend) Features() solver.FeatureSet {
	return solver.NewFeatureSet() // no optional features supported
}

func inVertex(node metric.NodeIndex) int  { return int(node) * 2 }
func outVertex(node metric.NodeIndex) int { return int(node)*2 + 1 }

// Setup records the network's topology. Node bounds and costs are
// re-read from their Metric every Solve call since most are not
// constant-scope.
func (b *Backend) Setup(net *network.Network, settings solver.SolverSettings) error {
	if net.AggregatedNodeCount() > 0 {
		return apperror.New(apperror.CodeUnsupportedFeature, "flowsolver: network has aggregated nodes, which this backend does not support")
	}
	if net.VirtualStorageCount() > 0 {
		return apperror.New(apperror.CodeUnsupportedFeature, "flowsolver: network has virtual storages, which this backend does not support")
	}
	for i := 0; i < net.NodeCount(); i++ {
		node := net.Node(metric.NodeIndex(i))
		if node.Kind != network.KindStorage && !node.MinFlow.IsZero() {
			return apperror.Newf(apperror.CodeUnsupportedFeature, "flowsolver: node %q has a non-zero min flow, which a pure max-flow formulation cannot enforce", node.Name)
		}
	}

	b.settings = settings
	b.numNodes = net.NodeCount()
	b.sourceV = b.numNodes * 2
	b.sinkV = b.numNodes*2 + 1
	b.nodeEdgeOf = make([]int, b.numNodes)
	b.edgeOf = make([]int, net.EdgeCount())
	b.inputs = nil
	b.outputs = nil

	return nil
}

// Solve rebuilds the residual graph with the current step's resolved
// bounds and costs, solves min-cost max-flow, and writes the resulting
// per-edge flows back into state.
func (b *Backend) Solve(net *network.Network, t timedomain.Timestep, state *pstate.State, params network.ParameterLookup) (solver.SolverTimings, error) {
	g := newResidualGraph(b.numNodes*2 + 2)

	dt := t.DaysFraction()

	for i := 0; i < b.numNodes; i++ {
		node := net.Node(metric.NodeIndex(i))
		var maxFlow, cost float64
		var err error
		switch node.Kind {
		case network.KindStorage:
			maxFlow = math.MaxFloat64 / 4 // storage throughput is governed by volume bounds, not a flow cap here
		default:
			maxFlow, err = net.Resolve(node.MaxFlow, state, params)
			if err != nil {
				return solver.SolverTimings{}, err
			}
			cost, err = net.Resolve(node.Cost, state, params)
			if err != nil {
				return solver.SolverTimings{}, err
			}
		}
		b.nodeEdgeOf[i] = g.addEdgeWithReverse(inVertex(metric.NodeIndex(i)), outVertex(metric.NodeIndex(i)), maxFlow, cost, -1)

		switch node.Kind {
		case network.KindInput:
			g.addEdgeWithReverse(b.sourceV, inVertex(metric.NodeIndex(i)), infinity, 0, -1)
		case network.KindOutput:
			g.addEdgeWithReverse(outVertex(metric.NodeIndex(i)), b.sinkV, infinity, 0, -1)
		case network.KindStorage:
			storageCost, err := net.Resolve(node.Cost, state, params)
			if err != nil {
				return solver.SolverTimings{}, err
			}
			n := metric.NodeIndex(i)
			volume, err := state.GetNodeVolume(n)
			if err != nil {
				return solver.SolverTimings{}, err
			}
			bounds := state.NodeVolumes[n]
			fillRoom := bounds.MaxVolumeAtStepStart - volume
			releaseRoom := volume - bounds.MinVolumeAtStepStart
			if fillRoom > 0 && dt > 0 {
				g.addEdgeWithReverse(inVertex(n), b.sinkV, fillRoom/dt, -storageCost, -1)
			}
			if releaseRoom > 0 && dt > 0 {
				g.addEdgeWithReverse(b.sourceV, outVertex(n), releaseRoom/dt, storageCost, -1)
			}
		}
	}

	for i := 0; i < net.EdgeCount(); i++ {
		e := net.Edge(metric.EdgeIndex(i))
		b.edgeOf[i] = g.addEdgeWithReverse(outVertex(e.From), inVertex(e.To), infinity, 0, i)
	}

	result := successiveShortestPath(g, b.sourceV, b.sinkV, infinity)

	for i := 0; i < net.EdgeCount(); i++ {
		flow := g.edges[b.edgeOf[i]].flow
		if flow < 0 {
			flow = 0
		}
		e := net.Edge(metric.EdgeIndex(i))
		if err := state.AddFlowToEdge(metric.EdgeIndex(i), e.From, e.To, flow); err != nil {
			return solver.SolverTimings{}, err
		}
	}

	return solver.SolverTimings{Iterations: result.Iterations}, nil
}
