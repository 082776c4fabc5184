// Package ipmsolver adapts the sparse SIMD interior-point core in
// pkg/ipm to the solver.MultiScenarioSolver contract: it builds the
// vertex-split standard-form LP once from a network's topology (mirroring
// pkg/solver/flowsolver's in/out vertex split) and, each step, resolves
// the mutable bounds and costs for up to ipm.Lanes scenario States and
// solves them together in lock-step (spec §4.5, §4.6).
//
// Unlike flowsolver, which only ever resolves a node's upper bound, this
// backend also honours MinFlow, since the interior-point method handles a
// general lower/upper bounded LP rather than a pure max-flow problem.
package ipmsolver

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/ipm"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/solver"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// Backend is the MultiScenarioSolver implementation wrapping pkg/ipm.
type Backend struct {
	top *topology
	cfg ipm.Config
}

// New creates an unconfigured ipmsolver Backend.
func New() *Backend { return &Backend{} }

// Features reports the topology-only feature set this backend supports.
// A linear standard-form LP can carry an AggregatedNode's own min/max
// flow bound and a RelationshipFactorsRatio/RelationshipFactorsProportion
// coupling between members as extra rows (see build.go's extraRow), as
// long as every Factor metric is constant-scope, since the row
// coefficients are frozen into the topology at Setup and never
// revisited. RelationshipExclusive and virtual accounting storages still
// have no linear representation (spec §9 "Mutual exclusivity requires
// MILP") and remain unsupported.
func (b *Backend) Features() solver.FeatureSet {
	return solver.NewFeatureSet(solver.FeatureAggregatedNode, solver.FeatureAggregatedNodeFactors)
}

// validateAggregatedNodes rejects the AggregatedNode shapes this backend
// cannot express as fixed linear rows, and the Factor values spec §2
// calls out as ill-formed: RelationshipExclusive needs integer
// member-activation variables (MILP, spec §9); a Ratio/Proportion Factor
// that is not constant-scope would require the topology's own
// coefficients to change step to step, which the fixed-topology contract
// in spec §4.6 does not allow; a negative Ratio/Proportion factor is a
// CodeNegativeFactor error ("Negative factors are an error", spec §2);
// and a Proportion relationship's implied group-0 share (1 minus the
// shares of groups 1..n-1) must lie in (0,1].
//
// Every check here reads Factors[i].ConstantValue() directly, which is
// only sound once the preceding scope check has confirmed the Metric is
// constant — this is the same assumption buildAggregatedRows makes.
func validateAggregatedNodes(net *network.Network) error {
	for i := 0; i < net.AggregatedNodeCount(); i++ {
		an := net.AggregatedNode(metric.AggregatedNodeIndex(i))
		switch an.Relationship {
		case network.RelationshipExclusive:
			return apperror.Newf(apperror.CodeUnsupportedFeature, "ipmsolver: aggregated node %q uses mutual exclusivity, which this backend does not support", an.Name)
		case network.RelationshipFactorsRatio:
			for _, f := range an.Factors {
				if f.Kind() != metric.KindConstant {
					return apperror.Newf(apperror.CodeUnsupportedFeature, "ipmsolver: aggregated node %q has a non-constant factor, which this backend does not support", an.Name)
				}
				if f.ConstantValue() < 0 {
					return apperror.Newf(apperror.CodeNegativeFactor, "ipmsolver: aggregated node %q has a negative ratio factor", an.Name)
				}
			}
		case network.RelationshipFactorsProportion:
			sumShares := 0.0
			for mi, f := range an.Factors {
				if f.Kind() != metric.KindConstant {
					return apperror.Newf(apperror.CodeUnsupportedFeature, "ipmsolver: aggregated node %q has a non-constant factor, which this backend does not support", an.Name)
				}
				if mi == 0 {
					// Factors[0] is unused: group 0's share is implied by
					// the rest (see buildAggregatedRows).
					continue
				}
				share := f.ConstantValue()
				if share < 0 {
					return apperror.Newf(apperror.CodeNegativeFactor, "ipmsolver: aggregated node %q has a negative proportion factor", an.Name)
				}
				sumShares += share
			}
			if share0 := 1 - sumShares; share0 <= 0 || share0 > 1 {
				return apperror.Newf(apperror.CodeDataOutOfRange, "ipmsolver: aggregated node %q implied group-0 share %g is outside (0,1]", an.Name, share0)
			}
		}
	}
	return nil
}

// Setup builds the fixed vertex-split topology and its symbolic
// Cholesky factorisation once; Solve/SolveBatch only ever patch b and c.
func (b *Backend) Setup(net *network.Network, settings solver.SolverSettings) error {
	if net.VirtualStorageCount() > 0 {
		return apperror.New(apperror.CodeUnsupportedFeature, "ipmsolver: network has virtual storages, which this backend does not support")
	}
	if err := validateAggregatedNodes(net); err != nil {
		return err
	}

	b.top = buildTopology(net)
	b.cfg = ipm.DefaultConfig()
	if settings.MaxIterations > 0 {
		b.cfg.MaxIterations = settings.MaxIterations
	}
	if settings.PrimalTol > 0 {
		b.cfg.PrimalTol = settings.PrimalTol
	}
	if settings.DualTol > 0 {
		b.cfg.DualTol = settings.DualTol
	}
	if settings.OptimalityTol > 0 {
		b.cfg.OptimalityTol = settings.OptimalityTol
	}
	return nil
}

// Solve runs a single-scenario batch of one through SolveBatch, so the
// Backend also satisfies solver.Solver for callers that only ever run one
// scenario at a time.
func (b *Backend) Solve(net *network.Network, t timedomain.Timestep, state *pstate.State, params network.ParameterLookup) (solver.SolverTimings, error) {
	return b.SolveBatch(net, t, []*pstate.State{state}, []network.ParameterLookup{params})
}

// arcBounds is one arc's resolved lower/upper bound and cost for one lane.
type arcBounds struct {
	lower, upper, cost float64
}

// SolveBatch resolves bounds/costs for up to ipm.Lanes states, solves
// them together, and writes the resulting edge flows back into each
// state. Fewer than Lanes states pads the remaining lanes by repeating
// lane 0's problem (the extra solutions are simply discarded); more than
// Lanes states are chunked into successive lock-step batches.
func (b *Backend) SolveBatch(net *network.Network, t timedomain.Timestep, states []*pstate.State, params []network.ParameterLookup) (solver.SolverTimings, error) {
	var timings solver.SolverTimings
	for offset := 0; offset < len(states); offset += ipm.Lanes {
		end := offset + ipm.Lanes
		if end > len(states) {
			end = len(states)
		}
		chunkTimings, err := b.solveChunk(net, t, states[offset:end], params[offset:end])
		if err != nil {
			return timings, err
		}
		timings.Iterations += chunkTimings.Iterations
		timings.ConvergedLanes += chunkTimings.ConvergedLanes
	}
	return timings, nil
}

func (b *Backend) solveChunk(net *network.Network, t timedomain.Timestep, states []*pstate.State, params []network.ParameterLookup) (solver.SolverTimings, error) {
	top := b.top
	n, m := top.n, top.m

	c := make([]ipm.Vec, n)
	bOrig := make([]ipm.Vec, m)

	lanes := len(states)
	bounds := make([][]arcBounds, lanes)
	for lane := 0; lane < lanes; lane++ {
		lb, err := resolveArcBounds(net, top, t, states[lane], params[lane])
		if err != nil {
			return solver.SolverTimings{}, err
		}
		bounds[lane] = lb
	}

	numVertexRows := top.numNodes * 2
	for a := 0; a < n; a++ {
		var capVec, costVec ipm.Vec
		for lane := 0; lane < lanes; lane++ {
			ab := bounds[lane][a]
			capVec[lane] = ab.upper - ab.lower
			costVec[lane] = ab.cost
		}
		for lane := lanes; lane < ipm.Lanes; lane++ {
			// pad unused lanes by repeating lane 0's problem so the
			// lock-step solve still has a well-posed LP in every lane.
			capVec[lane] = capVec[0]
			costVec[lane] = costVec[0]
		}
		c[a] = costVec
		bOrig[a] = capVec
	}

	for k, row := range top.boundRows {
		an := net.AggregatedNode(row.agg)
		var rowVec ipm.Vec
		for lane := 0; lane < lanes; lane++ {
			lower, err := net.Resolve(an.MinFlow, states[lane], params[lane])
			if err != nil {
				return solver.SolverTimings{}, err
			}
			upper, err := net.Resolve(an.MaxFlow, states[lane], params[lane])
			if err != nil {
				return solver.SolverTimings{}, err
			}
			rhs := upper - lower
			for _, term := range row.terms {
				rhs -= term.coeff * bounds[lane][term.col].lower
			}
			rowVec[lane] = rhs
		}
		for lane := lanes; lane < ipm.Lanes; lane++ {
			rowVec[lane] = rowVec[0]
		}
		bOrig[n+k] = rowVec
	}

	vertexLowerSum := make([][]float64, numVertexRows)
	for v := range vertexLowerSum {
		vertexLowerSum[v] = make([]float64, ipm.Lanes)
	}
	for lane := 0; lane < lanes; lane++ {
		for a, arcV := range top.arcs {
			lb := bounds[lane][a].lower
			if arcV.from < numVertexRows {
				vertexLowerSum[arcV.from][lane] += lb
			}
			if arcV.to < numVertexRows {
				vertexLowerSum[arcV.to][lane] -= lb
			}
		}
	}
	for lane := lanes; lane < ipm.Lanes; lane++ {
		for v := 0; v < numVertexRows; v++ {
			vertexLowerSum[v][lane] = vertexLowerSum[v][0]
		}
	}
	for v := 0; v < numVertexRows; v++ {
		var rowVec ipm.Vec
		for lane := 0; lane < ipm.Lanes; lane++ {
			rowVec[lane] = vertexLowerSum[v][lane]
		}
		bOrig[top.w+v] = rowVec
	}

	eqBase := top.w + numVertexRows
	for k, row := range top.eqRows {
		var rowVec ipm.Vec
		for lane := 0; lane < lanes; lane++ {
			rhs := 0.0
			for _, term := range row.terms {
				rhs -= term.coeff * bounds[lane][term.col].lower
			}
			rowVec[lane] = rhs
		}
		for lane := lanes; lane < ipm.Lanes; lane++ {
			rowVec[lane] = rowVec[0]
		}
		bOrig[eqBase+k] = rowVec
	}

	bPermuted := ipm.PermuteVec(bOrig, top.sym.Perm)

	result, err := ipm.Solve(top.sym, top.permutedA, c, bPermuted, top.w, b.cfg)
	if err != nil {
		return solver.SolverTimings{}, mapSolveError(err)
	}

	converged := 0
	for l := 0; l < ipm.Lanes && l < lanes; l++ {
		if result.Converged[l] {
			converged++
		}
	}

	for lane := 0; lane < lanes; lane++ {
		for i := 0; i < net.EdgeCount(); i++ {
			a := top.edgeArc[i]
			flow := result.X[a][lane] + bounds[lane][a].lower
			if flow < 0 {
				flow = 0
			}
			e := net.Edge(metric.EdgeIndex(i))
			if err := states[lane].AddFlowToEdge(metric.EdgeIndex(i), e.From, e.To, flow); err != nil {
				return solver.SolverTimings{}, err
			}
		}
	}

	return solver.SolverTimings{Iterations: result.Iterations, ConvergedLanes: converged}, nil
}

// resolveArcBounds re-reads every arc's lower/upper bound and cost from
// its Metric for one scenario's state (spec §4.6 "Solve updates bounds/
// costs from the mutable metrics"). arcFill/arcRelease bounds are derived
// from the frozen step-start volume bounds rather than a Metric, since
// they represent solver-internal bypass capacity rather than a declared
// node property (see the arcFill/arcRelease doc comments in build.go).
func resolveArcBounds(net *network.Network, top *topology, t timedomain.Timestep, state *pstate.State, params network.ParameterLookup) ([]arcBounds, error) {
	dt := t.DaysFraction()
	out := make([]arcBounds, top.n)
	for a, arcV := range top.arcs {
		switch arcV.kind {
		case arcThrough:
			node := net.Node(arcV.node)
			if node.Kind == network.KindStorage {
				out[a] = arcBounds{lower: 0, upper: bigCapacity, cost: 0}
				continue
			}
			lower, err := net.Resolve(node.MinFlow, state, params)
			if err != nil {
				return nil, err
			}
			upper, err := net.Resolve(node.MaxFlow, state, params)
			if err != nil {
				return nil, err
			}
			cost, err := net.Resolve(node.Cost, state, params)
			if err != nil {
				return nil, err
			}
			if upper < lower {
				return nil, apperror.Newf(apperror.CodeConstraintsUndefined, "node %q: max flow %g below min flow %g", node.Name, upper, lower).WithDetail("node_index", int(arcV.node))
			}
			out[a] = arcBounds{lower: lower, upper: upper, cost: cost}
		case arcFill, arcRelease:
			node := net.Node(arcV.node)
			storageCost, err := net.Resolve(node.Cost, state, params)
			if err != nil {
				return nil, err
			}
			volume, err := state.GetNodeVolume(arcV.node)
			if err != nil {
				return nil, err
			}
			vb := state.NodeVolumes[arcV.node]
			var room, cost float64
			if arcV.kind == arcFill {
				room = vb.MaxVolumeAtStepStart - volume
				cost = -storageCost
			} else {
				room = volume - vb.MinVolumeAtStepStart
				cost = storageCost
			}
			upper := 0.0
			if room > 0 && dt > 0 {
				upper = room / dt
			}
			out[a] = arcBounds{lower: 0, upper: upper, cost: cost}
		default: // arcEdge, arcSource, arcSink: unbounded pass-through, no cost
			out[a] = arcBounds{lower: 0, upper: bigCapacity, cost: 0}
		}
	}
	return out, nil
}

func mapSolveError(err error) error {
	switch err.(type) {
	case *ipm.NonConvergenceError:
		return apperror.Wrap(apperror.CodeNonConvergent, "ipmsolver: solve did not converge", err)
	case *ipm.NonFiniteError:
		return apperror.Wrap(apperror.CodeNonFiniteResidual, "ipmsolver: non-finite residual during solve", err)
	default:
		return apperror.Wrap(apperror.CodeInternal, "ipmsolver: solve failed", err)
	}
}
