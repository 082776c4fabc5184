package ipmsolver

import (
	"github.com/pywr-go/watersim/pkg/ipm"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
)

// bigCapacity stands in for "unbounded" on arcs the spec places no real
// limit on (network edges, source/sink arcs): large enough that the
// interior-point method never treats it as a binding constraint, small
// enough to stay well inside float64 range after repeated normal-equation
// assembly (mirrors flowsolver's use of a large finite stand-in for
// infinity rather than an actual IEEE infinity, which would poison the
// IPM's log-barrier arithmetic).
const bigCapacity = 1e7

// arcKind tags which topology role a standard-form variable plays.
type arcKind int

const (
	// arcThrough is a node's own in(v) -> out(v) edge: the only arc kind
	// that carries the node's real bound and cost (spec §2 Node).
	arcThrough arcKind = iota
	// arcEdge mirrors a network.Edge: out(from) -> in(to), unbounded.
	arcEdge
	// arcSource connects the super-source to an Input node's in vertex.
	arcSource
	// arcSink connects an Output node's out vertex to the super-sink.
	arcSink
	// arcFill connects a Storage node's in vertex directly to the
	// super-sink, bounded each step by the volume room still free to
	// fill: it diverts real inflow away from passing straight through to
	// the out vertex. Without it, conservation at the in/out vertex pair
	// forces a storage's in-flow to equal its through-flow exactly,
	// leaving no variable representing "this flow stayed in the
	// reservoir".
	arcFill
	// arcRelease connects the super-source directly to a Storage node's
	// out vertex, bounded each step by the volume still available to
	// draw down: it lets the out vertex emit more than arrives via the
	// through edge, the release-side mirror of arcFill.
	arcRelease
)

// arc is one column of the standard-form matrix: a directed connection
// between two of the vertex-split graph's vertices (spec §4.5 "A encodes
// network topology"; topology mirrors flowsolver's in/out vertex split).
type arc struct {
	kind     arcKind
	node     metric.NodeIndex // set for arcThrough/arcSource/arcSink
	edge     metric.EdgeIndex // set for arcEdge
	from, to int              // vertex indices
}

// rowTerm is one (column, coefficient) contribution to an extraRow.
type rowTerm struct {
	col   int
	coeff float64
}

// extraRow is a constraint row that is not tied one-to-one with a single
// arc: an AggregatedNode's own min/max flow bound (summing several
// members' arcThrough columns) or a RelationshipFactorsRatio/
// RelationshipFactorsProportion equality linking two or more members'
// arcThrough columns by their (constant-scope) Factor metrics.
//
// Every extraRow's original (unshifted) equation is known at Setup time:
// rhsConst for a bound row is left 0 here and resolved per-step from the
// AggregatedNode's MinFlow/MaxFlow metric (mirrors how arcThrough's own
// capacity rows resolve their bound every Solve); rhsConst for a
// ratio/proportion row is always 0 (the equation is homogeneous). Either
// way the row's contribution to b is rhsConst - sum(coeff*lower_col),
// computed once the per-step lower bounds of every referenced arcThrough
// column are known (spec §4.5 standard form, generalised from a single
// shifted variable per row to a linear combination of several).
type extraRow struct {
	agg          metric.AggregatedNodeIndex
	terms        []rowTerm
	isInequality bool // true: aggregate bound row (carries a slack); false: ratio/proportion equality
}

// topology is the fixed part of the LP: which variables exist, which
// rows they participate in, and with what coefficient. Built once in
// Setup from the network's structure; every Solve call only has to
// re-resolve bounds and costs against this fixed shape (spec §4.6
// "Setup builds ... so Solve only needs to patch coefficients").
type topology struct {
	arcs []arc

	numNodes int
	sourceV  int
	sinkV    int

	// nodeThroughArc maps a node to its arcThrough column index.
	nodeThroughArc []int
	// edgeArc maps a network.EdgeIndex to its arcEdge column index.
	edgeArc []int
	// storageFillArc/storageReleaseArc map a Storage NodeIndex to its
	// arcFill/arcRelease column index, or -1 if the node is not a Storage.
	storageFillArc    []int
	storageReleaseArc []int

	// boundRows are AggregatedNode own-bound inequality rows; eqRows are
	// RelationshipFactorsRatio/RelationshipFactorsProportion equality rows.
	boundRows []extraRow
	eqRows    []extraRow

	n int // variable count (len(arcs))
	m int // row count (n capacity rows + aggregate bound rows + 2*numNodes conservation rows + ratio/proportion rows)
	w int // inequality row count (n capacity rows + aggregate bound rows): the leading "w size" the IPM core expects

	sym       *ipm.Symbolic
	permutedA *ipm.CSR
}

func inVertex(node metric.NodeIndex) int  { return int(node) * 2 }
func outVertex(node metric.NodeIndex) int { return int(node)*2 + 1 }

// buildTopology lays out the vertex-split graph and its standard-form
// constraint matrix for net. The matrix's nonzero pattern and values
// never change afterward: every arc occupies exactly one capacity row
// (coefficient 1 on its own shifted variable) and contributes +-1 to the
// conservation rows of the two vertices it connects (spec §4.5 standard
// form Ax + w = b).
func buildTopology(net *network.Network) *topology {
	t := &topology{numNodes: net.NodeCount()}
	t.sourceV = t.numNodes * 2
	t.sinkV = t.numNodes*2 + 1
	t.nodeThroughArc = make([]int, t.numNodes)
	t.edgeArc = make([]int, net.EdgeCount())
	t.storageFillArc = make([]int, t.numNodes)
	t.storageReleaseArc = make([]int, t.numNodes)
	for i := range t.storageFillArc {
		t.storageFillArc[i] = -1
		t.storageReleaseArc[i] = -1
	}

	addArc := func(a arc) int {
		idx := len(t.arcs)
		t.arcs = append(t.arcs, a)
		return idx
	}

	for i := 0; i < t.numNodes; i++ {
		node := metric.NodeIndex(i)
		t.nodeThroughArc[i] = addArc(arc{kind: arcThrough, node: node, from: inVertex(node), to: outVertex(node)})
	}
	for i := 0; i < net.EdgeCount(); i++ {
		e := net.Edge(metric.EdgeIndex(i))
		t.edgeArc[i] = addArc(arc{kind: arcEdge, edge: metric.EdgeIndex(i), from: outVertex(e.From), to: inVertex(e.To)})
	}
	for i := 0; i < t.numNodes; i++ {
		node := net.Node(metric.NodeIndex(i))
		switch node.Kind {
		case network.KindInput:
			addArc(arc{kind: arcSource, node: metric.NodeIndex(i), from: t.sourceV, to: inVertex(metric.NodeIndex(i))})
		case network.KindOutput:
			addArc(arc{kind: arcSink, node: metric.NodeIndex(i), from: outVertex(metric.NodeIndex(i)), to: t.sinkV})
		case network.KindStorage:
			t.storageFillArc[i] = addArc(arc{kind: arcFill, node: metric.NodeIndex(i), from: inVertex(metric.NodeIndex(i)), to: t.sinkV})
			t.storageReleaseArc[i] = addArc(arc{kind: arcRelease, node: metric.NodeIndex(i), from: t.sourceV, to: outVertex(metric.NodeIndex(i))})
		}
	}

	t.n = len(t.arcs)
	t.boundRows, t.eqRows = buildAggregatedRows(net, t.nodeThroughArc)

	numVertexRows := t.numNodes * 2
	t.w = t.n + len(t.boundRows)
	t.m = t.w + numVertexRows + len(t.eqRows)

	entries := make([]ipm.Entry, 0, t.n+2*t.n)
	for a := 0; a < t.n; a++ {
		entries = append(entries, ipm.Entry{Row: a, Col: a, Value: 1})
	}
	for k, row := range t.boundRows {
		r := t.n + k
		for _, term := range row.terms {
			entries = append(entries, ipm.Entry{Row: r, Col: term.col, Value: term.coeff})
		}
	}
	conservationBase := t.w
	for a, arcV := range t.arcs {
		if arcV.from < numVertexRows {
			entries = append(entries, ipm.Entry{Row: conservationBase + arcV.from, Col: a, Value: -1})
		}
		if arcV.to < numVertexRows {
			entries = append(entries, ipm.Entry{Row: conservationBase + arcV.to, Col: a, Value: 1})
		}
	}
	eqBase := conservationBase + numVertexRows
	for k, row := range t.eqRows {
		r := eqBase + k
		for _, term := range row.terms {
			entries = append(entries, ipm.Entry{Row: r, Col: term.col, Value: term.coeff})
		}
	}

	a := ipm.NewCSR(t.m, t.n, entries)
	t.sym = ipm.BuildSymbolic(a, t.w)
	t.permutedA = ipm.PermuteRows(a, t.sym.Perm)
	return t
}

// buildAggregatedRows lowers every AggregatedNode's own min/max flow
// bound and, for RelationshipFactorsRatio/RelationshipFactorsProportion,
// its inter-member constraint into extraRows referencing the members'
// arcThrough columns (spec §2 AggregatedNode). Called once at Setup:
// RelationshipExclusive, any non-constant-scope Factor metric, any
// negative factor, and any Proportion relationship whose implied
// group-0 share falls outside (0,1] are all rejected by
// validateAggregatedNodes before buildTopology runs, so every row built
// here has a fixed, valid coefficient set for the life of the topology.
func buildAggregatedRows(net *network.Network, nodeThroughArc []int) (boundRows, eqRows []extraRow) {
	for i := 0; i < net.AggregatedNodeCount(); i++ {
		idx := metric.AggregatedNodeIndex(i)
		an := net.AggregatedNode(idx)

		memberCols := make([]int, len(an.Members))
		for mi, nd := range an.Members {
			memberCols[mi] = nodeThroughArc[nd]
		}

		if !an.MinFlow.IsZero() || !an.MaxFlow.IsZero() {
			terms := make([]rowTerm, len(memberCols))
			for mi, col := range memberCols {
				terms[mi] = rowTerm{col: col, coeff: 1}
			}
			boundRows = append(boundRows, extraRow{agg: idx, terms: terms, isInequality: true})
		}

		switch an.Relationship {
		case network.RelationshipFactorsRatio:
			factor0 := an.Factors[0].ConstantValue()
			for mi := 1; mi < len(memberCols); mi++ {
				factorI := an.Factors[mi].ConstantValue()
				eqRows = append(eqRows, extraRow{
					agg: idx,
					terms: []rowTerm{
						{col: memberCols[0], coeff: factorI},
						{col: memberCols[mi], coeff: -factor0},
					},
				})
			}
		case network.RelationshipFactorsProportion:
			// flow_i = Factors[i] * sum(all member flows) for every member,
			// but the n equations are rank n-1 (the shares sum to 1), so
			// member 0's row is dropped and only Factors[1:] are read here.
			for mi := 1; mi < len(memberCols); mi++ {
				share := an.Factors[mi].ConstantValue()
				terms := make([]rowTerm, len(memberCols))
				for mj, col := range memberCols {
					if mj == mi {
						terms[mj] = rowTerm{col: col, coeff: 1 - share}
					} else {
						terms[mj] = rowTerm{col: col, coeff: -share}
					}
				}
				eqRows = append(eqRows, extraRow{agg: idx, terms: terms})
			}
		}
	}
	return boundRows, eqRows
}
