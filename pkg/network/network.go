// Package network implements the simulator's graph model: typed nodes
// (Input/Output/Link/Storage), directed edges, aggregated node groups,
// virtual storages, and the build-time validation that keeps handle
// references sound. It is the graph layer the parameter and solver
// packages are built against (spec §2), grounded on the teacher's
// adjacency-map graph construction style (services/simulation-svc's
// CloneGraph/nodeIndex/edgeIndex bookkeeping), generalised from int64 IDs
// to the metric package's typed handles.
package network

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
)

// Network is the immutable-after-build graph shared read-only across all
// scenarios of a run.
type Network struct {
	nodes           []Node
	edges           []Edge
	aggregatedNodes []AggregatedNode
	virtualStorages []VirtualStorage
	derivedMetrics  []DerivedMetric

	names map[string]metric.NodeIndex

	// outEdges/inEdges index edges by endpoint for traversal and in/out
	// flow accumulation.
	outEdges [][]metric.EdgeIndex
	inEdges  [][]metric.EdgeIndex

	// storageInVirtual marks nodes already claimed by a virtual storage
	// group, to enforce CodeStorageInVirtual.
	storageInVirtual map[metric.NodeIndex]bool

	parameterCount int
}

// New creates an empty Network ready for building.
func New() *Network {
	return &Network{
		names:            make(map[string]metric.NodeIndex),
		storageInVirtual: make(map[metric.NodeIndex]bool),
	}
}

func (n *Network) addNode(node Node) (metric.NodeIndex, error) {
	if _, exists := n.names[node.Name]; exists {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeDuplicateNode, "node %q already exists", node.Name)
	}
	idx := metric.NodeIndex(len(n.nodes))
	n.nodes = append(n.nodes, node)
	n.outEdges = append(n.outEdges, nil)
	n.inEdges = append(n.inEdges, nil)
	n.names[node.Name] = idx
	return idx, nil
}

// AddInput adds an Input node: a flow source with no incoming edges.
func (n *Network) AddInput(name string, maxFlow, cost metric.Metric) (metric.NodeIndex, error) {
	return n.addNode(Node{Name: name, Kind: KindInput, MaxFlow: maxFlow, Cost: cost})
}

// AddOutput adds an Output node: a flow sink with no outgoing edges.
func (n *Network) AddOutput(name string, maxFlow, cost metric.Metric) (metric.NodeIndex, error) {
	return n.addNode(Node{Name: name, Kind: KindOutput, MaxFlow: maxFlow, Cost: cost})
}

// AddLink adds a Link node: a pass-through point whose cost is split
// across the half-edges on either side during solver assembly (spec §2
// cost semantics).
func (n *Network) AddLink(name string, maxFlow, cost metric.Metric) (metric.NodeIndex, error) {
	return n.addNode(Node{Name: name, Kind: KindLink, MaxFlow: maxFlow, Cost: cost})
}

// SetMinFlow sets the lower flow bound for an Input, Output or Link node
// (spec §3 "carries flow bounds (min_flow, max_flow each an optional
// Metric)"); it defaults to zero (unset Metric) until called. Rejects
// Storage nodes, which carry volume bounds instead of flow bounds
// (CodeConstraintsUndefined).
func (n *Network) SetMinFlow(idx metric.NodeIndex, minFlow metric.Metric) error {
	if err := n.checkNodeIndex(idx); err != nil {
		return err
	}
	if n.nodes[idx].Kind == KindStorage {
		return apperror.Newf(apperror.CodeConstraintsUndefined, "storage node %q has no flow bounds", n.nodes[idx].Name).WithDetail("node_index", int(idx))
	}
	n.nodes[idx].MinFlow = minFlow
	return nil
}

// AddStorage adds a Storage node carrying volume between steps.
func (n *Network) AddStorage(name string, minVolume, maxVolume, initialVolume, cost metric.Metric) (metric.NodeIndex, error) {
	return n.addNode(Node{
		Name:          name,
		Kind:          KindStorage,
		MinVolume:     minVolume,
		MaxVolume:     maxVolume,
		InitialVolume: initialVolume,
		Cost:          cost,
	})
}

// Connect adds a directed edge from -> to. Both endpoints must already
// exist; connecting into an Input or out of an Output is rejected
// (CodeInvalidConnection).
func (n *Network) Connect(from, to metric.NodeIndex) (metric.EdgeIndex, error) {
	if err := n.checkNodeIndex(from); err != nil {
		return metric.InvalidIndex, err
	}
	if err := n.checkNodeIndex(to); err != nil {
		return metric.InvalidIndex, err
	}
	if n.nodes[to].Kind == KindInput {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeInvalidConnection, "cannot connect into Input node %q", n.nodes[to].Name)
	}
	if n.nodes[from].Kind == KindOutput {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeInvalidConnection, "cannot connect out of Output node %q", n.nodes[from].Name)
	}
	idx := metric.EdgeIndex(len(n.edges))
	n.edges = append(n.edges, Edge{From: from, To: to})
	n.outEdges[from] = append(n.outEdges[from], idx)
	n.inEdges[to] = append(n.inEdges[to], idx)
	return idx, nil
}

// AddAggregatedNode groups member nodes under a shared bound and
// Relationship constraint. Rejects an empty member list
// (CodeEmptyNodeGroup).
func (n *Network) AddAggregatedNode(name string, members []metric.NodeIndex, minFlow, maxFlow metric.Metric, rel Relationship, factors []metric.Metric) (metric.AggregatedNodeIndex, error) {
	if len(members) == 0 {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeEmptyNodeGroup, "aggregated node %q has no members", name)
	}
	for _, m := range members {
		if err := n.checkNodeIndex(m); err != nil {
			return metric.InvalidIndex, err
		}
	}
	idx := metric.AggregatedNodeIndex(len(n.aggregatedNodes))
	n.aggregatedNodes = append(n.aggregatedNodes, AggregatedNode{
		Name: name, Members: members, MinFlow: minFlow, MaxFlow: maxFlow,
		Relationship: rel, Factors: factors,
	})
	return idx, nil
}

// SetExclusivity configures MinActive/MaxActive for a RelationshipExclusive
// aggregated node.
func (n *Network) SetExclusivity(idx metric.AggregatedNodeIndex, minActive, maxActive int) error {
	if int(idx) < 0 || int(idx) >= len(n.aggregatedNodes) {
		return apperror.Newf(apperror.CodeUnknownNode, "aggregated node index %d unknown", idx)
	}
	n.aggregatedNodes[idx].MinActive = minActive
	n.aggregatedNodes[idx].MaxActive = maxActive
	return nil
}

// AddVirtualStorage adds a virtual storage tracking a weighted combination
// of member node flows. Members must not be Storage nodes, and a node
// already claimed by another virtual storage group cannot join a second
// one (both CodeStorageInVirtual).
func (n *Network) AddVirtualStorage(name string, nodes []metric.NodeIndex, factors []float64, minVolume, maxVolume, initialVolume, cost metric.Metric, costMode VirtualStorageCostMode) (metric.VirtualStorageIndex, error) {
	if len(nodes) == 0 {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeEmptyNodeGroup, "virtual storage %q has no member nodes", name)
	}
	if len(factors) != len(nodes) {
		return metric.InvalidIndex, apperror.Newf(apperror.CodeInvalidConnection, "virtual storage %q: %d factors for %d nodes", name, len(factors), len(nodes))
	}
	for _, nd := range nodes {
		if err := n.checkNodeIndex(nd); err != nil {
			return metric.InvalidIndex, err
		}
		if n.nodes[nd].Kind == KindStorage {
			return metric.InvalidIndex, apperror.Newf(apperror.CodeStorageInVirtual, "storage node %q may not belong to a virtual storage group", n.nodes[nd].Name)
		}
		if n.storageInVirtual[nd] {
			return metric.InvalidIndex, apperror.Newf(apperror.CodeStorageInVirtual, "node %q already belongs to a virtual storage group", n.nodes[nd].Name)
		}
	}
	idx := metric.VirtualStorageIndex(len(n.virtualStorages))
	n.virtualStorages = append(n.virtualStorages, VirtualStorage{
		Name: name, Nodes: nodes, Factors: factors,
		MinVolume: minVolume, MaxVolume: maxVolume, InitialVolume: initialVolume,
		CostMode: costMode, Cost: cost,
	})
	for _, nd := range nodes {
		n.storageInVirtual[nd] = true
	}
	return idx, nil
}

// AddDerivedMetric registers a metric computed only after a step's solve.
func (n *Network) AddDerivedMetric(name string, source metric.Metric) metric.DerivedMetricIndex {
	idx := metric.DerivedMetricIndex(len(n.derivedMetrics))
	n.derivedMetrics = append(n.derivedMetrics, DerivedMetric{Name: name, Source: source})
	return idx
}

// NextParameterIndex reserves and returns the next ParameterIndex. The
// parameters package owns parameter storage; Network only hands out and
// validates the handles so Metric references stay dense and checkable.
func (n *Network) NextParameterIndex() metric.ParameterIndex {
	idx := metric.ParameterIndex(n.parameterCount)
	n.parameterCount++
	return idx
}

func (n *Network) checkNodeIndex(idx metric.NodeIndex) error {
	if int(idx) < 0 || int(idx) >= len(n.nodes) {
		return apperror.Newf(apperror.CodeUnknownNode, "node index %d unknown", idx)
	}
	return nil
}

// Node returns node i. Panics if i is out of range — callers that accept
// untrusted handles should use NodeCount to bounds-check first.
func (n *Network) Node(i metric.NodeIndex) Node { return n.nodes[i] }

// Edge returns edge i.
func (n *Network) Edge(i metric.EdgeIndex) Edge { return n.edges[i] }

// AggregatedNode returns aggregated node i.
func (n *Network) AggregatedNode(i metric.AggregatedNodeIndex) AggregatedNode {
	return n.aggregatedNodes[i]
}

// VirtualStorage returns virtual storage i.
func (n *Network) VirtualStorage(i metric.VirtualStorageIndex) VirtualStorage {
	return n.virtualStorages[i]
}

// DerivedMetric returns derived metric i.
func (n *Network) DerivedMetric(i metric.DerivedMetricIndex) DerivedMetric {
	return n.derivedMetrics[i]
}

// NodeCount, EdgeCount, etc. report entity counts for State allocation.
func (n *Network) NodeCount() int           { return len(n.nodes) }
func (n *Network) EdgeCount() int           { return len(n.edges) }
func (n *Network) AggregatedNodeCount() int { return len(n.aggregatedNodes) }
func (n *Network) VirtualStorageCount() int { return len(n.virtualStorages) }
func (n *Network) DerivedMetricCount() int  { return len(n.derivedMetrics) }
func (n *Network) ParameterCount() int      { return n.parameterCount }

// OutEdges returns the edges leaving node n.
func (n *Network) OutEdges(idx metric.NodeIndex) []metric.EdgeIndex { return n.outEdges[idx] }

// InEdges returns the edges entering node n.
func (n *Network) InEdges(idx metric.NodeIndex) []metric.EdgeIndex { return n.inEdges[idx] }

// NodeByName looks up a node's index by its configured name.
func (n *Network) NodeByName(name string) (metric.NodeIndex, bool) {
	idx, ok := n.names[name]
	return idx, ok
}

// Validate walks the built network for structural invariants that can be
// checked without evaluating any parameter: dangling node references in
// aggregated nodes and virtual storages (derived metric sources are not
// checked), and the flow
// node / volume node bound-kind mismatch (spec §2 edge cases).
func (n *Network) Validate() error {
	for i, node := range n.nodes {
		switch node.Kind {
		case KindInput, KindOutput, KindLink:
			if !node.MinVolume.IsZero() || !node.MaxVolume.IsZero() {
				return apperror.Newf(apperror.CodeConstraintsUndefined, "flow node %q must not declare volume bounds", node.Name).WithDetail("node_index", i)
			}
		case KindStorage:
			if !node.MinFlow.IsZero() || !node.MaxFlow.IsZero() {
				return apperror.Newf(apperror.CodeConstraintsUndefined, "storage node %q must not declare flow bounds", node.Name).WithDetail("node_index", i)
			}
		}
		if node.Kind == KindInput && len(n.inEdges[i]) > 0 {
			return apperror.Newf(apperror.CodeInvalidConnection, "Input node %q has incoming edges", node.Name)
		}
		if node.Kind == KindOutput && len(n.outEdges[i]) > 0 {
			return apperror.Newf(apperror.CodeInvalidConnection, "Output node %q has outgoing edges", node.Name)
		}
	}
	for i, an := range n.aggregatedNodes {
		for _, m := range an.Members {
			if int(m) < 0 || int(m) >= len(n.nodes) {
				return apperror.Newf(apperror.CodeDanglingReference, "aggregated node %q references unknown node %d", an.Name, m).WithDetail("aggregated_index", i)
			}
		}
		if an.Relationship == RelationshipFactorsRatio || an.Relationship == RelationshipFactorsProportion {
			if len(an.Factors) != len(an.Members) {
				return apperror.Newf(apperror.CodeDanglingReference, "aggregated node %q has %d factors for %d members", an.Name, len(an.Factors), len(an.Members))
			}
		}
	}
	for i, vs := range n.virtualStorages {
		for _, nd := range vs.Nodes {
			if int(nd) < 0 || int(nd) >= len(n.nodes) {
				return apperror.Newf(apperror.CodeDanglingReference, "virtual storage %q references unknown node %d", vs.Name, nd).WithDetail("virtual_storage_index", i)
			}
		}
	}
	return nil
}

// HalfEdgeCost splits a Link node's cost evenly across the two
// half-edges of a traversal through it (spec §2 cost semantics):
// an edge (u -> link -> v) contributes cost(link)/2 to each half.
func HalfEdgeCost(linkCost float64) float64 {
	return linkCost / 2
}
