package network

import "github.com/pywr-go/watersim/pkg/metric"

// NodeKind tags which of the four node variants a Node is.
type NodeKind int

const (
	// KindInput supplies flow into the network; must have no incoming edges.
	KindInput NodeKind = iota
	// KindOutput drains flow from the network; must have no outgoing edges.
	KindOutput
	// KindLink passes flow through, splitting its cost across both halves
	// of the traversal.
	KindLink
	// KindStorage accumulates volume between steps; may not belong to a
	// virtual storage group (spec §2 Node.Storage invariant).
	KindStorage
)

func (k NodeKind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindOutput:
		return "Output"
	case KindLink:
		return "Link"
	case KindStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// Node is one vertex of the network graph. Bound and cost fields are
// Metric-typed so any of them may be driven by a parameter (spec §2).
//
// Flow bounds (MinFlow/MaxFlow) apply to Input/Output/Link nodes; volume
// bounds (MinVolume/MaxVolume) apply to Storage nodes only. Reading the
// wrong pair for a node's kind is a build-time CONSTRAINTS_UNDEFINED error
// (spec §2 edge cases), enforced by the Network builder rather than here.
type Node struct {
	Name string
	Kind NodeKind

	MinFlow metric.Metric
	MaxFlow metric.Metric
	Cost    metric.Metric

	MinVolume     metric.Metric
	MaxVolume     metric.Metric
	InitialVolume metric.Metric
}

// Edge is a directed, ordered connection between two nodes. Edges carry no
// bounds of their own; flow limits live on the nodes they connect (spec §2).
type Edge struct {
	From metric.NodeIndex
	To   metric.NodeIndex
}

// Relationship classifies how an AggregatedNode's member nodes are
// constrained relative to one another (spec §2 AggregatedNode).
type Relationship int

const (
	// RelationshipNone applies only the aggregated node's own min/max flow
	// bound across the sum of its members, with no inter-member ratio.
	RelationshipNone Relationship = iota
	// RelationshipFactorsRatio pins member flows to fixed ratios of one
	// another via per-member Factor metrics.
	RelationshipFactorsRatio
	// RelationshipFactorsProportion pins each member's flow to a fixed
	// proportion of the aggregated node's total flow.
	RelationshipFactorsProportion
	// RelationshipExclusive allows between MinActive and MaxActive members
	// to carry non-zero flow simultaneously; requires a MILP-capable
	// solver backend (spec §2, §7 FeatureSet.MutualExclusivity).
	RelationshipExclusive
)

// AggregatedNode groups a set of member nodes for shared bound and
// ratio/proportion/exclusivity constraints (spec §2).
type AggregatedNode struct {
	Name    string
	Members []metric.NodeIndex

	MinFlow metric.Metric
	MaxFlow metric.Metric

	Relationship Relationship

	// Factors holds one Metric per member, used by RelationshipFactorsRatio
	// and RelationshipFactorsProportion. Values must stay non-negative at
	// evaluation time (apperror.CodeNegativeFactor otherwise).
	Factors []metric.Metric

	// MinActive/MaxActive bound the count of simultaneously non-zero
	// members under RelationshipExclusive.
	MinActive int
	MaxActive int
}

// VirtualStorageCostMode selects how member storage costs combine into the
// virtual storage's aggregate cost (spec §2 VirtualStorage).
type VirtualStorageCostMode int

const (
	VirtualStorageCostSum VirtualStorageCostMode = iota
	VirtualStorageCostMax
	VirtualStorageCostMin
)

// VirtualStorage tracks a derived volume across a set of nodes' flows,
// independent of any single node's own storage (spec §2). Member nodes
// must not be Storage nodes, and a node belongs to at most one virtual
// storage group (CodeStorageInVirtual).
type VirtualStorage struct {
	Name    string
	Nodes   []metric.NodeIndex
	Factors []float64 // per-node flow weighting, same length as Nodes

	MinVolume     metric.Metric
	MaxVolume     metric.Metric
	InitialVolume metric.Metric

	CostMode VirtualStorageCostMode
	Cost     metric.Metric
}

// DerivedMetric names a Metric computed only after the time-step's solve
// completes, becoming readable by parameters starting the following step
// (spec §3 DerivedMetric).
type DerivedMetric struct {
	Name   string
	Source metric.Metric
}
