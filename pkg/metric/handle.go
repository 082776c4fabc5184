// Package metric defines the opaque integer handles that identify every
// entity in a water network (nodes, edges, aggregated nodes, virtual
// storages, parameters, derived metrics), and the polymorphic Metric value
// that names "where to get a scalar from" — the common currency of every
// bound and cost in the simulator.
//
// Handles are dense integer newtypes into owned vectors, never pointers:
// this keeps the Network clone-free and makes dangling references
// impossible by construction (grounded on the teacher's int64 node-ID
// keyed graph, generalised to typed, zero-based indices per entity kind).
package metric

// NodeIndex identifies a Node within a Network. Stable for the network's
// lifetime; assigned in insertion order.
type NodeIndex int

// EdgeIndex identifies an Edge within a Network.
type EdgeIndex int

// ParameterIndex identifies a Parameter within a Network.
type ParameterIndex int

// AggregatedNodeIndex identifies an AggregatedNode within a Network.
type AggregatedNodeIndex int

// VirtualStorageIndex identifies a VirtualStorage within a Network.
type VirtualStorageIndex int

// DerivedMetricIndex identifies a DerivedMetric within a Network.
type DerivedMetricIndex int

// InvalidIndex is returned by lookups that fail; all handle types use -1
// as their not-found sentinel.
const InvalidIndex = -1
