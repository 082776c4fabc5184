// Package pstate implements the per-scenario State record: evolving node
// flows and storage volumes, the append-only parameter value arrays, and
// derived-metric slots, mirroring spec §3's State data model. Network is
// read-only during a run; State is mutated in place for the whole run
// (one State per scenario), grounded on the teacher's per-request mutable
// graph state with the mutation surface narrowed to named accessors.
package pstate

import (
	"fmt"
	"math"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
)

// MassBalanceTolerance is the maximum allowed deviation between a storage
// node's volume and its expected post-solve value before the engine
// raises a SeverityFatal mass-balance error (spec §3, §7, §8 property 2).
const MassBalanceTolerance = 1e-6

// NodeFlowState is the per-node flow accumulator, reset at the start of
// every step.
type NodeFlowState struct {
	InFlow  float64
	OutFlow float64
}

// NodeVolumeState augments NodeFlowState for Storage nodes with volume
// bookkeeping. MaxVolumeAtStepStart is frozen at the start of the step so
// that proportional volumes stay stable regardless of later parameter
// updates within the same step (spec §3 NetworkState).
type NodeVolumeState struct {
	Volume               float64
	MaxVolumeAtStepStart float64
	MinVolumeAtStepStart float64
	HasVolume            bool
}

// AggregatedNodeState holds the per-step cache for an aggregated node.
type AggregatedNodeState struct {
	InFlow  float64
	OutFlow float64
}

// VirtualStorageState mirrors NodeVolumeState for virtual storages.
type VirtualStorageState struct {
	Volume               float64
	MaxVolumeAtStepStart float64
	MinVolumeAtStepStart float64
}

// ParameterValues holds the three append-only vectors a parameter's
// compute() result is written into: floats, indices, and multi-values.
// A parameter of scope S may read values written by parameters of scope
// <= S earlier in the topological (insertion) order (spec §3, §4.4).
type ParameterValues struct {
	Floats  []float64
	Indices []int64
	Multis  []metric.MultiValue
}

// State is one scenario's complete mutable simulation record.
type State struct {
	NodeFlows        []NodeFlowState
	NodeVolumes      []NodeVolumeState
	AggregatedNodes  []AggregatedNodeState
	VirtualStorages  []VirtualStorageState
	Parameters       ParameterValues
	DerivedMetrics   []float64
	derivedMetricSet []bool

	// EdgeFlows holds the per-edge flow written back by the solver.
	EdgeFlows []float64
}

// New allocates a zeroed State sized for the given entity counts.
func New(nodes, edges, aggregatedNodes, virtualStorages, parameters, derivedMetrics int) *State {
	return &State{
		NodeFlows:        make([]NodeFlowState, nodes),
		NodeVolumes:      make([]NodeVolumeState, nodes),
		AggregatedNodes:  make([]AggregatedNodeState, aggregatedNodes),
		VirtualStorages:  make([]VirtualStorageState, virtualStorages),
		Parameters:       ParameterValues{Floats: make([]float64, 0, parameters), Indices: make([]int64, 0, parameters), Multis: make([]metric.MultiValue, 0, parameters)},
		DerivedMetrics:   make([]float64, derivedMetrics),
		derivedMetricSet: make([]bool, derivedMetrics),
		EdgeFlows:        make([]float64, edges),
	}
}

// ResetForStep zeroes the per-step flow accumulators and aggregated node
// caches ahead of a new time-step's parameter evaluation and solve, and
// empties the parameter value vectors so the step's evaluation appends
// into them afresh. It does not touch storage volumes (carried over from
// the previous step) or derived-metric values.
func (s *State) ResetForStep() {
	for i := range s.NodeFlows {
		s.NodeFlows[i] = NodeFlowState{}
	}
	for i := range s.AggregatedNodes {
		s.AggregatedNodes[i] = AggregatedNodeState{}
	}
	for i := range s.EdgeFlows {
		s.EdgeFlows[i] = 0
	}
	s.Parameters.Floats = s.Parameters.Floats[:0]
	s.Parameters.Indices = s.Parameters.Indices[:0]
	s.Parameters.Multis = s.Parameters.Multis[:0]
}

// SetNodeVolume sets node n's current volume. n must be a Storage node by
// convention of the caller (the network layer enforces the kind check).
func (s *State) SetNodeVolume(n metric.NodeIndex, volume float64) error {
	if int(n) < 0 || int(n) >= len(s.NodeVolumes) {
		return apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	s.NodeVolumes[n].Volume = volume
	s.NodeVolumes[n].HasVolume = true
	return nil
}

// FreezeStepStartVolumeBounds records the min/max volume bounds resolved
// at the start of the step, before any flow is applied, so proportional
// volume remains stable across the step (spec §3).
func (s *State) FreezeStepStartVolumeBounds(n metric.NodeIndex, minVolume, maxVolume float64) error {
	if int(n) < 0 || int(n) >= len(s.NodeVolumes) {
		return apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	s.NodeVolumes[n].MinVolumeAtStepStart = minVolume
	s.NodeVolumes[n].MaxVolumeAtStepStart = maxVolume
	return nil
}

// AddFlowToEdge accumulates flow on edge e, and correspondingly the
// from/to nodes' out-flow/in-flow accumulators.
func (s *State) AddFlowToEdge(e metric.EdgeIndex, from, to metric.NodeIndex, flow float64) error {
	if int(e) < 0 || int(e) >= len(s.EdgeFlows) {
		return apperror.Newf(apperror.CodeIndexOutOfRange, "edge index %d out of range", e)
	}
	s.EdgeFlows[e] += flow
	if int(from) >= 0 && int(from) < len(s.NodeFlows) {
		s.NodeFlows[from].OutFlow += flow
	}
	if int(to) >= 0 && int(to) < len(s.NodeFlows) {
		s.NodeFlows[to].InFlow += flow
	}
	return nil
}

// GetNodeInFlow returns node n's accumulated in-flow this step.
func (s *State) GetNodeInFlow(n metric.NodeIndex) (float64, error) {
	if int(n) < 0 || int(n) >= len(s.NodeFlows) {
		return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	return s.NodeFlows[n].InFlow, nil
}

// GetNodeOutFlow returns node n's accumulated out-flow this step.
func (s *State) GetNodeOutFlow(n metric.NodeIndex) (float64, error) {
	if int(n) < 0 || int(n) >= len(s.NodeFlows) {
		return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	return s.NodeFlows[n].OutFlow, nil
}

// GetNodeVolume returns node n's current volume. Errs if n has never had
// a volume set (i.e. is not a Storage).
func (s *State) GetNodeVolume(n metric.NodeIndex) (float64, error) {
	if int(n) < 0 || int(n) >= len(s.NodeVolumes) {
		return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	v := s.NodeVolumes[n]
	if !v.HasVolume {
		return 0, apperror.Newf(apperror.CodeConstraintsUndefined, "node %d has no volume (not a Storage)", n)
	}
	return v.Volume, nil
}

// GetNodeProportionalVolume computes volume / max_volume_at_step_start.
// When the frozen max is zero, it returns 1.0 (a full empty reservoir) to
// avoid NaN propagation into control curves (spec §4.3).
func (s *State) GetNodeProportionalVolume(n metric.NodeIndex) (float64, error) {
	if int(n) < 0 || int(n) >= len(s.NodeVolumes) {
		return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	v := s.NodeVolumes[n]
	if !v.HasVolume {
		return 0, apperror.Newf(apperror.CodeConstraintsUndefined, "node %d has no volume (not a Storage)", n)
	}
	if v.MaxVolumeAtStepStart <= 0 {
		return 1.0, nil
	}
	return v.Volume / v.MaxVolumeAtStepStart, nil
}

// ClampVolume clamps node n's stored volume into [minVolume, maxVolume],
// returning a SeverityFatal mass-balance error if the deviation needed to
// clamp exceeds MassBalanceTolerance — this indicates the solver returned
// a solution incompatible with the physical constraints (spec §3, §7).
func (s *State) ClampVolume(n metric.NodeIndex, minVolume, maxVolume float64) error {
	if int(n) < 0 || int(n) >= len(s.NodeVolumes) {
		return apperror.Newf(apperror.CodeIndexOutOfRange, "node index %d out of range", n)
	}
	v := s.NodeVolumes[n].Volume
	deviation := 0.0
	clamped := v
	if v < minVolume {
		deviation = minVolume - v
		clamped = minVolume
	} else if v > maxVolume {
		deviation = v - maxVolume
		clamped = maxVolume
	}
	if deviation > MassBalanceTolerance {
		return apperror.Fatal(apperror.CodeMassBalance,
			fmt.Sprintf("node %d volume %.9f outside [%.9f, %.9f] by %.9f", n, v, minVolume, maxVolume, deviation))
	}
	s.NodeVolumes[n].Volume = clamped
	return nil
}

// AggregatedProportionalVolume computes the proportional volume of an
// aggregated node's underlying storages, summing volume and max_volume
// across the group. Returns 1.0 when the total max_volume is zero, for
// consistency with the scalar storage rule (spec §9 Open Question).
func AggregatedProportionalVolume(volumes, maxVolumes []float64) float64 {
	var totalVolume, totalMax float64
	for i := range volumes {
		totalVolume += volumes[i]
		totalMax += maxVolumes[i]
	}
	if totalMax <= 0 {
		return 1.0
	}
	return totalVolume / totalMax
}

// PushParameterFloat appends a float-valued parameter result and returns
// its ParameterIndex-relative slot.
func (s *State) PushParameterFloat(v float64) int {
	s.Parameters.Floats = append(s.Parameters.Floats, v)
	return len(s.Parameters.Floats) - 1
}

// PushParameterIndex appends an index-valued parameter result.
func (s *State) PushParameterIndex(v int64) int {
	s.Parameters.Indices = append(s.Parameters.Indices, v)
	return len(s.Parameters.Indices) - 1
}

// PushParameterMulti appends a multi-value parameter result.
func (s *State) PushParameterMulti(v metric.MultiValue) int {
	s.Parameters.Multis = append(s.Parameters.Multis, v)
	return len(s.Parameters.Multis) - 1
}

// GetParameterValue returns a previously-written scalar parameter value
// by its slot in the float vector.
func (s *State) GetParameterValue(slot int) (float64, error) {
	if slot < 0 || slot >= len(s.Parameters.Floats) {
		return 0, apperror.Newf(apperror.CodeNotInitialised, "parameter float slot %d not yet computed", slot)
	}
	return s.Parameters.Floats[slot], nil
}

// GetParameterIndexValue returns a previously-written index parameter
// value by its slot in the index vector.
func (s *State) GetParameterIndexValue(slot int) (int64, error) {
	if slot < 0 || slot >= len(s.Parameters.Indices) {
		return 0, apperror.Newf(apperror.CodeNotInitialised, "parameter index slot %d not yet computed", slot)
	}
	return s.Parameters.Indices[slot], nil
}

// GetParameterMulti returns a previously-written MultiValue parameter
// result by its slot in the multi vector.
func (s *State) GetParameterMulti(slot int) (metric.MultiValue, error) {
	if slot < 0 || slot >= len(s.Parameters.Multis) {
		return metric.MultiValue{}, apperror.Newf(apperror.CodeNotInitialised, "parameter multi slot %d not yet computed", slot)
	}
	return s.Parameters.Multis[slot], nil
}

// SetDerivedMetricValue writes a derived metric's value, computed after
// this step's solve; it becomes readable in the following time-step only
// (spec §3 DerivedMetric).
func (s *State) SetDerivedMetricValue(d metric.DerivedMetricIndex, v float64) error {
	if int(d) < 0 || int(d) >= len(s.DerivedMetrics) {
		return apperror.Newf(apperror.CodeIndexOutOfRange, "derived metric index %d out of range", d)
	}
	s.DerivedMetrics[d] = v
	s.derivedMetricSet[d] = true
	return nil
}

// GetDerivedMetricValue reads a derived metric's value as computed after
// the previous time-step's solve.
func (s *State) GetDerivedMetricValue(d metric.DerivedMetricIndex) (float64, error) {
	if int(d) < 0 || int(d) >= len(s.DerivedMetrics) {
		return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "derived metric index %d out of range", d)
	}
	if !s.derivedMetricSet[d] {
		return 0, apperror.Newf(apperror.CodeNotInitialised, "derived metric %d not yet computed", d)
	}
	return s.DerivedMetrics[d], nil
}

// NonFinite reports whether v is NaN or +/-Inf — used by the IPM to abort
// immediately on non-finite residuals (spec §4.5.4).
func NonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
