package network

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/pstate"
)

// ParameterLookup resolves a ParameterIndex to the State slot it was
// written into. The parameters package owns this mapping (a parameter may
// produce a float, an index, or a MultiValue); Network only needs it to
// resolve KindParameterValue/KindParameterIndexValue/KindMultiValueSub
// metrics without importing the parameters package, which would cycle.
type ParameterLookup interface {
	FloatSlot(p metric.ParameterIndex) (int, bool)
	IndexSlot(p metric.ParameterIndex) (int, bool)
	MultiSlot(p metric.ParameterIndex) (int, bool)
}

// Resolve evaluates a Metric against the network's structure and the
// current scenario State, returning a scalar. This is the single place
// every bound, cost, and parameter input is read through (spec §3).
func (n *Network) Resolve(m metric.Metric, s *pstate.State, params ParameterLookup) (float64, error) {
	switch m.Kind() {
	case metric.KindConstant:
		return m.ConstantValue(), nil

	case metric.KindNodeInFlow:
		return s.GetNodeInFlow(m.Node())

	case metric.KindNodeOutFlow:
		return s.GetNodeOutFlow(m.Node())

	case metric.KindNodeVolume:
		return s.GetNodeVolume(m.Node())

	case metric.KindNodeProportionalVolume:
		return s.GetNodeProportionalVolume(m.Node())

	case metric.KindAggregatedNodeInFlow:
		return n.aggregatedInFlow(m.AggregatedNode(), s)

	case metric.KindAggregatedNodeOutFlow:
		return n.aggregatedOutFlow(m.AggregatedNode(), s)

	case metric.KindAggregatedNodeProportionalVolume:
		return n.aggregatedProportionalVolume(m.AggregatedNode(), s)

	case metric.KindEdgeFlow:
		if int(m.Edge()) < 0 || int(m.Edge()) >= len(s.EdgeFlows) {
			return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "edge index %d out of range", m.Edge())
		}
		return s.EdgeFlows[m.Edge()], nil

	case metric.KindMultiEdgeFlow:
		var total float64
		for _, e := range m.Edges() {
			if int(e) < 0 || int(e) >= len(s.EdgeFlows) {
				return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "edge index %d out of range", e)
			}
			total += s.EdgeFlows[e]
		}
		return total, nil

	case metric.KindParameterValue:
		slot, ok := params.FloatSlot(m.Parameter())
		if !ok {
			return 0, apperror.Newf(apperror.CodeUnresolvedMetric, "parameter %d has no float result", m.Parameter())
		}
		return s.GetParameterValue(slot)

	case metric.KindParameterIndexValue:
		slot, ok := params.IndexSlot(m.Parameter())
		if !ok {
			return 0, apperror.Newf(apperror.CodeUnresolvedMetric, "parameter %d has no index result", m.Parameter())
		}
		v, err := s.GetParameterIndexValue(slot)
		return float64(v), err

	case metric.KindMultiValueSub:
		slot, ok := params.MultiSlot(m.Parameter())
		if !ok {
			return 0, apperror.Newf(apperror.CodeUnresolvedMetric, "parameter %d has no multi-value result", m.Parameter())
		}
		mv, err := s.GetParameterMulti(slot)
		if err != nil {
			return 0, err
		}
		v, ok := mv.Floats[m.SubValue()]
		if !ok {
			return 0, apperror.Newf(apperror.CodeUnresolvedMetric, "multi-value parameter %d has no sub-value %q", m.Parameter(), m.SubValue())
		}
		return v, nil

	case metric.KindVirtualStorageVolume:
		if int(m.VirtualStorage()) < 0 || int(m.VirtualStorage()) >= len(s.VirtualStorages) {
			return 0, apperror.Newf(apperror.CodeIndexOutOfRange, "virtual storage index %d out of range", m.VirtualStorage())
		}
		return s.VirtualStorages[m.VirtualStorage()].Volume, nil

	case metric.KindDerivedMetric:
		return s.GetDerivedMetricValue(m.DerivedMetric())

	default:
		return 0, apperror.Newf(apperror.CodeUnresolvedMetric, "unknown metric kind %d", m.Kind())
	}
}

func (n *Network) aggregatedInFlow(a metric.AggregatedNodeIndex, s *pstate.State) (float64, error) {
	if int(a) < 0 || int(a) >= len(n.aggregatedNodes) {
		return 0, apperror.Newf(apperror.CodeUnknownNode, "aggregated node index %d unknown", a)
	}
	var total float64
	for _, m := range n.aggregatedNodes[a].Members {
		v, err := s.GetNodeInFlow(m)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

func (n *Network) aggregatedOutFlow(a metric.AggregatedNodeIndex, s *pstate.State) (float64, error) {
	if int(a) < 0 || int(a) >= len(n.aggregatedNodes) {
		return 0, apperror.Newf(apperror.CodeUnknownNode, "aggregated node index %d unknown", a)
	}
	var total float64
	for _, m := range n.aggregatedNodes[a].Members {
		v, err := s.GetNodeOutFlow(m)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// aggregatedProportionalVolume collects volume/max_volume over an
// aggregated node's Storage members and combines them with
// pstate.AggregatedProportionalVolume (spec §9 Open Question: returns 1.0
// when the total max_volume is zero, matching the scalar storage rule).
// Non-Storage members contribute nothing — they carry no volume to sum.
func (n *Network) aggregatedProportionalVolume(a metric.AggregatedNodeIndex, s *pstate.State) (float64, error) {
	if int(a) < 0 || int(a) >= len(n.aggregatedNodes) {
		return 0, apperror.Newf(apperror.CodeUnknownNode, "aggregated node index %d unknown", a)
	}
	var volumes, maxVolumes []float64
	for _, m := range n.aggregatedNodes[a].Members {
		if n.nodes[m].Kind != KindStorage {
			continue
		}
		v, err := s.GetNodeVolume(m)
		if err != nil {
			return 0, err
		}
		volumes = append(volumes, v)
		maxVolumes = append(maxVolumes, s.NodeVolumes[m].MaxVolumeAtStepStart)
	}
	return pstate.AggregatedProportionalVolume(volumes, maxVolumes), nil
}

// VirtualStorageCost combines member storage costs according to the
// virtual storage's CostMode (spec §2).
func VirtualStorageCost(mode VirtualStorageCostMode, memberCosts []float64) float64 {
	if len(memberCosts) == 0 {
		return 0
	}
	switch mode {
	case VirtualStorageCostMax:
		max := memberCosts[0]
		for _, c := range memberCosts[1:] {
			if c > max {
				max = c
			}
		}
		return max
	case VirtualStorageCostMin:
		min := memberCosts[0]
		for _, c := range memberCosts[1:] {
			if c < min {
				min = c
			}
		}
		return min
	default: // VirtualStorageCostSum
		var sum float64
		for _, c := range memberCosts {
			sum += c
		}
		return sum
	}
}
