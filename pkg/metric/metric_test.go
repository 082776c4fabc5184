package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantMetricRoundTrips(t *testing.T) {
	m := Constant(4.2)
	assert.Equal(t, KindConstant, m.Kind())
	assert.Equal(t, 4.2, m.ConstantValue())
}

func TestNodeProportionalVolumeMetricCarriesNode(t *testing.T) {
	m := NodeProportionalVolume(NodeIndex(3))
	assert.Equal(t, KindNodeProportionalVolume, m.Kind())
	assert.Equal(t, NodeIndex(3), m.Node())
}

func TestAggregatedNodeProportionalVolumeMetricCarriesIndex(t *testing.T) {
	m := AggregatedNodeProportionalVolume(AggregatedNodeIndex(2))
	assert.Equal(t, KindAggregatedNodeProportionalVolume, m.Kind())
	assert.Equal(t, AggregatedNodeIndex(2), m.AggregatedNode())
}

func TestMultiEdgeFlowCopiesInputSlice(t *testing.T) {
	edges := []EdgeIndex{1, 2, 3}
	m := MultiEdgeFlow(edges)
	edges[0] = 99
	assert.Equal(t, EdgeIndex(1), m.Edges()[0], "MultiEdgeFlow must not alias the caller's slice")
}

func TestIsZeroOnUnconfiguredMetric(t *testing.T) {
	var m Metric
	assert.True(t, m.IsZero())
	assert.False(t, Constant(1).IsZero())
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "constant", ScopeConstant.String())
	assert.Equal(t, "simple", ScopeSimple.String())
	assert.Equal(t, "general", ScopeGeneral.String())
}
