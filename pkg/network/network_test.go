package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/pstate"
)

func buildSimpleNetwork(t *testing.T) (*Network, metric.NodeIndex, metric.NodeIndex, metric.NodeIndex) {
	t.Helper()
	n := New()

	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)

	link, err := n.AddLink("channel", metric.Constant(10), metric.Constant(1))
	require.NoError(t, err)

	out, err := n.AddOutput("demand", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)

	_, err = n.Connect(in, link)
	require.NoError(t, err)
	_, err = n.Connect(link, out)
	require.NoError(t, err)

	return n, in, link, out
}

func TestNetworkBuildAndConnect(t *testing.T) {
	n, in, link, out := buildSimpleNetwork(t)

	assert.Equal(t, 3, n.NodeCount())
	assert.Equal(t, 2, n.EdgeCount())
	assert.Len(t, n.OutEdges(in), 1)
	assert.Len(t, n.InEdges(out), 1)
	assert.Equal(t, KindLink, n.Node(link).Kind)
	require.NoError(t, n.Validate())
}

func TestDuplicateNodeRejected(t *testing.T) {
	n := New()
	_, err := n.AddInput("a", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)

	_, err = n.AddOutput("a", metric.Constant(1), metric.Constant(0))
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicateNode, code)
}

func TestConnectIntoInputRejected(t *testing.T) {
	n := New()
	a, err := n.AddInput("a", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)
	b, err := n.AddInput("b", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)

	_, err = n.Connect(a, b)
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeInvalidConnection, code)
}

func TestConnectOutOfOutputRejected(t *testing.T) {
	n := New()
	a, err := n.AddOutput("a", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)
	b, err := n.AddOutput("b", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)

	_, err = n.Connect(a, b)
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeInvalidConnection, code)
}

func TestAggregatedNodeEmptyRejected(t *testing.T) {
	n := New()
	_, err := n.AddAggregatedNode("grp", nil, metric.Constant(0), metric.Constant(10), RelationshipNone, nil)
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeEmptyNodeGroup, code)
}

func TestVirtualStorageRejectsDoubleClaim(t *testing.T) {
	n := New()
	s1, err := n.AddLink("abstraction1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)

	_, err = n.AddVirtualStorage("vs1", []metric.NodeIndex{s1}, []float64{1}, metric.Constant(0), metric.Constant(100), metric.Constant(50), metric.Constant(0), VirtualStorageCostSum)
	require.NoError(t, err)

	_, err = n.AddVirtualStorage("vs2", []metric.NodeIndex{s1}, []float64{1}, metric.Constant(0), metric.Constant(100), metric.Constant(50), metric.Constant(0), VirtualStorageCostSum)
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeStorageInVirtual, code)
}

func TestValidateCatchesFlowBoundsOnStorage(t *testing.T) {
	n := New()
	_, err := n.addNode(Node{
		Name: "bad", Kind: KindStorage,
		MinFlow: metric.Constant(1),
	})
	require.NoError(t, err)

	err = n.Validate()
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeConstraintsUndefined, code)
}

func TestSetMinFlow(t *testing.T) {
	n := New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)

	require.NoError(t, n.SetMinFlow(in, metric.Constant(2)))
	assert.Equal(t, 2.0, n.Node(in).MinFlow.ConstantValue())
}

func TestSetMinFlowRejectsStorage(t *testing.T) {
	n := New()
	res, err := n.AddStorage("reservoir", metric.Constant(0), metric.Constant(100), metric.Constant(0), metric.Constant(0))
	require.NoError(t, err)

	err = n.SetMinFlow(res, metric.Constant(2))
	require.Error(t, err)
	code, _ := apperror.CodeOf(err)
	assert.Equal(t, apperror.CodeConstraintsUndefined, code)
}

func TestHalfEdgeCost(t *testing.T) {
	assert.Equal(t, 2.5, HalfEdgeCost(5))
}

func TestVirtualStorageCostModes(t *testing.T) {
	costs := []float64{1, 5, 3}
	assert.Equal(t, 9.0, VirtualStorageCost(VirtualStorageCostSum, costs))
	assert.Equal(t, 5.0, VirtualStorageCost(VirtualStorageCostMax, costs))
	assert.Equal(t, 1.0, VirtualStorageCost(VirtualStorageCostMin, costs))
}

func TestResolveNodeProportionalVolume(t *testing.T) {
	n := New()
	res, err := n.AddStorage("reservoir", metric.Constant(0), metric.Constant(50), metric.Constant(0), metric.Constant(0))
	require.NoError(t, err)

	s := pstate.New(1, 0, 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(res, 25))
	require.NoError(t, s.FreezeStepStartVolumeBounds(res, 0, 50))

	v, err := n.Resolve(metric.NodeProportionalVolume(res), s, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestResolveNodeProportionalVolumeZeroMaxReturnsOne(t *testing.T) {
	n := New()
	res, err := n.AddStorage("reservoir", metric.Constant(0), metric.Constant(0), metric.Constant(0), metric.Constant(0))
	require.NoError(t, err)

	s := pstate.New(1, 0, 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(res, 0))
	require.NoError(t, s.FreezeStepStartVolumeBounds(res, 0, 0))

	v, err := n.Resolve(metric.NodeProportionalVolume(res), s, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v, "zero max_volume returns a full empty reservoir (spec §4.3)")
}

func TestResolveAggregatedNodeProportionalVolume(t *testing.T) {
	n := New()
	a, err := n.AddStorage("a", metric.Constant(0), metric.Constant(100), metric.Constant(0), metric.Constant(0))
	require.NoError(t, err)
	b, err := n.AddStorage("b", metric.Constant(0), metric.Constant(100), metric.Constant(0), metric.Constant(0))
	require.NoError(t, err)
	agg, err := n.AddAggregatedNode("licence-group", []metric.NodeIndex{a, b}, metric.Constant(0), metric.Constant(0), RelationshipNone, nil)
	require.NoError(t, err)

	s := pstate.New(2, 0, 1, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(a, 40))
	require.NoError(t, s.FreezeStepStartVolumeBounds(a, 0, 100))
	require.NoError(t, s.SetNodeVolume(b, 60))
	require.NoError(t, s.FreezeStepStartVolumeBounds(b, 0, 100))

	v, err := n.Resolve(metric.AggregatedNodeProportionalVolume(agg), s, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v, "(40+60)/(100+100)")
}
