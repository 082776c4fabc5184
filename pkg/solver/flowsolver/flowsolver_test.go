package flowsolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/solver"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

func TestBackendSolvesSimpleChain(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	link, err := n.AddLink("channel", metric.Constant(6), metric.Constant(1))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.Connect(in, link)
	require.NoError(t, err)
	_, err = n.Connect(link, out)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	timings, err := b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, timings.Iterations, 1)

	inFlow, err := s.GetNodeInFlow(out)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, inFlow, epsilon, "flow is capped by the link's bound")
}

// TestBackendFillsStorage checks that a Storage node downstream of a
// cheap Input can actually accumulate volume within a single Solve: the
// fill/release bypass arcs around its in/out vertex pair must carry the
// surplus flow, since the vertex split alone would otherwise force
// in-flow to equal out-flow exactly every step. Min-cost max-flow first
// maximises total flow, so all 10 units of supply go into the fill
// bypass and the demand's 4 is served through the release bypass (14
// units in all, against 10 if the demand were fed through the in->out
// vertex path); the reservoir's inbound edge carries 10 and its outbound
// edge 4.
func TestBackendFillsStorage(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	res, err := n.AddStorage("reservoir", metric.Constant(0), metric.Constant(100), metric.Constant(20), metric.Constant(2))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(4), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.Connect(in, res)
	require.NoError(t, err)
	_, err = n.Connect(res, out)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	require.NoError(t, s.SetNodeVolume(res, 20))
	require.NoError(t, s.FreezeStepStartVolumeBounds(res, 0, 100))

	_, err = b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)

	inFlow, err := s.GetNodeInFlow(res)
	require.NoError(t, err)
	outFlow, err := s.GetNodeOutFlow(res)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, inFlow, epsilon, "supply fills the reservoir at its own bound")
	assert.InDelta(t, 4.0, outFlow, epsilon, "demand draws only what it needs")
	assert.Greater(t, inFlow, outFlow, "reservoir accumulates net volume this step")
}

func TestBackendRejectsAggregatedNodes(t *testing.T) {
	n := network.New()
	a, err := n.AddInput("a", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("grp", []metric.NodeIndex{a}, metric.Constant(0), metric.Constant(1), network.RelationshipNone, nil)
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
}

// TestBackendRejectsNonZeroMinFlow checks that a node min flow set via
// network.SetMinFlow is rejected at Setup rather than silently dropped:
// a min-cost max-flow residual graph has no lower-bound-on-an-arc
// primitive, so applying only MaxFlow here would leave property 3's
// min_flow half unenforced.
func TestBackendRejectsNonZeroMinFlow(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	require.NoError(t, n.SetMinFlow(out, metric.Constant(2)))
	_, err = n.Connect(in, out)
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeUnsupportedFeature, code)
}
