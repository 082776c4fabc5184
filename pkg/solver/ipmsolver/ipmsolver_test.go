package ipmsolver

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

const epsilon = 1e-3

// simpleChain builds supply -> channel -> demand with a negative cost at
// the demand node: unlike flowsolver's pure max-flow formulation, the
// interior-point backend minimises total cost, so a demand needs a
// negative cost to represent the benefit of delivering to it (spec §8 S1
// "cost -10 on O0" is the same convention: Pywr networks express demand
// as negative cost, not as a max-flow target).
func simpleChain(t *testing.T) (*network.Network, metric.NodeIndex, metric.NodeIndex) {
	t.Helper()
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	link, err := n.AddLink("channel", metric.Constant(6), metric.Constant(1))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(10), metric.Constant(-10))
	require.NoError(t, err)
	_, err = n.Connect(in, link)
	require.NoError(t, err)
	_, err = n.Connect(link, out)
	require.NoError(t, err)
	return n, in, out
}

func TestBackendSolvesSimpleChain(t *testing.T) {
	n, _, out := simpleChain(t)

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

// TestBackendFillsStorage mirrors flowsolver's storage accumulation test
// against the interior-point backend: the fill/release bypass arcs
// around a Storage node's in/out vertex pair must carry its net volume
// change within a single Solve. The reservoir's positive cost makes
// fill strictly cheaper than leaving supply unused and the ordinary
// through-path strictly cheaper than the release bypass for meeting
// demand, and the demand's cost of -10 outweighs fill's gain of 2, so
// the LP's optimum is unique rather than solver-dependent.
func TestBackendFillsStorage(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	res, err := n.AddStorage("reservoir", metric.Constant(0), metric.Constant(100), metric.Constant(20), metric.Constant(2))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(4), metric.Constant(-10))
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

// TestAggregatedNodeOwnBound checks RelationshipNone: the aggregated
// node's own max flow caps the combined throughput of its members, and
// the LP still prefers whichever member carries the more negative cost
// within that shared cap.
func TestAggregatedNodeOwnBound(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(20), metric.Constant(0))
	require.NoError(t, err)
	l0, err := n.AddLink("l0", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	o0, err := n.AddOutput("o0", metric.Constant(10), metric.Constant(-10))
	require.NoError(t, err)
	o1, err := n.AddOutput("o1", metric.Constant(10), metric.Constant(-5))
	require.NoError(t, err)
	_, err = n.Connect(in, l0)
	require.NoError(t, err)
	_, err = n.Connect(in, l1)
	require.NoError(t, err)
	_, err = n.Connect(l0, o0)
	require.NoError(t, err)
	_, err = n.Connect(l1, o1)
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("grp", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(6), network.RelationshipNone, nil)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))
	assert.True(t, b.Features().Supports(solver.FeatureAggregatedNode))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	_, err = b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)

	f0, err := s.GetNodeInFlow(o0)
	require.NoError(t, err)
	f1, err := s.GetNodeInFlow(o1)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, f0+f1, epsilon, "aggregated bound caps combined flow")
	assert.InDelta(t, 6.0, f0, epsilon, "more negative cost at o0 takes priority within the shared bound")
}

// TestAggregatedNodeRatioFactors reproduces a ratio-factor scenario: two
// members pinned to a fixed 2:1 split regardless of which one the LP
// would otherwise prefer on cost alone.
func TestAggregatedNodeRatioFactors(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(150), metric.Constant(0))
	require.NoError(t, err)
	l0, err := n.AddLink("l0", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	o0, err := n.AddOutput("o0", metric.Constant(1000), metric.Constant(-10))
	require.NoError(t, err)
	o1, err := n.AddOutput("o1", metric.Constant(1000), metric.Constant(-10))
	require.NoError(t, err)
	_, err = n.Connect(in, l0)
	require.NoError(t, err)
	_, err = n.Connect(in, l1)
	require.NoError(t, err)
	_, err = n.Connect(l0, o0)
	require.NoError(t, err)
	_, err = n.Connect(l1, o1)
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("ratio", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsRatio, []metric.Metric{metric.Constant(2), metric.Constant(1)})
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	_, err = b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)

	f0, err := s.GetNodeInFlow(o0)
	require.NoError(t, err)
	f1, err := s.GetNodeInFlow(o1)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, f0, epsilon)
	assert.InDelta(t, 50.0, f1, epsilon)
}

// TestAggregatedNodeRatioFactorsRejectsNegative checks that a negative
// ratio factor is rejected at Setup (spec §2 "Negative factors are an
// error") rather than silently assembling a wrong equality row.
func TestAggregatedNodeRatioFactorsRejectsNegative(t *testing.T) {
	n := network.New()
	l0, err := n.AddLink("l0", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("ratio", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsRatio, []metric.Metric{metric.Constant(-2), metric.Constant(1)})
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNegativeFactor, code)
}

// TestAggregatedNodeProportionFactors exercises RelationshipFactorsProportion:
// groups 1..n-1 carry explicit shares and group 0's share is implied
// (1 minus their sum), splitting the aggregate's combined flow
// accordingly regardless of member cost.
func TestAggregatedNodeProportionFactors(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(100), metric.Constant(0))
	require.NoError(t, err)
	l0, err := n.AddLink("l0", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(1000), metric.Constant(0))
	require.NoError(t, err)
	o0, err := n.AddOutput("o0", metric.Constant(1000), metric.Constant(-10))
	require.NoError(t, err)
	o1, err := n.AddOutput("o1", metric.Constant(1000), metric.Constant(-10))
	require.NoError(t, err)
	_, err = n.Connect(in, l0)
	require.NoError(t, err)
	_, err = n.Connect(in, l1)
	require.NoError(t, err)
	_, err = n.Connect(l0, o0)
	require.NoError(t, err)
	_, err = n.Connect(l1, o1)
	require.NoError(t, err)
	// Factors[0] is unused (group 0's share is implied); group 1 takes 0.3.
	_, err = n.AddAggregatedNode("proportion", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsProportion, []metric.Metric{metric.Constant(0), metric.Constant(0.3)})
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	_, err = b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)

	f0, err := s.GetNodeInFlow(o0)
	require.NoError(t, err)
	f1, err := s.GetNodeInFlow(o1)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, f0, epsilon, "group 0's implied share is 1-0.3=0.7 of the 100 unit supply")
	assert.InDelta(t, 30.0, f1, epsilon, "group 1's explicit share is 0.3")
}

// TestAggregatedNodeProportionFactorsRejectsNegativeShare checks that a
// negative explicit share is rejected the same way a negative ratio
// factor is.
func TestAggregatedNodeProportionFactorsRejectsNegativeShare(t *testing.T) {
	n := network.New()
	l0, err := n.AddLink("l0", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("proportion", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsProportion, []metric.Metric{metric.Constant(0), metric.Constant(-0.1)})
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNegativeFactor, code)
}

// TestAggregatedNodeProportionFactorsRejectsShareOutOfRange checks that
// explicit shares summing to >= 1 (leaving no positive implied share for
// group 0) are rejected (spec §2 "must lie in (0,1]").
func TestAggregatedNodeProportionFactorsRejectsShareOutOfRange(t *testing.T) {
	n := network.New()
	l0, err := n.AddLink("l0", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l2, err := n.AddLink("l2", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("proportion", []metric.NodeIndex{l0, l1, l2}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsProportion, []metric.Metric{metric.Constant(0), metric.Constant(0.6), metric.Constant(0.5)})
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
	code, ok := apperror.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDataOutOfRange, code)
}

// TestBackendEnforcesNodeMinFlow checks that a node's MinFlow bound
// (reachable now via network.SetMinFlow) is a genuine lower bound on the
// LP's solution, not just an upper-bound cap (spec §8 property 3).
func TestBackendEnforcesNodeMinFlow(t *testing.T) {
	n := network.New()
	in, err := n.AddInput("supply", metric.Constant(100), metric.Constant(0))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(100), metric.Constant(0))
	require.NoError(t, err)
	require.NoError(t, n.SetMinFlow(out, metric.Constant(5)))
	_, err = n.Connect(in, out)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	s := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 0, 0)
	_, err = b.Solve(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour}, s, nil)
	require.NoError(t, err)

	flow, err := s.GetNodeInFlow(out)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, flow, 5.0-epsilon, "zero cost makes any flow from min_flow up to the bound optimal, so only the lower bound is checked")
}

func TestBackendRejectsMutualExclusivity(t *testing.T) {
	n := network.New()
	a, err := n.AddInput("a", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)
	c, err := n.AddInput("c", metric.Constant(1), metric.Constant(0))
	require.NoError(t, err)
	idx, err := n.AddAggregatedNode("grp", []metric.NodeIndex{a, c}, metric.Constant(0), metric.Constant(1), network.RelationshipExclusive, nil)
	require.NoError(t, err)
	require.NoError(t, n.SetExclusivity(idx, 0, 1))

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
}

// TestBackendRejectsNonConstantFactors checks that a Ratio/Proportion
// factor driven by a parameter (so it can change step to step) is
// rejected at Setup rather than silently frozen into the fixed topology.
func TestBackendRejectsNonConstantFactors(t *testing.T) {
	n := network.New()
	pidx := n.NextParameterIndex()
	l0, err := n.AddLink("l0", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	l1, err := n.AddLink("l1", metric.Constant(10), metric.Constant(0))
	require.NoError(t, err)
	_, err = n.AddAggregatedNode("grp", []metric.NodeIndex{l0, l1}, metric.Constant(0), metric.Constant(0),
		network.RelationshipFactorsRatio, []metric.Metric{metric.ParameterValue(pidx), metric.Constant(1)})
	require.NoError(t, err)

	b := New()
	err = b.Setup(n, solver.SolverSettings{})
	require.Error(t, err)
}

// fixedFloatLookup answers every FloatSlot query with the same slot,
// enough to drive a parameter-backed bound through network.Resolve
// without pulling in the full parameters.Set machinery.
type fixedFloatLookup struct{ slot int }

func (f fixedFloatLookup) FloatSlot(metric.ParameterIndex) (int, bool) { return f.slot, true }
func (f fixedFloatLookup) IndexSlot(metric.ParameterIndex) (int, bool) { return 0, false }
func (f fixedFloatLookup) MultiSlot(metric.ParameterIndex) (int, bool) { return 0, false }

// TestSolveBatchHeterogeneousScenarios runs two independent scenario
// States through the same lock-step batch, each with a different
// parameter-driven supply bound, and checks each lane recovers its own
// optimum (spec §4.5 lock-step batching across scenarios, not just
// within one LP's lanes).
func TestSolveBatchHeterogeneousScenarios(t *testing.T) {
	n := network.New()
	boundParam := n.NextParameterIndex()
	in, err := n.AddInput("supply", metric.ParameterValue(boundParam), metric.Constant(0))
	require.NoError(t, err)
	out, err := n.AddOutput("demand", metric.Constant(100), metric.Constant(-10))
	require.NoError(t, err)
	_, err = n.Connect(in, out)
	require.NoError(t, err)

	b := New()
	require.NoError(t, b.Setup(n, solver.SolverSettings{}))

	lookup := fixedFloatLookup{slot: 0}

	s1 := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 1, 0)
	s1.PushParameterFloat(7)
	s2 := pstate.New(n.NodeCount(), n.EdgeCount(), 0, 0, 1, 0)
	s2.PushParameterFloat(15)

	timings, err := b.SolveBatch(n, timedomain.Timestep{Date: time.Now(), Index: 0, Duration: 24 * time.Hour},
		[]*pstate.State{s1, s2}, []network.ParameterLookup{lookup, lookup})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, timings.Iterations, 1)

	in1, err := s1.GetNodeOutFlow(in)
	require.NoError(t, err)
	assert.InDelta(t, 7.0, in1, epsilon)

	in2, err := s2.GetNodeOutFlow(in)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, in2, epsilon)

	_ = out
}
