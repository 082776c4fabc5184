package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/obslog"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/solver"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// storageNodes returns every Storage node's index, in network order.
func storageNodes(net *network.Network) []metric.NodeIndex {
	var out []metric.NodeIndex
	for i := 0; i < net.NodeCount(); i++ {
		if net.Node(metric.NodeIndex(i)).Kind == network.KindStorage {
			out = append(out, metric.NodeIndex(i))
		}
	}
	return out
}

// Run drives every scenario in m.Scenarios through every time-step of
// m.Timestepper, per spec §2's five-phase step loop and §5's concurrency
// model (each scenario owns its State; the Network is shared read-only).
// The scheduling strategy is selected by m.Config.Mode. It returns the
// final State of every scenario, keyed by ScenarioIndex.GlobalIndex.
func (m *Model) Run(runID string) (map[int]*pstate.State, error) {
	steps := m.Timestepper.Expand()
	log := obslog.WithRunID(runID)
	log.Info("simulation starting", "steps", len(steps), "scenarios", m.Scenarios.Len(), "mode", modeName(m.Config.Mode))

	switch m.Config.Mode {
	case ExecutionMultiScenario:
		return m.runMultiScenario(steps, log)
	case ExecutionThreadPool:
		return m.runPool(steps, log)
	default:
		return m.runSerial(steps, log)
	}
}

func modeName(mode ExecutionMode) string {
	switch mode {
	case ExecutionThreadPool:
		return "thread_pool"
	case ExecutionMultiScenario:
		return "multi_scenario"
	default:
		return "serial"
	}
}

func (m *Model) runSerial(steps []timedomain.Timestep, log *slog.Logger) (map[int]*pstate.State, error) {
	results := make(map[int]*pstate.State, m.Scenarios.Len())
	for _, idx := range m.Scenarios.Indices {
		run, err := newScenarioRun(m.Net, m.Params, m.metricSets, steps, idx)
		if err != nil {
			return nil, err
		}
		if err := m.runOneScenario(run, steps, log); err != nil {
			return nil, err
		}
		results[idx.GlobalIndex] = run.State
	}
	return results, nil
}

// runPool solves scenarios concurrently, one goroutine per in-flight
// scenario up to Config.MaxWorkers (spec §4.6, §5 "coarse-grained
// parallel threads, one scenario per thread").
func (m *Model) runPool(steps []timedomain.Timestep, log *slog.Logger) (map[int]*pstate.State, error) {
	workers := m.Config.MaxWorkers
	if workers <= 0 {
		workers = len(m.Scenarios.Indices)
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan timedomain.ScenarioIndex, len(m.Scenarios.Indices))
	for _, idx := range m.Scenarios.Indices {
		jobs <- idx
	}
	close(jobs)

	results := make(map[int]*pstate.State, m.Scenarios.Len())
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				run, err := newScenarioRun(m.Net, m.Params, m.metricSets, steps, idx)
				if err == nil {
					err = m.runOneScenario(run, steps, log)
				}
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					results[idx.GlobalIndex] = run.State
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// runMultiScenario batches scenarios into laneWidth()-sized chunks and
// drives each chunk through the batch backend in lock-step, one goroutine
// per chunk (spec §4.6 "the multi-scenario solver advances L scenarios
// together every step"). Within a chunk every lane shares the same
// Before/Parameter-evaluation/Solve/After cadence; lanes never block on
// each other outside of the shared SolveBatch call.
func (m *Model) runMultiScenario(steps []timedomain.Timestep, log *slog.Logger) (map[int]*pstate.State, error) {
	lanes := m.laneWidth()
	if lanes < 1 {
		lanes = 1
	}

	var chunks [][]timedomain.ScenarioIndex
	for offset := 0; offset < len(m.Scenarios.Indices); offset += lanes {
		end := offset + lanes
		if end > len(m.Scenarios.Indices) {
			end = len(m.Scenarios.Indices)
		}
		chunks = append(chunks, m.Scenarios.Indices[offset:end])
	}

	results := make(map[int]*pstate.State, m.Scenarios.Len())
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup

	for _, chunk := range chunks {
		wg.Add(1)
		go func(chunk []timedomain.ScenarioIndex) {
			defer wg.Done()
			runs := make([]*scenarioRun, len(chunk))
			for i, idx := range chunk {
				run, err := newScenarioRun(m.Net, m.Params, m.metricSets, steps, idx)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				runs[i] = run
			}

			if err := m.runLaneChunk(runs, steps); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			for _, run := range runs {
				results[run.Index.GlobalIndex] = run.State
			}
			mu.Unlock()
		}(chunk)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	log.Debug("multi-scenario run complete", "chunks", len(chunks), "lanes", lanes)
	return results, nil
}

// runLaneChunk drives one lane-width group of scenarioRuns through every
// time-step: each lane runs its own Before/general-parameter phases, then
// every lane's bounds are solved together in a single SolveBatch call,
// then each lane runs its own After phase.
func (m *Model) runLaneChunk(runs []*scenarioRun, steps []timedomain.Timestep) error {
	states := make([]*pstate.State, len(runs))
	lookups := make([]network.ParameterLookup, len(runs))
	for i, run := range runs {
		states[i] = run.State
		lookups[i] = m.Params
	}

	for _, t := range steps {
		for _, run := range runs {
			if err := m.stepBefore(run, t); err != nil {
				return err
			}
			if err := m.Params.EvaluateGeneral(run.pvals, run.State, t, run.Index); err != nil {
				return err
			}
		}

		start := time.Now()
		timings, err := m.batchBackend.SolveBatch(m.Net, t, states, lookups)
		if err != nil {
			m.observeFailure(err)
			return err
		}
		m.observeSolve(timings, time.Since(start))

		for _, run := range runs {
			if err := m.stepAfter(run, t); err != nil {
				return err
			}
		}
	}
	for _, run := range runs {
		if err := m.finaliseMetricSets(run); err != nil {
			return err
		}
	}
	return nil
}

// runOneScenario drives a single scenarioRun through every time-step,
// serially (spec §5 "within a scenario, evaluation is strictly
// sequential": a parameter's compute completes before the next runs).
func (m *Model) runOneScenario(run *scenarioRun, steps []timedomain.Timestep, log *slog.Logger) error {
	for _, t := range steps {
		if err := m.stepBefore(run, t); err != nil {
			return err
		}
		if err := m.Params.EvaluateGeneral(run.pvals, run.State, t, run.Index); err != nil {
			return err
		}
		start := time.Now()
		timings, err := m.singleBackend.Solve(m.Net, t, run.State, m.Params)
		if err != nil {
			m.observeFailure(err)
			return err
		}
		m.observeSolve(timings, time.Since(start))
		if err := m.stepAfter(run, t); err != nil {
			return err
		}
	}
	if err := m.finaliseMetricSets(run); err != nil {
		return err
	}
	log.Debug("scenario complete", "scenario_index", run.Index.GlobalIndex)
	return nil
}

func (m *Model) observeSolve(timings solver.SolverTimings, elapsed time.Duration) {
	if m.Collector == nil {
		return
	}
	m.Collector.ObserveSolve(m.Config.BackendName, elapsed.Seconds(), timings.Iterations)
	if timings.ConvergedLanes > 0 {
		m.Collector.ObserveConvergedLanes(m.Config.BackendName, timings.ConvergedLanes)
	}
}

func (m *Model) observeFailure(err error) {
	if m.Collector == nil {
		return
	}
	reason := "error"
	if code, ok := apperror.CodeOf(err); ok {
		reason = string(code)
	}
	m.Collector.ObserveFailure(m.Config.BackendName, reason)
}

// stepBefore implements spec §2 phase 1 ("Before"): reset per-step
// accumulators, evaluate constant/simple-scope parameters, and freeze
// every Storage/VirtualStorage's step-start volume bounds so proportional
// volume stays stable regardless of later parameter updates this step
// (spec §3, §4.3).
func (m *Model) stepBefore(run *scenarioRun, t timedomain.Timestep) error {
	run.State.ResetForStep()

	if err := m.Params.EvaluateSimple(run.pvals, run.State, t, run.Index); err != nil {
		return err
	}

	for i := 0; i < m.Net.NodeCount(); i++ {
		n := metric.NodeIndex(i)
		node := m.Net.Node(n)
		if node.Kind != network.KindStorage {
			continue
		}
		minV, err := m.Net.Resolve(node.MinVolume, run.State, m.Params)
		if err != nil {
			return err
		}
		maxV, err := m.Net.Resolve(node.MaxVolume, run.State, m.Params)
		if err != nil {
			return err
		}
		if err := run.State.FreezeStepStartVolumeBounds(n, minV, maxV); err != nil {
			return err
		}
	}

	for i := 0; i < m.Net.VirtualStorageCount(); i++ {
		vs := m.Net.VirtualStorage(metric.VirtualStorageIndex(i))
		minV, err := m.Net.Resolve(vs.MinVolume, run.State, m.Params)
		if err != nil {
			return err
		}
		maxV, err := m.Net.Resolve(vs.MaxVolume, run.State, m.Params)
		if err != nil {
			return err
		}
		run.State.VirtualStorages[i].MinVolumeAtStepStart = minV
		run.State.VirtualStorages[i].MaxVolumeAtStepStart = maxV
	}

	return nil
}

// nodeThroughFlow returns the single flow value that represents how much
// passed through a node this step, regardless of which edge direction it
// carries: an Output node has no outgoing edges by invariant, so its
// in-flow is what was delivered to it; every other kind reports its
// out-flow. Used to debit a VirtualStorage by a member's usage whether
// that member is an abstraction point (Input/Link) or a demand (Output).
func (m *Model) nodeThroughFlow(n metric.NodeIndex, st *pstate.State) (float64, error) {
	if m.Net.Node(n).Kind == network.KindOutput {
		return st.GetNodeInFlow(n)
	}
	return st.GetNodeOutFlow(n)
}

// stepAfter implements spec §2 phase 5 ("After"): apply the solved flows
// to storage/virtual-storage volumes, clamp, compute derived metrics, and
// run parameter after-hooks, all in that order (spec §5 ordering
// guarantees).
//
// Virtual storage debiting uses each member node's through-flow (see
// nodeThroughFlow) weighted by its Factor as the licence "usage" rate —
// the natural reading of spec §2's "accounted against a virtual
// volume... used to model licences".
func (m *Model) stepAfter(run *scenarioRun, t timedomain.Timestep) error {
	dt := t.DaysFraction()
	st := run.State

	for _, n := range storageNodes(m.Net) {
		inFlow, err := st.GetNodeInFlow(n)
		if err != nil {
			return err
		}
		outFlow, err := st.GetNodeOutFlow(n)
		if err != nil {
			return err
		}
		current, err := st.GetNodeVolume(n)
		if err != nil {
			return err
		}
		newVolume := current + (inFlow-outFlow)*dt
		if err := st.SetNodeVolume(n, newVolume); err != nil {
			return err
		}
		bounds := st.NodeVolumes[n]
		if err := st.ClampVolume(n, bounds.MinVolumeAtStepStart, bounds.MaxVolumeAtStepStart); err != nil {
			return err
		}
	}

	for i := 0; i < m.Net.VirtualStorageCount(); i++ {
		vs := m.Net.VirtualStorage(metric.VirtualStorageIndex(i))
		var usage float64
		for mi, nodeIdx := range vs.Nodes {
			flow, err := m.nodeThroughFlow(nodeIdx, st)
			if err != nil {
				return err
			}
			usage += flow * vs.Factors[mi]
		}
		v := &st.VirtualStorages[i]
		v.Volume -= usage * dt
		deviation := 0.0
		if v.Volume < v.MinVolumeAtStepStart {
			deviation = v.MinVolumeAtStepStart - v.Volume
		} else if v.Volume > v.MaxVolumeAtStepStart {
			deviation = v.Volume - v.MaxVolumeAtStepStart
		}
		if deviation > pstate.MassBalanceTolerance {
			return apperror.Fatal(apperror.CodeMassBalance, fmt.Sprintf("virtual storage %q volume %.9f outside [%.9f, %.9f]", vs.Name, v.Volume, v.MinVolumeAtStepStart, v.MaxVolumeAtStepStart))
		}
		if v.Volume < v.MinVolumeAtStepStart {
			v.Volume = v.MinVolumeAtStepStart
		} else if v.Volume > v.MaxVolumeAtStepStart {
			v.Volume = v.MaxVolumeAtStepStart
		}
	}

	for i := 0; i < m.Net.DerivedMetricCount(); i++ {
		dm := m.Net.DerivedMetric(metric.DerivedMetricIndex(i))
		v, err := m.Net.Resolve(dm.Source, st, m.Params)
		if err != nil {
			return err
		}
		if err := st.SetDerivedMetricValue(metric.DerivedMetricIndex(i), v); err != nil {
			return err
		}
	}

	if err := m.recordMetricSets(run, t); err != nil {
		return err
	}

	return m.Params.AfterStep(run.pvals, st, t)
}
