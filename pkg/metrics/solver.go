// Package metrics exposes Prometheus collectors for the solver layer,
// following the shape of the teacher's RuntimeCollector: a custom
// prometheus.Collector built from Desc values rather than a package of
// global counters, so a caller can register several independent engines
// (e.g. under different namespaces) without metric collisions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SolverCollector reports per-solve timing and convergence metrics.
// Callers feed it observations via ObserveSolve, ObserveConvergedLanes
// and ObserveFailure; it implements
// prometheus.Collector so it can be registered with any registry.
type SolverCollector struct {
	solveSeconds   *prometheus.HistogramVec
	iterations     *prometheus.HistogramVec
	convergedLanes *prometheus.GaugeVec
	failures       *prometheus.CounterVec
}

// NewSolverCollector creates a collector under namespace/subsystem.
func NewSolverCollector(namespace, subsystem string) *SolverCollector {
	return &SolverCollector{
		solveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solve_duration_seconds",
			Help:      "Wall-clock duration of a single scenario solve.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solve_iterations",
			Help:      "Number of iterations (augmenting paths or IPM steps) per solve.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 200, 500},
		}, []string{"backend"}),
		convergedLanes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ipm_converged_lanes",
			Help:      "Number of SIMD lanes that had converged at IPM exit.",
		}, []string{"backend"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solve_failures_total",
			Help:      "Count of solves that ended in infeasible/non-convergent/error status.",
		}, []string{"backend", "reason"}),
	}
}

// Describe implements prometheus.Collector.
func (c *SolverCollector) Describe(ch chan<- *prometheus.Desc) {
	c.solveSeconds.Describe(ch)
	c.iterations.Describe(ch)
	c.convergedLanes.Describe(ch)
	c.failures.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *SolverCollector) Collect(ch chan<- prometheus.Metric) {
	c.solveSeconds.Collect(ch)
	c.iterations.Collect(ch)
	c.convergedLanes.Collect(ch)
	c.failures.Collect(ch)
}

// ObserveSolve records the outcome of one scenario solve.
func (c *SolverCollector) ObserveSolve(backend string, seconds float64, iterations int) {
	c.solveSeconds.WithLabelValues(backend).Observe(seconds)
	c.iterations.WithLabelValues(backend).Observe(float64(iterations))
}

// ObserveConvergedLanes records how many IPM lanes converged in a batch.
func (c *SolverCollector) ObserveConvergedLanes(backend string, lanes int) {
	c.convergedLanes.WithLabelValues(backend).Set(float64(lanes))
}

// ObserveFailure increments the failure counter for backend/reason.
func (c *SolverCollector) ObserveFailure(backend, reason string) {
	c.failures.WithLabelValues(backend, reason).Inc()
}
