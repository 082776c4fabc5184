// Package analysis implements additive sweep utilities over a built
// engine.Model: parameter sensitivity, N-1 resilience, and Monte Carlo
// scenario sampling. None of these change core step-loop semantics; they
// re-run Model.Run repeatedly with a ConstantParameter's Value mutated
// between runs, the way the teacher's engine/sensitivity.go,
// resilience.go and monte_carlo.go sweep a running simulation without
// touching its solve loop.
package analysis

import (
	"github.com/google/uuid"

	"github.com/pywr-go/watersim/pkg/engine"
	"github.com/pywr-go/watersim/pkg/parameters"
	"github.com/pywr-go/watersim/pkg/pstate"
)

// Extractor reduces a completed run's per-scenario final states to a
// single scalar a sweep can tabulate (e.g. total cost, an Output node's
// cumulative in-flow).
type Extractor func(states map[int]*pstate.State) float64

// SensitivityConfig sweeps Target.Value across Values, re-running m for
// each and recording Extract's result. Target must be a ConstantParameter
// already registered in m.Params — sweeping a live parameter requires no
// network rebuild since Setup never bakes constant-scope values into a
// backend's fixed topology (spec §4.6).
type SensitivityConfig struct {
	Target  *parameters.ConstantParameter
	Values  []float64
	Extract Extractor
}

// SensitivityResult is one swept value's run outcome.
type SensitivityResult struct {
	Value  float64
	Output float64
}

// RunSensitivity sweeps cfg.Target.Value across cfg.Values in order,
// restoring its original value once the sweep completes.
func RunSensitivity(m *engine.Model, cfg SensitivityConfig) ([]SensitivityResult, error) {
	original := cfg.Target.Value
	defer func() { cfg.Target.Value = original }()

	results := make([]SensitivityResult, 0, len(cfg.Values))
	for _, v := range cfg.Values {
		cfg.Target.Value = v
		states, err := m.Run(uuid.NewString())
		if err != nil {
			return results, err
		}
		results = append(results, SensitivityResult{Value: v, Output: cfg.Extract(states)})
	}
	return results, nil
}
