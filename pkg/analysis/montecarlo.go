package analysis

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/pywr-go/watersim/pkg/engine"
	"github.com/pywr-go/watersim/pkg/parameters"
)

// MonteCarloTarget perturbs Param.Value with a normally distributed
// sample of the given Mean/StdDev on every trial.
type MonteCarloTarget struct {
	Param  *parameters.ConstantParameter
	Mean   float64
	StdDev float64
}

// MonteCarloConfig configures a repeated-solve scenario sample.
type MonteCarloConfig struct {
	Targets []MonteCarloTarget
	Trials  int
	Extract Extractor
	Seed    int64
}

// MonteCarloSummary aggregates a completed sample.
type MonteCarloSummary struct {
	Samples []float64
	Mean    float64
	P10     float64
	P50     float64
	P90     float64
}

// RunMonteCarlo draws cfg.Trials independent samples, perturbing every
// target's parameter each trial, re-running m, and collecting cfg.Extract's
// result into a percentile summary. Targets are restored to their
// original values once sampling completes.
func RunMonteCarlo(m *engine.Model, cfg MonteCarloConfig) (MonteCarloSummary, error) {
	originals := make([]float64, len(cfg.Targets))
	for i, tgt := range cfg.Targets {
		originals[i] = tgt.Param.Value
	}
	defer func() {
		for i, tgt := range cfg.Targets {
			tgt.Param.Value = originals[i]
		}
	}()

	rng := rand.New(rand.NewSource(cfg.Seed))
	samples := make([]float64, 0, cfg.Trials)
	for trial := 0; trial < cfg.Trials; trial++ {
		for _, tgt := range cfg.Targets {
			tgt.Param.Value = tgt.Mean + rng.NormFloat64()*tgt.StdDev
		}
		states, err := m.Run(uuid.NewString())
		if err != nil {
			return MonteCarloSummary{}, err
		}
		samples = append(samples, cfg.Extract(states))
	}

	return summarize(samples), nil
}

func summarize(samples []float64) MonteCarloSummary {
	if len(samples) == 0 {
		return MonteCarloSummary{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	percentile := func(p float64) float64 {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}

	return MonteCarloSummary{
		Samples: samples,
		Mean:    sum / float64(len(sorted)),
		P10:     percentile(0.10),
		P50:     percentile(0.50),
		P90:     percentile(0.90),
	}
}
