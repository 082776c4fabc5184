// Package econfig loads the simulation engine's own tunables — solver
// tolerances, lane count, worker concurrency, logging — from YAML plus
// environment overrides, the way the teacher's pkg/config layers koanf
// providers. This is configuration for the engine itself, not the
// out-of-scope model JSON schema.
package econfig

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "WATERSIM_"

// IPMConfig configures the sparse SIMD interior-point solver.
type IPMConfig struct {
	Lanes           int     `koanf:"lanes"`
	MaxIterations   int     `koanf:"max_iterations"`
	BarrierDecay    float64 `koanf:"barrier_decay"`
	PrimalTol       float64 `koanf:"primal_tolerance"`
	DualTol         float64 `koanf:"dual_tolerance"`
	OptimalityTol   float64 `koanf:"optimality_tolerance"`
	StepRatio       float64 `koanf:"step_ratio"`
}

// EngineConfig is the top-level engine configuration.
type EngineConfig struct {
	Concurrency ConcurrencyConfig `koanf:"concurrency"`
	IPM         IPMConfig         `koanf:"ipm"`
	Log         LogConfig         `koanf:"log"`
}

// ConcurrencyConfig controls how scenarios are scheduled across threads.
type ConcurrencyConfig struct {
	Mode       string `koanf:"mode"` // serial, parallel, multi_scenario
	MaxWorkers int    `koanf:"max_workers"`
}

// LogConfig mirrors obslog.Config's fields, adding koanf tags.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Output string `koanf:"output"`
}

// Default returns the engine's baked-in defaults, matching spec §4.5.1's
// tolerance defaults (1e-8) and L=4 lanes.
func Default() EngineConfig {
	return EngineConfig{
		Concurrency: ConcurrencyConfig{Mode: "parallel", MaxWorkers: 0},
		IPM: IPMConfig{
			Lanes:         4,
			MaxIterations: 200,
			BarrierDecay:  0.1,
			PrimalTol:     1e-8,
			DualTol:       1e-8,
			OptimalityTol: 1e-8,
			StepRatio:     0.9995,
		},
		Log: LogConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Loader loads EngineConfig from an ordered list of YAML files plus
// WATERSIM_-prefixed environment variables, following the teacher's
// confmap -> file -> env layering (later sources win).
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// Option configures a Loader.
type Option func(*Loader)

// WithConfigPaths overrides the list of candidate YAML config files.
func WithConfigPaths(paths ...string) Option {
	return func(l *Loader) { l.configPaths = paths }
}

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// NewLoader creates a Loader with sensible defaults.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:           koanf.New("."),
		configPaths: []string{"watersim.yaml", "config/watersim.yaml"},
		envPrefix:   envPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves the final EngineConfig: defaults, then the first existing
// YAML file in configPaths, then environment overrides.
func (l *Loader) Load() (EngineConfig, error) {
	defaults := Default()
	flat := map[string]any{
		"concurrency.mode":          defaults.Concurrency.Mode,
		"concurrency.max_workers":   defaults.Concurrency.MaxWorkers,
		"ipm.lanes":                 defaults.IPM.Lanes,
		"ipm.max_iterations":        defaults.IPM.MaxIterations,
		"ipm.barrier_decay":         defaults.IPM.BarrierDecay,
		"ipm.primal_tolerance":      defaults.IPM.PrimalTol,
		"ipm.dual_tolerance":        defaults.IPM.DualTol,
		"ipm.optimality_tolerance":  defaults.IPM.OptimalityTol,
		"ipm.step_ratio":            defaults.IPM.StepRatio,
		"log.level":                 defaults.Log.Level,
		"log.format":                defaults.Log.Format,
		"log.output":                defaults.Log.Output,
	}
	if err := l.k.Load(confmap.Provider(flat, "."), nil); err != nil {
		return EngineConfig{}, fmt.Errorf("econfig: loading defaults: %w", err)
	}

	for _, path := range l.configPaths {
		if err := l.k.Load(file.Provider(path), yaml.Parser()); err == nil {
			break
		}
	}

	err := l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, l.envPrefix)
		return strings.ReplaceAll(strings.ToLower(trimmed), "_", ".")
	}), nil)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("econfig: loading environment: %w", err)
	}

	var cfg EngineConfig
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("econfig: unmarshalling: %w", err)
	}
	return cfg, nil
}

// WorkerCount resolves the effective worker count for parallel scheduling.
func (c ConcurrencyConfig) WorkerCount(defaultCount int) int {
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	return defaultCount
}
