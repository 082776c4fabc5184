package econfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenNoFileOrEnvPresent(t *testing.T) {
	l := NewLoader(WithConfigPaths("does-not-exist.yaml"), WithEnvPrefix("WATERSIM_TEST_UNSET_"))
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watersim.yaml")
	writeFile(t, path, "concurrency:\n  mode: multi_scenario\n  max_workers: 8\nipm:\n  lanes: 8\n  primal_tolerance: 1e-6\n")

	cfg, err := NewLoader(WithConfigPaths(path), WithEnvPrefix("WATERSIM_TEST_UNSET_")).Load()
	require.NoError(t, err)
	assert.Equal(t, "multi_scenario", cfg.Concurrency.Mode)
	assert.Equal(t, 8, cfg.Concurrency.MaxWorkers)
	assert.Equal(t, 8, cfg.IPM.Lanes)
	assert.Equal(t, 1e-6, cfg.IPM.PrimalTol)
	// Values not present in the file keep their defaults.
	assert.Equal(t, Default().IPM.DualTol, cfg.IPM.DualTol)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watersim.yaml")
	writeFile(t, path, "concurrency:\n  mode: serial\n")

	t.Setenv("WATERSIM_CONCURRENCY_MODE", "parallel")
	cfg, err := NewLoader(WithConfigPaths(path)).Load()
	require.NoError(t, err)
	assert.Equal(t, "parallel", cfg.Concurrency.Mode, "environment wins over the file, matching the teacher's layering order")
}

func TestConcurrencyConfigWorkerCount(t *testing.T) {
	assert.Equal(t, 4, ConcurrencyConfig{MaxWorkers: 4}.WorkerCount(99))
	assert.Equal(t, 99, ConcurrencyConfig{MaxWorkers: 0}.WorkerCount(99))
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
