package timedomain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestepperExpandProducesFixedDurationSteps(t *testing.T) {
	ts := NewTimestepper(
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		24*time.Hour,
	)
	steps := ts.Expand()
	require.Len(t, steps, 5)
	assert.Equal(t, ts.Len(), len(steps))

	for i, step := range steps {
		assert.Equal(t, i, step.Index, "index assignment depends only on position (spec §8 property 1)")
		assert.Equal(t, 24*time.Hour, step.Duration)
	}
	assert.True(t, steps[0].IsFirst())
	assert.False(t, steps[1].IsFirst())
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), steps[4].Date)
}

func TestTimestepperRejectsInvertedRange(t *testing.T) {
	ts := NewTimestepper(
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		24*time.Hour,
	)
	assert.Nil(t, ts.Expand())
	assert.Equal(t, 0, ts.Len())
}

func TestDaysFractionSubDaily(t *testing.T) {
	step := Timestep{Duration: 6 * time.Hour}
	assert.InDelta(t, 0.25, step.DaysFraction(), 1e-12)
}

func TestScenarioGroupCollectionRejectsNonPositiveSize(t *testing.T) {
	_, err := NewScenarioGroupCollection(ScenarioGroup{Name: "climate", Size: 0})
	require.Error(t, err)
}

func TestScenarioDomainEnumeratesCartesianProductRowMajor(t *testing.T) {
	groups, err := NewScenarioGroupCollection(
		ScenarioGroup{Name: "climate", Size: 2},
		ScenarioGroup{Name: "demand", Size: 3},
	)
	require.NoError(t, err)

	domain := NewScenarioDomain(groups)
	require.Equal(t, 6, domain.Len())
	require.Equal(t, groups.Size(), domain.Len())

	// Last group ("demand") varies fastest.
	assert.Equal(t, []int{0, 0}, domain.Indices[0].GroupIndices)
	assert.Equal(t, []int{0, 1}, domain.Indices[1].GroupIndices)
	assert.Equal(t, []int{0, 2}, domain.Indices[2].GroupIndices)
	assert.Equal(t, []int{1, 0}, domain.Indices[3].GroupIndices)

	for i, idx := range domain.Indices {
		assert.Equal(t, i, idx.GlobalIndex, "global index assignment is stable across runs (spec §8 property 1)")
	}

	at, ok := domain.At(5)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, at.GroupIndices)

	_, ok = domain.At(6)
	assert.False(t, ok)
}

func TestScenarioDomainTrivialWhenNoGroups(t *testing.T) {
	groups, err := NewScenarioGroupCollection()
	require.NoError(t, err)
	domain := NewScenarioDomain(groups)
	require.Equal(t, 1, domain.Len())
	assert.Nil(t, domain.Indices[0].GroupIndices)
}
