package metricset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSubDailyAggregationDurationWeighting matches spec scenario S5:
// values at 00:00 (+1h, 2.0), 01:00 (+2h, 1.0), 03:00 (+1h, 3.0);
// Mean -> 7/4, Sum (per day) -> 2·(1/24)+1·(2/24)+3·(1/24) when the
// whole run is one un-split period.
func TestSubDailyAggregationDurationWeighting(t *testing.T) {
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	values := []PeriodValue{
		{Start: day, Duration: time.Hour, Value: 2.0},
		{Start: day.Add(time.Hour), Duration: 2 * time.Hour, Value: 1.0},
		{Start: day.Add(3 * time.Hour), Duration: time.Hour, Value: 3.0},
	}

	mean, ok := calc(FunctionMean, nil, values)
	require.True(t, ok)
	assert.InDelta(t, 7.0/4.0, mean, 1e-12)

	sum, ok := calc(FunctionSum, nil, values)
	require.True(t, ok)
	expected := 2.0*(1.0/24.0) + 1.0*(2.0/24.0) + 3.0*(1.0/24.0)
	assert.InDelta(t, expected, sum, 1e-12)
}

func TestSumScalesLinearlyWithDuration(t *testing.T) {
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	base := []PeriodValue{
		{Start: day, Duration: time.Hour, Value: 2.0},
		{Start: day.Add(time.Hour), Duration: 2 * time.Hour, Value: 1.0},
	}
	scaled := []PeriodValue{
		{Start: day, Duration: 3 * time.Hour, Value: 2.0},
		{Start: day.Add(3 * time.Hour), Duration: 6 * time.Hour, Value: 1.0},
	}

	baseSum, _ := calc(FunctionSum, nil, base)
	scaledSum, _ := calc(FunctionSum, nil, scaled)
	assert.InDelta(t, baseSum*3, scaledSum, 1e-12, "scaling every duration by k scales a duration-weighted sum by k")
}

func TestMonthlyAggregatorEmitsOnPeriodBoundary(t *testing.T) {
	agg := &Aggregator{Frequency: Monthly(), Function: FunctionSum}
	state := agg.Setup()

	jan30 := time.Date(2023, 1, 30, 0, 0, 0, 0, time.UTC)
	out, err := agg.Append(state, PeriodValue{Start: jan30, Duration: 24 * time.Hour, Value: 1.0})
	require.NoError(t, err)
	assert.Nil(t, out)

	jan31 := time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)
	out, err = agg.Append(state, PeriodValue{Start: jan31, Duration: 24 * time.Hour, Value: 1.0})
	require.NoError(t, err)
	assert.Nil(t, out)

	feb1 := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	out, err = agg.Append(state, PeriodValue{Start: feb1, Duration: 24 * time.Hour, Value: 1.0})
	require.NoError(t, err)
	require.NotNil(t, out, "crossing into February closes out January's period")
	assert.InDelta(t, 2.0, out.Value, 1e-9)
}

func TestNestedAggregatorMaxOfAnnualMinimum(t *testing.T) {
	annual := &Aggregator{Frequency: Annual(), Function: FunctionMin}
	maxOfAnnualMin := &Aggregator{Frequency: None(), Function: FunctionMax, Child: annual}
	state := maxOfAnnualMin.Setup()

	date := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 365*3; i++ {
		_, err := maxOfAnnualMin.Append(state, PeriodValue{Start: date, Duration: 24 * time.Hour, Value: float64(date.Year())})
		require.NoError(t, err)
		date = date.AddDate(0, 0, 1)
	}

	final, err := maxOfAnnualMin.Finalise(state)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.InDelta(t, 2025.0, final.Value, 1e-9)
}

func TestNoFrequencyAccumulatesUntilFinalise(t *testing.T) {
	agg := &Aggregator{Frequency: None(), Function: FunctionMean}
	state := agg.Setup()

	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := agg.Append(state, PeriodValue{Start: day, Duration: 24 * time.Hour, Value: 4.0})
	require.NoError(t, err)
	assert.Nil(t, out, "no period boundary ever arrives without a Frequency")

	final, err := agg.Finalise(state)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.InDelta(t, 4.0, final.Value, 1e-9)
}

func TestCountFunctions(t *testing.T) {
	values := []PeriodValue{{Value: 0}, {Value: 5}, {Value: 0}, {Value: -2}}
	count, ok := calc(FunctionCountNonZero, nil, values)
	require.True(t, ok)
	assert.Equal(t, 2.0, count)

	positive := func(v float64) bool { return v > 0 }
	count, ok = calc(FunctionCountFunc, positive, values)
	require.True(t, ok)
	assert.Equal(t, 1.0, count)
}
