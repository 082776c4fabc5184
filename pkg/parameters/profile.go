package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// MonthlyProfileParameter returns one of 12 values selected by the
// timestep's calendar month.
type MonthlyProfileParameter struct {
	base
	NoAfter
	Values [12]float64
}

// NewMonthlyProfile creates a ScopeSimple monthly profile parameter.
func NewMonthlyProfile(name string, values [12]float64) *MonthlyProfileParameter {
	return &MonthlyProfileParameter{base: base{name: name, scope: metric.ScopeSimple}, Values: values}
}

func (p *MonthlyProfileParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *MonthlyProfileParameter) Compute(_ InternalState, _ *network.Network, _ *pstate.State, t timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	return metric.FloatValue(p.Values[int(t.Date.Month())-1]), nil
}

// DailyProfileParameter returns one of 365 or 366 values selected by the
// timestep's day-of-year, clamped into range for leap-year mismatches.
type DailyProfileParameter struct {
	base
	NoAfter
	Values []float64
}

// NewDailyProfile creates a ScopeSimple daily profile parameter. values
// must have 365 or 366 entries.
func NewDailyProfile(name string, values []float64) (*DailyProfileParameter, error) {
	if len(values) != 365 && len(values) != 366 {
		return nil, apperror.Newf(apperror.CodeInvalidWeeklyProfile, "daily profile %s: expected 365 or 366 entries, got %d", name, len(values))
	}
	return &DailyProfileParameter{base: base{name: name, scope: metric.ScopeSimple}, Values: values}, nil
}

func (p *DailyProfileParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *DailyProfileParameter) Compute(_ InternalState, _ *network.Network, _ *pstate.State, t timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	day := t.Date.YearDay() - 1
	if day >= len(p.Values) {
		day = len(p.Values) - 1
	}
	return metric.FloatValue(p.Values[day]), nil
}

// WeeklyProfileParameter returns one of 52 or 53 values selected by the
// timestep's day-of-year divided into weeks.
//
// The source this was ported from validated entry counts with a
// condition equivalent to "count != 52 || count != 53", which is always
// true and therefore accepts nothing; the corrected rule accepts exactly
// 52 or 53 entries and rejects everything else.
type WeeklyProfileParameter struct {
	base
	NoAfter
	Values []float64
}

// NewWeeklyProfile creates a ScopeSimple weekly profile parameter. values
// must have exactly 52 or 53 entries.
func NewWeeklyProfile(name string, values []float64) (*WeeklyProfileParameter, error) {
	if len(values) != 52 && len(values) != 53 {
		return nil, apperror.Newf(apperror.CodeInvalidWeeklyProfile, "weekly profile %s: expected 52 or 53 entries, got %d", name, len(values))
	}
	return &WeeklyProfileParameter{base: base{name: name, scope: metric.ScopeSimple}, Values: values}, nil
}

func (p *WeeklyProfileParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *WeeklyProfileParameter) Compute(_ InternalState, _ *network.Network, _ *pstate.State, t timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	week := (t.Date.YearDay() - 1) / 7
	if week >= len(p.Values) {
		week = len(p.Values) - 1
	}
	return metric.FloatValue(p.Values[week]), nil
}
