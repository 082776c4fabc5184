package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// ConstantParameter returns a fixed scalar, resolved once at build time.
type ConstantParameter struct {
	base
	Value float64
}

// NewConstant creates a ScopeConstant parameter holding value.
func NewConstant(name string, value float64) *ConstantParameter {
	return &ConstantParameter{base: base{name: name, scope: metric.ScopeConstant}, Value: value}
}

func (p *ConstantParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ConstantParameter) Compute(InternalState, *network.Network, *pstate.State, timedomain.Timestep, timedomain.ScenarioIndex) (metric.Value, error) {
	return metric.FloatValue(p.Value), nil
}

func (p *ConstantParameter) After(InternalState, *network.Network, *pstate.State, timedomain.Timestep) error {
	return nil
}

// clampOffset clamps a requested index+offset into [0, len) so that e.g.
// asking for "yesterday's" value on the first day returns index 0 rather
// than erroring (spec §4.4 Constant/Array1/Array2).
func clampOffset(index, offset, length int) int {
	i := index + offset
	if i < 0 {
		return 0
	}
	if i >= length {
		return length - 1
	}
	return i
}

// Array1Parameter indexes a flat array by timestep, with an optional
// offset clamped to the array bounds.
type Array1Parameter struct {
	base
	NoAfter
	Values []float64
	Offset int
}

// NewArray1 creates a ScopeSimple array-lookup parameter.
func NewArray1(name string, values []float64, offset int) *Array1Parameter {
	return &Array1Parameter{base: base{name: name, scope: metric.ScopeSimple}, Values: values, Offset: offset}
}

func (p *Array1Parameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *Array1Parameter) Compute(_ InternalState, _ *network.Network, _ *pstate.State, t timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	if len(p.Values) == 0 {
		return metric.Value{}, apperror.Newf(apperror.CodeDataOutOfRange, "array1 parameter %s has no values", p.name)
	}
	idx := clampOffset(t.Index, p.Offset, len(p.Values))
	return metric.FloatValue(p.Values[idx]), nil
}

// Array2Parameter indexes a 2D array by (timestep, scenario-group index),
// with the same offset-clamping rule as Array1.
type Array2Parameter struct {
	base
	NoAfter
	Values [][]float64 // Values[time][scenarioColumn]
	Column int         // which scenario group index selects the column
	Offset int
}

// NewArray2 creates a ScopeSimple 2D array-lookup parameter. column
// selects which entry of the scenario's GroupIndices chooses the array
// column.
func NewArray2(name string, values [][]float64, column, offset int) *Array2Parameter {
	return &Array2Parameter{base: base{name: name, scope: metric.ScopeSimple}, Values: values, Column: column, Offset: offset}
}

func (p *Array2Parameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *Array2Parameter) Compute(_ InternalState, _ *network.Network, _ *pstate.State, t timedomain.Timestep, scenario timedomain.ScenarioIndex) (metric.Value, error) {
	if len(p.Values) == 0 {
		return metric.Value{}, apperror.Newf(apperror.CodeDataOutOfRange, "array2 parameter %s has no values", p.name)
	}
	row := clampOffset(t.Index, p.Offset, len(p.Values))
	col := 0
	if p.Column >= 0 && p.Column < len(scenario.GroupIndices) {
		col = scenario.GroupIndices[p.Column]
	}
	if col < 0 || col >= len(p.Values[row]) {
		return metric.Value{}, apperror.Newf(apperror.CodeDataOutOfRange, "array2 parameter %s column %d out of range", p.name, col)
	}
	return metric.FloatValue(p.Values[row][col]), nil
}
