package metric

// ValueKind tags which representation a parameter Value holds.
type ValueKind int

const (
	// ValueFloat is a plain scalar.
	ValueFloat ValueKind = iota
	// ValueIndex is an integer index (e.g. a control-curve band selection).
	ValueIndex
	// ValueMulti is a named bag of floats and indices.
	ValueMulti
)

// MultiValue is a named bag of floats and indices, the result type of
// parameters like Muskingum that must emit several related quantities in
// a single evaluation (spec §3 Parameter, §4.4 Muskingum).
type MultiValue struct {
	Floats  map[string]float64
	Indices map[string]int64
}

// NewMultiValue creates an empty MultiValue ready for population.
func NewMultiValue() MultiValue {
	return MultiValue{Floats: make(map[string]float64), Indices: make(map[string]int64)}
}

// WithFloat sets a named float entry and returns the receiver for chaining.
func (mv MultiValue) WithFloat(name string, v float64) MultiValue {
	mv.Floats[name] = v
	return mv
}

// WithIndex sets a named index entry and returns the receiver for chaining.
func (mv MultiValue) WithIndex(name string, v int64) MultiValue {
	mv.Indices[name] = v
	return mv
}

// Value is the result of evaluating a Metric or a Parameter: either a
// plain float64, an int64 index, or a MultiValue.
type Value struct {
	Kind  ValueKind
	Float float64
	Index int64
	Multi MultiValue
}

// Float64 returns the scalar form of v: the float directly, the index
// converted to float64, or — for a MultiValue — its "value" entry if
// present, else 0.
func (v Value) Float64() float64 {
	switch v.Kind {
	case ValueIndex:
		return float64(v.Index)
	case ValueMulti:
		return v.Multi.Floats["value"]
	default:
		return v.Float
	}
}

// FloatValue wraps a scalar as a Value.
func FloatValue(f float64) Value { return Value{Kind: ValueFloat, Float: f} }

// IndexValue wraps an integer index as a Value.
func IndexValue(i int64) Value { return Value{Kind: ValueIndex, Index: i} }

// MultiVal wraps a MultiValue as a Value.
func MultiVal(mv MultiValue) Value { return Value{Kind: ValueMulti, Multi: mv} }
