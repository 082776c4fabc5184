package parameters

import (
	"sort"

	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

// interpolate implements the spec's control-curve interpolation rule: for
// x in [lower, upper], lower_value + (upper_value-lower_value)*(x-lower)/(upper-lower);
// below lower returns lower_value, above upper returns upper_value, equal
// bounds return lower_value (spec §4.4).
func interpolate(x, lower, upper, lowerValue, upperValue float64) float64 {
	if x <= lower {
		return lowerValue
	}
	if x >= upper {
		return upperValue
	}
	if upper == lower {
		return lowerValue
	}
	return lowerValue + (upperValue-lowerValue)*(x-lower)/(upper-lower)
}

// bandIndex locates which band a measured level falls into given a
// descending list of control curve levels, returning the 0-based index
// of the first curve the level is at or above (band 0 is the curve
// closest to full).
func bandIndex(level float64, curves []float64) int {
	for i, c := range curves {
		if level >= c {
			return i
		}
	}
	return len(curves)
}

// ControlCurveSimpleParameter selects one of len(curves)+1 values by
// comparing a measured level against an ordered (descending) list of
// control curve levels.
type ControlCurveSimpleParameter struct {
	base
	NoAfter
	Level  metric.Metric // usually a storage node's proportional volume
	Curves []metric.Metric
	Values []float64 // len(Curves)+1 entries
	params network.ParameterLookup
}

// NewControlCurveSimple creates a ScopeGeneral control curve parameter.
func NewControlCurveSimple(name string, level metric.Metric, curves []metric.Metric, values []float64, lookup network.ParameterLookup) (*ControlCurveSimpleParameter, error) {
	if len(values) != len(curves)+1 {
		return nil, apperror.Newf(apperror.CodeDataOutOfRange, "control curve %s: need %d values for %d curves, got %d", name, len(curves)+1, len(curves), len(values))
	}
	return &ControlCurveSimpleParameter{base: base{name: name, scope: metric.ScopeGeneral}, Level: level, Curves: curves, Values: values, params: lookup}, nil
}

func (p *ControlCurveSimpleParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ControlCurveSimpleParameter) resolveCurves(net *network.Network, s *pstate.State) (float64, []float64, error) {
	level, err := net.Resolve(p.Level, s, p.params)
	if err != nil {
		return 0, nil, err
	}
	curveValues, err := resolveChildren(net, s, p.params, p.Curves)
	if err != nil {
		return 0, nil, err
	}
	return level, curveValues, nil
}

func (p *ControlCurveSimpleParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	level, curves, err := p.resolveCurves(net, s)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.FloatValue(p.Values[bandIndex(level, curves)]), nil
}

// ControlCurveIndexParameter is the index-valued counterpart of
// ControlCurveSimpleParameter: it returns which band the level fell in
// rather than a mapped scalar.
type ControlCurveIndexParameter struct {
	base
	NoAfter
	Level  metric.Metric
	Curves []metric.Metric
	params network.ParameterLookup
}

// NewControlCurveIndex creates a ScopeGeneral control-curve-index parameter.
func NewControlCurveIndex(name string, level metric.Metric, curves []metric.Metric, lookup network.ParameterLookup) *ControlCurveIndexParameter {
	return &ControlCurveIndexParameter{base: base{name: name, scope: metric.ScopeGeneral}, Level: level, Curves: curves, params: lookup}
}

func (p *ControlCurveIndexParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ControlCurveIndexParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	level, err := net.Resolve(p.Level, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	curves, err := resolveChildren(net, s, p.params, p.Curves)
	if err != nil {
		return metric.Value{}, err
	}
	return metric.IndexValue(int64(bandIndex(level, curves))), nil
}

// ControlCurveInterpolatedParameter linearly interpolates between the
// values paired with an ordered (descending) list of control curves,
// using the level's position between the bracketing curves.
type ControlCurveInterpolatedParameter struct {
	base
	NoAfter
	Level  metric.Metric
	Curves []metric.Metric
	Values []float64 // len(Curves)+1 entries; Values[0] applies above Curves[0]
	params network.ParameterLookup
}

// NewControlCurveInterpolated creates a ScopeGeneral interpolated control
// curve parameter.
func NewControlCurveInterpolated(name string, level metric.Metric, curves []metric.Metric, values []float64, lookup network.ParameterLookup) (*ControlCurveInterpolatedParameter, error) {
	if len(values) != len(curves)+1 {
		return nil, apperror.Newf(apperror.CodeDataOutOfRange, "interpolated control curve %s: need %d values for %d curves, got %d", name, len(curves)+1, len(curves), len(values))
	}
	return &ControlCurveInterpolatedParameter{base: base{name: name, scope: metric.ScopeGeneral}, Level: level, Curves: curves, Values: values, params: lookup}, nil
}

func (p *ControlCurveInterpolatedParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ControlCurveInterpolatedParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	level, err := net.Resolve(p.Level, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	curves, err := resolveChildren(net, s, p.params, p.Curves)
	if err != nil {
		return metric.Value{}, err
	}
	if len(curves) == 0 {
		return metric.FloatValue(p.Values[0]), nil
	}
	band := bandIndex(level, curves)
	switch {
	case band == 0:
		// Above the highest curve: clamp to the top value.
		return metric.FloatValue(p.Values[0]), nil
	case band >= len(curves):
		// Below the lowest curve: clamp to the bottom value.
		return metric.FloatValue(p.Values[len(p.Values)-1]), nil
	default:
		upper := curves[band-1]
		lower := curves[band]
		return metric.FloatValue(interpolate(level, lower, upper, p.Values[band], p.Values[band-1])), nil
	}
}

// ControlCurvePiecewiseInterpolatedParameter interpolates independently
// within each band using a per-band [lower,upper] value pair, rather than
// a single monotone Values list shared across bands.
type ControlCurvePiecewiseInterpolatedParameter struct {
	base
	NoAfter
	Level       metric.Metric
	Curves      []metric.Metric
	LowerValues []float64 // per band, len(Curves)+1
	UpperValues []float64 // per band, len(Curves)+1
	params      network.ParameterLookup
}

// NewControlCurvePiecewiseInterpolated creates a ScopeGeneral piecewise
// interpolated control curve parameter.
func NewControlCurvePiecewiseInterpolated(name string, level metric.Metric, curves []metric.Metric, lowerValues, upperValues []float64, lookup network.ParameterLookup) (*ControlCurvePiecewiseInterpolatedParameter, error) {
	if len(lowerValues) != len(curves)+1 || len(upperValues) != len(curves)+1 {
		return nil, apperror.Newf(apperror.CodeDataOutOfRange, "piecewise control curve %s: need %d value pairs for %d curves", name, len(curves)+1, len(curves))
	}
	return &ControlCurvePiecewiseInterpolatedParameter{base: base{name: name, scope: metric.ScopeGeneral}, Level: level, Curves: curves, LowerValues: lowerValues, UpperValues: upperValues, params: lookup}, nil
}

func (p *ControlCurvePiecewiseInterpolatedParameter) Setup([]timedomain.Timestep) InternalState {
	return nil
}

func (p *ControlCurvePiecewiseInterpolatedParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	level, err := net.Resolve(p.Level, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	curves, err := resolveChildren(net, s, p.params, p.Curves)
	if err != nil {
		return metric.Value{}, err
	}
	band := bandIndex(level, curves)
	var lower, upper float64
	switch {
	case len(curves) == 0:
		lower, upper = 0, 1
	case band == 0:
		lower, upper = curves[0], 1
	case band >= len(curves):
		lower, upper = 0, curves[len(curves)-1]
	default:
		lower, upper = curves[band], curves[band-1]
	}
	return metric.FloatValue(interpolate(level, lower, upper, p.LowerValues[band], p.UpperValues[band])), nil
}

// ControlCurveApportionParameter splits a total metric across bands in
// proportion to the distance the level has travelled through each band,
// so the per-band outputs sum to the total at any level.
type ControlCurveApportionParameter struct {
	base
	NoAfter
	Level  metric.Metric
	Curves []metric.Metric // descending band boundaries in [0,1]
	Total  metric.Metric
	params network.ParameterLookup
}

// NewControlCurveApportion creates a ScopeGeneral apportionment parameter.
func NewControlCurveApportion(name string, level metric.Metric, curves []metric.Metric, total metric.Metric, lookup network.ParameterLookup) *ControlCurveApportionParameter {
	return &ControlCurveApportionParameter{base: base{name: name, scope: metric.ScopeGeneral}, Level: level, Curves: curves, Total: total, params: lookup}
}

func (p *ControlCurveApportionParameter) Setup([]timedomain.Timestep) InternalState { return nil }

// Apportion returns the total multiplied by the fraction of the full
// [0,1] range lying at or below level, amongst the bounds carved out by
// curves; used internally and exposed for band-by-band callers.
func (p *ControlCurveApportionParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	level, err := net.Resolve(p.Level, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	total, err := net.Resolve(p.Total, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	bounds := append([]float64{1.0}, make([]float64, 0, len(p.Curves))...)
	curves, err := resolveChildren(net, s, p.params, p.Curves)
	if err != nil {
		return metric.Value{}, err
	}
	bounds = append(bounds, curves...)
	bounds = append(bounds, 0.0)
	sort.Sort(sort.Reverse(sort.Float64Slice(bounds)))
	band := bandIndex(level, curves)
	upper := bounds[band]
	lower := bounds[band+1]
	if upper == lower {
		return metric.FloatValue(0), nil
	}
	fraction := (level - lower) / (upper - lower)
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return metric.FloatValue(total * fraction / float64(len(bounds)-1)), nil
}

// ControlCurveVolumeBetweenParameter returns the storage volume currently
// held between two control curve levels, clamped to that band's capacity
// — useful for allocating a reservoir's "flood pool" or "conservation
// pool" sub-volumes.
type ControlCurveVolumeBetweenParameter struct {
	base
	NoAfter
	Volume     metric.Metric // absolute current volume
	MaxVolume  metric.Metric // absolute total capacity
	UpperCurve metric.Metric // proportional volume, 0..1
	LowerCurve metric.Metric
	params     network.ParameterLookup
}

// NewControlCurveVolumeBetween creates a ScopeGeneral volume-between
// parameter.
func NewControlCurveVolumeBetween(name string, volume, maxVolume, upperCurve, lowerCurve metric.Metric, lookup network.ParameterLookup) *ControlCurveVolumeBetweenParameter {
	return &ControlCurveVolumeBetweenParameter{base: base{name: name, scope: metric.ScopeGeneral}, Volume: volume, MaxVolume: maxVolume, UpperCurve: upperCurve, LowerCurve: lowerCurve, params: lookup}
}

func (p *ControlCurveVolumeBetweenParameter) Setup([]timedomain.Timestep) InternalState { return nil }

func (p *ControlCurveVolumeBetweenParameter) Compute(_ InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	volume, err := net.Resolve(p.Volume, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	maxVolume, err := net.Resolve(p.MaxVolume, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	upper, err := net.Resolve(p.UpperCurve, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	lower, err := net.Resolve(p.LowerCurve, s, p.params)
	if err != nil {
		return metric.Value{}, err
	}
	upperVolume := upper * maxVolume
	lowerVolume := lower * maxVolume
	if volume < lowerVolume {
		return metric.FloatValue(0), nil
	}
	if volume > upperVolume {
		return metric.FloatValue(upperVolume - lowerVolume), nil
	}
	return metric.FloatValue(volume - lowerVolume), nil
}
