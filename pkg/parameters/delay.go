package parameters

import (
	"github.com/pywr-go/watersim/pkg/apperror"
	"github.com/pywr-go/watersim/pkg/metric"
	"github.com/pywr-go/watersim/pkg/network"
	"github.com/pywr-go/watersim/pkg/pstate"
	"github.com/pywr-go/watersim/pkg/timedomain"
)

type delayState struct {
	ring []float64
	pos  int
	n    int // number of entries pushed, capped at len(ring)
}

// DelayParameter emits the value measured N steps ago, returning
// InitialValue for the first N steps. Its After hook pushes today's
// measured metric onto the ring (spec §4.4).
type DelayParameter struct {
	base
	Measure      metric.Metric
	Steps        int
	InitialValue float64
	params       network.ParameterLookup
}

// NewDelay creates a ScopeGeneral delay parameter with a ring of the
// given number of steps.
func NewDelay(name string, measure metric.Metric, steps int, initialValue float64, lookup network.ParameterLookup) *DelayParameter {
	return &DelayParameter{base: base{name: name, scope: metric.ScopeGeneral}, Measure: measure, Steps: steps, InitialValue: initialValue, params: lookup}
}

func (p *DelayParameter) Setup([]timedomain.Timestep) InternalState {
	return &delayState{ring: make([]float64, p.Steps)}
}

func (p *DelayParameter) Compute(st InternalState, _ *network.Network, _ *pstate.State, _ timedomain.Timestep, _ timedomain.ScenarioIndex) (metric.Value, error) {
	ds, ok := st.(*delayState)
	if !ok {
		return metric.Value{}, apperror.Newf(apperror.CodeNotInitialised, "delay parameter %s: setup not called", p.name)
	}
	if p.Steps == 0 {
		return metric.Value{}, apperror.Newf(apperror.CodeDataOutOfRange, "delay parameter %s: steps must be positive", p.name)
	}
	if ds.n < p.Steps {
		return metric.FloatValue(p.InitialValue), nil
	}
	// Oldest entry is Steps slots behind the write cursor.
	idx := ((ds.pos - p.Steps) % p.Steps + p.Steps) % p.Steps
	return metric.FloatValue(ds.ring[idx]), nil
}

func (p *DelayParameter) After(st InternalState, net *network.Network, s *pstate.State, _ timedomain.Timestep) error {
	ds, ok := st.(*delayState)
	if !ok {
		return apperror.Newf(apperror.CodeNotInitialised, "delay parameter %s: setup not called", p.name)
	}
	v, err := net.Resolve(p.Measure, s, p.params)
	if err != nil {
		return err
	}
	ds.ring[ds.pos] = v
	ds.pos = (ds.pos + 1) % p.Steps
	if ds.n < p.Steps {
		ds.n++
	}
	return nil
}
