// Package timedomain enumerates the cartesian product of time-steps and
// scenario indices that drives a simulation run.
package timedomain

import "time"

// Timestep is one discrete simulation interval of fixed duration.
type Timestep struct {
	Date     time.Time
	Index    int
	Duration time.Duration
}

// Timestepper expands a start/end date and a fixed step duration into a
// sequence of Timestep values. All steps have identical duration.
type Timestepper struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// NewTimestepper constructs a Timestepper. Duration must be positive.
func NewTimestepper(start, end time.Time, duration time.Duration) Timestepper {
	return Timestepper{Start: start, End: end, Duration: duration}
}

// Expand returns the full, ordered sequence of time-steps covering
// [Start, End]. The last step may end exactly on End or, if Duration
// doesn't evenly divide the range, stop at the last step fully within it —
// matching the "identical duration" assumption in spec §4.1.
func (t Timestepper) Expand() []Timestep {
	if t.Duration <= 0 || t.End.Before(t.Start) {
		return nil
	}

	n := int(t.End.Sub(t.Start)/t.Duration) + 1
	steps := make([]Timestep, 0, n)
	cursor := t.Start
	for idx := 0; !cursor.After(t.End); idx++ {
		steps = append(steps, Timestep{Date: cursor, Index: idx, Duration: t.Duration})
		cursor = cursor.Add(t.Duration)
	}
	return steps
}

// Len returns the number of time-steps Expand would produce, without
// allocating the slice.
func (t Timestepper) Len() int {
	if t.Duration <= 0 || t.End.Before(t.Start) {
		return 0
	}
	return int(t.End.Sub(t.Start)/t.Duration) + 1
}

// DaysFraction returns the duration expressed as a fraction of one day.
// Used by duration-weighted aggregators (spec §6, §8 property 9).
func (ts Timestep) DaysFraction() float64 {
	return ts.Duration.Hours() / 24.0
}

// IsFirst reports whether this is the first time-step of the run — the
// point at which Storage nodes must write their resolved initial volume
// into state before any parameter reads it (spec §3 node invariant c).
func (ts Timestep) IsFirst() bool {
	return ts.Index == 0
}
