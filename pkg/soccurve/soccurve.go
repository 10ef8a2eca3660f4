// Package soccurve implements the pack's open-circuit-voltage/state-of-charge
// lookup table: a fixed, monotone, piecewise-linear curve shared by every
// cell in the pack.
package soccurve

import (
	"errors"
	"sort"
)

// ErrOutOfRange is returned when voltage_to_soc or soc_to_voltage is called
// with an argument outside its documented domain. Callers in this module
// never pass out-of-range values; a caller that does has a bug.
var ErrOutOfRange = errors.New("soccurve: argument out of range")

// point is one (voltage, soc) table entry.
type point struct {
	voltage float64
	soc     float64
}

// Curve is an immutable, ordered voltage->soc table with sentinel points
// extending usable range beyond [0, 1] so balancer/supervisor thresholds
// near the edges still interpolate sensibly.
type Curve struct {
	points []point // sorted ascending by voltage (and by soc)
}

// DefaultTable is the stock 2-parallel Li-ion cell curve used across the
// fleet absent a more specific calibration. Endpoints are sentinels: they
// extend the curve beyond the physically meaningful [0, 1] SOC range so
// extrapolation outside the table never needs a special case.
var DefaultTable = []struct {
	Voltage float64
	SOC     float64
}{
	{0.00, -0.20},
	{2.80, 0.00},
	{3.00, 0.02},
	{3.30, 0.05},
	{3.50, 0.10},
	{3.60, 0.20},
	{3.65, 0.30},
	{3.70, 0.40},
	{3.73, 0.50},
	{3.76, 0.60},
	{3.825, 0.70},
	{3.90, 0.80},
	{4.00, 0.85},
	{4.05, 0.90},
	{4.10, 0.95},
	{4.136, 1.00},
	{5.00, 1.20},
}

// New builds a Curve from an ordered set of (voltage, soc) pairs. Pairs must
// be strictly increasing in voltage and non-decreasing in soc; New returns
// ErrOutOfRange if either monotonicity constraint is violated since that
// would make the table ambiguous to invert.
func New(pairs []struct {
	Voltage float64
	SOC     float64
}) (*Curve, error) {
	if len(pairs) < 2 {
		return nil, ErrOutOfRange
	}
	points := make([]point, len(pairs))
	for i, p := range pairs {
		if i > 0 {
			if p.Voltage <= pairs[i-1].Voltage {
				return nil, ErrOutOfRange
			}
			if p.SOC < pairs[i-1].SOC {
				return nil, ErrOutOfRange
			}
		}
		points[i] = point{voltage: p.Voltage, soc: p.SOC}
	}
	return &Curve{points: points}, nil
}

// Default returns the stock table, ready to use.
func Default() *Curve {
	curve, err := New(DefaultTable)
	if err != nil {
		// DefaultTable is a compile-time constant known to be monotone;
		// this would only trip if it were edited incorrectly.
		panic("soccurve: DefaultTable is not monotone: " + err.Error())
	}
	return curve
}

func lerp(loY, hiY, frac float64) float64 {
	return loY + (hiY-loY)*frac
}

// VoltageToSOC converts an open-circuit cell voltage to a state-of-charge
// fraction. Precondition: 0 < v < 5. Outside [min_table, max_table] the
// outer sentinel segments extrapolate instead of clamping.
func (c *Curve) VoltageToSOC(v float64) (float64, error) {
	if v <= 0 || v >= 5 {
		return 0, ErrOutOfRange
	}
	points := c.points
	// Locate the segment [lo, hi) such that lo.voltage <= v < hi.voltage,
	// falling back to the outermost segments for extrapolation.
	idx := sort.Search(len(points), func(i int) bool { return points[i].voltage > v })
	if idx == 0 {
		idx = 1
	}
	if idx >= len(points) {
		idx = len(points) - 1
	}
	lo, hi := points[idx-1], points[idx]
	if v == lo.voltage {
		return lo.soc, nil
	}
	frac := (v - lo.voltage) / (hi.voltage - lo.voltage)
	return lerp(lo.soc, hi.soc, frac), nil
}

// SOCToVoltage is the symmetric inversion of VoltageToSOC. Precondition:
// 0 <= s <= 1. When s coincides with a table endpoint, the adjacent segment
// is used to avoid a zero-width interval.
func (c *Curve) SOCToVoltage(s float64) (float64, error) {
	if s < 0 || s > 1 {
		return 0, ErrOutOfRange
	}
	points := c.points
	idx := sort.Search(len(points), func(i int) bool { return points[i].soc > s })
	if idx == 0 {
		idx = 1
	}
	if idx >= len(points) {
		idx = len(points) - 1
	}
	// Avoid a zero-width [lo, hi) segment when s lands exactly on a
	// repeated soc value or on the point at idx-1.
	for idx > 1 && points[idx-1].soc == points[idx].soc {
		idx--
	}
	lo, hi := points[idx-1], points[idx]
	if hi.soc == lo.soc {
		return lo.voltage, nil
	}
	frac := (s - lo.soc) / (hi.soc - lo.soc)
	return lerp(lo.voltage, hi.voltage, frac), nil
}
