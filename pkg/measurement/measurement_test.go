package measurement

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func cellLimits() Limits {
	return Limits{
		ImplausibleLower: -1000,
		CriticalLower:    2.5,
		WarningLower:     2.8,
		WarningUpper:     4.18,
		CriticalUpper:    4.25,
		ImplausibleUpper: 5.0,
	}
}

func TestClassifyOk(t *testing.T) {
	require.Equal(t, Ok, cellLimits().Classify(3.7))
}

func TestClassifyWarningBothSides(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Warning, limits.Classify(4.19))
	require.Equal(t, Warning, limits.Classify(2.79))
}

func TestClassifyWarningBoundaryIsWarning(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Warning, limits.Classify(limits.WarningLower))
	require.Equal(t, Warning, limits.Classify(limits.WarningUpper))
}

func TestClassifyCriticalBothSides(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Critical, limits.Classify(4.26))
	require.Equal(t, Critical, limits.Classify(2.49))
}

func TestClassifyCriticalBoundaryIsWarning(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Warning, limits.Classify(limits.CriticalLower))
	require.Equal(t, Warning, limits.Classify(limits.CriticalUpper))
}

// value == implausible_lower classifies as NOT implausible.
func TestClassifyImplausibleLowerBoundaryIsCritical(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Critical, limits.Classify(limits.ImplausibleLower))
	require.Equal(t, Critical, limits.Classify(limits.ImplausibleUpper))
}

func TestClassifyImplausibleStrictlyBeyondBound(t *testing.T) {
	limits := cellLimits()
	require.Equal(t, Implausible, limits.Classify(limits.ImplausibleLower-0.001))
	require.Equal(t, Implausible, limits.Classify(limits.ImplausibleUpper+0.001))
}

// at most one counter increments on a single update.
func TestUpdateIncrementsExactlyOneCounter(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	m.Update(4.3) // critical
	implausible, critical, warning := m.Counters()
	require.Equal(t, uint32(0), implausible)
	require.Equal(t, uint32(1), critical)
	require.Equal(t, uint32(0), warning)
}

// value inside ok band resets all counters.
func TestUpdateOkResetsAllCounters(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	m.Update(4.3) // critical
	m.Update(3.7) // ok
	implausible, critical, warning := m.Counters()
	require.Zero(t, implausible)
	require.Zero(t, critical)
	require.Zero(t, warning)
}

func TestCriticalResetsImplausibleButNotWarning(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	m.Update(2.8) // warning
	m.Update(-2000) // implausible
	m.Update(4.3) // critical: implausible resets, warning untouched
	implausible, critical, warning := m.Counters()
	require.Zero(t, implausible)
	require.Equal(t, uint32(1), critical)
	require.Equal(t, uint32(1), warning, "warning counter is left unchanged when critical supersedes it")
}

func TestOnWarningFiresOnceThenStaysQuietOnReturnToOk(t *testing.T) {
	m := New("owner", cellLimits(), "test", nil)
	var warnings int
	m.OnWarning(func(owner any) { warnings++ })

	m.Update(4.18) // warning
	require.Equal(t, 1, warnings)

	m.Update(3.7) // ok: no event
	require.Equal(t, 1, warnings)
}

func TestValueRequiresInitializedCheck(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	_, ok := m.Value()
	require.False(t, ok)
	require.False(t, m.Initialized())

	m.Update(3.7)
	v, ok := m.Value()
	require.True(t, ok)
	require.InDelta(t, 3.7, v, 1e-9)
	require.True(t, m.Initialized())
}

// Measurement.update(v); age_seconds() == 0 at the instant following update.
func TestAgeSecondsZeroImmediatelyAfterUpdate(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return fixed })
	m.Update(3.7)
	require.Equal(t, float64(0), m.AgeSeconds())
}

func TestAgeSecondsOrInfWhenNeverUpdated(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	require.True(t, math.IsInf(m.AgeSecondsOrInf(), 1))
}

func TestAgeSecondsAdvancesWithClock(t *testing.T) {
	m := New(nil, cellLimits(), "test", nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	m.SetNow(func() time.Time { return now })
	m.Update(3.7)
	now = start.Add(7201 * time.Second)
	require.InDelta(t, 7201, m.AgeSecondsOrInf(), 0.001)
}
