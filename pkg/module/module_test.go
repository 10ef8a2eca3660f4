package module

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// S1 (happy SOC path).
func TestModuleSOCHappyPath(t *testing.T) {
	m := New(0, 12, soccurve.Default(), nil)
	for _, c := range m.Cells {
		c.UpdateVoltage(3.825)
	}
	soc, ok := m.SOC()
	require.True(t, ok)
	require.InDelta(t, 0.70, soc, 0.001)
}

func TestModuleSOCSkipsUninitializedCells(t *testing.T) {
	m := New(0, 3, soccurve.Default(), nil)
	m.Cells[0].UpdateVoltage(3.825)
	m.Cells[1].UpdateVoltage(3.825)
	// Cells[2] left uninitialized.
	soc, ok := m.SOC()
	require.True(t, ok)
	require.InDelta(t, 0.70, soc, 0.001)
}

func TestModuleVoltageLimitsDerivedFromCellLimitsTimesSeriesCount(t *testing.T) {
	limits := VoltageLimits(12)
	require.InDelta(t, 4.18*12, limits.WarningUpper, 1e-9)
	require.InDelta(t, 2.8*12, limits.WarningLower, 1e-9)
}

func TestTempIsMeanOfBothSensors(t *testing.T) {
	m := New(0, 1, soccurve.Default(), nil)
	m.UpdateModuleTemps(20, 30)
	avg, ok := m.Temp()
	require.True(t, ok)
	require.InDelta(t, 25, avg, 1e-9)
}

func TestCheckHeartbeatNeverInitializedIsNoop(t *testing.T) {
	m := New(0, 1, soccurve.Default(), nil)
	var missed int
	m.OnHeartbeatMissed(func(*Module) { missed++ })
	m.CheckHeartbeat()
	require.Equal(t, 0, missed)
}

func TestUpdateESPUptimeFiresHeartbeat(t *testing.T) {
	m := New(0, 1, soccurve.Default(), nil)
	var got *Module
	m.OnHeartbeat(func(mod *Module) { got = mod })
	m.UpdateESPUptime(1000)
	require.Same(t, m, got)
}

func TestCheckHeartbeatFiresMissedAfterTimeout(t *testing.T) {
	m := New(0, 1, soccurve.Default(), nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	m.SetNow(func() time.Time { return now })

	m.UpdateESPUptime(1000)

	var missed int
	m.OnHeartbeatMissed(func(*Module) { missed++ })

	now = start.Add(19 * time.Second)
	m.CheckHeartbeat()
	require.Equal(t, 0, missed)

	now = start.Add(21 * time.Second)
	m.CheckHeartbeat()
	require.Equal(t, 1, missed)
}

func TestMinMaxVoltageCell(t *testing.T) {
	m := New(0, 3, soccurve.Default(), nil)
	m.Cells[0].UpdateVoltage(3.60)
	m.Cells[1].UpdateVoltage(3.65)
	m.Cells[2].UpdateVoltage(3.55)

	min, ok := m.MinVoltageCell()
	require.True(t, ok)
	require.Same(t, m.Cells[2], min)

	max, ok := m.MaxVoltageCell()
	require.True(t, ok)
	require.Same(t, m.Cells[1], max)
}
