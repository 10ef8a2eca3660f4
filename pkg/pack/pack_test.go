package pack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samsamfire/bmsmaster/pkg/module"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

func newTestPack(t *testing.T) *Pack {
	t.Helper()
	return New(2, 3, soccurve.Default(), nil)
}

func setAllCellVoltages(p *Pack, v float64) {
	for _, c := range p.Cells().Cells() {
		c.UpdateVoltage(v)
	}
}

func TestSOCIsMeanOfInitializedCellSOC(t *testing.T) {
	p := newTestPack(t)
	setAllCellVoltages(p, 3.825)

	soc, ok := p.SOC()
	require.True(t, ok)
	require.InDelta(t, 0.70, soc, 0.001)
}

func TestSOCNotOkBeforeAnyCellInitialized(t *testing.T) {
	p := newTestPack(t)
	_, ok := p.SOC()
	require.False(t, ok)
}

// calculated_voltage() == sum(cell.voltage for cell in pack.cells()).
func TestCalculatedVoltageIsSumOfCellVoltages(t *testing.T) {
	p := newTestPack(t)
	voltages := []float64{3.60, 3.65, 3.70, 3.62, 3.58, 3.71}
	for i, c := range p.Cells().Cells() {
		c.UpdateVoltage(voltages[i])
	}

	var want float64
	for _, v := range voltages {
		want += v
	}

	got, ok := p.CalculatedVoltage()
	require.True(t, ok)
	require.InDelta(t, want, got, 1e-9)
}

func TestCalculatedVoltageNotOkWhenAnyCellUninitialized(t *testing.T) {
	p := newTestPack(t)
	cells := p.Cells().Cells()
	for _, c := range cells[1:] {
		c.UpdateVoltage(3.7)
	}
	_, ok := p.CalculatedVoltage()
	require.False(t, ok)
}

func TestPackVoltageLimitsDerivedFromCellLimitsTimesTotalSeriesCells(t *testing.T) {
	limits := VoltageLimits(6)
	require.InDelta(t, 4.18*6, limits.WarningUpper, 1e-9)
	require.InDelta(t, 2.8*6, limits.WarningLower, 1e-9)
}

func TestSlidingWindowSOCHappyPath(t *testing.T) {
	p := newTestPack(t)
	setAllCellVoltages(p, 3.825)
	p.UpdateCurrent(0)

	soc, ok := p.SlidingWindowSOC()
	require.True(t, ok)
	require.InDelta(t, 0.70, soc, 0.005)
}

func TestSlidingWindowSOCNotOkBeforeAnySample(t *testing.T) {
	p := newTestPack(t)
	// No cell voltages set, so there is nothing to average yet.
	_, ok := p.SlidingWindowSOC()
	require.False(t, ok)
}

func TestSlidingWindowSOCEvictsOldSamples(t *testing.T) {
	p := newTestPack(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	p.SetNow(func() time.Time { return now })

	setAllCellVoltages(p, 3.30) // soc ~= 0.05
	p.UpdateCurrent(0)
	_, ok := p.SlidingWindowSOC()
	require.True(t, ok)

	now = start.Add(200 * time.Second)
	setAllCellVoltages(p, 4.00) // soc ~= 0.85
	soc, ok := p.SlidingWindowSOC()
	require.True(t, ok)
	require.InDelta(t, 0.85, soc, 0.01) // the 0.05 sample has aged out
}

func TestHighestVoltageCellsInclusiveCount(t *testing.T) {
	p := newTestPack(t)
	voltages := []float64{3.60, 3.90, 3.70, 4.00, 3.55, 3.95}
	for i, c := range p.Cells().Cells() {
		c.UpdateVoltage(voltages[i])
	}

	top := p.HighestVoltageCells(3)
	require.Len(t, top, 3)
	var got []float64
	for _, c := range top {
		v, _ := c.Voltage.Value()
		got = append(got, v)
	}
	require.Equal(t, []float64{4.00, 3.95, 3.90}, got)
}

func TestHighestVoltageCellsCappedByInitializedCount(t *testing.T) {
	p := newTestPack(t)
	cells := p.Cells().Cells()
	cells[0].UpdateVoltage(3.7)
	cells[1].UpdateVoltage(3.8)
	// Remaining cells uninitialized.

	top := p.HighestVoltageCells(5)
	require.Len(t, top, 2)
}

func TestCheckHeartbeatsForwardsToEveryModule(t *testing.T) {
	p := newTestPack(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	p.SetNow(func() time.Time { return now })

	for _, m := range p.Modules {
		m.UpdateESPUptime(1)
	}

	var missed int
	for _, m := range p.Modules {
		m.OnHeartbeatMissed(func(*module.Module) { missed++ })
	}

	now = start.Add(21 * time.Second)
	p.CheckHeartbeats()
	require.Equal(t, len(p.Modules), missed)
}
