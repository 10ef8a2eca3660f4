package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/pack"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

func newTestSystem(t *testing.T) (*pack.Pack, *Balancer, *time.Time) {
	t.Helper()
	p := pack.New(8, 12, soccurve.Default(), nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	p.SetNow(func() time.Time { return now })

	for _, c := range p.Cells().Cells() {
		c.UpdateVoltage(3.600)
		c.UpdateAccurateVoltage(3.600)
		// Stand-in for the gateway: a discharge can only start with a listener.
		c.OnBalanceRequest(func(cell.BalanceRequest) {})
	}
	// cell (0,0) is the lone high cell.
	p.Cells().Cells()[0].UpdateVoltage(3.650)
	p.Cells().Cells()[0].UpdateAccurateVoltage(3.650)

	b := New(p, soccurve.Default(), nil)
	b.SetNow(func() time.Time { return now })
	b.SetEnabled(true)
	return p, b, &now
}

// S3 (balancer selection).
func TestBalancerSelectsSingleHighCell(t *testing.T) {
	p, b, _ := newTestSystem(t)

	var diffReport DiffReport
	b.OnDiffReport(func(r DiffReport) { diffReport = r })

	b.Tick()

	require.InDelta(t, 0.050, diffReport.Diff, 1e-9)

	var discharging []int
	for i, c := range p.Cells().Cells() {
		if c.IsBalanceDischarging() {
			discharging = append(discharging, i)
		}
	}
	require.Equal(t, []int{0}, discharging)

	for _, c := range p.Cells().Cells() {
		require.Equal(t, 5*time.Second, c.RelaxTime())
	}
}

// S4 (ignored slave).
func TestBalancerSkipsIgnoredModule(t *testing.T) {
	_, b, _ := newTestSystem(t)
	b.SetIgnoreSlaves([]int{0})

	b.Tick()

	p := b.pack
	for _, c := range p.Cells().Cells() {
		require.False(t, c.IsBalanceDischarging(), "module 0 is ignored, no cell should discharge")
	}
}

// the balancer never emits a balance request for a cell in an ignored
// module, even indirectly through the shared relax-time bulk mutation.
func TestBalancerNeverTouchesIgnoredModuleCells(t *testing.T) {
	p, b, _ := newTestSystem(t)
	b.SetIgnoreSlaves([]int{0})
	originalRelax := p.Modules[0].Cells[0].RelaxTime()

	b.Tick()

	require.Equal(t, originalRelax, p.Modules[0].Cells[0].RelaxTime())
}

func TestBalancerDisabledDoesNothing(t *testing.T) {
	_, b, _ := newTestSystem(t)
	b.SetEnabled(false)

	fired := false
	b.OnDiffReport(func(DiffReport) { fired = true })
	b.Tick()
	require.False(t, fired)
}

func TestBalancerRequestsAccurateReadingsWhenStale(t *testing.T) {
	p := pack.New(1, 2, soccurve.Default(), nil)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	p.SetNow(func() time.Time { return now })
	for _, c := range p.Cells().Cells() {
		c.UpdateVoltage(3.6)
		// AccurateVoltage intentionally left uninitialized -> infinitely stale.
	}

	b := New(p, soccurve.Default(), nil)
	b.SetNow(func() time.Time { return now })
	b.SetEnabled(true)

	var requested []int
	b.OnAccurateReadRequest(func(moduleID int) { requested = append(requested, moduleID) })

	b.Tick()
	require.Equal(t, []int{0}, requested)
}

func TestBalancerIdleBelowMinDiff(t *testing.T) {
	p := pack.New(1, 4, soccurve.Default(), nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.SetNow(func() time.Time { return now })
	for _, c := range p.Cells().Cells() {
		c.UpdateVoltage(3.6)
		c.UpdateAccurateVoltage(3.6)
	}
	b := New(p, soccurve.Default(), nil)
	b.SetNow(func() time.Time { return now })
	b.SetEnabled(true)

	b.Tick()
	for _, c := range p.Cells().Cells() {
		require.False(t, c.IsBalanceDischarging())
	}
}
