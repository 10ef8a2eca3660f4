// Package pack implements the pack-level battery system model: a
// fixed-size ordered vector of modules plus pack-wide voltage, current,
// and a sliding-window SOC estimate.
package pack

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/measurement"
	"github.com/samsamfire/bmsmaster/pkg/module"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// SOCWindowHorizon is the fixed lookback for the sliding-window SOC
// estimate.
const SOCWindowHorizon = 180 * time.Second

// HeartbeatCheckInterval is the scheduling period for CheckHeartbeats.
const HeartbeatCheckInterval = 5 * time.Second

// socSample is one entry of the pack's sliding SOC window.
type socSample struct {
	at  time.Time
	soc float64
}

// Pack owns every module and the pack-level voltage/current measurements.
// Created once at startup with a statically configured module count;
// never destroyed.
type Pack struct {
	Modules []*module.Module

	Voltage *measurement.Measurement
	Current *measurement.Measurement

	curve *soccurve.Curve
	now   func() time.Time

	mu        sync.Mutex
	socWindow []socSample

	logger *logrus.Entry
}

// VoltageLimits derives pack-voltage limits by multiplying per-cell limits
// by the total series-cell count.
func VoltageLimits(totalSeriesCells int) measurement.Limits {
	n := float64(totalSeriesCells)
	return measurement.Limits{
		ImplausibleLower: cell.VoltageLimits.ImplausibleLower * n,
		CriticalLower:    cell.VoltageLimits.CriticalLower * n,
		WarningLower:     cell.VoltageLimits.WarningLower * n,
		WarningUpper:     cell.VoltageLimits.WarningUpper * n,
		CriticalUpper:    cell.VoltageLimits.CriticalUpper * n,
		ImplausibleUpper: cell.VoltageLimits.ImplausibleUpper * n,
	}
}

// CurrentLimits bound the pack-level current measurement. There is no
// per-cell current limit to derive these from (current is only measured
// pack-wide), so these are pack-level class constants in their own right.
var CurrentLimits = measurement.Limits{
	ImplausibleLower: -500,
	CriticalLower:    -120,
	WarningLower:     -100,
	WarningUpper:     100,
	CriticalUpper:    120,
	ImplausibleUpper: 500,
}

// New constructs a Pack with the given number of modules, each with
// seriesCells cells, all sharing curve. logger may be nil.
func New(numModules, seriesCells int, curve *soccurve.Curve, logger *logrus.Entry) *Pack {
	p := &Pack{
		Modules: make([]*module.Module, numModules),
		curve:   curve,
		now:     time.Now,
		logger:  logger,
	}
	for i := range p.Modules {
		p.Modules[i] = module.New(i, seriesCells, curve, logger)
	}
	totalSeriesCells := numModules * seriesCells
	p.Voltage = measurement.New(p, VoltageLimits(totalSeriesCells), "pack.voltage", logger)
	p.Current = measurement.New(p, CurrentLimits, "pack.current", logger)
	return p
}

func (p *Pack) UpdateVoltage(v float64) { p.Voltage.Update(v) }
func (p *Pack) UpdateCurrent(i float64) { p.Current.Update(i) }

// Cells returns a flattened, ordered CellList across every module.
func (p *Pack) Cells() CellList {
	var all []*cell.Cell
	for _, m := range p.Modules {
		all = append(all, m.Cells...)
	}
	return NewCellList(all)
}

// CalculatedVoltage is the sum of every cell's voltage. ok is false unless
// every cell voltage is initialized.
func (p *Pack) CalculatedVoltage() (float64, bool) {
	var sum float64
	for _, c := range p.Cells().cells {
		v, ok := c.Voltage.Value()
		if !ok {
			return 0, false
		}
		sum += v
	}
	return sum, true
}

// LoadAdjustedCalculatedVoltage applies the per-cell internal-impedance
// correction (using the pack's own current reading) to every cell voltage
// before summing.
func (p *Pack) LoadAdjustedCalculatedVoltage() (float64, bool) {
	current, ok := p.Current.Value()
	if !ok {
		current = 0
	}
	var sum float64
	for _, c := range p.Cells().cells {
		v, ok := c.Voltage.Value()
		if !ok {
			return 0, false
		}
		sum += v + current*cell.DefaultInternalImpedanceOhms
	}
	return sum, true
}

// SOC is the pack-wide mean of every initialized cell's instantaneous,
// non-load-adjusted SOC.
func (p *Pack) SOC() (float64, bool) {
	var sum float64
	var n int
	for _, c := range p.Cells().cells {
		soc, ok := c.SOC()
		if !ok {
			continue
		}
		sum += soc
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// loadAdjustedSOC is the pack-wide mean load-adjusted SOC across every
// initialized cell, used internally to feed the sliding window.
func (p *Pack) loadAdjustedSOC() (float64, bool) {
	current, ok := p.Current.Value()
	if !ok {
		current = 0
	}
	var sum float64
	var n int
	for _, c := range p.Cells().cells {
		soc, ok := c.LoadAdjustedSOC(current)
		if !ok {
			continue
		}
		sum += soc
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// SlidingWindowSOC appends the current load-adjusted SOC sample, evicts
// samples older than SOCWindowHorizon, and returns the arithmetic mean.
// The window is append-only between calls and is only pruned on read.
// Once the first sample has been appended the window is never empty
// again, so the returned ok is false only before the very first
// successful call (i.e. no cell has ever reported a voltage).
func (p *Pack) SlidingWindowSOC() (float64, bool) {
	soc, ok := p.loadAdjustedSOC()
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		p.socWindow = append(p.socWindow, socSample{at: now, soc: soc})
	}

	cutoff := now.Add(-SOCWindowHorizon)
	kept := p.socWindow[:0]
	for _, sample := range p.socWindow {
		if sample.at.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	p.socWindow = kept

	if len(p.socWindow) == 0 {
		return 0, false
	}
	var sum float64
	for _, sample := range p.socWindow {
		sum += sample.soc
	}
	return sum / float64(len(p.socWindow)), true
}

// LowestModuleTemp and HighestModuleTemp consider every module's Temp().
func (p *Pack) LowestModuleTemp() (float64, bool)  { return p.extremeModuleTemp(false) }
func (p *Pack) HighestModuleTemp() (float64, bool) { return p.extremeModuleTemp(true) }

func (p *Pack) extremeModuleTemp(max bool) (float64, bool) {
	var best float64
	found := false
	for _, m := range p.Modules {
		t, ok := m.Temp()
		if !ok {
			continue
		}
		if !found || (max && t > best) || (!max && t < best) {
			best = t
			found = true
		}
	}
	return best, found
}

// HighestVoltageCells returns the n highest-voltage cells, sorted
// descending, for the balancer.
func (p *Pack) HighestVoltageCells(n int) []*cell.Cell {
	all := p.Cells().cells
	type withVoltage struct {
		c *cell.Cell
		v float64
	}
	var initialized []withVoltage
	for _, c := range all {
		v, ok := c.Voltage.Value()
		if ok {
			initialized = append(initialized, withVoltage{c, v})
		}
	}
	sort.Slice(initialized, func(i, j int) bool { return initialized[i].v > initialized[j].v })
	if n > len(initialized) {
		n = len(initialized)
	}
	out := make([]*cell.Cell, n)
	for i := 0; i < n; i++ {
		out[i] = initialized[i].c
	}
	return out
}

// CheckHeartbeats forwards the heartbeat check to every module.
func (p *Pack) CheckHeartbeats() {
	for _, m := range p.Modules {
		m.CheckHeartbeat()
	}
}

// SetNow overrides the clock for deterministic tests, cascading to the
// pack's own measurements and every owned module.
func (p *Pack) SetNow(now func() time.Time) {
	p.now = now
	p.Voltage.SetNow(now)
	p.Current.SetNow(now)
	for _, m := range p.Modules {
		m.SetNow(now)
	}
}
