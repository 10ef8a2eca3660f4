// Package balancer implements the periodic passive-balancing decision
// loop: a 5-second tick that selects which cells to discharge, for how
// long, under which voltage-spread regime.
package balancer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/eventbus"
	"github.com/samsamfire/bmsmaster/pkg/pack"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// TickInterval is the balancer's scheduling period.
const TickInterval = 5 * time.Second

// AccurateReadingStaleAfter is how old an accurate-voltage reading may get
// before the balancer requests a fresh one instead of deciding.
const AccurateReadingStaleAfter = 20 * time.Second

// Rate limits for per-module accurate-read requests, varying with whether
// the balancer considers itself actively balancing.
const (
	AccurateReadRequestIntervalActive = 10 * time.Second
	AccurateReadRequestIntervalIdle   = 120 * time.Second
)

// DefaultMinDiffForBalancing and DefaultMaxDiffForBalancing are the
// config-overridable spread bounds outside of which the balancer does
// nothing (too small a spread to bother, or too large a spread to trust).
const (
	DefaultMinDiffForBalancing = 0.003
	DefaultMaxDiffForBalancing = 0.5
)

// regime is one row of the balancer's voltage-spread decision table.
type regime struct {
	diffAbove        float64
	relaxTime        time.Duration
	dischargeTime    time.Duration
	effectiveMinDiff float64
}

// regimes is checked in order; the first row whose diffAbove the observed
// diff satisfies applies. The final row (diffAbove == 0) always matches.
var regimes = []regime{
	{diffAbove: 0.010, relaxTime: 5 * time.Second, dischargeTime: 120 * time.Second, effectiveMinDiff: 0.010},
	{diffAbove: 0.005, relaxTime: 10 * time.Second, dischargeTime: 60 * time.Second, effectiveMinDiff: 0.005},
	{diffAbove: 0, relaxTime: 20 * time.Second, dischargeTime: 30 * time.Second, effectiveMinDiff: 0.003},
}

// DiffReport is published on every tick that reaches the spread
// computation.
type DiffReport struct {
	Diff float64
	Hi   float64
	Lo   float64
}

// Balancer runs the periodic cell-selection algorithm over a Pack.
type Balancer struct {
	pack  *pack.Pack
	curve *soccurve.Curve
	now   func() time.Time

	mu                  sync.Mutex
	enabled             bool
	ignoreSlaves        map[int]bool
	minDiffForBalancing float64
	maxDiffForBalancing float64
	active              bool
	lastAccurateRequest map[int]time.Time

	onDiffReport          eventbus.Sink[DiffReport]
	onAccurateReadRequest eventbus.Sink[int] // module id, 0-based
	onUnsafeSpread        eventbus.Sink[DiffReport]

	logger *logrus.Entry
}

// New constructs a Balancer over pack, disabled by default. logger may be nil.
func New(p *pack.Pack, curve *soccurve.Curve, logger *logrus.Entry) *Balancer {
	return &Balancer{
		pack:                p,
		curve:               curve,
		now:                 time.Now,
		ignoreSlaves:        make(map[int]bool),
		minDiffForBalancing: DefaultMinDiffForBalancing,
		maxDiffForBalancing: DefaultMaxDiffForBalancing,
		lastAccurateRequest: make(map[int]time.Time),
		logger:              logger,
	}
}

func (b *Balancer) OnDiffReport(listener func(DiffReport))     { b.onDiffReport.Subscribe(listener) }
func (b *Balancer) OnAccurateReadRequest(listener func(int))    { b.onAccurateReadRequest.Subscribe(listener) }
func (b *Balancer) OnUnsafeSpread(listener func(DiffReport))    { b.onUnsafeSpread.Subscribe(listener) }

// SetEnabled toggles the balancer (wired to
// master/core/config/balancing_enabled/set).
func (b *Balancer) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// SetIgnoreSlaves replaces the set of module indices (0-based) to exclude
// from balancing (wired to master/core/config/balancing_ignore_slaves/set).
func (b *Balancer) SetIgnoreSlaves(moduleIDs []int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ignoreSlaves = make(map[int]bool, len(moduleIDs))
	for _, id := range moduleIDs {
		b.ignoreSlaves[id] = true
	}
}

// SetMinDiffForBalancing and SetMaxDiffForBalancing override the default
// spread bounds.
func (b *Balancer) SetMinDiffForBalancing(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.minDiffForBalancing = v
}

func (b *Balancer) SetMaxDiffForBalancing(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxDiffForBalancing = v
}

func (b *Balancer) snapshotConfig() (enabled bool, ignore map[int]bool, minDiff, maxDiff float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ignoreCopy := make(map[int]bool, len(b.ignoreSlaves))
	for k, v := range b.ignoreSlaves {
		ignoreCopy[k] = v
	}
	return b.enabled, ignoreCopy, b.minDiffForBalancing, b.maxDiffForBalancing
}

func (b *Balancer) possibleCells(ignore map[int]bool) []*cell.Cell {
	var out []*cell.Cell
	for _, c := range b.pack.Cells().Cells() {
		if ignore[c.ModuleID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Tick runs one iteration of the balancing algorithm.
func (b *Balancer) Tick() {
	enabled, ignore, minDiff, maxDiff := b.snapshotConfig()
	if !enabled {
		return
	}

	cells := b.possibleCells(ignore)
	possible := pack.NewCellList(cells)

	if possible.InRelaxTime() || possible.CurrentlyBalancing() {
		return
	}

	if b.anyAccurateReadingStale(cells) {
		b.requestAccurateReadings(cells)
		return
	}

	hi, okHi := possible.HighestAccurateVoltage()
	lo, okLo := possible.LowestAccurateVoltage()
	if !okHi || !okLo {
		return
	}
	diff := hi - lo

	b.onDiffReport.Fire(DiffReport{Diff: diff, Hi: hi, Lo: lo})

	if diff < minDiff {
		b.setActive(false)
		return
	}
	if diff > maxDiff {
		if b.logger != nil {
			b.logger.WithField("diff", diff).Warn("balancer: unsafe cell voltage spread")
		}
		b.onUnsafeSpread.Fire(DiffReport{Diff: diff, Hi: hi, Lo: lo})
		b.setActive(false)
		return
	}

	r := selectRegime(diff)
	effectiveMinDiff := r.effectiveMinDiff
	if minDiff > effectiveMinDiff {
		effectiveMinDiff = minDiff
	}

	possible.SetRelaxTime(r.relaxTime)
	b.setActive(true)

	floor, err := b.curve.SOCToVoltage(0.15)
	if err != nil {
		floor = 0
	}
	requiredVoltage := lo + effectiveMinDiff
	if floor > requiredVoltage {
		requiredVoltage = floor
	}

	for _, c := range possible.WithAccurateVoltageAbove(requiredVoltage) {
		if err := c.StartBalanceDischarge(int(r.dischargeTime.Seconds())); err != nil && b.logger != nil {
			b.logger.WithError(err).WithField("cell", c.CellID).Warn("balancer: discharge request failed")
		}
	}
}

func selectRegime(diff float64) regime {
	for _, r := range regimes {
		if diff > r.diffAbove {
			return r
		}
	}
	return regimes[len(regimes)-1]
}

func (b *Balancer) anyAccurateReadingStale(cells []*cell.Cell) bool {
	for _, c := range cells {
		if c.AccurateVoltage.AgeSecondsOrInf() > AccurateReadingStaleAfter.Seconds() {
			return true
		}
	}
	return false
}

func (b *Balancer) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Balancer) setActive(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
}

// requestAccurateReadings fires OnAccurateReadRequest for every module
// among cells whose per-module request is not rate-limited.
func (b *Balancer) requestAccurateReadings(cells []*cell.Cell) {
	interval := AccurateReadRequestIntervalIdle
	if b.isActive() {
		interval = AccurateReadRequestIntervalActive
	}

	now := b.now()
	seen := make(map[int]bool)
	var toRequest []int

	b.mu.Lock()
	for _, c := range cells {
		if seen[c.ModuleID] {
			continue
		}
		seen[c.ModuleID] = true
		last, ok := b.lastAccurateRequest[c.ModuleID]
		if ok && now.Sub(last) < interval {
			continue
		}
		b.lastAccurateRequest[c.ModuleID] = now
		toRequest = append(toRequest, c.ModuleID)
	}
	b.mu.Unlock()

	for _, moduleID := range toRequest {
		b.onAccurateReadRequest.Fire(moduleID)
	}
}

// SetNow overrides the clock for deterministic tests.
func (b *Balancer) SetNow(now func() time.Time) {
	b.now = now
}
