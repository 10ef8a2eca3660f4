// Package measurement implements the cell/module/pack-level scalar reading:
// a typed, windowed, threshold-classified value with hysteresis-style
// escalation counters, generalizing an emergency-bit debounce pattern
// (raise/clear one manufacturer error bit, counting consecutive
// occurrences before acting) from a single bit to four concentric
// severity zones.
package measurement

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/eventbus"
)

// Zone is the classification of a value against its Limits, in increasing
// severity.
type Zone int

const (
	Ok Zone = iota
	Warning
	Critical
	Implausible
)

func (z Zone) String() string {
	switch z {
	case Ok:
		return "ok"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	case Implausible:
		return "implausible"
	default:
		return "unknown"
	}
}

// Limits is a frozen record of the six thresholds bounding one measurement.
// "Lower"/"Upper" name which side of the ok band a threshold bounds;
// "Warning"/"Critical"/"Implausible" name severity, not arithmetic
// magnitude — the severity ordering is warning < critical < implausible on
// both sides, meaning numerically ImplausibleLower is the most extreme
// (smallest) lower threshold and ImplausibleUpper the most extreme
// (largest) upper threshold:
//
//	ImplausibleLower < CriticalLower < WarningLower < [ok band] < WarningUpper < CriticalUpper < ImplausibleUpper
//
// A lower implausible bound can legitimately be a negative sentinel: it is
// the outermost, least restrictive bound that classification only reaches
// once every narrower band has been ruled out. The implausible and
// critical bounds are open: a value exactly equal to one of them belongs to
// the milder side of it. The warning bounds are closed: a value exactly
// equal to WarningLower or WarningUpper is already a warning.
type Limits struct {
	ImplausibleLower float64
	CriticalLower    float64
	WarningLower     float64
	WarningUpper     float64
	CriticalUpper    float64
	ImplausibleUpper float64
}

// Classify returns the worst zone v falls into: implausible > critical >
// warning > ok. A value exactly equal to ImplausibleLower/Upper or
// CriticalLower/Upper belongs to the milder band on that side and escalates
// only once strictly beyond the bound; a value exactly equal to
// WarningLower/Upper is classified Warning.
func (l Limits) Classify(v float64) Zone {
	switch {
	case v < l.ImplausibleLower || v > l.ImplausibleUpper:
		return Implausible
	case v < l.CriticalLower || v > l.CriticalUpper:
		return Critical
	case v <= l.WarningLower || v >= l.WarningUpper:
		return Warning
	default:
		return Ok
	}
}

// Owner is the non-owning back-reference a Measurement carries purely so
// emitted events can pass the owning domain object along. It is an opaque
// `any` resolved by the caller constructing the Measurement (typically
// *cell.Cell, *module.Module, or *pack.Pack); Measurement never
// dereferences it itself.
type Owner = any

// Measurement is the mutable cell/module/pack-level reading: a value, a
// timestamp, a zone classification, and per-zone escalation counters. The
// zero value is a valid, uninitialized Measurement once Limits and Owner
// are set via New.
type Measurement struct {
	mu     sync.Mutex
	limits Limits
	owner  Owner
	logger *logrus.Entry
	name   string // for logging only, e.g. "cell(2,7).voltage"

	hasValue  bool
	value     float64
	timestamp time.Time
	zone      Zone

	implausibleCounter uint32
	criticalCounter    uint32
	warningCounter     uint32

	onWarning     eventbus.Sink[Owner]
	onCritical    eventbus.Sink[Owner]
	onImplausible eventbus.Sink[Owner]

	now func() time.Time
}

// New constructs a Measurement for the given owner and limits. logger may
// be nil, in which case logging is skipped.
func New(owner Owner, limits Limits, name string, logger *logrus.Entry) *Measurement {
	return &Measurement{
		limits: limits,
		owner:  owner,
		logger: logger,
		name:   name,
		now:    time.Now,
	}
}

// OnWarning, OnCritical, OnImplausible register listeners fired with the
// owner on every Update that classifies the value into that zone, including
// repeated updates that stay in the same zone. No event
// fires on return-to-ok — there is deliberately no OnOk (see DESIGN.md Open
// Question #1).
func (m *Measurement) OnWarning(listener func(Owner))     { m.onWarning.Subscribe(listener) }
func (m *Measurement) OnCritical(listener func(Owner))    { m.onCritical.Subscribe(listener) }
func (m *Measurement) OnImplausible(listener func(Owner)) { m.onImplausible.Subscribe(listener) }

// Update sets value and timestamp, reclassifies, advances exactly one
// escalation counter (or resets all three on a return to Ok), and emits
// exactly one event for the zone the value falls into (none for Ok).
//
// Counter policy (DESIGN.md Open Question #1): the counter for the active
// zone increments; counters for every zone strictly more severe are reset
// to zero. The counter of a zone strictly less severe is never touched by
// a more severe classification; it is reset only by Ok or by a
// classification less severe than its own zone. A value oscillating
// warning/critical without ever returning to Ok therefore keeps the warning
// counter climbing, while each warning update resets the critical counter.
func (m *Measurement) Update(v float64) {
	m.mu.Lock()
	now := m.now()
	m.hasValue = true
	m.value = v
	m.timestamp = now
	zone := m.limits.Classify(v)
	prevZone := m.zone
	m.zone = zone

	switch zone {
	case Implausible:
		m.implausibleCounter++
	case Critical:
		m.implausibleCounter = 0
		m.criticalCounter++
	case Warning:
		m.implausibleCounter = 0
		m.criticalCounter = 0
		m.warningCounter++
	case Ok:
		m.implausibleCounter = 0
		m.criticalCounter = 0
		m.warningCounter = 0
	}
	owner := m.owner
	logger := m.logger
	name := m.name
	m.mu.Unlock()

	if logger != nil && zone != prevZone {
		logger.WithFields(logrus.Fields{
			"measurement": name,
			"value":       v,
			"zone":        zone.String(),
		}).Debug("measurement zone changed")
	}

	switch zone {
	case Warning:
		m.onWarning.Fire(owner)
	case Critical:
		m.onCritical.Fire(owner)
	case Implausible:
		m.onImplausible.Fire(owner)
	}
}

// Value returns the current value and whether the measurement has ever
// been updated: callers must check ok before trusting value.
func (m *Measurement) Value() (value float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.hasValue
}

// Initialized reports whether Update has ever been called.
func (m *Measurement) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasValue
}

// Zone returns the most recent classification. Zero value (Ok) if never
// updated.
func (m *Measurement) Zone() Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zone
}

// AgeSeconds returns the elapsed time since the last Update. The caller
// must have already checked Initialized(); calling this on a never-updated
// Measurement returns the age since the Go zero time, an arbitrarily large
// number, which is deliberately useless here — callers needing "infinitely
// old when uninitialized" semantics (CellList staleness queries) should use
// AgeSecondsOrInf instead.
func (m *Measurement) AgeSeconds() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.timestamp).Seconds()
}

// AgeSecondsOrInf returns AgeSeconds, or +Inf if the measurement was never
// updated: uninitialized readings are treated as infinitely old by
// staleness checks.
func (m *Measurement) AgeSecondsOrInf() float64 {
	m.mu.Lock()
	hasValue := m.hasValue
	m.mu.Unlock()
	if !hasValue {
		return math.Inf(1)
	}
	return m.AgeSeconds()
}

// Counters returns the three escalation counters, for tests and the safety
// supervisor's debounce thresholds.
func (m *Measurement) Counters() (implausible, critical, warning uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.implausibleCounter, m.criticalCounter, m.warningCounter
}

// Name returns the measurement's logging label (e.g. "cell.voltage"), for
// callers such as the safety supervisor that need to report which
// measurement triggered an action.
func (m *Measurement) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Limits returns the classification thresholds.
func (m *Measurement) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// SetNow overrides the clock used by Update/AgeSeconds, for deterministic
// tests that advance a simulated clock instead of sleeping in real time.
func (m *Measurement) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
