// Package cell implements one parallel-group cell: voltage/accurate-voltage
// measurements, balance-pin lifecycle, and SOC lookup.
package cell

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/eventbus"
	"github.com/samsamfire/bmsmaster/pkg/measurement"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// PinState is the balance-pin's tri-state ({off, on, unknown}) instead of
// a bool, since "never reported yet" is a distinct, meaningful state.
type PinState int

const (
	PinUnknown PinState = iota
	PinOff
	PinOn
)

func (p PinState) String() string {
	switch p {
	case PinOff:
		return "off"
	case PinOn:
		return "on"
	default:
		return "unknown"
	}
}

// DefaultRelaxTime is the post-discharge interval during which the cell's
// voltage is unreliable for balancing decisions.
const DefaultRelaxTime = 20 * time.Second

// DefaultInternalImpedanceOhms is the 2-parallel cell's internal resistance
// used for load-adjusted voltage correction.
const DefaultInternalImpedanceOhms = 0.000975

// VoltageLimits are the cell-level classification thresholds, class
// constants shared by every cell. ImplausibleLower is kept negative as an
// intentional sentinel: physically impossible, but a fixed, well-known
// value that a reading can never accidentally equal.
var VoltageLimits = measurement.Limits{
	ImplausibleLower: -1000,
	CriticalLower:    2.5,
	WarningLower:     2.8,
	WarningUpper:     4.18,
	CriticalUpper:    4.25,
	ImplausibleUpper: 5.0,
}

// ErrNoBalanceListener is returned by StartBalanceDischarge when no gateway
// has registered to receive balance requests — a programming error, since
// starting a discharge requires at least one listener registered.
var ErrNoBalanceListener = errors.New("cell: start balance discharge requires a registered listener")

// BalanceRequest is the payload of the outbound "send balance request"
// event, carrying everything the gateway needs to address the message.
type BalanceRequest struct {
	ModuleID        int
	CellID          int
	DurationSeconds int
}

// Cell is one series-position parallel-group, identified by (ModuleID,
// CellID), both 0-based internally.
type Cell struct {
	ModuleID int
	CellID   int

	Voltage         *measurement.Measurement
	AccurateVoltage *measurement.Measurement

	curve *soccurve.Curve
	now   func() time.Time

	mu                sync.Mutex
	pinState          PinState
	lastDischargeTime time.Time
	hasDischarged     bool
	relaxTime         time.Duration

	onBalanceRequest eventbus.Sink[BalanceRequest]
	logger           *logrus.Entry
}

// New constructs a Cell. curve must be the pack-wide SOC curve (shared,
// immutable). logger may be nil.
func New(moduleID, cellID int, curve *soccurve.Curve, logger *logrus.Entry) *Cell {
	c := &Cell{
		ModuleID:  moduleID,
		CellID:    cellID,
		curve:     curve,
		now:       time.Now,
		relaxTime: DefaultRelaxTime,
		logger:    logger,
	}
	c.Voltage = measurement.New(c, VoltageLimits, "cell.voltage", logger)
	c.AccurateVoltage = measurement.New(c, VoltageLimits, "cell.accurate_voltage", logger)
	return c
}

// UpdateVoltage delegates to Voltage.Update.
func (c *Cell) UpdateVoltage(v float64) { c.Voltage.Update(v) }

// UpdateAccurateVoltage delegates to AccurateVoltage.Update.
func (c *Cell) UpdateAccurateVoltage(v float64) { c.AccurateVoltage.Update(v) }

// SOC looks up the cell's open-circuit voltage reading on the SOC curve.
// Returns ok=false if voltage was never initialized.
func (c *Cell) SOC() (soc float64, ok bool) {
	v, hasValue := c.Voltage.Value()
	if !hasValue {
		return 0, false
	}
	soc, err := c.curve.VoltageToSOC(v)
	if err != nil {
		return 0, false
	}
	return soc, true
}

// LoadAdjustedSOC corrects the voltage reading for the voltage drop across
// the cell's internal impedance under the given pack current before
// looking it up on the SOC curve.
func (c *Cell) LoadAdjustedSOC(current float64) (soc float64, ok bool) {
	v, hasValue := c.Voltage.Value()
	if !hasValue {
		return 0, false
	}
	vCorrected := v + current*DefaultInternalImpedanceOhms
	// Clamp into the curve's open domain; a corrected voltage can
	// transiently land on the boundary under extreme load.
	if vCorrected <= 0 {
		vCorrected = 1e-6
	}
	if vCorrected >= 5 {
		vCorrected = 5 - 1e-6
	}
	soc, err := c.curve.VoltageToSOC(vCorrected)
	if err != nil {
		return 0, false
	}
	return soc, true
}

// OnBalanceRequest registers a listener for outbound balance requests
// (normally the gateway's publisher).
func (c *Cell) OnBalanceRequest(listener func(BalanceRequest)) {
	c.onBalanceRequest.Subscribe(listener)
}

// StartBalanceDischarge emits a balance request for durationSeconds and
// marks the pin on. Requires at least one listener registered; otherwise
// this is a programming error and ErrNoBalanceListener is
// returned without emitting anything or changing pin state.
func (c *Cell) StartBalanceDischarge(durationSeconds int) error {
	if c.onBalanceRequest.Len() == 0 {
		return ErrNoBalanceListener
	}
	c.mu.Lock()
	c.pinState = PinOn
	c.mu.Unlock()

	c.onBalanceRequest.Fire(BalanceRequest{
		ModuleID:        c.ModuleID,
		CellID:          c.CellID,
		DurationSeconds: durationSeconds,
	})
	return nil
}

// OnBalanceDischargedStopped handles the slave reporting balancing has
// stopped: when currently on, turns the pin off and starts the relax
// clock. No-op when already off.
func (c *Cell) OnBalanceDischargedStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinState != PinOn {
		return
	}
	c.pinState = PinOff
	c.lastDischargeTime = c.now()
	c.hasDischarged = true
}

// SetPinState is used by the gateway decoder for the
// `esp-module/<n>/cell/<c>/is_balancing` topic: a `1` payload sets the pin
// on directly (the slave, not the master, decided to balance in this
// report), a `0` payload calls OnBalanceDischargedStopped.
func (c *Cell) SetPinState(on bool) {
	if !on {
		c.OnBalanceDischargedStopped()
		return
	}
	c.mu.Lock()
	c.pinState = PinOn
	c.mu.Unlock()
}

// PinState reports the current balance-pin state.
func (c *Cell) PinState() PinState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinState
}

// IsBalanceDischarging reports whether the pin is currently on.
func (c *Cell) IsBalanceDischarging() bool {
	return c.PinState() == PinOn
}

// IsRelaxing reports whether the cell is within its post-discharge relax
// window. Before any discharge has ever happened, lastDischargeTime is the
// Go zero time, so "now - lastDischargeTime" would be enormous; this is
// rendered explicit via hasDischarged rather than relying on a zero-time
// comparison trick, so the uninitialized case reads false unambiguously.
func (c *Cell) IsRelaxing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasDischarged {
		return false
	}
	return c.now().Sub(c.lastDischargeTime) < c.relaxTime
}

// LastDischargeTime returns the last time OnBalanceDischargedStopped ran,
// and whether a discharge has ever completed.
func (c *Cell) LastDischargeTime() (t time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDischargeTime, c.hasDischarged
}

// SetRelaxTime overrides the relax window.
func (c *Cell) SetRelaxTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relaxTime = d
}

// RelaxTime returns the current relax window.
func (c *Cell) RelaxTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relaxTime
}

// SetNow overrides the clock for deterministic tests, cascading to the
// cell's own measurements so their age/staleness calculations observe the
// same virtual clock.
func (c *Cell) SetNow(now func() time.Time) {
	c.now = now
	c.Voltage.SetNow(now)
	c.AccurateVoltage.SetNow(now)
}
