// Package safety implements the safety supervisor: an
// event-driven escalation from warning through critical to implausible,
// with counter-based debouncing before triggering a relay-open/zero-limit
// safety disconnect, plus the allow_charge/allow_discharge hysteresis.
package safety

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/eventbus"
	"github.com/samsamfire/bmsmaster/pkg/measurement"
	"github.com/samsamfire/bmsmaster/pkg/module"
	"github.com/samsamfire/bmsmaster/pkg/pack"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// CriticalCounterThreshold and ImplausibleCounterThreshold are the debounce
// thresholds past which the supervisor triggers a safety disconnect.
const (
	CriticalCounterThreshold    = 4
	ImplausibleCounterThreshold = 20
)

// StalenessCheckInterval is the supervisor's periodic freshness-check
// period.
const StalenessCheckInterval = 5 * time.Second

// Staleness thresholds for the periodic cell-voltage freshness check.
const (
	StalenessCriticalAfter = 7200 * time.Second
	StalenessWarningAfter  = 60 * time.Second
)

// Hysteresis SOC thresholds driving allow_charge/allow_discharge.
const (
	DischargeDisallowSOC = 0.37
	DischargeAllowSOC    = 0.41
	ChargeDisallowSOC    = 0.93
	ChargeAllowSOC       = 0.90
)

// Relay names for the safety disconnect action.
const (
	RelayBatteryPlus      = "battery_plus"
	RelayBatteryPrecharge = "battery_precharge"
	RelayBatteryMinus     = "battery_minus"
	RelayAux1             = "1"
	RelayAux2             = "2"
)

var allRelays = []string{RelayBatteryPlus, RelayBatteryPrecharge, RelayBatteryMinus, RelayAux1, RelayAux2}

// LimitKind names one of the four CAN limit topics zeroed on disconnect.
type LimitKind int

const (
	LimitMaxVoltage LimitKind = iota
	LimitMinVoltage
	LimitMaxChargeCurrent
	LimitMaxDischargeCurrent
)

func (k LimitKind) String() string {
	switch k {
	case LimitMaxVoltage:
		return "max_voltage"
	case LimitMinVoltage:
		return "min_voltage"
	case LimitMaxChargeCurrent:
		return "max_charge_current"
	case LimitMaxDischargeCurrent:
		return "max_discharge_current"
	default:
		return "unknown"
	}
}

var allLimits = []LimitKind{LimitMaxVoltage, LimitMinVoltage, LimitMaxChargeCurrent, LimitMaxDischargeCurrent}

// RelayCommand is published for every relay the disconnect action opens.
type RelayCommand struct {
	Relay string
	On    bool
}

// LimitCommand is published for every limit the disconnect action zeroes.
type LimitCommand struct {
	Kind  LimitKind
	Value float64
}

// Supervisor walks a Pack at construction, subscribing to every
// Measurement's events and every Module's heartbeat events, then reacts
// according to its fixed escalation policy table.
type Supervisor struct {
	pack   *pack.Pack
	curve  *soccurve.Curve
	now    func() time.Time
	logger *logrus.Entry

	mu             sync.Mutex
	allowCharge    bool
	allowDischarge bool

	onRelayCommand   eventbus.Sink[RelayCommand]
	onLimitCommand   eventbus.Sink[LimitCommand]
	onDisconnect     eventbus.Sink[string]
	onAllowCharge    eventbus.Sink[bool]
	onAllowDischarge eventbus.Sink[bool]
}

// New constructs a Supervisor over p and immediately wires every
// subscription. logger may be nil.
func New(p *pack.Pack, curve *soccurve.Curve, logger *logrus.Entry) *Supervisor {
	s := &Supervisor{
		pack:           p,
		curve:          curve,
		now:            time.Now,
		logger:         logger,
		allowCharge:    true,
		allowDischarge: true,
	}
	s.wireMeasurements()
	s.wireHeartbeats()
	return s
}

// allMeasurements lists every pack, module and cell Measurement, so that
// wireMeasurements can subscribe to each one's events.
func (s *Supervisor) allMeasurements() []*measurement.Measurement {
	all := []*measurement.Measurement{s.pack.Voltage, s.pack.Current}
	for _, m := range s.pack.Modules {
		all = append(all, m.Temp1, m.Temp2, m.ChipTemp, m.Voltage)
		for _, c := range m.Cells {
			all = append(all, c.Voltage, c.AccurateVoltage)
		}
	}
	return all
}

func (s *Supervisor) wireMeasurements() {
	for _, m := range s.allMeasurements() {
		m := m
		m.OnWarning(func(owner any) { s.handleWarning(m, owner) })
		m.OnCritical(func(owner any) { s.handleCritical(m, owner) })
		m.OnImplausible(func(owner any) { s.handleImplausible(m, owner) })
	}
}

func (s *Supervisor) wireHeartbeats() {
	for _, m := range s.pack.Modules {
		m.OnHeartbeatMissed(func(mod *module.Module) { s.handleHeartbeatMissed(mod) })
	}
}

func (s *Supervisor) logf(level logrus.Level, msg string, fields logrus.Fields) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(fields).Log(level, msg)
}

func (s *Supervisor) handleWarning(m *measurement.Measurement, owner any) {
	s.logf(logrus.WarnLevel, "measurement entered warning zone", logrus.Fields{
		"measurement": m.Name(),
	})
}

func (s *Supervisor) handleCritical(m *measurement.Measurement, owner any) {
	_, critical, _ := m.Counters()
	s.logf(logrus.ErrorLevel, "measurement entered critical zone", logrus.Fields{
		"measurement": m.Name(),
		"counter":     critical,
	})
	if critical > CriticalCounterThreshold {
		s.Disconnect("critical threshold exceeded: " + m.Name())
	}
}

func (s *Supervisor) handleImplausible(m *measurement.Measurement, owner any) {
	implausible, _, _ := m.Counters()
	s.logf(logrus.ErrorLevel, "measurement entered implausible zone", logrus.Fields{
		"measurement": m.Name(),
		"counter":     implausible,
	})
	if implausible > ImplausibleCounterThreshold {
		s.Disconnect("implausible threshold exceeded: " + m.Name())
	}
}

func (s *Supervisor) handleHeartbeatMissed(mod *module.Module) {
	s.logf(logrus.WarnLevel, "module heartbeat missed", logrus.Fields{
		"module": mod.ID,
	})
}

// CheckStaleness runs the periodic (5 s) cell-voltage freshness check
//: any cell voltage older than 7200 s triggers critical +
// disconnect; older than 60 s logs a warning only.
func (s *Supervisor) CheckStaleness() {
	for _, c := range s.pack.Cells().Cells() {
		age := c.Voltage.AgeSecondsOrInf()
		switch {
		case age > StalenessCriticalAfter.Seconds():
			s.logf(logrus.ErrorLevel, "cell voltage stale beyond critical threshold", logrus.Fields{
				"module": c.ModuleID, "cell": c.CellID, "age_seconds": age,
			})
			s.Disconnect("cell voltage stale beyond critical threshold")
		case age > StalenessWarningAfter.Seconds():
			s.logf(logrus.WarnLevel, "cell voltage stale", logrus.Fields{
				"module": c.ModuleID, "cell": c.CellID, "age_seconds": age,
			})
		}
	}
}

// Disconnect is the idempotent safety disconnect action:
// open every relay, zero every published current/voltage limit, publish
// the reason. Always safe to call again.
func (s *Supervisor) Disconnect(reason string) {
	for _, relay := range allRelays {
		s.onRelayCommand.Fire(RelayCommand{Relay: relay, On: false})
	}
	for _, kind := range allLimits {
		s.onLimitCommand.Fire(LimitCommand{Kind: kind, Value: 0})
	}
	s.onDisconnect.Fire(reason)
}

// CheckChargeDischargeLimits re-evaluates allow_charge/allow_discharge
// against the pack's current cell-voltage extremes, with hysteresis.
// Publishes a transition only when the flag actually changes.
func (s *Supervisor) CheckChargeDischargeLimits() {
	cells := s.pack.Cells()

	lowest, okLow := cells.LowestVoltage()
	if okLow {
		dischargeDisallow, err1 := s.curve.SOCToVoltage(DischargeDisallowSOC)
		dischargeAllow, err2 := s.curve.SOCToVoltage(DischargeAllowSOC)
		if err1 == nil && err2 == nil {
			s.mu.Lock()
			prev := s.allowDischarge
			switch {
			case lowest <= dischargeDisallow:
				s.allowDischarge = false
			case lowest >= dischargeAllow:
				s.allowDischarge = true
			}
			next := s.allowDischarge
			s.mu.Unlock()
			if next != prev {
				s.onAllowDischarge.Fire(next)
			}
		}
	}

	highest, okHigh := cells.HighestVoltage()
	if okHigh {
		chargeDisallow, err1 := s.curve.SOCToVoltage(ChargeDisallowSOC)
		chargeAllow, err2 := s.curve.SOCToVoltage(ChargeAllowSOC)
		if err1 == nil && err2 == nil {
			s.mu.Lock()
			prev := s.allowCharge
			switch {
			case highest >= chargeDisallow:
				s.allowCharge = false
			case highest <= chargeAllow:
				s.allowCharge = true
			}
			next := s.allowCharge
			s.mu.Unlock()
			if next != prev {
				s.onAllowCharge.Fire(next)
			}
		}
	}
}

func (s *Supervisor) AllowCharge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowCharge
}

func (s *Supervisor) AllowDischarge() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowDischarge
}

func (s *Supervisor) OnRelayCommand(listener func(RelayCommand)) { s.onRelayCommand.Subscribe(listener) }
func (s *Supervisor) OnLimitCommand(listener func(LimitCommand)) { s.onLimitCommand.Subscribe(listener) }
func (s *Supervisor) OnDisconnect(listener func(reason string))  { s.onDisconnect.Subscribe(listener) }
func (s *Supervisor) OnAllowCharge(listener func(bool))          { s.onAllowCharge.Subscribe(listener) }
func (s *Supervisor) OnAllowDischarge(listener func(bool))       { s.onAllowDischarge.Subscribe(listener) }

// SetNow overrides the clock for deterministic tests.
func (s *Supervisor) SetNow(now func() time.Time) {
	s.now = now
}
