// Package module implements one series string of cells governed by a
// single slave microcontroller.
package module

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/eventbus"
	"github.com/samsamfire/bmsmaster/pkg/measurement"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

// ESPTimeout is how long a module may go without a heartbeat before
// CheckHeartbeat fires OnHeartbeatMissed.
const ESPTimeout = 20 * time.Second

// TempLimits are the module-temperature classification thresholds
// (chip temp and the two module temps share these; the source has no
// per-location variant).
var TempLimits = measurement.Limits{
	ImplausibleLower: -60,
	CriticalLower:    -20,
	WarningLower:     0,
	WarningUpper:     55,
	CriticalUpper:    65,
	ImplausibleUpper: 120,
}

// VoltageLimits derives module-voltage limits by summing per-cell limits
// across the series count.
func VoltageLimits(seriesCells int) measurement.Limits {
	n := float64(seriesCells)
	return measurement.Limits{
		ImplausibleLower: cell.VoltageLimits.ImplausibleLower * n,
		CriticalLower:    cell.VoltageLimits.CriticalLower * n,
		WarningLower:     cell.VoltageLimits.WarningLower * n,
		WarningUpper:     cell.VoltageLimits.WarningUpper * n,
		CriticalUpper:    cell.VoltageLimits.CriticalUpper * n,
		ImplausibleUpper: cell.VoltageLimits.ImplausibleUpper * n,
	}
}

// Module owns a fixed-size ordered vector of cells plus its own
// temperature/voltage measurements and heartbeat state. Created at startup
// with a statically configured cell count; never destroyed.
type Module struct {
	ID int

	Cells []*cell.Cell

	Temp1    *measurement.Measurement
	Temp2    *measurement.Measurement
	ChipTemp *measurement.Measurement
	Voltage  *measurement.Measurement

	mu                     sync.Mutex
	lastESPUptimeMs        uint64
	lastESPUptimeInOwnTime time.Time
	hasHeartbeat           bool
	now                    func() time.Time

	onHeartbeat       eventbus.Sink[*Module]
	onHeartbeatMissed eventbus.Sink[*Module]

	logger *logrus.Entry
}

// New constructs a Module with seriesCells cells, sharing the pack-wide SOC
// curve. logger may be nil.
func New(id int, seriesCells int, curve *soccurve.Curve, logger *logrus.Entry) *Module {
	m := &Module{
		ID:     id,
		Cells:  make([]*cell.Cell, seriesCells),
		now:    time.Now,
		logger: logger,
	}
	for i := range m.Cells {
		m.Cells[i] = cell.New(id, i, curve, logger)
	}
	voltageLimits := VoltageLimits(seriesCells)
	m.Temp1 = measurement.New(m, TempLimits, "module.temp1", logger)
	m.Temp2 = measurement.New(m, TempLimits, "module.temp2", logger)
	m.ChipTemp = measurement.New(m, TempLimits, "module.chip_temp", logger)
	m.Voltage = measurement.New(m, voltageLimits, "module.voltage", logger)
	return m
}

func (m *Module) UpdateModuleVoltage(v float64) { m.Voltage.Update(v) }

func (m *Module) UpdateModuleTemps(t1, t2 float64) {
	m.Temp1.Update(t1)
	m.Temp2.Update(t2)
}

func (m *Module) UpdateChipTemp(t float64) { m.ChipTemp.Update(t) }

// UpdateESPUptime stamps the master-side receipt time and fires
// OnHeartbeat. uptimeMs is the slave-reported monotonic uptime in
// milliseconds.
func (m *Module) UpdateESPUptime(uptimeMs uint64) {
	m.mu.Lock()
	m.lastESPUptimeMs = uptimeMs
	m.lastESPUptimeInOwnTime = m.now()
	m.hasHeartbeat = true
	m.mu.Unlock()

	m.onHeartbeat.Fire(m)
}

// CheckHeartbeat fires OnHeartbeatMissed if more than ESPTimeout has
// elapsed since the last heartbeat. If the module has never received a
// heartbeat, this logs and returns without firing anything — a module that has simply not booted yet is not "missed".
func (m *Module) CheckHeartbeat() {
	m.mu.Lock()
	if !m.hasHeartbeat {
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.WithField("module", m.ID).Debug("heartbeat check skipped: never initialized")
		}
		return
	}
	elapsed := m.now().Sub(m.lastESPUptimeInOwnTime)
	m.mu.Unlock()

	if elapsed > ESPTimeout {
		m.onHeartbeatMissed.Fire(m)
	}
}

func (m *Module) OnHeartbeat(listener func(*Module))       { m.onHeartbeat.Subscribe(listener) }
func (m *Module) OnHeartbeatMissed(listener func(*Module)) { m.onHeartbeatMissed.Subscribe(listener) }

// Temp is the mean of module_temp1 and module_temp2. ok is false if either
// is uninitialized.
func (m *Module) Temp() (avg float64, ok bool) {
	t1, ok1 := m.Temp1.Value()
	t2, ok2 := m.Temp2.Value()
	if !ok1 || !ok2 {
		return 0, false
	}
	return (t1 + t2) / 2, true
}

// MinTemp and MaxTemp consider only initialized temperature inputs; ok is
// false only if neither is initialized.
func (m *Module) MinTemp() (float64, bool) { return m.extremeTemp(false) }
func (m *Module) MaxTemp() (float64, bool) { return m.extremeTemp(true) }

func (m *Module) extremeTemp(max bool) (float64, bool) {
	t1, ok1 := m.Temp1.Value()
	t2, ok2 := m.Temp2.Value()
	switch {
	case ok1 && ok2:
		if max {
			if t1 > t2 {
				return t1, true
			}
			return t2, true
		}
		if t1 < t2 {
			return t1, true
		}
		return t2, true
	case ok1:
		return t1, true
	case ok2:
		return t2, true
	default:
		return 0, false
	}
}

// SOC is the mean SOC across initialized cells. ok is false if no cell has
// an initialized voltage.
func (m *Module) SOC() (float64, bool) {
	var sum float64
	var n int
	for _, c := range m.Cells {
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

// LoadAdjustedSOC is the mean load-adjusted SOC across initialized cells.
func (m *Module) LoadAdjustedSOC(current float64) (float64, bool) {
	var sum float64
	var n int
	for _, c := range m.Cells {
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

// MinVoltageCell and MaxVoltageCell return the cell with the lowest/highest
// initialized voltage. ok is false if no cell has an initialized voltage.
func (m *Module) MinVoltageCell() (*cell.Cell, bool) { return m.extremeVoltageCell(false) }
func (m *Module) MaxVoltageCell() (*cell.Cell, bool) { return m.extremeVoltageCell(true) }

func (m *Module) extremeVoltageCell(max bool) (*cell.Cell, bool) {
	var best *cell.Cell
	var bestV float64
	for _, c := range m.Cells {
		v, ok := c.Voltage.Value()
		if !ok {
			continue
		}
		if best == nil || (max && v > bestV) || (!max && v < bestV) {
			best = c
			bestV = v
		}
	}
	return best, best != nil
}

// SetNow overrides the clock for deterministic tests, cascading to the
// module's own measurements and every owned cell.
func (m *Module) SetNow(now func() time.Time) {
	m.now = now
	m.Temp1.SetNow(now)
	m.Temp2.SetNow(now)
	m.ChipTemp.SetNow(now)
	m.Voltage.SetNow(now)
	for _, c := range m.Cells {
		c.SetNow(now)
	}
}
