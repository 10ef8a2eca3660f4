package pack

import (
	"time"

	"github.com/samsamfire/bmsmaster/pkg/cell"
)

// CellList is a first-class, O(N) query view over a sequence of cell
// references. It never owns the cells it wraps.
type CellList struct {
	cells []*cell.Cell
}

// NewCellList wraps the given cells. The slice is copied so later mutation
// of the caller's slice does not affect the view.
func NewCellList(cells []*cell.Cell) CellList {
	cp := make([]*cell.Cell, len(cells))
	copy(cp, cells)
	return CellList{cells: cp}
}

// Cells returns the underlying cells in order.
func (l CellList) Cells() []*cell.Cell { return l.cells }

// Len returns the number of cells in the view.
func (l CellList) Len() int { return len(l.cells) }

// InRelaxTime reports whether any cell in the view is currently relaxing.
func (l CellList) InRelaxTime() bool {
	for _, c := range l.cells {
		if c.IsRelaxing() {
			return true
		}
	}
	return false
}

// CurrentlyBalancing reports whether any cell in the view is discharging.
func (l CellList) CurrentlyBalancing() bool {
	for _, c := range l.cells {
		if c.IsBalanceDischarging() {
			return true
		}
	}
	return false
}

// HighestVoltage and LowestVoltage consider only initialized cell
// voltages; ok is false if the view is empty or has no initialized cell.
func (l CellList) HighestVoltage() (float64, bool) { return l.extremeVoltage(true, false) }
func (l CellList) LowestVoltage() (float64, bool)  { return l.extremeVoltage(false, false) }

// HighestAccurateVoltage and LowestAccurateVoltage are the accurate-voltage
// analogues, used by the balancer.
func (l CellList) HighestAccurateVoltage() (float64, bool) { return l.extremeVoltage(true, true) }
func (l CellList) LowestAccurateVoltage() (float64, bool)  { return l.extremeVoltage(false, true) }

func (l CellList) extremeVoltage(max bool, accurate bool) (float64, bool) {
	var best float64
	var found bool
	for _, c := range l.cells {
		m := c.Voltage
		if accurate {
			m = c.AccurateVoltage
		}
		v, ok := m.Value()
		if !ok {
			continue
		}
		if !found || (max && v > best) || (!max && v < best) {
			best = v
			found = true
		}
	}
	return best, found
}

// WithVoltageAbove returns the cells whose voltage is initialized and
// strictly above v.
func (l CellList) WithVoltageAbove(v float64) []*cell.Cell {
	return l.filterVoltage(v, false)
}

// WithAccurateVoltageAbove is the accurate-voltage analogue.
func (l CellList) WithAccurateVoltageAbove(v float64) []*cell.Cell {
	return l.filterVoltage(v, true)
}

func (l CellList) filterVoltage(v float64, accurate bool) []*cell.Cell {
	var out []*cell.Cell
	for _, c := range l.cells {
		m := c.Voltage
		if accurate {
			m = c.AccurateVoltage
		}
		value, ok := m.Value()
		if ok && value > v {
			out = append(out, c)
		}
	}
	return out
}

// MaxDiff is highest - lowest voltage across initialized cells. ok is
// false if fewer than one cell has an initialized voltage (an empty spread
// is meaningless with zero samples).
func (l CellList) MaxDiff() (float64, bool) {
	hi, ok1 := l.HighestVoltage()
	lo, ok2 := l.LowestVoltage()
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi - lo, true
}

// MaxSOCDiff is the SOC analogue of MaxDiff.
func (l CellList) MaxSOCDiff() (float64, bool) {
	var hi, lo float64
	found := false
	for _, c := range l.cells {
		soc, ok := c.SOC()
		if !ok {
			continue
		}
		if !found {
			hi, lo = soc, soc
			found = true
			continue
		}
		if soc > hi {
			hi = soc
		}
		if soc < lo {
			lo = soc
		}
	}
	if !found {
		return 0, false
	}
	return hi - lo, true
}

// HasVoltageOlderThan reports whether any cell's voltage age exceeds ageS
// seconds. An uninitialized voltage is treated as infinitely old.
func (l CellList) HasVoltageOlderThan(ageS float64) bool {
	for _, c := range l.cells {
		if c.Voltage.AgeSecondsOrInf() > ageS {
			return true
		}
	}
	return false
}

// WithVoltageOlderThan returns the cells whose voltage age exceeds ageS
// seconds (uninitialized treated as infinitely old).
func (l CellList) WithVoltageOlderThan(ageS float64) []*cell.Cell {
	var out []*cell.Cell
	for _, c := range l.cells {
		if c.Voltage.AgeSecondsOrInf() > ageS {
			out = append(out, c)
		}
	}
	return out
}

// SetRelaxTime bulk-applies a relax window to every cell in the view.
func (l CellList) SetRelaxTime(d time.Duration) {
	for _, c := range l.cells {
		c.SetRelaxTime(d)
	}
}
