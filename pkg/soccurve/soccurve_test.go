package soccurve

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoltageToSOCExactHit(t *testing.T) {
	curve := Default()
	soc, err := curve.VoltageToSOC(4.136)
	require.NoError(t, err)
	require.InDelta(t, 1.00, soc, 1e-9)
}

func TestVoltageToSOCRejectsOutOfDomain(t *testing.T) {
	curve := Default()
	_, err := curve.VoltageToSOC(0)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = curve.VoltageToSOC(5)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = curve.VoltageToSOC(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestSOCToVoltageRejectsOutOfDomain(t *testing.T) {
	curve := Default()
	_, err := curve.SOCToVoltage(-0.01)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = curve.SOCToVoltage(1.01)
	require.ErrorIs(t, err, ErrOutOfRange)
}

// soc_to_voltage(voltage_to_soc(v)) ~= v within +-0.01V for v in [3.42, 4.136]
func TestRoundTripVoltageSOCVoltage(t *testing.T) {
	curve := Default()
	for v := 3.42; v <= 4.136; v += 0.01 {
		soc, err := curve.VoltageToSOC(v)
		require.NoError(t, err)
		vBack, err := curve.SOCToVoltage(soc)
		require.NoError(t, err)
		require.InDeltaf(t, v, vBack, 0.01, "v=%v soc=%v vBack=%v", v, soc, vBack)
	}
}

// voltage_to_soc(soc_to_voltage(s)) ~= s within +-0.005 for s in [0, 1]
func TestRoundTripSOCVoltageSOC(t *testing.T) {
	curve := Default()
	for s := 0.0; s <= 1.0; s += 0.01 {
		v, err := curve.SOCToVoltage(s)
		require.NoError(t, err)
		sBack, err := curve.VoltageToSOC(v)
		require.NoError(t, err)
		require.InDeltaf(t, s, sBack, 0.005, "s=%v v=%v sBack=%v", s, v, sBack)
	}
}

func TestVoltageToSOCExtrapolatesOutsideTable(t *testing.T) {
	curve := Default()
	soc, err := curve.VoltageToSOC(0.5)
	require.NoError(t, err)
	require.Less(t, soc, 0.0)
	require.False(t, math.IsNaN(soc))
}

func TestNewRejectsNonMonotoneVoltage(t *testing.T) {
	_, err := New([]struct {
		Voltage float64
		SOC     float64
	}{{1.0, 0.0}, {0.5, 0.1}})
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestNewRejectsDecreasingSOC(t *testing.T) {
	_, err := New([]struct {
		Voltage float64
		SOC     float64
	}{{1.0, 0.5}, {2.0, 0.1}})
	require.ErrorIs(t, err, ErrOutOfRange)
}
