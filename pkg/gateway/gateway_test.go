package gateway

import "testing"

func mustEqual(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestModuleUptimeTopicConvertsToOneBasedSlaveID(t *testing.T) {
	mustEqual(t, ModuleUptimeTopic(0), "esp-module/1/uptime")
	mustEqual(t, ModuleUptimeTopic(7), "esp-module/8/uptime")
}

func TestCellVoltageTopicConvertsBothIndices(t *testing.T) {
	mustEqual(t, CellVoltageTopic(0, 0), "esp-module/1/cell/1/voltage")
	mustEqual(t, CellAccurateVoltageTopic(2, 5), "esp-module/3/accurate/cell/6/voltage")
}

func TestParseModuleIndexFromTopicRoundTrips(t *testing.T) {
	idx, ok := ParseModuleIndexFromTopic(ModuleUptimeTopic(3))
	if !ok || idx != 3 {
		t.Fatalf("got (%d, %v), want (3, true)", idx, ok)
	}
}

func TestParseModuleIndexFromTopicRejectsNonMatching(t *testing.T) {
	if _, ok := ParseModuleIndexFromTopic("master/uptime"); ok {
		t.Fatal("expected no match")
	}
	if _, ok := ParseModuleIndexFromTopic("esp-module/abc/uptime"); ok {
		t.Fatal("expected no match for non-numeric slave id")
	}
}

func TestParseCellIndexFromTopic(t *testing.T) {
	idx, ok := ParseCellIndexFromTopic(CellVoltageTopic(0, 4))
	if !ok || idx != 4 {
		t.Fatalf("got (%d, %v), want (4, true)", idx, ok)
	}
}

func TestCANLimitTopicSetAndReset(t *testing.T) {
	mustEqual(t, CANLimitTopic(CANLimitMaxVoltage, false), "master/can/limits/max_voltage/set")
	mustEqual(t, CANLimitTopic(CANLimitMaxVoltage, true), "master/can/limits/max_voltage/reset")
}

func TestRelayTopic(t *testing.T) {
	mustEqual(t, RelayTopic("battery_plus"), "master/relays/battery_plus/set")
}
