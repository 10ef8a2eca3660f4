package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic builders. Slave IDs on the wire are 1-based; every function here
// takes the internal 0-based module index and converts, so callers never
// have to remember the offset twice.

func slaveID(moduleIndex int) int { return moduleIndex + 1 }

// Inbound (slave -> master).

func ModuleUptimeTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/uptime", slaveID(moduleIndex))
}

func ModuleVoltageTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/module_voltage", slaveID(moduleIndex))
}

func ModuleTempsTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/module_temps", slaveID(moduleIndex))
}

func ChipTempTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/chip_temp", slaveID(moduleIndex))
}

func CellVoltageTopic(moduleIndex, cellIndex int) string {
	return fmt.Sprintf("esp-module/%d/cell/%d/voltage", slaveID(moduleIndex), cellIndex+1)
}

func CellAccurateVoltageTopic(moduleIndex, cellIndex int) string {
	return fmt.Sprintf("esp-module/%d/accurate/cell/%d/voltage", slaveID(moduleIndex), cellIndex+1)
}

func CellIsBalancingTopic(moduleIndex, cellIndex int) string {
	return fmt.Sprintf("esp-module/%d/cell/%d/is_balancing", slaveID(moduleIndex), cellIndex+1)
}

const (
	TotalVoltageTopic = "esp-total/total_voltage"
	TotalCurrentTopic = "esp-total/total_current"

	BalancingEnabledSetTopic      = "master/core/config/balancing_enabled/set"
	BalancingIgnoreSlavesSetTopic = "master/core/config/balancing_ignore_slaves/set"
)

// ParseModuleIndexFromTopic extracts the 0-based module index from an
// `esp-module/<n>/...` topic. ok is false if the topic does not match that
// shape or the slave id is not a positive integer.
func ParseModuleIndexFromTopic(topic string) (index int, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "esp-module" {
		return 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

// ParseCellIndexFromTopic extracts the 0-based cell index from a topic
// ending in `.../cell/<c>/...`.
func ParseCellIndexFromTopic(topic string) (index int, ok bool) {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p == "cell" && i+1 < len(parts) {
			n, err := strconv.Atoi(parts[i+1])
			if err != nil || n < 1 {
				return 0, false
			}
			return n - 1, true
		}
	}
	return 0, false
}

// Outbound (master -> bus).

const (
	MasterUptimeTopic            = "master/uptime"
	MasterCoreAvailableTopic     = "master/core/available"
	SafetyDisconnectReasonTopic  = "master/core/safety_disconnect_reason"
	SOCTopic                     = "master/core/soc"
	LoadAdjustedSOCTopic         = "master/core/load_adjusted_soc"
	CalculatedSystemVoltageTopic = "master/core/calculated_system_voltage"
	SystemPowerTopic             = "master/core/system_power"
	BalancerCellDiffTopic        = "master/core/balancer_cell_diff"
	BalancerMinVoltageTopic      = "master/core/balancer_min_voltage"
	BalancerMaxVoltageTopic      = "master/core/balancer_max_voltage"
)

const (
	CANBatterySOCSetTopic         = "master/can/battery/soc/set"
	CANBatteryVoltageSetTopic     = "master/can/battery/voltage/set"
	CANBatteryCurrentSetTopic     = "master/can/battery/current/set"
	CANBatteryTempSetTopic        = "master/can/battery/temp/set"
	CANBatteryMaxCellTempSetTopic = "master/can/battery/max_cell_temp/set"
	CANBatteryMinCellTempSetTopic = "master/can/battery/min_cell_temp/set"
)

// CANLimitTopic builds the `master/can/limits/<kind>/{set,reset}` topic for
// one of the four limit kinds.
func CANLimitTopic(kind string, reset bool) string {
	action := "set"
	if reset {
		action = "reset"
	}
	return fmt.Sprintf("master/can/limits/%s/%s", kind, action)
}

const (
	CANLimitMaxVoltage          = "max_voltage"
	CANLimitMinVoltage          = "min_voltage"
	CANLimitMaxChargeCurrent    = "max_charge_current"
	CANLimitMaxDischargeCurrent = "max_discharge_current"
)

// RelayTopic builds `master/relays/<name>/set` for one of the five relays.
func RelayTopic(name string) string {
	return fmt.Sprintf("master/relays/%s/set", name)
}

func CellBalanceRequestTopic(moduleIndex, cellIndex int) string {
	return fmt.Sprintf("esp-module/%d/cell/%d/balance_request", slaveID(moduleIndex), cellIndex+1)
}

func ReadAccurateTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/read_accurate", slaveID(moduleIndex))
}

func SetConfigTopic(moduleIndex int) string {
	return fmt.Sprintf("esp-module/%d/set_config", slaveID(moduleIndex))
}

// CoreLimitTopic builds one leaf of the retained `master/core/limits/...`
// discovery tree.
func CoreLimitTopic(leaf string) string {
	return fmt.Sprintf("master/core/limits/%s", leaf)
}
