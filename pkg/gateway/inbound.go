package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/balancer"
	"github.com/samsamfire/bmsmaster/pkg/pack"
)

// Router subscribes to every inbound topic and applies decoded payloads to
// the pack model and balancer configuration. Malformed payloads are logged
// once and dropped without touching the model or disconnecting.
type Router struct {
	bus      Bus
	pack     *pack.Pack
	balancer *balancer.Balancer
	logger   *logrus.Entry

	// slaveToModule remaps a 1-based wire slave id to a 0-based module
	// index when a deployment's physical wiring order does not match
	// module index order. Nil means identity (slave id n -> module n-1).
	slaveToModule map[int]int
}

// NewRouter constructs a Router. logger may be nil.
func NewRouter(bus Bus, p *pack.Pack, b *balancer.Balancer, logger *logrus.Entry) *Router {
	return &Router{bus: bus, pack: p, balancer: b, logger: logger}
}

// SetSlaveMapping overrides the default identity slave-id-to-module-index
// conversion, keyed by 1-based slave id, from a loaded config.SlaveMapping
// set.
func (r *Router) SetSlaveMapping(slaveToModule map[int]int) {
	r.slaveToModule = slaveToModule
}

// Start subscribes every inbound handler. Returns the first subscription
// error, if any; callers should treat a non-nil error as startup failure.
func (r *Router) Start(ctx context.Context) error {
	subs := []struct {
		filter  string
		handler func(Message)
	}{
		{"esp-module/+/uptime", r.handleUptime},
		{"esp-module/+/module_voltage", r.handleModuleVoltage},
		{"esp-module/+/module_temps", r.handleModuleTemps},
		{"esp-module/+/chip_temp", r.handleChipTemp},
		{"esp-module/+/cell/+/voltage", r.handleCellVoltage},
		{"esp-module/+/accurate/cell/+/voltage", r.handleCellAccurateVoltage},
		{"esp-module/+/cell/+/is_balancing", r.handleCellIsBalancing},
		{TotalVoltageTopic, r.handleTotalVoltage},
		{TotalCurrentTopic, r.handleTotalCurrent},
		{BalancingEnabledSetTopic, r.handleBalancingEnabledSet},
		{BalancingIgnoreSlavesSetTopic, r.handleBalancingIgnoreSlavesSet},
	}
	for _, s := range subs {
		if _, err := r.bus.Subscribe(ctx, s.filter, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) warnMalformed(msg Message, reason string) {
	if r.logger == nil {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"topic":   msg.Topic,
		"payload": string(msg.Payload),
		"reason":  reason,
	}).Warn("gateway: malformed inbound message, dropped")
}

func (r *Router) moduleAt(topic string) (int, bool) {
	idx, ok := ParseModuleIndexFromTopic(topic)
	if !ok {
		return 0, false
	}
	if r.slaveToModule != nil {
		mapped, ok := r.slaveToModule[idx+1]
		if !ok {
			return 0, false
		}
		idx = mapped
	}
	if idx < 0 || idx >= len(r.pack.Modules) {
		return 0, false
	}
	return idx, true
}

func (r *Router) handleUptime(msg Message) {
	idx, ok := r.moduleAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module index")
		return
	}
	ms, err := strconv.ParseUint(strings.TrimSpace(string(msg.Payload)), 10, 64)
	if err != nil {
		r.warnMalformed(msg, "uptime not an integer")
		return
	}
	r.pack.Modules[idx].UpdateESPUptime(ms)
}

func (r *Router) handleModuleVoltage(msg Message) {
	idx, ok := r.moduleAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module index")
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "voltage not a float")
		return
	}
	r.pack.Modules[idx].UpdateModuleVoltage(v)
}

func (r *Router) handleModuleTemps(msg Message) {
	idx, ok := r.moduleAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module index")
		return
	}
	fields := strings.Split(strings.TrimSpace(string(msg.Payload)), ",")
	if len(fields) != 2 {
		r.warnMalformed(msg, "expected t1,t2")
		return
	}
	t1, err1 := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	t2, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err1 != nil || err2 != nil {
		r.warnMalformed(msg, "temps not floats")
		return
	}
	r.pack.Modules[idx].UpdateModuleTemps(t1, t2)
}

func (r *Router) handleChipTemp(msg Message) {
	idx, ok := r.moduleAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module index")
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "chip temp not a float")
		return
	}
	r.pack.Modules[idx].UpdateChipTemp(v)
}

func (r *Router) cellAt(topic string) (moduleIdx, cellIdx int, ok bool) {
	moduleIdx, ok = r.moduleAt(topic)
	if !ok {
		return 0, 0, false
	}
	cellIdx, ok = ParseCellIndexFromTopic(topic)
	if !ok || cellIdx < 0 || cellIdx >= len(r.pack.Modules[moduleIdx].Cells) {
		return 0, 0, false
	}
	return moduleIdx, cellIdx, true
}

func (r *Router) handleCellVoltage(msg Message) {
	moduleIdx, cellIdx, ok := r.cellAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module/cell index")
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "voltage not a float")
		return
	}
	r.pack.Modules[moduleIdx].Cells[cellIdx].UpdateVoltage(v)
}

func (r *Router) handleCellAccurateVoltage(msg Message) {
	moduleIdx, cellIdx, ok := r.cellAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module/cell index")
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "accurate voltage not a float")
		return
	}
	r.pack.Modules[moduleIdx].Cells[cellIdx].UpdateAccurateVoltage(v)
}

func (r *Router) handleCellIsBalancing(msg Message) {
	moduleIdx, cellIdx, ok := r.cellAt(msg.Topic)
	if !ok {
		r.warnMalformed(msg, "unknown module/cell index")
		return
	}
	payload := strings.TrimSpace(string(msg.Payload))
	switch payload {
	case "0":
		r.pack.Modules[moduleIdx].Cells[cellIdx].SetPinState(false)
	case "1":
		r.pack.Modules[moduleIdx].Cells[cellIdx].SetPinState(true)
	default:
		r.warnMalformed(msg, "is_balancing expects 0 or 1")
	}
}

func (r *Router) handleTotalVoltage(msg Message) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "total_voltage not a float")
		return
	}
	r.pack.UpdateVoltage(v)
}

func (r *Router) handleTotalCurrent(msg Message) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload)), 64)
	if err != nil {
		r.warnMalformed(msg, "total_current not a float")
		return
	}
	r.pack.UpdateCurrent(v)
}

func (r *Router) handleBalancingEnabledSet(msg Message) {
	payload := strings.TrimSpace(string(msg.Payload))
	switch payload {
	case "true":
		r.balancer.SetEnabled(true)
	case "false":
		r.balancer.SetEnabled(false)
	default:
		r.warnMalformed(msg, "balancing_enabled expects true or false")
	}
}

func (r *Router) handleBalancingIgnoreSlavesSet(msg Message) {
	payload := strings.TrimSpace(string(msg.Payload))
	if payload == "none" || payload == "" {
		r.balancer.SetIgnoreSlaves(nil)
		return
	}
	var ids []int
	for _, field := range strings.Split(payload, ",") {
		slave, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || slave < 1 {
			r.warnMalformed(msg, "ignore_slaves not a comma list of slave ids")
			return
		}
		ids = append(ids, slave-1)
	}
	r.balancer.SetIgnoreSlaves(ids)
}
