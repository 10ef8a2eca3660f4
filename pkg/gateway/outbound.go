package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/balancer"
	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/safety"
)

// Publisher wraps a Bus with one method per outbound topic. Every publish
// is best-effort: a failure is logged and dropped, never propagated to the
// caller, since a transient bus hiccup must never stall the cooperative
// scheduler.
type Publisher struct {
	bus    Bus
	logger *logrus.Entry
}

// NewPublisher constructs a Publisher. logger may be nil.
func NewPublisher(bus Bus, logger *logrus.Entry) *Publisher {
	return &Publisher{bus: bus, logger: logger}
}

func (p *Publisher) publish(ctx context.Context, msg Message) {
	if err := p.bus.Publish(ctx, msg); err != nil && p.logger != nil {
		p.logger.WithError(err).WithField("topic", msg.Topic).Warn("gateway: publish failed, dropped")
	}
}

func (p *Publisher) publishFloat(ctx context.Context, topic string, v float64, retained bool) {
	p.publish(ctx, Message{Topic: topic, Payload: []byte(fmt.Sprintf("%g", v)), Retained: retained})
}

// PublishMasterUptime is the 1-second heartbeat the master itself emits.
func (p *Publisher) PublishMasterUptime(ctx context.Context, d time.Duration) {
	p.publish(ctx, Message{Topic: MasterUptimeTopic, Payload: []byte(fmt.Sprintf("%d", d.Milliseconds()))})
}

// PublishAvailable sets the retained online/offline availability topic.
func (p *Publisher) PublishAvailable(ctx context.Context, online bool) {
	status := "online"
	if !online {
		status = "offline"
	}
	p.publish(ctx, Message{Topic: MasterCoreAvailableTopic, Payload: []byte(status), Retained: true})
}

func (p *Publisher) PublishSOC(ctx context.Context, socFraction float64) {
	p.publishFloat(ctx, SOCTopic, socFraction*100, false)
}

func (p *Publisher) PublishLoadAdjustedSOC(ctx context.Context, socFraction float64) {
	p.publishFloat(ctx, LoadAdjustedSOCTopic, socFraction*100, false)
}

func (p *Publisher) PublishCalculatedSystemVoltage(ctx context.Context, v float64) {
	p.publishFloat(ctx, CalculatedSystemVoltageTopic, v, false)
}

func (p *Publisher) PublishSystemPower(ctx context.Context, watts float64) {
	p.publishFloat(ctx, SystemPowerTopic, watts, false)
}

// PublishBalancerDiff publishes a balancer.DiffReport as the three retained
// balancer_cell_diff/min/max_voltage topics.
func (p *Publisher) PublishBalancerDiff(ctx context.Context, r balancer.DiffReport) {
	p.publish(ctx, Message{Topic: BalancerCellDiffTopic, Payload: []byte(fmt.Sprintf("%g", r.Diff)), Retained: true})
	p.publish(ctx, Message{Topic: BalancerMinVoltageTopic, Payload: []byte(fmt.Sprintf("%g", r.Lo)), Retained: true})
	p.publish(ctx, Message{Topic: BalancerMaxVoltageTopic, Payload: []byte(fmt.Sprintf("%g", r.Hi)), Retained: true})
}

// PublishAccurateReadRequest requests a fresh accurate-voltage reading from
// one module.
func (p *Publisher) PublishAccurateReadRequest(ctx context.Context, moduleIndex int) {
	p.publish(ctx, Message{Topic: ReadAccurateTopic(moduleIndex), Payload: []byte("1")})
}

// PublishBalanceRequest forwards a cell.BalanceRequest to the slave.
func (p *Publisher) PublishBalanceRequest(ctx context.Context, req cell.BalanceRequest) {
	durationMs := req.DurationSeconds * 1000
	p.publish(ctx, Message{
		Topic:   CellBalanceRequestTopic(req.ModuleID, req.CellID),
		Payload: []byte(fmt.Sprintf("%d", durationMs)),
	})
}

// PublishCANLimit publishes one of the four CAN limit topics.
// reset publishes to the `.../reset` sibling instead of `.../set`.
func (p *Publisher) PublishCANLimit(ctx context.Context, kind string, value float64, reset bool) {
	p.publishFloat(ctx, CANLimitTopic(kind, reset), value, false)
}

// PublishLimitCommand is the safety-supervisor-facing adapter for
// PublishCANLimit, translating a safety.LimitCommand into its wire topic.
func (p *Publisher) PublishLimitCommand(ctx context.Context, cmd safety.LimitCommand) {
	p.PublishCANLimit(ctx, cmd.Kind.String(), cmd.Value, false)
}

// PublishRelayCommand publishes `master/relays/<name>/set` with on/off.
func (p *Publisher) PublishRelayCommand(ctx context.Context, cmd safety.RelayCommand) {
	payload := "off"
	if cmd.On {
		payload = "on"
	}
	p.publish(ctx, Message{Topic: RelayTopic(cmd.Relay), Payload: []byte(payload)})
}

// PublishSafetyDisconnectReason publishes the retained human-readable
// disconnect reason.
func (p *Publisher) PublishSafetyDisconnectReason(ctx context.Context, reason string) {
	p.publish(ctx, Message{Topic: SafetyDisconnectReasonTopic, Payload: []byte(reason), Retained: true})
}

// PublishBatteryCANFrameValues publishes the six `master/can/battery/...`
// gauges consumed by the vehicle/inverter side.
func (p *Publisher) PublishBatteryCANFrameValues(ctx context.Context, soc, voltage, current, temp, maxCellTemp, minCellTemp float64) {
	p.publishFloat(ctx, CANBatterySOCSetTopic, soc, false)
	p.publishFloat(ctx, CANBatteryVoltageSetTopic, voltage, false)
	p.publishFloat(ctx, CANBatteryCurrentSetTopic, current, false)
	p.publishFloat(ctx, CANBatteryTempSetTopic, temp, false)
	p.publishFloat(ctx, CANBatteryMaxCellTempSetTopic, maxCellTemp, false)
	p.publishFloat(ctx, CANBatteryMinCellTempSetTopic, minCellTemp, false)
}

// PublishCoreLimit publishes one retained leaf of the UI discovery tree
// under master/core/limits/....
func (p *Publisher) PublishCoreLimit(ctx context.Context, leaf string, value float64) {
	p.publishFloat(ctx, CoreLimitTopic(leaf), value, true)
}
