// Command bmsmaster is the master controller entry point: it wires the
// pack model, the balancer, the safety supervisor, and the message-bus
// gateway together, then drives them with a cooperative task scheduler.
// Construction order and the flag/log-level/run-loop shape follow the
// teacher's cmd/canopen/main.go (flag.String/Int for connection
// parameters, logrus.SetLevel, build-then-loop, os.Exit(1) on fatal setup
// errors).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/samsamfire/bmsmaster/pkg/balancer"
	"github.com/samsamfire/bmsmaster/pkg/cell"
	"github.com/samsamfire/bmsmaster/pkg/config"
	"github.com/samsamfire/bmsmaster/pkg/gateway"
	"github.com/samsamfire/bmsmaster/pkg/gateway/memory"
	"github.com/samsamfire/bmsmaster/pkg/gateway/mqttbus"
	"github.com/samsamfire/bmsmaster/pkg/pack"
	"github.com/samsamfire/bmsmaster/pkg/safety"
	"github.com/samsamfire/bmsmaster/pkg/scheduler"
	"github.com/samsamfire/bmsmaster/pkg/soccurve"
)

func main() {
	configPath := flag.String("config", "bmsmaster.yaml", "path to the YAML master configuration file")
	slaveMappingPath := flag.String("slave-mapping", "", "path to the slave mapping INI file (overrides the config file's slave_mapping_path)")
	useMemoryBus := flag.Bool("memory-bus", false, "use an in-process message bus instead of connecting to an MQTT broker (for local testing)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Printf("invalid log level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}
	logger.SetLevel(level)
	entry := logrus.NewEntry(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		entry.Errorf("failed to load configuration: %v", err)
		os.Exit(1)
	}

	mappingPath := *slaveMappingPath
	if mappingPath == "" {
		mappingPath = cfg.SlaveMappingPath
	}
	var mappings []config.SlaveMapping
	if mappingPath != "" {
		mappings, err = config.LoadSlaveMapping(mappingPath)
		if err != nil {
			entry.Errorf("failed to load slave mapping: %v", err)
			os.Exit(1)
		}
	}
	curve := soccurve.Default()
	batteryPack := pack.New(cfg.NumberOfBatteryModules, cfg.NumberOfSerialCells, curve, entry.WithField("component", "pack"))
	batteryPack.Cells().SetRelaxTime(time.Duration(cfg.Balancer.RelaxTimeSeconds * float64(time.Second)))

	supervisor := safety.New(batteryPack, curve, entry.WithField("component", "safety"))
	cellBalancer := balancer.New(batteryPack, curve, entry.WithField("component", "balancer"))
	cellBalancer.SetMinDiffForBalancing(cfg.Balancer.MinDiffForBalancing)
	cellBalancer.SetMaxDiffForBalancing(cfg.Balancer.MaxDiffForBalancing)
	cellBalancer.SetEnabled(true)

	var bus gateway.Bus
	if *useMemoryBus {
		bus = memory.New()
	} else {
		mqttBus, err := mqttbus.Dial(mqttbus.Config{
			Broker:   cfg.Transport.Endpoint,
			ClientID: "bmsmaster",
			Username: cfg.Transport.Username,
			Password: cfg.Transport.Password,
		})
		if err != nil {
			entry.Errorf("failed to connect to transport: %v", err)
			os.Exit(1)
		}
		defer mqttBus.Close()
		bus = mqttBus
	}

	router := gateway.NewRouter(bus, batteryPack, cellBalancer, entry.WithField("component", "gateway.router"))
	if len(mappings) > 0 {
		slaveToModule := make(map[int]int, len(mappings))
		for _, m := range mappings {
			slaveToModule[m.SlaveID] = m.ModuleIndex
		}
		router.SetSlaveMapping(slaveToModule)
	}
	publisher := gateway.NewPublisher(bus, entry.WithField("component", "gateway.publisher"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := router.Start(ctx); err != nil {
		entry.Errorf("failed to start gateway router: %v", err)
		os.Exit(1)
	}

	wireOutbound(ctx, batteryPack, cellBalancer, supervisor, publisher)

	sched := buildScheduler(ctx, batteryPack, cellBalancer, supervisor, publisher, entry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("shutdown signal received")
		publisher.PublishAvailable(ctx, false)
		cancel()
	}()

	publisher.PublishAvailable(ctx, true)
	entry.Info("bmsmaster started")
	sched.Run(ctx)
	entry.Info("bmsmaster stopped")
}

// wireOutbound subscribes the publisher to every domain-event sink the pack,
// balancer, and safety supervisor expose, so side effects flow out over the
// bus the instant they occur rather than only on the scheduler's fixed
// publish cadence.
func wireOutbound(ctx context.Context, p *pack.Pack, b *balancer.Balancer, s *safety.Supervisor, pub *gateway.Publisher) {
	b.OnDiffReport(func(r balancer.DiffReport) { pub.PublishBalancerDiff(ctx, r) })
	b.OnAccurateReadRequest(func(moduleIndex int) { pub.PublishAccurateReadRequest(ctx, moduleIndex) })

	s.OnRelayCommand(func(cmd safety.RelayCommand) { pub.PublishRelayCommand(ctx, cmd) })
	s.OnLimitCommand(func(cmd safety.LimitCommand) { pub.PublishLimitCommand(ctx, cmd) })
	s.OnDisconnect(func(reason string) { pub.PublishSafetyDisconnectReason(ctx, reason) })

	for _, c := range p.Cells().Cells() {
		c.OnBalanceRequest(func(req cell.BalanceRequest) { pub.PublishBalanceRequest(ctx, req) })
	}
}

// buildScheduler assembles the cooperative task list: heartbeat checking
// every 5s, state publication every 2s, a balancer tick every 5s, a
// staleness sweep every 5s, and a 1s master uptime heartbeat, matching the
// cadences fixed by the pack/balancer/safety packages themselves.
func buildScheduler(ctx context.Context, p *pack.Pack, b *balancer.Balancer, s *safety.Supervisor, pub *gateway.Publisher, logger *logrus.Entry) *scheduler.Scheduler {
	tasks := []scheduler.Task{
		{
			Name:   "heartbeat-check",
			Period: pack.HeartbeatCheckInterval,
			Run: func(ctx context.Context) {
				p.CheckHeartbeats()
			},
		},
		{
			Name:   "balance-tick",
			Period: balancer.TickInterval,
			Run: func(ctx context.Context) {
				b.Tick()
			},
		},
		{
			Name:   "staleness-check",
			Period: safety.StalenessCheckInterval,
			Run: func(ctx context.Context) {
				s.CheckStaleness()
				s.CheckChargeDischargeLimits()
			},
		},
		{
			Name:   "state-publish",
			Period: 2 * time.Second,
			Run: func(ctx context.Context) {
				publishState(ctx, p, pub)
			},
		},
		{
			Name:   "master-uptime",
			Period: time.Second,
			Run: func(ctx context.Context) {
				pub.PublishMasterUptime(ctx, time.Since(processStart))
			},
		},
	}
	return scheduler.New(tasks, logger)
}

var processStart = time.Now()

// publishState pushes the pack's derived readings over the bus: SOC,
// load-adjusted SOC, calculated system voltage, and system power.
func publishState(ctx context.Context, p *pack.Pack, pub *gateway.Publisher) {
	if soc, ok := p.SOC(); ok {
		pub.PublishSOC(ctx, soc)
	}
	if soc, ok := p.SlidingWindowSOC(); ok {
		pub.PublishLoadAdjustedSOC(ctx, soc)
	}
	if v, ok := p.CalculatedVoltage(); ok {
		pub.PublishCalculatedSystemVoltage(ctx, v)

		if current, ok := p.Current.Value(); ok {
			pub.PublishSystemPower(ctx, v*current)
		}
	}
}
