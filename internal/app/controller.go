// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/relabs-tech/hyperbaric_controller/internal/alarm"
	"github.com/relabs-tech/hyperbaric_controller/internal/bridge"
	"github.com/relabs-tech/hyperbaric_controller/internal/config"
	"github.com/relabs-tech/hyperbaric_controller/internal/control"
	"github.com/relabs-tech/hyperbaric_controller/internal/plc"
	"github.com/relabs-tech/hyperbaric_controller/internal/profile"
	"github.com/relabs-tech/hyperbaric_controller/internal/sensors"
	"github.com/relabs-tech/hyperbaric_controller/internal/session"
	"github.com/relabs-tech/hyperbaric_controller/internal/store"
	"github.com/relabs-tech/hyperbaric_controller/internal/telemetry"
	"github.com/relabs-tech/hyperbaric_controller/internal/tuning"
)

// RunOptions tune the controller runner.
type RunOptions struct {
	// StaticDir is served by the web API when it exists.
	StaticDir string
}

// RunController wires the chamber controller from the global config and runs
// it until ctx is cancelled.
func RunController(ctx context.Context, logger logr.Logger, opts RunOptions) error {
	cfg := config.Get()
	logger.Info("starting hyperbaric chamber controller", "demo", cfg.DemoMode, "chamber", cfg.ChamberFile)

	ch, err := loadChamber(logger, cfg.ChamberFile)
	if err != nil {
		return err
	}
	ch.ApplyOverrides(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg, "chamber")

	dispatcher := session.NewDispatcher(logger.WithName("io"), 256, 2*time.Second, metrics.IOFailure)
	defer dispatcher.Close()

	// --- persistence (optional) ---
	settings := session.DefaultSettings
	gains := ch.Gains
	var (
		repo  *store.Repository
		cache *store.Cache
	)
	if cfg.PostgresDSN != "" {
		repo, err = openRepository(ctx, logger, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer repo.Close()

		saved, savedGains, err := repo.LoadSettings(ctx)
		switch {
		case errors.Is(err, store.ErrNoSettings):
			logger.Info("no saved settings, using defaults")
		case err != nil:
			logger.Error(err, "loading saved settings failed, using defaults")
		default:
			settings = saved
			if savedGains != nil {
				gains = *savedGains
			}
			logger.Info("restored last session settings", "depth", settings.Depth, "duration", settings.TotalMinutes, "speed", settings.Speed)
		}
	}
	if cfg.RedisAddr != "" {
		cache = store.NewCache(store.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.MQTTTopicPrefix,
		}, dispatcher)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			logger.Error(err, "redis not reachable, cache writes will be retried per snapshot", "addr", cfg.RedisAddr)
		}
	}

	// --- domain ---
	var tuningRepo tuning.Repository
	if repo != nil {
		tuningRepo = repo
	}
	tuner := tuning.New(logger.WithName("tuning"), tuningRepo, ch.TuningRules())
	defer tuner.Close()

	o2, err := ch.O2Model()
	if err != nil {
		return err
	}
	pipeline, err := sensors.NewPipeline(sensors.PipelineConfig{
		Pressure:    ch.Pressure,
		Temperature: ch.Temperature,
		Humidity:    ch.Humidity,
		O2Decimals:  ch.O2Decimals,
		Alphas:      cfg.Alphas,
		O2:          o2,
	})
	if err != nil {
		return fmt.Errorf("sensor pipeline: %w", err)
	}
	planner, err := profile.NewPlanner(ch.Planner)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	if err := gains.Validate(); err != nil {
		logger.Error(err, "saved gains invalid, using chamber gains")
		gains = ch.Gains
	}
	ctrl, err := control.New(gains, ch.Control)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	// --- PLC link ---
	port, err := openPLC(logger, cfg, ch, o2)
	if err != nil {
		return err
	}
	gateway := plc.NewGateway(logger.WithName("plc"), port, cfg.PLCStaleTimeout)
	defer gateway.Close()

	// --- outbound ---
	var maskBridge session.Bridge
	if cfg.BridgeURL != "" {
		bc := bridge.New(logger.WithName("bridge"), bridge.Config{
			URL:     cfg.BridgeURL,
			MyID:    cfg.BridgeMyID,
			ToID:    cfg.BridgeToID,
			Timeout: cfg.BridgeTimeout,
		})
		defer bc.Close()
		maskBridge = bc
	}

	sinks := []session.Sink{metrics}
	publisher, err := telemetry.Connect(logger.WithName("mqtt"), telemetry.PublisherConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientIDController,
		Prefix:   cfg.MQTTTopicPrefix,
		QoS:      cfg.MQTTQoS,
	}, metrics.IOFailure)
	if err != nil {
		logger.Error(err, "mqtt unavailable, telemetry publishing disabled")
	} else {
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}
	if cache != nil {
		sinks = append(sinks, cache)
	}

	// --- engine ---
	var engine *session.Engine
	hub := NewHub(logger.WithName("operator"), commanderFunc(func() Commander { return engine }))
	sinks = append(sinks, hub)

	ecfg := session.Config{
		Logger:               logger.WithName("session"),
		Planner:              planner,
		Pipeline:             pipeline,
		Controller:           ctrl,
		Supervisor:           alarm.NewSupervisor(ch.Alarms),
		Tuner:                tuner,
		Actuator:             plc.NewActuator(gateway, ch.Registers),
		Bridge:               maskBridge,
		Sinks:                sinks,
		Executor:             dispatcher,
		Faults:               cfg.Faults,
		Settings:             settings,
		TickInterval:         cfg.TickInterval,
		AutoVentilationAngle: ch.AutoVentilationAngle,
	}
	if repo != nil {
		ecfg.Recorder = repo
	}
	engine, err = session.New(ecfg)
	if err != nil {
		return err
	}

	health := NewHealthMonitor(logger.WithName("health"), Probes{
		Snapshot:  engine.Snapshot,
		Connected: gateway.Connected,
		MaxAge:    5 * cfg.TickInterval,
	})

	web := WebConfig{
		Engine:    engine,
		Hub:       hub,
		Tuning:    tuner,
		Gatherer:  reg,
		StaticDir: opts.StaticDir,
	}
	if repo != nil {
		web.Sessions = repo
	}
	if cache != nil {
		web.Alarms = cache
	}
	if cfg.RegisterDebug {
		logger.Info("plc register debug endpoints enabled")
		web.RegisterDebug = &RegisterDebug{Writer: gateway, Registers: ch.Registers, Connected: gateway.Connected}
	}

	// --- run ---
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliver := func(f session.Frame) {
		if !engine.OfferFrame(f) {
			logger.V(1).Info("engine busy, frame dropped")
		}
	}

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("engine", func() error { return engine.Run(ctx) })
	spawn("plc gateway", func() error { return gateway.Run(ctx, deliver) })
	spawn("operator hub", func() error { hub.Run(ctx); return nil })
	spawn("plc watch", func() error { gateway.Watch(ctx, cfg.TickInterval, deliver); return nil })
	spawn("live bit", func() error { gateway.RunLiveBit(ctx, ch.Registers.LiveBit, cfg.LiveBitInterval); return nil })
	spawn("health watch", func() error { health.Watch(ctx, cfg.TickInterval); return nil })
	spawn("web", func() error {
		return ServeHTTP(ctx, logger.WithName("web"), fmt.Sprintf(":%d", cfg.WebServerPort), NewRouter(logger.WithName("web"), web))
	})
	spawn("grpc health", func() error {
		return health.Serve(ctx, fmt.Sprintf(":%d", cfg.GRPCPort))
	})

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errc:
		logger.Error(runErr, "component failed, shutting down")
	}
	cancel()
	wg.Wait()
	return runErr
}

// commanderFunc resolves the engine lazily; the hub is a sink of the engine
// it commands.
type commanderFunc func() Commander

func (f commanderFunc) Snapshot() *session.Snapshot { return f().Snapshot() }

func (f commanderFunc) Do(ctx context.Context, cmd session.Command) (session.Result, error) {
	return f().Do(ctx, cmd)
}

func loadChamber(logger logr.Logger, path string) (*config.Chamber, error) {
	if path == "" {
		logger.Info("no chamber file, using built-in chamber")
		return config.DefaultChamber(), nil
	}
	ch, err := config.ReadChamber(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("chamber file not found, using built-in chamber", "path", path)
		return config.DefaultChamber(), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("chamber loaded", "name", ch.Name, "path", path)
	return ch, nil
}

func openRepository(ctx context.Context, logger logr.Logger, dsn string) (*store.Repository, error) {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	repo, err := store.Open(openCtx, dsn)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(openCtx); err != nil {
		repo.Close()
		return nil, err
	}
	logger.Info("postgres connected")
	return repo, nil
}

func openPLC(logger logr.Logger, cfg *config.Config, ch *config.Chamber, o2 *sensors.O2Model) (io.ReadWriteCloser, error) {
	if cfg.DemoMode {
		plant := plc.DefaultPlant
		plant.Interval = cfg.TickInterval
		plant.Registers = ch.Registers
		plant.Pressure = ch.Pressure
		plant.Temperature = ch.Temperature
		plant.Humidity = ch.Humidity
		plant.O2Raw21 = o2.AirRaw()
		logger.Info("using simulated PLC gateway")
		return plc.NewDemoPlant(logger.WithName("demo"), plant), nil
	}
	port, err := plc.OpenSerial(plc.SerialConfig{PortName: cfg.PLCSerialPort, BaudRate: uint(cfg.PLCBaudRate)})
	if err != nil {
		return nil, err
	}
	logger.Info("plc serial link open", "port", cfg.PLCSerialPort, "baud", cfg.PLCBaudRate)
	return port, nil
}
