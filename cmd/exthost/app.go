package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/extension-host/bridge"
	"github.com/wippyai/extension-host/bus"
	"github.com/wippyai/extension-host/config"
	"github.com/wippyai/extension-host/engine"
	"github.com/wippyai/extension-host/registry"
	"github.com/wippyai/extension-host/store"
)

// app is a loaded host: engine, registry and bus over one store.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	engine   *engine.WazeroEngine
	registry *registry.Registry
	bus      *bus.Bus
	report   *registry.Report
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg := config.Default()
	if g.config != "" {
		var err error
		if cfg, err = config.Load(g.config); err != nil {
			return nil, err
		}
	}
	if g.store != "" {
		cfg.Store.Root = g.store
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(c config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func loadApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	engine.SetLogger(log)
	bridge.SetLogger(log)

	eng, err := engine.NewWazeroEngineWithConfig(ctx, cfg.EngineConfig())
	if err != nil {
		return nil, err
	}

	iface, err := cfg.Interface()
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	hostCfg := cfg.HostConfig()
	hostCfg.Logger = log

	reg := registry.New(registry.Options{
		Compiler:  eng,
		Host:      bridge.NewHost(hostCfg),
		Logger:    log,
		PoolSize:  cfg.PoolSize,
		Interface: iface,
		Eager:     cfg.Pool.Eager,
	})
	st := store.NewDir(cfg.Store.Root, store.WithConcurrency(cfg.Store.Concurrency))
	rep, err := reg.Load(ctx, st)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		engine:   eng,
		registry: reg,
		bus:      bus.New(reg, bus.Options{CallTimeout: cfg.Call.Timeout.Duration, Logger: log}),
		report:   rep,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	err := multierr.Combine(a.registry.Close(ctx), a.engine.Close(ctx))
	_ = a.log.Sync()
	return err
}
