package main

import (
	"fmt"

	"github.com/dbforge/dbforge/internal/binaryregistry"
	"github.com/dbforge/dbforge/internal/container"
	"github.com/dbforge/dbforge/internal/engine"
	"github.com/dbforge/dbforge/internal/engine/httpengine"
	"github.com/dbforge/dbforge/internal/engine/mysql"
	"github.com/dbforge/dbforge/internal/engine/postgres"
	"github.com/dbforge/dbforge/internal/engine/redis"
	"github.com/dbforge/dbforge/internal/fetcher"
	"github.com/dbforge/dbforge/internal/housekeeping"
	"github.com/dbforge/dbforge/internal/metrics"
	"github.com/dbforge/dbforge/internal/paths"
	"github.com/dbforge/dbforge/internal/supervisor"
	"github.com/dbforge/dbforge/internal/toolregistry"
	"github.com/dbforge/dbforge/pkg/config"
	"github.com/dbforge/dbforge/pkg/logger"
)

// app wires together every long-lived service dbforge's commands
// operate on, built once per invocation.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	paths      *paths.Service
	tools      *toolregistry.Registry
	binaries   *binaryregistry.Registry
	supervisor *supervisor.Supervisor
	containers *container.Manager
	metrics    *metrics.Metrics

	housekeeper *housekeeping.Reconciler
	adapters    map[string]engine.Adapter
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	p := paths.New(cfg.Paths.Root)
	tools := toolregistry.New(p.ConfigFile(), log)
	fetch := fetcher.New(fetcher.Config{
		Host:            cfg.Registry.Host,
		DownloadTimeout: cfg.Registry.DownloadTimeout,
		MaxRetries:      cfg.Registry.MaxRetries,
	}, tools, p, log)
	binaries := binaryregistry.New(p, fetch, log)
	sup := supervisor.New(cfg.Supervisor, log)
	containers := container.New(p, log)
	m := metrics.New()

	adapters := make(map[string]engine.Adapter, len(engine.Names()))
	for _, name := range engine.Names() {
		desc, _ := engine.Lookup(name)
		switch desc.Family {
		case engine.FamilyPostgresWire:
			adapters[name] = postgres.New(name, binaries, tools, sup, log)
		case engine.FamilyMySQLWire:
			adapters[name] = mysql.New(name, binaries, tools, sup, log)
		case engine.FamilyKeyValue:
			adapters[name] = redis.New(name, binaries, tools, sup, log)
		case engine.FamilyHTTP:
			adapters[name] = httpengine.New(name, binaries, tools, sup, log)
		}
	}

	housekeeper := housekeeping.New(containers, sup, tools, m, log)

	return &app{
		cfg:         cfg,
		log:         log,
		paths:       p,
		tools:       tools,
		binaries:    binaries,
		supervisor:  sup,
		containers:  containers,
		metrics:     m,
		housekeeper: housekeeper,
		adapters:    adapters,
	}, nil
}

func (a *app) close() {}

func (a *app) adapterFor(engineName string) (engine.Adapter, error) {
	ad, ok := a.adapters[engineName]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", engineName)
	}
	return ad, nil
}

