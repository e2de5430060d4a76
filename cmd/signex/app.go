package main

import (
	"fmt"
	"os"

	"github.com/kalambet/signex/internal/alert"
	"github.com/kalambet/signex/internal/config"
	"github.com/kalambet/signex/internal/harness"
	"github.com/kalambet/signex/internal/runner"
	"github.com/kalambet/signex/internal/sensor"
	"github.com/kalambet/signex/internal/storage"
	"github.com/kalambet/signex/internal/watch"
)

// app is the wired engine for one workspace.
type app struct {
	cfg      config.Config
	ws       watch.Workspace
	store    *storage.Store
	registry *sensor.Registry
	runner   *runner.Runner
}

func openApp(cfg config.Config) (*app, error) {
	registry, err := sensor.LoadRegistry(cfg.SensorsPath(), cfg.Workspace.Root, cfg.Runner.Python, cfg.Runner.SensorTimeout)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.DataPath())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	ws := watch.NewWorkspace(cfg.Workspace.Root)
	h := harness.New(registry, store, cfg.Runner.Concurrency)
	r := runner.New(ws, store, h, runner.Config{
		MaxSensors: cfg.Runner.MaxSensors,
		MaxQueries: cfg.Runner.MaxQueries,
		Weights:    alertWeights(cfg.Alert),
		Allow:      registry.Enabled,
	})

	return &app{cfg: cfg, ws: ws, store: store, registry: registry, runner: r}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func alertWeights(c config.AlertConfig) alert.Weights {
	return alert.Weights{
		Signal:          c.SignalWeight,
		Source:          c.SourceWeight,
		Metric:          c.MetricWeight,
		MetricThreshold: float64(c.MetricThreshold),
		MinScore:        c.MinScore,
		HighScore:       c.HighScore,
	}
}
