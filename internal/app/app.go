// Package app assembles the engine, its backends and the export pipeline
// from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/neox5/otelinsight/internal/backend/goruntime"
	"github.com/neox5/otelinsight/internal/backend/host"
	"github.com/neox5/otelinsight/internal/backend/process"
	"github.com/neox5/otelinsight/internal/config"
	"github.com/neox5/otelinsight/internal/engine"
	"github.com/neox5/otelinsight/internal/exporter"
	"github.com/neox5/otelinsight/internal/monitor"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/rules"
	"github.com/neox5/otelinsight/internal/unit"
)

// App holds initialized application components.
type App struct {
	Config   *config.Config
	Pipeline *exporter.Pipeline
	Engine   *engine.Engine
	Monitor  *monitor.Monitor
	Backends []resource.Backend

	logger *slog.Logger
}

// New initializes the application from a resolved configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := rules.Build(cfg.Rules, unit.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to build rules: %w", err)
	}

	backends, self, err := newBackends(cfg.Backends, logger)
	if err != nil {
		return nil, err
	}

	pipeline, err := exporter.NewPipeline(ctx, cfg.Export, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create export pipeline: %w", err)
	}

	eng := engine.New(pipeline.Meter(), engine.Config{
		DiscoveryDelay: cfg.Discovery.Delay,
		Backends:       backends,
		Definitions:    defs,
	}, logger)

	if slices.Contains(cfg.Rules, rules.SetEngine) {
		if err := eng.PublishStats(self); err != nil {
			return nil, fmt.Errorf("failed to publish engine stats: %w", err)
		}
	}

	a := &App{
		Config:   cfg,
		Pipeline: pipeline,
		Engine:   eng,
		Backends: backends,
		logger:   logger,
	}

	if cfg.Settings.Monitor.Enabled {
		a.Monitor, err = monitor.New(cfg.Settings.Monitor.Interval, eng, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create monitor: %w", err)
		}
	}

	logger.Info("application initialized",
		"definitions", len(defs),
		"backends", len(backends),
		"rules", cfg.Rules)
	return a, nil
}

// newBackends returns the enabled backends in query order, followed by the
// registry holding the engine's own stats.
func newBackends(cfg config.BackendsConfig, logger *slog.Logger) ([]resource.Backend, *resource.Registry, error) {
	var backends []resource.Backend

	if cfg.Runtime.Enabled {
		backends = append(backends, goruntime.New())
	}
	if cfg.Process.Enabled {
		b, err := process.New(process.Options{
			PIDs:      cfg.Process.PIDs,
			CacheSize: cfg.Process.CacheSize,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create process backend: %w", err)
		}
		backends = append(backends, b)
	}
	if cfg.Host.Enabled {
		backends = append(backends, host.New(host.Options{PerCPU: cfg.Host.PerCPU}))
	}

	self := resource.NewRegistry("self")
	backends = append(backends, self)
	return backends, self, nil
}

// Run starts discovery, the monitor and the exporters, and blocks until ctx
// is cancelled or an exporter fails. It then stops the engine and flushes
// the pipeline.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Engine.Start()

	if a.Monitor != nil {
		a.Monitor.Run(gctx)
	}

	g.Go(func() error {
		if err := a.Pipeline.Run(gctx); err != nil {
			return fmt.Errorf("exporter: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		a.logger.Error("exporter error", "error", runErr)
	}

	if a.Monitor != nil {
		a.Monitor.Wait()
	}
	return multierr.Combine(
		runErr,
		a.Engine.Stop(),
		a.Pipeline.Shutdown(context.Background()),
	)
}
