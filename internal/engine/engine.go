// Package engine wires metric definitions, resource backends and a meter
// into a running discovery loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/neox5/otelinsight/internal/discovery"
	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
)

// StatsIdentity is the identity under which PublishStats registers the
// engine.
const StatsIdentity = "otelinsight:type=Engine"

// Config is the engine input.
type Config struct {
	DiscoveryDelay time.Duration
	// Backends are queried in order.
	Backends    []resource.Backend
	Definitions []*metric.Definition
}

// Stats combines discovery and registrar counters.
type Stats struct {
	Definitions int
	Discovery   discovery.Stats
	Registrar   metric.Stats
}

// Engine owns the registrar and the scheduler for its lifetime.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	registrar *metric.Registrar
	scheduler *discovery.Scheduler

	mu      sync.Mutex
	running bool
}

// New creates an engine that registers instruments on meter.
func New(meter otelmetric.Meter, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	registrar := metric.NewRegistrar(meter, logger)
	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		registrar: registrar,
		scheduler: discovery.New(cfg.Backends, registrar, cfg.DiscoveryDelay, logger),
	}
}

// Start begins discovery. It does nothing when there are no definitions or
// no backends.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	if len(e.cfg.Definitions) == 0 || len(e.cfg.Backends) == 0 {
		e.logger.Info("nothing to discover",
			"definitions", len(e.cfg.Definitions),
			"backends", len(e.cfg.Backends))
		return
	}

	e.running = true
	e.scheduler.Start(e.cfg.Definitions)
}

// Discover runs one discovery pass immediately.
func (e *Engine) Discover(ctx context.Context) {
	e.scheduler.Tick(ctx)
}

// Stop ends discovery and unregisters every instrument callback.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	e.scheduler.Stop()
	if err := e.registrar.Close(); err != nil {
		return fmt.Errorf("unregister callbacks: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// Stats returns a snapshot of engine progress.
func (e *Engine) Stats() Stats {
	return Stats{
		Definitions: len(e.cfg.Definitions),
		Discovery:   e.scheduler.Stats(),
		Registrar:   e.registrar.Stats(),
	}
}

// PublishStats exposes the engine's own counters as a managed resource on
// reg, so they can be collected like any other resource.
func (e *Engine) PublishStats(reg *resource.Registry) error {
	id, err := resource.ParseIdentity(StatsIdentity)
	if err != nil {
		return err
	}

	read := func(f func(Stats) resource.Value) resource.Attribute {
		return resource.Attribute{Read: func() resource.Value { return f(e.Stats()) }}
	}
	return reg.Register(id, map[string]resource.Attribute{
		"Definitions": read(func(s Stats) resource.Value { return resource.Int(int64(s.Definitions)) }),
		"Ticks":       read(func(s Stats) resource.Value { return resource.Uint(s.Discovery.Ticks) }),
		"NextDelay":   read(func(s Stats) resource.Value { return resource.Float(s.Discovery.NextDelay.Seconds()) }),
		"Enrollments": read(func(s Stats) resource.Value { return resource.Uint(s.Registrar.Enrollments) }),
		"Instruments": read(func(s Stats) resource.Value { return resource.Uint(s.Registrar.Instruments) }),
		"Failed":      read(func(s Stats) resource.Value { return resource.Uint(s.Registrar.Failed) }),
	})
}
