// Package discovery periodically looks for resources matching metric
// definitions and hands what it finds to the registrar.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
)

const (
	minDelay    = time.Second
	minMaxDelay = time.Minute
)

// Enroller receives the resources found for an extractor.
type Enroller interface {
	Enroll(ctx context.Context, b resource.Backend, ids []resource.Identity, e *metric.Extractor, info resource.AttributeInfo) error
}

// Stats describes scheduler progress.
type Stats struct {
	Ticks     uint64
	LastTick  time.Time
	NextDelay time.Duration
}

// Scheduler runs discovery on a timer whose delay grows after every tick
// until it reaches a cap. It keeps polling until stopped.
type Scheduler struct {
	backends []resource.Backend
	enroller Enroller
	logger   *slog.Logger

	step     time.Duration
	maxDelay time.Duration

	// afterFunc is time.AfterFunc outside of tests.
	afterFunc func(time.Duration, func()) *time.Timer

	mu      sync.Mutex
	defs    []*metric.Definition
	timer   *time.Timer
	next    time.Duration
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	ticks    atomic.Uint64
	lastTick atomic.Int64
}

// New creates a scheduler. Backends are queried in order; the first one
// that matches a definition wins for that tick.
func New(backends []resource.Backend, enroller Enroller, delay time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	step := max(delay, minDelay)
	return &Scheduler{
		backends:  backends,
		enroller:  enroller,
		logger:    logger.With("component", "discovery"),
		step:      step,
		maxDelay:  max(minMaxDelay, delay),
		afterFunc: time.AfterFunc,
		next:      step,
	}
}

// Start schedules the first tick. Calling Start more than once, or after
// Stop, has no effect.
func (s *Scheduler) Start(defs []*metric.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true
	s.defs = defs
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("discovery started",
		"definitions", len(defs),
		"backends", len(s.backends),
		"delay", s.next,
		"max_delay", s.maxDelay)
	s.timer = s.afterFunc(s.next, s.run)
}

// Stop prevents further ticks. An in-flight tick is not waited for.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("discovery stopped", "ticks", s.ticks.Load())
}

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	ctx, defs := s.ctx, s.defs
	s.mu.Unlock()

	s.tick(ctx, defs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.next = min(s.next+s.step, s.maxDelay)
	s.timer = s.afterFunc(s.next, s.run)
}

// Tick runs one discovery pass over the started definitions synchronously.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defs := s.defs
	s.mu.Unlock()

	s.tick(ctx, defs)
}

func (s *Scheduler) tick(ctx context.Context, defs []*metric.Definition) {
	start := time.Now()
	for _, def := range defs {
		s.discover(ctx, def)
	}
	n := s.ticks.Add(1)
	s.lastTick.Store(start.UnixNano())

	s.logger.Debug("discovery tick",
		"tick", n,
		"definitions", len(defs),
		"duration", time.Since(start))
}

// discover queries backends in order and enrolls the extractors of def with
// the first backend that yields matches.
func (s *Scheduler) discover(ctx context.Context, def *metric.Definition) {
	for _, b := range s.backends {
		ids, err := query(ctx, b, def.Group())
		if err != nil {
			s.logger.Warn("resource query failed",
				"backend", b.Name(),
				"patterns", def.Group().String(),
				"error", err)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		s.enroll(ctx, b, ids, def)
		return
	}
}

// query returns the union of the matches for every pattern in g,
// de-duplicated and in first-seen order.
func query(ctx context.Context, b resource.Backend, g resource.Group) ([]resource.Identity, error) {
	var (
		out  []resource.Identity
		seen = make(map[string]bool)
	)
	for _, p := range g {
		ids, err := b.Query(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			key := id.String()
			if seen[key] || !p.Matches(id) {
				continue
			}
			seen[key] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Scheduler) enroll(ctx context.Context, b resource.Backend, ids []resource.Identity, def *metric.Definition) {
	for _, e := range def.Extractors() {
		var (
			valid []resource.Identity
			info  resource.AttributeInfo
		)
		for _, id := range ids {
			ai, err := e.Validate(ctx, b, id)
			if err != nil {
				s.logger.Debug("resource not eligible",
					"metric", e.Info().Name,
					"resource", id.String(),
					"error", err)
				continue
			}
			if len(valid) == 0 {
				info = ai
			}
			valid = append(valid, id)
		}
		if len(valid) == 0 {
			continue
		}

		if err := s.enroller.Enroll(ctx, b, valid, e, info); err != nil {
			s.logger.Debug("enroll failed",
				"metric", e.Info().Name,
				"error", err)
		}
	}
}

// Stats returns scheduler progress.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	next := s.next
	s.mu.Unlock()

	st := Stats{Ticks: s.ticks.Load(), NextDelay: next}
	if ns := s.lastTick.Load(); ns != 0 {
		st.LastTick = time.Unix(0, ns)
	}
	return st
}
