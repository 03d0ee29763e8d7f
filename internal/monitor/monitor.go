// Package monitor periodically logs the resource usage of this process
// together with the engine's progress.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/neox5/otelinsight/internal/engine"
)

// StatsSource reports engine progress.
type StatsSource interface {
	Stats() engine.Stats
}

// Monitor tracks process resource usage and engine progress.
type Monitor struct {
	interval time.Duration
	logger   *slog.Logger
	source   StatsSource
	wg       sync.WaitGroup
	proc     *process.Process
}

// New creates a monitor with the given collection interval. source may be
// nil.
func New(interval time.Duration, source StatsSource, logger *slog.Logger) (*Monitor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process handle: %w", err)
	}

	return &Monitor{
		interval: interval,
		logger:   logger.With("component", "monitor"),
		source:   source,
		proc:     proc,
	}, nil
}

// Run starts the monitoring loop in a background goroutine that exits
// when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.wg.Go(func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		// Immediate first collection
		m.collect(ctx)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("monitor shutdown complete")
				return
			case <-ticker.C:
				m.collect(ctx)
			}
		}
	})
}

// Wait blocks until the monitor goroutine exits.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// collect reads current usage and logs one line.
func (m *Monitor) collect(ctx context.Context) {
	processCPU, err := m.proc.CPUPercentWithContext(ctx)
	if err != nil {
		m.logger.Warn("failed to get CPU percent", "error", err)
		processCPU = 0
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	mb := func(b uint64) float64 {
		return float64(b) / (1024 * 1024)
	}

	attrs := []slog.Attr{
		slog.String("cpu", fmt.Sprintf("%.2f%%", processCPU)),
		slog.Int("gor", runtime.NumGoroutine()),
		slog.String("mem", fmt.Sprintf("alloc:%.2fMB sys:%.2fMB", mb(ms.HeapAlloc), mb(ms.HeapSys))),
		slog.Uint64("gc", uint64(ms.NumGC)),
	}

	if m.source != nil {
		s := m.source.Stats()
		attrs = append(attrs,
			slog.Int("defs", s.Definitions),
			slog.Uint64("ticks", s.Discovery.Ticks),
			slog.Duration("next", s.Discovery.NextDelay),
			slog.Uint64("instruments", s.Registrar.Instruments),
			slog.Uint64("failed", s.Registrar.Failed),
		)
		if s.Registrar.Failed > 0 {
			m.logger.Warn("instrument creation failures",
				"failed", s.Registrar.Failed,
				"action", "check metric names and units for conflicts")
		}
	}

	m.logger.LogAttrs(ctx, slog.LevelInfo, "resource", attrs...)
}
