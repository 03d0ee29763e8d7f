// Package exporter builds the meter provider the engine registers its
// instruments on, with a Prometheus pull endpoint and an OTLP push reader.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/multierr"

	"github.com/neox5/otelinsight/internal/config"
)

// ScopeName is the instrumentation scope of the engine's instruments.
const ScopeName = "github.com/neox5/otelinsight"

const shutdownTimeout = 5 * time.Second

// Pipeline owns the meter provider and the Prometheus HTTP server.
type Pipeline struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	cfg      config.ExportConfig
	logger   *slog.Logger
}

// NewPipeline creates the meter provider with one reader per enabled
// exporter. With no exporter enabled the provider has no readers and
// instruments are never collected.
func NewPipeline(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "exporter")

	res, err := createOTELResource(ctx, otelResource(cfg))
	if err != nil {
		return nil, err
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	p := &Pipeline{cfg: cfg, logger: logger}

	if cfg.Prometheus != nil {
		promRegistry, reader, err := createPrometheusReader()
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
		p.server = createHTTPServer(cfg.Prometheus.Addr(), cfg.Prometheus.Path, promRegistry, logger)
	}

	if cfg.OTEL != nil {
		reader, err := createOTLPReader(ctx, cfg.OTEL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(reader))
		logger.Info("otel exporter configured",
			"transport", cfg.OTEL.Transport,
			"endpoint", cfg.OTEL.Endpoint(),
			"interval", cfg.OTEL.Interval)
	}

	p.provider = sdkmetric.NewMeterProvider(opts...)
	return p, nil
}

func otelResource(cfg config.ExportConfig) map[string]string {
	if cfg.OTEL == nil {
		return nil
	}
	return cfg.OTEL.Resource
}

// Meter returns the meter engine instruments are created on.
func (p *Pipeline) Meter() metric.Meter {
	return p.provider.Meter(ScopeName)
}

// MeterProvider returns the underlying provider.
func (p *Pipeline) MeterProvider() *sdkmetric.MeterProvider {
	return p.provider
}

// Handler returns the Prometheus scrape handler, nil when Prometheus is
// disabled.
func (p *Pipeline) Handler() http.Handler {
	if p.server == nil {
		return nil
	}
	return p.server.Handler
}

// Run serves the Prometheus endpoint until ctx is cancelled. Without
// Prometheus it only waits for ctx.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.server == nil {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return fmt.Errorf("prometheus listen: %w", err)
	}
	return p.serve(ctx, ln)
}

func (p *Pipeline) serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)

	go func() {
		p.logger.Info("starting prometheus exporter", "addr", ln.Addr().String(), "path", p.cfg.Prometheus.Path)
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("prometheus server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		p.logger.Info("shutting down prometheus exporter")
		return p.server.Shutdown(shutdownCtx)
	}
}

// Shutdown flushes pending OTLP exports and stops the meter provider.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	p.logger.Info("shutting down meter provider")
	return multierr.Combine(
		p.provider.ForceFlush(ctx),
		p.provider.Shutdown(ctx),
	)
}
