package metric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"

	"github.com/neox5/otelinsight/internal/resource"
)

var (
	// ErrStateKind is returned when a state extractor is enrolled before
	// being expanded.
	ErrStateKind = errors.New("state metrics must be expanded before enrollment")
	// ErrClosed is returned by Enroll after Close.
	ErrClosed = errors.New("registrar is closed")
)

// Stats counts registrar activity.
type Stats struct {
	Enrollments uint64
	Instruments uint64
	Failed      uint64
}

// Registrar creates one asynchronous instrument per extractor and owns the
// callback registrations.
type Registrar struct {
	meter  otelmetric.Meter
	logger *slog.Logger

	mu     sync.Mutex
	regs   []otelmetric.Registration
	closed bool

	enrollments atomic.Uint64
	instruments atomic.Uint64
	failed      atomic.Uint64
}

// NewRegistrar creates a registrar that builds instruments on meter.
func NewRegistrar(meter otelmetric.Meter, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		meter:  meter,
		logger: logger.With("component", "registrar"),
	}
}

// Enroll records that ids on b currently satisfy e. The first enrollment of
// an extractor creates its instrument; later ones only replace the status.
// Safe for concurrent use.
func (r *Registrar) Enroll(ctx context.Context, b resource.Backend, ids []resource.Identity, e *Extractor, info resource.AttributeInfo) error {
	if e.info.Kind == KindState {
		return fmt.Errorf("metric %q: %w", e.info.Name, ErrStateKind)
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	r.enrollments.Add(1)
	if !e.enroll(NewDetectionStatus(b, ids)) {
		return nil
	}

	if err := r.register(e, info); err != nil {
		e.markFailed()
		r.failed.Add(1)
		r.logger.Error("failed to register metric",
			"name", e.info.Name,
			"kind", e.info.Kind,
			"error", err)
		return err
	}

	r.instruments.Add(1)
	r.logger.Info("registered metric",
		"name", e.info.Name,
		"kind", e.info.Kind,
		"unit", e.info.Unit,
		"backend", b.Name(),
		"resources", len(ids))
	return nil
}

func (r *Registrar) register(e *Extractor, info resource.AttributeInfo) error {
	description := e.info.Description
	if description == "" {
		description = info.Description
	}
	double := info.Double || e.Double()

	inst, err := r.instrument(e.info, description, double)
	if err != nil {
		return fmt.Errorf("create %s %q: %w", e.info.Kind, e.info.Name, err)
	}

	reg, err := r.meter.RegisterCallback(r.callback(e, inst, double), inst)
	if err != nil {
		return fmt.Errorf("register callback for %q: %w", e.info.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		// Close ran while the instrument was being built.
		return multierr.Append(ErrClosed, reg.Unregister())
	}
	r.regs = append(r.regs, reg)
	return nil
}

func (r *Registrar) instrument(info Info, description string, double bool) (otelmetric.Observable, error) {
	desc := otelmetric.WithDescription(description)
	unit := otelmetric.WithUnit(info.Unit)

	switch info.Kind {
	case KindCounter:
		if double {
			return r.meter.Float64ObservableCounter(info.Name, desc, unit)
		}
		return r.meter.Int64ObservableCounter(info.Name, desc, unit)
	case KindUpDownCounter:
		if double {
			return r.meter.Float64ObservableUpDownCounter(info.Name, desc, unit)
		}
		return r.meter.Int64ObservableUpDownCounter(info.Name, desc, unit)
	case KindGauge:
		if double {
			return r.meter.Float64ObservableGauge(info.Name, desc, unit)
		}
		return r.meter.Int64ObservableGauge(info.Name, desc, unit)
	default:
		return nil, fmt.Errorf("unsupported kind %s", info.Kind)
	}
}

// callback observes e for every resource of its current status. Resources
// that fail to resolve are skipped for this collection.
func (r *Registrar) callback(e *Extractor, inst otelmetric.Observable, double bool) otelmetric.Callback {
	return func(ctx context.Context, o otelmetric.Observer) error {
		status := e.Status()
		if status == nil {
			return nil
		}
		b := status.Backend()

		for _, id := range status.Identities() {
			v, err := e.Value(ctx, b, id)
			if err != nil {
				r.logger.Debug("skipping resource",
					"name", e.info.Name,
					"resource", id.String(),
					"error", err)
				continue
			}

			opt := otelmetric.WithAttributes(e.MeasurementAttributes(ctx, b, id)...)
			if double {
				o.ObserveFloat64(inst.(otelmetric.Float64Observable), v.AsFloat(), opt)
			} else {
				o.ObserveInt64(inst.(otelmetric.Int64Observable), v.AsInt(), opt)
			}
		}
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (r *Registrar) Stats() Stats {
	return Stats{
		Enrollments: r.enrollments.Load(),
		Instruments: r.instruments.Load(),
		Failed:      r.failed.Load(),
	}
}

// Close unregisters every callback. Instruments stop reporting on the next
// collection.
func (r *Registrar) Close() error {
	r.mu.Lock()
	regs := r.regs
	r.regs = nil
	r.closed = true
	r.mu.Unlock()

	var err error
	for _, reg := range regs {
		err = multierr.Append(err, reg.Unregister())
	}
	return err
}
