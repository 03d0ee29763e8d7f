package metric

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/unit"
)

// DetectionStatus is the backend and resource set an extractor currently
// reads from. It is replaced as a whole, never modified.
type DetectionStatus struct {
	backend    resource.Backend
	identities []resource.Identity
}

// NewDetectionStatus copies ids into a new status.
func NewDetectionStatus(b resource.Backend, ids []resource.Identity) *DetectionStatus {
	return &DetectionStatus{
		backend:    b,
		identities: append([]resource.Identity(nil), ids...),
	}
}

// Backend returns the backend the identities were found on.
func (s *DetectionStatus) Backend() resource.Backend { return s.backend }

// Identities returns the matched resources. The slice must not be modified.
func (s *DetectionStatus) Identities() []resource.Identity { return s.identities }

// Option configures an Extractor.
type Option func(*Extractor)

// WithConverter converts every value before it is observed.
func WithConverter(c *unit.Converter) Option {
	return func(e *Extractor) { e.converter = c }
}

// WithStates maps the text value of a state metric's attribute to state
// names. Required for KindState.
func WithStates(m StateMapping) Option {
	return func(e *Extractor) { e.states = &m }
}

// Extractor reads one metric from the resources matched by a Definition.
// Everything except the detection status is fixed at construction.
type Extractor struct {
	path      attrpath.Path
	info      Info
	attrs     []AttributeSpec
	converter *unit.Converter

	// states and state are set on state metrics. Before expansion only
	// states is set; each expanded extractor reports state.
	states *StateMapping
	state  string

	mu     sync.Mutex
	status *DetectionStatus
	failed bool
}

// NewExtractor validates and builds an extractor.
func NewExtractor(path attrpath.Path, info Info, attrs []AttributeSpec, opts ...Option) (*Extractor, error) {
	e := &Extractor{
		path:  path,
		info:  info,
		attrs: append([]AttributeSpec(nil), attrs...),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.validate(); err != nil {
		return nil, fmt.Errorf("metric %q: %w", info.Name, err)
	}
	return e, nil
}

func (e *Extractor) validate() error {
	if e.info.Name == "" {
		return errors.New("empty metric name")
	}
	if e.path.Name == "" {
		return errors.New("empty attribute path")
	}

	switch {
	case e.info.needsConversion() && e.converter == nil:
		return fmt.Errorf("unit %q -> %q requires a converter", e.info.SourceUnit, e.info.Unit)
	case e.converter != nil && (e.converter.Source() != e.info.SourceUnit || e.converter.Target() != e.info.Unit):
		return fmt.Errorf("converter %q -> %q does not match units %q -> %q",
			e.converter.Source(), e.converter.Target(), e.info.SourceUnit, e.info.Unit)
	}

	seen := make(map[string]bool, len(e.attrs))
	stateTags := 0
	for _, a := range e.attrs {
		if a.Name == "" {
			return errors.New("empty attribute name")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate attribute %q", a.Name)
		}
		seen[a.Name] = true
		if a.Extractor == nil {
			stateTags++
		}
	}

	if e.info.Kind == KindState {
		if e.states == nil {
			return errors.New("state metric without state mapping")
		}
		if stateTags != 1 {
			return fmt.Errorf("state metric needs exactly one state attribute, got %d", stateTags)
		}
		if e.converter != nil {
			return errors.New("state metric cannot convert units")
		}
		return e.states.validate()
	}

	if e.states != nil && e.state == "" {
		return fmt.Errorf("state mapping on %s metric", e.info.Kind)
	}
	if stateTags != 0 {
		return fmt.Errorf("attribute without extractor on %s metric", e.info.Kind)
	}
	return nil
}

// Path returns the attribute path read by the extractor.
func (e *Extractor) Path() attrpath.Path { return e.path }

// Info returns the metric metadata.
func (e *Extractor) Info() Info { return e.info }

// Attributes returns the tag specs.
func (e *Extractor) Attributes() []AttributeSpec { return e.attrs }

// Status returns the current detection status, nil before the first
// enrollment.
func (e *Extractor) Status() *DetectionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Double reports whether values are always observed as float64.
func (e *Extractor) Double() bool { return e.converter != nil }

// Validate checks that id exposes a value this extractor can report.
func (e *Extractor) Validate(ctx context.Context, b resource.Backend, id resource.Identity) (resource.AttributeInfo, error) {
	if e.states != nil {
		if _, ok := resource.ResolveText(ctx, b, id, e.path); !ok {
			return resource.AttributeInfo{}, fmt.Errorf("%s of %s: no state value: %w", e.path, id, resource.ErrNotNumeric)
		}
		var info resource.AttributeInfo
		if d, ok := b.(resource.Describer); ok {
			info.Description = d.Describe(id, e.path.Name)
		}
		return info, nil
	}

	info, err := resource.Validate(ctx, b, id, e.path)
	if err != nil {
		return resource.AttributeInfo{}, err
	}
	if e.converter != nil {
		info.Double = true
	}
	return info, nil
}

// Value reads the observed value for id: the converted number, or 1/0 for
// an expanded state metric.
func (e *Extractor) Value(ctx context.Context, b resource.Backend, id resource.Identity) (resource.Value, error) {
	if e.states != nil {
		text, ok := resource.ResolveText(ctx, b, id, e.path)
		if !ok {
			return resource.Value{}, fmt.Errorf("%s of %s: no state value", e.path, id)
		}
		if e.states.StateOf(text) == e.state {
			return resource.Int(1), nil
		}
		return resource.Int(0), nil
	}

	v, err := resource.Resolve(ctx, b, id, e.path)
	if err != nil {
		return resource.Value{}, err
	}
	if !v.IsNumeric() {
		return resource.Value{}, fmt.Errorf("%s of %s is %s: %w", e.path, id, v.Kind(), resource.ErrNotNumeric)
	}
	if e.converter != nil {
		return resource.Float(e.converter.Convert(v.AsFloat())), nil
	}
	return v, nil
}

// MeasurementAttributes resolves every tag for id, omitting tags without a
// value.
func (e *Extractor) MeasurementAttributes(ctx context.Context, b resource.Backend, id resource.Identity) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(e.attrs))
	for _, a := range e.attrs {
		if a.Extractor == nil {
			continue
		}
		if v, ok := a.Extractor.Extract(ctx, b, id); ok {
			kvs = append(kvs, attribute.String(a.Name, v))
		}
	}
	return kvs
}

// enroll stores a new status and reports whether it was the first one.
// Extractors whose instrument could not be created keep their status but
// are never reported as first again.
func (e *Extractor) enroll(status *DetectionStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	first := e.status == nil
	e.status = status
	return first && !e.failed
}

func (e *Extractor) markFailed() {
	e.mu.Lock()
	e.failed = true
	e.mu.Unlock()
}

// Failed reports whether instrument creation failed for this extractor.
func (e *Extractor) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}
