package metric

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/unit"
)

// countingMeter counts instrument creations and can be made to fail them.
type countingMeter struct {
	otelmetric.Meter
	created atomic.Int32
	fail    error
}

func (m *countingMeter) count() error {
	m.created.Add(1)
	return m.fail
}

func (m *countingMeter) Int64ObservableCounter(name string, opts ...otelmetric.Int64ObservableCounterOption) (otelmetric.Int64ObservableCounter, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Int64ObservableCounter(name, opts...)
}

func (m *countingMeter) Int64ObservableUpDownCounter(name string, opts ...otelmetric.Int64ObservableUpDownCounterOption) (otelmetric.Int64ObservableUpDownCounter, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Int64ObservableUpDownCounter(name, opts...)
}

func (m *countingMeter) Int64ObservableGauge(name string, opts ...otelmetric.Int64ObservableGaugeOption) (otelmetric.Int64ObservableGauge, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Int64ObservableGauge(name, opts...)
}

func (m *countingMeter) Float64ObservableCounter(name string, opts ...otelmetric.Float64ObservableCounterOption) (otelmetric.Float64ObservableCounter, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Float64ObservableCounter(name, opts...)
}

func (m *countingMeter) Float64ObservableUpDownCounter(name string, opts ...otelmetric.Float64ObservableUpDownCounterOption) (otelmetric.Float64ObservableUpDownCounter, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Float64ObservableUpDownCounter(name, opts...)
}

func (m *countingMeter) Float64ObservableGauge(name string, opts ...otelmetric.Float64ObservableGaugeOption) (otelmetric.Float64ObservableGauge, error) {
	if err := m.count(); err != nil {
		return nil, err
	}
	return m.Meter.Float64ObservableGauge(name, opts...)
}

type fixture struct {
	reader  *sdkmetric.ManualReader
	meter   *countingMeter
	backend *resource.Registry
	id      resource.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	backend := resource.NewRegistry("memory")
	id := resource.MustParseIdentity("app:type=Pool,name=main")
	require.NoError(t, backend.Register(id, map[string]resource.Attribute{
		"X":       resource.Static(resource.Int(42), "the answer"),
		"Latency": resource.Static(resource.Int(1500), ""),
		"State":   resource.Static(resource.Text("Running"), ""),
		"Kind":    resource.Static(resource.Text("Primary"), ""),
	}))

	return &fixture{
		reader:  reader,
		meter:   &countingMeter{Meter: provider.Meter("test")},
		backend: backend,
		id:      id,
	}
}

func (f *fixture) collect(t *testing.T) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func int64Points(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	m, ok := findMetric(rm, name)
	if !ok {
		return nil
	}
	switch d := m.Data.(type) {
	case metricdata.Gauge[int64]:
		return d.DataPoints
	case metricdata.Sum[int64]:
		return d.DataPoints
	}
	return nil
}

func stringAttr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func mustExtractor(t *testing.T, path string, info Info, attrs []AttributeSpec, opts ...Option) *Extractor {
	t.Helper()
	e, err := NewExtractor(attrpath.MustParse(path), info, attrs, opts...)
	require.NoError(t, err)
	return e
}

func TestEnrollCreatesInstrumentOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)

	e := mustExtractor(t, "X", Info{Name: "app.x", Kind: KindGauge},
		[]AttributeSpec{Tag("pool", FromProperty("name")), Tag("kind", Lowercase(FromAttribute(attrpath.MustParse("Kind"))))})
	require.Nil(t, e.Status())

	info, err := e.Validate(ctx, f.backend, f.id)
	require.NoError(t, err)
	require.Equal(t, "the answer", info.Description)

	for range 5 {
		require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, e, info))
	}
	require.EqualValues(t, 1, f.meter.created.Load())
	require.NotNil(t, e.Status())

	stats := r.Stats()
	require.EqualValues(t, 5, stats.Enrollments)
	require.EqualValues(t, 1, stats.Instruments)

	rm := f.collect(t)
	m, ok := findMetric(rm, "app.x")
	require.True(t, ok)
	require.Equal(t, "the answer", m.Description)

	points := int64Points(rm, "app.x")
	require.Len(t, points, 1)
	require.EqualValues(t, 42, points[0].Value)
	require.Equal(t, "main", stringAttr(points[0].Attributes, "pool"))
	require.Equal(t, "primary", stringAttr(points[0].Attributes, "kind"))
}

func TestEnrollConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)
	e := mustExtractor(t, "X", Info{Name: "app.x", Kind: KindCounter}, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			_ = r.Enroll(ctx, f.backend, []resource.Identity{f.id}, e, resource.AttributeInfo{})
		})
	}
	wg.Wait()

	require.EqualValues(t, 1, f.meter.created.Load())
}

func TestCallbackSkipsMissingResource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)
	e := mustExtractor(t, "X", Info{Name: "app.x", Kind: KindGauge}, nil)

	require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, e, resource.AttributeInfo{}))
	require.True(t, f.backend.Unregister(f.id))

	rm := f.collect(t)
	require.Empty(t, int64Points(rm, "app.x"))
}

func TestEnrollRejectsStateKind(t *testing.T) {
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)

	e := mustExtractor(t, "State", Info{Name: "app.state", Kind: KindState},
		[]AttributeSpec{StateTag("state")},
		WithStates(StateMapping{States: map[string][]string{"running": {"Running"}}}))

	err := r.Enroll(context.Background(), f.backend, []resource.Identity{f.id}, e, resource.AttributeInfo{})
	require.ErrorIs(t, err, ErrStateKind)
	require.Nil(t, e.Status())
	require.Zero(t, f.meter.created.Load())
}

func TestConversionUsesFloatInstrument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)

	conv, err := unit.Default().Lookup("ms", "s")
	require.NoError(t, err)

	e := mustExtractor(t, "Latency",
		Info{Name: "app.latency", Unit: "s", SourceUnit: "ms", Kind: KindGauge}, nil,
		WithConverter(conv))

	info, err := e.Validate(ctx, f.backend, f.id)
	require.NoError(t, err)
	require.True(t, info.Double)
	require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, e, info))

	m, ok := findMetric(f.collect(t), "app.latency")
	require.True(t, ok)
	require.Equal(t, "s", m.Unit)

	gauge, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok, "unexpected data type %T", m.Data)
	require.Len(t, gauge.DataPoints, 1)
	require.InDelta(t, 1.5, gauge.DataPoints[0].Value, 1e-9)
}

func TestNewExtractorUnitChecks(t *testing.T) {
	_, err := NewExtractor(attrpath.MustParse("Latency"),
		Info{Name: "app.latency", Unit: "s", SourceUnit: "ms"}, nil)
	require.Error(t, err)

	conv, err := unit.Default().Lookup("us", "s")
	require.NoError(t, err)
	_, err = NewExtractor(attrpath.MustParse("Latency"),
		Info{Name: "app.latency", Unit: "s", SourceUnit: "ms"}, nil, WithConverter(conv))
	require.Error(t, err)

	_, err = NewExtractor(attrpath.MustParse("X"), Info{Name: "app.x"}, []AttributeSpec{StateTag("state")})
	require.Error(t, err)

	_, err = NewExtractor(attrpath.MustParse("X"), Info{Name: "app.x"},
		[]AttributeSpec{Tag("a", Const("1")), Tag("a", Const("2"))})
	require.Error(t, err)
}

func TestInstrumentFailureIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.meter.fail = errors.New("rejected")
	r := NewRegistrar(f.meter, nil)

	bad := mustExtractor(t, "X", Info{Name: "app.bad", Kind: KindGauge}, nil)
	require.Error(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, bad, resource.AttributeInfo{}))
	require.True(t, bad.Failed())

	// Not retried.
	require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, bad, resource.AttributeInfo{}))
	require.EqualValues(t, 1, f.meter.created.Load())

	f.meter.fail = nil
	good := mustExtractor(t, "X", Info{Name: "app.good", Kind: KindGauge}, nil)
	require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, good, resource.AttributeInfo{}))

	stats := r.Stats()
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 1, stats.Instruments)
	require.Len(t, int64Points(f.collect(t), "app.good"), 1)
}

func TestCloseUnregistersCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)
	e := mustExtractor(t, "X", Info{Name: "app.x", Kind: KindGauge}, nil)

	require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, e, resource.AttributeInfo{}))
	require.Len(t, int64Points(f.collect(t), "app.x"), 1)

	require.NoError(t, r.Close())
	require.Empty(t, int64Points(f.collect(t), "app.x"))

	other := mustExtractor(t, "X", Info{Name: "app.y", Kind: KindGauge}, nil)
	require.ErrorIs(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, other, resource.AttributeInfo{}), ErrClosed)
}

func TestStateExpansion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistrar(f.meter, nil)

	state := mustExtractor(t, "State", Info{Name: "app.state", Kind: KindState},
		[]AttributeSpec{Tag("pool", FromProperty("name")), StateTag("state")},
		WithStates(StateMapping{States: map[string][]string{
			"running": {"Running"},
			"stopped": {"Stopped", "Terminated"},
		}}))

	def, err := NewDefinition(resource.MustGroup("app:type=Pool,*"), state)
	require.NoError(t, err)

	xs := def.Extractors()
	require.Len(t, xs, 3)
	for _, x := range xs {
		require.Equal(t, KindUpDownCounter, x.Info().Kind)
		info, err := x.Validate(ctx, f.backend, f.id)
		require.NoError(t, err)
		require.NoError(t, r.Enroll(ctx, f.backend, []resource.Identity{f.id}, x, info))
	}

	points := int64Points(f.collect(t), "app.state")
	require.Len(t, points, 3)

	got := make(map[string]int64)
	for _, p := range points {
		require.Equal(t, "main", stringAttr(p.Attributes, "pool"))
		got[stringAttr(p.Attributes, "state")] = p.Value
	}
	require.Equal(t, map[string]int64{"running": 1, "stopped": 0, DefaultFallbackState: 0}, got)
}

func TestStateValidate(t *testing.T) {
	ctx := context.Background()
	backend := resource.NewRegistry("memory")
	id := resource.MustParseIdentity("app:type=Pool,name=main")
	require.NoError(t, backend.Register(id, map[string]resource.Attribute{
		"State": resource.Static(resource.Text("Running"), "pool state"),
		"Size":  resource.Static(resource.Int(3), ""),
	}))

	mapping := WithStates(StateMapping{States: map[string][]string{"running": {"Running"}}})
	attrs := []AttributeSpec{StateTag("state")}

	state := mustExtractor(t, "State", Info{Name: "app.state", Kind: KindState}, attrs, mapping)
	info, err := state.Validate(ctx, backend, id)
	require.NoError(t, err)
	require.Equal(t, "pool state", info.Description)
	require.False(t, info.Double)

	numeric := mustExtractor(t, "Size", Info{Name: "app.size.state", Kind: KindState}, attrs, mapping)
	_, err = numeric.Validate(ctx, backend, id)
	require.ErrorIs(t, err, resource.ErrNotNumeric)
}

func TestStateMappingErrors(t *testing.T) {
	info := Info{Name: "app.state", Kind: KindState}
	attrs := []AttributeSpec{StateTag("state")}

	_, err := NewExtractor(attrpath.MustParse("State"), info, attrs)
	require.Error(t, err)

	_, err = NewExtractor(attrpath.MustParse("State"), info, attrs,
		WithStates(StateMapping{States: map[string][]string{"a": {"x"}, "b": {"x"}}}))
	require.Error(t, err)

	_, err = NewExtractor(attrpath.MustParse("State"), info, attrs,
		WithStates(StateMapping{States: map[string][]string{"unknown": {"x"}}}))
	require.Error(t, err)

	_, err = NewExtractor(attrpath.MustParse("State"), info, nil,
		WithStates(StateMapping{States: map[string][]string{"a": {"x"}}}))
	require.Error(t, err)
}

func TestNewDefinitionRejectsDuplicates(t *testing.T) {
	group := resource.MustGroup("app:type=Pool,*")
	info := Info{Name: "app.io", Kind: KindCounter}

	read := mustExtractor(t, "X", info, []AttributeSpec{Tag("direction", Const("read"))})
	write := mustExtractor(t, "X", info, []AttributeSpec{Tag("direction", Const("write"))})
	_, err := NewDefinition(group, read, write)
	require.NoError(t, err)

	again := mustExtractor(t, "X", info, []AttributeSpec{Tag("direction", Const("read"))})
	_, err = NewDefinition(group, read, again)
	require.Error(t, err)

	byProp1 := mustExtractor(t, "X", info, []AttributeSpec{Tag("pool", FromProperty("name"))})
	byProp2 := mustExtractor(t, "X", info, []AttributeSpec{Tag("pool", FromProperty("type"))})
	_, err = NewDefinition(group, byProp1, byProp2)
	require.Error(t, err)

	_, err = NewDefinition(nil, read)
	require.Error(t, err)
	_, err = NewDefinition(group)
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindGauge, KindCounter, KindUpDownCounter, KindState} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
	got, err := ParseKind("COUNTER")
	require.NoError(t, err)
	require.Equal(t, KindCounter, got)

	_, err = ParseKind("histogram")
	require.Error(t, err)
}
