package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/neox5/otelinsight/internal/backend/goruntime"
	"github.com/neox5/otelinsight/internal/engine"
	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/unit"
)

func TestBuiltinSetsBuild(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			set, ok := Builtin(name)
			require.True(t, ok)
			defs, err := set.Build(unit.Default())
			require.NoError(t, err)
			require.Len(t, defs, len(set.Rules))
			for _, d := range defs {
				for _, e := range d.Extractors() {
					require.Contains(t, e.Info().Name, set.Prefix)
				}
			}
		})
	}
}

func TestBuildUnknownSet(t *testing.T) {
	_, err := Build([]string{"runtime", "nope"}, unit.Default())
	require.ErrorContains(t, err, `unknown rule set "nope"`)
}

func TestBuildUnknownUnitPair(t *testing.T) {
	set := Set{
		Name: "test",
		Rules: []Rule{{
			Patterns: []string{"app:*"},
			Mappings: []Mapping{{Attribute: "X", Metric: "x", Unit: "h", SourceUnit: "d"}},
		}},
	}
	_, err := set.Build(unit.Default())
	require.ErrorIs(t, err, unit.ErrNoConversion)

	_, err = set.Build(nil)
	require.Error(t, err)
}

func TestBuildInvalidInput(t *testing.T) {
	for name, m := range map[string]Mapping{
		"bad path":     {Attribute: "a..b", Metric: "x"},
		"no metric":    {Attribute: "X"},
		"bad kind":     {Attribute: "X", Metric: "x", Kind: "histogram"},
		"state no map": {Attribute: "X", Metric: "x", Kind: "state"},
	} {
		t.Run(name, func(t *testing.T) {
			set := Set{Name: "test", Rules: []Rule{{Patterns: []string{"app:*"}, Mappings: []Mapping{m}}}}
			_, err := set.Build(unit.Default())
			require.Error(t, err)
		})
	}

	set := Set{Name: "test", Rules: []Rule{{Patterns: []string{"no-colon"}, Mappings: []Mapping{{Attribute: "X", Metric: "x"}}}}}
	_, err := set.Build(unit.Default())
	require.Error(t, err)
}

func TestKindDefaults(t *testing.T) {
	set := Set{
		Name:   "test",
		Prefix: "app.",
		Kind:   "counter",
		Unit:   "By",
		Rules: []Rule{{
			Patterns: []string{"app:*"},
			Mappings: []Mapping{
				{Attribute: "A", Metric: "a"},
				{Attribute: "B", Metric: "b", Kind: "gauge", Unit: "s", SourceUnit: "ms"},
			},
		}},
	}
	defs, err := set.Build(unit.Default())
	require.NoError(t, err)
	xs := defs[0].Extractors()
	require.Equal(t, metric.Info{Name: "app.a", Unit: "By", Kind: metric.KindCounter}, xs[0].Info())
	require.Equal(t, metric.KindGauge, xs[1].Info().Kind)
	require.True(t, xs[1].Double())

	set.Kind = ""
	defs, err = set.Build(unit.Default())
	require.NoError(t, err)
	require.Equal(t, metric.KindGauge, defs[0].Extractors()[0].Info().Kind)
}

func TestMergeAttributes(t *testing.T) {
	base := []metric.AttributeSpec{
		metric.Tag("a", metric.Const("base")),
		metric.Tag("b", metric.Const("base")),
	}
	override := []metric.AttributeSpec{
		metric.Tag("c", metric.Const("mapping")),
		metric.Tag("a", metric.Const("mapping")),
	}

	got := mergeAttributes(base, override)
	require.Len(t, got, 3)

	var names []string
	for _, a := range got {
		names = append(names, a.Name)
	}
	require.Equal(t, []string{"a", "b", "c"}, names)

	v, ok := got[0].Extractor.Extract(context.Background(), nil, resource.Identity{})
	require.True(t, ok)
	require.Equal(t, "mapping", v)
}

func TestProcessStatusExpands(t *testing.T) {
	defs, err := Process().Build(unit.Default())
	require.NoError(t, err)

	var states []string
	for _, e := range defs[0].Extractors() {
		if e.Info().Name == "process.status" {
			require.Equal(t, metric.KindUpDownCounter, e.Info().Kind)
			states = append(states, e.Info().Name)
		}
	}
	// running, sleeping, stopped, zombie and the fallback
	require.Len(t, states, 5)
}

func TestHostNetworkSkipsLoopback(t *testing.T) {
	defs, err := Host().Build(unit.Default())
	require.NoError(t, err)

	var network resource.Group
	for _, d := range defs {
		if d.Group().String() == "host:name=*,type=Network" {
			network = d.Group()
		}
	}
	require.NotNil(t, network)
	require.True(t, network.Matches(resource.MustParseIdentity("host:type=Network,name=eth0")))
	require.False(t, network.Matches(resource.MustParseIdentity("host:type=Network,name=lo")))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRuntimeAndEngineSets(t *testing.T) {
	ctx := context.Background()

	defs, err := Build([]string{SetRuntime, SetEngine}, unit.Default())
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	self := resource.NewRegistry("self")
	e := engine.New(provider.Meter("test"), engine.Config{
		Backends:    []resource.Backend{goruntime.New(), self},
		Definitions: defs,
	}, nil)
	t.Cleanup(func() { _ = e.Stop() })
	require.NoError(t, e.PublishStats(self))

	e.Start()
	e.Discover(ctx)

	got := collect(t, reader)
	require.Contains(t, got, "go.goroutine.count")
	require.Contains(t, got, "go.memory.allocated")
	require.Contains(t, got, "otelinsight.definitions")

	sum, ok := got["go.goroutine.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	require.Positive(t, sum.DataPoints[0].Value)

	defsSum, ok := got["otelinsight.definitions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.EqualValues(t, len(defs), defsSum.DataPoints[0].Value)
}
