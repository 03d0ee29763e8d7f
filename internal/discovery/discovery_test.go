package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/neox5/otelinsight/internal/attrpath"
	"github.com/neox5/otelinsight/internal/metric"
	"github.com/neox5/otelinsight/internal/resource"
	"github.com/neox5/otelinsight/internal/resource/mock_resource"
)

type enrollCall struct {
	backend string
	ids     []string
	metric  string
}

type recordingEnroller struct {
	mu    sync.Mutex
	calls []enrollCall
}

func (r *recordingEnroller) Enroll(_ context.Context, b resource.Backend, ids []resource.Identity, e *metric.Extractor, _ resource.AttributeInfo) error {
	call := enrollCall{backend: b.Name(), metric: e.Info().Name}
	for _, id := range ids {
		call.ids = append(call.ids, id.String())
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return nil
}

// manualTimer captures scheduled callbacks instead of running them.
type manualTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (m *manualTimer) afterFunc(d time.Duration, f func()) *time.Timer {
	m.mu.Lock()
	m.delays = append(m.delays, d)
	m.fns = append(m.fns, f)
	m.mu.Unlock()
	return time.AfterFunc(time.Hour, func() {})
}

func (m *manualTimer) fire() {
	m.mu.Lock()
	f := m.fns[len(m.fns)-1]
	m.mu.Unlock()
	f()
}

func newScheduler(backends []resource.Backend, enroller Enroller, delay time.Duration) (*Scheduler, *manualTimer) {
	s := New(backends, enroller, delay, nil)
	mt := &manualTimer{}
	s.afterFunc = mt.afterFunc
	return s, mt
}

func definition(t *testing.T, patterns ...string) *metric.Definition {
	t.Helper()
	e, err := metric.NewExtractor(attrpath.MustParse("X"), metric.Info{Name: "app.x"}, nil)
	require.NoError(t, err)
	def, err := metric.NewDefinition(resource.MustGroup(patterns...), e)
	require.NoError(t, err)
	return def
}

func registry(t *testing.T, name string, ids ...string) *resource.Registry {
	t.Helper()
	r := resource.NewRegistry(name)
	for _, s := range ids {
		require.NoError(t, r.Register(resource.MustParseIdentity(s), map[string]resource.Attribute{
			"X": resource.Static(resource.Int(1), ""),
		}))
	}
	return r
}

func TestSecondBackendWins(t *testing.T) {
	first := registry(t, "first")
	second := registry(t, "second", "app:type=Pool,name=a")
	enroller := &recordingEnroller{}

	s, _ := newScheduler([]resource.Backend{first, second}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	s.Tick(context.Background())

	require.Equal(t, []enrollCall{{
		backend: "second",
		ids:     []string{"app:name=a,type=Pool"},
		metric:  "app.x",
	}}, enroller.calls)
}

func TestFirstBackendWithMatchesWins(t *testing.T) {
	first := registry(t, "first", "app:type=Pool,name=a")
	second := registry(t, "second", "app:type=Pool,name=b", "app:type=Pool,name=c")
	enroller := &recordingEnroller{}

	s, _ := newScheduler([]resource.Backend{first, second}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	s.Tick(context.Background())

	require.Len(t, enroller.calls, 1)
	require.Equal(t, "first", enroller.calls[0].backend)
}

func TestNoMatchesNoEnrollment(t *testing.T) {
	enroller := &recordingEnroller{}
	s, _ := newScheduler([]resource.Backend{registry(t, "empty")}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	for range 3 {
		s.Tick(context.Background())
	}
	require.Empty(t, enroller.calls)
	require.EqualValues(t, 3, s.Stats().Ticks)
}

func TestQueryUnionAndFilter(t *testing.T) {
	b := registry(t, "mem",
		"app:type=Pool,name=a",
		"app:type=Cache,name=b",
		"app:type=Cache,name=skip")
	enroller := &recordingEnroller{}

	e, err := metric.NewExtractor(attrpath.MustParse("X"), metric.Info{Name: "app.x"}, nil)
	require.NoError(t, err)
	group := resource.Group{
		resource.MustParsePattern("app:type=Pool,*"),
		resource.MustParsePattern("app:type=Pool,name=a"),
		resource.MustParsePattern("app:type=Cache,*").WithFilter(func(id resource.Identity) bool {
			name, _ := id.Property("name")
			return name != "skip"
		}),
	}
	def, err := metric.NewDefinition(group, e)
	require.NoError(t, err)

	s, _ := newScheduler([]resource.Backend{b}, enroller, 0)
	s.Start([]*metric.Definition{def})
	defer s.Stop()
	s.Tick(context.Background())

	require.Len(t, enroller.calls, 1)
	require.Equal(t, []string{
		"app:name=a,type=Pool",
		"app:name=b,type=Cache",
	}, enroller.calls[0].ids)
}

func TestQueryErrorFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := mock_resource.NewMockBackend(ctrl)
	failing.EXPECT().Name().Return("failing").AnyTimes()
	failing.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("unavailable"))

	enroller := &recordingEnroller{}
	s, _ := newScheduler([]resource.Backend{failing, registry(t, "mem", "app:type=Pool,name=a")}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	s.Tick(context.Background())

	require.Len(t, enroller.calls, 1)
	require.Equal(t, "mem", enroller.calls[0].backend)
}

func TestInvalidResourcesAreSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	b := mock_resource.NewMockBackend(ctrl)
	good := resource.MustParseIdentity("app:type=Pool,name=good")
	starting := resource.MustParseIdentity("app:type=Pool,name=starting")

	b.EXPECT().Name().Return("mock").AnyTimes()
	b.EXPECT().Query(gomock.Any(), gomock.Any()).Return([]resource.Identity{good, starting}, nil)
	b.EXPECT().Attribute(gomock.Any(), good, "X").Return(resource.Int(7), nil)
	b.EXPECT().Attribute(gomock.Any(), starting, "X").Return(resource.Null(), nil)

	enroller := &recordingEnroller{}
	s, _ := newScheduler([]resource.Backend{b}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	s.Tick(context.Background())

	require.Len(t, enroller.calls, 1)
	require.Equal(t, []string{good.String()}, enroller.calls[0].ids)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  []time.Duration
	}{
		{0, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}},
		{20 * time.Second, []time.Duration{20 * time.Second, 40 * time.Second, time.Minute, time.Minute}},
		{90 * time.Second, []time.Duration{90 * time.Second, 90 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			s, mt := newScheduler(nil, &recordingEnroller{}, tt.delay)
			s.Start(nil)
			defer s.Stop()

			for range len(tt.want) - 1 {
				mt.fire()
			}
			require.Equal(t, tt.want, mt.delays)
			require.Equal(t, tt.want[len(tt.want)-1], s.Stats().NextDelay)
			require.EqualValues(t, len(tt.want)-1, s.Stats().Ticks)
		})
	}
}

func TestStopPreventsTicks(t *testing.T) {
	s, mt := newScheduler(nil, &recordingEnroller{}, 0)
	s.Start(nil)
	s.Stop()

	mt.fire()
	require.Zero(t, s.Stats().Ticks)
	require.Len(t, mt.delays, 1)

	// Start after Stop is ignored.
	s.Start(nil)
	require.Len(t, mt.delays, 1)
}

func TestIdempotentEnrollment(t *testing.T) {
	b := registry(t, "mem", "app:type=Pool,name=a")
	enroller := &recordingEnroller{}
	s, _ := newScheduler([]resource.Backend{b}, enroller, 0)
	s.Start([]*metric.Definition{definition(t, "app:type=Pool,*")})
	defer s.Stop()

	for range 4 {
		s.Tick(context.Background())
	}
	require.Len(t, enroller.calls, 4)
	require.False(t, s.Stats().LastTick.IsZero())
}
