package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/providers/providerstest"
)

// MockRecorder is a mock implementation of Recorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordOutcome(backend string, task providers.TaskType, result *providers.CompletionResult, latency time.Duration) {
	m.Called(backend, task, result.OK())
}

// countingObserver records routing decisions
type countingObserver struct {
	mu        sync.Mutex
	fallbacks []string
	noBackend int
}

func (o *countingObserver) IncFallback(task providers.TaskType, backend string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks = append(o.fallbacks, backend)
}

func (o *countingObserver) IncNoBackend(task providers.TaskType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.noBackend++
}

var hello = []providers.Message{{Role: providers.RoleUser, Content: "hello"}}

func setupRegistry(t *testing.T, fakes ...*providerstest.Fake) *providers.Registry {
	t.Helper()
	registry := providers.NewRegistry(zap.NewNop(), providers.WithHealthTTL(time.Minute))
	for _, f := range fakes {
		require.NoError(t, registry.Register(f))
	}
	return registry
}

func TestRoutingService_Select(t *testing.T) {
	tests := []struct {
		name     string
		fakes    func() []*providerstest.Fake
		prefs    []providers.RoutingPreference
		task     providers.TaskType
		override string
		want     []string
	}{
		{
			name: "healthy override wins",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a"), providerstest.New("b"), providerstest.New("c")}
			},
			prefs:    []providers.RoutingPreference{{TaskType: providers.TaskAnalysis, Primary: "a", FallbackChain: []string{"b"}}},
			task:     providers.TaskAnalysis,
			override: "c",
			want:     []string{"c"},
		},
		{
			name: "unhealthy override falls back to preference",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a"), providerstest.New("b"), providerstest.New("c").Unhealthy()}
			},
			prefs:    []providers.RoutingPreference{{TaskType: providers.TaskAnalysis, Primary: "b", FallbackChain: []string{"a"}}},
			task:     providers.TaskAnalysis,
			override: "c",
			want:     []string{"b", "a"},
		},
		{
			name: "unknown override falls back to preference",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a")}
			},
			prefs:    []providers.RoutingPreference{{TaskType: providers.TaskAnalysis, Primary: "a"}},
			task:     providers.TaskAnalysis,
			override: "zzz",
			want:     []string{"a"},
		},
		{
			name: "preference filtered to healthy in order",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a"), providerstest.New("b").Unhealthy(), providerstest.New("c"), providerstest.New("d")}
			},
			prefs: []providers.RoutingPreference{{TaskType: providers.TaskCreative, Primary: "b", FallbackChain: []string{"d", "a"}}},
			task:  providers.TaskCreative,
			want:  []string{"d", "a"},
		},
		{
			name: "no preference uses every healthy backend in registration order",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a"), providerstest.New("b").Unhealthy(), providerstest.New("c")}
			},
			task: providers.TaskResearch,
			want: []string{"a", "c"},
		},
		{
			name: "all preferred unhealthy uses any healthy backend",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a").Unhealthy(), providerstest.New("b").Unhealthy(), providerstest.New("c")}
			},
			prefs: []providers.RoutingPreference{{TaskType: providers.TaskResearch, Primary: "a", FallbackChain: []string{"b"}}},
			task:  providers.TaskResearch,
			want:  []string{"c"},
		},
		{
			name: "nothing healthy",
			fakes: func() []*providerstest.Fake {
				return []*providerstest.Fake{providerstest.New("a").Unhealthy()}
			},
			task: providers.TaskConversation,
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := setupRegistry(t, tt.fakes()...)
			registry.SetPreferences(tt.prefs)
			service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop())

			got := service.Select(context.Background(), tt.task, tt.override)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoutingService_RouteAndComplete_ShortCircuits(t *testing.T) {
	a := providerstest.New("a").Succeed("from a", 40)
	b := providerstest.New("b")
	registry := setupRegistry(t, a, b)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskConversation, Primary: "a", FallbackChain: []string{"b"}}})

	recorder := new(MockRecorder)
	recorder.On("RecordOutcome", "a", providers.TaskConversation, true).Once()
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop(), WithRecorder(recorder))

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskConversation, providers.Options{})

	require.True(t, result.OK())
	assert.Equal(t, "from a", result.Content)
	assert.Equal(t, "a", result.Backend)
	assert.Equal(t, 1, a.CallCount())
	assert.Equal(t, 0, b.CallCount())
	recorder.AssertExpectations(t)
}

func TestRoutingService_RouteAndComplete_FallsBack(t *testing.T) {
	a := providerstest.New("a").Fail(providers.KindVendorRequestFailed, "a is down")
	b := providerstest.New("b").Succeed("from b", 10)
	registry := setupRegistry(t, a, b)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskConversation, Primary: "a", FallbackChain: []string{"b"}}})

	recorder := new(MockRecorder)
	recorder.On("RecordOutcome", "a", providers.TaskConversation, false).Once()
	recorder.On("RecordOutcome", "b", providers.TaskConversation, true).Once()
	observer := &countingObserver{}
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop(), WithRecorder(recorder), WithObserver(observer))

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskConversation, providers.Options{})

	require.True(t, result.OK())
	assert.Equal(t, "b", result.Backend)
	assert.Equal(t, "from b", result.Content)
	assert.Equal(t, []string{"b"}, observer.fallbacks)
	recorder.AssertExpectations(t)
}

func TestRoutingService_RouteAndComplete_ReturnsLastError(t *testing.T) {
	a := providerstest.New("a").Fail(providers.KindVendorTimeout, "a timed out")
	b := providerstest.New("b").Fail(providers.KindVendorRequestFailed, "b rejected")
	c := providerstest.New("c").Fail(providers.KindVendorRequestFailed, "c exploded")
	registry := setupRegistry(t, a, b, c)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskTechnical, Primary: "a", FallbackChain: []string{"b", "c"}}})

	recorder := new(MockRecorder)
	recorder.On("RecordOutcome", mock.Anything, providers.TaskTechnical, false).Times(3)
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop(), WithRecorder(recorder))

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskTechnical, providers.Options{})

	require.False(t, result.OK())
	assert.Equal(t, "c", result.Backend)
	assert.Equal(t, "c exploded", result.Error.Message)
	require.Len(t, result.Error.Attempts, 3)
	assert.Equal(t, "a", result.Error.Attempts[0].Backend)
	assert.Equal(t, providers.KindVendorTimeout, result.Error.Attempts[0].Kind)
	assert.Equal(t, "c", result.Error.Attempts[2].Backend)
	recorder.AssertNumberOfCalls(t, "RecordOutcome", 3)
}

func TestRoutingService_RouteAndComplete_NoBackend(t *testing.T) {
	a := providerstest.New("a").Unhealthy()
	registry := setupRegistry(t, a)

	observer := &countingObserver{}
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop(), WithObserver(observer))

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskConversation, providers.Options{})

	require.False(t, result.OK())
	assert.Equal(t, providers.KindNoBackendAvailable, result.Error.Kind)
	assert.Equal(t, "no available backend for task conversation", result.Error.Message)
	assert.Equal(t, 0, a.CallCount())
	assert.Equal(t, 1, observer.noBackend)
}

func TestRoutingService_RouteAndComplete_EmptyRegistry(t *testing.T) {
	service := NewRoutingService(DefaultRoutingConfig(), setupRegistry(t), zap.NewNop())

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskAnalysis, providers.Options{})

	require.False(t, result.OK())
	assert.Equal(t, providers.KindNoBackendAvailable, result.Error.Kind)
}

func TestRoutingService_RouteAndComplete_OverrideMakesOneCall(t *testing.T) {
	a := providerstest.New("a")
	b := providerstest.New("b").Fail(providers.KindVendorRequestFailed, "b failed")
	registry := setupRegistry(t, a, b)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskCreative, Primary: "a"}})
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop())

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskCreative, providers.Options{PreferredBackend: "b", Model: "b-large"})

	require.False(t, result.OK(), "override disables fallback")
	assert.Equal(t, 1, b.CallCount())
	assert.Equal(t, 0, a.CallCount())
	assert.Equal(t, "b-large", b.Calls()[0].Options.Model)
	assert.Empty(t, b.Calls()[0].Options.PreferredBackend)
}

func TestRoutingService_RouteAndComplete_ModelOnlyForFirstCandidate(t *testing.T) {
	a := providerstest.New("a").Fail(providers.KindVendorRequestFailed, "down")
	b := providerstest.New("b")
	registry := setupRegistry(t, a, b)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskAnalysis, Primary: "a", FallbackChain: []string{"b"}}})
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop())

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskAnalysis, providers.Options{Model: "a-special"})

	require.True(t, result.OK())
	assert.Equal(t, "a-special", a.Calls()[0].Options.Model)
	assert.Empty(t, b.Calls()[0].Options.Model)
}

func TestRoutingService_RouteAndComplete_CancelSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := providerstest.New("a")
	a.OnComplete = func(context.Context) { cancel() }
	b := providerstest.New("b")
	registry := setupRegistry(t, a, b)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskConversation, Primary: "a", FallbackChain: []string{"b"}}})
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop())

	result := service.RouteAndComplete(ctx, hello, providers.TaskConversation, providers.Options{})

	require.False(t, result.OK())
	assert.Equal(t, providers.KindCanceled, result.Error.Kind)
	assert.Equal(t, 0, b.CallCount())
}

func TestRoutingService_RouteAndComplete_AttemptTimeout(t *testing.T) {
	slow := providerstest.New("slow")
	slow.OnComplete = func(ctx context.Context) { <-ctx.Done() }
	fast := providerstest.New("fast")
	registry := setupRegistry(t, slow, fast)
	registry.SetPreferences([]providers.RoutingPreference{{TaskType: providers.TaskConversation, Primary: "slow", FallbackChain: []string{"fast"}}})
	service := NewRoutingService(RoutingConfig{AttemptTimeout: 20 * time.Millisecond}, registry, zap.NewNop())

	result := service.RouteAndComplete(context.Background(), hello, providers.TaskConversation, providers.Options{})

	require.True(t, result.OK())
	assert.Equal(t, "fast", result.Backend)
}

func TestRoutingService_RouteAndComplete_Concurrent(t *testing.T) {
	a := providerstest.New("a")
	registry := setupRegistry(t, a)
	service := NewRoutingService(DefaultRoutingConfig(), registry, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := service.RouteAndComplete(context.Background(), hello, providers.TaskConversation, providers.Options{})
			assert.True(t, result.OK())
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, a.CallCount())
}
