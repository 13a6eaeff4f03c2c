package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/providers/providerstest"
)

func success(tokens int) *providers.CompletionResult {
	return &providers.CompletionResult{
		Content: "ok",
		Model:   "m",
		Usage:   providers.Usage{TotalTokens: tokens},
	}
}

func failure(kind providers.ErrorKind) *providers.CompletionResult {
	return providers.Failed("x", "m", providers.NewProviderError(kind, "x", "failed", 0, false, nil))
}

func TestTracker_RecordOutcome(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	tr.RecordOutcome("openai", providers.TaskCreative, success(2000), 500*time.Millisecond)
	tr.RecordOutcome("openai", providers.TaskCreative, failure(providers.KindVendorTimeout), time.Second)

	records := tr.Records()
	require.Len(t, records, 2)

	assert.Equal(t, "openai", records[0].Backend)
	assert.True(t, records[0].Succeeded)
	assert.Equal(t, 2000, records[0].TokensUsed)
	assert.InDelta(t, 0.06, records[0].EstimatedCostUSD, 1e-9)
	assert.InDelta(t, 0.5, records[0].LatencySeconds, 1e-9)
	assert.NotEmpty(t, records[0].ID)

	assert.False(t, records[1].Succeeded)
	assert.Equal(t, "VendorTimeout", records[1].ErrorKind)
	assert.Zero(t, records[1].EstimatedCostUSD)
}

func TestTracker_Rates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rates = map[string]float64{"deepseek": 0.001}
	cfg.DefaultRate = 0.05
	tr := New(cfg, nil, zap.NewNop())

	assert.Equal(t, 0.001, tr.Rate("deepseek"), "configured rate overrides default table")
	assert.Equal(t, 0.03, tr.Rate("openai"))
	assert.Equal(t, 0.05, tr.Rate("mistral"), "unknown backend uses default rate")
	assert.InDelta(t, 0.1, tr.EstimateCost("mistral", 2000), 1e-9)
}

func TestTracker_BufferEvictsOldest(t *testing.T) {
	tr := New(Config{BufferSize: 3}, nil, zap.NewNop())

	for i := 1; i <= 5; i++ {
		tr.RecordOutcome("gemini", providers.TaskResearch, success(i*100), time.Millisecond)
	}

	records := tr.Records()
	require.Len(t, records, 3)
	assert.Equal(t, 3, tr.Len())
	assert.Equal(t, 300, records[0].TokensUsed)
	assert.Equal(t, 400, records[1].TokensUsed)
	assert.Equal(t, 500, records[2].TokensUsed)
}

func TestTracker_CostIsMonotonic(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	previous := 0.0
	for i := 0; i < 20; i++ {
		tr.RecordOutcome("anthropic", providers.TaskAnalysis, success(150), time.Millisecond)
		total := tr.GetCostAnalytics().TotalCostUSD
		assert.GreaterOrEqual(t, total, previous)
		previous = total
	}
	assert.InDelta(t, 20*0.15*0.025, previous, 1e-9)
}

func TestTracker_GetCostAnalytics(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	tr.RecordOutcome("openai", providers.TaskCreative, success(1000), time.Second)
	tr.RecordOutcome("openai", providers.TaskAnalysis, success(1000), 3*time.Second)
	tr.RecordOutcome("deepseek", providers.TaskAnalysis, success(1000), time.Second)

	analytics := tr.GetCostAnalytics()

	assert.InDelta(t, 0.03+0.03+0.002, analytics.TotalCostUSD, 1e-9)

	openai := analytics.PerBackend["openai"]
	assert.Equal(t, int64(2), openai.Requests)
	assert.Equal(t, int64(2000), openai.Tokens)
	assert.InDelta(t, 2.0, openai.AvgLatencySeconds, 1e-9)

	analysis := analytics.PerTaskType[providers.TaskAnalysis]
	assert.Equal(t, int64(2), analysis.Requests)
	assert.InDelta(t, 0.032, analysis.CostUSD, 1e-9)
}

func TestTracker_EmptyAnalytics(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	analytics := tr.GetCostAnalytics()

	assert.Zero(t, analytics.TotalCostUSD)
	assert.Empty(t, analytics.PerBackend)
	assert.Empty(t, analytics.PerTaskType)
}

func TestTracker_Sinks(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	var got []CostRecord
	tr.AddSink(SinkFunc(func(r CostRecord) { panic("sink bug") }))
	tr.AddSink(SinkFunc(func(r CostRecord) { got = append(got, r) }))

	assert.NotPanics(t, func() {
		tr.RecordOutcome("xai", providers.TaskResearch, success(10), time.Millisecond)
	})
	require.Len(t, got, 1)
	assert.Equal(t, "xai", got[0].Backend)
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_NilResultDoesNotPanic(t *testing.T) {
	tr := New(DefaultConfig(), nil, zap.NewNop())

	assert.NotPanics(t, func() {
		tr.RecordOutcome("openai", providers.TaskConversation, nil, time.Millisecond)
	})
	records := tr.Records()
	require.Len(t, records, 1)
	assert.False(t, records[0].Succeeded)
}

func TestTracker_ConcurrentRecording(t *testing.T) {
	tr := New(Config{BufferSize: 50}, nil, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordOutcome("openai", providers.TaskConversation, success(10), time.Millisecond)
			_ = tr.GetCostAnalytics()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, tr.Len())

	registry := providers.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register(providerstest.New("openai")))
	status := New(Config{}, registry, zap.NewNop())
	for i := 0; i < 10; i++ {
		status.RecordOutcome("openai", providers.TaskConversation, success(10), time.Millisecond)
	}
	assert.Equal(t, int64(10), status.GetStatus(context.Background())["openai"].SuccessCount)
}

func TestTracker_GetStatus(t *testing.T) {
	registry := providers.NewRegistry(zap.NewNop(), providers.WithHealthTTL(time.Hour))
	healthy := providerstest.New("openai").WithTasks(providers.TaskCreative)
	down := providerstest.New("gemini").Unhealthy()
	require.NoError(t, registry.Register(healthy))
	require.NoError(t, registry.Register(down))

	tr := New(DefaultConfig(), registry, zap.NewNop())
	tr.RecordOutcome("openai", providers.TaskCreative, success(120), time.Millisecond)
	tr.RecordOutcome("openai", providers.TaskCreative, failure(providers.KindVendorRequestFailed), time.Millisecond)

	status := tr.GetStatus(context.Background())

	require.Len(t, status, 2)
	openai := status["openai"]
	assert.True(t, openai.Healthy)
	assert.Equal(t, []string{"openai-model"}, openai.ModelsAvailable)
	assert.Equal(t, []providers.TaskType{providers.TaskCreative}, openai.SupportedTasks)
	assert.Equal(t, int64(1), openai.SuccessCount)
	assert.Equal(t, int64(1), openai.ErrorCount)
	assert.Equal(t, int64(120), openai.TotalTokens)

	assert.False(t, status["gemini"].Healthy)
	assert.Equal(t, 1, down.HealthCalls(), "status always probes live")

	h, _ := registry.Health("gemini")
	assert.False(t, h.LastCheckedAt.IsZero(), "live result is stored in the registry")
}

func TestTracker_GetStatusCanceledKeepsHealth(t *testing.T) {
	registry := providers.NewRegistry(zap.NewNop(), providers.WithHealthTTL(time.Hour))
	fake := providerstest.New("openai")
	require.NoError(t, registry.Register(fake))
	require.True(t, registry.IsHealthy(context.Background(), "openai"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(DefaultConfig(), registry, zap.NewNop())
	status := tr.GetStatus(ctx)

	assert.False(t, status["openai"].Healthy)
	assert.True(t, registry.IsHealthy(context.Background(), "openai"), "cached health is not overwritten")
	assert.Equal(t, 2, fake.HealthCalls())
}
