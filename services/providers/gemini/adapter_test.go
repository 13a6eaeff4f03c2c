package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
)

const generateBody = `{
	"candidates": [{"content": {"role": "model", "parts": [{"text": "Bonjour"}]}, "finishReason": "STOP"}],
	"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6},
	"modelVersion": "gemini-pro-001"
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := providers.DefaultBackendConfig(providers.BackendGemini)
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL

	adapter, err := NewAdapter(cfg, zap.NewNop())
	require.NoError(t, err)
	adapter.Retrier().Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return adapter
}

func TestNewAdapter(t *testing.T) {
	_, err := NewAdapter(providers.BackendConfig{}, zap.NewNop())
	assert.Error(t, err)

	adapter, err := NewAdapter(providers.BackendConfig{APIKey: "k"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "gemini", adapter.Name())
	assert.Equal(t, "gemini-pro", adapter.BestModelFor(providers.TaskTranslation))
	assert.True(t, adapter.SupportsTask(providers.TaskResearch))
	assert.False(t, adapter.SupportsTask(providers.TaskCodeGeneration))
}

func TestAdapter_Complete(t *testing.T) {
	var captured map[string]interface{}

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-pro:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generateBody))
	})

	result := adapter.Complete(context.Background(), []providers.Message{
		{Role: providers.RoleSystem, Content: "Translate to French"},
		{Role: providers.RoleUser, Content: "Hello"},
	}, providers.TaskTranslation, providers.Options{MaxTokens: 32})

	require.True(t, result.OK(), "unexpected error: %v", result.Error)
	assert.Equal(t, "Bonjour", result.Content)
	assert.Equal(t, "gemini", result.Backend)
	assert.Equal(t, "gemini-pro-001", result.Model)
	assert.Equal(t, providers.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, result.Usage)

	contents, ok := captured["contents"].([]interface{})
	require.True(t, ok)
	assert.Len(t, contents, 1)
	assert.NotNil(t, captured["systemInstruction"])
	genConfig, ok := captured["generationConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(32), genConfig["maxOutputTokens"])
}

func TestAdapter_CompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"code": 500, "message": "internal", "status": "INTERNAL"}}`))
			return
		}
		_, _ = w.Write([]byte(generateBody))
	})

	result := adapter.Complete(context.Background(), []providers.Message{{Role: providers.RoleUser, Content: "hi"}}, providers.TaskResearch, providers.Options{})

	require.True(t, result.OK())
	assert.Equal(t, int32(3), calls.Load())
}

func TestAdapter_CompleteExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"code": 429, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`))
	})

	result := adapter.Complete(context.Background(), []providers.Message{{Role: providers.RoleUser, Content: "hi"}}, providers.TaskResearch, providers.Options{})

	require.False(t, result.OK())
	assert.Equal(t, int32(providers.DefaultMaxRetries), calls.Load())
	assert.Equal(t, providers.KindVendorRequestFailed, result.Error.Kind)
	assert.Equal(t, http.StatusTooManyRequests, result.Error.StatusCode)
}

func TestAdapter_HealthCheck(t *testing.T) {
	healthy := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generateBody))
	})
	assert.True(t, healthy.HealthCheck(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": 403, "message": "key invalid", "status": "PERMISSION_DENIED"}}`))
	})
	assert.False(t, down.HealthCheck(context.Background()))
}

func TestAdapter_ListModels(t *testing.T) {
	live := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models": [{"name": "models/gemini-1.5-pro"}, {"name": "models/gemini-1.5-flash"}]}`))
	})
	assert.Equal(t, []string{"gemini-1.5-pro", "gemini-1.5-flash"}, live.ListModels(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.Equal(t, []string{"gemini-pro"}, down.ListModels(context.Background()))
}

func TestToContents(t *testing.T) {
	system, contents := toContents([]providers.Message{
		{Role: providers.RoleSystem, Content: "be terse"},
		{Role: providers.RoleUser, Content: "hi"},
		{Role: providers.RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, "be terse", system)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
}
