package app

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/upb/llm-provider-manager/config"
	"github.com/upb/llm-provider-manager/repositories/postgres"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/providers/providerstest"
)

var hello = []providers.Message{{Role: providers.RoleUser, Content: "hello"}}

// fakeFactory builds providerstest fakes and keeps them for inspection
type fakeFactory struct {
	fakes map[string]*providerstest.Fake
}

func newFakeFactory(fakes ...*providerstest.Fake) (*providers.Factory, *fakeFactory) {
	ff := &fakeFactory{fakes: make(map[string]*providerstest.Fake)}
	factory := providers.NewFactory()
	for _, f := range fakes {
		f := f
		ff.fakes[f.Name()] = f
		factory.Register(f.Name(), func(providers.BackendConfig, *zap.Logger) (providers.Provider, error) {
			return f, nil
		})
	}
	return factory, ff
}

func testConfig(backends ...string) *config.Config {
	cfg := &config.Config{
		Environment: "test",
		Providers:   config.ProvidersConfig{Backends: map[string]providers.BackendConfig{}},
		Routing: config.RoutingConfig{
			HealthTTL:   time.Minute,
			Preferences: providers.DefaultPreferences(),
		},
		Tracker: config.TrackerConfig{
			BufferSize:  100,
			DefaultRate: 0.02,
		},
		Observability: config.ObservabilityConfig{LogLevel: "error", MetricsEnabled: true},
	}
	for _, name := range backends {
		backend := providers.DefaultBackendConfig(name)
		backend.APIKey = "test-key"
		cfg.Providers.Backends[name] = backend
	}
	return cfg
}

func TestDefaultFactory(t *testing.T) {
	factory := DefaultFactory()

	for _, name := range providers.KnownBackends() {
		t.Run(name, func(t *testing.T) {
			cfg := providers.DefaultBackendConfig(name)
			cfg.APIKey = "test-key"

			provider, err := factory.Build(cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, name, provider.Name())
			assert.NoError(t, provider.Close())
		})
	}

	_, err := factory.Build(providers.BackendConfig{Name: "mistral", APIKey: "k"}, zap.NewNop())
	assert.Equal(t, providers.KindConfiguration, providers.KindOf(err))
}

func TestNewDependencies(t *testing.T) {
	t.Run("wires backends, tracking and metrics without a database", func(t *testing.T) {
		ctx := context.Background()
		factory, fakes := newFakeFactory(
			providerstest.New("deepseek").Fail(providers.KindVendorRequestFailed, "boom"),
			providerstest.New("openai").Succeed("hi", 250),
		)

		deps, err := NewDependencies(ctx, testConfig("deepseek", "openai"), zaptest.NewLogger(t), WithProviderFactory(factory))
		require.NoError(t, err)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Exporter)
		assert.NotNil(t, deps.Metrics)
		assert.Equal(t, []string{"deepseek", "openai"}, deps.Registry.Names())

		result := deps.Manager.Complete(ctx, hello, providers.TaskConversation, providers.Options{})
		require.True(t, result.OK())
		assert.Equal(t, "openai", result.Backend)
		assert.Equal(t, 1, fakes.fakes["deepseek"].CallCount())
		assert.Equal(t, 2, deps.Tracker.Len())

		body := scrapeMetrics(t, deps)
		assert.Contains(t, body, `llm_routing_fallbacks_total{backend="openai",task_type="conversation"} 1`)
		assert.Contains(t, body, `llm_backend_healthy{backend="openai"} 1`)

		require.NoError(t, deps.Close(ctx))
		assert.True(t, fakes.fakes["openai"].Closed())
	})

	t.Run("backends without keys are skipped", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("openai"))
		cfg := testConfig("openai")
		cfg.Providers.Backends["gemini"] = providers.DefaultBackendConfig("gemini")

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop(), WithProviderFactory(factory))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		assert.Equal(t, []string{"openai"}, deps.Registry.Names())
	})

	t.Run("unknown backend aborts startup", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("openai"))

		deps, err := NewDependencies(context.Background(), testConfig("openai", "xai"), zap.NewNop(), WithProviderFactory(factory))

		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize providers")
		assert.Equal(t, providers.KindConfiguration, providers.KindOf(err))
	})

	t.Run("budget is enforced", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("openai").Succeed("a", 1000).Succeed("b", 1000))
		cfg := testConfig("openai")
		cfg.Tracker.DailyLimitUSD = 0.01

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop(), WithProviderFactory(factory))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		first := deps.Manager.Complete(context.Background(), hello, providers.TaskCreative, providers.Options{})
		require.True(t, first.OK())
		assert.InDelta(t, 0.02, deps.Budget.DailySpend(), 1e-9, "spend is counted once")

		second := deps.Manager.Complete(context.Background(), hello, providers.TaskCreative, providers.Options{})
		assert.Equal(t, providers.KindBudgetExceeded, second.Error.Kind)
	})

	t.Run("admin auth", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("openai"))
		cfg := testConfig("openai")

		deps, err := NewDependencies(context.Background(), cfg, zap.NewNop(), WithProviderFactory(factory))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		_, err = (&rejectAllValidator{}).ValidateToken(context.Background(), "anything")
		assert.Error(t, err)
		assert.NotNil(t, deps.AuthMiddleware)
	})
}

func TestNewDependencies_ExportsCostRecords(t *testing.T) {
	ctx := context.Background()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	repoFactory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(sqlDB, zap.NewNop()), zap.NewNop())
	factory, _ := newFakeFactory(providerstest.New("openai").Succeed("hi", 100))

	deps, err := NewDependencies(ctx, testConfig("openai"), zap.NewNop(),
		WithProviderFactory(factory),
		WithRepositoryFactory(repoFactory))
	require.NoError(t, err)
	require.NotNil(t, deps.Exporter)
	require.NotNil(t, deps.CostRecords)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`COPY "cost_records"`))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	result := deps.Manager.Complete(ctx, hello, providers.TaskConversation, providers.Options{})
	require.True(t, result.OK())

	require.NoError(t, deps.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, int64(1), deps.Exporter.GetStats().Exported)
}

func TestMetricsSink(t *testing.T) {
	t.Run("failed attempts carry their error kind", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("gemini").Fail(providers.KindVendorTimeout, "slow"))

		deps, err := NewDependencies(context.Background(), testConfig("gemini"), zap.NewNop(), WithProviderFactory(factory))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		result := deps.Manager.Complete(context.Background(), hello, providers.TaskResearch, providers.Options{})
		require.False(t, result.OK())
		assert.Equal(t, providers.KindVendorTimeout, result.Error.Kind)

		body := scrapeMetrics(t, deps)
		assert.Contains(t, body, `llm_backend_requests_total{backend="gemini",outcome="VendorTimeout",task_type="research"} 1`)
	})

	t.Run("unhealthy backends are reported", func(t *testing.T) {
		factory, _ := newFakeFactory(providerstest.New("xai").Unhealthy())

		deps, err := NewDependencies(context.Background(), testConfig("xai"), zap.NewNop(), WithProviderFactory(factory))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		result := deps.Manager.Complete(context.Background(), hello, providers.TaskResearch, providers.Options{})
		require.False(t, result.OK())
		assert.Equal(t, providers.KindNoBackendAvailable, result.Error.Kind)

		body := scrapeMetrics(t, deps)
		assert.Contains(t, body, `llm_routing_no_backend_total{task_type="research"} 1`)
		assert.Contains(t, body, `llm_backend_healthy{backend="xai"} 0`)
	})
}

func TestClose_CollectsErrors(t *testing.T) {
	factory, _ := newFakeFactory(providerstest.New("openai").WithCloseError(errors.New("close failed")))

	deps, err := NewDependencies(context.Background(), testConfig("openai"), zap.NewNop(), WithProviderFactory(factory))
	require.NoError(t, err)

	err = deps.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to close backends")
}

func scrapeMetrics(t *testing.T, deps *Dependencies) string {
	t.Helper()
	srv := httptest.NewServer(deps.Metrics.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(raw))
}
