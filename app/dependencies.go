package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/config"
	"github.com/upb/llm-provider-manager/internal/observability"
	"github.com/upb/llm-provider-manager/middleware"
	"github.com/upb/llm-provider-manager/repositories"
	"github.com/upb/llm-provider-manager/repositories/postgres"
	"github.com/upb/llm-provider-manager/services/audit"
	"github.com/upb/llm-provider-manager/services/budget"
	"github.com/upb/llm-provider-manager/services/manager"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/providers/anthropic"
	"github.com/upb/llm-provider-manager/services/providers/gemini"
	"github.com/upb/llm-provider-manager/services/providers/openai"
	"github.com/upb/llm-provider-manager/services/routing"
	"github.com/upb/llm-provider-manager/services/tracker"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil when no database is configured
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	CostRecords repositories.CostRecordRepository

	// Provider management
	Registry *providers.Registry
	Tracker  *tracker.Tracker
	Budget   *budget.BudgetService
	Manager  *manager.Manager
	Exporter *audit.AuditService

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	factory       *providers.Factory
	injectedRepos *postgres.RepositoryFactory
	stopHealth    context.CancelFunc
}

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithProviderFactory replaces the backend factory, used by tests
func WithProviderFactory(factory *providers.Factory) Option {
	return func(d *Dependencies) {
		d.factory = factory
	}
}

// WithRepositoryFactory uses an already connected repository factory instead
// of dialing cfg.Database
func WithRepositoryFactory(factory *postgres.RepositoryFactory) Option {
	return func(d *Dependencies) {
		d.injectedRepos = factory
	}
}

// DefaultFactory wires every supported backend to its SDK adapter
func DefaultFactory() *providers.Factory {
	return providers.NewFactory().
		Register(providers.BackendOpenAI, openai.Builder).
		Register(providers.BackendDeepSeek, openai.Builder).
		Register(providers.BackendXAI, openai.Builder).
		Register(providers.BackendAnthropic, anthropic.Builder).
		Register(providers.BackendGemini, gemini.Builder)
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		factory: DefaultFactory(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	switch {
	case deps.injectedRepos != nil:
		deps.useRepositoryFactory(deps.injectedRepos)
	case cfg.Database != nil:
		if err := deps.initDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	default:
		logger.Info("no database configured, cost records stay in memory")
	}

	if err := deps.initProviders(ctx, cfg); err != nil {
		deps.closeDatabase()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initTracking(cfg)
	deps.initManager(cfg)
	deps.initAuth(cfg)
	deps.startHealthLoop(cfg.Routing.HealthInterval)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("backends", deps.Registry.Names()),
		zap.Bool("budget_enabled", deps.Budget.Enabled()),
		zap.Bool("audit_export", deps.Exporter != nil))
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, the schema and the
// cost record repository
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to initialize cost record schema: %w", err)
	}

	d.useRepositoryFactory(factory)
	return nil
}

func (d *Dependencies) useRepositoryFactory(factory *postgres.RepositoryFactory) {
	repos := factory.NewRepositories()

	d.RepoFactory = factory
	d.DB = factory.GetDB()
	d.CostRecords = repos.CostRecords

	d.Logger.Info("repositories initialized")
}

// initProviders builds a backend for every configured API key
func (d *Dependencies) initProviders(ctx context.Context, cfg *config.Config) error {
	registryOpts := []providers.RegistryOption{
		providers.WithHealthTTL(cfg.Routing.HealthTTL),
	}
	if d.Metrics != nil {
		registryOpts = append(registryOpts, providers.WithHealthHook(d.Metrics.SetBackendHealth))
	}

	registry, err := providers.BuildRegistry(ctx, d.factory, cfg.Providers.Enabled(), d.Logger, registryOpts...)
	if err != nil {
		return err
	}

	prefs := cfg.Routing.Preferences
	if len(prefs) == 0 {
		prefs = providers.DefaultPreferences()
	}
	registry.SetPreferences(prefs)

	if registry.Count() == 0 {
		d.Logger.Warn("no LLM backends configured, completions will fail with NoBackendAvailable")
	}

	d.Registry = registry
	return nil
}

// initTracking creates the tracker, the budget guard and the record sinks
func (d *Dependencies) initTracking(cfg *config.Config) {
	d.Tracker = tracker.New(cfg.Tracker.TrackerSettings(), d.Registry, d.Logger)
	d.Budget = budget.NewBudgetService(cfg.Tracker.DailyLimitUSD, d.Logger)

	if d.Metrics != nil {
		d.Tracker.AddSink(metricsSink(d.Metrics))
	}

	if d.CostRecords != nil {
		exportCfg := audit.DefaultConfig()
		if db := cfg.Database; db != nil {
			exportCfg.BufferSize = db.QueueSize
			exportCfg.WorkerCount = db.Workers
			exportCfg.BatchSize = db.BatchSize
			exportCfg.FlushInterval = db.FlushInterval
		}
		d.Exporter = audit.NewAuditService(d.CostRecords, d.Logger, exportCfg)
		if err := d.Exporter.Start(); err != nil {
			d.Logger.Error("failed to start cost audit export", zap.Error(err))
			d.Exporter = nil
		} else {
			d.Tracker.AddSink(d.Exporter)
		}
	}
}

// initManager wires the routing facade. The manager attaches the budget to
// the tracker itself.
func (d *Dependencies) initManager(cfg *config.Config) {
	opts := []manager.Option{
		manager.WithBudget(d.Budget),
		manager.WithRoutingConfig(routing.RoutingConfig{AttemptTimeout: cfg.Routing.AttemptTimeout}),
	}
	if d.Metrics != nil {
		opts = append(opts, manager.WithObserver(metricsObserver{metrics: d.Metrics}))
	}
	d.Manager = manager.New(d.Registry, d.Tracker, d.Logger, opts...)
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.Auth.Enabled() {
		d.Logger.Warn("admin JWT secret not configured, admin endpoints disabled")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := middleware.NewHMACValidator(cfg.Auth.AdminJWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.Logger.Info("admin auth initialized")
}

func (d *Dependencies) startHealthLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stopHealth = cancel
	d.Registry.StartHealthLoop(ctx, interval)
	d.Logger.Info("background health refresh started", zap.Duration("interval", interval))
}

// rejectAllValidator rejects all tokens (used when no admin secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// metricsObserver feeds routing events into Prometheus
type metricsObserver struct {
	metrics *observability.Metrics
}

func (o metricsObserver) IncFallback(task providers.TaskType, backend string) {
	o.metrics.RecordFallback(string(task), backend)
}

func (o metricsObserver) IncNoBackend(task providers.TaskType) {
	o.metrics.RecordNoBackend(string(task))
}

// metricsSink records every tracked attempt
func metricsSink(metrics *observability.Metrics) tracker.Sink {
	return tracker.SinkFunc(func(record tracker.CostRecord) {
		outcome := "success"
		if !record.Succeeded {
			outcome = record.ErrorKind
		}
		latency := time.Duration(record.LatencySeconds * float64(time.Second))
		metrics.RecordAttempt(record.Backend, string(record.TaskType), outcome, latency, record.TokensUsed, record.EstimatedCostUSD)
	})
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopHealth != nil {
		d.stopHealth()
	}

	if d.Manager != nil {
		if err := d.Manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close backends: %w", err))
		}
	}

	// Flush pending cost records before the pool goes away
	if d.Exporter != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Exporter.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop cost audit export: %w", err))
		}
	}

	if err := d.closeDatabase(); err != nil {
		errs = append(errs, err)
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}

func (d *Dependencies) closeDatabase() error {
	if d.RepoFactory == nil {
		return nil
	}
	if err := d.RepoFactory.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.Logger.Info("database connection closed")
	d.RepoFactory = nil
	return nil
}
