// Package manager is the entry point for chat completions: it validates the
// request, enforces the daily budget and hands the call to the router, which
// picks backends and records outcomes in the tracker.
package manager

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/budget"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/services/routing"
	"github.com/upb/llm-provider-manager/services/tracker"
)

// Manager orchestrates the registry, router, tracker and budget guard
type Manager struct {
	registry *providers.Registry
	router   *routing.RoutingService
	tracker  *tracker.Tracker
	budget   *budget.BudgetService
	logger   *zap.Logger

	routingConfig routing.RoutingConfig
	observer      routing.Observer
}

// Option configures a Manager
type Option func(*Manager)

// WithBudget enables the daily cost limit
func WithBudget(b *budget.BudgetService) Option {
	return func(m *Manager) {
		m.budget = b
	}
}

// WithRoutingConfig overrides the router configuration
func WithRoutingConfig(cfg routing.RoutingConfig) Option {
	return func(m *Manager) {
		m.routingConfig = cfg
	}
}

// WithObserver attaches a routing observer (metrics)
func WithObserver(observer routing.Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// New creates a manager. The tracker records every candidate attempt.
func New(registry *providers.Registry, tr *tracker.Tracker, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry:      registry,
		tracker:       tr,
		logger:        logger,
		routingConfig: routing.DefaultRoutingConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}

	routerOpts := []routing.Option{routing.WithRecorder(tr)}
	if m.observer != nil {
		routerOpts = append(routerOpts, routing.WithObserver(m.observer))
	}
	m.router = routing.NewRoutingService(m.routingConfig, registry, logger, routerOpts...)

	if m.budget.Enabled() {
		tr.AddSink(m.budget)
	}
	return m
}

// Complete routes one chat completion. Failures are returned on the result,
// never as a panic.
func (m *Manager) Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	if err := validate(messages, task, opts); err != nil {
		return providers.Failed("", "", err)
	}

	if check := m.budget.CheckBudget(); !check.Allowed {
		m.logger.Warn("request rejected by budget",
			zap.String("task_type", string(task)),
			zap.Float64("daily_spend_usd", check.DailySpend),
		)
		return providers.Failed("", "", providers.NewProviderError(
			providers.KindBudgetExceeded, "", check.ViolationReason, 0, false, nil))
	}

	return m.router.RouteAndComplete(ctx, messages, task, opts)
}

// Select exposes the candidate order for a task without calling any backend
func (m *Manager) Select(ctx context.Context, task providers.TaskType, override string) []string {
	return m.router.Select(ctx, task, override)
}

// SwitchPrimary changes the primary backend for a task type
func (m *Manager) SwitchPrimary(task providers.TaskType, backend string) error {
	if !task.Valid() {
		return providers.NewProviderError(providers.KindInvalidRequest, "", fmt.Sprintf("unknown task type %q", task), 0, false, nil)
	}
	return m.registry.SwitchPrimary(task, backend)
}

// GetStatus probes every backend and merges the counters
func (m *Manager) GetStatus(ctx context.Context) map[string]tracker.BackendStatus {
	return m.tracker.GetStatus(ctx)
}

// GetCostAnalytics aggregates the retained cost records
func (m *Manager) GetCostAnalytics() tracker.CostAnalytics {
	return m.tracker.GetCostAnalytics()
}

// Budget returns the current budget state
func (m *Manager) Budget() budget.BudgetCheckResult {
	return m.budget.CheckBudget()
}

// Preferences returns the routing table
func (m *Manager) Preferences() []providers.RoutingPreference {
	return m.registry.Preferences()
}

// Backends returns the last observed health of every backend
func (m *Manager) Backends() []providers.Health {
	names := m.registry.Names()
	out := make([]providers.Health, 0, len(names))
	for _, name := range names {
		if h, ok := m.registry.Health(name); ok {
			out = append(out, h)
		}
	}
	return out
}

// HealthyCount returns how many backends are currently healthy
func (m *Manager) HealthyCount(ctx context.Context) int {
	count := 0
	for _, name := range m.registry.Names() {
		if m.registry.IsHealthy(ctx, name) {
			count++
		}
	}
	return count
}

// Close closes every backend
func (m *Manager) Close() error {
	return m.registry.Close()
}

func validate(messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.ProviderError {
	invalid := func(format string, args ...interface{}) *providers.ProviderError {
		return providers.NewProviderError(providers.KindInvalidRequest, "", fmt.Sprintf(format, args...), 0, false, nil)
	}

	if len(messages) == 0 {
		return invalid("messages cannot be empty")
	}
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return invalid("message %d has unknown role %q", i, msg.Role)
		}
	}
	if !task.Valid() {
		return invalid("unknown task type %q", task)
	}
	if opts.Temperature != nil && (*opts.Temperature < 0 || *opts.Temperature > 2) {
		return invalid("temperature must be between 0 and 2")
	}
	if opts.MaxTokens < 0 {
		return invalid("max_tokens cannot be negative")
	}
	return nil
}
