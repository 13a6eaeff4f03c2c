package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrProviderAlreadyRegistered is returned when trying to register a duplicate provider
	ErrProviderAlreadyRegistered = errors.New("provider already registered")
)

// DefaultHealthTTL is how long a health observation is trusted
const DefaultHealthTTL = 10 * time.Second

// healthState is the lock-free liveness record of one backend
type healthState struct {
	available atomic.Bool
	checkedAt atomic.Int64 // unix nanos, 0 = never probed
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithHealthTTL sets how long a cached health flag is trusted. Zero forces a
// live probe on every IsHealthy call.
func WithHealthTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl >= 0 {
			r.healthTTL = ttl
		}
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithHealthHook registers a callback invoked with every stored health result
func WithHealthHook(hook func(backend string, healthy bool)) RegistryOption {
	return func(r *Registry) {
		r.healthHook = hook
	}
}

// Registry owns the live backends, the routing preferences and per-backend
// health. Backends are immutable after startup; preferences may change at
// runtime.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	health    map[string]*healthState

	prefMu      sync.RWMutex
	preferences map[TaskType]RoutingPreference

	probes     singleflight.Group
	healthTTL  time.Duration
	healthHook func(backend string, healthy bool)
	now        func() time.Time
	logger     *zap.Logger
}

// NewRegistry creates a new provider registry
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		providers:   make(map[string]Provider),
		health:      make(map[string]*healthState),
		preferences: make(map[TaskType]RoutingPreference),
		healthTTL:   DefaultHealthTTL,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a backend. Registration order is preserved.
func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}

	name := provider.Name()
	if name == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrProviderAlreadyRegistered, name)
	}

	r.providers[name] = provider
	r.order = append(r.order, name)
	r.health[name] = &healthState{}
	return nil
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return provider, nil
}

// Has reports whether a backend is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// Names returns registered backend names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered backends
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}

// SetPreferences replaces the routing table. Backends that are not registered
// are dropped; if the primary is unknown the first known chain entry is
// promoted, and a preference with no known backend is discarded.
func (r *Registry) SetPreferences(prefs []RoutingPreference) {
	cleaned := make(map[TaskType]RoutingPreference, len(prefs))
	for _, pref := range prefs {
		known := make([]string, 0, len(pref.FallbackChain)+1)
		for _, name := range pref.Candidates() {
			if !r.Has(name) {
				r.logger.Warn("dropping unregistered backend from routing preference",
					zap.String("task_type", string(pref.TaskType)),
					zap.String("backend", name),
				)
				continue
			}
			known = append(known, name)
		}
		if len(known) == 0 {
			r.logger.Warn("routing preference has no registered backend",
				zap.String("task_type", string(pref.TaskType)),
			)
			continue
		}
		cleaned[pref.TaskType] = RoutingPreference{
			TaskType:      pref.TaskType,
			Primary:       known[0],
			FallbackChain: known[1:],
		}
	}

	r.prefMu.Lock()
	r.preferences = cleaned
	r.prefMu.Unlock()
}

// Preference returns the routing preference for a task type
func (r *Registry) Preference(task TaskType) (RoutingPreference, bool) {
	r.prefMu.RLock()
	defer r.prefMu.RUnlock()

	pref, ok := r.preferences[task]
	if !ok {
		return RoutingPreference{}, false
	}
	return clonePreference(pref), true
}

// Preferences returns a snapshot of the routing table in task declaration order
func (r *Registry) Preferences() []RoutingPreference {
	r.prefMu.RLock()
	defer r.prefMu.RUnlock()

	out := make([]RoutingPreference, 0, len(r.preferences))
	for _, task := range AllTaskTypes() {
		if pref, ok := r.preferences[task]; ok {
			out = append(out, clonePreference(pref))
		}
	}
	return out
}

// SwitchPrimary makes backend the primary for task. The previous primary moves
// to the head of the chain. Without an existing preference the chain becomes
// every other registered backend in registration order.
func (r *Registry) SwitchPrimary(task TaskType, backend string) error {
	if !r.Has(backend) {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, backend)
	}

	r.prefMu.Lock()
	defer r.prefMu.Unlock()

	pref, exists := r.preferences[task]
	if !exists {
		chain := make([]string, 0, r.Count())
		for _, name := range r.Names() {
			if name != backend {
				chain = append(chain, name)
			}
		}
		r.preferences[task] = RoutingPreference{TaskType: task, Primary: backend, FallbackChain: chain}
		r.logger.Info("routing preference created",
			zap.String("task_type", string(task)),
			zap.String("primary", backend),
		)
		return nil
	}

	previous := pref.Primary
	chain := make([]string, 0, len(pref.FallbackChain)+1)
	if previous != backend {
		chain = append(chain, previous)
	}
	for _, name := range pref.FallbackChain {
		if name != backend && name != previous {
			chain = append(chain, name)
		}
	}
	r.preferences[task] = RoutingPreference{TaskType: task, Primary: backend, FallbackChain: chain}

	r.logger.Info("routing primary switched",
		zap.String("task_type", string(task)),
		zap.String("previous", previous),
		zap.String("primary", backend),
	)
	return nil
}

// IsHealthy returns the cached health flag while it is fresh, otherwise it
// probes the backend
func (r *Registry) IsHealthy(ctx context.Context, name string) bool {
	state := r.healthState(name)
	if state == nil {
		return false
	}

	checked := state.checkedAt.Load()
	if checked != 0 && r.healthTTL > 0 && r.now().Sub(time.Unix(0, checked)) < r.healthTTL {
		return state.available.Load()
	}
	return r.Probe(ctx, name)
}

// Probe runs a live health check. Concurrent probes of the same backend share
// one vendor call. The shared call is detached from the caller's cancellation
// and bounded by HealthCheckTimeout, so a caller that gives up reports false
// to itself without touching the stored health.
func (r *Registry) Probe(ctx context.Context, name string) bool {
	provider, err := r.Get(name)
	if err != nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	ch := r.probes.DoChan(name, func() (interface{}, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), HealthCheckTimeout)
		defer cancel()

		healthy := provider.HealthCheck(probeCtx)
		r.MarkHealth(name, healthy)
		return healthy, nil
	})

	select {
	case res := <-ch:
		healthy, _ := res.Val.(bool)
		return healthy
	case <-ctx.Done():
		return false
	}
}

// MarkHealth stores an externally observed health result
func (r *Registry) MarkHealth(name string, healthy bool) {
	state := r.healthState(name)
	if state == nil {
		return
	}

	previous := state.available.Swap(healthy)
	state.checkedAt.Store(r.now().UnixNano())
	if r.healthHook != nil {
		r.healthHook(name, healthy)
	}
	if previous != healthy {
		r.logger.Info("backend health changed",
			zap.String("backend", name),
			zap.Bool("available", healthy),
		)
	}
}

// Health returns the last observed liveness of a backend
func (r *Registry) Health(name string) (Health, bool) {
	state := r.healthState(name)
	if state == nil {
		return Health{}, false
	}

	h := Health{Backend: name, Available: state.available.Load()}
	if checked := state.checkedAt.Load(); checked != 0 {
		h.LastCheckedAt = time.Unix(0, checked)
	}
	return h, true
}

// RefreshAll probes every backend concurrently and returns the results
func (r *Registry) RefreshAll(ctx context.Context) map[string]bool {
	names := r.Names()
	results := make([]bool, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			results[i] = r.Probe(gctx, name)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}

// StartHealthLoop refreshes health in the background until ctx is done
func (r *Registry) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RefreshAll(ctx)
			}
		}
	}()
}

// Close closes every backend and collects the errors
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		provider, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) healthState(name string) *healthState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.health[name]
}

func clonePreference(p RoutingPreference) RoutingPreference {
	chain := make([]string, len(p.FallbackChain))
	copy(chain, p.FallbackChain)
	p.FallbackChain = chain
	return p
}

// Builder creates a backend from its configuration
type Builder func(cfg BackendConfig, logger *zap.Logger) (Provider, error)

// Factory maps backend names to builders
type Factory struct {
	builders map[string]Builder
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Builder)}
}

// Register adds a builder for a backend name
func (f *Factory) Register(name string, builder Builder) *Factory {
	f.builders[name] = builder
	return f
}

// Build creates the backend for cfg.Name
func (f *Factory) Build(cfg BackendConfig, logger *zap.Logger) (Provider, error) {
	builder, ok := f.builders[cfg.Name]
	if !ok {
		return nil, NewProviderError(KindConfiguration, cfg.Name, "unknown backend "+cfg.Name, 0, false, nil)
	}

	provider, err := builder(cfg, logger)
	if err != nil {
		return nil, NewProviderError(KindConfiguration, cfg.Name, "failed to build backend "+cfg.Name, 0, false, err)
	}
	return provider, nil
}

// BuildRegistry builds and initializes every configured backend. Backends
// without an API key are skipped. A backend whose first probe fails is still
// registered, marked unhealthy.
func BuildRegistry(ctx context.Context, factory *Factory, configs []BackendConfig, logger *zap.Logger, opts ...RegistryOption) (*Registry, error) {
	registry := NewRegistry(logger, opts...)

	for _, cfg := range configs {
		if cfg.APIKey == "" {
			registry.logger.Info("skipping backend without API key", zap.String("backend", cfg.Name))
			continue
		}

		provider, err := factory.Build(cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, NewProviderError(KindConfiguration, cfg.Name, "failed to register backend", 0, false, err)
		}

		healthy := provider.Initialize(ctx)
		registry.MarkHealth(cfg.Name, healthy)
		if healthy {
			registry.logger.Info("backend initialized", zap.String("backend", cfg.Name))
		} else {
			registry.logger.Warn("backend failed initial health check", zap.String("backend", cfg.Name))
		}
	}

	return registry, nil
}
