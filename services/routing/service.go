package routing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
)

// Backends is the view of the provider registry the router needs
type Backends interface {
	Get(name string) (providers.Provider, error)
	Has(name string) bool
	Names() []string
	IsHealthy(ctx context.Context, name string) bool
	Preference(task providers.TaskType) (providers.RoutingPreference, bool)
}

// Recorder receives the outcome of every candidate attempt
type Recorder interface {
	RecordOutcome(backend string, task providers.TaskType, result *providers.CompletionResult, latency time.Duration)
}

// Observer is notified about routing decisions
type Observer interface {
	IncFallback(task providers.TaskType, backend string)
	IncNoBackend(task providers.TaskType)
}

// RoutingConfig holds configuration for the routing service
type RoutingConfig struct {
	// AttemptTimeout bounds each candidate call; zero leaves the backend's own timeout in charge
	AttemptTimeout time.Duration
}

// DefaultRoutingConfig returns a sensible default configuration
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{}
}

// RoutingService selects candidate backends for a task and walks them in
// order until one succeeds
type RoutingService struct {
	config   RoutingConfig
	backends Backends
	recorder Recorder
	observer Observer
	logger   *zap.Logger
}

// Option configures the routing service
type Option func(*RoutingService)

// WithRecorder sets the outcome recorder
func WithRecorder(recorder Recorder) Option {
	return func(s *RoutingService) {
		s.recorder = recorder
	}
}

// WithObserver sets the routing observer
func WithObserver(observer Observer) Option {
	return func(s *RoutingService) {
		s.observer = observer
	}
}

// NewRoutingService creates a new routing service
func NewRoutingService(config RoutingConfig, backends Backends, logger *zap.Logger, opts ...Option) *RoutingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RoutingService{
		config:   config,
		backends: backends,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns the ordered candidate backends for a request. A healthy
// override is returned alone. Otherwise the task preference is filtered to
// healthy backends, and when that is empty every healthy backend is used in
// registration order.
func (s *RoutingService) Select(ctx context.Context, task providers.TaskType, override string) []string {
	if override != "" {
		if s.backends.Has(override) && s.backends.IsHealthy(ctx, override) {
			return []string{override}
		}
		s.logger.Warn("requested backend unavailable, using routing preference",
			zap.String("backend", override),
			zap.String("task_type", string(task)),
		)
	}

	var candidates []string
	if pref, ok := s.backends.Preference(task); ok {
		candidates = s.healthy(ctx, pref.Candidates())
	}
	if len(candidates) == 0 {
		candidates = s.healthy(ctx, s.backends.Names())
	}
	return candidates
}

func (s *RoutingService) healthy(ctx context.Context, names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if s.backends.Has(name) && s.backends.IsHealthy(ctx, name) {
			out = append(out, name)
		}
	}
	return out
}

// RouteAndComplete walks the candidates sequentially and returns the first
// success. When every candidate fails the last error is returned with the full
// attempt list attached.
func (s *RoutingService) RouteAndComplete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	candidates := s.Select(ctx, task, opts.PreferredBackend)
	if len(candidates) == 0 {
		if s.observer != nil {
			s.observer.IncNoBackend(task)
		}
		s.logger.Error("no available backend", zap.String("task_type", string(task)))
		return providers.Failed("", "", providers.NewProviderError(
			providers.KindNoBackendAvailable, "",
			fmt.Sprintf("no available backend for task %s", task),
			0, false, nil,
		))
	}

	var (
		last     *providers.CompletionResult
		attempts []providers.AttemptError
	)
	for i, name := range candidates {
		if err := ctx.Err(); err != nil {
			return s.canceled(name, err, attempts)
		}

		provider, err := s.backends.Get(name)
		if err != nil {
			continue
		}

		callOpts := opts
		callOpts.PreferredBackend = ""
		if i > 0 {
			callOpts.Model = ""
			if s.observer != nil {
				s.observer.IncFallback(task, name)
			}
		}

		result, latency := s.attempt(ctx, provider, messages, task, callOpts)
		s.record(name, task, result, latency)

		if result.OK() {
			if i > 0 {
				s.logger.Info("request served by fallback backend",
					zap.String("backend", name),
					zap.String("task_type", string(task)),
					zap.Int("position", i),
				)
			}
			return result
		}

		attempts = append(attempts, providers.AttemptError{
			Backend: name,
			Kind:    result.Error.Kind,
			Message: result.Error.Error(),
		})
		last = result

		s.logger.Warn("candidate backend failed",
			zap.String("backend", name),
			zap.String("task_type", string(task)),
			zap.String("kind", string(result.Error.Kind)),
			zap.Error(result.Error),
		)

		if result.Error.Kind == providers.KindCanceled || ctx.Err() != nil {
			return s.canceled(name, ctx.Err(), attempts)
		}
	}

	if last == nil {
		return providers.Failed("", "", providers.NewProviderError(
			providers.KindNoBackendAvailable, "",
			fmt.Sprintf("no available backend for task %s", task),
			0, false, nil,
		))
	}

	final := *last.Error
	final.Attempts = attempts
	last.Error = &final
	return last
}

// attempt calls one backend, bounding it with the configured attempt timeout
func (s *RoutingService) attempt(ctx context.Context, provider providers.Provider, messages []providers.Message, task providers.TaskType, opts providers.Options) (*providers.CompletionResult, time.Duration) {
	callCtx := ctx
	if s.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.config.AttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	result := s.complete(callCtx, provider, messages, task, opts)
	latency := time.Since(start)

	if result == nil {
		result = providers.Failed(provider.Name(), "", providers.NewProviderError(
			providers.KindVendorRequestFailed, provider.Name(), "backend returned no result", 0, false, nil))
	}
	if result.Error != nil && result.Error.Kind == providers.KindCanceled && ctx.Err() == nil {
		// the attempt timeout fired, not the caller
		timeout := *result.Error
		timeout.Kind = providers.KindVendorTimeout
		timeout.Message = "backend attempt timed out"
		result.Error = &timeout
	}
	if result.Latency == 0 {
		result.Latency = latency
	}
	return result, latency
}

func (s *RoutingService) complete(ctx context.Context, provider providers.Provider, messages []providers.Message, task providers.TaskType, opts providers.Options) (result *providers.CompletionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("backend panicked", zap.String("backend", provider.Name()), zap.Any("panic", rec))
			result = providers.Failed(provider.Name(), "", providers.NewProviderError(
				providers.KindVendorRequestFailed, provider.Name(), fmt.Sprintf("backend panicked: %v", rec), 0, false, nil))
		}
	}()
	return provider.Complete(ctx, messages, task, opts)
}

func (s *RoutingService) record(backend string, task providers.TaskType, result *providers.CompletionResult, latency time.Duration) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordOutcome(backend, task, result, latency)
}

func (s *RoutingService) canceled(backend string, err error, attempts []providers.AttemptError) *providers.CompletionResult {
	provErr := providers.NewProviderError(providers.KindCanceled, backend, "request canceled", 0, false, err)
	provErr.Attempts = attempts
	return providers.Failed(backend, "", provErr)
}
