package providers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxTokens is used when neither the config nor the request sets a limit
	DefaultMaxTokens = 4000

	// DefaultTemperature is the sampling temperature used when none is configured
	DefaultTemperature = 0.7

	// DefaultTimeout bounds a single vendor attempt
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the total number of attempts per logical request
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the backoff base between attempts
	DefaultRetryDelay = time.Second

	// HealthCheckTimeout bounds a single health probe
	HealthCheckTimeout = 10 * time.Second

	// healthCheckPrompt and healthCheckMaxTokens shape the minimal probe completion
	healthCheckPrompt    = "Hi"
	healthCheckMaxTokens = 5
)

// BackendConfig holds configuration for one backend
type BackendConfig struct {
	// Name of the backend, matches a Profile name
	Name string `json:"name" yaml:"name"`

	// APIKeyEnvVar names the environment variable the key was read from
	APIKeyEnvVar string `json:"api_key_env_var,omitempty" yaml:"api_key_env_var,omitempty"`

	// APIKey for authentication
	APIKey string `json:"-" yaml:"-"`

	// BaseURL overrides the profile's API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model overrides the profile's default model
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxTokens is the default completion limit
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the default sampling temperature
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// Timeout for a single vendor attempt
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRetries is the total number of attempts
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the backoff base
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// DefaultBackendConfig returns a configuration with sensible defaults
func DefaultBackendConfig(name string) BackendConfig {
	return BackendConfig{
		Name:        name,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
		RetryDelay:  DefaultRetryDelay,
	}
}

// withDefaults fills zero values from DefaultBackendConfig
func (c BackendConfig) withDefaults() BackendConfig {
	d := DefaultBackendConfig(c.Name)
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	return c
}

// Base carries the static profile and settings shared by every concrete
// backend. Vendor adapters embed it and supply only the SDK calls.
type Base struct {
	profile Profile
	config  BackendConfig
	retrier *Retrier
	logger  *zap.Logger
}

// NewBase merges a profile with backend configuration
func NewBase(profile Profile, cfg BackendConfig, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = profile.Name
	}
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = profile.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = profile.DefaultModel
	}

	return &Base{
		profile: profile,
		config:  cfg,
		retrier: NewRetrier(cfg.MaxRetries, cfg.RetryDelay),
		logger:  logger.With(zap.String("backend", cfg.Name)),
	}
}

// Name returns the backend name
func (b *Base) Name() string {
	return b.config.Name
}

// Config returns the effective backend configuration
func (b *Base) Config() BackendConfig {
	return b.config
}

// Logger returns the backend-scoped logger
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// Retrier returns the retry policy used by Execute
func (b *Base) Retrier() *Retrier {
	return b.retrier
}

// DefaultModel returns the configured default model
func (b *Base) DefaultModel() string {
	return b.config.Model
}

// HealthModel returns the model used for health probes
func (b *Base) HealthModel() string {
	if b.profile.HealthModel != "" {
		return b.profile.HealthModel
	}
	return b.config.Model
}

// BestModelFor returns the preferred model for a task type
func (b *Base) BestModelFor(task TaskType) string {
	if choice, ok := b.profile.Models[task]; ok {
		if choice.Primary != "" {
			return choice.Primary
		}
		if choice.Fallback != "" {
			return choice.Fallback
		}
	}
	return b.config.Model
}

// SupportedTasks returns the task types this backend is tuned for
func (b *Base) SupportedTasks() []TaskType {
	out := make([]TaskType, len(b.profile.SupportedTasks))
	copy(out, b.profile.SupportedTasks)
	return out
}

// SupportsTask reports whether task is in the supported list
func (b *Base) SupportsTask(task TaskType) bool {
	for _, t := range b.profile.SupportedTasks {
		if t == task {
			return true
		}
	}
	return false
}

// ResolveModel picks the model for a request: the explicit override, else the
// task model
func (b *Base) ResolveModel(task TaskType, opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.BestModelFor(task)
}

// MaxTokens returns the request limit or the configured default
func (b *Base) MaxTokens(opts Options) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return b.config.MaxTokens
}

// Temperature returns the request temperature or the configured default
func (b *Base) Temperature(opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return b.config.Temperature
}

// StaticModels returns the fallback model list for ListModels
func (b *Base) StaticModels() []string {
	out := make([]string, len(b.profile.StaticModels))
	copy(out, b.profile.StaticModels)
	return out
}

// CallFunc performs one vendor attempt
type CallFunc func(ctx context.Context) (*CompletionResult, error)

// Execute drives one logical completion through the retrier. Each attempt is
// bounded by the configured timeout and panics are converted into errors. The
// returned result always carries Backend, Model and Latency.
func (b *Base) Execute(ctx context.Context, model string, call CallFunc) *CompletionResult {
	start := time.Now()
	var result *CompletionResult

	err := b.retrier.Do(ctx, func(attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()

		r, err := b.safeCall(attemptCtx, call)
		if err != nil {
			err = Classify(b.Name(), 0, err)
			b.logger.Warn("vendor attempt failed",
				zap.String("model", model),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			return err
		}
		result = r
		return nil
	})
	latency := time.Since(start)

	if err != nil {
		provErr := Classify(b.Name(), 0, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			provErr = NewProviderError(KindCanceled, b.Name(), "request canceled", 0, false, ctxErr)
		}
		failed := Failed(b.Name(), model, provErr)
		failed.Latency = latency
		return failed
	}

	if result == nil {
		result = &CompletionResult{}
	}
	result.Backend = b.Name()
	if result.Model == "" {
		result.Model = model
	}
	result.Latency = latency
	if result.Usage.TotalTokens == 0 {
		result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	}
	return result
}

func (b *Base) safeCall(ctx context.Context, call CallFunc) (result *CompletionResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("vendor call panicked", zap.Any("panic", rec))
			result = nil
			err = NewProviderError(KindVendorRequestFailed, b.Name(), fmt.Sprintf("vendor call panicked: %v", rec), 0, false, nil)
		}
	}()
	return call(ctx)
}

// Probe runs a health check call bounded by HealthCheckTimeout
func (b *Base) Probe(ctx context.Context, call func(ctx context.Context) error) bool {
	probeCtx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	if _, err := b.safeCall(probeCtx, func(ctx context.Context) (*CompletionResult, error) {
		return nil, call(ctx)
	}); err != nil {
		b.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return true
}

// Models queries the vendor model list, falling back to the static list
func (b *Base) Models(ctx context.Context, list func(ctx context.Context) ([]string, error)) []string {
	var models []string
	_, err := b.safeCall(ctx, func(ctx context.Context) (*CompletionResult, error) {
		var err error
		models, err = list(ctx)
		return nil, err
	})
	if err != nil || len(models) == 0 {
		if err != nil {
			b.logger.Debug("listing models failed, using static list", zap.Error(err))
		}
		return b.StaticModels()
	}
	return models
}

// HealthPrompt returns the minimal probe conversation
func HealthPrompt() ([]Message, int) {
	return []Message{{Role: RoleUser, Content: healthCheckPrompt}}, healthCheckMaxTokens
}
