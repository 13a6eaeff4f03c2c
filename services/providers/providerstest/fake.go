// Package providerstest provides a scripted in-memory backend for tests.
package providerstest

import (
	"context"
	"sync"

	"github.com/upb/llm-provider-manager/services/providers"
)

// Call records one Complete invocation
type Call struct {
	Messages []providers.Message
	Task     providers.TaskType
	Options  providers.Options
}

// Fake is a Provider whose outcomes are scripted by the test
type Fake struct {
	name  string
	tasks []providers.TaskType
	model string

	mu          sync.Mutex
	healthy     bool
	healthCalls int
	calls       []Call
	results     []*providers.CompletionResult
	models      []string
	closeErr    error
	closed      bool

	// OnComplete runs before a scripted result is returned
	OnComplete func(ctx context.Context)
}

// New returns a healthy fake that answers "ok from <name>"
func New(name string) *Fake {
	return &Fake{
		name:    name,
		healthy: true,
		model:   name + "-model",
		models:  []string{name + "-model"},
		tasks:   providers.AllTaskTypes(),
	}
}

// Unhealthy marks the fake as failing health checks
func (f *Fake) Unhealthy() *Fake {
	f.SetHealthy(false)
	return f
}

// SetHealthy sets the health check outcome
func (f *Fake) SetHealthy(healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthy = healthy
}

// WithTasks sets the supported task list
func (f *Fake) WithTasks(tasks ...providers.TaskType) *Fake {
	f.tasks = tasks
	return f
}

// WithCloseError makes Close fail
func (f *Fake) WithCloseError(err error) *Fake {
	f.closeErr = err
	return f
}

// Succeed queues a successful completion
func (f *Fake) Succeed(content string, tokens int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, &providers.CompletionResult{
		Content: content,
		Model:   f.model,
		Usage:   providers.Usage{PromptTokens: tokens / 2, CompletionTokens: tokens - tokens/2, TotalTokens: tokens},
	})
	return f
}

// Fail queues a failed completion
func (f *Fake) Fail(kind providers.ErrorKind, message string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, providers.Failed(f.name, f.model,
		providers.NewProviderError(kind, f.name, message, 0, false, nil)))
	return f
}

// Calls returns the recorded Complete invocations
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of Complete invocations
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// HealthCalls returns the number of HealthCheck invocations
func (f *Fake) HealthCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls
}

// Closed reports whether Close was called
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Name() string { return f.name }

func (f *Fake) Initialize(ctx context.Context) bool { return f.HealthCheck(ctx) }

func (f *Fake) Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Messages: messages, Task: task, Options: opts})
	var next *providers.CompletionResult
	if len(f.results) > 0 {
		next = f.results[0]
		f.results = f.results[1:]
	}
	hook := f.OnComplete
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return providers.Failed(f.name, f.model,
			providers.NewProviderError(providers.KindCanceled, f.name, "request canceled", 0, false, err))
	}
	if next == nil {
		next = &providers.CompletionResult{Content: "ok from " + f.name, Model: f.model}
	}

	out := *next
	out.Backend = f.name
	if opts.Model != "" {
		out.Model = opts.Model
	}
	return &out
}

func (f *Fake) HealthCheck(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	return f.healthy && ctx.Err() == nil
}

func (f *Fake) ListModels(ctx context.Context) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.models))
	copy(out, f.models)
	return out
}

func (f *Fake) BestModelFor(task providers.TaskType) string { return f.model }

func (f *Fake) SupportedTasks() []providers.TaskType {
	out := make([]providers.TaskType, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

var _ providers.Provider = (*Fake)(nil)
