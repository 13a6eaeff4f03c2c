package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider is the contract every backend (vendor) implements
type Provider interface {
	// Name returns the backend name (e.g., "openai", "anthropic", "deepseek")
	Name() string

	// Initialize builds the transport client and runs one health probe.
	// It reports false on failure and never panics.
	Initialize(ctx context.Context) bool

	// Complete issues one logical request to the vendor. Transient faults are
	// retried internally; the outcome is always returned as data.
	Complete(ctx context.Context, messages []Message, task TaskType, opts Options) *CompletionResult

	// HealthCheck runs a cheap bounded probe against the vendor
	HealthCheck(ctx context.Context) bool

	// ListModels returns the vendor model list, or a static list on failure
	ListModels(ctx context.Context) []string

	// BestModelFor returns the preferred model for a task type
	BestModelFor(task TaskType) string

	// SupportedTasks returns the task types this backend is tuned for
	SupportedTasks() []TaskType

	// Close releases transport resources
	Close() error
}

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a conversation
type Message struct {
	// Role can be "system", "user", or "assistant"
	Role Role `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// TaskType is the routing key for a request. The manager assigns no meaning
// to it beyond preference lookup.
type TaskType string

const (
	TaskConversation     TaskType = "conversation"
	TaskAnalysis         TaskType = "analysis"
	TaskCreative         TaskType = "creative"
	TaskTechnical        TaskType = "technical"
	TaskCodeGeneration   TaskType = "code_generation"
	TaskSummarization    TaskType = "summarization"
	TaskTranslation      TaskType = "translation"
	TaskResearch         TaskType = "research"
	TaskEmotionalSupport TaskType = "emotional_support"
	TaskProblemSolving   TaskType = "problem_solving"
)

var allTaskTypes = []TaskType{
	TaskConversation,
	TaskAnalysis,
	TaskCreative,
	TaskTechnical,
	TaskCodeGeneration,
	TaskSummarization,
	TaskTranslation,
	TaskResearch,
	TaskEmotionalSupport,
	TaskProblemSolving,
}

// AllTaskTypes returns every known task type in declaration order
func AllTaskTypes() []TaskType {
	out := make([]TaskType, len(allTaskTypes))
	copy(out, allTaskTypes)
	return out
}

// Valid reports whether t is a known task type
func (t TaskType) Valid() bool {
	for _, known := range allTaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTaskType converts a string into a known TaskType
func ParseTaskType(s string) (TaskType, error) {
	t := TaskType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown task type %q", s)
	}
	return t, nil
}

// ModelChoice is the per-task model mapping of a backend
type ModelChoice struct {
	Primary  string `json:"primary" yaml:"primary"`
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Options carries per-request overrides
type Options struct {
	// Model overrides the backend's task model
	Model string

	// Temperature overrides the backend default when non-nil
	Temperature *float64

	// MaxTokens overrides the backend default when positive
	MaxTokens int

	// PreferredBackend pins the request to one backend and disables fallback
	PreferredBackend string
}

// Usage represents token usage statistics
type Usage struct {
	// PromptTokens used in the request
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens used in the response
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens
	TotalTokens int `json:"total_tokens"`
}

// CompletionResult is the outcome of one logical completion. Either Content
// is meaningful (Error == nil) or Error is set, never both.
type CompletionResult struct {
	// Content is the assistant text
	Content string `json:"content"`

	// Backend that produced the result
	Backend string `json:"backend"`

	// Model used for the completion
	Model string `json:"model"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// Latency of the vendor call including internal retries
	Latency time.Duration `json:"latency"`

	// Error is set when the completion failed
	Error *ProviderError `json:"error,omitempty"`
}

// OK reports whether the result carries a successful completion
func (r *CompletionResult) OK() bool {
	return r != nil && r.Error == nil
}

// Failed builds a failed result for a backend
func Failed(backend, model string, err *ProviderError) *CompletionResult {
	return &CompletionResult{
		Backend: backend,
		Model:   model,
		Error:   err,
	}
}

// Health is the last observed liveness of a backend
type Health struct {
	Backend       string    `json:"backend"`
	Available     bool      `json:"available"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}
