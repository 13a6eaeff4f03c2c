package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/middleware"
	"github.com/upb/llm-provider-manager/services"
	"github.com/upb/llm-provider-manager/services/providers"
	"github.com/upb/llm-provider-manager/utils"
)

// ChatCompletionRequest represents an OpenAI-compatible chat completion request
// extended with the routing fields of the provider manager
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages" validate:"required,min=1,dive"`
	TaskType    string        `json:"task_type,omitempty" validate:"omitempty,task_type"`
	Temperature *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int          `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Backend     string        `json:"backend,omitempty" validate:"omitempty,backend"` // Optional: pin one backend
}

// ChatMessage represents a single chat message
type ChatMessage struct {
	Role    string `json:"role" validate:"required,role"`
	Content string `json:"content"`
}

// ChatCompletionResponse represents an OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID        string       `json:"id"`
	Object    string       `json:"object"`
	Created   int64        `json:"created"`
	Model     string       `json:"model"`
	Backend   string       `json:"backend"`
	TaskType  string       `json:"task_type"`
	LatencyMs int64        `json:"latency_ms"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage"`
}

// ChatChoice represents a completion choice
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage represents token usage information
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionService runs a routed completion
type CompletionService interface {
	Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult
}

// CompletionHandler handles the chat completion endpoint
type CompletionHandler struct {
	service CompletionService
	logger  *zap.Logger
}

// NewCompletionHandler creates a new CompletionHandler
func NewCompletionHandler(service CompletionService, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions
func (h *CompletionHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var chatReq ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&chatReq); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	task := providers.TaskConversation
	if chatReq.TaskType != "" {
		task = providers.TaskType(chatReq.TaskType)
	}

	messages := make([]providers.Message, len(chatReq.Messages))
	for i, m := range chatReq.Messages {
		messages[i] = providers.Message{Role: providers.Role(m.Role), Content: m.Content}
	}

	opts := providers.Options{
		Model:            chatReq.Model,
		Temperature:      chatReq.Temperature,
		PreferredBackend: chatReq.Backend,
	}
	if chatReq.MaxTokens != nil {
		opts.MaxTokens = *chatReq.MaxTokens
	}

	result := h.service.Complete(ctx, messages, task, opts)
	if result == nil {
		HandleServiceError(w, services.ErrInternal, h.logger)
		return
	}
	if !result.OK() {
		h.logger.Warn("completion failed",
			zap.String("request_id", requestID),
			zap.String("task_type", string(task)),
			zap.String("kind", string(result.Error.Kind)),
			zap.Error(result.Error))
		HandleServiceError(w, services.FromProviderError(result.Error), h.logger)
		return
	}

	h.logger.Info("completion served",
		zap.String("request_id", requestID),
		zap.String("task_type", string(task)),
		zap.String("backend", result.Backend),
		zap.String("model", result.Model),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("latency", result.Latency))

	response := ChatCompletionResponse{
		ID:        "chatcmpl-" + uuid.NewString(),
		Object:    "chat.completion",
		Created:   time.Now().Unix(),
		Model:     result.Model,
		Backend:   result.Backend,
		TaskType:  string(task),
		LatencyMs: result.Latency.Milliseconds(),
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: string(providers.RoleAssistant), Content: result.Content},
				FinishReason: "stop",
			},
		},
		Usage: ChatUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}

	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
