package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
)

// Adapter implements the Provider interface for OpenAI and the vendors that
// speak the same chat completions dialect (DeepSeek, xAI)
type Adapter struct {
	*providers.Base
	client     oai.Client
	httpClient *http.Client
}

// NewAdapter creates an adapter for an OpenAI-compatible backend. cfg.Name
// selects the profile; cfg.BaseURL overrides the profile endpoint.
func NewAdapter(cfg providers.BackendConfig, logger *zap.Logger) (*Adapter, error) {
	profile, ok := providers.ProfileFor(cfg.Name)
	if !ok {
		return nil, fmt.Errorf("no OpenAI-compatible profile for backend %q", cfg.Name)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}

	base := providers.NewBase(profile, cfg, logger)
	effective := base.Config()
	if effective.BaseURL == "" {
		return nil, fmt.Errorf("backend %q has no base URL", cfg.Name)
	}

	httpClient := &http.Client{}
	client := oai.NewClient(
		option.WithAPIKey(effective.APIKey),
		option.WithBaseURL(effective.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &Adapter{
		Base:       base,
		client:     client,
		httpClient: httpClient,
	}, nil
}

// Builder adapts NewAdapter to providers.Builder
func Builder(cfg providers.BackendConfig, logger *zap.Logger) (providers.Provider, error) {
	return NewAdapter(cfg, logger)
}

// Initialize runs the startup health probe
func (a *Adapter) Initialize(ctx context.Context) bool {
	healthy := a.HealthCheck(ctx)
	if !healthy {
		a.Logger().Error("health check failed during initialization")
		return false
	}
	a.Logger().Info("backend ready", zap.String("model", a.DefaultModel()))
	return true
}

// Complete performs a chat completion request
func (a *Adapter) Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	model := a.ResolveModel(task, opts)
	params := oai.ChatCompletionNewParams{
		Model:       model,
		Messages:    toChatMessages(messages),
		MaxTokens:   oai.Int(int64(a.MaxTokens(opts))),
		Temperature: oai.Float(a.Temperature(opts)),
	}

	return a.Execute(ctx, model, func(ctx context.Context) (*providers.CompletionResult, error) {
		resp, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, a.classify(err)
		}
		if len(resp.Choices) == 0 {
			return nil, providers.NewProviderError(providers.KindVendorRequestFailed, a.Name(), "vendor returned no choices", 0, false, nil)
		}

		return &providers.CompletionResult{
			Content: resp.Choices[0].Message.Content,
			Model:   resp.Model,
			Usage: providers.Usage{
				PromptTokens:     int(resp.Usage.PromptTokens),
				CompletionTokens: int(resp.Usage.CompletionTokens),
				TotalTokens:      int(resp.Usage.TotalTokens),
			},
		}, nil
	})
}

// HealthCheck sends a minimal completion
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	messages, maxTokens := providers.HealthPrompt()

	return a.Probe(ctx, func(ctx context.Context) error {
		_, err := a.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
			Model:     a.HealthModel(),
			Messages:  toChatMessages(messages),
			MaxTokens: oai.Int(int64(maxTokens)),
		})
		return err
	})
}

// ListModels returns the vendor model list
func (a *Adapter) ListModels(ctx context.Context) []string {
	return a.Models(ctx, func(ctx context.Context) ([]string, error) {
		page, err := a.client.Models.List(ctx)
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(page.Data))
		for _, m := range page.Data {
			ids = append(ids, m.ID)
		}
		return ids, nil
	})
}

// Close releases idle connections
func (a *Adapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) classify(err error) *providers.ProviderError {
	status := 0
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return providers.Classify(a.Name(), status, err)
}

func toChatMessages(messages []providers.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case providers.RoleSystem:
			out = append(out, oai.SystemMessage(msg.Content))
		case providers.RoleAssistant:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			out = append(out, oai.UserMessage(msg.Content))
		}
	}
	return out
}

var _ providers.Provider = (*Adapter)(nil)
