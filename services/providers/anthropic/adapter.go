package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/services/providers"
)

// Adapter implements the Provider interface for Anthropic's Messages API
type Adapter struct {
	*providers.Base
	client     sdk.Client
	httpClient *http.Client
}

// NewAdapter creates a new Anthropic adapter
func NewAdapter(cfg providers.BackendConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg.Name = providers.BackendAnthropic

	base := providers.NewBase(providers.AnthropicProfile(), cfg, logger)
	httpClient := &http.Client{}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Adapter{
		Base:       base,
		client:     sdk.NewClient(opts...),
		httpClient: httpClient,
	}, nil
}

// Builder adapts NewAdapter to providers.Builder
func Builder(cfg providers.BackendConfig, logger *zap.Logger) (providers.Provider, error) {
	return NewAdapter(cfg, logger)
}

// Initialize runs the startup health probe
func (a *Adapter) Initialize(ctx context.Context) bool {
	if !a.HealthCheck(ctx) {
		a.Logger().Error("health check failed during initialization")
		return false
	}
	a.Logger().Info("backend ready", zap.String("model", a.DefaultModel()))
	return true
}

// Complete performs a Messages API request
func (a *Adapter) Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	model := a.ResolveModel(task, opts)
	system, turns := splitSystem(messages)

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   int64(a.MaxTokens(opts)),
		Messages:    turns,
		Temperature: sdk.Float(a.Temperature(opts)),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	return a.Execute(ctx, model, func(ctx context.Context) (*providers.CompletionResult, error) {
		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return nil, a.classify(err)
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}

		return &providers.CompletionResult{
			Content: text.String(),
			Model:   string(resp.Model),
			Usage: providers.Usage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}, nil
	})
}

// HealthCheck sends a minimal message to the cheapest model
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	messages, maxTokens := providers.HealthPrompt()
	_, turns := splitSystem(messages)

	return a.Probe(ctx, func(ctx context.Context) error {
		_, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(a.HealthModel()),
			MaxTokens: int64(maxTokens),
			Messages:  turns,
		})
		return err
	})
}

// ListModels returns the vendor model list
func (a *Adapter) ListModels(ctx context.Context) []string {
	return a.Models(ctx, func(ctx context.Context) ([]string, error) {
		page, err := a.client.Models.List(ctx, sdk.ModelListParams{})
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
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return providers.Classify(a.Name(), status, err)
}

// splitSystem lifts system messages into the top-level system prompt, which
// is where the Messages API expects them
func splitSystem(messages []providers.Message) (string, []sdk.MessageParam) {
	var system []string
	turns := make([]sdk.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case providers.RoleSystem:
			system = append(system, msg.Content)
		case providers.RoleAssistant:
			turns = append(turns, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			turns = append(turns, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}
	return strings.Join(system, "\n\n"), turns
}

var _ providers.Provider = (*Adapter)(nil)
