package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/upb/llm-provider-manager/services/providers"
)

// Adapter implements the Provider interface for Google Gemini
type Adapter struct {
	*providers.Base
	client     *genai.Client
	httpClient *http.Client
}

// NewAdapter creates a new Gemini adapter backed by the Gemini API
func NewAdapter(cfg providers.BackendConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key is required")
	}
	cfg.Name = providers.BackendGemini

	base := providers.NewBase(providers.GeminiProfile(), cfg, logger)
	httpClient := &http.Client{}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

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
	if !a.HealthCheck(ctx) {
		a.Logger().Error("health check failed during initialization")
		return false
	}
	a.Logger().Info("backend ready", zap.String("model", a.DefaultModel()))
	return true
}

// Complete performs a generateContent request
func (a *Adapter) Complete(ctx context.Context, messages []providers.Message, task providers.TaskType, opts providers.Options) *providers.CompletionResult {
	model := a.ResolveModel(task, opts)
	system, contents := toContents(messages)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(a.Temperature(opts))),
		MaxOutputTokens: int32(a.MaxTokens(opts)),
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	return a.Execute(ctx, model, func(ctx context.Context) (*providers.CompletionResult, error) {
		resp, err := a.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return nil, a.classify(err)
		}
		if len(resp.Candidates) == 0 {
			return nil, providers.NewProviderError(providers.KindVendorRequestFailed, a.Name(), "vendor returned no candidates", 0, false, nil)
		}

		result := &providers.CompletionResult{
			Content: resp.Text(),
			Model:   resp.ModelVersion,
		}
		if usage := resp.UsageMetadata; usage != nil {
			result.Usage = providers.Usage{
				PromptTokens:     int(usage.PromptTokenCount),
				CompletionTokens: int(usage.CandidatesTokenCount),
				TotalTokens:      int(usage.TotalTokenCount),
			}
		}
		return result, nil
	})
}

// HealthCheck sends a minimal prompt
func (a *Adapter) HealthCheck(ctx context.Context) bool {
	messages, maxTokens := providers.HealthPrompt()
	_, contents := toContents(messages)

	return a.Probe(ctx, func(ctx context.Context) error {
		_, err := a.client.Models.GenerateContent(ctx, a.HealthModel(), contents, &genai.GenerateContentConfig{
			MaxOutputTokens: int32(maxTokens),
		})
		return err
	})
}

// ListModels returns the vendor model list
func (a *Adapter) ListModels(ctx context.Context) []string {
	return a.Models(ctx, func(ctx context.Context) ([]string, error) {
		page, err := a.client.Models.List(ctx, nil)
		if err != nil {
			return nil, err
		}

		names := make([]string, 0, len(page.Items))
		for _, m := range page.Items {
			if m == nil {
				continue
			}
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
		return names, nil
	})
}

// Close releases idle connections
func (a *Adapter) Close() error {
	a.httpClient.CloseIdleConnections()
	return nil
}

func (a *Adapter) classify(err error) *providers.ProviderError {
	status := 0
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.Code
	}
	return providers.Classify(a.Name(), status, err)
}

// toContents maps the conversation onto Gemini roles; system text becomes the
// system instruction
func toContents(messages []providers.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case providers.RoleSystem:
			system = append(system, msg.Content)
		case providers.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

var _ providers.Provider = (*Adapter)(nil)
