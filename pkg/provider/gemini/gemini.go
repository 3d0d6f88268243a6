// Package gemini implements the provider client over the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"freightdesk/pkg/config"
	providertypes "freightdesk/pkg/provider/types"

	"google.golang.org/genai"
)

type Client struct {
	client         *genai.Client
	requestTimeout time.Duration
}

// New builds a Gemini client. httpClient may be nil.
func New(ctx context.Context, providerCfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("providers.gemini.api_key is required or GEMINI_API_KEY must be set")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize gemini client: %w", err)
	}

	return &Client{
		client:         client,
		requestTimeout: providerCfg.RequestTimeout(),
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

func (c *Client) Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "complete")
	startedAt := time.Now()

	if err := req.Validate(); err != nil {
		return providertypes.PromptResult{}, err
	}

	model, err := normalizeModel(req.Model)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	log.Debug("provider request started", "model", model, "prompt_length", len(req.Prompt), "images", len(req.Images))

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		mimeType := img.MimeType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(img.Data, mimeType))
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		parts = append(parts, genai.NewPartFromText(prompt))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(req.System); system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		genCfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	metadata := providertypes.PromptMetadata{Provider: "gemini", Model: model}
	if u := resp.UsageMetadata; u != nil {
		usage := providertypes.TokenUsage{
			InputTokens:     int64(u.PromptTokenCount),
			OutputTokens:    int64(u.CandidatesTokenCount),
			TotalTokens:     int64(u.TotalTokenCount),
			ReasoningTokens: int64(u.ThoughtsTokenCount),
			CacheReadTokens: int64(u.CachedContentTokenCount),
		}
		if !usage.IsZero() {
			metadata.Usage = &usage
		}
	}

	return providertypes.PromptResult{Text: text, Metadata: metadata}, nil
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.gemini")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func normalizeModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	if prefix, modelID, ok := strings.Cut(model, "/"); ok {
		prefix = strings.TrimSpace(prefix)
		modelID = strings.TrimSpace(modelID)
		if prefix == "models" || prefix == "gemini" {
			if modelID == "" {
				return "", errors.New("model is invalid")
			}
			return modelID, nil
		}
		return "", fmt.Errorf("model provider %q is not supported by gemini provider", prefix)
	}

	return model, nil
}
