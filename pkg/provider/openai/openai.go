// Package openai implements the provider client over the chat completions
// API. The same client serves Mistral and Exa through their
// OpenAI-compatible base URLs.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"freightdesk/pkg/config"
	providertypes "freightdesk/pkg/provider/types"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

var defaultBaseURLs = map[string]string{
	"mistral": "https://api.mistral.ai/v1",
	"exa":     "https://api.exa.ai",
}

type Client struct {
	name           string
	client         osdk.Client
	requestTimeout time.Duration
}

// New builds a client for the named OpenAI-compatible provider. httpClient
// may be nil.
func New(name string, providerCfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	name = normalizeName(name)
	opts, err := RequestOptions(name, providerCfg, httpClient)
	if err != nil {
		return nil, err
	}

	return &Client{
		name:           name,
		client:         osdk.NewClient(opts...),
		requestTimeout: providerCfg.RequestTimeout(),
	}, nil
}

// RequestOptions returns the SDK options for a provider: key, base URL,
// organization, project, HTTP client and timeout. Retries are disabled.
func RequestOptions(name string, providerCfg config.ProviderConfig, httpClient *http.Client) ([]option.RequestOption, error) {
	name = normalizeName(name)
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("providers.%s.api_key is required or %s_API_KEY must be set", name, strings.ToUpper(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	baseURL := strings.TrimSpace(providerCfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURLs[name]
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if requestTimeout := providerCfg.RequestTimeout(); requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return opts, nil
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "openai"
	}
	return name
}

// Name returns the provider id used in metadata.
func (c *Client) Name() string {
	return c.name
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := c.logger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

func (c *Client) Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := c.logger().With("operation", "complete")
	startedAt := time.Now()

	if err := req.Validate(); err != nil {
		return providertypes.PromptResult{}, err
	}

	model, err := normalizeModel(c.name, req.Model)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.PromptResult{}, err
	}
	log.Debug("provider request started",
		"model", model,
		"prompt_length", len(req.Prompt),
		"images", len(req.Images),
	)

	params := buildParams(model, req)
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}

	text := ""
	if completion != nil && len(completion.Choices) > 0 {
		text = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	if text == "" {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", "no output text")
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(text))

	metadata := providertypes.PromptMetadata{Provider: c.name, Model: model}
	usage := providertypes.TokenUsage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
		TotalTokens:  completion.Usage.TotalTokens,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.PromptResult{Text: text, Metadata: metadata}, nil
}

func buildParams(model string, req providertypes.Request) osdk.ChatCompletionNewParams {
	params := osdk.ChatCompletionNewParams{
		Model:    model,
		Messages: make([]osdk.ChatCompletionMessageParamUnion, 0, 2),
	}

	if system := strings.TrimSpace(req.System); system != "" {
		params.Messages = append(params.Messages, osdk.SystemMessage(system))
	}

	if len(req.Images) == 0 {
		params.Messages = append(params.Messages, osdk.UserMessage(req.Prompt))
	} else {
		parts := make([]osdk.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
		if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
			parts = append(parts, osdk.TextContentPart(prompt))
		}
		for _, img := range req.Images {
			parts = append(parts, osdk.ImageContentPart(osdk.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(img),
			}))
		}
		params.Messages = append(params.Messages, osdk.UserMessage(parts))
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	return params
}

func dataURL(img providertypes.Image) string {
	mimeType := strings.TrimSpace(img.MimeType)
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func (c *Client) logger() *slog.Logger {
	return slog.Default().With("component", "provider."+c.name)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func normalizeModel(providerID string, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	prefix := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if prefix == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if prefix != providerID {
		return "", fmt.Errorf("model provider %q is not supported by %s provider", prefix, providerID)
	}

	return modelID, nil
}
