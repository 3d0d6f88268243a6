// Package fantasy implements a tool-calling provider client. The model may
// call the registered tools for a bounded number of steps before it answers.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"freightdesk/pkg/config"
	providertypes "freightdesk/pkg/provider/types"
)

const (
	defaultMaxToolSteps = 20
	finalSummaryPrompt  = "You have reached the tool call limit. Do not call any more tools. Answer the original question now using the information gathered so far."
)

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

type generateFunc func(context.Context, core.LanguageModel, core.AgentCall, []core.AgentOption) (*core.AgentResult, error)

type Client struct {
	provider       languageModelProvider
	requestTimeout time.Duration
	modelID        string
	tools          []core.AgentTool
	maxToolSteps   int
	generate       generateFunc
}

// New builds a client over the OpenAI API with the given tools. model is the
// default used when a request names none. A maxToolSteps of zero uses the
// default step limit.
func New(providerCfg config.ProviderConfig, model string, tools []core.AgentTool, maxToolSteps int) (*Client, error) {
	apiKey := strings.TrimSpace(providerCfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	modelID, err := normalizeOpenAIModel(model)
	if err != nil {
		return nil, err
	}

	if maxToolSteps <= 0 {
		maxToolSteps = defaultMaxToolSteps
	}

	return &Client{
		provider:       fantasyProvider,
		requestTimeout: providerCfg.RequestTimeout(),
		modelID:        modelID,
		tools:          tools,
		maxToolSteps:   maxToolSteps,
		generate:       generateWithFantasyAgent,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := slog.Default().With("component", "provider.fantasy")
	startedAt := time.Now()

	if err := req.Validate(); err != nil {
		return providertypes.PromptResult{}, err
	}
	if len(req.Images) > 0 {
		return providertypes.PromptResult{}, errors.New("fantasy provider does not accept images")
	}

	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		var err error
		if modelID, err = normalizeOpenAIModel(req.Model); err != nil {
			return providertypes.PromptResult{}, err
		}
	}

	languageModel, err := c.provider.LanguageModel(ctx, modelID)
	if err != nil {
		return providertypes.PromptResult{}, fmt.Errorf("resolve language model: %w", err)
	}

	var history []core.Message
	if system := strings.TrimSpace(req.System); system != "" {
		history = append(history, core.Message{
			Role:    core.MessageRoleSystem,
			Content: []core.MessagePart{core.TextPart{Text: system}},
		})
	}

	prompt := strings.TrimSpace(req.Prompt)
	call := core.AgentCall{
		Prompt:   prompt,
		Messages: history,
	}
	if req.MaxTokens > 0 {
		maxTokens := int64(req.MaxTokens)
		call.MaxOutputTokens = &maxTokens
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		call.Temperature = &temp
	}

	generate := c.generate
	if generate == nil {
		generate = generateWithFantasyAgent
	}

	log.Debug("provider request started", "model", modelID, "prompt_length", len(prompt), "tools", len(c.tools))
	result, err := generate(ctx, languageModel, call, c.buildAgentOptions())
	if err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return providertypes.PromptResult{}, fmt.Errorf("prompt failed: %w", err)
	}
	usage := usageOf(result)

	response := extractText(result.Response.Content)
	if response == "" && c.reachedToolLimit(result) {
		log.Debug("tool step limit reached, requesting final answer", "steps", len(result.Steps))

		summaryHistory := make([]core.Message, 0, len(history)+1+2*len(result.Steps))
		summaryHistory = append(summaryHistory, history...)
		summaryHistory = append(summaryHistory, core.NewUserMessage(prompt))
		for _, step := range result.Steps {
			summaryHistory = append(summaryHistory, step.Messages...)
		}

		summary, err := generate(ctx, languageModel, core.AgentCall{
			Prompt:          finalSummaryPrompt,
			Messages:        summaryHistory,
			MaxOutputTokens: call.MaxOutputTokens,
			Temperature:     call.Temperature,
		}, nil)
		if err != nil {
			return providertypes.PromptResult{}, fmt.Errorf("final summary failed: %w", err)
		}
		response = extractText(summary.Response.Content)
		usage = addUsage(usage, usageOf(summary))
	}
	if response == "" {
		return providertypes.PromptResult{}, errors.New("prompt succeeded but returned no text")
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(response), "steps", len(result.Steps))

	metadata := providertypes.PromptMetadata{
		Provider: "openai",
		Model:    modelID,
	}
	if !usage.IsZero() {
		metadata.Usage = &usage
	}

	return providertypes.PromptResult{
		Text:     response,
		Metadata: metadata,
	}, nil
}

func (c *Client) buildAgentOptions() []core.AgentOption {
	if len(c.tools) == 0 {
		return nil
	}

	options := []core.AgentOption{core.WithTools(c.tools...)}
	if c.maxToolSteps > 0 {
		options = append(options, core.WithStopConditions(core.StepCountIs(c.maxToolSteps)))
	}

	return options
}

func (c *Client) reachedToolLimit(result *core.AgentResult) bool {
	if len(c.tools) == 0 || c.maxToolSteps <= 0 {
		return false
	}

	return result.Response.FinishReason == core.FinishReasonToolCalls
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func usageOf(result *core.AgentResult) providertypes.TokenUsage {
	if result == nil {
		return providertypes.TokenUsage{}
	}

	return providertypes.TokenUsage{
		InputTokens:         result.TotalUsage.InputTokens,
		OutputTokens:        result.TotalUsage.OutputTokens,
		TotalTokens:         result.TotalUsage.TotalTokens,
		ReasoningTokens:     result.TotalUsage.ReasoningTokens,
		CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
		CacheReadTokens:     result.TotalUsage.CacheReadTokens,
	}
}

func addUsage(a, b providertypes.TokenUsage) providertypes.TokenUsage {
	return providertypes.TokenUsage{
		InputTokens:         a.InputTokens + b.InputTokens,
		OutputTokens:        a.OutputTokens + b.OutputTokens,
		TotalTokens:         a.TotalTokens + b.TotalTokens,
		ReasoningTokens:     a.ReasoningTokens + b.ReasoningTokens,
		CacheCreationTokens: a.CacheCreationTokens + b.CacheCreationTokens,
		CacheReadTokens:     a.CacheReadTokens + b.CacheReadTokens,
	}
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall, options []core.AgentOption) (*core.AgentResult, error) {
	runtime := core.NewAgent(model, options...)
	return runtime.Generate(ctx, call)
}
