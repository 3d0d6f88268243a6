package types

import "strings"

// Image is one inline image attached to a request.
type Image struct {
	MimeType string
	Data     []byte
}

// Request is one completion call against a provider.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Images      []Image
	MaxTokens   int
	Temperature float64
}

// Validate checks that the request carries a prompt and usable images.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" && len(r.Images) == 0 {
		return errPromptRequired
	}
	for i, img := range r.Images {
		if len(img.Data) == 0 {
			return &imageError{index: i}
		}
	}
	return nil
}

// PromptResult is the normalized provider response payload.
type PromptResult struct {
	Text     string
	Metadata PromptMetadata
}

// PromptMetadata carries provider/model identity and optional usage accounting.
type PromptMetadata struct {
	Provider string
	Model    string
	Agent    string
	Usage    *TokenUsage
}

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	ReasoningTokens     int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheCreationTokens == 0 &&
		u.CacheReadTokens == 0
}

// ToolEvent is one tool call or tool result observed during a prompt.
type ToolEvent struct {
	Kind       string
	Tool       string
	Payload    string
	DurationMs int64
}
