package provider

import (
	"context"
	"testing"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	providerfantasy "freightdesk/pkg/provider/fantasy"
	providergemini "freightdesk/pkg/provider/gemini"
	provideropenai "freightdesk/pkg/provider/openai"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.Mistral.APIKey = "ms-test"
	cfg.Providers.Gemini.APIKey = "gm-test"
	return cfg
}

func TestNewDefaultsToOpenAIProvider(t *testing.T) {
	client, err := New(context.Background(), testConfig(), config.AgentConfig{Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, ok := client.(*provideropenai.Client); !ok {
		t.Fatalf("expected *openai.Client, got %T", client)
	}
}

func TestNewReturnsProviderPerName(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	mistral, err := New(ctx, cfg, config.AgentConfig{Provider: "mistral", Model: "pixtral-12b"}, nil)
	if err != nil {
		t.Fatalf("mistral: %v", err)
	}
	if c, ok := mistral.(*provideropenai.Client); !ok || c.Name() != "mistral" {
		t.Fatalf("expected mistral openai client, got %T", mistral)
	}

	gemini, err := New(ctx, cfg, config.AgentConfig{Provider: "gemini", Model: "gemini-2.0-flash"}, nil)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if _, ok := gemini.(*providergemini.Client); !ok {
		t.Fatalf("expected *gemini.Client, got %T", gemini)
	}

	agent, err := New(ctx, cfg, config.AgentConfig{Provider: "fantasy", Model: "gpt-4o-mini"}, nil)
	if err != nil {
		t.Fatalf("fantasy: %v", err)
	}
	if _, ok := agent.(*providerfantasy.Client); !ok {
		t.Fatalf("expected *fantasy.Client, got %T", agent)
	}
}

func TestNewReturnsConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, testConfig(), config.AgentConfig{Provider: "unknown"}, nil)
	if !fault.Is(err, fault.Configuration) {
		t.Fatalf("expected configuration fault for unknown provider, got %v", err)
	}

	_, err = New(ctx, config.DefaultConfig(), config.AgentConfig{Provider: "exa", Model: "exa-research"}, nil)
	if !fault.Is(err, fault.Configuration) {
		t.Fatalf("expected configuration fault for missing key, got %v", err)
	}
}
