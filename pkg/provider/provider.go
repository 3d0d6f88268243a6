// Package provider resolves the model backend behind an agent role.
package provider

import (
	"context"
	"log/slog"
	"strings"

	core "charm.land/fantasy"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	providerfantasy "freightdesk/pkg/provider/fantasy"
	providergemini "freightdesk/pkg/provider/gemini"
	provideropenai "freightdesk/pkg/provider/openai"
	providertypes "freightdesk/pkg/provider/types"
)

type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, req providertypes.Request) (providertypes.PromptResult, error)
}

// New builds the client for one agent role. tools are only offered by the
// fantasy provider; other providers ignore them.
func New(ctx context.Context, cfg *config.Config, agentCfg config.AgentConfig, tools []core.AgentTool) (Client, error) {
	providerID := strings.ToLower(strings.TrimSpace(agentCfg.Provider))
	if providerID == "" {
		providerID = "openai"
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID, "model", agentCfg.Model, "tools", len(tools))

	providerCfg, err := cfg.Provider(providerID)
	if err != nil {
		return nil, err
	}

	var client Client
	switch providerID {
	case "openai", "mistral", "exa":
		client, err = provideropenai.New(providerID, providerCfg, nil)
	case "gemini":
		client, err = providergemini.New(ctx, providerCfg, nil)
	case "fantasy":
		client, err = providerfantasy.New(providerCfg, agentCfg.Model, tools, agentCfg.MaxToolIterations)
	default:
		return nil, fault.Newf(fault.Configuration, "unsupported provider %q", providerID)
	}
	if err != nil {
		return nil, fault.Wrap(fault.Configuration, "provider "+providerID, err)
	}

	return client, nil
}
