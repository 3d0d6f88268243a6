// Package agent binds prompt templates to provider clients. Each Agent plays
// one role: product identifier, freight estimator, compliance reporter,
// procurement researcher or analyst.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"

	agentprofile "freightdesk/pkg/agent/profile"
	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/provider"
	providertypes "freightdesk/pkg/provider/types"
)

// Role names.
const (
	RoleIdentifier          = "identifier"
	RoleEstimator           = "estimator"
	RoleComplianceExport    = "compliance_export"
	RoleComplianceLocal     = "compliance_local"
	RoleProcurementResearch = "procurement_research"
	RoleProcurementAnalyst  = "procurement_analyst"
)

type Agent struct {
	role        string
	client      provider.Client
	model       string
	system      string
	maxTokens   int
	temperature float64
	log         *slog.Logger
}

// New binds a provider client to a role. system may be empty.
func New(role string, client provider.Client, cfg config.AgentConfig, system string) *Agent {
	return &Agent{
		role:        role,
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		system:      strings.TrimSpace(system),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         slog.Default().With("component", "agent", "role", role),
	}
}

// Build resolves the provider, model and system prompt of a role from config.
// tools are offered only when the role runs on the fantasy provider.
func Build(ctx context.Context, cfg *config.Config, role string, tools []core.AgentTool) (*Agent, error) {
	agentCfg, template, err := roleSettings(cfg, role)
	if err != nil {
		return nil, err
	}
	if role == RoleIdentifier && strings.EqualFold(strings.TrimSpace(agentCfg.Provider), "fantasy") {
		return nil, fault.New(fault.Configuration, "identifier reads images and cannot run on the fantasy provider")
	}

	system := ""
	if template != "" {
		if system, err = agentprofile.Load(template); err != nil {
			return nil, fault.Wrap(fault.Configuration, "agent "+role, err)
		}
	}

	client, err := provider.New(ctx, cfg, agentCfg, tools)
	if err != nil {
		return nil, err
	}

	return New(role, client, agentCfg, system), nil
}

func roleSettings(cfg *config.Config, role string) (config.AgentConfig, string, error) {
	switch role {
	case RoleIdentifier:
		return cfg.Agents.Identifier, agentprofile.Identifier, nil
	case RoleEstimator:
		return cfg.Agents.Estimator, agentprofile.Estimator, nil
	case RoleComplianceExport:
		return cfg.Agents.Compliance, agentprofile.ComplianceExport, nil
	case RoleComplianceLocal:
		return cfg.Agents.Compliance, agentprofile.ComplianceLocal, nil
	case RoleProcurementAnalyst:
		return cfg.Agents.Procurement, agentprofile.ProcurementAnalyst, nil
	case RoleProcurementResearch:
		// The research prompt is rendered per request and sent as the user turn.
		return config.AgentConfig{Provider: "exa", Model: cfg.Procurement.ResearchModel}, "", nil
	default:
		return config.AgentConfig{}, "", fault.Newf(fault.Configuration, "unknown agent role %q", role)
	}
}

// Role returns the role name.
func (a *Agent) Role() string {
	return a.role
}

// Health checks the backing provider.
func (a *Agent) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

// Run sends one prompt, with optional images, under the role's system prompt.
// Failures are agent_invocation faults.
func (a *Agent) Run(ctx context.Context, prompt string, images ...providertypes.Image) (providertypes.PromptResult, error) {
	start := time.Now()
	trace := &providertypes.ToolTrace{}
	ctx = providertypes.WithToolEventHandler(ctx, trace.Observe)
	result, err := a.client.Complete(ctx, providertypes.Request{
		Model:       a.model,
		System:      a.system,
		Prompt:      strings.TrimSpace(prompt),
		Images:      images,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		a.log.Warn("Agent call failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return providertypes.PromptResult{}, fault.Wrap(fault.AgentInvocation, a.role, err)
	}

	result.Metadata.Agent = a.role
	attrs := []any{"duration_ms", time.Since(start).Milliseconds(), "response_length", len(result.Text), "model", result.Metadata.Model}
	if usage := result.Metadata.Usage; usage != nil {
		attrs = append(attrs, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	}
	if trace.Calls() > 0 {
		attrs = append(attrs, "lookups", trace.Summary(), "lookup_ms", trace.LookupMillis())
	}
	a.log.Info("Agent call completed", attrs...)

	return result, nil
}
