package cmd

import (
	"context"
	"errors"
	"fmt"

	"freightdesk/pkg/agent"
	"freightdesk/pkg/dispatch"
	"freightdesk/pkg/knowledge"
	"freightdesk/pkg/procurement"
	"freightdesk/pkg/search"
	fantasytools "freightdesk/pkg/tools/fantasy"
)

// openKnowledge opens the knowledge database inside the workspace.
func (e *environment) openKnowledge(ctx context.Context) (*knowledge.Base, error) {
	path, err := e.staging.Guard().ResolvePath(e.cfg.Knowledge.DBPath)
	if err != nil {
		return nil, fmt.Errorf("resolve knowledge database: %w", err)
	}

	return knowledge.Open(ctx, path, knowledge.Options{
		ChunkSize: e.cfg.Knowledge.ChunkSize,
		Overlap:   e.cfg.Knowledge.Overlap,
		TopK:      e.cfg.Knowledge.TopK,
	}, e.log)
}

// responderAgents are the two roles behind every channel reply.
type responderAgents struct {
	identifier *agent.Agent
	estimator  *agent.Agent
}

func (a responderAgents) responder(e *environment) *dispatch.Responder {
	return dispatch.New(a.identifier, a.estimator, e.log)
}

// Health probes both providers.
func (a responderAgents) Health(ctx context.Context) error {
	return errors.Join(a.identifier.Health(ctx), a.estimator.Health(ctx))
}

// buildResponderAgents builds the identifier and the estimator. The estimator
// gets the knowledge and web search tools when it runs on the fantasy
// provider.
func (e *environment) buildResponderAgents(ctx context.Context, kb *knowledge.Base) (responderAgents, error) {
	var web fantasytools.WebSearcher
	if e.cfg.Search.Enabled {
		web = search.New(e.cfg.Search, nil, e.log)
	}
	var kbSearcher fantasytools.KnowledgeSearcher
	if kb != nil {
		kbSearcher = kb
	}
	tools := fantasytools.BuildResearchTools(kbSearcher, web)

	identifier, err := agent.Build(ctx, e.cfg, agent.RoleIdentifier, nil)
	if err != nil {
		return responderAgents{}, fmt.Errorf("build identifier: %w", err)
	}
	estimator, err := agent.Build(ctx, e.cfg, agent.RoleEstimator, tools)
	if err != nil {
		return responderAgents{}, fmt.Errorf("build estimator: %w", err)
	}

	return responderAgents{identifier: identifier, estimator: estimator}, nil
}

// buildProcurement wires the Exa research agent and the analyst.
func (e *environment) buildProcurement(ctx context.Context) (*procurement.Service, error) {
	research, err := agent.Build(ctx, e.cfg, agent.RoleProcurementResearch, nil)
	if err != nil {
		return nil, fmt.Errorf("build procurement research: %w", err)
	}
	analyst, err := agent.Build(ctx, e.cfg, agent.RoleProcurementAnalyst, nil)
	if err != nil {
		return nil, fmt.Errorf("build procurement analyst: %w", err)
	}

	return procurement.NewService(research, analyst, e.staging, e.cfg.Procurement.OutputCSV, e.log), nil
}

// buildCompliance wires the export expert and the local regulations checker.
func (e *environment) buildCompliance(ctx context.Context, kb *knowledge.Base) (*agent.ComplianceReporter, error) {
	export, err := agent.Build(ctx, e.cfg, agent.RoleComplianceExport, nil)
	if err != nil {
		return nil, fmt.Errorf("build compliance export: %w", err)
	}
	local, err := agent.Build(ctx, e.cfg, agent.RoleComplianceLocal, nil)
	if err != nil {
		return nil, fmt.Errorf("build compliance local: %w", err)
	}

	var searcher agent.KnowledgeSearcher
	if kb != nil {
		searcher = kb
	}
	return agent.NewComplianceReporter(export, local, searcher), nil
}
