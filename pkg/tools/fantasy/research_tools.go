package fantasy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	core "charm.land/fantasy"

	"freightdesk/pkg/knowledge"
	providertypes "freightdesk/pkg/provider/types"
	"freightdesk/pkg/search"
)

// KnowledgeSearcher is the knowledge base lookup used by search_knowledge.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Result, error)
}

// WebSearcher is the web lookup used by web_search.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

type searchKnowledgeInput struct {
	Query string `json:"query" description:"Keywords describing the product, route, carrier or regulation to look up."`
	Limit int    `json:"limit,omitempty" description:"Maximum number of passages to return. Defaults to the configured top-k."`
}

type webSearchInput struct {
	Query string `json:"query" description:"Web search query, e.g. current carrier surcharges or port delays."`
	Limit int    `json:"limit,omitempty" description:"Maximum number of results to return."`
}

// BuildResearchTools constructs the lookup tools offered to the estimator.
// A nil backend leaves its tool out.
func BuildResearchTools(kb KnowledgeSearcher, web WebSearcher) []core.AgentTool {
	tools := make([]core.AgentTool, 0, 2)

	if kb != nil {
		tools = append(tools, core.NewAgentTool("search_knowledge", "Search the local freight rate guides and regulation notes.", func(ctx context.Context, input searchKnowledgeInput, _ core.ToolCall) (core.ToolResponse, error) {
			start := time.Now()
			providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: "call", Tool: "search_knowledge", Payload: toolEventPayload(input)})
			if strings.TrimSpace(input.Query) == "" {
				return finishWithError(ctx, "search_knowledge", input.Query, start, fmt.Errorf("query is required")), nil
			}

			results, err := kb.Search(ctx, input.Query, input.Limit)
			if err != nil {
				return finishWithError(ctx, "search_knowledge", input.Query, start, err), nil
			}

			elapsed := time.Since(start)
			logToolResult("search_knowledge", input.Query, true, elapsed, len(results))
			summary := fmt.Sprintf("ok: %d passage(s)", len(results))
			providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: "result", Tool: "search_knowledge", Payload: summary, DurationMs: elapsed.Milliseconds()})
			if len(results) == 0 {
				return core.NewTextResponse("No matching passages in the knowledge base."), nil
			}
			return core.NewTextResponse(knowledge.BuildContext(results)), nil
		}))
	}

	if web != nil {
		tools = append(tools, core.NewAgentTool("web_search", "Search the web for current freight news, surcharges and delays.", func(ctx context.Context, input webSearchInput, _ core.ToolCall) (core.ToolResponse, error) {
			start := time.Now()
			providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: "call", Tool: "web_search", Payload: toolEventPayload(input)})
			if strings.TrimSpace(input.Query) == "" {
				return finishWithError(ctx, "web_search", input.Query, start, fmt.Errorf("query is required")), nil
			}

			results, err := web.Search(ctx, input.Query, input.Limit)
			if err != nil {
				return finishWithError(ctx, "web_search", input.Query, start, err), nil
			}

			elapsed := time.Since(start)
			logToolResult("web_search", input.Query, true, elapsed, len(results))
			providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: "result", Tool: "web_search", Payload: fmt.Sprintf("ok: %d result(s)", len(results)), DurationMs: elapsed.Milliseconds()})
			return core.NewTextResponse(search.Format(results)), nil
		}))
	}

	return tools
}

func finishWithError(ctx context.Context, tool string, query string, start time.Time, err error) core.ToolResponse {
	elapsed := time.Since(start)
	logToolResult(tool, query, false, elapsed, 0)
	providertypes.EmitToolEvent(ctx, providertypes.ToolEvent{Kind: "result", Tool: tool, Payload: err.Error(), DurationMs: elapsed.Milliseconds()})
	return core.NewTextErrorResponse(tool + ": " + err.Error())
}

func logToolResult(toolName string, query string, success bool, duration time.Duration, results int) {
	slog.Default().Debug("Fantasy tool execution",
		"component", "provider.fantasy",
		"tool", toolName,
		"query", strings.TrimSpace(query),
		"success", success,
		"results", results,
		"duration_ms", duration.Milliseconds(),
	)
}

func toolEventPayload(input any) string {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}

	return string(payload)
}
