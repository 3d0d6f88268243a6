package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type toolEventHandlerKey struct{}

// ToolEventHandler receives the lookups a tool-calling provider makes while
// answering one prompt.
type ToolEventHandler func(event ToolEvent)

// WithToolEventHandler attaches handler to ctx. A nil handler leaves ctx
// unchanged.
func WithToolEventHandler(ctx context.Context, handler ToolEventHandler) context.Context {
	if handler == nil {
		return ctx
	}
	return context.WithValue(ctx, toolEventHandlerKey{}, handler)
}

// EmitToolEvent trims event and hands it to the handler carried by ctx.
func EmitToolEvent(ctx context.Context, event ToolEvent) {
	handler, ok := ctx.Value(toolEventHandlerKey{}).(ToolEventHandler)
	if !ok {
		return
	}

	event.Kind = strings.TrimSpace(event.Kind)
	event.Tool = strings.TrimSpace(event.Tool)
	event.Payload = strings.TrimSpace(event.Payload)
	handler(event)
}

// ToolTrace counts tool calls per tool for one agent call.
type ToolTrace struct {
	mu    sync.Mutex
	calls map[string]int
	time  int64
}

// Observe is a ToolEventHandler. Only "call" events count; "result" events
// add to the total lookup time.
func (t *ToolTrace) Observe(event ToolEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case "call":
		if t.calls == nil {
			t.calls = make(map[string]int)
		}
		t.calls[event.Tool]++
	case "result":
		t.time += event.DurationMs
	}
}

// Calls returns the number of tool calls seen.
func (t *ToolTrace) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, n := range t.calls {
		total += n
	}
	return total
}

// Summary renders "search_knowledge x2, web_search x1" sorted by tool name.
func (t *ToolTrace) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	tools := make([]string, 0, len(t.calls))
	for tool := range t.calls {
		tools = append(tools, tool)
	}
	sort.Strings(tools)

	parts := make([]string, 0, len(tools))
	for _, tool := range tools {
		parts = append(parts, fmt.Sprintf("%s x%d", tool, t.calls[tool]))
	}
	return strings.Join(parts, ", ")
}

// LookupMillis returns the summed duration of tool results.
func (t *ToolTrace) LookupMillis() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.time
}
