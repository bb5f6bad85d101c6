package mcpserver

import (
	"context"
	"encoding/json"
	"slices"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"OpenMCP-Goals/internal/goal"
	"OpenMCP-Goals/internal/goalagent"
	"OpenMCP-Goals/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	ag, err := goalagent.New(context.Background(), goal.NewMemoryStore(), nil, goalagent.WithWorkers(2))
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	t.Cleanup(func() { _ = ag.Close(context.Background()) })
	return tools.NewRegistry(ag)
}

func callTool(t *testing.T, registry *tools.Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := Handler(registry, name)(context.Background(), req)
	if err != nil {
		t.Fatalf("%s returned protocol error: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("%s: expected one content item, got %d", name, len(res.Content))
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	content, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return content.Text
}

func TestDefinitionMapsParams(t *testing.T) {
	registry := newTestRegistry(t)
	tool, ok := registry.Lookup("create_goal")
	if !ok {
		t.Fatalf("create_goal not registered")
	}

	def := Definition(tool)
	if def.Name != "create_goal" || def.Description == "" {
		t.Fatalf("unexpected definition %+v", def)
	}
	if !slices.Equal(def.InputSchema.Required, []string{"description"}) {
		t.Fatalf("unexpected required list %v", def.InputSchema.Required)
	}
	repos, _ := def.InputSchema.Properties["repos"].(map[string]any)
	if repos["type"] != "array" {
		t.Fatalf("repos should be an array: %v", repos)
	}
	priority, _ := def.InputSchema.Properties["priority"].(map[string]any)
	if enum, _ := priority["enum"].([]string); len(enum) != 3 {
		t.Fatalf("priority should carry its enum: %v", priority)
	}
}

func TestHandlerReturnsJSONText(t *testing.T) {
	registry := newTestRegistry(t)

	res := callTool(t, registry, "create_goal", map[string]any{"description": "Ship v2", "repos": []any{"api"}})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text(t, res))
	}
	var created goal.Goal
	if err := json.Unmarshal([]byte(text(t, res)), &created); err != nil {
		t.Fatalf("decode goal: %v", err)
	}
	if created.ID != "GOAL-0001" || len(created.Repos) != 1 {
		t.Fatalf("unexpected goal %+v", created)
	}

	res = callTool(t, registry, "get_goal", map[string]any{"goal_id": "GOAL-0404"})
	if !res.IsError {
		t.Fatalf("expected error result for missing goal")
	}
	var failure tools.ErrorResponse
	if err := json.Unmarshal([]byte(text(t, res)), &failure); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if failure.Type != "NotFoundError" || failure.Error != "Goal GOAL-0404 not found" {
		t.Fatalf("unexpected error body %+v", failure)
	}
}

func TestNewRegistersEveryTool(t *testing.T) {
	registry := newTestRegistry(t)
	s := New(registry)
	if s == nil {
		t.Fatalf("expected server")
	}
	for _, tool := range registry.Tools() {
		if def := Definition(tool); def.Name != tool.Name {
			t.Fatalf("definition name mismatch: %s vs %s", def.Name, tool.Name)
		}
	}
}
