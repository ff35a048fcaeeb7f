package anthropic_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	anthropicprov "github.com/relaypoint/llm-gateway/internal/providers/anthropic"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

func request(c *canonical.ChatRequest) *providers.Request {
	model := catalog.FindModel("claude-sonnet-4-5")
	return &providers.Request{
		Canonical: c,
		Model:     model,
		Mapping:   &model.Providers[0],
		RequestID: "req-test",
	}
}

func TestBuildMessageParams_SystemLifting(t *testing.T) {
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "system", Content: canonical.TextContent("be terse")},
			{Role: "user", Content: canonical.TextContent("hi")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(params.System) != 1 || params.System[0].Text != "be terse" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1 (system lifted out)", len(params.Messages))
	}
}

// A 6000-char system message and a 5000-char user message yield exactly two
// cache markers with the default 1024-token (4096-char) threshold.
func TestBuildMessageParams_CacheControlLongBlocks(t *testing.T) {
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "system", Content: canonical.TextContent(strings.Repeat("s", 6000))},
			{Role: "user", Content: canonical.TextContent(strings.Repeat("u", 5000))},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := anthropicprov.CacheMarkerCount(&params); got != 2 {
		t.Fatalf("cache markers = %d, want 2", got)
	}
	if params.System[0].CacheControl.Type == "" {
		t.Error("system block must carry cache_control")
	}
	if params.Messages[0].Content[0].OfText.CacheControl.Type == "" {
		t.Error("user text block must carry cache_control")
	}
}

// No request ever carries more than 4 markers, however many long blocks it has.
func TestBuildMessageParams_CacheControlCap(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msgs := []canonical.Message{
		{Role: "system", Content: canonical.TextContent(long)},
		{Role: "system", Content: canonical.TextContent(long)},
	}
	for i := 0; i < 6; i++ {
		msgs = append(msgs, canonical.Message{Role: "user", Content: canonical.TextContent(long)})
		msgs = append(msgs, canonical.Message{Role: "assistant", Content: canonical.TextContent(long)})
	}
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model:    "claude-sonnet-4-5",
		Messages: msgs,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := anthropicprov.CacheMarkerCount(&params); got != 4 {
		t.Errorf("cache markers = %d, want 4", got)
	}
}

func TestBuildMessageParams_ShortBlocksNotCached(t *testing.T) {
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "system", Content: canonical.TextContent("short")},
			{Role: "user", Content: canonical.TextContent("also short")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := anthropicprov.CacheMarkerCount(&params); got != 0 {
		t.Errorf("cache markers = %d, want 0", got)
	}
}

func TestBuildMessageParams_Thinking(t *testing.T) {
	tests := []struct {
		effort string
		budget int64
	}{
		{"low", 1024},
		{"medium", 2000},
		{"high", 4000},
	}
	for _, tt := range tests {
		params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
			Model:           "claude-sonnet-4-5",
			ReasoningEffort: tt.effort,
			Messages: []canonical.Message{
				{Role: "user", Content: canonical.TextContent("think hard")},
			},
		}))
		if err != nil {
			t.Fatal(err)
		}
		enabled := params.Thinking.OfEnabled
		if enabled == nil {
			t.Fatalf("%s: thinking not enabled", tt.effort)
		}
		if enabled.BudgetTokens != tt.budget {
			t.Errorf("%s: budget = %d, want %d", tt.effort, enabled.BudgetTokens, tt.budget)
		}
		if params.MaxTokens < tt.budget+1000 {
			t.Errorf("%s: max_tokens = %d, must be ≥ budget+1000", tt.effort, params.MaxTokens)
		}
	}
}

func TestBuildMessageParams_Tools(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("search")},
		},
		Tools: []canonical.Tool{
			{Type: "function", Function: &canonical.ToolFunc{Name: "lookup", Description: "find things", Parameters: schema}},
			{Type: "web_search"},
		},
		ToolChoice: &canonical.ToolChoice{Function: "lookup"},
	}))
	if err != nil {
		t.Fatal(err)
	}

	// One function tool plus the provider-specific web search tool; the
	// web_search tool never appears as a plain function tool.
	if len(params.Tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(params.Tools))
	}
	if params.Tools[0].OfTool == nil || params.Tools[0].OfTool.Name != "lookup" {
		t.Errorf("first tool = %+v", params.Tools[0])
	}
	if params.Tools[1].OfWebSearchTool20250305 == nil {
		t.Error("web_search must become the web_search_20250305 tool")
	}

	if params.ToolChoice.OfTool == nil || params.ToolChoice.OfTool.Name != "lookup" {
		t.Errorf("tool_choice = %+v", params.ToolChoice)
	}
}

func TestBuildMessageParams_ToolRoleBecomesUser(t *testing.T) {
	params, err := anthropicprov.BuildMessageParams(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("call it")},
			{Role: "assistant", ToolCalls: []canonical.ToolCall{{
				ID: "toolu_1", Type: "function",
				Function: canonical.ToolCallFunc{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: "tool", ToolCallID: "toolu_1", Content: canonical.TextContent("result")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(params.Messages))
	}
	if params.Messages[1].Role != "assistant" {
		t.Errorf("assistant role = %q", params.Messages[1].Role)
	}
	if params.Messages[1].Content[0].OfToolUse == nil {
		t.Error("assistant tool call must become a tool_use block")
	}
	if params.Messages[2].Role != "user" {
		t.Errorf("tool role mapped to %q, want user", params.Messages[2].Role)
	}
	if params.Messages[2].Content[0].OfToolResult == nil {
		t.Error("tool message must become a tool_result block")
	}
}

func TestBuildMessageParams_SystemRoleRewrite(t *testing.T) {
	model := catalog.FindModel("cogview-4") // supportsSystemRole = false
	req := &providers.Request{
		Canonical: &canonical.ChatRequest{
			Model: "cogview-4",
			Messages: []canonical.Message{
				{Role: "system", Content: canonical.TextContent("style hints")},
				{Role: "user", Content: canonical.TextContent("a fox")},
			},
		},
		Model:   model,
		Mapping: &model.Providers[0],
	}
	params, err := anthropicprov.BuildMessageParams(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(params.System) != 0 {
		t.Error("model without system support must not produce a system array")
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	for _, m := range params.Messages {
		if m.Role != "user" {
			t.Errorf("role = %q, want user", m.Role)
		}
	}
}
