package bedrock

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

func request(c *canonical.ChatRequest) *providers.Request {
	model := catalog.FindModel("claude-sonnet-4-5")
	var mp *catalog.ProviderMapping
	for i := range model.Providers {
		if model.Providers[i].Provider == "bedrock" {
			mp = &model.Providers[i]
		}
	}
	return &providers.Request{Canonical: c, Model: model, Mapping: mp, RequestID: "req-test"}
}

func TestBuildConverseRequest_NoTopLevelOpenAIFields(t *testing.T) {
	cr, err := BuildConverseRequest(request(&canonical.ChatRequest{
		Model:  "claude-sonnet-4-5",
		Stream: true,
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("hi")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(cr)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	for _, forbidden := range []string{"model", "stream", "tools", "tool_choice"} {
		if _, ok := m[forbidden]; ok {
			t.Errorf("body must not carry top-level %q", forbidden)
		}
	}
}

func TestBuildConverseRequest_SystemAndCachePoints(t *testing.T) {
	cr, err := BuildConverseRequest(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "system", Content: canonical.TextContent(strings.Repeat("s", 6000))},
			{Role: "user", Content: canonical.TextContent(strings.Repeat("u", 5000))},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}

	// The system array holds the text block followed by its cachePoint.
	if len(cr.System) != 2 {
		t.Fatalf("system blocks = %d, want 2 (text + cachePoint)", len(cr.System))
	}
	if cr.System[0].Text == "" || cr.System[1].CachePoint == nil {
		t.Errorf("system = %+v", cr.System)
	}
	if cr.System[1].CachePoint.Type != "default" {
		t.Errorf("cachePoint type = %q", cr.System[1].CachePoint.Type)
	}

	// The user message carries text + cachePoint; 2 markers total.
	if got := CachePointCount(cr); got != 2 {
		t.Errorf("cache points = %d, want 2", got)
	}
	if len(cr.Messages[0].Content) != 2 || cr.Messages[0].Content[1].CachePoint == nil {
		t.Errorf("user content = %+v", cr.Messages[0].Content)
	}
}

func TestBuildConverseRequest_CachePointCap(t *testing.T) {
	long := strings.Repeat("x", 5000)
	msgs := []canonical.Message{
		{Role: "system", Content: canonical.TextContent(long)},
	}
	for i := 0; i < 8; i++ {
		msgs = append(msgs, canonical.Message{Role: "user", Content: canonical.TextContent(long)})
	}
	cr, err := BuildConverseRequest(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5", Messages: msgs,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := CachePointCount(cr); got != 4 {
		t.Errorf("cache points = %d, want 4", got)
	}
}

func TestBuildConverseRequest_ToolsAndResults(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	cr, err := BuildConverseRequest(request(&canonical.ChatRequest{
		Model: "claude-sonnet-4-5",
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("look up x")},
			{Role: "assistant", ToolCalls: []canonical.ToolCall{{
				ID: "tooluse_1", Type: "function",
				Function: canonical.ToolCallFunc{Name: "lookup", Arguments: `{"q":"x"}`},
			}}},
			{Role: "tool", ToolCallID: "tooluse_1", Content: canonical.TextContent("found it")},
		},
		Tools: []canonical.Tool{
			{Type: "function", Function: &canonical.ToolFunc{Name: "lookup", Parameters: schema}},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}

	if cr.ToolConfig == nil || len(cr.ToolConfig.Tools) != 1 {
		t.Fatalf("toolConfig = %+v", cr.ToolConfig)
	}
	spec := cr.ToolConfig.Tools[0].ToolSpec
	if spec.Name != "lookup" || len(spec.InputSchema.JSON) == 0 {
		t.Errorf("toolSpec = %+v", spec)
	}

	// assistant tool call → toolUse block, tool role → user toolResult.
	if cr.Messages[1].Role != "assistant" || cr.Messages[1].Content[0].ToolUse == nil {
		t.Errorf("assistant message = %+v", cr.Messages[1])
	}
	if cr.Messages[2].Role != "user" {
		t.Errorf("tool role mapped to %q, want user", cr.Messages[2].Role)
	}
	tr := cr.Messages[2].Content[0].ToolResult
	if tr == nil || tr.ToolUseID != "tooluse_1" {
		t.Errorf("toolResult = %+v", tr)
	}
}

func TestBuildConverseRequest_InferenceConfig(t *testing.T) {
	temp, topP := 0.7, 0.9
	cr, err := BuildConverseRequest(request(&canonical.ChatRequest{
		Model:       "claude-sonnet-4-5",
		MaxTokens:   512,
		Temperature: &temp,
		TopP:        &topP,
		Messages:    []canonical.Message{{Role: "user", Content: canonical.TextContent("hi")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	cfg := cr.InferenceConfig
	if cfg == nil || cfg.MaxTokens != 512 || *cfg.Temperature != 0.7 || *cfg.TopP != 0.9 {
		t.Errorf("inferenceConfig = %+v", cfg)
	}
}
