package openai_test

import (
	"encoding/json"
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/providers"
	openaiprov "github.com/relaypoint/llm-gateway/internal/providers/openai"
)

func request(modelID string, c *canonical.ChatRequest) *providers.Request {
	model := catalog.FindModel(modelID)
	return &providers.Request{
		Canonical: c,
		Model:     model,
		Mapping:   &model.Providers[0],
		RequestID: "req-test",
	}
}

func marshal(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuildChatParams_StreamOptionsIncludeUsage(t *testing.T) {
	params, _, err := openaiprov.BuildChatParams(request("gpt-4o", &canonical.ChatRequest{
		Model:    "gpt-4o",
		Stream:   true,
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("hi")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	m := marshal(t, params)
	so, ok := m["stream_options"].(map[string]any)
	if !ok || so["include_usage"] != true {
		t.Errorf("stream_options = %v", m["stream_options"])
	}
}

func TestBuildChatParams_GPT5TokenFieldAndTemperature(t *testing.T) {
	temp := 0.2
	params, _, err := openaiprov.BuildChatParams(request("gpt-5", &canonical.ChatRequest{
		Model:       "gpt-5",
		MaxTokens:   1000,
		Temperature: &temp,
		Messages:    []canonical.Message{{Role: "user", Content: canonical.TextContent("hi")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	m := marshal(t, params)
	if _, ok := m["max_tokens"]; ok {
		t.Error("gpt-5 must not send max_tokens")
	}
	if m["max_completion_tokens"] != float64(1000) {
		t.Errorf("max_completion_tokens = %v", m["max_completion_tokens"])
	}
	if m["temperature"] != float64(1) {
		t.Errorf("gpt-5 temperature = %v, want forced 1", m["temperature"])
	}
}

func TestBuildChatParams_NonGPT5KeepsMaxTokens(t *testing.T) {
	params, _, err := openaiprov.BuildChatParams(request("gpt-4o", &canonical.ChatRequest{
		Model:     "gpt-4o",
		MaxTokens: 256,
		Messages:  []canonical.Message{{Role: "user", Content: canonical.TextContent("hi")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	m := marshal(t, params)
	if m["max_tokens"] != float64(256) {
		t.Errorf("max_tokens = %v", m["max_tokens"])
	}
	if _, ok := m["max_completion_tokens"]; ok {
		t.Error("non-gpt-5 models must not send max_completion_tokens")
	}
}

func TestBuildChatParams_SearchModelWebSearchOptions(t *testing.T) {
	params, extra, err := openaiprov.BuildChatParams(request("gpt-4o-search-preview", &canonical.ChatRequest{
		Model: "gpt-4o-search-preview",
		WebSearch: &canonical.WebSearchConfig{
			Enabled:           true,
			UserLocation:      "Berlin",
			SearchContextSize: "high",
		},
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("news?")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	// web_search_options rides as a body extension on search models.
	if len(extra) == 0 {
		t.Fatal("search model must emit web_search_options")
	}
	m := marshal(t, params)
	if _, ok := m["tools"]; ok {
		t.Error("search models must not carry a web_search function tool")
	}
}

func TestBuildChatParams_ToolsAndChoice(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	params, _, err := openaiprov.BuildChatParams(request("gpt-4o", &canonical.ChatRequest{
		Model: "gpt-4o",
		Tools: []canonical.Tool{
			{Type: "function", Function: &canonical.ToolFunc{Name: "weather", Description: "get weather", Parameters: schema}},
			{Type: "web_search"},
		},
		ToolChoice: &canonical.ToolChoice{Function: "weather"},
		Messages:   []canonical.Message{{Role: "user", Content: canonical.TextContent("weather?")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	m := marshal(t, params)
	tools, ok := m["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("tools = %v, want exactly the function tool", m["tools"])
	}
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "weather" {
		t.Errorf("tool name = %v", fn["name"])
	}
	tc, ok := m["tool_choice"].(map[string]any)
	if !ok || tc["type"] != "function" {
		t.Errorf("tool_choice = %v", m["tool_choice"])
	}
}

func TestBuildChatParams_JSONSchemaFormat(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`)
	params, _, err := openaiprov.BuildChatParams(request("gpt-4o", &canonical.ChatRequest{
		Model: "gpt-4o",
		ResponseFormat: &canonical.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &canonical.JSONSchema{Name: "counts", Schema: schema, Strict: true},
		},
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("count")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	m := marshal(t, params)
	rf, ok := m["response_format"].(map[string]any)
	if !ok || rf["type"] != "json_schema" {
		t.Fatalf("response_format = %v", m["response_format"])
	}
	js := rf["json_schema"].(map[string]any)
	if js["name"] != "counts" || js["strict"] != true {
		t.Errorf("json_schema = %v", js)
	}
}

func TestBuildResponsesParams_Shape(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	params := openaiprov.BuildResponsesParams(request("gpt-5", &canonical.ChatRequest{
		Model:     "gpt-5",
		MaxTokens: 2048,
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("call it")},
			{Role: "assistant", ToolCalls: []canonical.ToolCall{{
				ID: "call_1", Type: "function",
				Function: canonical.ToolCallFunc{Name: "lookup", Arguments: `{"q":"x"}`},
			}}, Content: canonical.TextContent("calling")},
			{Role: "tool", ToolCallID: "call_1", Content: canonical.TextContent("result")},
		},
		Tools: []canonical.Tool{
			{Type: "function", Function: &canonical.ToolFunc{Name: "lookup", Parameters: schema}},
		},
	}))

	m := marshal(t, params)
	if _, ok := m["messages"]; ok {
		t.Error("responses API must use input, not messages")
	}
	if m["max_output_tokens"] != float64(2048) {
		t.Errorf("max_output_tokens = %v", m["max_output_tokens"])
	}

	// Default effort is medium and the summary is always detailed.
	reasoning := m["reasoning"].(map[string]any)
	if reasoning["effort"] != "medium" || reasoning["summary"] != "detailed" {
		t.Errorf("reasoning = %v", reasoning)
	}

	// Tools flatten to the top level.
	tools := m["tools"].([]any)
	tool := tools[0].(map[string]any)
	if tool["type"] != "function" || tool["name"] != "lookup" {
		t.Errorf("responses tool = %v", tool)
	}

	// tool role rewrote to user; assistant tool_calls never appear.
	input := m["input"].([]any)
	raw, _ := json.Marshal(input)
	if string(raw) == "" || json.Valid(raw) == false {
		t.Fatal("input not marshalable")
	}
	var roles []string
	for _, item := range input {
		if im, ok := item.(map[string]any); ok {
			if r, ok := im["role"].(string); ok {
				roles = append(roles, r)
			}
			if _, ok := im["tool_calls"]; ok {
				t.Error("tool_calls leaked into responses input")
			}
		}
	}
	for _, r := range roles {
		if r == "tool" {
			t.Error("tool role must be rewritten to user")
		}
	}
}

func TestBuildResponsesParams_GPT5ProHighEffort(t *testing.T) {
	params := openaiprov.BuildResponsesParams(request("gpt-5-pro", &canonical.ChatRequest{
		Model:    "gpt-5-pro",
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("think")}},
	}))
	m := marshal(t, params)
	reasoning := m["reasoning"].(map[string]any)
	if reasoning["effort"] != "high" {
		t.Errorf("gpt-5-pro effort = %v, want high", reasoning["effort"])
	}
}
