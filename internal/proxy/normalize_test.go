package proxy

import (
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
)

func TestParseChatRequest_Minimal(t *testing.T) {
	req, err := ParseChatRequest([]byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"Hello"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.Model != "gpt-4o" || len(req.Messages) != 1 {
		t.Errorf("req = %+v", req)
	}
	if req.Messages[0].Content.Text() != "Hello" {
		t.Errorf("content = %q", req.Messages[0].Content.Text())
	}
}

func TestParseChatRequest_PartsContent(t *testing.T) {
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":[
		{"type":"text","text":"what is this "},
		{"type":"image_url","image_url":{"url":"https://example.com/x.png"}}
	]}]}`
	req, err := ParseChatRequest([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	parts := req.Messages[0].Content.Parts
	if len(parts) != 2 || parts[1].Type != "image_url" || parts[1].ImageURL.URL == "" {
		t.Errorf("parts = %+v", parts)
	}
	if !req.HasImageInput() {
		t.Error("image input not detected")
	}
}

func TestParseChatRequest_Validation(t *testing.T) {
	bad := []string{
		`not json`,
		`{"messages":[{"role":"user","content":"x"}]}`,                        // no model
		`{"model":"m","messages":[]}`,                                         // empty messages
		`{"model":"m","messages":[{"role":"alien","content":"x"}]}`,           // bad role
		`{"model":"m","messages":[{"role":"tool","content":"x"}]}`,            // tool without id
		`{"model":"m","messages":[{"role":"user","content":"x"}],"reasoning_effort":"max"}`,
		`{"model":"m","messages":[{"role":"user","content":"x"}],"tools":[{"type":"function"}]}`,
		`{"model":"m","messages":[{"role":"user","content":"x"}],"response_format":{"type":"json_schema"}}`,
	}
	for _, body := range bad {
		if _, err := ParseChatRequest([]byte(body)); err == nil {
			t.Errorf("expected error for %s", body)
		}
	}
}

func TestParseChatRequest_Clamping(t *testing.T) {
	body := `{"model":"m","messages":[{"role":"user","content":"x"}],
		"temperature": 9.5, "top_p": -3, "frequency_penalty": 7, "presence_penalty": -7, "max_tokens": -1}`
	req, err := ParseChatRequest([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if *req.Temperature != 2 {
		t.Errorf("temperature = %v, want clamped to 2", *req.Temperature)
	}
	if *req.TopP != 0 {
		t.Errorf("top_p = %v, want clamped to 0", *req.TopP)
	}
	if *req.FrequencyPenalty != 2 || *req.PresencePenalty != -2 {
		t.Errorf("penalties = %v / %v", *req.FrequencyPenalty, *req.PresencePenalty)
	}
	if req.MaxTokens != 0 {
		t.Errorf("max_tokens = %d, want 0", req.MaxTokens)
	}
}

func TestParseChatRequest_WebSearchForms(t *testing.T) {
	req, err := ParseChatRequest([]byte(
		`{"model":"m","messages":[{"role":"user","content":"x"}],"web_search":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.WebSearch == nil || !req.WebSearch.Enabled {
		t.Error("bool web_search not parsed")
	}

	req, err = ParseChatRequest([]byte(
		`{"model":"m","messages":[{"role":"user","content":"x"}],
		"web_search":{"user_location":"Berlin","search_context_size":"high","max_uses":3}}`))
	if err != nil {
		t.Fatal(err)
	}
	ws := req.WebSearch
	if ws == nil || ws.UserLocation != "Berlin" || ws.SearchContextSize != "high" || ws.MaxUses != 3 {
		t.Errorf("web_search = %+v", ws)
	}
}

func TestParseChatRequest_ToolChoiceForms(t *testing.T) {
	req, err := ParseChatRequest([]byte(
		`{"model":"m","messages":[{"role":"user","content":"x"}],"tool_choice":"auto"}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.ToolChoice.Mode != "auto" {
		t.Errorf("tool_choice = %+v", req.ToolChoice)
	}

	req, err = ParseChatRequest([]byte(
		`{"model":"m","messages":[{"role":"user","content":"x"}],
		"tool_choice":{"type":"function","function":{"name":"lookup"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if req.ToolChoice.Function != "lookup" {
		t.Errorf("tool_choice = %+v", req.ToolChoice)
	}
}

func TestParseFlagsAndBearer(t *testing.T) {
	ctx := newRequestCtx("POST", "/v1/chat/completions", nil, map[string]string{
		"x-no-fallback":  "true",
		"x-github-token": "ghp_x",
		"Authorization":  "Bearer sk-abc",
	})
	flags := parseFlags(ctx, false)
	if !flags.NoFallback || flags.GitHubToken != "ghp_x" {
		t.Errorf("flags = %+v", flags)
	}
	if got := bearerToken(ctx); got != "sk-abc" {
		t.Errorf("bearer = %q", got)
	}

	// Env-forced no-fallback wins regardless of the header.
	ctx2 := newRequestCtx("POST", "/", nil, nil)
	if !parseFlags(ctx2, true).NoFallback {
		t.Error("env no-fallback not honored")
	}
}

func TestRequiredCapabilities(t *testing.T) {
	req := &canonical.ChatRequest{
		Stream: true,
		Tools: []canonical.Tool{
			{Type: "function", Function: &canonical.ToolFunc{Name: "f"}},
			{Type: "web_search"},
		},
		ResponseFormat: &canonical.ResponseFormat{Type: "json_object"},
	}
	caps := requiredCapabilities(req)
	want := map[string]bool{"streaming": true, "tools": true, "web_search": true, "json_output": true}
	if len(caps) != len(want) {
		t.Fatalf("caps = %v", caps)
	}
	for _, c := range caps {
		if !want[string(c)] {
			t.Errorf("unexpected capability %s", c)
		}
	}
}
