package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
)

func TestContent_ScalarRoundTrip(t *testing.T) {
	var m canonical.Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi there"}`), &m); err != nil {
		t.Fatal(err)
	}
	if !m.Content.IsScalar() || m.Content.Text() != "hi there" {
		t.Errorf("content = %+v", m.Content)
	}

	out, err := json.Marshal(m.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"hi there"` {
		t.Errorf("re-marshalled scalar = %s", out)
	}
}

func TestContent_PartsRoundTrip(t *testing.T) {
	raw := `[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`
	var c canonical.Content
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatal(err)
	}
	if c.IsScalar() || len(c.Parts) != 2 {
		t.Fatalf("content = %+v", c)
	}
	out, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var back []canonical.Part
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("re-marshalled parts not an array: %s", out)
	}
}

func TestUsage_Finalize(t *testing.T) {
	u := &canonical.Usage{PromptTokens: 7, CompletionTokens: 5}
	u.Finalize()
	if u.TotalTokens != 12 {
		t.Errorf("total = %d", u.TotalTokens)
	}

	// An explicit total is preserved.
	u2 := &canonical.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 99}
	u2.Finalize()
	if u2.TotalTokens != 99 {
		t.Errorf("total = %d, want preserved 99", u2.TotalTokens)
	}
}

func TestFinishChunk_CarriesUsage(t *testing.T) {
	c := canonical.FinishChunk("id", "m", canonical.FinishStop, &canonical.Usage{
		PromptTokens: 3, CompletionTokens: 4,
	})
	if c.Usage == nil || c.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", c.Usage)
	}
	if c.Choices[0].FinishReason == nil || *c.Choices[0].FinishReason != "stop" {
		t.Errorf("finish = %+v", c.Choices[0].FinishReason)
	}
}

func TestChunk_SSEShape(t *testing.T) {
	c := canonical.TextChunk("chatcmpl-1", "gpt-4o", "hi")
	var m map[string]any
	if err := json.Unmarshal(c.MarshalSSE(), &m); err != nil {
		t.Fatal(err)
	}
	if m["object"] != "chat.completion.chunk" {
		t.Errorf("object = %v", m["object"])
	}
	choices := m["choices"].([]any)
	delta := choices[0].(map[string]any)["delta"].(map[string]any)
	if delta["content"] != "hi" {
		t.Errorf("delta = %v", delta)
	}
	// Non-terminal chunks render finish_reason as null, not omit it.
	if _, ok := choices[0].(map[string]any)["finish_reason"]; !ok {
		t.Error("finish_reason key missing from chunk choice")
	}
}

func TestFunctionToolsAndSearchTool(t *testing.T) {
	req := canonical.ChatRequest{
		Tools: []canonical.Tool{
			{Type: "web_search"},
			{Type: "function", Function: &canonical.ToolFunc{Name: "a"}},
			{Type: "function", Function: &canonical.ToolFunc{Name: "b"}},
		},
	}
	fns := req.FunctionTools()
	if len(fns) != 2 || fns[0].Function.Name != "a" || fns[1].Function.Name != "b" {
		t.Errorf("function tools = %+v", fns)
	}
	if req.SearchTool() == nil {
		t.Error("search tool not found")
	}
	if !req.WantsWebSearch() {
		t.Error("web_search tool must imply WantsWebSearch")
	}
}

func TestLastUserText(t *testing.T) {
	req := canonical.ChatRequest{
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("first")},
			{Role: "assistant", Content: canonical.TextContent("reply")},
			{Role: "user", Content: canonical.PartsContent(
				canonical.Part{Type: "text", Text: "second "},
				canonical.Part{Type: "text", Text: "half"},
			)},
		},
	}
	if got := req.LastUserText(); got != "second half" {
		t.Errorf("last user text = %q", got)
	}
}
