package google_test

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/providers"
	googleprov "github.com/relaypoint/llm-gateway/internal/providers/google"
)

func request(c *canonical.ChatRequest) *providers.Request {
	model := catalog.FindModel("gemini-2.5-pro")
	return &providers.Request{
		Canonical: c,
		Model:     model,
		Mapping:   &model.Providers[0],
		RequestID: "req-test",
	}
}

func TestCleanSchema_StripsVendorRejectedKeys(t *testing.T) {
	in := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"nested": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           map[string]any{"x": map[string]any{"type": "string"}},
			},
		},
	}
	out := googleprov.CleanSchema(in)
	if _, ok := out["$schema"]; ok {
		t.Error("$schema not stripped")
	}
	if _, ok := out["additionalProperties"]; ok {
		t.Error("additionalProperties not stripped at top level")
	}
	nested := out["properties"].(map[string]any)["nested"].(map[string]any)
	if _, ok := nested["additionalProperties"]; ok {
		t.Error("additionalProperties not stripped recursively")
	}
}

// json_schema response_format translates to an uppercase-typed responseSchema
// with no additionalProperties.
func TestBuildGenerateParams_ResponseSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"additionalProperties": false,
		"properties": {"n": {"type": "integer"}},
		"required": ["n"]
	}`)
	_, cfg, err := googleprov.BuildGenerateParams(request(&canonical.ChatRequest{
		Model:    "gemini-2.5-pro",
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("count")}},
		ResponseFormat: &canonical.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &canonical.JSONSchema{Name: "x", Schema: schema},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ResponseMIMEType != "application/json" {
		t.Errorf("responseMimeType = %q", cfg.ResponseMIMEType)
	}
	rs := cfg.ResponseSchema
	if rs == nil {
		t.Fatal("responseSchema missing")
	}
	if rs.Type != genai.TypeObject {
		t.Errorf("type = %q, want OBJECT", rs.Type)
	}
	if rs.Properties["n"] == nil || rs.Properties["n"].Type != genai.TypeInteger {
		t.Errorf("properties.n = %+v, want INTEGER", rs.Properties["n"])
	}
	if len(rs.Required) != 1 || rs.Required[0] != "n" {
		t.Errorf("required = %v", rs.Required)
	}
}

func TestBuildGenerateParams_RolesAndSystem(t *testing.T) {
	contents, cfg, err := googleprov.BuildGenerateParams(request(&canonical.ChatRequest{
		Model: "gemini-2.5-pro",
		Messages: []canonical.Message{
			{Role: "system", Content: canonical.TextContent("be brief")},
			{Role: "user", Content: canonical.TextContent("hi")},
			{Role: "assistant", Content: canonical.TextContent("hello")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SystemInstruction == nil {
		t.Fatal("system instruction missing")
	}
	if len(contents) != 2 {
		t.Fatalf("contents = %d, want 2", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("roles = %q, %q", contents[0].Role, contents[1].Role)
	}
}

func TestBuildGenerateParams_ThinkingBudgets(t *testing.T) {
	tests := []struct {
		effort string
		budget int32
	}{
		{"minimal", 512},
		{"low", 2048},
		{"medium", 8192},
		{"high", 24576},
	}
	for _, tt := range tests {
		_, cfg, err := googleprov.BuildGenerateParams(request(&canonical.ChatRequest{
			Model:           "gemini-2.5-pro",
			ReasoningEffort: tt.effort,
			Messages:        []canonical.Message{{Role: "user", Content: canonical.TextContent("q")}},
		}))
		if err != nil {
			t.Fatal(err)
		}
		tc := cfg.ThinkingConfig
		if tc == nil || !tc.IncludeThoughts {
			t.Fatalf("%s: thinkingConfig = %+v", tt.effort, tc)
		}
		if tc.ThinkingBudget == nil || *tc.ThinkingBudget != tt.budget {
			t.Errorf("%s: budget = %v, want %d", tt.effort, tc.ThinkingBudget, tt.budget)
		}
	}
}

func TestBuildGenerateParams_WebSearchTool(t *testing.T) {
	_, cfg, err := googleprov.BuildGenerateParams(request(&canonical.ChatRequest{
		Model:     "gemini-2.5-pro",
		WebSearch: &canonical.WebSearchConfig{Enabled: true},
		Messages:  []canonical.Message{{Role: "user", Content: canonical.TextContent("news")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, tool := range cfg.Tools {
		if tool.GoogleSearch != nil {
			found = true
		}
		for _, d := range tool.FunctionDeclarations {
			if d.Name == "web_search" {
				t.Error("web_search leaked into functionDeclarations")
			}
		}
	}
	if !found {
		t.Error("google_search tool missing")
	}
}

func TestBuildGenerateParams_SafetyAllBlockNone(t *testing.T) {
	_, cfg, err := googleprov.BuildGenerateParams(request(&canonical.ChatRequest{
		Model:    "gemini-2.5-pro",
		Messages: []canonical.Message{{Role: "user", Content: canonical.TextContent("hi")}},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.SafetySettings) != 4 {
		t.Fatalf("safety settings = %d, want 4", len(cfg.SafetySettings))
	}
	for _, s := range cfg.SafetySettings {
		if s.Threshold != genai.HarmBlockThresholdBlockNone {
			t.Errorf("category %s threshold = %q, want BLOCK_NONE", s.Category, s.Threshold)
		}
	}
}

func TestBuildGenerateParams_ImageConfig(t *testing.T) {
	model := catalog.FindModel("gemini-2.5-flash-image")
	req := &providers.Request{
		Canonical: &canonical.ChatRequest{
			Model:       "gemini-2.5-flash-image",
			ImageConfig: &canonical.ImageConfig{AspectRatio: "16:9", ImageSize: "2K"},
			Messages:    []canonical.Message{{Role: "user", Content: canonical.TextContent("a fox")}},
		},
		Model:   model,
		Mapping: &model.Providers[0],
	}
	_, cfg, err := googleprov.BuildGenerateParams(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.ResponseModalities) != 2 || cfg.ResponseModalities[1] != "IMAGE" {
		t.Errorf("responseModalities = %v", cfg.ResponseModalities)
	}
	if cfg.ImageConfig == nil || cfg.ImageConfig.AspectRatio != "16:9" || cfg.ImageConfig.ImageSize != "2K" {
		t.Errorf("imageConfig = %+v", cfg.ImageConfig)
	}
}
