// Package canonical defines the provider-agnostic request and response types
// used throughout the gateway.
//
// The inbound surface is the OpenAI chat-completions wire format; every
// provider translator consumes a ChatRequest and produces a Completion (or a
// stream of Chunks). Translation is pure: given the same registry and request,
// the outgoing provider body is always identical.
package canonical

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Roles accepted on inbound messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Reasoning effort levels.
const (
	EffortMinimal = "minimal"
	EffortLow     = "low"
	EffortMedium  = "medium"
	EffortHigh    = "high"
)

type (
	// ChatRequest is the normalized inbound request.
	ChatRequest struct {
		Model            string           `json:"model"`
		Messages         []Message        `json:"messages"`
		Tools            []Tool           `json:"tools,omitempty"`
		ToolChoice       *ToolChoice      `json:"tool_choice,omitempty"`
		ResponseFormat   *ResponseFormat  `json:"response_format,omitempty"`
		Temperature      *float64         `json:"temperature,omitempty"`
		TopP             *float64         `json:"top_p,omitempty"`
		MaxTokens        int              `json:"max_tokens,omitempty"`
		FrequencyPenalty *float64         `json:"frequency_penalty,omitempty"`
		PresencePenalty  *float64         `json:"presence_penalty,omitempty"`
		Stream           bool             `json:"stream,omitempty"`
		ReasoningEffort  string           `json:"reasoning_effort,omitempty"`
		WebSearch        *WebSearchConfig `json:"web_search,omitempty"`
		ImageConfig      *ImageConfig     `json:"image_config,omitempty"`
	}

	// Message is a single conversation turn. Content is either a bare string
	// or an ordered list of parts on the wire; both normalize to Parts.
	Message struct {
		Role       string     `json:"role"`
		Content    Content    `json:"content"`
		Name       string     `json:"name,omitempty"`
		ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
		ToolCallID string     `json:"tool_call_id,omitempty"`
	}

	// Content holds the normalized message content.
	Content struct {
		// Parts is the ordered content. A scalar string becomes one text part.
		Parts []Part
		// scalar records whether the wire form was a bare string, so
		// re-marshalling round-trips for providers that reject part arrays.
		scalar bool
	}

	// Part is one content element.
	Part struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *ImageURL `json:"image_url,omitempty"`
	}

	// ImageURL carries an image reference (https URL or data: base64).
	ImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}

	// Tool is a callable tool definition. Type is "function" or "web_search";
	// web_search tools never reach the generic tools field of any provider.
	Tool struct {
		Type     string       `json:"type"`
		Function *ToolFunc    `json:"function,omitempty"`
		Search   *SearchBound `json:"web_search,omitempty"`
	}

	// ToolFunc describes a function tool.
	ToolFunc struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
		Strict      *bool           `json:"strict,omitempty"`
	}

	// SearchBound limits a web_search tool.
	SearchBound struct {
		MaxUses int `json:"max_uses,omitempty"`
	}

	// ToolChoice is "auto" | "none" | "required" or a pinned function.
	ToolChoice struct {
		Mode     string // set for the scalar forms
		Function string // set for {"type":"function","function":{"name":...}}
	}

	// ResponseFormat selects structured output.
	ResponseFormat struct {
		Type       string      `json:"type"` // "text" | "json_object" | "json_schema"
		JSONSchema *JSONSchema `json:"json_schema,omitempty"`
	}

	// JSONSchema names a strict output schema.
	JSONSchema struct {
		Name   string          `json:"name"`
		Schema json.RawMessage `json:"schema"`
		Strict bool            `json:"strict,omitempty"`
	}

	// WebSearchConfig is the request-level web_search field: a bare bool or a
	// struct with location and context-size hints.
	WebSearchConfig struct {
		Enabled           bool
		UserLocation      string
		SearchContextSize string
		MaxUses           int
	}

	// ImageConfig shapes image-generation requests.
	ImageConfig struct {
		AspectRatio string `json:"aspect_ratio,omitempty"`
		ImageSize   string `json:"image_size,omitempty"`
		N           int    `json:"n,omitempty"`
		Seed        *int64 `json:"seed,omitempty"`
	}
)

// Text returns the concatenated text parts of the content.
func (c Content) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// IsScalar reports whether the wire form was a bare string.
func (c Content) IsScalar() bool { return c.scalar }

// TextContent builds scalar string content.
func TextContent(s string) Content {
	return Content{Parts: []Part{{Type: "text", Text: s}}, scalar: true}
}

// PartsContent builds multi-part content.
func PartsContent(parts ...Part) Content {
	return Content{Parts: parts}
}

// UnmarshalJSON accepts a bare string, null, or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Content{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = TextContent(s)
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts")
	}
	*c = Content{Parts: parts}
	return nil
}

// MarshalJSON re-emits the wire form the content arrived in.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.scalar {
		return json.Marshal(c.Text())
	}
	if c.Parts == nil {
		return []byte("null"), nil
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts the scalar and object forms of tool_choice.
func (tc *ToolChoice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "auto", "none", "required":
			tc.Mode = s
			return nil
		}
		return fmt.Errorf("invalid tool_choice %q", s)
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tool_choice must be a string or an object")
	}
	if obj.Type != "function" || obj.Function.Name == "" {
		return fmt.Errorf("tool_choice object must pin a function by name")
	}
	tc.Function = obj.Function.Name
	return nil
}

// MarshalJSON emits the OpenAI wire form.
func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	if tc.Function != "" {
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Function},
		})
	}
	return json.Marshal(tc.Mode)
}

// UnmarshalJSON accepts a bool or the struct form of web_search.
func (w *WebSearchConfig) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		w.Enabled = b
		return nil
	}
	var obj struct {
		UserLocation      string `json:"user_location"`
		SearchContextSize string `json:"search_context_size"`
		MaxUses           int    `json:"max_uses"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("web_search must be a boolean or an object")
	}
	w.Enabled = true
	w.UserLocation = obj.UserLocation
	w.SearchContextSize = obj.SearchContextSize
	w.MaxUses = obj.MaxUses
	return nil
}

// MarshalJSON emits the struct form when any hint is set, else the bool.
func (w WebSearchConfig) MarshalJSON() ([]byte, error) {
	if w.UserLocation == "" && w.SearchContextSize == "" && w.MaxUses == 0 {
		return json.Marshal(w.Enabled)
	}
	return json.Marshal(map[string]any{
		"user_location":       w.UserLocation,
		"search_context_size": w.SearchContextSize,
		"max_uses":            w.MaxUses,
	})
}

// FunctionTools returns only the function tools, preserving order.
func (r *ChatRequest) FunctionTools() []Tool {
	out := make([]Tool, 0, len(r.Tools))
	for _, t := range r.Tools {
		if t.Type == "function" && t.Function != nil {
			out = append(out, t)
		}
	}
	return out
}

// SearchTool returns the first web_search tool, or nil.
func (r *ChatRequest) SearchTool() *Tool {
	for i, t := range r.Tools {
		if t.Type == "web_search" {
			return &r.Tools[i]
		}
	}
	return nil
}

// WantsWebSearch reports whether the request asks for web search via either
// the web_search field or a web_search tool.
func (r *ChatRequest) WantsWebSearch() bool {
	if r.WebSearch != nil && r.WebSearch.Enabled {
		return true
	}
	return r.SearchTool() != nil
}

// HasImageInput reports whether any message carries image content.
func (r *ChatRequest) HasImageInput() bool {
	for _, m := range r.Messages {
		for _, p := range m.Content.Parts {
			if p.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

// LastUserText concatenates the text parts of the last user message. Used by
// image-generation translators that take a single prompt string.
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content.Text()
		}
	}
	return ""
}
