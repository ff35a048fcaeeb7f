package proxy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/canonical"
)

// requestFlags are the request-scoped switches read from headers.
type requestFlags struct {
	NoFallback  bool
	GitHubToken string
}

// parseFlags reads the honored gateway headers.
func parseFlags(ctx *fasthttp.RequestCtx, envNoFallback bool) requestFlags {
	return requestFlags{
		NoFallback:  envNoFallback || strings.EqualFold(string(ctx.Request.Header.Peek("x-no-fallback")), "true"),
		GitHubToken: string(ctx.Request.Header.Peek("x-github-token")),
	}
}

// bearerToken extracts the API key from Authorization: Bearer or x-api-key.
func bearerToken(ctx *fasthttp.RequestCtx) string {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(string(ctx.Request.Header.Peek("x-api-key")))
}

// ParseChatRequest validates and canonicalizes an inbound chat-completions
// body. Numeric sampling parameters are clamped to provider-agnostic ranges;
// translators apply further per-provider clamping.
func ParseChatRequest(body []byte) (*canonical.ChatRequest, error) {
	var req canonical.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %s", err.Error())
	}

	if req.Model == "" {
		return nil, fmt.Errorf("field 'model' is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("field 'messages' must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case canonical.RoleSystem, canonical.RoleUser, canonical.RoleAssistant, canonical.RoleTool:
		default:
			return nil, fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
		if m.Role == canonical.RoleTool && m.ToolCallID == "" {
			return nil, fmt.Errorf("messages[%d]: tool messages require tool_call_id", i)
		}
	}

	switch req.ReasoningEffort {
	case "", canonical.EffortMinimal, canonical.EffortLow, canonical.EffortMedium, canonical.EffortHigh:
	default:
		return nil, fmt.Errorf("invalid reasoning_effort %q", req.ReasoningEffort)
	}

	for i, t := range req.Tools {
		switch t.Type {
		case "function":
			if t.Function == nil || t.Function.Name == "" {
				return nil, fmt.Errorf("tools[%d]: function tools require a name", i)
			}
		case "web_search":
		default:
			return nil, fmt.Errorf("tools[%d]: invalid tool type %q", i, t.Type)
		}
	}

	if rf := req.ResponseFormat; rf != nil {
		switch rf.Type {
		case "text", "json_object":
		case "json_schema":
			if rf.JSONSchema == nil || len(rf.JSONSchema.Schema) == 0 {
				return nil, fmt.Errorf("response_format json_schema requires a schema")
			}
		default:
			return nil, fmt.Errorf("invalid response_format type %q", rf.Type)
		}
	}

	clamp(&req)
	return &req, nil
}

// clamp bounds the numeric sampling parameters.
func clamp(req *canonical.ChatRequest) {
	clampPtr(req.Temperature, 0, 2)
	clampPtr(req.TopP, 0, 1)
	clampPtr(req.FrequencyPenalty, -2, 2)
	clampPtr(req.PresencePenalty, -2, 2)
	if req.MaxTokens < 0 {
		req.MaxTokens = 0
	}
}

// oversizedImage reports whether any inline (data:) image exceeds the
// plan-dependent cap. Base64 carries ~3 payload bytes per 4 characters.
func oversizedImage(req *canonical.ChatRequest, maxMB int) bool {
	if maxMB <= 0 {
		return false
	}
	limit := maxMB * 1024 * 1024
	for _, m := range req.Messages {
		for _, p := range m.Content.Parts {
			if p.Type != "image_url" || p.ImageURL == nil {
				continue
			}
			u := p.ImageURL.URL
			if !strings.HasPrefix(u, "data:") {
				continue
			}
			if i := strings.Index(u, ";base64,"); i > 0 {
				if len(u[i+len(";base64,"):])/4*3 > limit {
					return true
				}
			}
		}
	}
	return false
}

func clampPtr(v *float64, lo, hi float64) {
	if v == nil {
		return
	}
	if *v < lo {
		*v = lo
	}
	if *v > hi {
		*v = hi
	}
}
