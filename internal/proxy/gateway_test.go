package proxy

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/identity"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

func newRequestCtx(method, uri string, body []byte, headers map[string]string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if body != nil {
		req.SetBody(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func authedStore() *identity.MemStore {
	store := identity.NewMemStore()
	store.AddCaller("sk-test", &identity.Caller{
		Org:     &identity.Organization{ID: "org1", Plan: identity.PlanPro, Credits: decimal.NewFromInt(10)},
		Project: &identity.Project{ID: "proj1", OrganizationID: "org1", Mode: identity.ModeCredits},
		Key:     &identity.APIKey{ID: "key1", ProjectID: "proj1", Active: true},
	})
	return store
}

// End-to-end: a non-streaming chat request through the full handler yields
// one OpenAI-shaped completion with usage.
func TestDispatchChat_NonStreaming(t *testing.T) {
	prov := &mockProvider{name: "openai", fn: func(_ int, req *providers.Request) (*canonical.Completion, error) {
		return canonical.NewCompletion("chatcmpl-1", req.ModelName(), "Hello there", canonical.FinishStop,
			&canonical.Usage{PromptTokens: 5, CompletionTokens: 3}), nil
	}}
	g := NewGateway(map[string]providers.Provider{"openai": prov}, authedStore(), GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer sk-test",
		"Content-Type":  "application/json",
	})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body = %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}

	var resp canonical.Completion
	if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Role != "assistant" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Choices[0].Message.Content != "Hello there" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens < 1 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestDispatchChat_MissingKey(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{}, authedStore(), GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, nil)
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Errorf("status = %d, want 401", ctx.Response.StatusCode())
	}
}

func TestDispatchChat_XAPIKeyHeader(t *testing.T) {
	prov := &mockProvider{name: "openai", fn: func(_ int, req *providers.Request) (*canonical.Completion, error) {
		return okCompletion("ok"), nil
	}}
	g := NewGateway(map[string]providers.Provider{"openai": prov}, authedStore(), GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, map[string]string{"x-api-key": "sk-test"})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Errorf("status = %d, want 200 via x-api-key", ctx.Response.StatusCode())
	}
}

func TestDispatchChat_UnknownModel(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{}, authedStore(), GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "made-up-model-9000",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer sk-test",
	})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown model", ctx.Response.StatusCode())
	}
}

func TestDispatchChat_NoEligibleProvider(t *testing.T) {
	// Model exists but no provider client is configured for it.
	g := NewGateway(map[string]providers.Provider{}, authedStore(), GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer sk-test",
	})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", ctx.Response.StatusCode())
	}
}

func TestDispatchChat_InsufficientCredits(t *testing.T) {
	store := identity.NewMemStore()
	store.AddCaller("sk-broke", &identity.Caller{
		Org:     &identity.Organization{ID: "org2", Plan: identity.PlanFree},
		Project: &identity.Project{ID: "proj2", OrganizationID: "org2", Mode: identity.ModeCredits},
		Key:     &identity.APIKey{ID: "key2", ProjectID: "proj2", Active: true},
	})
	g := NewGateway(map[string]providers.Provider{}, store, GatewayOptions{Hosted: true})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": "Hello"}},
	})
	ctx := newRequestCtx("POST", "/v1/chat/completions", body, map[string]string{
		"Authorization": "Bearer sk-broke",
	})
	handler(ctx)

	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Errorf("status = %d, want 403 for empty credits in hosted mode", ctx.Response.StatusCode())
	}
}

func TestHandleModels(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{
		"openai": &mockProvider{name: "openai"},
	}, nil, GatewayOptions{})
	handler := g.Handler(nil)

	ctx := newRequestCtx("GET", "/v1/models", nil, nil)
	handler(ctx)

	var list struct {
		Object string `json:"object"`
		Data   []struct {
			ID      string `json:"id"`
			Pricing []struct {
				Provider   string  `json:"provider"`
				InputPrice float64 `json:"input_price"`
			} `json:"pricing"`
		} `json:"data"`
	}
	if err := json.Unmarshal(ctx.Response.Body(), &list); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if list.Object != "list" || len(list.Data) == 0 {
		t.Fatalf("list = %+v", list)
	}
	for _, m := range list.Data {
		for _, p := range m.Pricing {
			if p.Provider != "openai" {
				t.Errorf("model %s lists unconfigured provider %s", m.ID, p.Provider)
			}
		}
	}
}

func TestMCP_InitializeAndPing(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{}, nil, GatewayOptions{})
	handler := g.Handler(nil)

	for _, method := range []string{"initialize", "ping", "tools/list"} {
		body, _ := json.Marshal(map[string]any{
			"jsonrpc": "2.0", "id": 1, "method": method,
		})
		ctx := newRequestCtx("POST", "/mcp", body, nil)
		handler(ctx)

		var resp struct {
			JSONRPC string          `json:"jsonrpc"`
			Result  json.RawMessage `json:"result"`
			Error   *struct {
				Code int `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(ctx.Response.Body(), &resp); err != nil {
			t.Fatalf("%s: bad body: %v", method, err)
		}
		if resp.Error != nil {
			t.Errorf("%s: rpc error %d", method, resp.Error.Code)
		}
		if resp.JSONRPC != "2.0" || len(resp.Result) == 0 {
			t.Errorf("%s: resp = %+v", method, resp)
		}
	}
}

func TestMCP_UnknownMethod(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{}, nil, GatewayOptions{})
	handler := g.Handler(nil)

	body, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 2, "method": "nope"})
	ctx := newRequestCtx("POST", "/mcp", body, nil)
	handler(ctx)

	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(ctx.Response.Body(), &resp)
	if resp.Error == nil || resp.Error.Code != rpcMethodNotFound {
		t.Errorf("resp = %+v, want method-not-found", resp)
	}
}

func TestMCP_ToolsListShape(t *testing.T) {
	g := NewGateway(map[string]providers.Provider{}, nil, GatewayOptions{})
	tools := g.mcpTools()
	want := map[string]bool{"chat": true, "generate-image": true, "list-models": true, "list-image-models": true}
	if len(tools) != len(want) {
		t.Fatalf("tools = %d, want %d", len(tools), len(want))
	}
	for _, tool := range tools {
		if !want[tool.Name] {
			t.Errorf("unexpected tool %q", tool.Name)
		}
	}
}
