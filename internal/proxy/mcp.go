package proxy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
)

// JSON-RPC 2.0 error codes used by the MCP surface.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
)

const mcpProtocolVersion = "2025-03-26"

type (
	rpcRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result,omitempty"`
		Error   *rpcError       `json:"error,omitempty"`
	}

	mcpToolDef struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	}

	mcpTextContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	mcpCallResult struct {
		Content []mcpTextContent `json:"content"`
		IsError bool             `json:"isError,omitempty"`
	}
)

// handleMCP serves the JSON-RPC 2.0 MCP surface on POST /mcp.
func (g *Gateway) handleMCP(ctx *fasthttp.RequestCtx) {
	var req rpcRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeRPC(ctx, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: rpcParseError, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPC(ctx, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: rpcInvalidRequest, Message: "invalid request"}})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "llm-gateway", "version": "1"},
		}

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		resp.Result = map[string]any{"tools": g.mcpTools()}

	case "tools/call":
		result, rpcErr := g.mcpCall(ctx, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}

	default:
		resp.Error = &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	writeRPC(ctx, resp)
}

func (g *Gateway) mcpTools() []mcpToolDef {
	return []mcpToolDef{
		{
			Name:        "chat",
			Description: "Send a chat prompt to any gateway model and return the completion text.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"model":  map[string]any{"type": "string", "description": "model id, or auto"},
					"prompt": map[string]any{"type": "string"},
				},
				"required": []string{"model", "prompt"},
			},
		},
		{
			Name:        "generate-image",
			Description: "Generate an image with an image-output model; returns image URLs or data URLs.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"model":  map[string]any{"type": "string"},
					"prompt": map[string]any{"type": "string"},
					"size":   map[string]any{"type": "string"},
					"n":      map[string]any{"type": "integer"},
				},
				"required": []string{"model", "prompt"},
			},
		},
		{
			Name:        "list-models",
			Description: "List all available models with their providers.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			Name:        "list-image-models",
			Description: "List the models that can generate images.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func (g *Gateway) mcpCall(ctx *fasthttp.RequestCtx, params json.RawMessage) (any, *rpcError) {
	var call struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &rpcError{Code: rpcInvalidParams, Message: "invalid params"}
	}

	str := func(key string) string {
		s, _ := call.Arguments[key].(string)
		return s
	}

	switch call.Name {
	case "list-models":
		type entry struct {
			ID        string   `json:"id"`
			Providers []string `json:"providers"`
		}
		var models []entry
		for _, m := range catalog.All() {
			var provs []string
			for _, mp := range m.Providers {
				if g.available(mp.Provider) {
					provs = append(provs, mp.Provider)
				}
			}
			if len(provs) > 0 {
				models = append(models, entry{ID: m.ID, Providers: provs})
			}
		}
		text, _ := json.Marshal(models)
		return mcpCallResult{Content: []mcpTextContent{{Type: "text", Text: string(text)}}}, nil

	case "list-image-models":
		text, _ := json.Marshal(g.imageModels())
		return mcpCallResult{Content: []mcpTextContent{{Type: "text", Text: string(text)}}}, nil

	case "chat":
		model, prompt := str("model"), str("prompt")
		if model == "" || prompt == "" {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "chat requires model and prompt"}
		}
		creq := &canonical.ChatRequest{
			Model: model,
			Messages: []canonical.Message{
				{Role: canonical.RoleUser, Content: canonical.TextContent(prompt)},
			},
		}
		completion, err := g.mcpDispatch(ctx, creq)
		if err != nil {
			return mcpCallResult{
				Content: []mcpTextContent{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		text := ""
		if len(completion.Choices) > 0 {
			text = completion.Choices[0].Message.Content
		}
		return mcpCallResult{Content: []mcpTextContent{{Type: "text", Text: text}}}, nil

	case "generate-image":
		model, prompt := str("model"), str("prompt")
		if model == "" || prompt == "" {
			return nil, &rpcError{Code: rpcInvalidParams, Message: "generate-image requires model and prompt"}
		}
		n, _ := call.Arguments["n"].(float64)
		creq := &canonical.ChatRequest{
			Model: model,
			Messages: []canonical.Message{
				{Role: canonical.RoleUser, Content: canonical.TextContent(prompt)},
			},
			ImageConfig: &canonical.ImageConfig{ImageSize: str("size"), N: int(n)},
		}
		completion, err := g.mcpDispatch(ctx, creq)
		if err != nil {
			return mcpCallResult{
				Content: []mcpTextContent{{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		var images []string
		for _, choice := range completion.Choices {
			images = append(images, choice.Message.Images...)
		}
		text, _ := json.Marshal(images)
		return mcpCallResult{Content: []mcpTextContent{{Type: "text", Text: string(text)}}}, nil

	default:
		return nil, &rpcError{Code: rpcMethodNotFound, Message: fmt.Sprintf("unknown tool %q", call.Name)}
	}
}

// mcpDispatch runs a non-streaming completion through the standard routing
// and failover path on behalf of an MCP tool call.
func (g *Gateway) mcpDispatch(ctx *fasthttp.RequestCtx, creq *canonical.ChatRequest) (*canonical.Completion, error) {
	caller, ok := g.resolveCaller(ctx)
	if !ok {
		return nil, fmt.Errorf("unauthorized")
	}
	reqID, _ := ctx.UserValue("request_id").(string)
	start := time.Now()

	candidates := BuildCandidates(RouteInput{
		ModelID:   creq.Model,
		Request:   creq,
		Caller:    caller,
		Available: g.available,
	})
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no eligible provider for model %q", creq.Model)
	}

	outcome, err := g.completeWithFailover(ctx, creq, candidates, false, reqID)
	if err != nil {
		return nil, err
	}

	g.account(accountInput{
		RequestID: reqID,
		Caller:    caller,
		Candidate: outcome.candidate,
		Request:   creq,
		Usage:     outcome.completion.Usage,
		ImagesOut: countImages(outcome.completion),
		Status:    fasthttp.StatusOK,
		Latency:   time.Since(start),
	})
	return outcome.completion, nil
}

func writeRPC(ctx *fasthttp.RequestCtx, resp rpcResponse) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	data, _ := json.Marshal(resp)
	ctx.SetBody(data)
}
