// Package openaicompat provides the generic OpenAI-compatible provider used
// by every bearer-key upstream that speaks the chat-completions wire format
// (DeepSeek, Groq, Perplexity, xAI, Novita, Nebius, Moonshot, Together,
// Cerebras, ZAI, Alibaba, NanoGPT, Routeway, CloudRift, CanopyWave, and
// user-configured endpoints).
//
// Provider differences are expressed as a Quirks value, not subclasses:
// Cerebras forces strict tools, ZAI speaks thinking/web_search dialects and
// an image-generation shape, Alibaba images go through DashScope, Together
// and Inference.net strip the gateway's provider prefix from model names.
package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/respjson"
	openaiShared "github.com/openai/openai-go/v3/shared"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

// Quirks selects per-provider deviations from plain chat completions.
type Quirks struct {
	// StripPrefix removes a leading "<provider>/" from the model name.
	StripPrefix bool
	// ForceStrictTools sets strict: true on every function tool and on
	// json_schema response formats (Cerebras).
	ForceStrictTools bool
	// ZAIThinking expresses reasoning as thinking: {type: "enabled"}.
	ZAIThinking bool
	// ZAIWebSearch expresses web search as a web_search tool with
	// {enable: true, search_engine: "search-prime"}.
	ZAIWebSearch bool
	// ImageGen selects the image-generation body shape: "", "zai" or
	// "dashscope".
	ImageGen string
	// ImageGenURL overrides the image-generation endpoint.
	ImageGenURL string
}

// QuirksFor returns the quirks for a registered provider id.
func QuirksFor(providerID string) Quirks {
	switch providerID {
	case "cerebras":
		return Quirks{ForceStrictTools: true}
	case "together", "inference":
		return Quirks{StripPrefix: true}
	case "zai":
		return Quirks{ZAIThinking: true, ZAIWebSearch: true, ImageGen: "zai"}
	case "alibaba":
		return Quirks{ImageGen: "dashscope"}
	default:
		return Quirks{}
	}
}

// Provider is a configurable OpenAI-compatible upstream.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	quirks  Quirks

	client     openaiSDK.Client
	httpClient *http.Client
}

// New creates an OpenAI-compatible Provider.
//
//   - name    — provider id used for routing, quirks, and logs.
//   - apiKey  — sent as "Authorization: Bearer <key>".
//   - baseURL — API base URL, e.g. "https://api.x.ai/v1".
func New(name, apiKey, baseURL string) *Provider {
	p := &Provider{
		name:       name,
		apiKey:     apiKey,
		baseURL:    baseURL,
		quirks:     QuirksFor(name),
		httpClient: &http.Client{Timeout: providers.AttemptTimeout},
	}

	opts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(p.httpClient),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	p.client = openaiSDK.NewClient(opts...)
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	if req.Mapping.Caps.ImageGen && p.quirks.ImageGen != "" {
		return p.generateImage(ctx, req)
	}

	params, extra, err := BuildChatParams(p.name, p.quirks, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	opts, err := p.requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	if req.Canonical.Stream {
		return p.handleStreaming(ctx, req, params, opts...)
	}
	return p.handleResponse(ctx, req, params, opts...)
}

// BuildChatParams translates a canonical request into chat-completions
// params plus the request options carrying dialect fields the SDK has no
// parameter for.
func BuildChatParams(name string, q Quirks, req *providers.Request) (openaiSDK.ChatCompletionNewParams, []option.RequestOption, error) {
	c := req.Canonical

	modelName := req.ModelName()
	if q.StripPrefix {
		modelName = strings.TrimPrefix(modelName, name+"/")
	}

	params := openaiSDK.ChatCompletionNewParams{
		Model: openaiSDK.ChatModel(modelName),
	}

	for _, m := range providers.NormalizeSystemRoles(c.Messages, req.Model.SupportsSystemRole) {
		switch m.Role {
		case canonical.RoleSystem:
			params.Messages = append(params.Messages, openaiSDK.SystemMessage(m.Content.Text()))
		case canonical.RoleAssistant:
			am := openaiSDK.ChatCompletionAssistantMessageParam{}
			if text := m.Content.Text(); text != "" {
				am.Content.OfString = openaiSDK.String(text)
			}
			for _, call := range m.ToolCalls {
				am.ToolCalls = append(am.ToolCalls, openaiSDK.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openaiSDK.ChatCompletionMessageFunctionToolCallParam{
						ID: call.ID,
						Function: openaiSDK.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      call.Function.Name,
							Arguments: call.Function.Arguments,
						},
					},
				})
			}
			params.Messages = append(params.Messages, openaiSDK.ChatCompletionMessageParamUnion{OfAssistant: &am})
		case canonical.RoleTool:
			params.Messages = append(params.Messages, openaiSDK.ToolMessage(m.Content.Text(), m.ToolCallID))
		default:
			params.Messages = append(params.Messages, openaiSDK.UserMessage(m.Content.Text()))
		}
	}

	if c.Temperature != nil {
		params.Temperature = openaiSDK.Float(*c.Temperature)
	}
	if c.TopP != nil {
		params.TopP = openaiSDK.Float(*c.TopP)
	}
	if c.FrequencyPenalty != nil {
		params.FrequencyPenalty = openaiSDK.Float(*c.FrequencyPenalty)
	}
	if c.PresencePenalty != nil {
		params.PresencePenalty = openaiSDK.Float(*c.PresencePenalty)
	}
	if c.MaxTokens > 0 {
		params.MaxTokens = openaiSDK.Int(int64(c.MaxTokens))
	}
	if c.Stream {
		params.StreamOptions = openaiSDK.ChatCompletionStreamOptionsParam{
			IncludeUsage: openaiSDK.Bool(true),
		}
	}

	var extra []option.RequestOption

	if c.ReasoningEffort != "" && req.Mapping.Caps.Reasoning {
		if q.ZAIThinking {
			extra = append(extra, option.WithJSONSet("thinking", map[string]string{"type": "enabled"}))
		} else {
			params.ReasoningEffort = openaiShared.ReasoningEffort(c.ReasoningEffort)
		}
	}

	for _, t := range c.FunctionTools() {
		def := openaiShared.FunctionDefinitionParam{
			Name:       t.Function.Name,
			Parameters: rawToParameters(t.Function.Parameters),
		}
		if t.Function.Description != "" {
			def.Description = openaiSDK.String(t.Function.Description)
		}
		switch {
		case q.ForceStrictTools:
			def.Strict = openaiSDK.Bool(true)
		case t.Function.Strict != nil:
			def.Strict = openaiSDK.Bool(*t.Function.Strict)
		}
		params.Tools = append(params.Tools, openaiSDK.ChatCompletionFunctionTool(def))
	}
	if tc := c.ToolChoice; tc != nil {
		if tc.Function != "" {
			params.ToolChoice = openaiSDK.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &openaiSDK.ChatCompletionNamedToolChoiceParam{
					Function: openaiSDK.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Function},
				},
			}
		} else {
			params.ToolChoice = openaiSDK.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openaiSDK.String(tc.Mode),
			}
		}
	}

	if rf := c.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			params.ResponseFormat = openaiSDK.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openaiShared.ResponseFormatJSONObjectParam{},
			}
		case "json_schema":
			if rf.JSONSchema == nil {
				return params, nil, fmt.Errorf("response_format json_schema requires a schema")
			}
			strict := rf.JSONSchema.Strict || q.ForceStrictTools
			params.ResponseFormat = openaiSDK.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openaiShared.ResponseFormatJSONSchemaParam{
					JSONSchema: openaiShared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   rf.JSONSchema.Name,
						Schema: rawToAny(rf.JSONSchema.Schema),
						Strict: openaiSDK.Bool(strict),
					},
				},
			}
		}
	}

	if c.WantsWebSearch() && req.Mapping.Caps.WebSearch && q.ZAIWebSearch {
		tool := map[string]any{
			"type": "web_search",
			"web_search": map[string]any{
				"enable":        true,
				"search_engine": "search-prime",
			},
		}
		if len(params.Tools) == 0 {
			extra = append(extra, option.WithJSONSet("tools", []any{tool}))
		} else {
			extra = append(extra, option.WithJSONSet("tools.-1", tool))
		}
	}

	return params, extra, nil
}

func (p *Provider) handleResponse(
	ctx context.Context,
	req *providers.Request,
	params openaiSDK.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, p.toProviderError(err)
	}

	out := &canonical.Completion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Usage: &canonical.Usage{
			PromptTokens:       int(resp.Usage.PromptTokens),
			CompletionTokens:   int(resp.Usage.CompletionTokens),
			CachedPromptTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
			ReasoningTokens:    int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
		},
	}
	if out.ID == "" {
		out.ID = req.RequestID
	}
	out.Usage.Finalize()

	for i, ch := range resp.Choices {
		choice := canonical.Choice{
			Index:        i,
			FinishReason: ch.FinishReason,
			Message: canonical.ResponseMessage{
				Role:    canonical.RoleAssistant,
				Content: ch.Message.Content,
			},
		}
		// DeepSeek-style reasoning rides a nonstandard field.
		if rc := extractReasoningContent(ch.Message.JSON.ExtraFields); rc != "" {
			choice.Message.ReasoningContent = rc
		}
		for _, tc := range ch.Message.ToolCalls {
			choice.Message.ToolCalls = append(choice.Message.ToolCalls, canonical.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: canonical.ToolCallFunc{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, choice)
	}
	return out, nil
}

func (p *Provider) handleStreaming(
	ctx context.Context,
	req *providers.Request,
	params openaiSDK.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	ch := make(chan canonical.Chunk, providers.StreamBuffer)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params, opts...)

	go func() {
		defer close(ch)

		var (
			sb     strings.Builder
			usage  *canonical.Usage
			finish string
			id     = req.RequestID
			model  = req.ModelName()
		)

		for stream.Next() {
			chunk := stream.Current()
			if chunk.ID != "" {
				id = chunk.ID
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				usage = &canonical.Usage{
					PromptTokens:       int(chunk.Usage.PromptTokens),
					CompletionTokens:   int(chunk.Usage.CompletionTokens),
					CachedPromptTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
					ReasoningTokens:    int(chunk.Usage.CompletionTokensDetails.ReasoningTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]

			delta := canonical.Delta{Content: c.Delta.Content}
			sb.WriteString(c.Delta.Content)
			if rc := extractReasoningContent(c.Delta.JSON.ExtraFields); rc != "" {
				delta.ReasoningContent = rc
			}
			for _, tc := range c.Delta.ToolCalls {
				delta.ToolCalls = append(delta.ToolCalls, canonical.ToolCallDelta{
					Index: int(tc.Index),
					ID:    tc.ID,
					Type:  "function",
					Function: canonical.ToolCallFunc{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			if c.FinishReason != "" {
				finish = c.FinishReason
			}

			if delta.Content != "" || delta.ReasoningContent != "" || len(delta.ToolCalls) > 0 {
				ch <- canonical.Chunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Model:   model,
					Choices: []canonical.ChunkChoice{{Delta: delta}},
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- canonical.ErrorChunk(id, model, p.toProviderError(err))
			return
		}

		if finish == "" {
			finish = canonical.FinishStop
		}
		usage = providers.MergeUsage(usage, providers.EstimateUsage(req.Canonical, sb.String()))
		ch <- canonical.FinishChunk(id, model, finish, usage)
	}()

	return &canonical.Completion{Stream: ch}, nil
}

// extractReasoningContent pulls the reasoning_content extension field used by
// DeepSeek, ZAI, and other reasoning-capable OC providers.
func extractReasoningContent(extra map[string]respjson.Field) string {
	field, ok := extra["reasoning_content"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(field.Raw()), &s); err == nil {
		return s
	}
	return ""
}

func (p *Provider) requestOptions(overrideKey string) ([]option.RequestOption, error) {
	key := overrideKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("%s: no API key configured", p.name)
	}
	return []option.RequestOption{option.WithAPIKey(key)}, nil
}

func rawToAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

func rawToParameters(raw json.RawMessage) openaiShared.FunctionParameters {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return openaiShared.FunctionParameters{}
	}
	return openaiShared.FunctionParameters(v)
}

// ProviderError is a structured error returned by an OpenAI-compatible API.
type ProviderError struct {
	Name       string
	StatusCode int
	Message    string
	Retry      time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d)", e.Name, e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// RetryAfter implements providers.RetryAfterer.
func (e *ProviderError) RetryAfter() time.Duration { return e.Retry }

func (p *Provider) toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		pe := &ProviderError{
			Name:       p.name,
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
		}
		if apierr.Response != nil {
			if ra, perr := time.ParseDuration(apierr.Response.Header.Get("Retry-After") + "s"); perr == nil {
				pe.Retry = ra
			}
		}
		return pe
	}
	return err
}
