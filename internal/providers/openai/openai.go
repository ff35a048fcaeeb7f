// Package openai implements the providers.Provider strategy for OpenAI.
//
// Two upstream shapes are supported: the chat-completions API (default) and
// the Responses API, selected per mapping via SupportsResponsesAPI. The
// translation quirks live in BuildChatParams / BuildResponsesParams so they
// can be exercised without network I/O.
package openai

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
	openaiShared "github.com/openai/openai-go/v3/shared"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

// Provider implements providers.Provider for OpenAI.
type Provider struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates an OpenAI Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithHTTPClient(&http.Client{Timeout: providers.AttemptTimeout}),
	}
	if p.baseURL != "" && p.baseURL != defaultBaseURL {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = openaiSDK.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	opts, err := p.requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}

	if req.Mapping.SupportsResponsesAPI {
		return p.completeResponses(ctx, req, opts...)
	}

	params, extra, err := BuildChatParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	opts = append(opts, extra...)
	if req.Canonical.Stream {
		return p.handleStreaming(ctx, req, params, opts...)
	}
	return p.handleResponse(ctx, req, params, opts...)
}

// isGPT5 matches the models that moved to max_completion_tokens and a pinned
// temperature.
func isGPT5(model string) bool { return strings.HasPrefix(model, "gpt-5") }

// isSearchModel matches the dedicated -search- model variants which take
// web_search_options instead of a web_search tool.
func isSearchModel(model string) bool { return strings.Contains(model, "-search-") }

// BuildChatParams translates a canonical request into chat-completions
// params plus request options for fields outside the SDK parameter surface.
func BuildChatParams(req *providers.Request) (openaiSDK.ChatCompletionNewParams, []option.RequestOption, error) {
	c := req.Canonical
	modelName := req.ModelName()

	msgs, err := buildMessages(c, req.Model.SupportsSystemRole)
	if err != nil {
		return openaiSDK.ChatCompletionNewParams{}, nil, err
	}

	params := openaiSDK.ChatCompletionNewParams{
		Model:    openaiSDK.ChatModel(modelName),
		Messages: msgs,
	}

	if c.Temperature != nil {
		params.Temperature = openaiSDK.Float(*c.Temperature)
	}
	if isGPT5(modelName) {
		params.Temperature = openaiSDK.Float(1)
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
		if isGPT5(modelName) {
			params.MaxCompletionTokens = openaiSDK.Int(int64(c.MaxTokens))
		} else {
			params.MaxTokens = openaiSDK.Int(int64(c.MaxTokens))
		}
	}
	if c.Stream {
		params.StreamOptions = openaiSDK.ChatCompletionStreamOptionsParam{
			IncludeUsage: openaiSDK.Bool(true),
		}
	}
	if c.ReasoningEffort != "" && req.Mapping.Caps.Reasoning {
		params.ReasoningEffort = openaiShared.ReasoningEffort(c.ReasoningEffort)
	}

	// Only function tools go through the generic tools field.
	for _, t := range c.FunctionTools() {
		params.Tools = append(params.Tools, functionTool(t.Function))
	}
	if tc := c.ToolChoice; tc != nil {
		params.ToolChoice = toolChoice(tc)
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
			params.ResponseFormat = openaiSDK.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openaiShared.ResponseFormatJSONSchemaParam{
					JSONSchema: openaiShared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   rf.JSONSchema.Name,
						Schema: rawToAny(rf.JSONSchema.Schema),
						Strict: openaiSDK.Bool(rf.JSONSchema.Strict),
					},
				},
			}
		}
	}

	var extra []option.RequestOption
	if c.WantsWebSearch() && req.Mapping.Caps.WebSearch {
		if isSearchModel(modelName) {
			// Dedicated search variants take options, not a tool.
			extra = append(extra, option.WithJSONSet("web_search_options", webSearchOptions(c)))
		} else {
			tool := map[string]any{"type": "web_search"}
			if len(params.Tools) == 0 {
				extra = append(extra, option.WithJSONSet("tools", []any{tool}))
			} else {
				extra = append(extra, option.WithJSONSet("tools.-1", tool))
			}
		}
	}

	return params, extra, nil
}

// webSearchOptions maps the canonical web_search hints onto the search-model
// options body.
func webSearchOptions(c *canonical.ChatRequest) map[string]any {
	out := map[string]any{}
	if c.WebSearch == nil {
		return out
	}
	if c.WebSearch.SearchContextSize != "" {
		out["search_context_size"] = c.WebSearch.SearchContextSize
	}
	if c.WebSearch.UserLocation != "" {
		out["user_location"] = map[string]any{
			"type":        "approximate",
			"approximate": map[string]string{"city": c.WebSearch.UserLocation},
		}
	}
	return out
}

func functionTool(f *canonical.ToolFunc) openaiSDK.ChatCompletionToolUnionParam {
	def := openaiShared.FunctionDefinitionParam{
		Name:       f.Name,
		Parameters: rawToParameters(f.Parameters),
	}
	if f.Description != "" {
		def.Description = openaiSDK.String(f.Description)
	}
	if f.Strict != nil {
		def.Strict = openaiSDK.Bool(*f.Strict)
	}
	return openaiSDK.ChatCompletionFunctionTool(def)
}

func toolChoice(tc *canonical.ToolChoice) openaiSDK.ChatCompletionToolChoiceOptionUnionParam {
	if tc.Function != "" {
		return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openaiSDK.ChatCompletionNamedToolChoiceParam{
				Function: openaiSDK.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Function},
			},
		}
	}
	return openaiSDK.ChatCompletionToolChoiceOptionUnionParam{
		OfAuto: openaiSDK.String(tc.Mode),
	}
}

// buildMessages converts canonical messages to SDK unions, rewriting system
// roles away when the model rejects them.
func buildMessages(c *canonical.ChatRequest, supportsSystem bool) ([]openaiSDK.ChatCompletionMessageParamUnion, error) {
	msgs := providers.NormalizeSystemRoles(c.Messages, supportsSystem)

	out := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case canonical.RoleSystem:
			out = append(out, openaiSDK.SystemMessage(m.Content.Text()))

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
			out = append(out, openaiSDK.ChatCompletionMessageParamUnion{OfAssistant: &am})

		case canonical.RoleTool:
			out = append(out, openaiSDK.ToolMessage(m.Content.Text(), m.ToolCallID))

		default: // user
			if parts := userParts(m); parts != nil {
				out = append(out, openaiSDK.UserMessage(parts))
			} else {
				out = append(out, openaiSDK.UserMessage(m.Content.Text()))
			}
		}
	}
	return out, nil
}

// userParts returns SDK content parts when the message is multimodal,
// nil for plain text.
func userParts(m canonical.Message) []openaiSDK.ChatCompletionContentPartUnionParam {
	multimodal := false
	for _, p := range m.Content.Parts {
		if p.Type != "text" {
			multimodal = true
			break
		}
	}
	if !multimodal {
		return nil
	}
	parts := make([]openaiSDK.ChatCompletionContentPartUnionParam, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, openaiSDK.TextContentPart(p.Text))
		case "image_url":
			if p.ImageURL != nil {
				img := openaiSDK.ChatCompletionContentPartImageImageURLParam{URL: p.ImageURL.URL}
				if p.ImageURL.Detail != "" {
					img.Detail = p.ImageURL.Detail
				}
				parts = append(parts, openaiSDK.ImageContentPart(img))
			}
		}
	}
	return parts
}

func (p *Provider) handleResponse(
	ctx context.Context,
	req *providers.Request,
	params openaiSDK.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		return nil, toProviderError(err)
	}
	return translateCompletion(resp, req.RequestID), nil
}

// translateCompletion converts an SDK completion into the canonical shape.
func translateCompletion(resp *openaiSDK.ChatCompletion, requestID string) *canonical.Completion {
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
		out.ID = requestID
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
		for _, ann := range ch.Message.Annotations {
			if ann.URLCitation.URL != "" {
				out.Citations = append(out.Citations, ann.URLCitation.URL)
			}
		}
		out.Choices = append(out.Choices, choice)
	}
	return out
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
			sb        strings.Builder
			usage     *canonical.Usage
			finish    string
			citations []string
			streamID  = req.RequestID
			model     = req.ModelName()
		)

		for stream.Next() {
			chunk := stream.Current()
			if chunk.ID != "" {
				streamID = chunk.ID
			}
			if chunk.Model != "" {
				model = chunk.Model
			}
			// The final usage-only chunk has no choices; hold the counts for
			// the terminal canonical chunk.
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

			if delta.Content != "" || len(delta.ToolCalls) > 0 {
				ch <- canonical.Chunk{
					ID:      streamID,
					Object:  "chat.completion.chunk",
					Model:   model,
					Choices: []canonical.ChunkChoice{{Delta: delta}},
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- canonical.ErrorChunk(streamID, model, toProviderError(err))
			return
		}

		if finish == "" {
			finish = canonical.FinishStop
		}
		usage = providers.MergeUsage(usage, providers.EstimateUsage(req.Canonical, sb.String()))
		final := canonical.FinishChunk(streamID, model, finish, usage)
		final.Citations = citations
		ch <- final
	}()

	return &canonical.Completion{Stream: ch}, nil
}

func (p *Provider) requestOptions(overrideKey string) ([]option.RequestOption, error) {
	key := overrideKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("openai: no API key configured")
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

// ProviderError is a structured error returned by the OpenAI API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
	Retry      time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// RetryAfter implements providers.RetryAfterer.
func (e *ProviderError) RetryAfter() time.Duration { return e.Retry }

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		pe := &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "openai_error",
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
