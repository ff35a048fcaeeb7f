// Package anthropic implements the providers.Provider strategy for Anthropic
// (official SDK, Messages API).
//
// Translation notes:
//   - System messages are lifted into the separate system array.
//   - Prompt caching walks text blocks in order (system first, then message
//     content) and marks blocks long enough to be cacheable, capped at 4
//     markers per request — Anthropic's global limit.
//   - Reasoning maps to thinking budgets; max_tokens is raised to fit.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	defaultMaxTokens = 4096

	// maxCacheMarkers is Anthropic's global cache_control cap per request,
	// shared across system and message blocks.
	maxCacheMarkers = 4
)

// Thinking budgets per reasoning effort.
var thinkingBudgets = map[string]int64{
	canonical.EffortMinimal: 1024,
	canonical.EffortLow:     1024,
	canonical.EffortMedium:  2000,
	canonical.EffortHigh:    4000,
}

// Provider implements providers.Provider for Anthropic.
type Provider struct {
	apiKey  string
	baseURL string
	client  anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates an Anthropic Provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, baseURL: defaultBaseURL}
	for _, o := range opts {
		o(p)
	}

	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithHTTPClient(&http.Client{Timeout: providers.AttemptTimeout}),
	)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	params, err := BuildMessageParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	opts, err := p.requestOptions(req.APIKey)
	if err != nil {
		return nil, err
	}

	if req.Canonical.Stream {
		return p.handleStreaming(ctx, req, params, opts...)
	}
	return p.handleResponse(ctx, req, params, opts...)
}

// BuildMessageParams translates a canonical request into Messages params.
func BuildMessageParams(req *providers.Request) (anthropic.MessageNewParams, error) {
	c := req.Canonical

	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(c.Messages))

	for _, m := range providers.NormalizeSystemRoles(c.Messages, req.Model.SupportsSystemRole) {
		switch m.Role {
		case canonical.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content.Text()})

		case canonical.RoleAssistant:
			blocks := contentBlocks(m)
			for _, call := range m.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Function.Name,
						Input: rawToInput(call.Function.Arguments),
					},
				})
			}
			msgs = append(msgs, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})

		case canonical.RoleTool:
			msgs = append(msgs, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewToolResultBlock(m.ToolCallID, m.Content.Text(), false),
				},
			})

		default: // user
			msgs = append(msgs, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: contentBlocks(m),
			})
		}
	}

	maxTokens := int64(c.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.ModelName()),
		MaxTokens: maxTokens,
		Messages:  msgs,
		System:    system,
	}

	if c.Temperature != nil {
		params.Temperature = anthropic.Float(*c.Temperature)
	}
	if c.TopP != nil {
		params.TopP = anthropic.Float(*c.TopP)
	}

	for _, t := range c.FunctionTools() {
		params.Tools = append(params.Tools, functionTool(t.Function))
	}
	if tc := c.ToolChoice; tc != nil && tc.Function != "" {
		// "auto" is the upstream default and is omitted.
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: tc.Function},
		}
	}

	if req.ReasoningRequested() {
		budget := thinkingBudgets[c.ReasoningEffort]
		if budget == 0 {
			budget = thinkingBudgets[canonical.EffortMedium]
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
		// max_tokens must cover the thinking budget plus answer room.
		if params.MaxTokens < budget+1000 {
			params.MaxTokens = budget + 1000
		}
		if params.MaxTokens < 1024 {
			params.MaxTokens = 1024
		}
	}

	if c.WantsWebSearch() && req.Mapping.Caps.WebSearch {
		ws := &anthropic.WebSearchTool20250305Param{}
		if c.WebSearch != nil && c.WebSearch.MaxUses > 0 {
			ws.MaxUses = anthropic.Int(int64(c.WebSearch.MaxUses))
		} else if st := c.SearchTool(); st != nil && st.Search != nil && st.Search.MaxUses > 0 {
			ws.MaxUses = anthropic.Int(int64(st.Search.MaxUses))
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfWebSearchTool20250305: ws})
	}

	ApplyCacheControl(&params, req.Mapping.CacheThresholdChars())

	return params, nil
}

// ApplyCacheControl walks text blocks in order — system first, then message
// content — attaching an ephemeral cache marker to each block of at least
// threshold characters, stopping after maxCacheMarkers markers total.
func ApplyCacheControl(params *anthropic.MessageNewParams, threshold int) {
	marked := 0

	for i := range params.System {
		if marked >= maxCacheMarkers {
			return
		}
		if len(params.System[i].Text) >= threshold {
			params.System[i].CacheControl = anthropic.NewCacheControlEphemeralParam()
			marked++
		}
	}

	for i := range params.Messages {
		for j := range params.Messages[i].Content {
			if marked >= maxCacheMarkers {
				return
			}
			text := params.Messages[i].Content[j].OfText
			if text == nil {
				continue
			}
			if len(text.Text) >= threshold {
				text.CacheControl = anthropic.NewCacheControlEphemeralParam()
				marked++
			}
		}
	}
}

// CacheMarkerCount counts cache_control markers across system and messages
// (exported for tests and the bedrock translator's shared invariant).
func CacheMarkerCount(params *anthropic.MessageNewParams) int {
	n := 0
	for i := range params.System {
		if params.System[i].CacheControl.Type != "" {
			n++
		}
	}
	for i := range params.Messages {
		for j := range params.Messages[i].Content {
			if t := params.Messages[i].Content[j].OfText; t != nil && t.CacheControl.Type != "" {
				n++
			}
		}
	}
	return n
}

// contentBlocks converts message parts to SDK content blocks.
func contentBlocks(m canonical.Message) []anthropic.ContentBlockParamUnion {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		switch p.Type {
		case "text":
			out = append(out, anthropic.ContentBlockParamUnion{
				OfText: &anthropic.TextBlockParam{Text: p.Text},
			})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := splitDataURL(p.ImageURL.URL); ok {
				out = append(out, anthropic.NewImageBlockBase64(mediaType, data))
			} else {
				out = append(out, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfURL: &anthropic.URLImageSourceParam{URL: p.ImageURL.URL},
						},
					},
				})
			}
		}
	}
	return out
}

// splitDataURL parses data:<media>;base64,<data> image URLs.
func splitDataURL(u string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(u, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(u, "data:")
	i := strings.Index(rest, ";base64,")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(";base64,"):], true
}

func functionTool(f *canonical.ToolFunc) anthropic.ToolUnionParam {
	var schema struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	_ = json.Unmarshal(f.Parameters, &schema)

	tool := &anthropic.ToolParam{
		Name: f.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}
	if f.Description != "" {
		tool.Description = anthropic.String(f.Description)
	}
	return anthropic.ToolUnionParam{OfTool: tool}
}

func rawToInput(arguments string) any {
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return map[string]any{}
	}
	return v
}

// mapStopReason converts Anthropic stop reasons to canonical finish reasons.
func mapStopReason(r anthropic.StopReason) string {
	switch r {
	case anthropic.StopReasonMaxTokens:
		return canonical.FinishLength
	case anthropic.StopReasonToolUse:
		return canonical.FinishToolCalls
	case anthropic.StopReasonRefusal:
		return canonical.FinishContentFilter
	default:
		return canonical.FinishStop
	}
}

func (p *Provider) handleResponse(
	ctx context.Context,
	req *providers.Request,
	params anthropic.MessageNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	msg, err := p.client.Messages.New(ctx, params, opts...)
	if err != nil {
		return nil, toProviderError(err)
	}

	var (
		sb        strings.Builder
		thinking  strings.Builder
		toolCalls []canonical.ToolCall
		citations []string
	)
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
			for _, cit := range v.Citations {
				if loc, ok := cit.AsAny().(anthropic.CitationsWebSearchResultLocation); ok {
					citations = append(citations, loc.URL)
				}
			}
		case anthropic.ThinkingBlock:
			thinking.WriteString(v.Thinking)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, canonical.ToolCall{
				ID:   v.ID,
				Type: "function",
				Function: canonical.ToolCallFunc{
					Name:      v.Name,
					Arguments: string(v.Input),
				},
			})
		}
	}

	usage := &canonical.Usage{
		PromptTokens:       int(msg.Usage.InputTokens) + int(msg.Usage.CacheReadInputTokens) + int(msg.Usage.CacheCreationInputTokens),
		CompletionTokens:   int(msg.Usage.OutputTokens),
		CachedPromptTokens: int(msg.Usage.CacheReadInputTokens),
	}
	usage.Finalize()

	return &canonical.Completion{
		ID:     msg.ID,
		Object: "chat.completion",
		Model:  string(msg.Model),
		Choices: []canonical.Choice{{
			Message: canonical.ResponseMessage{
				Role:             canonical.RoleAssistant,
				Content:          sb.String(),
				ReasoningContent: thinking.String(),
				ToolCalls:        toolCalls,
			},
			FinishReason: mapStopReason(msg.StopReason),
		}},
		Usage:     usage,
		Citations: citations,
	}, nil
}

func (p *Provider) handleStreaming(
	ctx context.Context,
	req *providers.Request,
	params anthropic.MessageNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	ch := make(chan canonical.Chunk, providers.StreamBuffer)
	stream := p.client.Messages.NewStreaming(ctx, params, opts...)

	go func() {
		defer close(ch)

		var (
			sb        strings.Builder
			usage     canonical.Usage
			finish    = canonical.FinishStop
			id        = req.RequestID
			model     = req.ModelName()
			toolIndex = -1
			toolSeen  int
		)

		for stream.Next() {
			ev := stream.Current()
			switch v := ev.AsAny().(type) {
			case anthropic.MessageStartEvent:
				id = v.Message.ID
				usage.PromptTokens = int(v.Message.Usage.InputTokens) +
					int(v.Message.Usage.CacheReadInputTokens) +
					int(v.Message.Usage.CacheCreationInputTokens)
				usage.CachedPromptTokens = int(v.Message.Usage.CacheReadInputTokens)

			case anthropic.ContentBlockStartEvent:
				if tu, ok := v.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					toolIndex = toolSeen
					toolSeen++
					ch <- canonical.Chunk{
						ID:     id,
						Object: "chat.completion.chunk",
						Model:  model,
						Choices: []canonical.ChunkChoice{{
							Delta: canonical.Delta{ToolCalls: []canonical.ToolCallDelta{{
								Index:    toolIndex,
								ID:       tu.ID,
								Type:     "function",
								Function: canonical.ToolCallFunc{Name: tu.Name},
							}}},
						}},
					}
				}

			case anthropic.ContentBlockDeltaEvent:
				switch d := v.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if d.Text != "" {
						sb.WriteString(d.Text)
						ch <- canonical.TextChunk(id, model, d.Text)
					}
				case anthropic.ThinkingDelta:
					if d.Thinking != "" {
						ch <- canonical.Chunk{
							ID:     id,
							Object: "chat.completion.chunk",
							Model:  model,
							Choices: []canonical.ChunkChoice{{
								Delta: canonical.Delta{ReasoningContent: d.Thinking},
							}},
						}
					}
				case anthropic.InputJSONDelta:
					if toolIndex >= 0 && d.PartialJSON != "" {
						ch <- canonical.Chunk{
							ID:     id,
							Object: "chat.completion.chunk",
							Model:  model,
							Choices: []canonical.ChunkChoice{{
								Delta: canonical.Delta{ToolCalls: []canonical.ToolCallDelta{{
									Index:    toolIndex,
									Function: canonical.ToolCallFunc{Arguments: d.PartialJSON},
								}}},
							}},
						}
					}
				}

			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(v.Usage.OutputTokens)
				if v.Delta.StopReason != "" {
					finish = mapStopReason(anthropic.StopReason(v.Delta.StopReason))
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- canonical.ErrorChunk(id, model, toProviderError(err))
			return
		}

		final := providers.MergeUsage(&usage, providers.EstimateUsage(req.Canonical, sb.String()))
		ch <- canonical.FinishChunk(id, model, finish, final)
	}()

	return &canonical.Completion{Stream: ch}, nil
}

func (p *Provider) requestOptions(overrideKey string) ([]option.RequestOption, error) {
	key := overrideKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}
	return []option.RequestOption{option.WithAPIKey(key)}, nil
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
	Retry      time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// RetryAfter implements providers.RetryAfterer.
func (e *ProviderError) RetryAfter() time.Duration { return e.Retry }

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		pe := &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
			Type:       "anthropic_error",
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
