package openai

import (
	"context"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	openaiShared "github.com/openai/openai-go/v3/shared"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

// BuildResponsesParams translates a canonical request into the Responses API
// shape: messages become input items, assistant tool_calls are dropped, tool
// results are re-rolled as user turns, tools are flattened to the top level,
// and reasoning is always requested with a detailed summary.
func BuildResponsesParams(req *providers.Request) responses.ResponseNewParams {
	c := req.Canonical
	modelName := req.ModelName()

	params := responses.ResponseNewParams{
		Model: openaiShared.ResponsesModel(modelName),
	}

	input := make(responses.ResponseInputParam, 0, len(c.Messages))
	for _, m := range providers.NormalizeSystemRoles(c.Messages, req.Model.SupportsSystemRole) {
		role := m.Role
		// The Responses API has no tool role; results continue the
		// conversation as user turns. Assistant tool_calls are not replayed.
		if role == canonical.RoleTool {
			role = canonical.RoleUser
		}
		text := m.Content.Text()
		if text == "" {
			continue
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRole(role)))
	}
	params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: input}

	if c.MaxTokens > 0 {
		params.MaxOutputTokens = openaiSDK.Int(int64(c.MaxTokens))
	}
	if c.Temperature != nil && !isGPT5(modelName) {
		params.Temperature = openaiSDK.Float(*c.Temperature)
	}

	effort := c.ReasoningEffort
	if effort == "" {
		effort = canonical.EffortMedium
	}
	if modelName == "gpt-5-pro" {
		effort = canonical.EffortHigh
	}
	params.Reasoning = openaiShared.ReasoningParam{
		Effort:  openaiShared.ReasoningEffort(effort),
		Summary: openaiShared.ReasoningSummaryDetailed,
	}

	for _, t := range c.FunctionTools() {
		fn := responses.FunctionToolParam{
			Name:       t.Function.Name,
			Parameters: rawToParameters(t.Function.Parameters),
		}
		if t.Function.Description != "" {
			fn.Description = openaiSDK.String(t.Function.Description)
		}
		if t.Function.Strict != nil {
			fn.Strict = openaiSDK.Bool(*t.Function.Strict)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{OfFunction: &fn})
	}

	return params
}

func (p *Provider) completeResponses(
	ctx context.Context,
	req *providers.Request,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	params := BuildResponsesParams(req)

	if req.Canonical.Stream {
		return p.streamResponses(ctx, req, params, opts...)
	}

	resp, err := p.client.Responses.New(ctx, params, opts...)
	if err != nil {
		return nil, toProviderError(err)
	}
	return translateResponsesResult(resp, req), nil
}

func translateResponsesResult(resp *responses.Response, req *providers.Request) *canonical.Completion {
	usage := &canonical.Usage{
		PromptTokens:       int(resp.Usage.InputTokens),
		CompletionTokens:   int(resp.Usage.OutputTokens),
		CachedPromptTokens: int(resp.Usage.InputTokensDetails.CachedTokens),
		ReasoningTokens:    int(resp.Usage.OutputTokensDetails.ReasoningTokens),
	}
	usage.Finalize()

	msg := canonical.ResponseMessage{Role: canonical.RoleAssistant, Content: resp.OutputText()}
	finish := canonical.FinishStop

	for _, item := range resp.Output {
		switch v := item.AsAny().(type) {
		case responses.ResponseFunctionToolCall:
			msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
				ID:   v.CallID,
				Type: "function",
				Function: canonical.ToolCallFunc{
					Name:      v.Name,
					Arguments: v.Arguments,
				},
			})
			finish = canonical.FinishToolCalls
		case responses.ResponseReasoningItem:
			var sb strings.Builder
			for _, s := range v.Summary {
				sb.WriteString(s.Text)
			}
			msg.ReasoningContent = sb.String()
		}
	}

	id := resp.ID
	if id == "" {
		id = req.RequestID
	}
	return &canonical.Completion{
		ID:      id,
		Object:  "chat.completion",
		Model:   req.ModelName(),
		Choices: []canonical.Choice{{Message: msg, FinishReason: finish}},
		Usage:   usage,
	}
}

func (p *Provider) streamResponses(
	ctx context.Context,
	req *providers.Request,
	params responses.ResponseNewParams,
	opts ...option.RequestOption,
) (*canonical.Completion, error) {
	ch := make(chan canonical.Chunk, providers.StreamBuffer)
	stream := p.client.Responses.NewStreaming(ctx, params, opts...)

	go func() {
		defer close(ch)

		var (
			sb    strings.Builder
			usage *canonical.Usage
			id    = req.RequestID
			model = req.ModelName()
		)

		for stream.Next() {
			ev := stream.Current()
			switch v := ev.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				sb.WriteString(v.Delta)
				ch <- canonical.TextChunk(id, model, v.Delta)
			case responses.ResponseReasoningSummaryTextDeltaEvent:
				ch <- canonical.Chunk{
					ID:     id,
					Object: "chat.completion.chunk",
					Model:  model,
					Choices: []canonical.ChunkChoice{{
						Delta: canonical.Delta{ReasoningContent: v.Delta},
					}},
				}
			case responses.ResponseCompletedEvent:
				usage = &canonical.Usage{
					PromptTokens:       int(v.Response.Usage.InputTokens),
					CompletionTokens:   int(v.Response.Usage.OutputTokens),
					CachedPromptTokens: int(v.Response.Usage.InputTokensDetails.CachedTokens),
					ReasoningTokens:    int(v.Response.Usage.OutputTokensDetails.ReasoningTokens),
				}
				if v.Response.ID != "" {
					id = v.Response.ID
				}
			}
		}

		if err := stream.Err(); err != nil {
			ch <- canonical.ErrorChunk(id, model, toProviderError(err))
			return
		}

		usage = providers.MergeUsage(usage, providers.EstimateUsage(req.Canonical, sb.String()))
		ch <- canonical.FinishChunk(id, model, canonical.FinishStop, usage)
	}()

	return &canonical.Completion{Stream: ch}, nil
}
