// Package google implements the providers.Provider strategy for the Gemini
// API — Google AI Studio by default, Vertex AI when constructed with a
// project/location pair (the translation is identical; only auth differs).
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

const providerName = "google"

// Thinking budgets per reasoning effort.
var thinkingBudgets = map[string]int32{
	canonical.EffortMinimal: 512,
	canonical.EffortLow:     2048,
	canonical.EffortMedium:  8192,
	canonical.EffortHigh:    24576,
}

// Provider implements providers.Provider for Gemini.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	client  *genai.Client

	httpClient *http.Client
	cfgBase    genai.ClientConfig
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates an AI Studio Provider.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	p := &Provider{name: providerName, apiKey: apiKey}
	for _, o := range opts {
		o(p)
	}
	p.httpClient = &http.Client{Timeout: providers.AttemptTimeout}
	p.cfgBase = genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		p.cfgBase.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}

	client, err := genai.NewClient(ctx, &p.cfgBase)
	if err != nil {
		return nil, fmt.Errorf("google: client: %w", err)
	}
	p.client = client
	return p, nil
}

// NewVertex creates a Vertex AI Provider authenticated via ADC.
func NewVertex(ctx context.Context, project, location string) (*Provider, error) {
	if location == "" {
		location = "us-central1"
	}
	p := &Provider{name: "vertexai"}
	p.httpClient = &http.Client{Timeout: providers.AttemptTimeout}
	p.cfgBase = genai.ClientConfig{
		Backend:    genai.BackendVertexAI,
		Project:    project,
		Location:   location,
		HTTPClient: p.httpClient,
	}
	client, err := genai.NewClient(ctx, &p.cfgBase)
	if err != nil {
		return nil, fmt.Errorf("vertexai: client: %w", err)
	}
	p.client = client
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	contents, cfg, err := BuildGenerateParams(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}

	client, err := p.clientForKey(ctx, req.APIKey)
	if err != nil {
		return nil, err
	}

	if req.Canonical.Stream {
		return p.handleStreaming(ctx, client, req, contents, cfg)
	}
	return p.handleResponse(ctx, client, req, contents, cfg)
}

// BuildGenerateParams translates a canonical request into contents plus a
// generation config.
func BuildGenerateParams(req *providers.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	c := req.Canonical
	cfg := &genai.GenerateContentConfig{}

	var systemParts []*genai.Part
	contents := make([]*genai.Content, 0, len(c.Messages))

	for _, m := range providers.NormalizeSystemRoles(c.Messages, req.Model.SupportsSystemRole) {
		switch m.Role {
		case canonical.RoleSystem:
			systemParts = append(systemParts, genai.NewPartFromText(m.Content.Text()))

		case canonical.RoleAssistant:
			parts := messageParts(m)
			for _, call := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: call.Function.Name,
					Args: rawToMap(call.Function.Arguments),
				}})
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})

		case canonical.RoleTool:
			// Tool results attach as user-role function responses.
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					Name:     m.Name,
					Response: map[string]any{"result": m.Content.Text()},
				}}},
			})

		default: // user
			contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: messageParts(m)})
		}
	}

	if len(systemParts) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: systemParts}
	}

	if c.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*c.Temperature))
	}
	if c.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*c.TopP))
	}
	if c.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.MaxTokens)
	}

	if fns := c.FunctionTools(); len(fns) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(fns))
		for _, t := range fns {
			schema, err := parameterSchema(t.Function.Parameters)
			if err != nil {
				return nil, nil, fmt.Errorf("tool %s: %w", t.Function.Name, err)
			}
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  schema,
			})
		}
		cfg.Tools = append(cfg.Tools, &genai.Tool{FunctionDeclarations: decls})
	}

	if rf := c.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			cfg.ResponseMIMEType = "application/json"
		case "json_schema":
			if rf.JSONSchema == nil {
				return nil, nil, fmt.Errorf("response_format json_schema requires a schema")
			}
			cfg.ResponseMIMEType = "application/json"
			schema, err := parameterSchema(rf.JSONSchema.Schema)
			if err != nil {
				return nil, nil, err
			}
			cfg.ResponseSchema = schema
		}
	}

	if req.ReasoningRequested() {
		budget := thinkingBudgets[c.ReasoningEffort]
		if budget == 0 {
			budget = thinkingBudgets[canonical.EffortMedium]
		}
		cfg.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(budget),
		}
	}

	if c.ImageConfig != nil && req.Mapping.Caps.ImageGen {
		cfg.ResponseModalities = []string{"TEXT", "IMAGE"}
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: c.ImageConfig.AspectRatio,
			ImageSize:   c.ImageConfig.ImageSize,
		}
	}

	if c.WantsWebSearch() && req.Mapping.Caps.WebSearch {
		cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	cfg.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
	}

	return contents, cfg, nil
}

// messageParts converts canonical parts to genai parts.
func messageParts(m canonical.Message) []*genai.Part {
	out := make([]*genai.Part, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				out = append(out, genai.NewPartFromText(p.Text))
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			if mediaType, data, ok := splitDataURL(p.ImageURL.URL); ok {
				if raw, err := base64.StdEncoding.DecodeString(data); err == nil {
					out = append(out, &genai.Part{InlineData: &genai.Blob{MIMEType: mediaType, Data: raw}})
				}
			} else {
				out = append(out, &genai.Part{FileData: &genai.FileData{FileURI: p.ImageURL.URL}})
			}
		}
	}
	return out
}

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

func rawToMap(arguments string) map[string]any {
	var v map[string]any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return map[string]any{}
	}
	return v
}

// parameterSchema runs the two-pass transform on a raw JSON schema:
// CleanSchema strips the vendor-rejected keys, ConvertSchema uppercases type
// names and maps the supported keywords.
func parameterSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return ConvertSchema(CleanSchema(m)), nil
}

// CleanSchema recursively removes additionalProperties and $schema. The
// removal is independent of the type-name conversion done by ConvertSchema.
func CleanSchema(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "additionalProperties" || k == "$schema" {
			continue
		}
		out[k] = cleanValue(v)
	}
	return out
}

func cleanValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CleanSchema(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cleanValue(e)
		}
		return out
	default:
		return v
	}
}

// ConvertSchema translates a cleaned JSON schema into the genai shape,
// uppercasing type names and recursing through properties and items.
func ConvertSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if f, ok := m["format"].(string); ok {
		s.Format = f
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				s.Properties[name] = ConvertSchema(subMap)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = ConvertSchema(items)
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}
	return s
}

func (p *Provider) handleResponse(
	ctx context.Context,
	client *genai.Client,
	req *providers.Request,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*canonical.Completion, error) {
	resp, err := client.Models.GenerateContent(ctx, req.ModelName(), contents, cfg)
	if err != nil {
		return nil, toProviderError(p.name, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &ProviderError{Name: p.name, StatusCode: 502, Message: "empty response"}
	}

	cand := resp.Candidates[0]
	msg := canonical.ResponseMessage{Role: canonical.RoleAssistant}
	var toolIdx int
	for _, part := range cand.Content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.Thought && part.Text != "":
			msg.ReasoningContent += part.Text
		case part.Text != "":
			msg.Content += part.Text
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
				ID:       fmt.Sprintf("call_%d", toolIdx),
				Type:     "function",
				Function: canonical.ToolCallFunc{Name: part.FunctionCall.Name, Arguments: string(args)},
			})
			toolIdx++
		case part.InlineData != nil:
			msg.Images = append(msg.Images, "data:"+part.InlineData.MIMEType+";base64,"+
				base64.StdEncoding.EncodeToString(part.InlineData.Data))
		}
	}

	finish := mapFinishReason(cand.FinishReason, len(msg.ToolCalls) > 0)

	usage := &canonical.Usage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.CachedPromptTokens = int(resp.UsageMetadata.CachedContentTokenCount)
		usage.ReasoningTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
	}
	usage.Finalize()

	id := req.RequestID
	if resp.ResponseID != "" {
		id = resp.ResponseID
	}

	return &canonical.Completion{
		ID:        id,
		Object:    "chat.completion",
		Model:     req.ModelName(),
		Choices:   []canonical.Choice{{Message: msg, FinishReason: finish}},
		Usage:     usage,
		Citations: groundingCitations(cand),
	}, nil
}

func (p *Provider) handleStreaming(
	ctx context.Context,
	client *genai.Client,
	req *providers.Request,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*canonical.Completion, error) {
	ch := make(chan canonical.Chunk, providers.StreamBuffer)

	go func() {
		defer close(ch)

		var (
			sb        strings.Builder
			usage     canonical.Usage
			finish    = canonical.FinishStop
			citations []string
			id        = req.RequestID
			model     = req.ModelName()
			toolIdx   int
		)

		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				ch <- canonical.ErrorChunk(id, model, toProviderError(p.name, err))
				return
			}
			if resp == nil {
				continue
			}
			if resp.ResponseID != "" {
				id = resp.ResponseID
			}
			if resp.UsageMetadata != nil {
				usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				usage.CachedPromptTokens = int(resp.UsageMetadata.CachedContentTokenCount)
				usage.ReasoningTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}
			cand := resp.Candidates[0]
			if cand.FinishReason != "" {
				finish = mapFinishReason(cand.FinishReason, false)
			}
			if cits := groundingCitations(cand); len(cits) > 0 {
				citations = append(citations, cits...)
			}
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				switch {
				case part.Thought && part.Text != "":
					ch <- canonical.Chunk{
						ID: id, Object: "chat.completion.chunk", Model: model,
						Choices: []canonical.ChunkChoice{{
							Delta: canonical.Delta{ReasoningContent: part.Text},
						}},
					}
				case part.Text != "":
					sb.WriteString(part.Text)
					ch <- canonical.TextChunk(id, model, part.Text)
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					ch <- canonical.Chunk{
						ID: id, Object: "chat.completion.chunk", Model: model,
						Choices: []canonical.ChunkChoice{{
							Delta: canonical.Delta{ToolCalls: []canonical.ToolCallDelta{{
								Index: toolIdx,
								ID:    fmt.Sprintf("call_%d", toolIdx),
								Type:  "function",
								Function: canonical.ToolCallFunc{
									Name:      part.FunctionCall.Name,
									Arguments: string(args),
								},
							}}},
						}},
					}
					toolIdx++
					finish = canonical.FinishToolCalls
				}
			}
		}

		// Citations ride on the last non-usage chunk.
		if len(citations) > 0 {
			ch <- canonical.Chunk{
				ID: id, Object: "chat.completion.chunk", Model: model,
				Choices:   []canonical.ChunkChoice{{Delta: canonical.Delta{}}},
				Citations: dedupe(citations),
			}
		}

		final := providers.MergeUsage(&usage, providers.EstimateUsage(req.Canonical, sb.String()))
		ch <- canonical.FinishChunk(id, model, finish, final)
	}()

	return &canonical.Completion{Stream: ch}, nil
}

func groundingCitations(cand *genai.Candidate) []string {
	if cand == nil || cand.GroundingMetadata == nil {
		return nil
	}
	var out []string
	for _, chunk := range cand.GroundingMetadata.GroundingChunks {
		if chunk != nil && chunk.Web != nil && chunk.Web.URI != "" {
			out = append(out, chunk.Web.URI)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func mapFinishReason(r genai.FinishReason, hasToolCalls bool) string {
	switch r {
	case genai.FinishReasonMaxTokens:
		return canonical.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		return canonical.FinishContentFilter
	default:
		if hasToolCalls {
			return canonical.FinishToolCalls
		}
		return canonical.FinishStop
	}
}

// clientForKey returns the shared client, or a per-request one when a BYOK
// key overrides the configured credential.
func (p *Provider) clientForKey(ctx context.Context, overrideKey string) (*genai.Client, error) {
	if overrideKey == "" || overrideKey == p.apiKey {
		if p.client == nil {
			return nil, fmt.Errorf("%s: no credential configured", p.name)
		}
		return p.client, nil
	}
	cfg := p.cfgBase
	cfg.APIKey = overrideKey
	client, err := genai.NewClient(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: override client: %w", p.name, err)
	}
	return client, nil
}

// ProviderError is a structured error returned by the Gemini API.
type ProviderError struct {
	Name       string
	StatusCode int
	Message    string
	Status     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d, %s)", e.Name, e.Message, e.StatusCode, e.Status)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(name string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Name:       name,
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Status:     apiErr.Status,
		}
	}
	return err
}
