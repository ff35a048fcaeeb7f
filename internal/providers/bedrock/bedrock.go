// Package bedrock implements the providers.Provider strategy for AWS Bedrock
// via the Converse API with SigV4 request signing.
//
// Required configuration:
//   - AWS_ACCESS_KEY_ID
//   - AWS_SECRET_ACCESS_KEY
//   - AWS_REGION (e.g. "us-east-1")
//
// Optional:
//   - AWS_SESSION_TOKEN — for temporary credentials (IAM roles, STS).
package bedrock

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

const (
	providerName = "bedrock"
	service      = "bedrock"
	algorithm    = "AWS4-HMAC-SHA256"

	// maxCachePoints is the per-request cachePoint cap, shared across the
	// system array and message content.
	maxCachePoints = 4
)

// Provider implements providers.Provider for AWS Bedrock.
type Provider struct {
	accessKey    string
	secretKey    string
	sessionToken string
	region       string
	endpointURL  string // optional override for the base endpoint (testing)
	client       *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithSessionToken sets the AWS session token for temporary credentials.
func WithSessionToken(token string) Option {
	return func(p *Provider) { p.sessionToken = token }
}

// WithEndpointURL overrides the Bedrock endpoint base URL (e.g. for local mocks).
func WithEndpointURL(u string) Option {
	return func(p *Provider) { p.endpointURL = u }
}

// New creates an AWS Bedrock Provider.
func New(accessKey, secretKey, region string, opts ...Option) *Provider {
	p := &Provider{
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		client:    &http.Client{Timeout: providers.AttemptTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Complete(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	if req.Canonical.Stream {
		return p.handleStreaming(ctx, req)
	}
	return p.handleResponse(ctx, req)
}

// ─── Converse API types ───────────────────────────────────────────────────────

type (
	converseRequest struct {
		Messages        []converseMessage `json:"messages"`
		System          []systemBlock     `json:"system,omitempty"`
		InferenceConfig *inferenceConfig  `json:"inferenceConfig,omitempty"`
		ToolConfig      *toolConfig       `json:"toolConfig,omitempty"`
	}

	converseMessage struct {
		Role    string         `json:"role"`
		Content []contentBlock `json:"content"`
	}

	// contentBlock is a union; exactly one field is set. A cachePoint is a
	// standalone block placed immediately after the text it covers.
	contentBlock struct {
		Text       string           `json:"text,omitempty"`
		CachePoint *cachePoint      `json:"cachePoint,omitempty"`
		ToolUse    *toolUseBlock    `json:"toolUse,omitempty"`
		ToolResult *toolResultBlock `json:"toolResult,omitempty"`
	}

	// systemBlock is a union of a text prompt and a cachePoint marker.
	systemBlock struct {
		Text       string      `json:"text,omitempty"`
		CachePoint *cachePoint `json:"cachePoint,omitempty"`
	}

	cachePoint struct {
		Type string `json:"type"` // always "default"
	}

	toolUseBlock struct {
		ToolUseID string `json:"toolUseId"`
		Name      string `json:"name"`
		Input     any    `json:"input"`
	}

	toolResultBlock struct {
		ToolUseID string         `json:"toolUseId"`
		Content   []contentBlock `json:"content"`
	}

	inferenceConfig struct {
		MaxTokens   int      `json:"maxTokens,omitempty"`
		Temperature *float64 `json:"temperature,omitempty"`
		TopP        *float64 `json:"topP,omitempty"`
	}

	toolConfig struct {
		Tools      []toolEntry `json:"tools"`
		ToolChoice *toolChoice `json:"toolChoice,omitempty"`
	}

	toolEntry struct {
		ToolSpec toolSpec `json:"toolSpec"`
	}

	toolSpec struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema toolInputSchema `json:"inputSchema"`
	}

	toolInputSchema struct {
		JSON json.RawMessage `json:"json"`
	}

	toolChoice struct {
		Tool *struct {
			Name string `json:"name"`
		} `json:"tool,omitempty"`
		Any  *struct{} `json:"any,omitempty"`
		Auto *struct{} `json:"auto,omitempty"`
	}

	converseResponse struct {
		Output struct {
			Message converseMessage `json:"message"`
		} `json:"output"`
		StopReason string        `json:"stopReason"`
		Usage      converseUsage `json:"usage"`
	}

	converseUsage struct {
		InputTokens          int `json:"inputTokens"`
		OutputTokens         int `json:"outputTokens"`
		CacheReadInputTokens int `json:"cacheReadInputTokens"`
	}
)

// ─── Request building ─────────────────────────────────────────────────────────

// BuildConverseRequest translates a canonical request into the Converse
// shape. The top-level OpenAI fields (model, stream, tools, tool_choice)
// never appear in the body; model rides in the URL and the rest map to
// Converse equivalents.
func BuildConverseRequest(req *providers.Request) (converseRequest, error) {
	c := req.Canonical
	threshold := req.Mapping.CacheThresholdChars()
	cachePoints := 0

	var system []systemBlock
	msgs := make([]converseMessage, 0, len(c.Messages))

	for _, m := range providers.NormalizeSystemRoles(c.Messages, req.Model.SupportsSystemRole) {
		switch m.Role {
		case canonical.RoleSystem:
			text := m.Content.Text()
			system = append(system, systemBlock{Text: text})
			if len(text) >= threshold && cachePoints < maxCachePoints {
				system = append(system, systemBlock{CachePoint: &cachePoint{Type: "default"}})
				cachePoints++
			}

		case canonical.RoleAssistant:
			blocks := textBlocks(m, threshold, &cachePoints)
			for _, call := range m.ToolCalls {
				blocks = append(blocks, contentBlock{ToolUse: &toolUseBlock{
					ToolUseID: call.ID,
					Name:      call.Function.Name,
					Input:     rawToInput(call.Function.Arguments),
				}})
			}
			msgs = append(msgs, converseMessage{Role: "assistant", Content: blocks})

		case canonical.RoleTool:
			msgs = append(msgs, converseMessage{Role: "user", Content: []contentBlock{{
				ToolResult: &toolResultBlock{
					ToolUseID: m.ToolCallID,
					Content:   []contentBlock{{Text: m.Content.Text()}},
				},
			}}})

		default: // user
			msgs = append(msgs, converseMessage{Role: "user", Content: textBlocks(m, threshold, &cachePoints)})
		}
	}

	cr := converseRequest{Messages: msgs, System: system}

	if c.MaxTokens > 0 || c.Temperature != nil || c.TopP != nil {
		cfg := &inferenceConfig{MaxTokens: c.MaxTokens}
		cfg.Temperature = c.Temperature
		cfg.TopP = c.TopP
		cr.InferenceConfig = cfg
	}

	if fns := c.FunctionTools(); len(fns) > 0 {
		tc := &toolConfig{}
		for _, t := range fns {
			tc.Tools = append(tc.Tools, toolEntry{ToolSpec: toolSpec{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: toolInputSchema{JSON: t.Function.Parameters},
			}})
		}
		if choice := c.ToolChoice; choice != nil {
			switch {
			case choice.Function != "":
				tc.ToolChoice = &toolChoice{Tool: &struct {
					Name string `json:"name"`
				}{Name: choice.Function}}
			case choice.Mode == "required":
				tc.ToolChoice = &toolChoice{Any: &struct{}{}}
			}
		}
		cr.ToolConfig = tc
	}

	return cr, nil
}

// textBlocks renders the message's text parts, inserting a cachePoint block
// immediately after each text long enough to cache, under the global cap.
func textBlocks(m canonical.Message, threshold int, cachePoints *int) []contentBlock {
	out := make([]contentBlock, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		if p.Type != "text" {
			continue
		}
		out = append(out, contentBlock{Text: p.Text})
		if len(p.Text) >= threshold && *cachePoints < maxCachePoints {
			out = append(out, contentBlock{CachePoint: &cachePoint{Type: "default"}})
			*cachePoints++
		}
	}
	return out
}

// CachePointCount counts cachePoint blocks across system and messages
// (exported for tests).
func CachePointCount(cr converseRequest) int {
	n := 0
	for _, s := range cr.System {
		if s.CachePoint != nil {
			n++
		}
	}
	for _, m := range cr.Messages {
		for _, b := range m.Content {
			if b.CachePoint != nil {
				n++
			}
		}
	}
	return n
}

func rawToInput(arguments string) any {
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return map[string]any{}
	}
	return v
}

func mapStopReason(r string) string {
	switch r {
	case "max_tokens":
		return canonical.FinishLength
	case "tool_use":
		return canonical.FinishToolCalls
	case "content_filtered", "guardrail_intervened":
		return canonical.FinishContentFilter
	default:
		return canonical.FinishStop
	}
}

// ─── Non-streaming ────────────────────────────────────────────────────────────

func (p *Provider) handleResponse(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	body, err := BuildConverseRequest(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: build request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal: %w", err)
	}

	resp, err := p.post(ctx, p.converseEndpoint(req.ModelName()), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseError(resp)
	}

	var cr converseResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	msg := canonical.ResponseMessage{Role: canonical.RoleAssistant}
	for _, b := range cr.Output.Message.Content {
		switch {
		case b.Text != "":
			msg.Content += b.Text
		case b.ToolUse != nil:
			args, _ := json.Marshal(b.ToolUse.Input)
			msg.ToolCalls = append(msg.ToolCalls, canonical.ToolCall{
				ID:       b.ToolUse.ToolUseID,
				Type:     "function",
				Function: canonical.ToolCallFunc{Name: b.ToolUse.Name, Arguments: string(args)},
			})
		}
	}

	usage := &canonical.Usage{
		PromptTokens:       cr.Usage.InputTokens,
		CompletionTokens:   cr.Usage.OutputTokens,
		CachedPromptTokens: cr.Usage.CacheReadInputTokens,
	}
	usage.Finalize()

	return &canonical.Completion{
		ID:      req.RequestID,
		Object:  "chat.completion",
		Model:   req.ModelName(),
		Choices: []canonical.Choice{{Message: msg, FinishReason: mapStopReason(cr.StopReason)}},
		Usage:   usage,
	}, nil
}

// ─── Streaming ────────────────────────────────────────────────────────────────

type streamEvent struct {
	ContentBlockStart *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
		Start             struct {
			ToolUse *struct {
				ToolUseID string `json:"toolUseId"`
				Name      string `json:"name"`
			} `json:"toolUse"`
		} `json:"start"`
	} `json:"contentBlockStart"`
	ContentBlockDelta *struct {
		ContentBlockIndex int `json:"contentBlockIndex"`
		Delta             struct {
			Text    string `json:"text"`
			ToolUse *struct {
				Input string `json:"input"`
			} `json:"toolUse"`
		} `json:"delta"`
	} `json:"contentBlockDelta"`
	MessageStop *struct {
		StopReason string `json:"stopReason"`
	} `json:"messageStop"`
	Metadata *struct {
		Usage converseUsage `json:"usage"`
	} `json:"metadata"`
}

func (p *Provider) handleStreaming(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	body, err := BuildConverseRequest(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: build request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal: %w", err)
	}

	resp, err := p.post(ctx, p.converseStreamEndpoint(req.ModelName()), payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.parseError(resp)
	}

	ch := make(chan canonical.Chunk, providers.StreamBuffer)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		var (
			sb       strings.Builder
			usage    canonical.Usage
			finish   = canonical.FinishStop
			id       = req.RequestID
			model    = req.ModelName()
			toolIdx  = -1
			toolSeen int
		)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			switch {
			case ev.ContentBlockStart != nil && ev.ContentBlockStart.Start.ToolUse != nil:
				tu := ev.ContentBlockStart.Start.ToolUse
				toolIdx = toolSeen
				toolSeen++
				ch <- canonical.Chunk{
					ID: id, Object: "chat.completion.chunk", Model: model,
					Choices: []canonical.ChunkChoice{{
						Delta: canonical.Delta{ToolCalls: []canonical.ToolCallDelta{{
							Index:    toolIdx,
							ID:       tu.ToolUseID,
							Type:     "function",
							Function: canonical.ToolCallFunc{Name: tu.Name},
						}}},
					}},
				}

			case ev.ContentBlockDelta != nil:
				d := ev.ContentBlockDelta.Delta
				if d.Text != "" {
					sb.WriteString(d.Text)
					ch <- canonical.TextChunk(id, model, d.Text)
				}
				if d.ToolUse != nil && toolIdx >= 0 && d.ToolUse.Input != "" {
					ch <- canonical.Chunk{
						ID: id, Object: "chat.completion.chunk", Model: model,
						Choices: []canonical.ChunkChoice{{
							Delta: canonical.Delta{ToolCalls: []canonical.ToolCallDelta{{
								Index:    toolIdx,
								Function: canonical.ToolCallFunc{Arguments: d.ToolUse.Input},
							}}},
						}},
					}
				}

			case ev.MessageStop != nil:
				finish = mapStopReason(ev.MessageStop.StopReason)

			case ev.Metadata != nil:
				usage.PromptTokens = ev.Metadata.Usage.InputTokens
				usage.CompletionTokens = ev.Metadata.Usage.OutputTokens
				usage.CachedPromptTokens = ev.Metadata.Usage.CacheReadInputTokens
			}
		}

		if err := scanner.Err(); err != nil {
			ch <- canonical.ErrorChunk(id, model, fmt.Errorf("bedrock: stream: %w", err))
			return
		}

		final := providers.MergeUsage(&usage, providers.EstimateUsage(req.Canonical, sb.String()))
		ch <- canonical.FinishChunk(id, model, finish, final)
	}()

	return &canonical.Completion{Stream: ch}, nil
}

// ─── Transport ───────────────────────────────────────────────────────────────

func (p *Provider) post(ctx context.Context, endpoint string, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := p.signRequest(httpReq, payload); err != nil {
		return nil, fmt.Errorf("bedrock: sign: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	return resp, nil
}

func (p *Provider) converseEndpoint(modelID string) string {
	if p.endpointURL != "" {
		return fmt.Sprintf("%s/model/%s/converse", strings.TrimRight(p.endpointURL, "/"), modelID)
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/converse", p.region, modelID)
}

func (p *Provider) converseStreamEndpoint(modelID string) string {
	if p.endpointURL != "" {
		return fmt.Sprintf("%s/model/%s/converse-stream", strings.TrimRight(p.endpointURL, "/"), modelID)
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/converse-stream", p.region, modelID)
}

// ─── AWS SigV4 signing ────────────────────────────────────────────────────────

func (p *Provider) signRequest(req *http.Request, payload []byte) error {
	now := time.Now().UTC()
	datestamp := now.Format("20060102")
	amzdate := now.Format("20060102T150405Z")

	req.Header.Set("X-Amz-Date", amzdate)
	if p.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", p.sessionToken)
	}

	payloadHash := sha256Hex(payload)

	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	req.Header.Set("Host", host)

	signedHeaders := "content-type;host;x-amz-date"
	canonicalHeaders := fmt.Sprintf(
		"content-type:%s\nhost:%s\nx-amz-date:%s\n",
		req.Header.Get("Content-Type"), host, amzdate,
	)
	if p.sessionToken != "" {
		signedHeaders = "content-type;host;x-amz-date;x-amz-security-token"
		canonicalHeaders = fmt.Sprintf(
			"content-type:%s\nhost:%s\nx-amz-date:%s\nx-amz-security-token:%s\n",
			req.Header.Get("Content-Type"), host, amzdate, p.sessionToken,
		)
	}

	canonicalURI := req.URL.Path
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", datestamp, p.region, service)

	stringToSign := strings.Join([]string{
		algorithm,
		amzdate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(p.secretKey, datestamp, p.region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, p.accessKey, credentialScope, signedHeaders, signature,
	))

	return nil
}

func deriveSigningKey(secretKey, date, region, svc string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, svc)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ─── Error handling ───────────────────────────────────────────────────────────

type bedrockError struct {
	Message string `json:"message"`
	Type    string `json:"__type"`
}

// ProviderError is a structured error returned by the Bedrock API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("bedrock: %s (status=%d)", e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var be bedrockError
	if json.Unmarshal(body, &be) == nil && be.Message != "" {
		return &ProviderError{StatusCode: resp.StatusCode, Message: be.Message}
	}
	return &ProviderError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
	}
}
