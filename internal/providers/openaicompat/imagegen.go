package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
	"github.com/relaypoint/llm-gateway/internal/tokenizer"
)

// dashScopeImageURL is the DashScope multimodal generation endpoint used for
// Alibaba image models.
const dashScopeImageURL = "https://dashscope-intl.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"

// generateImage dispatches an image-generation request in the provider's
// native shape. The prompt is the concatenated text of the last user
// message.
func (p *Provider) generateImage(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	switch p.quirks.ImageGen {
	case "zai":
		return p.generateImageZAI(ctx, req)
	case "dashscope":
		return p.generateImageDashScope(ctx, req)
	default:
		return nil, fmt.Errorf("%s: image generation not supported", p.name)
	}
}

type zaiImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n,omitempty"`
}

type imageGenResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Image string `json:"image"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
}

// BuildZAIImageRequest maps the canonical request onto ZAI's image shape.
func BuildZAIImageRequest(req *providers.Request) zaiImageRequest {
	c := req.Canonical
	out := zaiImageRequest{
		Model:  req.ModelName(),
		Prompt: c.LastUserText(),
	}
	if ic := c.ImageConfig; ic != nil {
		out.Size = ic.ImageSize
		out.N = ic.N
	}
	return out
}

func (p *Provider) generateImageZAI(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	body := BuildZAIImageRequest(req)
	endpoint := p.quirks.ImageGenURL
	if endpoint == "" {
		endpoint = strings.TrimRight(p.baseURL, "/") + "/images/generations"
	}
	return p.postImage(ctx, req, endpoint, body)
}

type dashScopeImageRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []dashScopeMessage `json:"messages"`
	} `json:"input"`
	Parameters dashScopeParams `json:"parameters"`
}

type dashScopeMessage struct {
	Role    string              `json:"role"`
	Content []map[string]string `json:"content"`
}

type dashScopeParams struct {
	Watermark bool   `json:"watermark"`
	Size      string `json:"size,omitempty"`
	N         int    `json:"n,omitempty"`
	Seed      *int64 `json:"seed,omitempty"`
}

// BuildDashScopeImageRequest maps the canonical request onto the DashScope
// multimodal shape. Sizes arrive as "1024x1024" and leave as "1024*1024".
func BuildDashScopeImageRequest(req *providers.Request) dashScopeImageRequest {
	c := req.Canonical
	out := dashScopeImageRequest{Model: req.ModelName()}
	out.Input.Messages = []dashScopeMessage{{
		Role:    "user",
		Content: []map[string]string{{"text": c.LastUserText()}},
	}}
	out.Parameters.Watermark = false
	if ic := c.ImageConfig; ic != nil {
		out.Parameters.Size = strings.ReplaceAll(ic.ImageSize, "x", "*")
		out.Parameters.N = ic.N
		out.Parameters.Seed = ic.Seed
	}
	return out
}

func (p *Provider) generateImageDashScope(ctx context.Context, req *providers.Request) (*canonical.Completion, error) {
	body := BuildDashScopeImageRequest(req)
	endpoint := p.quirks.ImageGenURL
	if endpoint == "" {
		endpoint = dashScopeImageURL
	}
	return p.postImage(ctx, req, endpoint, body)
}

// postImage issues the request and normalizes either response shape into a
// canonical completion carrying image references.
func (p *Provider) postImage(ctx context.Context, req *providers.Request, endpoint string, body any) (*canonical.Completion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal: %w", p.name, err)
	}

	key := req.APIKey
	if key == "" {
		key = p.apiKey
	}
	if key == "" {
		return nil, fmt.Errorf("%s: no API key configured", p.name)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{
			Name:       p.name,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(raw)),
		}
	}

	var out imageGenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", p.name, err)
	}

	msg := canonical.ResponseMessage{Role: canonical.RoleAssistant}
	for _, d := range out.Data {
		switch {
		case d.URL != "":
			msg.Images = append(msg.Images, d.URL)
		case d.B64JSON != "":
			msg.Images = append(msg.Images, "data:image/png;base64,"+d.B64JSON)
		}
	}
	for _, choice := range out.Output.Choices {
		for _, content := range choice.Message.Content {
			if content.Image != "" {
				msg.Images = append(msg.Images, content.Image)
			}
		}
	}

	usage := &canonical.Usage{PromptTokens: tokenizer.Estimate(req.Canonical.LastUserText())}
	usage.Finalize()

	return &canonical.Completion{
		ID:      req.RequestID,
		Object:  "chat.completion",
		Model:   req.ModelName(),
		Choices: []canonical.Choice{{Message: msg, FinishReason: canonical.FinishStop}},
		Usage:   usage,
	}, nil
}
