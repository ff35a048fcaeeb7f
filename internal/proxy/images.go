package proxy

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/pkg/apierr"
)

type (
	// inboundImageRequest mirrors the OpenAI POST /v1/images/generations body.
	inboundImageRequest struct {
		Prompt string `json:"prompt"`
		Model  string `json:"model"`
		Size   string `json:"size,omitempty"`
		N      int    `json:"n,omitempty"`
	}

	outboundImageData struct {
		URL     string `json:"url,omitempty"`
		B64JSON string `json:"b64_json,omitempty"`
	}

	outboundImageResponse struct {
		Created int64               `json:"created"`
		Data    []outboundImageData `json:"data"`
	}
)

// dispatchImages handles POST /v1/images/generations by rewriting the body
// into a canonical chat request against an image-output model and reusing
// the chat dispatch pipeline.
func (g *Gateway) dispatchImages(ctx *fasthttp.RequestCtx) {
	if g.closing.Load() {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "shutting down", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	g.inflight.Add(1)
	defer g.inflight.Done()

	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)

	var req inboundImageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalidRequest(ctx, "invalid JSON: "+err.Error())
		return
	}
	if req.Model == "" {
		apierr.WriteInvalidRequest(ctx, "field 'model' is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		apierr.WriteInvalidRequest(ctx, "field 'prompt' is required")
		return
	}

	caller, ok := g.resolveCaller(ctx)
	if !ok {
		return
	}

	creq := &canonical.ChatRequest{
		Model: req.Model,
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: canonical.TextContent(req.Prompt)},
		},
		ImageConfig: &canonical.ImageConfig{ImageSize: req.Size, N: req.N},
	}
	flags := parseFlags(ctx, g.noFallbackEnv)

	candidates := BuildCandidates(RouteInput{
		ModelID:    req.Model,
		Request:    creq,
		Caller:     caller,
		NoFallback: flags.NoFallback,
		Available:  g.available,
	})
	if len(candidates) == 0 {
		apierr.WriteNoEligibleProvider(ctx, req.Model)
		return
	}

	outcome, err := g.completeWithFailover(ctx, creq, candidates, flags.NoFallback, reqID)
	if err != nil {
		g.writeDispatchError(ctx, reqID, creq, caller, err, time.Since(start))
		return
	}

	out := outboundImageResponse{Created: time.Now().Unix()}
	for _, choice := range outcome.completion.Choices {
		for _, img := range choice.Message.Images {
			if strings.HasPrefix(img, "data:") {
				if i := strings.Index(img, ";base64,"); i > 0 {
					out.Data = append(out.Data, outboundImageData{B64JSON: img[i+len(";base64,"):]})
					continue
				}
			}
			out.Data = append(out.Data, outboundImageData{URL: img})
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)

	g.account(accountInput{
		RequestID: reqID,
		Caller:    caller,
		Candidate: outcome.candidate,
		Request:   creq,
		Usage:     outcome.completion.Usage,
		ImagesOut: len(out.Data),
		Status:    fasthttp.StatusOK,
		Latency:   time.Since(start),
	})
}
