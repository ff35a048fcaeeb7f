package proxy

import (
	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/catalog"
)

type (
	modelPricing struct {
		Provider         string  `json:"provider"`
		InputPrice       float64 `json:"input_price"`
		OutputPrice      float64 `json:"output_price"`
		CachedInputPrice float64 `json:"cached_input_price,omitempty"`
		ImageOutputPrice float64 `json:"image_output_price,omitempty"`
		RequestPrice     float64 `json:"request_price,omitempty"`
		Discount         float64 `json:"discount,omitempty"`
		ContextSize      int     `json:"context_size"`
		MaxOutput        int     `json:"max_output,omitempty"`
	}

	modelCapabilities struct {
		Streaming  bool `json:"streaming"`
		Vision     bool `json:"vision"`
		Tools      bool `json:"tools"`
		Reasoning  bool `json:"reasoning"`
		JSONOutput bool `json:"json_output"`
		WebSearch  bool `json:"web_search"`
		ImageGen   bool `json:"image_gen"`
	}

	modelEntry struct {
		ID           string            `json:"id"`
		Object       string            `json:"object"`
		Name         string            `json:"name,omitempty"`
		Family       string            `json:"family"`
		OwnedBy      string            `json:"owned_by"`
		Free         bool              `json:"free,omitempty"`
		Stability    string            `json:"stability,omitempty"`
		Capabilities modelCapabilities `json:"capabilities"`
		Pricing      []modelPricing    `json:"pricing"`
	}

	modelList struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
)

// handleModels serves GET /v1/models: the public catalog restricted to
// models with at least one configured provider.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	out := modelList{Object: "list"}

	for _, m := range catalog.All() {
		entry := modelEntry{
			ID:        m.ID,
			Object:    "model",
			Name:      m.Name,
			Family:    m.Family,
			Free:      m.Free,
			Stability: string(m.Stability),
		}
		for _, mp := range m.Providers {
			if !g.available(mp.Provider) {
				continue
			}
			if entry.OwnedBy == "" {
				entry.OwnedBy = mp.Provider
			}
			entry.Capabilities.Streaming = entry.Capabilities.Streaming || mp.Caps.Streaming
			entry.Capabilities.Vision = entry.Capabilities.Vision || mp.Caps.Vision
			entry.Capabilities.Tools = entry.Capabilities.Tools || mp.Caps.Tools
			entry.Capabilities.Reasoning = entry.Capabilities.Reasoning || mp.Caps.Reasoning
			entry.Capabilities.JSONOutput = entry.Capabilities.JSONOutput || mp.Caps.JSON
			entry.Capabilities.WebSearch = entry.Capabilities.WebSearch || mp.Caps.WebSearch
			entry.Capabilities.ImageGen = entry.Capabilities.ImageGen || mp.Caps.ImageGen
			entry.Pricing = append(entry.Pricing, modelPricing{
				Provider:         mp.Provider,
				InputPrice:       mp.InputPrice,
				OutputPrice:      mp.OutputPrice,
				CachedInputPrice: mp.CachedInputPrice,
				ImageOutputPrice: mp.ImageOutputPrice,
				RequestPrice:     mp.RequestPrice,
				Discount:         mp.Discount,
				ContextSize:      mp.ContextSize,
				MaxOutput:        mp.MaxOutput,
			})
		}
		if len(entry.Pricing) > 0 {
			out.Data = append(out.Data, entry)
		}
	}

	writeJSON(ctx, out)
}

// imageModels returns the ids of configured image-output models.
func (g *Gateway) imageModels() []string {
	var out []string
	for _, m := range catalog.All() {
		if !m.OutputImage {
			continue
		}
		for _, mp := range m.Providers {
			if g.available(mp.Provider) {
				out = append(out, m.ID)
				break
			}
		}
	}
	return out
}
