// Package catalog is the static model and provider registry.
//
// The registry is compiled data, immutable after process start, and the single
// source of truth for pricing — nothing here is fetched dynamically. Adding a
// provider means adding a ProviderDefinition row plus mappings; adding a model
// means adding a ModelDefinition with its ordered provider mappings.
package catalog

import "strings"

// Stability classes, ordered best-first for routing.
type Stability string

const (
	Stable       Stability = "stable"
	Beta         Stability = "beta"
	Unstable     Stability = "unstable"
	Experimental Stability = "experimental"
)

// rank orders stabilities for the router (lower is better).
func (s Stability) rank() int {
	switch s {
	case Stable, "":
		return 0
	case Beta:
		return 1
	default:
		return 2
	}
}

// Capability names checked by the router and the translators.
type Capability string

const (
	CapStreaming  Capability = "streaming"
	CapVision     Capability = "vision"
	CapTools      Capability = "tools"
	CapReasoning  Capability = "reasoning"
	CapJSON       Capability = "json_output"
	CapJSONSchema Capability = "json_output_schema"
	CapWebSearch  Capability = "web_search"
	CapImageGen   Capability = "image_gen"
)

// CredentialKind selects the auth scheme a provider uses.
type CredentialKind string

const (
	CredBearer  CredentialKind = "bearer"
	CredHeader  CredentialKind = "api_key_header"
	CredSigV4   CredentialKind = "aws_sigv4"
	CredService CredentialKind = "google_service_account"
	CredAzure   CredentialKind = "azure_deployment"
)

const (
	// DefaultMinCacheableTokens applies when a mapping doesn't override it.
	DefaultMinCacheableTokens = 1024

	// AutoModel is the routing sentinel: the router picks the mapping.
	AutoModel = "auto"
)

type (
	// PricingTier is one volume tier. Tiers are ordered by UpToTokens
	// ascending; the last tier has UpToTokens == 0 meaning unbounded.
	PricingTier struct {
		UpToTokens  int
		InputPrice  float64 // USD per 1M tokens
		OutputPrice float64
	}

	// Capabilities is the per-mapping capability set.
	Capabilities struct {
		Streaming  bool
		Vision     bool
		Tools      bool
		Reasoning  bool
		JSON       bool
		JSONSchema bool
		WebSearch  bool
		ImageGen   bool
	}

	// ProviderMapping binds a model to one provider with pricing and limits.
	// Prices are USD per 1M tokens unless noted.
	ProviderMapping struct {
		Provider    string
		ModelName   string // name at the provider
		ContextSize int
		MaxOutput   int

		InputPrice       float64
		OutputPrice      float64
		CachedInputPrice float64
		ImageOutputPrice float64 // USD per image
		RequestPrice     float64 // USD per request
		WebSearchPrice   float64 // USD per 1k searches

		Discount     float64 // 0..1, multiplicative on the final charge
		PricingTiers []PricingTier

		Caps Capabilities

		SupportsResponsesAPI bool
		MinCacheableTokens   int
		Stability            Stability // overrides the model-level value
	}

	// ModelDefinition is one catalog entry with its ordered mappings
	// (preferred first).
	ModelDefinition struct {
		ID                 string
		Family             string
		Name               string
		Aliases            []string
		SupportsSystemRole bool
		OutputText         bool
		OutputImage        bool
		Free               bool
		Stability          Stability
		PublishedAt        string

		Providers []ProviderMapping
	}

	// ProviderDefinition is one upstream provider row.
	ProviderDefinition struct {
		ID         string
		Name       string
		BaseURL    string
		Color      string
		Credential CredentialKind
	}
)

// Has reports whether the mapping offers the capability.
func (m *ProviderMapping) Has(c Capability) bool {
	switch c {
	case CapStreaming:
		return m.Caps.Streaming
	case CapVision:
		return m.Caps.Vision
	case CapTools:
		return m.Caps.Tools
	case CapReasoning:
		return m.Caps.Reasoning
	case CapJSON:
		return m.Caps.JSON
	case CapJSONSchema:
		return m.Caps.JSONSchema
	case CapWebSearch:
		return m.Caps.WebSearch
	case CapImageGen:
		return m.Caps.ImageGen
	}
	return false
}

// EffectiveStability resolves the mapping-level override.
func (m *ProviderMapping) EffectiveStability(model *ModelDefinition) Stability {
	if m.Stability != "" {
		return m.Stability
	}
	if model.Stability != "" {
		return model.Stability
	}
	return Stable
}

// StabilityRank is the router ordering key (lower first).
func (m *ProviderMapping) StabilityRank(model *ModelDefinition) int {
	return m.EffectiveStability(model).rank()
}

// EffectivePrice is the router's price key: input+output per 1M tokens after
// the discount, using the first tier when tiered.
func (m *ProviderMapping) EffectivePrice() float64 {
	in, out := m.InputPrice, m.OutputPrice
	if len(m.PricingTiers) > 0 {
		in, out = m.PricingTiers[0].InputPrice, m.PricingTiers[0].OutputPrice
	}
	p := in + out
	if m.Discount > 0 && m.Discount < 1 {
		p *= 1 - m.Discount
	}
	return p
}

// CacheThresholdChars is the minimum text-block length, in characters, that
// receives a cache marker (≈4 chars per token).
func (m *ProviderMapping) CacheThresholdChars() int {
	min := m.MinCacheableTokens
	if min <= 0 {
		min = DefaultMinCacheableTokens
	}
	return min * 4
}

// FindModel resolves an id to a catalog entry: exact id, then alias, then —
// for non-prefixed ids — any mapping's provider-side model name.
func FindModel(id string) *ModelDefinition {
	if m, ok := modelsByID[id]; ok {
		return m
	}
	if m, ok := modelsByAlias[id]; ok {
		return m
	}
	if !strings.Contains(id, "/") {
		if m, ok := modelsByProviderName[id]; ok {
			return m
		}
	}
	return nil
}

// FindProviderMapping returns the ordered candidate mappings for a model.
// When providerID is non-empty only that provider's mappings are returned.
func FindProviderMapping(modelID, providerID string) []*ProviderMapping {
	model := FindModel(modelID)
	if model == nil {
		return nil
	}
	out := make([]*ProviderMapping, 0, len(model.Providers))
	for i := range model.Providers {
		mp := &model.Providers[i]
		if providerID != "" && mp.Provider != providerID {
			continue
		}
		out = append(out, mp)
	}
	return out
}

// HasCapability reports whether the given (model, provider) pair offers cap.
func HasCapability(modelID, providerID string, cap Capability) bool {
	for _, mp := range FindProviderMapping(modelID, providerID) {
		if mp.Has(cap) {
			return true
		}
	}
	return false
}

// FindProvider returns the provider definition by id, or nil.
func FindProvider(id string) *ProviderDefinition {
	for i := range Providers {
		if Providers[i].ID == id {
			return &Providers[i]
		}
	}
	return nil
}

// IsProviderID reports whether id names a registered provider.
func IsProviderID(id string) bool { return FindProvider(id) != nil }

// SplitModelID splits a possibly provider-prefixed model id. The prefix is
// honored only when it names a registered provider; model ids that contain a
// slash for other reasons (HuggingFace-style names) pass through intact.
func SplitModelID(id string) (providerID, modelID string) {
	if i := strings.Index(id, "/"); i > 0 {
		if IsProviderID(id[:i]) {
			return id[:i], id[i+1:]
		}
	}
	return "", id
}

// All returns every catalog model in registry order.
func All() []*ModelDefinition { return allModels }

var (
	modelsByID           = map[string]*ModelDefinition{}
	modelsByAlias        = map[string]*ModelDefinition{}
	modelsByProviderName = map[string]*ModelDefinition{}
	allModels            []*ModelDefinition
)

func init() {
	for i := range Models {
		m := &Models[i]
		allModels = append(allModels, m)
		modelsByID[m.ID] = m
		for _, a := range m.Aliases {
			if _, dup := modelsByAlias[a]; !dup {
				modelsByAlias[a] = m
			}
		}
		for _, mp := range m.Providers {
			if _, dup := modelsByProviderName[mp.ModelName]; !dup {
				modelsByProviderName[mp.ModelName] = m
			}
		}
	}
}
