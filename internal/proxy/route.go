package proxy

import (
	"sort"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/identity"
)

// Candidate is one routable (model, mapping) pair with its resolved
// credential source.
type Candidate struct {
	Model   *catalog.ModelDefinition
	Mapping *catalog.ProviderMapping
	// Pinned marks the provider the caller named in the model id.
	Pinned bool
	// BYOK is the organization-supplied credential, nil when the
	// gateway-managed one applies.
	BYOK *identity.BYOKCredential
}

// RouteInput carries everything candidate selection needs.
type RouteInput struct {
	ModelID    string
	Request    *canonical.ChatRequest
	Caller     *identity.Caller
	BYOKCreds  []identity.BYOKCredential
	NoFallback bool
	// Available reports whether the gateway has a client for the provider.
	Available func(providerID string) bool
}

// requiredCapabilities derives the capability filter from the request.
func requiredCapabilities(c *canonical.ChatRequest) []catalog.Capability {
	var caps []catalog.Capability
	if c.Stream {
		caps = append(caps, catalog.CapStreaming)
	}
	if len(c.FunctionTools()) > 0 {
		caps = append(caps, catalog.CapTools)
	}
	if c.HasImageInput() {
		caps = append(caps, catalog.CapVision)
	}
	if c.WantsWebSearch() {
		caps = append(caps, catalog.CapWebSearch)
	}
	if c.ImageConfig != nil {
		caps = append(caps, catalog.CapImageGen)
	}
	if rf := c.ResponseFormat; rf != nil {
		switch rf.Type {
		case "json_object":
			caps = append(caps, catalog.CapJSON)
		case "json_schema":
			caps = append(caps, catalog.CapJSONSchema)
		}
	}
	return caps
}

// BuildCandidates resolves the requested model to an ordered candidate list.
//
// Ordering: pinned provider first (alone when fallback is off), then BYOK
// availability when the project prefers it, then stability, then effective
// price, with registry order breaking remaining ties. Mappings that lack a
// required capability or whose provider is unavailable are dropped, never
// reordered.
func BuildCandidates(in RouteInput) []Candidate {
	pinnedProvider, modelID := catalog.SplitModelID(in.ModelID)

	var models []*catalog.ModelDefinition
	if modelID == catalog.AutoModel {
		for _, m := range catalog.All() {
			if m.OutputText {
				models = append(models, m)
			}
		}
	} else if m := catalog.FindModel(modelID); m != nil {
		models = []*catalog.ModelDefinition{m}
	}
	if len(models) == 0 {
		return nil
	}

	caps := requiredCapabilities(in.Request)
	byokByProvider := make(map[string]*identity.BYOKCredential, len(in.BYOKCreds))
	for i := range in.BYOKCreds {
		if !in.BYOKCreds[i].Degraded {
			byokByProvider[in.BYOKCreds[i].Provider] = &in.BYOKCreds[i]
		}
	}

	projectMode := identity.ModeCredits
	if in.Caller != nil && in.Caller.Project != nil {
		projectMode = in.Caller.Project.Mode
	}
	preferBYOK := projectMode == identity.ModeBYOK || projectMode == identity.ModeHybrid

	var out []Candidate
	order := 0
	registryOrder := map[*catalog.ProviderMapping]int{}

	for _, model := range models {
		for i := range model.Providers {
			mp := &model.Providers[i]
			if in.Available != nil && !in.Available(mp.Provider) {
				continue
			}
			if in.Caller != nil && in.Caller.Org != nil && !in.Caller.Org.ProviderAllowed(mp.Provider) {
				continue
			}

			// Capability mismatches are dropped, never reordered.
			eligible := true
			for _, cap := range caps {
				if !mp.Has(cap) {
					eligible = false
					break
				}
			}
			if !eligible {
				continue
			}

			cand := Candidate{
				Model:   model,
				Mapping: mp,
				Pinned:  mp.Provider == pinnedProvider && pinnedProvider != "",
				BYOK:    byokByProvider[mp.Provider],
			}
			// Strict BYOK projects never use gateway-managed credentials.
			if projectMode == identity.ModeBYOK && cand.BYOK == nil {
				continue
			}

			registryOrder[mp] = order
			order++
			out = append(out, cand)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pinned != b.Pinned {
			return a.Pinned
		}
		if preferBYOK && (a.BYOK != nil) != (b.BYOK != nil) {
			return a.BYOK != nil
		}
		ar, br := a.Mapping.StabilityRank(a.Model), b.Mapping.StabilityRank(b.Model)
		if ar != br {
			return ar < br
		}
		ap, bp := a.Mapping.EffectivePrice(), b.Mapping.EffectivePrice()
		if ap != bp {
			return ap < bp
		}
		return registryOrder[a.Mapping] < registryOrder[b.Mapping]
	})

	// A pinned provider travels alone when fallback is disabled.
	if pinnedProvider != "" && in.NoFallback {
		for _, c := range out {
			if c.Pinned {
				return []Candidate{c}
			}
		}
		return nil
	}

	return out
}
