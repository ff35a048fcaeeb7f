package catalog_test

import (
	"testing"

	"github.com/relaypoint/llm-gateway/internal/catalog"
)

func TestFindModel_ByID(t *testing.T) {
	m := catalog.FindModel("gpt-4o")
	if m == nil {
		t.Fatal("gpt-4o not found")
	}
	if len(m.Providers) == 0 {
		t.Fatal("gpt-4o has no provider mappings")
	}
	if m.Providers[0].Provider != "openai" {
		t.Errorf("preferred provider = %q, want openai", m.Providers[0].Provider)
	}
}

func TestFindModel_ByAlias(t *testing.T) {
	m := catalog.FindModel("deepseek-chat")
	if m == nil {
		t.Fatal("alias deepseek-chat not found")
	}
	if m.ID != "deepseek-v3" {
		t.Errorf("alias resolved to %q, want deepseek-v3", m.ID)
	}
}

func TestFindModel_ByProviderModelName(t *testing.T) {
	m := catalog.FindModel("llama-3.3-70b-versatile")
	if m == nil {
		t.Fatal("provider-side name not found")
	}
	if m.ID != "llama-3.3-70b" {
		t.Errorf("resolved to %q, want llama-3.3-70b", m.ID)
	}
}

func TestSplitModelID(t *testing.T) {
	tests := []struct {
		in, provider, model string
	}{
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"groq/llama-3.3-70b", "groq", "llama-3.3-70b"},
		// HuggingFace-style ids whose prefix is not a provider pass through.
		{"meta-llama/llama-3.1-8b-instruct", "", "meta-llama/llama-3.1-8b-instruct"},
		{"gpt-4o", "", "gpt-4o"},
	}
	for _, tt := range tests {
		p, m := catalog.SplitModelID(tt.in)
		if p != tt.provider || m != tt.model {
			t.Errorf("SplitModelID(%q) = (%q, %q), want (%q, %q)", tt.in, p, m, tt.provider, tt.model)
		}
	}
}

func TestFindProviderMapping_Pinned(t *testing.T) {
	maps := catalog.FindProviderMapping("llama-3.3-70b", "cerebras")
	if len(maps) != 1 {
		t.Fatalf("got %d mappings, want 1", len(maps))
	}
	if maps[0].ModelName != "llama3.3-70b" {
		t.Errorf("cerebras model name = %q", maps[0].ModelName)
	}
}

func TestHasCapability(t *testing.T) {
	if !catalog.HasCapability("claude-sonnet-4-5", "anthropic", catalog.CapWebSearch) {
		t.Error("claude-sonnet-4-5@anthropic should offer web_search")
	}
	if catalog.HasCapability("llama-3.3-70b", "groq", catalog.CapVision) {
		t.Error("llama-3.3-70b@groq should not offer vision")
	}
}

func TestPricingTiers_Invariants(t *testing.T) {
	for _, m := range catalog.All() {
		for _, mp := range m.Providers {
			if len(mp.PricingTiers) == 0 {
				continue
			}
			last := mp.PricingTiers[len(mp.PricingTiers)-1]
			if last.UpToTokens != 0 {
				t.Errorf("%s@%s: last tier must be unbounded", m.ID, mp.Provider)
			}
			prev := 0
			for _, tier := range mp.PricingTiers[:len(mp.PricingTiers)-1] {
				if tier.UpToTokens <= prev {
					t.Errorf("%s@%s: tiers not ascending", m.ID, mp.Provider)
				}
				prev = tier.UpToTokens
			}
		}
	}
}

func TestRegistry_NonEmptyProviders(t *testing.T) {
	for _, m := range catalog.All() {
		if len(m.Providers) == 0 {
			t.Errorf("model %s has no providers", m.ID)
		}
		for _, mp := range m.Providers {
			if catalog.FindProvider(mp.Provider) == nil {
				t.Errorf("model %s references unknown provider %s", m.ID, mp.Provider)
			}
		}
	}
}

func TestCacheThresholdChars_Default(t *testing.T) {
	mp := catalog.FindProviderMapping("claude-sonnet-4-5", "anthropic")[0]
	if got := mp.CacheThresholdChars(); got != 4096 {
		t.Errorf("default cache threshold = %d, want 4096", got)
	}
}
