package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/ledger"
)

func usd(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func baseMapping() *catalog.ProviderMapping {
	return &catalog.ProviderMapping{
		Provider:         "openai",
		ModelName:        "gpt-4o",
		InputPrice:       2.50,
		OutputPrice:      10.00,
		CachedInputPrice: 1.25,
	}
}

func TestComputeCharge_Basic(t *testing.T) {
	got := ledger.ComputeCharge(baseMapping(), ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000},
	})
	// 1M·$2.50/1M + 100k·$10/1M = 2.50 + 1.00
	if !got.Equal(usd("3.5")) {
		t.Errorf("charge = %s, want 3.5", got)
	}
}

func TestComputeCharge_CachedPromptDiscount(t *testing.T) {
	full := ledger.ComputeCharge(baseMapping(), ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 1_000_000},
	})
	cached := ledger.ComputeCharge(baseMapping(), ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 1_000_000, CachedPromptTokens: 800_000},
	})
	// 200k·2.50/1M + 800k·1.25/1M = 0.5 + 1.0
	if !cached.Equal(usd("1.5")) {
		t.Errorf("cached charge = %s, want 1.5", cached)
	}
	if !cached.LessThan(full) {
		t.Error("cache hits must never cost more than plain input")
	}
}

func TestComputeCharge_Tiers(t *testing.T) {
	mp := baseMapping()
	mp.PricingTiers = []catalog.PricingTier{
		{UpToTokens: 200_000, InputPrice: 1.25, OutputPrice: 10.00},
		{UpToTokens: 0, InputPrice: 2.50, OutputPrice: 15.00},
	}

	small := ledger.ComputeCharge(mp, ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 100_000, CompletionTokens: 50_000},
	})
	// tier 1: 100k·1.25/1M + 50k·10/1M = 0.125 + 0.5
	if !small.Equal(usd("0.625")) {
		t.Errorf("tier-1 charge = %s, want 0.625", small)
	}

	big := ledger.ComputeCharge(mp, ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 300_000, CompletionTokens: 50_000},
	})
	// tier 2: 300k·2.50/1M + 50k·15/1M = 0.75 + 0.75
	if !big.Equal(usd("1.5")) {
		t.Errorf("tier-2 charge = %s, want 1.5", big)
	}
}

func TestComputeCharge_DiscountAndRequestPrice(t *testing.T) {
	mp := baseMapping()
	mp.RequestPrice = 0.005
	mp.Discount = 0.5

	got := ledger.ComputeCharge(mp, ledger.ChargeInput{
		Usage: canonical.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000},
	})
	// (2.50 + 1.00 + 0.005) · 0.5
	if !got.Equal(usd("1.7525")) {
		t.Errorf("discounted charge = %s, want 1.7525", got)
	}
}

func TestComputeCharge_ImageOutput(t *testing.T) {
	mp := &catalog.ProviderMapping{Provider: "google", ModelName: "gemini-2.5-flash-image",
		InputPrice: 0.30, OutputPrice: 2.50, ImageOutputPrice: 0.039}
	got := ledger.ComputeCharge(mp, ledger.ChargeInput{
		Usage:     canonical.Usage{PromptTokens: 1000},
		ImagesOut: 2,
	})
	if !got.Equal(usd("0.0003").Add(usd("0.078"))) {
		t.Errorf("image charge = %s", got)
	}
}

// Increasing any token count never decreases the charge.
func TestComputeCharge_Monotonic(t *testing.T) {
	mp := baseMapping()
	mp.PricingTiers = []catalog.PricingTier{
		{UpToTokens: 200_000, InputPrice: 1.25, OutputPrice: 10.00},
		{UpToTokens: 0, InputPrice: 2.50, OutputPrice: 15.00},
	}

	prev := decimal.Zero
	for _, prompt := range []int{0, 1_000, 100_000, 199_999, 200_001, 1_000_000} {
		got := ledger.ComputeCharge(mp, ledger.ChargeInput{
			Usage: canonical.Usage{PromptTokens: prompt, CompletionTokens: 10_000},
		})
		if got.LessThan(prev) {
			t.Fatalf("charge decreased at prompt=%d: %s < %s", prompt, got, prev)
		}
		prev = got
	}
}
