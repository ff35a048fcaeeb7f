// Package ledger is the usage, cost, and transaction engine. It prices each
// completed request against the registry's mapping, mutates organization
// credits through the storage collaborator, and records append-only
// TransactionRecords — idempotent on request id and on external payment
// references.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
)

// perMillion converts the registry's USD-per-1M-token prices.
var perMillion = decimal.NewFromInt(1_000_000)

// ChargeInput is everything pricing needs besides the mapping.
type ChargeInput struct {
	Usage       canonical.Usage
	ImagesOut   int
	WebSearches int
}

// ComputeCharge prices one completed request.
//
// Token prices come from the mapping, or from the pricing tier covering
// prompt+completion when tiers are present. Cached prompt tokens are priced
// at the cached rate and excluded from the plain input rate. The optional
// per-request and per-image prices are added, then the discount is applied
// multiplicatively to the whole charge.
func ComputeCharge(mp *catalog.ProviderMapping, in ChargeInput) decimal.Decimal {
	inPrice := decimal.NewFromFloat(mp.InputPrice)
	outPrice := decimal.NewFromFloat(mp.OutputPrice)

	if len(mp.PricingTiers) > 0 {
		tier := selectTier(mp.PricingTiers, in.Usage.PromptTokens+in.Usage.CompletionTokens)
		inPrice = decimal.NewFromFloat(tier.InputPrice)
		outPrice = decimal.NewFromFloat(tier.OutputPrice)
	}

	cached := in.Usage.CachedPromptTokens
	if cached > in.Usage.PromptTokens {
		cached = in.Usage.PromptTokens
	}
	plain := in.Usage.PromptTokens - cached

	charge := decimal.NewFromInt(int64(plain)).Mul(inPrice).Div(perMillion)
	charge = charge.Add(decimal.NewFromInt(int64(cached)).
		Mul(decimal.NewFromFloat(mp.CachedInputPrice)).Div(perMillion))
	charge = charge.Add(decimal.NewFromInt(int64(in.Usage.CompletionTokens)).
		Mul(outPrice).Div(perMillion))

	if in.ImagesOut > 0 && mp.ImageOutputPrice > 0 {
		charge = charge.Add(decimal.NewFromInt(int64(in.ImagesOut)).
			Mul(decimal.NewFromFloat(mp.ImageOutputPrice)))
	}
	if in.WebSearches > 0 && mp.WebSearchPrice > 0 {
		charge = charge.Add(decimal.NewFromInt(int64(in.WebSearches)).
			Mul(decimal.NewFromFloat(mp.WebSearchPrice)).Div(decimal.NewFromInt(1000)))
	}
	if mp.RequestPrice > 0 {
		charge = charge.Add(decimal.NewFromFloat(mp.RequestPrice))
	}

	if mp.Discount > 0 && mp.Discount < 1 {
		charge = charge.Mul(decimal.NewFromFloat(1 - mp.Discount))
	}

	if charge.IsNegative() {
		return decimal.Zero
	}
	return charge
}

// selectTier picks the tier whose range covers total. The last tier is
// unbounded (UpToTokens == 0).
func selectTier(tiers []catalog.PricingTier, total int) catalog.PricingTier {
	for _, t := range tiers {
		if t.UpToTokens == 0 || total <= t.UpToTokens {
			return t
		}
	}
	return tiers[len(tiers)-1]
}
