package providers

import (
	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/tokenizer"
)

// NormalizeSystemRoles rewrites system messages to user messages, preserving
// order, for models that do not accept a system role. Returns the input
// slice untouched when nothing needs rewriting.
func NormalizeSystemRoles(msgs []canonical.Message, supportsSystem bool) []canonical.Message {
	if supportsSystem {
		return msgs
	}
	rewritten := false
	out := make([]canonical.Message, len(msgs))
	for i, m := range msgs {
		if m.Role == canonical.RoleSystem {
			m.Role = canonical.RoleUser
			rewritten = true
		}
		out[i] = m
	}
	if !rewritten {
		return msgs
	}
	return out
}

// ClampFloat bounds v to [lo, hi].
func ClampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EstimateUsage builds a usage block for streams whose provider reported
// nothing: prompt side from the request messages, completion side from the
// concatenated output deltas.
func EstimateUsage(req *canonical.ChatRequest, outputText string) *canonical.Usage {
	texts := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		texts = append(texts, m.Content.Text())
	}
	u := &canonical.Usage{
		PromptTokens:     tokenizer.EstimateMessages(texts),
		CompletionTokens: tokenizer.Estimate(outputText),
	}
	u.Finalize()
	return u
}

// MergeUsage overlays provider-reported counts onto an estimate, keeping the
// estimate only for fields the provider left zero.
func MergeUsage(reported, estimated *canonical.Usage) *canonical.Usage {
	if reported == nil {
		return estimated
	}
	if estimated != nil {
		if reported.PromptTokens == 0 {
			reported.PromptTokens = estimated.PromptTokens
		}
		if reported.CompletionTokens == 0 {
			reported.CompletionTokens = estimated.CompletionTokens
		}
	}
	reported.TotalTokens = 0
	reported.Finalize()
	return reported
}
