package providers_test

import (
	"testing"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

func TestNormalizeSystemRoles_Rewrite(t *testing.T) {
	msgs := []canonical.Message{
		{Role: "system", Content: canonical.TextContent("rules")},
		{Role: "user", Content: canonical.TextContent("hi")},
		{Role: "system", Content: canonical.TextContent("more rules")},
	}
	out := providers.NormalizeSystemRoles(msgs, false)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	for i, m := range out {
		if m.Role == canonical.RoleSystem {
			t.Errorf("out[%d] still has system role", i)
		}
	}
	// Order is preserved.
	if out[0].Content.Text() != "rules" || out[2].Content.Text() != "more rules" {
		t.Error("message order changed")
	}
	// The input is untouched.
	if msgs[0].Role != canonical.RoleSystem {
		t.Error("input slice mutated")
	}
}

func TestNormalizeSystemRoles_NoopWhenSupported(t *testing.T) {
	msgs := []canonical.Message{{Role: "system", Content: canonical.TextContent("x")}}
	out := providers.NormalizeSystemRoles(msgs, true)
	if out[0].Role != canonical.RoleSystem {
		t.Error("supported system role was rewritten")
	}
}

func TestEstimateUsage(t *testing.T) {
	req := &canonical.ChatRequest{
		Messages: []canonical.Message{
			{Role: "user", Content: canonical.TextContent("What is the capital of France?")},
		},
	}
	u := providers.EstimateUsage(req, "The capital of France is Paris.")
	if u.PromptTokens < 1 || u.CompletionTokens < 1 {
		t.Errorf("usage = %+v", u)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		t.Errorf("total = %d", u.TotalTokens)
	}
}

func TestMergeUsage(t *testing.T) {
	est := &canonical.Usage{PromptTokens: 10, CompletionTokens: 20}

	// Nothing reported: the estimate stands.
	if got := providers.MergeUsage(nil, est); got != est {
		t.Error("nil reported must return the estimate")
	}

	// Partial report: zero fields fall back to the estimate.
	got := providers.MergeUsage(&canonical.Usage{CompletionTokens: 25}, est)
	if got.PromptTokens != 10 || got.CompletionTokens != 25 {
		t.Errorf("merged = %+v", got)
	}
	if got.TotalTokens != 35 {
		t.Errorf("total = %d", got.TotalTokens)
	}
}
