// Package logqueue implements asynchronous usage-log ingestion through a
// Redis list. Producers push JSON envelopes from the request path and never
// block it: on any Redis error the envelope is logged at WARN and dropped
// (envelopes are derivable from the transaction ledger and upstream logs).
// Consumers pop in batches and hand them to a Sink for durable storage.
package logqueue

import "time"

// QueueName returns the environment-scoped Redis list name.
func QueueName(env string) string {
	if env == "" {
		env = "development"
	}
	return "log_queue_" + env
}

// Envelope is one usage record. Field names are the persisted canonical names.
type Envelope struct {
	RequestID      string    `json:"request_id"`
	OrganizationID string    `json:"organization_id"`
	ProjectID      string    `json:"project_id"`
	APIKeyID       string    `json:"api_key_id"`
	UsedProvider   string    `json:"used_provider"`
	UsedModel      string    `json:"used_model"`
	RequestedModel string    `json:"requested_model"`
	Streamed       bool      `json:"streamed"`

	PromptTokens       int `json:"prompt_tokens"`
	CompletionTokens   int `json:"completion_tokens"`
	CachedPromptTokens int `json:"cached_prompt_tokens"`
	ReasoningTokens    int `json:"reasoning_tokens"`

	CostUSD   string `json:"cost_usd"` // decimal string
	CacheHit  bool   `json:"cache_hit"`
	BYOK      bool   `json:"byok"`
	Status    int    `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	LatencyMs int64  `json:"latency_ms"`

	CreatedAt time.Time `json:"created_at"`
}
