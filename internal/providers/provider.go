// Package providers defines the common interface and shared translation
// helpers used by all upstream LLM provider implementations.
//
// Each provider lives in its own sub-package and implements the Provider
// interface: it translates a canonical request into the provider's native
// wire format, issues the upstream call, and translates the response —
// streamed or whole — back into canonical chunks. Translation is pure given
// the registry and the request; retry decisions live in the proxy's failover
// controller, never here.
package providers

import (
	"context"
	"time"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
)

// Transport defaults. AttemptTimeout is the http.Client timeout of every
// provider transport and bounds the whole attempt including stream drain.
// FirstByteTimeout is not applied by any transport; there is no separate
// connect/first-byte deadline.
const (
	FirstByteTimeout = 30 * time.Second
	AttemptTimeout   = 10 * time.Minute

	// StreamBuffer is the bounded chunk channel size; a slow client applies
	// backpressure to the upstream read through it.
	StreamBuffer = 64
)

type (
	// Request is one translated attempt against a selected mapping.
	Request struct {
		// Canonical is the normalized inbound request.
		Canonical *canonical.ChatRequest
		// Model and Mapping are the registry rows chosen by the router.
		Model   *catalog.ModelDefinition
		Mapping *catalog.ProviderMapping

		// APIKey is the credential resolved for this attempt (BYOK or
		// gateway-managed). Extra carries scheme-specific material (AWS
		// secret/region, Azure resource).
		APIKey string
		Extra  map[string]string
		// BYOK marks the credential as organization-supplied; auth failures
		// on BYOK credentials surface to the caller instead of failing over.
		BYOK bool

		RequestID string
	}

	// Provider is the per-upstream strategy.
	Provider interface {
		Name() string
		// Complete issues one attempt. For streaming requests the returned
		// Completion carries a Stream channel; when the stream completes, the
		// last chunk before close has a non-nil Usage. A stream that ends in
		// an error chunk (canonical.ErrorChunk) ends without usage.
		Complete(ctx context.Context, req *Request) (*canonical.Completion, error)
	}

	// StatusCoder is implemented by provider errors carrying an upstream
	// HTTP status. The failover controller classifies on it.
	StatusCoder interface {
		HTTPStatus() int
	}

	// RetryAfterer exposes the upstream Retry-After hint on 429 errors.
	RetryAfterer interface {
		RetryAfter() time.Duration
	}
)

// ModelName returns the provider-side model name for this attempt.
func (r *Request) ModelName() string { return r.Mapping.ModelName }

// ReasoningRequested reports whether the attempt should enable reasoning.
func (r *Request) ReasoningRequested() bool {
	return r.Canonical.ReasoningEffort != "" && r.Mapping.Caps.Reasoning
}
