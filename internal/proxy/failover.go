package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/providers"
)

// errorClass buckets provider errors for the failover decision.
type errorClass int

const (
	classTransient errorClass = iota // network, 5xx, overloaded, timeout
	classPermanent                   // 4xx other than auth/quota
	classAuth                        // 401/403
	classRateLimit                   // 429
)

// retryAfterCeiling: a 429 whose Retry-After fits under this is waited out on
// the same candidate; anything longer moves on.
const retryAfterCeiling = 2 * time.Second

// classify buckets an error for the failover decision.
func classify(err error) errorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return classTransient
	}
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status == 429:
			return classRateLimit
		case status == 401 || status == 403:
			return classAuth
		case status >= 500, status == 408:
			return classTransient
		case status >= 400:
			return classPermanent
		}
	}
	// Unknown errors (dial failures, resets) are treated as transient.
	return classTransient
}

// classLabel renders the class for logs and metrics.
func classLabel(err error) string {
	var sc providers.StatusCoder
	if errors.As(err, &sc) {
		return fmt.Sprintf("http_%d", sc.HTTPStatus())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "network"
}

// retryAfterOf extracts the upstream Retry-After hint, zero when absent.
func retryAfterOf(err error) time.Duration {
	var ra providers.RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

// errNoEligibleProvider is surfaced as 503 when the candidate list is empty
// or fully exhausted by ineligible failures.
var errNoEligibleProvider = errors.New("no eligible provider")

// attemptOutcome is what one candidate attempt produced.
type attemptOutcome struct {
	completion *canonical.Completion
	candidate  *Candidate
}

// completeWithFailover walks the candidate list until an attempt succeeds or
// the list is exhausted. Each attempt re-runs the translator (inside the
// provider strategy) so the body is regenerated per provider.
//
// For streaming attempts the first chunk is peeked before the candidate is
// considered successful: an error chunk with no preceding content is an
// attempt failure, not a client-visible stream — P6 holds because nothing
// has been written downstream yet.
func (g *Gateway) completeWithFailover(
	ctx context.Context,
	creq *canonical.ChatRequest,
	candidates []Candidate,
	noFallback bool,
	requestID string,
) (*attemptOutcome, error) {
	if len(candidates) == 0 {
		return nil, errNoEligibleProvider
	}

	var lastErr error
	attempts := 0

	for i := range candidates {
		cand := &candidates[i]

		prov, ok := g.providers[cand.Mapping.Provider]
		if !ok {
			continue
		}
		if g.cb != nil && !g.cb.Allow(cand.Mapping.Provider) {
			g.log.WarnContext(ctx, "circuit_breaker_open",
				slog.String("request_id", requestID),
				slog.String("provider", cand.Mapping.Provider),
			)
			continue
		}

		preq := &providers.Request{
			Canonical: creq,
			Model:     cand.Model,
			Mapping:   cand.Mapping,
			RequestID: requestID,
		}
		if cand.BYOK != nil {
			preq.APIKey = cand.BYOK.APIKey
			preq.Extra = cand.BYOK.Extra
			preq.BYOK = true
		}

		attempts++
		start := time.Now()
		completion, err := g.attempt(ctx, prov, preq)
		dur := time.Since(start)

		if err == nil {
			if g.cb != nil {
				g.cb.RecordSuccess(cand.Mapping.Provider)
			}
			if g.metrics != nil {
				g.metrics.ObserveUpstreamAttempt(cand.Mapping.Provider, "success", dur)
			}
			if attempts > 1 {
				g.log.InfoContext(ctx, "failover_success",
					slog.String("request_id", requestID),
					slog.String("to", cand.Mapping.Provider),
					slog.Int("attempts", attempts),
				)
				if g.metrics != nil {
					g.metrics.RecordFailoverSuccess(cand.Mapping.Provider)
				}
			}
			return &attemptOutcome{completion: completion, candidate: cand}, nil
		}

		if g.cb != nil {
			g.cb.RecordFailure(cand.Mapping.Provider)
		}
		reason := classLabel(err)
		if g.metrics != nil {
			g.metrics.ObserveUpstreamAttempt(cand.Mapping.Provider, reason, dur)
			g.metrics.RecordError(cand.Mapping.Provider, reason)
		}
		g.log.WarnContext(ctx, "provider_attempt_failed",
			slog.String("request_id", requestID),
			slog.String("provider", cand.Mapping.Provider),
			slog.String("reason", reason),
			slog.Bool("byok", preq.BYOK),
			slog.String("error", err.Error()),
		)
		lastErr = err

		switch classify(err) {
		case classAuth:
			if preq.BYOK {
				// The caller owns this credential; surface immediately.
				return nil, err
			}
			// Gateway-managed credential: flag it out-of-band and move on.
			if g.store != nil {
				g.store.MarkCredentialDegraded(context.WithoutCancel(ctx), cand.Mapping.Provider)
			}

		case classRateLimit:
			if ra := retryAfterOf(err); ra > 0 && ra <= retryAfterCeiling {
				// Short upstream backoff: wait it out and retry in place.
				select {
				case <-time.After(ra):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				completion, err = g.attempt(ctx, prov, preq)
				if err == nil {
					if g.cb != nil {
						g.cb.RecordSuccess(cand.Mapping.Provider)
					}
					return &attemptOutcome{completion: completion, candidate: cand}, nil
				}
				lastErr = err
			}

		case classPermanent:
			// Another provider will not fix a bad request; surface it.
			return nil, err

		case classTransient:
			// Walk on to the next candidate.
		}

		if noFallback {
			break
		}
	}

	if lastErr == nil {
		return nil, errNoEligibleProvider
	}
	if g.metrics != nil {
		g.metrics.RecordFailoverExhausted()
	}
	return nil, fmt.Errorf("all providers failed after %d attempt(s): %w", attempts, lastErr)
}

// attempt runs one provider call. Streaming attempts peek the first chunk so
// pre-first-byte failures count against the candidate instead of reaching
// the client.
func (g *Gateway) attempt(ctx context.Context, prov providers.Provider, preq *providers.Request) (*canonical.Completion, error) {
	completion, err := prov.Complete(ctx, preq)
	if err != nil {
		return nil, err
	}
	if completion.Stream == nil {
		return completion, nil
	}

	first, ok := <-completion.Stream
	if !ok {
		return nil, fmt.Errorf("%s: stream closed before first chunk", prov.Name())
	}
	if first.Err != nil {
		// Nothing was delivered downstream yet; the failure is eligible for
		// failover. Drain the channel so the producer goroutine exits.
		go func() {
			for range completion.Stream {
			}
		}()
		return nil, first.Err
	}

	// Re-inject the peeked chunk ahead of the rest of the stream.
	out := make(chan canonical.Chunk, 1)
	upstream := completion.Stream
	out <- first
	go func() {
		defer close(out)
		for chunk := range upstream {
			out <- chunk
		}
	}()
	wrapped := *completion
	wrapped.Stream = out
	return &wrapped, nil
}
