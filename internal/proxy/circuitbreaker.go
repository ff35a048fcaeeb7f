package proxy

import (
	"sync"
	"time"
)

// cbState represents the operational state of a per-provider circuit breaker.
//
//	cbClosed   — normal operation; all requests pass through.
//	cbOpen     — provider is failing; candidates are skipped.
//	cbHalfOpen — recovery probe; one request is allowed through.
type cbState int

const (
	cbClosed   cbState = 0
	cbOpen     cbState = 1
	cbHalfOpen cbState = 2
)

// Circuit breaker defaults.
const (
	cbDefaultErrorThreshold  = 5
	cbDefaultTimeWindow      = 60 * time.Second
	cbDefaultHalfOpenTimeout = 30 * time.Second
)

// CBConfig holds circuit breaker tuning parameters. Zero values fall back to
// the package defaults.
type CBConfig struct {
	// ErrorThreshold is the number of failures within TimeWindow that trips
	// the breaker.
	ErrorThreshold int

	// TimeWindow is the rolling window for counting errors.
	TimeWindow time.Duration

	// HalfOpenTimeout is how long the breaker stays open before allowing a
	// single probe request.
	HalfOpenTimeout time.Duration
}

func (c *CBConfig) errorThreshold() int {
	if c.ErrorThreshold > 0 {
		return c.ErrorThreshold
	}
	return cbDefaultErrorThreshold
}

func (c *CBConfig) timeWindow() time.Duration {
	if c.TimeWindow > 0 {
		return c.TimeWindow
	}
	return cbDefaultTimeWindow
}

func (c *CBConfig) halfOpenTimeout() time.Duration {
	if c.HalfOpenTimeout > 0 {
		return c.HalfOpenTimeout
	}
	return cbDefaultHalfOpenTimeout
}

// providerCB holds per-provider breaker state.
type providerCB struct {
	state       cbState
	failures    []time.Time
	openedAt    time.Time
	halfOpenPrb bool
}

// CircuitBreaker tracks failures per provider and rejects candidates whose
// upstream looks down, so failover skips them without paying the timeout.
type CircuitBreaker struct {
	mu   sync.Mutex
	cfg  CBConfig
	byID map[string]*providerCB
}

// NewCircuitBreaker creates a breaker with the given config.
func NewCircuitBreaker(cfg CBConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, byID: make(map[string]*providerCB)}
}

func (cb *CircuitBreaker) get(provider string) *providerCB {
	p, ok := cb.byID[provider]
	if !ok {
		p = &providerCB{state: cbClosed}
		cb.byID[provider] = p
	}
	return p
}

// Allow reports whether a request may be sent to the provider. In the open
// state it admits a single probe once the half-open timeout elapses.
func (cb *CircuitBreaker) Allow(provider string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	p := cb.get(provider)
	switch p.state {
	case cbClosed:
		return true
	case cbOpen:
		if time.Since(p.openedAt) >= cb.cfg.halfOpenTimeout() {
			p.state = cbHalfOpen
			p.halfOpenPrb = false
			return true
		}
		return false
	case cbHalfOpen:
		if p.halfOpenPrb {
			p.halfOpenPrb = false
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure window.
func (cb *CircuitBreaker) RecordSuccess(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	p := cb.get(provider)
	p.state = cbClosed
	p.failures = p.failures[:0]
}

// RecordFailure appends a failure and trips the breaker when the window
// overflows. A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure(provider string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	p := cb.get(provider)
	now := time.Now()

	if p.state == cbHalfOpen {
		p.state = cbOpen
		p.openedAt = now
		return
	}

	cutoff := now.Add(-cb.cfg.timeWindow())
	kept := p.failures[:0]
	for _, t := range p.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.failures = append(kept, now)

	if len(p.failures) >= cb.cfg.errorThreshold() {
		p.state = cbOpen
		p.openedAt = now
		p.failures = p.failures[:0]
	}
}

// State returns the current state for health reporting.
func (cb *CircuitBreaker) State(provider string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return int(cb.get(provider).state)
}

// StateLabel renders the state for logs and metrics.
func (cb *CircuitBreaker) StateLabel(provider string) string {
	switch cbState(cb.State(provider)) {
	case cbOpen:
		return "open"
	case cbHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
