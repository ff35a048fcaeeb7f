// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_upstream_attempts_total{provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// gateway_upstream_attempt_duration_seconds{provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// gateway_provider_errors_total{provider,error_type}
	providerErrors *prometheus.CounterVec

	// gateway_failover_success_total{to}
	failoverSuccess *prometheus.CounterVec

	// gateway_failover_exhausted_total
	failoverExhausted prometheus.Counter

	// gateway_rate_limit_decisions_total{outcome}
	rateLimits *prometheus.CounterVec

	// gateway_cache_hits_total / gateway_cache_misses_total
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	// gateway_tokens_total{provider,direction}
	tokens *prometheus.CounterVec

	// gateway_log_queue_dropped_total
	queueDropped prometheus.Counter

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Requests currently being served.",
		}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_attempts_total",
			Help: "Upstream provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_attempt_duration_seconds",
			Help:    "Upstream attempt duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "outcome"}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Provider errors by classification.",
		}, []string{"provider", "error_type"}),
		failoverSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_failover_success_total",
			Help: "Requests served by a non-primary provider.",
		}, []string{"to"}),
		failoverExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_failover_exhausted_total",
			Help: "Requests that failed after exhausting every candidate.",
		}),
		rateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_decisions_total",
			Help: "Rate limiter decisions.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Response cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Response cache misses.",
		}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Tokens processed by provider and direction.",
		}, []string{"provider", "direction"}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_log_queue_dropped_total",
			Help: "Usage envelopes dropped by the log queue producer.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_build_info",
			Help: "Build metadata.",
		}, []string{"version"}),
	}

	reg.MustRegister(
		r.inFlight, r.upstreamAttempts, r.upstreamDuration, r.providerErrors,
		r.failoverSuccess, r.failoverExhausted, r.rateLimits,
		r.cacheHits, r.cacheMisses, r.tokens, r.queueDropped, r.buildInfo,
	)
	return r
}

// SetBuildInfo records the running version.
func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveUpstreamAttempt records one provider attempt.
func (r *Registry) ObserveUpstreamAttempt(provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

// RecordError counts a classified provider error.
func (r *Registry) RecordError(provider, errorType string) {
	r.providerErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordFailoverSuccess counts a request saved by failover.
func (r *Registry) RecordFailoverSuccess(to string) {
	r.failoverSuccess.WithLabelValues(to).Inc()
}

// RecordFailoverExhausted counts a fully failed request.
func (r *Registry) RecordFailoverExhausted() { r.failoverExhausted.Inc() }

// RecordRateLimit counts a limiter decision ("allowed"|"blocked"|"error").
func (r *Registry) RecordRateLimit(outcome string) {
	r.rateLimits.WithLabelValues(outcome).Inc()
}

func (r *Registry) CacheHit()  { r.cacheHits.Inc() }
func (r *Registry) CacheMiss() { r.cacheMisses.Inc() }

// AddTokens accumulates token throughput.
func (r *Registry) AddTokens(provider string, input, output int) {
	r.tokens.WithLabelValues(provider, "input").Add(float64(input))
	r.tokens.WithLabelValues(provider, "output").Add(float64(output))
}

// QueueDropped counts a dropped log envelope.
func (r *Registry) QueueDropped() { r.queueDropped.Inc() }

// Handler returns the fasthttp /metrics handler.
func (r *Registry) Handler() fasthttp.RequestHandler {
	h := promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
	return fasthttpadaptor.NewFastHTTPHandler(h)
}
