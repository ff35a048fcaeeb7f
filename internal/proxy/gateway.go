// Package proxy is the core LLM request dispatcher.
//
// The Gateway receives an incoming OpenAI-compatible request, resolves the
// caller, checks rate limits and the response cache, routes the model to an
// ordered candidate list, and walks the list with automatic failover until a
// provider delivers — then prices the result and enqueues the usage log.
//
// Key design constraints:
//   - No blocking I/O on the hot path beyond the upstream call itself.
//   - Limiter, cache, ledger, and log queue are optional and nil-safe.
//   - All I/O uses context.Context so deadlines and cancellation propagate.
//   - Streaming responses are pass-through (SSE) and never cached.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/internal/cache"
	"github.com/relaypoint/llm-gateway/internal/canonical"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/identity"
	"github.com/relaypoint/llm-gateway/internal/ledger"
	"github.com/relaypoint/llm-gateway/internal/logqueue"
	"github.com/relaypoint/llm-gateway/internal/metrics"
	"github.com/relaypoint/llm-gateway/internal/providers"
	"github.com/relaypoint/llm-gateway/internal/ratelimit"
	"github.com/relaypoint/llm-gateway/pkg/apierr"
)

const (
	xCacheHIT  = "HIT"
	xCacheMISS = "MISS"

	// rpmWindow is the sliding window for per-organization request limits.
	rpmWindow = time.Minute
)

// GatewayOptions holds optional tuning parameters for a Gateway. All fields
// have sensible defaults and can be omitted.
type GatewayOptions struct {
	// Logger is the structured logger for request events and failover
	// diagnostics. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. Nil disables.
	Metrics *metrics.Registry

	// CBConfig tunes the per-provider circuit breaker.
	CBConfig CBConfig

	// Hosted enables credit and subscription enforcement. Self-hosted
	// deployments leave it off and skip the billing checks.
	Hosted bool

	// NoFallbackEnv forces x-no-fallback behavior for every request.
	NoFallbackEnv bool

	// RPMLimit is the per-organization requests-per-minute cap. 0 disables.
	RPMLimit int

	// CacheTTL is the response cache TTL. Default: 1h.
	CacheTTL time.Duration

	// Env is the deploy environment. The Gateway stores it but does not read
	// it; queue names and limiter key prefixes take the environment given to
	// logqueue.NewProducer and ratelimit.New.
	Env string

	// CORSOrigins is the list of allowed CORS origins; empty allows all.
	CORSOrigins []string
}

// Gateway is the dispatcher — all dependencies are injected so they can be
// replaced with doubles in unit tests.
type Gateway struct {
	providers map[string]providers.Provider
	store     identity.Store
	cb        *CircuitBreaker
	log       *slog.Logger
	metrics   *metrics.Registry

	hosted        bool
	noFallbackEnv bool
	rpmLimit      int
	cacheTTL      time.Duration
	env           string
	corsOrigins   []string

	// Optional dependencies — nil-safe when not configured.
	limiter         *ratelimit.Limiter
	queue           *logqueue.Producer
	ledger          *ledger.Ledger
	webhook         *ledger.Webhook
	respCache       cache.Cache
	cacheExclusions *cache.ExclusionList
	redisReady      func() bool

	closing  atomic.Bool
	inflight sync.WaitGroup
}

// NewGateway creates a Gateway over the configured provider strategies.
func NewGateway(provs map[string]providers.Provider, store identity.Store, opts GatewayOptions) *Gateway {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}

	return &Gateway{
		providers:     provs,
		store:         store,
		cb:            NewCircuitBreaker(opts.CBConfig),
		log:           log,
		metrics:       opts.Metrics,
		hosted:        opts.Hosted,
		noFallbackEnv: opts.NoFallbackEnv,
		rpmLimit:      opts.RPMLimit,
		cacheTTL:      cacheTTL,
		env:           opts.Env,
		corsOrigins:   opts.CORSOrigins,
	}
}

// SetLimiter injects the Redis rate limiter.
func (g *Gateway) SetLimiter(l *ratelimit.Limiter) { g.limiter = l }

// SetLogQueue injects the async usage-log producer.
func (g *Gateway) SetLogQueue(p *logqueue.Producer) { g.queue = p }

// SetLedger injects the cost ledger and its Stripe webhook handler.
func (g *Gateway) SetLedger(l *ledger.Ledger, w *ledger.Webhook) {
	g.ledger = l
	g.webhook = w
}

// SetCache injects the response cache and exclusion list.
func (g *Gateway) SetCache(c cache.Cache, excl *cache.ExclusionList) {
	g.respCache = c
	g.cacheExclusions = excl
}

// SetRedisProbe injects the readiness probe for GET /readiness.
func (g *Gateway) SetRedisProbe(probe func() bool) { g.redisReady = probe }

// Shutdown stops accepting new requests and waits for in-flight streams up
// to the grace period.
func (g *Gateway) Shutdown(grace time.Duration) {
	g.closing.Store(true)
	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		g.log.Warn("shutdown_grace_elapsed", slog.Duration("grace", grace))
	}
}

// available reports whether a provider client is configured.
func (g *Gateway) available(providerID string) bool {
	_, ok := g.providers[providerID]
	return ok
}

// resolveCaller authenticates the request. A nil store (self-hosted mode
// without an identity backend) admits every request anonymously.
func (g *Gateway) resolveCaller(ctx *fasthttp.RequestCtx) (*identity.Caller, bool) {
	if g.store == nil {
		return nil, true
	}
	token := bearerToken(ctx)
	if token == "" {
		apierr.WriteUnauthorized(ctx, "missing API key")
		return nil, false
	}
	caller, err := g.store.ResolveKey(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrDeleted):
			apierr.WriteForbidden(ctx, "project or organization deleted", apierr.CodeInvalidAPIKey)
		default:
			apierr.WriteUnauthorized(ctx, "invalid API key")
		}
		return nil, false
	}

	if caller.Key.OverUsageLimit() {
		apierr.WriteForbidden(ctx, "api key usage limit reached", apierr.CodeInsufficientCredit)
		return nil, false
	}
	if g.hosted && !caller.Org.CanSpend() {
		apierr.WriteForbidden(ctx, "insufficient credits", apierr.CodeInsufficientCredit)
		return nil, false
	}
	return caller, true
}

// dispatchChat is the core handler for POST /v1/chat/completions.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	if g.closing.Load() {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "shutting down", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}
	g.inflight.Add(1)
	streamed := false
	defer func() {
		if !streamed {
			g.inflight.Done()
		}
	}()

	start := time.Now()
	reqID, _ := ctx.UserValue("request_id").(string)

	if g.metrics != nil {
		g.metrics.IncInFlight()
		defer g.metrics.DecInFlight()
	}

	// 1. Parse and canonicalize.
	creq, err := ParseChatRequest(ctx.PostBody())
	if err != nil {
		apierr.WriteInvalidRequest(ctx, err.Error())
		return
	}
	flags := parseFlags(ctx, g.noFallbackEnv)

	// 2. Caller identity.
	caller, ok := g.resolveCaller(ctx)
	if !ok {
		return
	}
	if caller != nil && oversizedImage(creq, caller.Org.MaxImageSizeMB()) {
		apierr.WriteInvalidRequest(ctx, fmt.Sprintf(
			"image exceeds the %d MB limit for your plan", caller.Org.MaxImageSizeMB()))
		return
	}

	// 3. Rate limit — before any translation work.
	if g.limiter != nil && g.rpmLimit > 0 && caller != nil {
		res := g.limiter.CheckRateLimit(ctx, "rpm:"+caller.Org.ID, rpmWindow, g.rpmLimit)
		if !res.Allowed {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("blocked")
			}
			apierr.WriteRateLimit(ctx, res.RetryAfter)
			return
		}
	}

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("model", creq.Model),
		slog.Bool("stream", creq.Stream),
	)

	// 4. Route.
	var byokCreds []identity.BYOKCredential
	if caller != nil && g.store != nil && caller.Org.BYOKActive {
		byokCreds, _ = g.store.BYOKCredentials(ctx, caller.Org.ID)
	}
	candidates := BuildCandidates(RouteInput{
		ModelID:    creq.Model,
		Request:    creq,
		Caller:     caller,
		BYOKCreds:  byokCreds,
		NoFallback: flags.NoFallback,
		Available:  g.available,
	})
	if len(candidates) == 0 {
		if !modelKnown(creq.Model) {
			apierr.Write(ctx, fasthttp.StatusBadRequest,
				fmt.Sprintf("unknown model %q", creq.Model),
				apierr.TypeInvalidRequest, apierr.CodeUnknownModel)
			return
		}
		apierr.WriteNoEligibleProvider(ctx, creq.Model)
		return
	}

	// 5. Cache lookup — non-streaming only, cache-flagged projects only.
	cacheKey := ""
	if g.cacheEligible(creq, caller) {
		cacheKey = cache.Key(orgID(caller), projectID(caller), candidates[0].Mapping.Provider, creq)
		if body, ok := g.respCache.Get(ctx, cacheKey); ok {
			if g.metrics != nil {
				g.metrics.CacheHit()
			}
			ctx.Response.Header.Set("X-Cache", xCacheHIT)
			ctx.SetContentType("application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(body)
			g.accountCached(reqID, caller, candidates[0], body, time.Since(start))
			return
		}
		if g.metrics != nil {
			g.metrics.CacheMiss()
		}
	}

	// 6. Dispatch with failover.
	outcome, err := g.completeWithFailover(ctx, creq, candidates, flags.NoFallback, reqID)
	if err != nil {
		g.writeDispatchError(ctx, reqID, creq, caller, err, time.Since(start))
		return
	}
	cand := outcome.candidate
	completion := outcome.completion

	// 7a. Streaming — SSE pass-through; accounting fires on drain.
	if creq.Stream && completion.Stream != nil {
		streamed = true
		writeSSE(ctx, completion.Stream, func(res streamResult) {
			defer g.inflight.Done()
			status := fasthttp.StatusOK
			errKind := ""
			if res.Errored {
				errKind = "stream_error"
			}
			g.account(accountInput{
				RequestID: reqID,
				Caller:    caller,
				Candidate: cand,
				Request:   creq,
				Usage:     res.Usage,
				Status:    status,
				Streamed:  true,
				ErrorKind: errKind,
				Latency:   time.Since(start),
			})
		})
		return
	}

	// 7b. Non-streaming — canonical JSON envelope.
	completion.Created = time.Now().Unix()
	body, err := json.Marshal(completion)
	if err != nil {
		apierr.WriteInternal(ctx)
		return
	}

	if cacheKey != "" {
		_ = g.respCache.Set(ctx, cacheKey, body, g.cacheTTL)
	}

	ctx.Response.Header.Set("X-Cache", xCacheMISS)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)

	g.account(accountInput{
		RequestID: reqID,
		Caller:    caller,
		Candidate: cand,
		Request:   creq,
		Usage:     completion.Usage,
		ImagesOut: countImages(completion),
		Status:    fasthttp.StatusOK,
		Latency:   time.Since(start),
	})
}

// modelKnown reports whether the id resolves to a catalog entry at all
// (vs. resolving but having no eligible mapping left after filtering).
func modelKnown(modelID string) bool {
	_, bare := catalog.SplitModelID(modelID)
	return bare == catalog.AutoModel || catalog.FindModel(bare) != nil
}

// writeDispatchError maps a failover outcome to the client-facing error.
func (g *Gateway) writeDispatchError(
	ctx *fasthttp.RequestCtx,
	reqID string,
	creq *canonical.ChatRequest,
	caller *identity.Caller,
	err error,
	latency time.Duration,
) {
	g.log.ErrorContext(ctx, "dispatch_failed",
		slog.String("request_id", reqID),
		slog.String("model", creq.Model),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, errNoEligibleProvider):
		apierr.WriteNoEligibleProvider(ctx, creq.Model)
	case errors.Is(err, context.DeadlineExceeded):
		apierr.WriteTimeout(ctx)
	default:
		var sc providers.StatusCoder
		if errors.As(err, &sc) {
			apierr.WriteProviderError(ctx, sc.HTTPStatus(), err.Error())
		} else {
			apierr.Write(ctx, fasthttp.StatusBadGateway, err.Error(),
				apierr.TypeProviderError, apierr.CodeUpstreamTransient)
		}
	}

	if g.queue != nil {
		g.queue.Push(ctx, logqueue.Envelope{
			RequestID:      reqID,
			OrganizationID: orgID(caller),
			ProjectID:      projectID(caller),
			APIKeyID:       keyID(caller),
			RequestedModel: creq.Model,
			Status:         ctx.Response.StatusCode(),
			ErrorKind:      classLabel(err),
			LatencyMs:      latency.Milliseconds(),
		})
	}
}

// cacheEligible gates the response cache on streaming, configuration, the
// project cache flag, and the exclusion list.
func (g *Gateway) cacheEligible(creq *canonical.ChatRequest, caller *identity.Caller) bool {
	if creq.Stream || g.respCache == nil {
		return false
	}
	if caller != nil && caller.Project != nil && !caller.Project.CacheEnabled {
		return false
	}
	return !g.cacheExclusions.Matches(creq.Model)
}

// ─── Accounting ───────────────────────────────────────────────────────────────

type accountInput struct {
	RequestID string
	Caller    *identity.Caller
	Candidate *Candidate
	Request   *canonical.ChatRequest
	Usage     *canonical.Usage
	ImagesOut int
	Status    int
	Streamed  bool
	CacheHit  bool
	ErrorKind string
	Latency   time.Duration
}

// account prices the completed request, records the ledger transaction, and
// enqueues the usage envelope. Ledger failures never block delivery — the
// response is already on the wire when this runs.
func (g *Gateway) account(in accountInput) {
	usage := in.Usage
	if usage == nil {
		usage = &canonical.Usage{}
	}

	charge := ledger.ComputeCharge(in.Candidate.Mapping, ledger.ChargeInput{
		Usage:     *usage,
		ImagesOut: in.ImagesOut,
	})

	if g.metrics != nil {
		g.metrics.AddTokens(in.Candidate.Mapping.Provider, usage.PromptTokens, usage.CompletionTokens)
	}

	if g.ledger != nil && in.Caller != nil && !in.CacheHit {
		rec := ledger.UsageRecord{
			RequestID: in.RequestID,
			Caller:    in.Caller,
			Mapping:   in.Candidate.Mapping,
			Charge:    charge,
			Free:      in.Candidate.Model.Free,
			DevPlan:   in.Caller.Org.Plan == identity.PlanDev,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = g.ledger.RecordUsage(ctx, rec)
		}()
	}

	if g.queue != nil {
		g.queue.Push(context.Background(), logqueue.Envelope{
			RequestID:          in.RequestID,
			OrganizationID:     orgID(in.Caller),
			ProjectID:          projectID(in.Caller),
			APIKeyID:           keyID(in.Caller),
			UsedProvider:       in.Candidate.Mapping.Provider,
			UsedModel:          in.Candidate.Mapping.ModelName,
			RequestedModel:     in.Request.Model,
			Streamed:           in.Streamed,
			PromptTokens:       usage.PromptTokens,
			CompletionTokens:   usage.CompletionTokens,
			CachedPromptTokens: usage.CachedPromptTokens,
			ReasoningTokens:    usage.ReasoningTokens,
			CostUSD:            charge.String(),
			CacheHit:           in.CacheHit,
			BYOK:               in.Candidate.BYOK != nil,
			Status:             in.Status,
			ErrorKind:          in.ErrorKind,
			LatencyMs:          in.Latency.Milliseconds(),
		})
	}
}

// accountCached logs a cache hit; cache hits are not re-charged.
func (g *Gateway) accountCached(reqID string, caller *identity.Caller, cand Candidate, body []byte, latency time.Duration) {
	var cached struct {
		Usage *canonical.Usage `json:"usage"`
	}
	_ = json.Unmarshal(body, &cached)
	g.account(accountInput{
		RequestID: reqID,
		Caller:    caller,
		Candidate: &cand,
		Request:   &canonical.ChatRequest{Model: cand.Mapping.ModelName},
		Usage:     cached.Usage,
		Status:    fasthttp.StatusOK,
		CacheHit:  true,
		Latency:   latency,
	})
}

func countImages(c *canonical.Completion) int {
	n := 0
	for _, ch := range c.Choices {
		n += len(ch.Message.Images)
	}
	return n
}

func orgID(c *identity.Caller) string {
	if c == nil || c.Org == nil {
		return ""
	}
	return c.Org.ID
}

func projectID(c *identity.Caller) string {
	if c == nil || c.Project == nil {
		return ""
	}
	return c.Project.ID
}

func keyID(c *identity.Caller) string {
	if c == nil || c.Key == nil {
		return ""
	}
	return c.Key.ID
}
