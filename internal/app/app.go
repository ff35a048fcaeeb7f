// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — Redis, ClickHouse sink
//  2. initProviders — provider strategy clients
//  3. initServices  — metrics registry, management routes
//  4. initGateway   — dispatcher with limiter, log queue, ledger, cache, routes
//
// Shutdown runs the §-documented sequence: stop accepting, drain in-flight
// streams up to the grace period, flush the log queue, close Redis and the
// sink.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	gwCache "github.com/relaypoint/llm-gateway/internal/cache"
	"github.com/relaypoint/llm-gateway/internal/config"
	"github.com/relaypoint/llm-gateway/internal/identity"
	"github.com/relaypoint/llm-gateway/internal/ledger"
	"github.com/relaypoint/llm-gateway/internal/logqueue"
	"github.com/relaypoint/llm-gateway/internal/metrics"
	"github.com/relaypoint/llm-gateway/internal/providers"
	"github.com/relaypoint/llm-gateway/internal/proxy"
	"github.com/relaypoint/llm-gateway/internal/ratelimit"

	"github.com/valyala/fasthttp"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb      *redis.Client
	consumer *logqueue.Consumer
	memCache *gwCache.MemoryCache

	prom  *metrics.Registry
	provs map[string]providers.Provider
	mgmt  *proxy.ManagementRoutes
	gw    *proxy.Gateway
	srv   *fasthttp.Server

	// Identity storage is an external collaborator; nil runs the gateway in
	// anonymous self-hosted mode.
	store identity.Store
}

// New initialises all subsystems and returns a ready-to-run App.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// SetStore injects the external identity storage collaborator. Must be
// called before Run in hosted deployments.
func (a *App) SetStore(s identity.Store) { a.store = s }

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// error occurs. The graceful shutdown sequence runs when ctx ends.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("env", a.cfg.Env),
		slog.Bool("hosted", a.cfg.Hosted),
		slog.Int("providers", len(a.provs)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

// shutdown runs the ordered graceful-stop sequence.
func (a *App) shutdown() {
	// (a) stop accepting new requests.
	if a.srv != nil {
		_ = a.srv.Shutdown()
	}
	// (b) drain in-flight streams up to the grace period.
	if a.gw != nil {
		a.gw.Shutdown(a.cfg.ShutdownGracePeriod)
	}
	// (d,e) flush the log queue and close connections.
	a.Close()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.log.Error("log consumer close error", slog.String("error", err.Error()))
		}
		a.consumer = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis builds a client and verifies connectivity with a PING.
func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return rdb, nil
}

// redisPinger returns a readiness probe that reuses the existing client.
func redisPinger(ctx context.Context, rdb *redis.Client) func() bool {
	return func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err() == nil
	}
}

// buildLedger wires the cost ledger over its storage collaborator. The
// ledger always runs over the in-memory store; App has no hook to supply
// another one.
func buildLedger(cfg *config.Config, log *slog.Logger) (*ledger.Ledger, *ledger.Webhook) {
	l := ledger.New(ledger.NewMemStore(), log)
	l.BonusMultiplier = cfg.FirstTimeCreditBonusMultiplier

	var wh *ledger.Webhook
	if cfg.StripeWebhookSecret != "" {
		wh = ledger.NewWebhook(l, cfg.StripeWebhookSecret, log)
	}
	return l, wh
}

// buildLimiter returns the Redis limiter, nil when Redis is absent.
func buildLimiter(rdb *redis.Client, env string) *ratelimit.Limiter {
	if rdb == nil {
		return nil
	}
	return ratelimit.New(rdb, env)
}
