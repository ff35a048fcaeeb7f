package app

import (
	"context"
	"fmt"
	"log/slog"

	gwCache "github.com/relaypoint/llm-gateway/internal/cache"
	"github.com/relaypoint/llm-gateway/internal/catalog"
	"github.com/relaypoint/llm-gateway/internal/config"
	"github.com/relaypoint/llm-gateway/internal/logqueue"
	"github.com/relaypoint/llm-gateway/internal/metrics"
	"github.com/relaypoint/llm-gateway/internal/providers"
	anthropicprov "github.com/relaypoint/llm-gateway/internal/providers/anthropic"
	bedrockprov "github.com/relaypoint/llm-gateway/internal/providers/bedrock"
	googleprov "github.com/relaypoint/llm-gateway/internal/providers/google"
	openaiprov "github.com/relaypoint/llm-gateway/internal/providers/openai"
	openaicompatprov "github.com/relaypoint/llm-gateway/internal/providers/openaicompat"
	"github.com/relaypoint/llm-gateway/internal/proxy"
)

// initInfra establishes external connections: Redis (limiters, log queue,
// cache) and the ClickHouse log sink.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Redis.Host != "" {
		a.log.Info("connecting to redis", slog.String("addr", a.cfg.Redis.Addr()))
		rdb, err := connectRedis(ctx, a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
	}

	if a.cfg.ClickHouse.Addr != "" && a.rdb != nil {
		sink, err := logqueue.NewClickHouseSink(ctx,
			a.cfg.ClickHouse.Addr, a.cfg.ClickHouse.Database,
			a.cfg.ClickHouse.User, a.cfg.ClickHouse.Password)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.consumer = logqueue.NewConsumer(a.rdb, a.cfg.Env, sink, a.log)
		a.consumer.Run(context.WithoutCancel(a.baseCtx))
		a.log.Info("log queue consumer started", slog.String("queue", logqueue.QueueName(a.cfg.Env)))
	}

	return nil
}

// initProviders builds the provider strategy map from configured
// credentials. At least one provider is guaranteed by config validation.
func (a *App) initProviders(ctx context.Context) error {
	provs := make(map[string]providers.Provider)

	if a.cfg.OpenAI.APIKey != "" {
		var opts []openaiprov.Option
		if a.cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openaiprov.WithBaseURL(a.cfg.OpenAI.BaseURL))
		}
		provs["openai"] = openaiprov.New(a.cfg.OpenAI.APIKey, opts...)
	}

	if a.cfg.Anthropic.APIKey != "" {
		var opts []anthropicprov.Option
		if a.cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropicprov.WithBaseURL(a.cfg.Anthropic.BaseURL))
		}
		provs["anthropic"] = anthropicprov.New(a.cfg.Anthropic.APIKey, opts...)
	}

	if a.cfg.Google.APIKey != "" {
		var opts []googleprov.Option
		if a.cfg.Google.BaseURL != "" {
			opts = append(opts, googleprov.WithBaseURL(a.cfg.Google.BaseURL))
		}
		p, err := googleprov.New(ctx, a.cfg.Google.APIKey, opts...)
		if err != nil {
			return err
		}
		provs["google"] = p
	}

	if a.cfg.VertexAI.Project != "" {
		p, err := googleprov.NewVertex(ctx, a.cfg.VertexAI.Project, a.cfg.VertexAI.Location)
		if err != nil {
			return err
		}
		provs["vertexai"] = p
	}

	if a.cfg.Bedrock.AccessKey != "" && a.cfg.Bedrock.SecretKey != "" && a.cfg.Bedrock.Region != "" {
		var opts []bedrockprov.Option
		if a.cfg.Bedrock.SessionToken != "" {
			opts = append(opts, bedrockprov.WithSessionToken(a.cfg.Bedrock.SessionToken))
		}
		if a.cfg.Bedrock.EndpointURL != "" {
			opts = append(opts, bedrockprov.WithEndpointURL(a.cfg.Bedrock.EndpointURL))
		}
		provs["bedrock"] = bedrockprov.New(
			a.cfg.Bedrock.AccessKey, a.cfg.Bedrock.SecretKey, a.cfg.Bedrock.Region, opts...,
		)
	}

	// ── OpenAI-compatible providers ───────────────────────────────────────────
	type ocEntry struct {
		cfg  config.ProviderConfig
		name string
	}
	ocProviders := []ocEntry{
		{a.cfg.Cerebras, "cerebras"},
		{a.cfg.Together, "together"},
		{a.cfg.DeepSeek, "deepseek"},
		{a.cfg.XAI, "xai"},
		{a.cfg.Groq, "groq"},
		{a.cfg.ZAI, "zai"},
		{a.cfg.Alibaba, "alibaba"},
		{a.cfg.Inference, "inference"},
		{a.cfg.Perplexity, "perplexity"},
		{a.cfg.Novita, "novita"},
		{a.cfg.Nebius, "nebius"},
		{a.cfg.Moonshot, "moonshot"},
		{a.cfg.NanoGPT, "nanogpt"},
		{a.cfg.Routeway, "routeway"},
		{a.cfg.CloudRift, "cloudrift"},
		{a.cfg.CanopyWave, "canopywave"},
	}
	for _, e := range ocProviders {
		if e.cfg.APIKey == "" {
			continue
		}
		baseURL := e.cfg.BaseURL
		if baseURL == "" {
			if def := catalog.FindProvider(e.name); def != nil {
				baseURL = def.BaseURL
			}
		}
		provs[e.name] = openaicompatprov.New(e.name, e.cfg.APIKey, baseURL)
	}

	if len(provs) == 0 {
		return fmt.Errorf("no provider credentials configured")
	}
	a.provs = provs

	names := make([]string, 0, len(provs))
	for n := range provs {
		names = append(names, n)
	}
	a.log.Info("providers loaded", slog.Any("providers", names))
	return nil
}

// initServices creates the metrics registry and management routes.
func (a *App) initServices(_ context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)
	a.mgmt = &proxy.ManagementRoutes{Metrics: a.prom.Handler()}
	return nil
}

// initGateway wires the dispatcher with all configured subsystems.
func (a *App) initGateway(_ context.Context) error {
	gw := proxy.NewGateway(a.provs, a.store, proxy.GatewayOptions{
		Logger:        a.log,
		Metrics:       a.prom,
		Hosted:        a.cfg.Hosted,
		NoFallbackEnv: a.cfg.NoFallback,
		RPMLimit:      a.cfg.RPMLimit,
		CacheTTL:      a.cfg.Cache.TTL,
		Env:           a.cfg.Env,
		CORSOrigins:   a.cfg.OriginURLs,
	})

	if a.rdb != nil {
		gw.SetLimiter(buildLimiter(a.rdb, a.cfg.Env))
		gw.SetLogQueue(logqueue.NewProducer(a.rdb, a.cfg.Env, a.log))
		gw.SetRedisProbe(redisPinger(a.baseCtx, a.rdb))
	}

	l, wh := buildLedger(a.cfg, a.log)
	gw.SetLedger(l, wh)

	excl, err := gwCache.NewExclusionList(a.cfg.Cache.ExcludeExact, a.cfg.Cache.ExcludePatterns)
	if err != nil {
		return err
	}
	switch a.cfg.Cache.Mode {
	case "redis":
		gw.SetCache(gwCache.NewExactCache(a.rdb), excl)
		a.log.Info("cache backend: redis")
	case "memory":
		a.memCache = gwCache.NewMemoryCache(a.baseCtx)
		gw.SetCache(a.memCache, excl)
		a.log.Info("cache backend: memory (in-process)")
	case "none":
		a.log.Info("cache backend: disabled")
	}

	a.gw = gw
	a.srv = gw.NewServer(a.mgmt, proxy.ServerOptions{KeepAliveTimeout: a.cfg.KeepAliveTimeout})
	return nil
}
