package proxy

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// ManagementRoutes holds optional management handlers registered alongside
// the proxy routes.
type ManagementRoutes struct {
	Metrics fasthttp.RequestHandler
}

// ServerOptions tunes the fasthttp server.
type ServerOptions struct {
	// KeepAliveTimeout bounds idle keep-alive connections. Default: 60s.
	KeepAliveTimeout time.Duration
}

// Handler builds the full middleware-wrapped request handler.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", g.dispatchChat)
	r.POST("/v1/images/generations", g.dispatchImages)
	r.GET("/v1/models", g.handleModels)
	r.POST("/mcp", g.handleMCP)
	r.POST("/webhooks/stripe", g.handleStripeWebhook)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// NewServer builds the fasthttp server for the gateway.
func (g *Gateway) NewServer(mgmt *ManagementRoutes, opts ServerOptions) *fasthttp.Server {
	keepAlive := opts.KeepAliveTimeout
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	return &fasthttp.Server{
		Handler:      g.Handler(mgmt),
		ReadTimeout:  60 * time.Second,
		IdleTimeout:  keepAlive,
		CloseOnShutdown: true,
	}
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	provs := make(map[string]string, len(g.providers))
	for name := range g.providers {
		provs[name] = g.cb.StateLabel(name)
	}
	writeJSON(ctx, map[string]any{
		"status":    "ok",
		"providers": provs,
	})
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.redisReady == nil || g.redisReady() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
