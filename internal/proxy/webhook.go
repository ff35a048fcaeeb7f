package proxy

import (
	"log/slog"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/relaypoint/llm-gateway/pkg/apierr"
)

// handleStripeWebhook verifies and ingests Stripe events. Verification
// failures return 400 so Stripe retries stop; ledger failures return 500 so
// they retry.
func (g *Gateway) handleStripeWebhook(ctx *fasthttp.RequestCtx) {
	if g.webhook == nil {
		apierr.Write(ctx, fasthttp.StatusNotImplemented,
			"billing not configured", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	sig := string(ctx.Request.Header.Peek("Stripe-Signature"))
	err := g.webhook.HandlePayload(ctx, ctx.PostBody(), sig)
	if err != nil {
		if strings.Contains(err.Error(), "verify") {
			g.log.Warn("stripe_webhook_bad_signature", slog.String("error", err.Error()))
			apierr.WriteInvalidRequest(ctx, "invalid webhook signature")
			return
		}
		g.log.Error("stripe_webhook_failed", slog.String("error", err.Error()))
		apierr.WriteInternal(ctx)
		return
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"received":true}`)
}
