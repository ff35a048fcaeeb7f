// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypePermissionErr     = "permission_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeProviderError     = "provider_error"
	TypeServerError       = "server_error"
)

// Code constants.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnknownModel       = "unknown_model"
	CodeUnsupported        = "unsupported_capability"
	CodeInvalidAPIKey      = "invalid_api_key"
	CodeInsufficientCredit = "insufficient_credits"
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeNoEligibleProvider = "no_eligible_provider"
	CodeUpstreamTransient  = "upstream_transient"
	CodeUpstreamPermanent  = "upstream_permanent"
	CodeRequestTimeout     = "request_timeout"
	CodeInternalError      = "internal_error"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      string `json:"code"`
		RequestID string `json:"request_id,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	reqID, _ := ctx.UserValue("request_id").(string)
	body, _ := json.Marshal(envelope{Error: APIError{
		Message:   message,
		Type:      errType,
		Code:      code,
		RequestID: reqID,
	}})
	ctx.SetBody(body)
}

// WriteInvalidRequest writes a 400 with the invalid_request code.
func WriteInvalidRequest(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusBadRequest, msg, TypeInvalidRequest, CodeInvalidRequest)
}

// WriteUnauthorized writes a 401 bad-key error.
func WriteUnauthorized(ctx *fasthttp.RequestCtx, msg string) {
	Write(ctx, fasthttp.StatusUnauthorized, msg, TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteForbidden writes a 403 (deleted org, insufficient credits, caps).
func WriteForbidden(ctx *fasthttp.RequestCtx, msg, code string) {
	Write(ctx, fasthttp.StatusForbidden, msg, TypePermissionErr, code)
}

// WriteNoEligibleProvider writes a 503 after router filtering left nothing.
func WriteNoEligibleProvider(ctx *fasthttp.RequestCtx, model string) {
	Write(ctx, fasthttp.StatusServiceUnavailable,
		fmt.Sprintf("no eligible provider for model %q", model),
		TypeProviderError, CodeNoEligibleProvider)
}

// WriteRateLimit writes a 429 with Retry-After and a human retry hint.
func WriteRateLimit(ctx *fasthttp.RequestCtx, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", secs))
	Write(ctx, fasthttp.StatusTooManyRequests,
		fmt.Sprintf("rate limit exceeded, try again in %s", humanDuration(retryAfter)),
		TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteProviderError maps a provider HTTP status to the gateway status.
//
//	Provider 429       → 429 + Retry-After: 60
//	Provider 5xx       → 502 upstream_transient
//	Provider auth 4xx  → 502 upstream_permanent (gateway credential problem)
//	Other 4xx          → passthrough with the provider's reason attached
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 500:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeUpstreamTransient)
	case providerStatus == fasthttp.StatusUnauthorized || providerStatus == fasthttp.StatusForbidden:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeUpstreamPermanent)
	case providerStatus >= 400:
		Write(ctx, providerStatus, msg, TypeProviderError, CodeUpstreamPermanent)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeUpstreamTransient)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteInternal writes a 500 with the stable request id attached.
func WriteInternal(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusInternalServerError, "internal server error", TypeServerError, CodeInternalError)
}

// humanDuration renders "2h 5m" / "3m" / "45s" retry hints.
func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
