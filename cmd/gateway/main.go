// Command gateway is the relaypoint multi-provider LLM proxy server.
//
// It reads configuration from environment variables (or config.yaml) and
// exposes an OpenAI-compatible HTTP surface on the configured port.
//
// Quick-start (no Redis required):
//
//	OPENAI_API_KEY=sk-... ./gateway
//
// See .env.example for all available configuration variables.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaypoint/llm-gateway/internal/app"
	"github.com/relaypoint/llm-gateway/internal/config"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration — a fatal startup error exits 1.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build the structured logger. All subsystems share this instance.
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !isClosedListener(err) {
		logger.Error("gateway exited", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// buildLogger constructs the shared JSON logger at the configured level.
func buildLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// isClosedListener filters the benign error returned when Shutdown closes
// the listener out from under ListenAndServe.
func isClosedListener(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
