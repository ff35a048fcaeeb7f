package logqueue

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const insertLogs = `
	INSERT INTO request_logs (
		request_id, organization_id, project_id, api_key_id,
		used_provider, used_model, requested_model, streamed,
		prompt_tokens, completion_tokens, cached_prompt_tokens, reasoning_tokens,
		cost_usd, cache_hit, byok, status, error_kind, latency_ms, created_at
	)`

// ClickHouseSink writes envelope batches to the request_logs table.
type ClickHouseSink struct {
	conn driver.Conn
}

// NewClickHouseSink connects to ClickHouse and verifies the connection.
func NewClickHouseSink(ctx context.Context, addr, database, user, password string) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	return &ClickHouseSink{conn: conn}, nil
}

// Write inserts the batch in one prepared block.
func (s *ClickHouseSink) Write(ctx context.Context, batch []Envelope) error {
	b, err := s.conn.PrepareBatch(ctx, insertLogs)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare: %w", err)
	}
	for _, e := range batch {
		if err := b.Append(
			e.RequestID, e.OrganizationID, e.ProjectID, e.APIKeyID,
			e.UsedProvider, e.UsedModel, e.RequestedModel, e.Streamed,
			uint32(e.PromptTokens), uint32(e.CompletionTokens),
			uint32(e.CachedPromptTokens), uint32(e.ReasoningTokens),
			e.CostUSD, e.CacheHit, e.BYOK, uint16(e.Status),
			e.ErrorKind, e.LatencyMs, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("clickhouse: append: %w", err)
		}
	}
	if err := b.Send(); err != nil {
		return fmt.Errorf("clickhouse: send: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *ClickHouseSink) Close() error { return s.conn.Close() }
