// Package cache provides the exact-match response cache: Redis-backed in
// production, in-process for single-node deployments. Only non-streaming
// completions are cached, and only for projects with the cache flag on.
//
// Graceful degradation: when the backend is unavailable, Get returns
// (nil, false) and Set returns nil — a broken cache never breaks a request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/relaypoint/llm-gateway/internal/canonical"
)

// Cache is the response cache interface.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds a deterministic cache key for a request. Organization, project,
// provider, and model are included to prevent cross-tenant and
// cross-provider collisions when two providers share a model name.
func Key(orgID, projectID, provider string, req *canonical.ChatRequest) string {
	data, _ := json.Marshal(struct {
		Org      string                 `json:"o"`
		Project  string                 `json:"p"`
		Provider string                 `json:"pr"`
		Request  *canonical.ChatRequest `json:"r"`
	}{orgID, projectID, provider, req})
	h := sha256.Sum256(data)
	return "cache:" + hex.EncodeToString(h[:])
}
