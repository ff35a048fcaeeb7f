package logqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relaypoint/llm-gateway/internal/logqueue"
)

type memSink struct {
	mu      sync.Mutex
	batches [][]logqueue.Envelope
}

func (m *memSink) Write(_ context.Context, batch []logqueue.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]logqueue.Envelope, len(batch))
	copy(cp, batch)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestQueueName(t *testing.T) {
	if got := logqueue.QueueName("production"); got != "log_queue_production" {
		t.Errorf("QueueName = %q", got)
	}
	if got := logqueue.QueueName(""); got != "log_queue_development" {
		t.Errorf("QueueName(empty) = %q", got)
	}
}

func TestProducerConsumer_RoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	prod := logqueue.NewProducer(rdb, "test", nil)
	for i := 0; i < 25; i++ {
		prod.Push(ctx, logqueue.Envelope{
			RequestID:    "req-" + string(rune('a'+i)),
			UsedProvider: "openai",
			UsedModel:    "gpt-4o",
			Status:       200,
		})
	}
	if prod.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", prod.Dropped())
	}

	sink := &memSink{}
	cons := logqueue.NewConsumer(rdb, "test", sink, nil)
	cons.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for sink.total() < 25 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := cons.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if sink.total() != 25 {
		t.Fatalf("consumed %d envelopes, want 25", sink.total())
	}
	// Batches are capped at 10 per drain.
	for _, b := range sink.batches {
		if len(b) > 10 {
			t.Errorf("batch of %d exceeds the cap of 10", len(b))
		}
	}
}

func TestProducer_DropsOnRedisError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	prod := logqueue.NewProducer(rdb, "test", nil)
	mr.Close()

	// Must not block or panic; the envelope is counted as dropped.
	prod.Push(context.Background(), logqueue.Envelope{RequestID: "req-x"})
	if prod.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", prod.Dropped())
	}
}

func TestConsumer_FinalDrainOnClose(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	prod := logqueue.NewProducer(rdb, "test", nil)
	prod.Push(ctx, logqueue.Envelope{RequestID: "late"})

	sink := &memSink{}
	cons := logqueue.NewConsumer(rdb, "test", sink, nil)
	cons.Run(ctx)
	if err := cons.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sink.total() == 0 {
		t.Error("close must flush queued envelopes")
	}
}
