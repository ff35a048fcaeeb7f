package logqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// batchSize is the maximum envelopes drained per LPOP round.
	batchSize = 10
	// pushTimeout bounds the producer's Redis round-trip so a slow Redis
	// cannot stall the request path.
	pushTimeout = 250 * time.Millisecond
	// idleSleep is the consumer poll interval when the queue is empty.
	idleSleep = time.Second
)

// Producer pushes envelopes onto the Redis list.
type Producer struct {
	rdb   *redis.Client
	queue string
	log   *slog.Logger

	dropped int64
}

// NewProducer creates a Producer for the given environment queue.
func NewProducer(rdb *redis.Client, env string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{rdb: rdb, queue: QueueName(env), log: log}
}

// Push enqueues one envelope. It never returns an error and never blocks
// beyond pushTimeout: failures are counted, logged, and dropped.
func (p *Producer) Push(ctx context.Context, e Envelope) {
	if p == nil || p.rdb == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		atomic.AddInt64(&p.dropped, 1)
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()

	if err := p.rdb.LPush(pushCtx, p.queue, data).Err(); err != nil {
		atomic.AddInt64(&p.dropped, 1)
		p.log.Warn("log_queue_push_failed",
			slog.String("request_id", e.RequestID),
			slog.String("error", err.Error()),
		)
	}
}

// Dropped returns the number of envelopes lost to marshal or Redis errors.
func (p *Producer) Dropped() int64 { return atomic.LoadInt64(&p.dropped) }

// Sink stores drained envelopes durably.
type Sink interface {
	Write(ctx context.Context, batch []Envelope) error
	Close() error
}

// Consumer drains the queue in batches and writes them to a Sink. A lost
// batch is acceptable; the consumer favors liveness over exactly-once.
type Consumer struct {
	rdb   *redis.Client
	queue string
	sink  Sink
	log   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConsumer creates a Consumer; call Run to start draining.
func NewConsumer(rdb *redis.Client, env string, sink Sink, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		rdb:   rdb,
		queue: QueueName(env),
		sink:  sink,
		log:   log,
		done:  make(chan struct{}),
	}
}

// Run starts the drain loop in a background goroutine.
func (c *Consumer) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.done:
				// Final drain so shutdown flushes whatever is queued.
				for c.drainOnce(context.WithoutCancel(ctx)) > 0 {
				}
				return
			case <-ctx.Done():
				return
			default:
			}
			if n := c.drainOnce(ctx); n == 0 {
				select {
				case <-time.After(idleSleep):
				case <-c.done:
				case <-ctx.Done():
				}
			}
		}
	}()
}

// drainOnce pops up to batchSize envelopes and writes them to the sink.
// Returns the number of envelopes handled.
func (c *Consumer) drainOnce(ctx context.Context) int {
	vals, err := c.rdb.LPopCount(ctx, c.queue, batchSize).Result()
	if err != nil || len(vals) == 0 {
		return 0
	}

	batch := make([]Envelope, 0, len(vals))
	for _, v := range vals {
		var e Envelope
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			c.log.Warn("log_queue_bad_envelope", slog.String("error", err.Error()))
			continue
		}
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return len(vals)
	}

	if err := c.sink.Write(ctx, batch); err != nil {
		c.log.Error("log_queue_sink_write_failed",
			slog.Int("batch", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	return len(vals)
}

// Close stops the loop, performs a final drain, and closes the sink.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return c.sink.Close()
}
