package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"docuchat.app/engine/core/config"
	"docuchat.app/engine/internal/agent"
)

// Producer publishes ingest jobs and per-run trace events to redis streams.
type Producer struct {
	rdb *redis.Client
	cfg config.RedisConfig
}

func NewProducer(rdb *redis.Client, cfg config.RedisConfig) *Producer {
	return &Producer{rdb: rdb, cfg: cfg}
}

// EnqueueDocument queues a document for chunking and indexing.
func (p *Producer) EnqueueDocument(ctx context.Context, documentID, ownerUserID string) error {
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.cfg.IngestStream,
		Values: map[string]any{
			"document_id":   documentID,
			"owner_user_id": ownerUserID,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueueing document %s: %w", documentID, err)
	}

	slog.InfoContext(ctx, "document enqueued", "document_id", documentID, "message_id", id)
	return nil
}

// traceStreamTTL bounds how long a finished run's trace stream lingers.
const traceStreamTTL = time.Hour

// TraceStreamKey returns the redis stream key for a run's trace events.
func (p *Producer) TraceStreamKey(runID int64) string {
	return fmt.Sprintf("%s:run-%d", p.cfg.TracePrefix, runID)
}

// PublishTrace fans a trace entry out to the run's stream so other processes
// can observe a run in flight. Failures are logged, never fatal: the in-process
// stream to the caller is the source of truth.
func (p *Producer) PublishTrace(ctx context.Context, runID int64, entry agent.TraceEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		slog.ErrorContext(ctx, "marshaling trace entry", "error", err)
		return
	}

	key := p.TraceStreamKey(runID)
	pipe := p.rdb.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"entry": payload},
	})
	pipe.Expire(ctx, key, traceStreamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "publishing trace entry", "run_id", runID, "error", err)
	}
}
