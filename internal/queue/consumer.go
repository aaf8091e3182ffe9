package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"docuchat.app/engine/core/config"
)

// IngestJob is a dequeued document ingest request.
type IngestJob struct {
	MessageID   string
	DocumentID  string
	OwnerUserID string
}

// Consumer reads ingest jobs from the redis stream via a consumer group.
type Consumer struct {
	rdb *redis.Client
	cfg config.RedisConfig
}

func NewConsumer(rdb *redis.Client, cfg config.RedisConfig) *Consumer {
	return &Consumer{rdb: rdb, cfg: cfg}
}

// EnsureGroup creates the consumer group if it does not already exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.IngestStream, c.cfg.IngestGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Consume blocks reading jobs and invokes handle for each. A handler error
// leaves the message unacked for redelivery; success acks it. Returns when
// ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handle func(ctx context.Context, job IngestJob) error) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.IngestGroup,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.IngestStream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			slog.ErrorContext(ctx, "reading ingest stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				job := IngestJob{
					MessageID:   msg.ID,
					DocumentID:  stringValue(msg.Values, "document_id"),
					OwnerUserID: stringValue(msg.Values, "owner_user_id"),
				}

				if job.DocumentID == "" {
					slog.WarnContext(ctx, "skipping malformed ingest message", "message_id", msg.ID)
					c.ack(ctx, msg.ID)
					continue
				}

				if err := handle(ctx, job); err != nil {
					slog.ErrorContext(ctx, "ingest job failed",
						"document_id", job.DocumentID, "error", err)
					continue
				}

				c.ack(ctx, msg.ID)
			}
		}
	}
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.rdb.XAck(ctx, c.cfg.IngestStream, c.cfg.IngestGroup, messageID).Err(); err != nil {
		slog.WarnContext(ctx, "acking message", "message_id", messageID, "error", err)
	}
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}
