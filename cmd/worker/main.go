package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"docuchat.app/engine/common/id"
	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/common/otel"
	"docuchat.app/engine/core/config"
	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/queue"
	"docuchat.app/engine/internal/search"
	"docuchat.app/engine/internal/store"
	"docuchat.app/engine/internal/worker"
)

const sessionSweepInterval = time.Hour

func main() {
	fmt.Printf("%s\n", banner)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "ingest worker starting", "env", cfg.Env)
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.IngestStream)

	index := search.New(cfg.Typesense)
	if err := index.EnsureCollection(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to prepare search collection", "error", err)
		os.Exit(1)
	}

	stores := store.New(database)
	ingester := worker.NewIngester(database, stores.Documents, stores.Chunks, index)

	consumer := queue.NewConsumer(redisClient, cfg.Redis)
	if err := consumer.EnsureGroup(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to create consumer group", "error", err)
		os.Exit(1)
	}

	go sweepSessions(ctx, stores.Sessions)

	slog.InfoContext(ctx, "consuming ingest jobs", "group", cfg.Redis.IngestGroup)
	if err := consumer.Consume(ctx, ingester.Handle); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "consumer stopped", "error", err)
	}

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// sweepSessions periodically deletes expired sessions.
func sweepSessions(ctx context.Context, sessions *store.SessionStore) {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := sessions.DeleteExpired(ctx, time.Now())
			if err != nil {
				slog.ErrorContext(ctx, "sweeping sessions", "error", err)
				continue
			}
			if deleted > 0 {
				slog.InfoContext(ctx, "expired sessions deleted", "count", deleted)
			}
		}
	}
}

const banner = `
███████╗███╗   ██╗ ██████╗ ██╗███╗   ██╗███████╗
██╔════╝████╗  ██║██╔════╝ ██║████╗  ██║██╔════╝
█████╗  ██╔██╗ ██║██║  ███╗██║██╔██╗ ██║█████╗
██╔══╝  ██║╚██╗██║██║   ██║██║██║╚██╗██║██╔══╝
███████╗██║ ╚████║╚██████╔╝██║██║ ╚████║███████╗
╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝╚═╝  ╚═══╝╚══════╝
`
