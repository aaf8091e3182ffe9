package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"docuchat.app/engine/common/id"
	"docuchat.app/engine/common/llm"
	"docuchat.app/engine/common/logger"
	"docuchat.app/engine/common/otel"
	"docuchat.app/engine/core/config"
	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/agent"
	"docuchat.app/engine/internal/http/handler"
	httprouter "docuchat.app/engine/internal/http/router"
	"docuchat.app/engine/internal/queue"
	"docuchat.app/engine/internal/retriever"
	"docuchat.app/engine/internal/search"
	"docuchat.app/engine/internal/service"
	"docuchat.app/engine/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "engine starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

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

	oracle, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.OracleLLM.Provider,
		APIKey:   cfg.OracleLLM.APIKey,
		BaseURL:  cfg.OracleLLM.BaseURL,
		Model:    cfg.OracleLLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create oracle client", "error", err)
		os.Exit(1)
	}

	plannerClient, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.PlannerLLM.Provider,
		APIKey:   cfg.PlannerLLM.APIKey,
		BaseURL:  cfg.PlannerLLM.BaseURL,
		Model:    cfg.PlannerLLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create planner client", "error", err)
		os.Exit(1)
	}

	stores := store.New(database)
	producer := queue.NewProducer(redisClient, cfg.Redis)

	tools := retriever.New(index, stores.Documents, stores.Chunks)
	planner := agent.NewPlanner(plannerClient, cfg.PlannerLLM.MaxTokens)
	executor := agent.NewExecutor(oracle, planner, tools, cfg.OracleLLM.MaxTokens)

	authService := service.NewAuthService(cfg.WorkOS, stores.Users, stores.Sessions)
	agentService := service.NewAgentService(executor, stores.Runs, producer)

	router := httprouter.New(cfg, authService, httprouter.Handlers{
		Auth:      handler.NewAuthHandler(authService, cfg.DashboardURL, cfg.IsProduction()),
		Agent:     handler.NewAgentHandler(agentService),
		Documents: handler.NewDocumentHandler(stores.Documents, producer),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

const banner = `
███████╗███╗   ██╗ ██████╗ ██╗███╗   ██╗███████╗
██╔════╝████╗  ██║██╔════╝ ██║████╗  ██║██╔════╝
█████╗  ██╔██╗ ██║██║  ███╗██║██╔██╗ ██║█████╗
██╔══╝  ██║╚██╗██║██║   ██║██║██║╚██╗██║██╔══╝
███████╗██║ ╚████║╚██████╔╝██║██║ ╚████║███████╗
╚══════╝╚═╝  ╚═══╝ ╚═════╝ ╚═╝╚═╝  ╚═══╝╚══════╝
`
