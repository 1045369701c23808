// Command server starts the exam assistant HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sarangn19/exam-assistant/internal/adapter/ai"
	"github.com/sarangn19/exam-assistant/internal/adapter/ai/gemini"
	httpserver "github.com/sarangn19/exam-assistant/internal/adapter/httpserver"
	"github.com/sarangn19/exam-assistant/internal/adapter/kv"
	"github.com/sarangn19/exam-assistant/internal/adapter/observability"
	"github.com/sarangn19/exam-assistant/internal/adapter/queue/redpanda"
	"github.com/sarangn19/exam-assistant/internal/adapter/repo/memory"
	"github.com/sarangn19/exam-assistant/internal/adapter/repo/postgres"
	"github.com/sarangn19/exam-assistant/internal/app"
	"github.com/sarangn19/exam-assistant/internal/cache"
	"github.com/sarangn19/exam-assistant/internal/clock"
	"github.com/sarangn19/exam-assistant/internal/config"
	"github.com/sarangn19/exam-assistant/internal/domain"
	"github.com/sarangn19/exam-assistant/internal/mode"
	"github.com/sarangn19/exam-assistant/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clk := clock.System()

	// Postgres backs the conversation log and, without Redis, the cache store.
	var pool *pgxpool.Pool
	if cfg.DBURL != "" {
		pool, err = postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("op=main.run: REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	var store domain.KVStore
	switch {
	case rdb != nil:
		store = kv.NewRedis(rdb, "exam-assistant:")
	case pool != nil:
		store = postgres.NewKVStore(pool)
	default:
		store = kv.NewMemory()
	}

	var convs domain.ConversationLog
	if pool != nil {
		convs = postgres.NewConversationRepo(pool)
	} else {
		convs = memory.NewConversationStore()
	}

	var limiter ai.Limiter = ai.NewRateLimiter(cfg.AIRequestsPerMinute, cfg.AIRequestsPerHour, clk)
	if cfg.LimiterBackend == "redis" {
		if rdb == nil {
			return errors.New("op=main.run: LIMITER_BACKEND=redis requires REDIS_URL")
		}
		limiter = ai.NewRedisWindowLimiter(rdb, "exam-assistant:ai:limiter", cfg.AIRequestsPerMinute, cfg.AIRequestsPerHour, clk)
	}
	retry := ai.NewRetryExecutor(cfg.GetRetryConfig(), clk, limiter)
	client := gemini.New(cfg, retry)

	overrides, err := config.LoadModePrompts(cfg.ModePromptsPath)
	if err != nil {
		return err
	}
	registry, err := mode.NewRegistry(domain.ModeID(cfg.DefaultMode), overrides)
	if err != nil {
		return err
	}

	ttl, err := cfg.TTLOverrides()
	if err != nil {
		return err
	}
	responses := cache.New(clk, cache.Options{Capacity: cfg.CacheMaxEntries, TTLOverrides: ttl, Store: store})
	if res, err := responses.Load(ctx); err != nil {
		slog.Warn("cache restore failed, starting empty", slog.Any("error", err))
	} else {
		slog.Info("cache restored",
			slog.Int("responses", res.Responses),
			slog.Int("contexts", res.Contexts),
			slog.Int("dropped", res.Dropped))
	}

	opts := []usecase.Option{usecase.WithClock(clk), usecase.WithFallback(ai.NewFallbackResponder())}
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := redpanda.NewPublisher(ctx, cfg.KafkaBrokers, cfg.TurnEventsTopic)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pub.Close(closeCtx); err != nil {
				slog.Error("failed to close turn publisher", slog.Any("error", err))
			}
		}()
		opts = append(opts, usecase.WithPublisher(pub))
	}
	assistant := usecase.NewAssistantService(registry, responses, client, convs, usecase.AssistantConfig{
		HistoryWindow:   cfg.HistoryWindow,
		MaxInputChars:   cfg.MaxInputChars,
		MaxInputBytes:   cfg.MaxInputBytes,
		DisableFallback: cfg.DisableFallback,
		GenerateTimeout: app.RequestTimeout(cfg),
	}, opts...)

	var wg sync.WaitGroup
	sweeper := app.NewCacheSweeper(responses, cfg.CacheSweepInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	var admin *httpserver.AdminCredentials
	if cfg.AdminEnabled() {
		creds, err := httpserver.NewAdminCredentials(cfg.AdminUsername, cfg.AdminPassword, httpserver.DefaultArgon2Params)
		if err != nil {
			return err
		}
		admin = &creds
	}

	var checks []httpserver.ReadinessCheck
	switch {
	case pool != nil && rdb != nil:
		checks = app.BuildReadinessChecks(pool, rdb)
	case pool != nil:
		checks = app.BuildReadinessChecks(pool, nil)
	case rdb != nil:
		checks = app.BuildReadinessChecks(nil, rdb)
	}
	// Inline images arrive base64 encoded inside the JSON body.
	srv := httpserver.NewServer(assistant, responses, int64(cfg.MaxInputBytes)+8<<20, checks...)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv, admin),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      app.WriteTimeout(cfg),
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.String("model", client.Model()),
			slog.String("default_mode", string(registry.Current())),
			slog.String("limiter_backend", cfg.LimiterBackend))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return fmt.Errorf("op=main.run: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", slog.Any("error", err))
	}
	wg.Wait()
	return nil
}
