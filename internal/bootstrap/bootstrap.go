package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/rag-query-engine/internal/config"
	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	"github.com/kirillkom/rag-query-engine/internal/core/ports"
	"github.com/kirillkom/rag-query-engine/internal/core/usecase"
	configpg "github.com/kirillkom/rag-query-engine/internal/infrastructure/configstore/postgres"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/configstore/rediscache"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/queue/nats"
	"github.com/kirillkom/rag-query-engine/internal/infrastructure/resilience"
)

type App struct {
	Config config.Config

	Pipeline ports.QueryPipeline
	Queue    *nats.Queue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := configpg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	configStore := configpg.New(db)
	if err := configStore.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure config schema: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The cache degrades to the store, so a cold redis only costs reads.
		logger.Warn("redis_unreachable_at_startup", "addr", cfg.RedisAddr, "error", err)
	}
	cachedStore := rediscache.New(configStore, redisClient, cfg.ConfigCacheTTL, logger)

	executorCfg := resilience.DefaultConfig()
	if cfg.MaxRetries > 0 {
		executorCfg.RetryMaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryBaseDelay > 0 {
		executorCfg.RetryInitialBackoff = cfg.RetryBaseDelay
	}
	exec := resilience.NewExecutor(executorCfg)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: exec,
	})
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		queue.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load pipeline profiles: %w", err)
	}
	defaults := domain.DefaultPipelineConfig()
	if profile, ok := profiles[cfg.DefaultProfile]; ok {
		defaults = profile
	}

	registry := newBackendRegistry(cfg)
	embedder, err := registry.Embedder()
	if err != nil {
		queue.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, err
	}

	resolver := usecase.NewConfigResolver(cachedStore, defaults)
	enhancer := usecase.NewEnhancer(registry, exec)
	retriever := usecase.NewRetriever(embedder, registry, exec)
	reranker := usecase.NewReranker(registry, exec)
	reasoner := usecase.NewChainOfThought(retriever, reranker, registry, exec, 0)
	synthesizer := usecase.NewSynthesizer(registry, exec, usecase.NewLexicalCitationMatcher())

	pipeline := usecase.NewPipelineExecutor(
		resolver,
		enhancer,
		retriever,
		reranker,
		reasoner,
		synthesizer,
		queue,
		logger,
	)

	return &App{
		Config:   cfg,
		Pipeline: pipeline,
		Queue:    queue,
		closeFn: func() {
			queue.Close()
			registry.Close(context.Background())
			_ = redisClient.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
