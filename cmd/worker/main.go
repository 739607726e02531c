package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/rag-query-engine/internal/bootstrap"
	"github.com/kirillkom/rag-query-engine/internal/config"
	"github.com/kirillkom/rag-query-engine/internal/core/domain"
	repopg "github.com/kirillkom/rag-query-engine/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/rag-query-engine/internal/observability/logging"
	"github.com/kirillkom/rag-query-engine/internal/observability/metrics"
)

const serviceName = "rag-query-engine-consumer"

// The consumer daemon drains query-completed events so downstream services
// (conversation history, analytics) can pick them up without sitting on the
// request path. The reference handler logs each completion.
func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	historyDB, err := repopg.OpenDB(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open history db: %v", err)
	}
	defer func() { _ = historyDB.Close() }()
	history := repopg.NewQueryHistoryRepository(historyDB)
	if err := history.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure history schema: %v", err)
	}

	consumerMetrics := metrics.NewConsumerMetrics(serviceName)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ConsumerMetricsPort,
		Handler: consumerMetrics.Handler(),
	}
	go func() {
		logger.Info("consumer_metrics_listening", "port", cfg.ConsumerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("consumer_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeQueryCompleted(ctx, func(handlerCtx context.Context, event domain.QueryCompletedEvent) error {
		consumerMetrics.StartEvent()
		start := time.Now()
		if !event.FinishedAt.IsZero() {
			consumerMetrics.ObserveEventLag(serviceName, time.Since(event.FinishedAt))
		}

		handleErr := handleQueryCompleted(handlerCtx, logger, history, event)
		consumerMetrics.FinishEvent(serviceName, time.Since(start), handleErr)
		return handleErr
	})
	if err != nil {
		log.Fatalf("consumer subscribe error: %v", err)
	}
}

func handleQueryCompleted(ctx context.Context, logger *slog.Logger, history *repopg.QueryHistoryRepository, event domain.QueryCompletedEvent) error {
	logger.Info("query_completed",
		"request_id", event.RequestID,
		"user_id", event.UserID,
		"collection_id", event.CollectionID,
		"state", event.State,
		"partial", event.Partial,
		"answer_chars", event.AnswerChars,
		"duration_ms", event.Duration.Milliseconds(),
	)
	return history.Record(ctx, event)
}
