package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/rag-query-engine/internal/adapters/mcp"
	"github.com/kirillkom/rag-query-engine/internal/bootstrap"
	"github.com/kirillkom/rag-query-engine/internal/config"
	"github.com/kirillkom/rag-query-engine/internal/observability/logging"
)

const serviceName = "rag-query-engine-mcp"

// Stdio carries the protocol, so logs go to stderr.
func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.Pipeline, "1.0.0", logger)
	logger.Info("mcp_serving_stdio")
	if err := server.ServeStdio(); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}
}
