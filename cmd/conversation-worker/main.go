package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/leadqual/cmd/mainconfig"
	"github.com/wolfman30/leadqual/internal/app/bootstrap"
	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// conversation-worker adds SQS consumer capacity next to the API. It runs
// the same pipeline but serves no HTTP and leaves cleanup to the API's reaper.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UseMemoryQueue {
		logger.Error("conversation worker needs INBOUND_QUEUE_URL with USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Warn("no redis; thread ordering across processes relies on SQS FIFO message groups")
	}

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Infra{AWS: awsConfig, Pool: pool, Redis: redisClient}, logger)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}
	app.StartWorker(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()
	if err := app.Shutdown(30 * time.Second); err != nil {
		logger.Error("conversation worker shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("conversation worker stopped")
}
