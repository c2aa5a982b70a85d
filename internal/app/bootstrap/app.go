// Package bootstrap builds the engine's runtime graph from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadqual/internal/api/router"
	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/conversation"
	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// Infra holds connections opened by the caller. Pool and Redis may be nil.
type Infra struct {
	AWS      aws.Config
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Registry *prometheus.Registry
}

// App is the assembled engine: HTTP surface, worker and reaper.
type App struct {
	Handler http.Handler
	Service *conversation.Service
	Metrics *metrics.EngineMetrics

	worker  *conversation.Worker
	reaper  *conversation.Reaper
	closers []func() error
	logger  *logging.Logger
}

// Build wires every component. cfg should already be validated.
func Build(ctx context.Context, cfg *appconfig.Config, infra Infra, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if strings.TrimSpace(cfg.CRMAPIKey) == "" {
		return nil, fmt.Errorf("bootstrap: CRM_API_KEY is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	registry := infra.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := metrics.NewEngineMetrics(registry)

	store, err := BuildStateStore(cfg, infra.AWS, infra.Pool, m, logger)
	if err != nil {
		return nil, err
	}
	gen, closeGen, err := BuildGenerator(ctx, cfg, infra.AWS, logger)
	if err != nil {
		return nil, err
	}
	crmClient := crm.NewClient(cfg.CRMBaseURL, cfg.CRMAPIKey,
		crm.WithTimeout(cfg.CRMTimeout),
		crm.WithLogger(logger),
	)

	service, err := BuildConversationService(cfg, ServiceDeps{
		Store:      store,
		Generator:  gen,
		Executor:   crmClient,
		Locker:     BuildLocker(infra.Redis, logger),
		Transcript: BuildTranscript(infra.Redis, cfg.TranscriptTurns),
		Alerter:    BuildAlerter(cfg, infra.AWS, logger),
		Archiver:   BuildArchiver(cfg, infra.AWS, logger),
		Metrics:    m,
	}, logger)
	if err != nil {
		_ = closeGen()
		return nil, err
	}

	publisher, worker, err := BuildMessaging(cfg, infra.AWS, service, crmClient, logger)
	if err != nil {
		_ = closeGen()
		return nil, err
	}

	deduper := BuildDeduper(infra.Pool)
	var reaperOpts []conversation.ReaperOption
	if purger, ok := deduper.(conversation.EventPurger); ok {
		reaperOpts = append(reaperOpts, conversation.WithEventPurger(purger))
	}

	metaWebhook, err := BuildMetaWebhook(cfg, crmClient, publisher, deduper, m, logger)
	if err != nil {
		_ = closeGen()
		return nil, err
	}

	handler := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(service, logger),
		WebhookHandler:      conversation.NewWebhookHandler(cfg.WebhookVerifyToken, publisher, deduper, m, logger),
		MetaWebhookHandler:  metaWebhook,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		StatsGatherer:       registry,
		HealthChecks:        healthChecks(crmClient, infra),
	})

	return &App{
		Handler: handler,
		Service: service,
		Metrics: m,
		worker:  worker,
		reaper:  conversation.NewReaper(service, cfg.ReaperInterval, logger, reaperOpts...),
		closers: []func() error{closeGen},
		logger:  logger,
	}, nil
}

// Start launches the worker shards and the reaper. Both stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.StartWorker(ctx)
	go a.reaper.Run(ctx)
	a.logger.Info("conversation reaper started", "interval", a.reaper.Interval().String())
}

// StartWorker launches only the queue consumer, for processes that add
// consumer capacity next to the API.
func (a *App) StartWorker(ctx context.Context) {
	a.worker.Start(ctx)
	a.logger.Info("conversation worker started")
}

// HandleEvent processes one queued event body without the polling loop.
func (a *App) HandleEvent(ctx context.Context, body string) error {
	return a.worker.HandleEvent(ctx, body)
}

// Shutdown waits for in-flight worker runs, up to timeout, and releases
// clients owned by the app. Cancel the Start context first.
func (a *App) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		a.worker.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
		a.logger.Info("conversation worker stopped")
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("bootstrap: worker shutdown timed out after %s", timeout))
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func healthChecks(crmClient *crm.Client, infra Infra) []router.HealthCheck {
	checks := []router.HealthCheck{{Name: "crm", Check: crmClient.Ping}}
	if infra.Pool != nil {
		checks = append(checks, router.HealthCheck{Name: "postgres", Check: infra.Pool.Ping})
	}
	if infra.Redis != nil {
		redisClient := infra.Redis
		checks = append(checks, router.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	return checks
}
