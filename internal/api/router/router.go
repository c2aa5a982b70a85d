// Package router assembles the engine's HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/leadqual/internal/conversation"
	httpmiddleware "github.com/wolfman30/leadqual/internal/http/middleware"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	webhookRate  = 20
	webhookBurst = 40
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	ConversationHandler *conversation.Handler
	WebhookHandler      *conversation.WebhookHandler
	MetaWebhookHandler  *conversation.MetaWebhookHandler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	StatsGatherer       prometheus.Gatherer
	HealthChecks        []HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks, cfg.Logger))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebhookHandler != nil {
			public.Route("/webhooks/crm", func(wh chi.Router) {
				wh.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(webhookRate, webhookBurst)))
				wh.Get("/", cfg.WebhookHandler.Verify)
				wh.Post("/", cfg.WebhookHandler.Receive)
			})
		}
		if cfg.MetaWebhookHandler != nil {
			public.Route("/webhooks/meta", func(wh chi.Router) {
				wh.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(webhookRate, webhookBurst)))
				wh.Get("/", cfg.MetaWebhookHandler.Verify)
				wh.Post("/", cfg.MetaWebhookHandler.Receive)
			})
		}
	})

	// Query API, protected by the admin JWT
	if cfg.ConversationHandler != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, cfg.Logger))
			api.Use(middleware.Compress(5))
			api.Post("/qualify", cfg.ConversationHandler.Qualify)
			if cfg.StatsGatherer != nil {
				api.Get("/stats", statsHandler(cfg.StatsGatherer))
			}
			api.Route("/conversations", func(conv chi.Router) {
				conv.Get("/", cfg.ConversationHandler.ListConversations)
				conv.Post("/cleanup", cfg.ConversationHandler.Cleanup)
				conv.Get("/{threadID}", cfg.ConversationHandler.GetConversation)
			})
		})
	}

	return r
}
