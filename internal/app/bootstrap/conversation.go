package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/internal/conversation"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/internal/pipeline"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/internal/threadlock"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// BuildGenerator wires Bedrock as the primary provider and Gemini as the
// fallback. Either one alone is enough. The returned close func releases
// the Gemini client and is never nil.
func BuildGenerator(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (generation.Generator, func() error, error) {
	noop := func() error { return nil }
	if cfg == nil {
		return nil, noop, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var primary, fallback generation.Generator
	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" {
		primary = generation.NewBedrockGenerator(bedrockruntime.NewFromConfig(awsCfg), model, logger)
		logger.Info("bedrock generation enabled", "model", model)
	}

	closer := noop
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := generation.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID, logger)
		if err != nil {
			if primary == nil {
				return nil, noop, fmt.Errorf("bootstrap: %w", err)
			}
			logger.Warn("gemini fallback unavailable", "error", err)
		} else {
			closer = gemini.Close
			logger.Info("gemini generation enabled", "model", cfg.GeminiModelID)
			if primary == nil {
				primary = gemini
			} else {
				fallback = gemini
			}
		}
	}

	if primary == nil {
		return nil, noop, fmt.Errorf("bootstrap: no language model configured")
	}
	return generation.NewFallbackGenerator(primary, fallback, logger), closer, nil
}

// ServiceDeps are the collaborators BuildConversationService needs beyond config.
type ServiceDeps struct {
	Store      statestore.Store
	Generator  generation.Generator
	Executor   capability.Executor
	Locker     threadlock.Locker
	Transcript conversation.Transcript
	Alerter    conversation.Alerter
	Archiver   conversation.Archiver
	Metrics    *metrics.EngineMetrics
}

// BuildConversationService wires the pipeline engine and the service around it.
func BuildConversationService(cfg *appconfig.Config, deps ServiceDeps, logger *logging.Logger) (*conversation.Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Store == nil || deps.Generator == nil || deps.Executor == nil {
		return nil, fmt.Errorf("bootstrap: store, generator and executor are required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	engineOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithGenerationTimeout(cfg.GenerationTimeout),
		pipeline.WithAttempts(cfg.GenerationAttempts),
		pipeline.WithDeadline(cfg.PipelineTimeout),
	}
	if deps.Metrics != nil {
		engineOpts = append(engineOpts, pipeline.WithObserver(deps.Metrics))
	}
	engine := pipeline.NewEngine(deps.Generator, deps.Executor, engineOpts...)

	return conversation.NewService(deps.Store, engine,
		conversation.WithLocker(deps.Locker),
		conversation.WithTranscript(deps.Transcript),
		conversation.WithAlerter(deps.Alerter),
		conversation.WithArchiver(deps.Archiver),
		conversation.WithMetrics(deps.Metrics),
		conversation.WithServiceLogger(logger),
		conversation.WithActiveWindow(cfg.ActiveWindow),
		conversation.WithRetention(cfg.Retention()),
	), nil
}
