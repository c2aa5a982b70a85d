package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/conversation"
	"github.com/wolfman30/leadqual/internal/events"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	memoryQueueBuffer = 256
	dedupeWindow      = 24 * time.Hour
)

// BuildMessaging wires the inbound queue shared by the webhook publisher and
// the worker. With USE_MEMORY_QUEUE both ends live in this process;
// otherwise they meet on the SQS queue at INBOUND_QUEUE_URL.
func BuildMessaging(
	cfg *appconfig.Config,
	awsCfg aws.Config,
	processor conversation.Processor,
	replies conversation.ReplySender,
	logger *logging.Logger,
) (*conversation.Publisher, *conversation.Worker, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if processor == nil {
		return nil, nil, fmt.Errorf("bootstrap: processor is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := []conversation.WorkerOption{conversation.WithWorkerCount(cfg.WorkerCount)}
	if replies != nil {
		opts = append(opts, conversation.WithReplySender(replies))
	}

	if cfg.UseMemoryQueue {
		queue := conversation.NewMemoryQueue(memoryQueueBuffer)
		logger.Info("using in-memory inbound queue", "workers", cfg.WorkerCount)
		return conversation.NewPublisher(queue, logger), conversation.NewWorker(processor, queue, logger, opts...), nil
	}

	url := strings.TrimSpace(cfg.InboundQueueURL)
	if url == "" {
		return nil, nil, fmt.Errorf("bootstrap: INBOUND_QUEUE_URL is required when the memory queue is disabled")
	}
	queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), url)
	opts = append(opts, conversation.WithReceiveWaitSeconds(20), conversation.WithReceiveBatchSize(10))
	logger.Info("using sqs inbound queue", "queue_url", url, "workers", cfg.WorkerCount)
	return conversation.NewPublisher(queue, logger), conversation.NewWorker(processor, queue, logger, opts...), nil
}

// BuildMetaWebhook returns the lead-ads endpoint, or nil when
// META_WEBHOOK_SECRET is unset and the route should not be served.
func BuildMetaWebhook(
	cfg *appconfig.Config,
	contacts conversation.LeadDirectory,
	publisher conversation.EventPublisher,
	deduper events.Deduper,
	m *metrics.EngineMetrics,
	logger *logging.Logger,
) (*conversation.MetaWebhookHandler, error) {
	if cfg == nil || strings.TrimSpace(cfg.MetaAppSecret) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.MetaVerifyToken) == "" {
		logger.Warn("META_WEBHOOK_VERIFY_TOKEN not set; subscription handshakes will be refused")
	}
	return conversation.NewMetaWebhookHandler(cfg.MetaAppSecret, cfg.MetaVerifyToken, contacts, publisher, deduper, m, logger)
}
