package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/leadqual/cmd/mainconfig"
	"github.com/wolfman30/leadqual/internal/app/bootstrap"
	"github.com/wolfman30/leadqual/internal/apperrors"
	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const messageGroupAttribute = "MessageGroupId"

type eventHandler interface {
	HandleEvent(ctx context.Context, body string) error
}

// conversation-lambda consumes the inbound queue through an SQS event source
// mapping instead of long polling. It reports partial batch failures so only
// retryable records return to the queue.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Infra{AWS: awsConfig, Pool: pool, Redis: redisClient}, logger)
	if err != nil {
		logger.Error("failed to build conversation handler", "error", err)
		os.Exit(1)
	}

	lambda.Start(func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		return handle(ctx, app, logger, evt), nil
	})
}

// handle processes records in order. Once a record of a message group fails,
// the group's later records are failed too so the FIFO queue redelivers them
// behind it.
func handle(ctx context.Context, h eventHandler, logger *logging.Logger, evt events.SQSEvent) events.SQSEventResponse {
	var resp events.SQSEventResponse
	failedGroups := map[string]bool{}
	for _, record := range evt.Records {
		group := record.Attributes[messageGroupAttribute]
		if group != "" && failedGroups[group] {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		err := h.HandleEvent(ctx, record.Body)
		if err == nil {
			continue
		}
		if !apperrors.IsRetryable(err) {
			logger.Error("dropping conversation event", "error", err, "msg_id", record.MessageId)
			continue
		}
		logger.Warn("conversation event will be retried", "error", err, "msg_id", record.MessageId)
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		if group != "" {
			failedGroups[group] = true
		}
	}
	return resp
}
