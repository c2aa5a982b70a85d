package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/leadqual/internal/archive"
	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/conversation"
	"github.com/wolfman30/leadqual/internal/notify"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// BuildAlerter picks SendGrid, then SES, then the logging stub as the
// sales-alert transport. It returns nil when SALES_ALERT_EMAIL is unset.
func BuildAlerter(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.Alerter {
	if cfg == nil || strings.TrimSpace(cfg.SalesAlertEmail) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sender notify.EmailSender
	switch {
	case cfg.SendGridAPIKey != "":
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("sales alerts via sendgrid", "to", cfg.SalesAlertEmail)
	case cfg.SESFromEmail != "":
		sender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("sales alerts via ses", "to", cfg.SalesAlertEmail)
	default:
		sender = notify.NewStubEmailSender(logger)
		logger.Warn("no email provider configured; sales alerts are only logged")
	}

	alerter := notify.NewLeadAlerter(sender, cfg.SalesAlertEmail, logger)
	if alerter == nil {
		return nil
	}
	return alerter
}

// BuildArchiver returns the S3 archive, or nil when ARCHIVE_BUCKET is unset.
func BuildArchiver(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) conversation.Archiver {
	if cfg == nil || strings.TrimSpace(cfg.ArchiveBucket) == "" {
		return nil
	}
	store := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
	if !store.Enabled() {
		return nil
	}
	return store
}
