package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/leadqual/pkg/logging"
)

// EventPurger forgets processed webhook ids. *events.ProcessedStore implements it.
type EventPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reaper periodically deletes threads past the retention period.
type Reaper struct {
	service  *Service
	interval time.Duration
	purger   EventPurger
	logger   *logging.Logger
}

// ReaperOption customizes a Reaper.
type ReaperOption func(*Reaper)

// WithEventPurger also drops processed webhook ids older than the retention.
func WithEventPurger(p EventPurger) ReaperOption {
	return func(r *Reaper) {
		r.purger = p
	}
}

// NewReaper builds a reaper; a non-positive interval means daily.
func NewReaper(service *Service, interval time.Duration, logger *logging.Logger, opts ...ReaperOption) *Reaper {
	if service == nil {
		panic("conversation: reaper service cannot be nil")
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Reaper{service: service, interval: interval, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Interval is the time between passes.
func (r *Reaper) Interval() time.Duration { return r.interval }

// Run reaps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single cleanup pass.
func (r *Reaper) RunOnce(ctx context.Context) int64 {
	days := int(r.service.Retention().Hours() / 24)
	if days <= 0 {
		days = 1
	}
	r.purgeEvents(ctx)
	deleted, err := r.service.CleanupOlderThan(ctx, days)
	if err != nil {
		r.logger.Error("conversation cleanup failed", "error", err, "retention_days", days)
		return deleted
	}
	r.logger.Info("conversation cleanup finished", "deleted", deleted, "retention_days", days)
	return deleted
}

func (r *Reaper) purgeEvents(ctx context.Context) {
	if r.purger == nil {
		return
	}
	purged, err := r.purger.Purge(ctx, r.service.now().Add(-r.service.Retention()))
	if err != nil {
		r.logger.Warn("processed event purge failed", "error", err)
		return
	}
	if purged > 0 {
		r.logger.Info("processed events purged", "purged", purged)
	}
}
