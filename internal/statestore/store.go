// Package statestore persists conversation states and keeps a bounded
// in-process cache of recently used threads.
package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

var (
	// ErrNotFound indicates no state exists for the thread.
	ErrNotFound = errors.New("statestore: conversation state not found")
	// ErrVersionConflict indicates the stored state changed since it was loaded.
	ErrVersionConflict = errors.New("statestore: version conflict")
)

// Summary is the listing view of a stored conversation, read from the
// denormalized columns.
type Summary struct {
	ThreadID            string               `json:"thread_id"`
	QualificationStatus qualification.Status `json:"qualification_status"`
	ConversationStage   qualification.Stage  `json:"conversation_stage"`
	QualificationScore  int                  `json:"qualification_score"`
	CustomerEmail       string               `json:"customer_email,omitempty"`
	LastActivity        time.Time            `json:"last_activity"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Store is the durable keyed store of conversation states.
//
// Put performs an optimistic write: it succeeds only when the stored version
// equals state.Version (zero for a thread never stored) and increments
// state.Version on success. Otherwise it returns ErrVersionConflict.
type Store interface {
	Get(ctx context.Context, threadID string) (*qualification.ConversationState, error)
	Put(ctx context.Context, state *qualification.ConversationState) error
	Scan(ctx context.Context, activeSince time.Time, limit int) ([]Summary, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*qualification.ConversationState, error)
}

// DefaultScanLimit caps listings when the caller passes a non-positive limit.
const DefaultScanLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultScanLimit
	}
	return limit
}

func summaryOf(s *qualification.ConversationState) Summary {
	return Summary{
		ThreadID:            s.ThreadID,
		QualificationStatus: s.Qualification.Status,
		ConversationStage:   s.Stage,
		QualificationScore:  s.Qualification.Score,
		CustomerEmail:       s.Customer.Email,
		LastActivity:        s.LastActivity,
		CreatedAt:           s.CreatedAt,
	}
}
