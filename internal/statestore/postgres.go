package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
)

// PostgresStore persists states in the conversation_states table. The
// state_data blob is authoritative; the remaining columns are rewritten on
// every put so listings and cleanup never decode blobs.
type PostgresStore struct {
	db     *sql.DB
	tracer trace.Tracer
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		panic("statestore: db cannot be nil")
	}
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("leadqual.internal.statestore.postgres"),
	}
}

const upsertStateSQL = `
	INSERT INTO conversation_states (
		thread_id, state_data, version, qualification_status, qualification_score,
		conversation_stage, customer_email, customer_phone, last_activity, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (thread_id) DO UPDATE SET
		state_data = EXCLUDED.state_data,
		version = EXCLUDED.version,
		qualification_status = EXCLUDED.qualification_status,
		qualification_score = EXCLUDED.qualification_score,
		conversation_stage = EXCLUDED.conversation_stage,
		customer_email = EXCLUDED.customer_email,
		customer_phone = EXCLUDED.customer_phone,
		last_activity = EXCLUDED.last_activity,
		updated_at = NOW()
	WHERE conversation_states.version = $11`

// Get loads the state for threadID.
func (s *PostgresStore) Get(ctx context.Context, threadID string) (*qualification.ConversationState, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.get", trace.WithAttributes(attribute.String("thread_id", threadID)))
	defer span.End()

	var (
		data    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state_data, version FROM conversation_states WHERE thread_id = $1`,
		threadID,
	).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, &apperrors.StoreError{Op: "get", ThreadID: threadID, Err: err}
	}

	state, err := qualification.Decode(data)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("statestore: decode %s: %w", threadID, err)
	}
	state.Version = version
	return state, nil
}

// Put upserts the state when the stored version still matches.
func (s *PostgresStore) Put(ctx context.Context, state *qualification.ConversationState) error {
	if state == nil || state.ThreadID == "" {
		return errors.New("statestore: state with thread id required")
	}
	ctx, span := s.tracer.Start(ctx, "statestore.put", trace.WithAttributes(
		attribute.String("thread_id", state.ThreadID),
		attribute.Int64("version", state.Version),
	))
	defer span.End()

	expected := state.Version
	snapshot := state.Clone()
	snapshot.Version = expected + 1
	data, err := qualification.Encode(snapshot)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, upsertStateSQL,
		snapshot.ThreadID,
		data,
		snapshot.Version,
		string(snapshot.Qualification.Status),
		snapshot.Qualification.Score,
		string(snapshot.Stage),
		nullIfEmpty(snapshot.Customer.Email),
		nullIfEmpty(snapshot.Customer.Phone),
		snapshot.LastActivity,
		snapshot.CreatedAt,
		expected,
	)
	if err != nil {
		span.RecordError(err)
		return &apperrors.StoreError{Op: "put", ThreadID: state.ThreadID, Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &apperrors.StoreError{Op: "put", ThreadID: state.ThreadID, Err: err}
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	state.Version = snapshot.Version
	return nil
}

// Scan lists threads active since activeSince ordered by recency.
func (s *PostgresStore) Scan(ctx context.Context, activeSince time.Time, limit int) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.scan")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, qualification_status, conversation_stage, qualification_score,
		       COALESCE(customer_email, ''), last_activity, created_at
		FROM conversation_states
		WHERE last_activity >= $1
		ORDER BY last_activity DESC
		LIMIT $2
	`, activeSince, normalizeLimit(limit))
	if err != nil {
		span.RecordError(err)
		return nil, &apperrors.StoreError{Op: "scan", Err: err}
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum           Summary
			status, stage string
		)
		if err := rows.Scan(&sum.ThreadID, &status, &stage, &sum.QualificationScore,
			&sum.CustomerEmail, &sum.LastActivity, &sum.CreatedAt); err != nil {
			return nil, &apperrors.StoreError{Op: "scan", Err: err}
		}
		if sum.QualificationStatus, err = qualification.ParseStatus(status); err != nil {
			return nil, err
		}
		if sum.ConversationStage, err = qualification.ParseStage(stage); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StoreError{Op: "scan", Err: err}
	}
	return out, nil
}

// DeleteOlderThan removes threads whose last activity is strictly before cutoff.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.delete_older_than")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE last_activity < $1`, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, &apperrors.StoreError{Op: "cleanup", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &apperrors.StoreError{Op: "cleanup", Err: err}
	}
	return n, nil
}

// ListExpired returns the oldest states eligible for cleanup.
func (s *PostgresStore) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*qualification.ConversationState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state_data, version
		FROM conversation_states
		WHERE last_activity < $1
		ORDER BY last_activity ASC
		LIMIT $2
	`, cutoff, normalizeLimit(limit))
	if err != nil {
		return nil, &apperrors.StoreError{Op: "list_expired", Err: err}
	}
	defer rows.Close()

	var out []*qualification.ConversationState
	for rows.Next() {
		var (
			data    []byte
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, &apperrors.StoreError{Op: "list_expired", Err: err}
		}
		state, err := qualification.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("statestore: decode expired state: %w", err)
		}
		state.Version = version
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.StoreError{Op: "list_expired", Err: err}
	}
	return out, nil
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
