package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadqual/internal/generation"
)

const (
	transcriptKeyPrefix  = "leadqual:transcript:"
	transcriptTTL        = 24 * time.Hour
	defaultTranscriptLen = 20
)

// Transcript keeps the recent turns of each thread for prompt context.
type Transcript interface {
	Append(ctx context.Context, threadID string, turns ...generation.Turn) error
	Recent(ctx context.Context, threadID string) ([]generation.Turn, error)
}

// RedisTranscript stores turns in a capped Redis list with a sliding TTL.
type RedisTranscript struct {
	redis    *redis.Client
	tracer   trace.Tracer
	maxTurns int64
}

var _ Transcript = (*RedisTranscript)(nil)

// NewRedisTranscript returns nil when no client is configured.
func NewRedisTranscript(client *redis.Client, maxTurns int) *RedisTranscript {
	if client == nil {
		return nil
	}
	if maxTurns <= 0 {
		maxTurns = defaultTranscriptLen
	}
	return &RedisTranscript{
		redis:    client,
		tracer:   otel.Tracer("leadqual.internal.conversation.transcript"),
		maxTurns: int64(maxTurns),
	}
}

func (s *RedisTranscript) Append(ctx context.Context, threadID string, turns ...generation.Turn) error {
	if s == nil || len(turns) == 0 {
		return nil
	}
	if threadID == "" {
		return errors.New("conversation: transcript thread id required")
	}

	ctx, span := s.tracer.Start(ctx, "conversation.transcript.append")
	defer span.End()

	key := transcriptKey(threadID)
	pipe := s.redis.TxPipeline()
	for _, turn := range turns {
		if turn.At.IsZero() {
			turn.At = time.Now().UTC()
		}
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("conversation: marshal transcript turn: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, -s.maxTurns, -1)
	pipe.Expire(ctx, key, transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: append transcript: %w", err)
	}
	return nil
}

func (s *RedisTranscript) Recent(ctx context.Context, threadID string) ([]generation.Turn, error) {
	if s == nil {
		return nil, nil
	}
	ctx, span := s.tracer.Start(ctx, "conversation.transcript.recent")
	defer span.End()

	raw, err := s.redis.LRange(ctx, transcriptKey(threadID), -s.maxTurns, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load transcript: %w", err)
	}

	turns := make([]generation.Turn, 0, len(raw))
	for _, item := range raw {
		var turn generation.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			span.RecordError(err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func transcriptKey(threadID string) string {
	return transcriptKeyPrefix + threadID
}
