package threadlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	defaultLeaseTTL     = 90 * time.Second
	defaultPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes a thread across processes with a leased key.
// The lease must outlive the slowest pipeline run.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	prefix string
	logger *logging.Logger
}

var _ Locker = (*RedisLocker)(nil)

// RedisOption customises a RedisLocker.
type RedisOption func(*RedisLocker)

// WithLeaseTTL sets how long a lock survives a crashed holder.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets how often a waiter retries.
func WithPollInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewRedisLocker builds a distributed locker.
func NewRedisLocker(client *redis.Client, logger *logging.Logger, opts ...RedisOption) *RedisLocker {
	if client == nil {
		panic("threadlock: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &RedisLocker{
		client: client,
		ttl:    defaultLeaseTTL,
		poll:   defaultPollInterval,
		prefix: "leadqual:threadlock:",
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls SET NX until acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, threadID string) (func(), error) {
	key := l.prefix + threadID
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("threadlock: acquire %s: %w", threadID, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, token) })
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("threadlock: release failed", "lock", key, "error", err)
	}
}
