package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/conversation"
	"github.com/wolfman30/leadqual/internal/events"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/internal/threadlock"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens a pgx pool, or returns nil when url is empty or
// the database is unreachable.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildStateStore selects the durable backend named by STATE_STORE and puts
// the LRU cache in front of it. pool is required for postgres.
func BuildStateStore(cfg *appconfig.Config, awsCfg aws.Config, pool *pgxpool.Pool, m *metrics.EngineMetrics, logger *logging.Logger) (statestore.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var backend statestore.Store
	switch cfg.StateStore {
	case appconfig.StateStorePostgres:
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres state store requires a database connection")
		}
		backend = statestore.NewPostgresStore(stdlib.OpenDBFromPool(pool))
	case appconfig.StateStoreDynamo:
		backend = statestore.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.ConversationStatesTable, cfg.Retention(), logger)
	case appconfig.StateStoreMemory, "":
		logger.Warn("using in-memory state store; conversations are lost on restart")
		backend = statestore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("bootstrap: unknown state store %q", cfg.StateStore)
	}

	cache := statestore.NewCache(cfg.StateCacheSize, cfg.StateCacheTTL)
	logger.Info("state store ready", "backend", cfg.StateStore, "cache_size", cfg.StateCacheSize, "cache_ttl", cfg.StateCacheTTL.String())
	return statestore.NewCachedStore(backend, cache, m), nil
}

// BuildLocker returns a Redis lease locker when Redis is available so
// several replicas serialize on the same thread, else an in-process one.
func BuildLocker(redisClient *redis.Client, logger *logging.Logger) threadlock.Locker {
	if redisClient == nil {
		return threadlock.NewLocalLocker()
	}
	return threadlock.NewRedisLocker(redisClient, logger)
}

// BuildTranscript returns the Redis transcript store, or nil without Redis.
func BuildTranscript(redisClient *redis.Client, turns int) conversation.Transcript {
	if redisClient == nil {
		return nil
	}
	return conversation.NewRedisTranscript(redisClient, turns)
}

// BuildDeduper prefers the processed_events table and falls back to an
// in-memory window.
func BuildDeduper(pool *pgxpool.Pool) events.Deduper {
	if pool == nil {
		return events.NewMemoryDeduper(dedupeWindow)
	}
	return events.NewProcessedStore(pool)
}
