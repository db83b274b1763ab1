package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

const recordKeyPrefix = "mfa:record:"

// RedisRecordCache implements RecordCache for Redis so that several hook
// replicas share one view of the records.
type RedisRecordCache struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisRecordCache creates a new Redis record cache
func NewRedisRecordCache(host string, port int, password string, db int, logger *zap.Logger) (*RedisRecordCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis record cache connected", zap.String("addr", addr))

	return NewRedisRecordCacheWithClient(client, logger), nil
}

// NewRedisRecordCacheWithClient wraps an existing client
func NewRedisRecordCacheWithClient(client redis.UniversalClient, logger *zap.Logger) *RedisRecordCache {
	return &RedisRecordCache{client: client, logger: logger}
}

func recordKey(userID string) string {
	return recordKeyPrefix + userID
}

// Get retrieves a cached record
func (c *RedisRecordCache) Get(ctx context.Context, userID string) (*model.UserMigrationRecord, error) {
	data, err := c.client.Get(ctx, recordKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var record model.UserMigrationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return &record, nil
}

// Set stores a record with TTL; 0 keeps it indefinitely
func (c *RedisRecordCache) Set(ctx context.Context, record *model.UserMigrationRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	return c.client.Set(ctx, recordKey(record.UserID), data, ttl).Err()
}

// Delete removes a cached record
func (c *RedisRecordCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, recordKey(userID)).Err()
}

// Ping checks the Redis connection
func (c *RedisRecordCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisRecordCache) Close() error {
	return c.client.Close()
}
