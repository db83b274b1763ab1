package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// InMemoryRecordCache implements RecordCache using an in-memory map
type InMemoryRecordCache struct {
	data    map[string]*cacheItem
	mu      sync.RWMutex
	maxSize int
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

type cacheItem struct {
	record    *model.UserMigrationRecord
	expiresAt time.Time // zero means no expiry
}

func (i *cacheItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// NewInMemoryRecordCache creates a new in-memory cache. maxSize <= 0 means unbounded.
func NewInMemoryRecordCache(maxSize int, logger *zap.Logger) *InMemoryRecordCache {
	cache := &InMemoryRecordCache{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup(time.Minute)

	return cache
}

// Get returns a copy of the cached record
func (c *InMemoryRecordCache) Get(ctx context.Context, userID string) (*model.UserMigrationRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[userID]
	if !exists || item.expired(time.Now()) {
		return nil, ErrNotFound
	}

	return item.record.Clone(), nil
}

// Set stores a copy of record with TTL. Last writer wins.
func (c *InMemoryRecordCache) Set(ctx context.Context, record *model.UserMigrationRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[record.UserID]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
		c.evictLocked()
	}

	item := &cacheItem{record: record.Clone()}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.data[record.UserID] = item

	return nil
}

// evictLocked drops an expired entry, or any entry if none expired
func (c *InMemoryRecordCache) evictLocked() {
	now := time.Now()
	for k, v := range c.data {
		if v.expired(now) {
			delete(c.data, k)
			return
		}
	}
	for k := range c.data {
		delete(c.data, k)
		c.logger.Debug("Evicted cached record", zap.String("user_id", k))
		return
	}
}

// Delete removes a record from cache
func (c *InMemoryRecordCache) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, userID)
	return nil
}

// Size returns the number of items in cache
func (c *InMemoryRecordCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close stops the cleanup goroutine
func (c *InMemoryRecordCache) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// cleanup periodically removes expired entries
func (c *InMemoryRecordCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, item := range c.data {
				if item.expired(now) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
