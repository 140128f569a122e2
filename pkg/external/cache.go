package external

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/domain"
)

const rewriteKeyPrefix = "rewrite:"

// RedisRewriteStore keeps rewritten notes in Redis.
type RedisRewriteStore struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisRewriteStore connects to Redis and verifies the connection.
func NewRedisRewriteStore(config domain.CacheConfig) (*RedisRewriteStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisRewriteStoreFromClient(client, config.DefaultTTL), nil
}

// NewRedisRewriteStoreFromClient wraps an existing client.
func NewRedisRewriteStoreFromClient(client *redis.Client, defaultTTL time.Duration) *RedisRewriteStore {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &RedisRewriteStore{redis: client, defaultTTL: defaultTTL}
}

// cachedRewrite is the JSON document stored per key.
type cachedRewrite struct {
	RevisedNote string    `json:"revised_note"`
	CachedAt    time.Time `json:"cached_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Get returns the cached rewrite for key or ErrCacheMiss.
func (s *RedisRewriteStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.redis.Get(ctx, rewriteKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cached rewrite: %w", err)
	}

	var cached cachedRewrite
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		s.redis.Del(ctx, rewriteKeyPrefix+key)
		return "", ErrCacheMiss
	}
	if time.Now().After(cached.ExpiresAt) {
		s.redis.Del(ctx, rewriteKeyPrefix+key)
		return "", ErrCacheMiss
	}

	return cached.RevisedNote, nil
}

// Set stores a rewrite; a zero ttl uses the store default.
func (s *RedisRewriteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := time.Now()
	data, err := json.Marshal(cachedRewrite{
		RevisedNote: value,
		CachedAt:    now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cached rewrite: %w", err)
	}

	return s.redis.Set(ctx, rewriteKeyPrefix+key, data, ttl).Err()
}

// Delete removes a cached rewrite.
func (s *RedisRewriteStore) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, rewriteKeyPrefix+key).Err()
}

// Ping checks the Redis connection.
func (s *RedisRewriteStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisRewriteStore) Close() error {
	return s.redis.Close()
}

// MemoryRewriteStore is an in-process LRU with a fixed TTL.
type MemoryRewriteStore struct {
	lru *expirable.LRU[string, string]
}

// NewMemoryRewriteStore creates an LRU store holding at most size entries.
// Entries expire after ttl; the per-call ttl passed to Set is ignored.
func NewMemoryRewriteStore(size int, ttl time.Duration) *MemoryRewriteStore {
	if size <= 0 {
		size = 500
	}
	return &MemoryRewriteStore{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Get returns the cached rewrite for key or ErrCacheMiss.
func (s *MemoryRewriteStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := s.lru.Get(key); ok {
		return v, nil
	}
	return "", ErrCacheMiss
}

// Set stores a rewrite.
func (s *MemoryRewriteStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.lru.Add(key, value)
	return nil
}

// Delete removes a cached rewrite.
func (s *MemoryRewriteStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (s *MemoryRewriteStore) Len() int {
	return s.lru.Len()
}

// Close empties the store.
func (s *MemoryRewriteStore) Close() error {
	s.lru.Purge()
	return nil
}

// RewriteCacheStats represents cache performance statistics
type RewriteCacheStats struct {
	MemoryHits    int64     `json:"memory_hits"`
	MemoryMisses  int64     `json:"memory_misses"`
	RedisHits     int64     `json:"redis_hits"`
	RedisMisses   int64     `json:"redis_misses"`
	UpstreamCalls int64     `json:"upstream_calls"`
	TotalRequests int64     `json:"total_requests"`
	ErrorCount    int64     `json:"error_count"`
	LastReset     time.Time `json:"last_reset"`
}

// CachedRewriter decorates a NoteRewriter with a memory tier and an optional
// shared tier. Failed rewrites are never cached.
type CachedRewriter struct {
	upstream domain.NoteRewriter
	memory   RewriteStore // Tier 1
	shared   RewriteStore // Tier 2, may be nil
	model    string
	ttl      time.Duration
	logger   *logrus.Logger

	statsMu sync.Mutex
	stats   RewriteCacheStats
}

// NewCachedRewriter wraps upstream. model is mixed into the cache key so a
// model change never serves stale rewrites.
func NewCachedRewriter(upstream domain.NoteRewriter, memory, shared RewriteStore, model string, ttl time.Duration, logger *logrus.Logger) *CachedRewriter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedRewriter{
		upstream: upstream,
		memory:   memory,
		shared:   shared,
		model:    model,
		ttl:      ttl,
		logger:   logger,
		stats:    RewriteCacheStats{LastReset: time.Now()},
	}
}

// RewriteCacheKey derives the cache key for one rewrite input.
func RewriteCacheKey(model, originalNote, analysisSummary string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(originalNote))
	h.Write([]byte{0})
	h.Write([]byte(analysisSummary))
	return hex.EncodeToString(h.Sum(nil))
}

// Rewrite implements domain.NoteRewriter.
func (c *CachedRewriter) Rewrite(ctx context.Context, originalNote, analysisSummary string) (string, error) {
	c.record(func(s *RewriteCacheStats) { s.TotalRequests++ })
	key := RewriteCacheKey(c.model, originalNote, analysisSummary)

	if c.memory != nil {
		if v, err := c.memory.Get(ctx, key); err == nil {
			c.record(func(s *RewriteCacheStats) { s.MemoryHits++ })
			c.logger.WithFields(logrus.Fields{"cache_tier": "memory", "key": key[:12]}).Debug("Rewrite cache hit")
			return v, nil
		}
		c.record(func(s *RewriteCacheStats) { s.MemoryMisses++ })
	}

	if c.shared != nil {
		v, err := c.shared.Get(ctx, key)
		switch {
		case err == nil:
			c.record(func(s *RewriteCacheStats) { s.RedisHits++ })
			c.logger.WithFields(logrus.Fields{"cache_tier": "redis", "key": key[:12]}).Debug("Rewrite cache hit")
			c.setMemory(ctx, key, v)
			return v, nil
		case errors.Is(err, ErrCacheMiss):
			c.record(func(s *RewriteCacheStats) { s.RedisMisses++ })
		default:
			c.record(func(s *RewriteCacheStats) { s.RedisMisses++ })
			c.logger.WithError(err).Warn("Shared rewrite cache unavailable")
		}
	}

	c.record(func(s *RewriteCacheStats) { s.UpstreamCalls++ })
	revised, err := c.upstream.Rewrite(ctx, originalNote, analysisSummary)
	if err != nil {
		c.record(func(s *RewriteCacheStats) { s.ErrorCount++ })
		return "", err
	}

	c.setMemory(ctx, key, revised)
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, revised, c.ttl); err != nil {
			c.logger.WithError(err).Warn("Failed to store rewrite in shared cache")
		}
	}
	return revised, nil
}

// Invalidate drops any cached rewrite for the given input from both tiers.
func (c *CachedRewriter) Invalidate(ctx context.Context, originalNote, analysisSummary string) error {
	key := RewriteCacheKey(c.model, originalNote, analysisSummary)
	if c.memory != nil {
		if err := c.memory.Delete(ctx, key); err != nil {
			return err
		}
	}
	if c.shared != nil {
		return c.shared.Delete(ctx, key)
	}
	return nil
}

// Stats returns a snapshot of cache statistics.
func (c *CachedRewriter) Stats() RewriteCacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close releases both tiers.
func (c *CachedRewriter) Close() error {
	var errs []error
	if c.memory != nil {
		errs = append(errs, c.memory.Close())
	}
	if c.shared != nil {
		errs = append(errs, c.shared.Close())
	}
	return errors.Join(errs...)
}

func (c *CachedRewriter) setMemory(ctx context.Context, key, value string) {
	if c.memory == nil {
		return
	}
	if err := c.memory.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.WithError(err).Debug("Failed to store rewrite in memory cache")
	}
}

func (c *CachedRewriter) record(update func(*RewriteCacheStats)) {
	c.statsMu.Lock()
	update(&c.stats)
	c.statsMu.Unlock()
}
