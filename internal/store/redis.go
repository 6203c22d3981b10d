package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	subjectNameTTL = 24 * time.Hour
	rateLimitTTL   = time.Minute
)

// RedisStore handles Redis operations for caching and rate limiting.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// subjectNameKey returns the key caching an item's display name.
func subjectNameKey(id int64) string {
	return fmt.Sprintf("subject:%d:name", id)
}

// rateLimitKey returns the key for a user's rate limit counter.
func rateLimitKey(scope, user string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, user)
}

// CachedSubjectName returns a cached item name and whether it was cached.
func (s *RedisStore) CachedSubjectName(ctx context.Context, id int64) (string, bool, error) {
	name, err := s.client.Get(ctx, subjectNameKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

// CacheSubjectName stores an item name.
func (s *RedisStore) CacheSubjectName(ctx context.Context, id int64, name string) error {
	return s.client.Set(ctx, subjectNameKey(id), name, subjectNameTTL).Err()
}

// CheckRateLimit reports whether user is still under limit within scope.
func (s *RedisStore) CheckRateLimit(ctx context.Context, scope, user string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(scope, user)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit increments the rate limit counter and returns the new
// count.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, scope, user string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = rateLimitTTL
	}
	key := rateLimitKey(scope, user)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// CachedSubjects serves SubjectName from Redis before asking the backend.
type CachedSubjects struct {
	Backend
	cache  *RedisStore
	logger zerolog.Logger
}

// NewCachedSubjects wraps b with a subject name cache.
func NewCachedSubjects(b Backend, cache *RedisStore, logger zerolog.Logger) *CachedSubjects {
	return &CachedSubjects{Backend: b, cache: cache, logger: logger}
}

// SubjectName returns the cached name, loading and caching it on a miss.
// Unknown items are not cached.
func (c *CachedSubjects) SubjectName(ctx context.Context, id int64) (string, error) {
	name, ok, err := c.cache.CachedSubjectName(ctx, id)
	if err != nil {
		c.logger.Debug().Err(err).Int64("subject", id).Msg("subject cache read failed")
	}
	if ok {
		return name, nil
	}

	name, err = c.Backend.SubjectName(ctx, id)
	if err != nil || name == "" {
		return name, err
	}
	if err := c.cache.CacheSubjectName(ctx, id, name); err != nil {
		// Log but don't fail - the cache is best-effort
		c.logger.Debug().Err(err).Int64("subject", id).Msg("subject cache write failed")
	}
	return name, nil
}
