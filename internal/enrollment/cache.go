package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "upskillpro:enrollment:"

// Cached remembers positive answers from next in Redis for ttl. Negative
// answers always go to next so a fresh enrollment is seen immediately. An
// ended enrollment stays cached until ttl passes or Forget is called.
// Redis failures fall through to next.
type Cached struct {
	next   Oracle
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a Redis cache at redisURL.
func NewCached(next Oracle, redisURL string, ttl time.Duration, logger *zap.Logger) (*Cached, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewCachedWithClient(next, redis.NewClient(opts), ttl, logger), nil
}

// NewCachedWithClient wraps next using an existing client.
func NewCachedWithClient(next Oracle, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// IsEnrolled consults the cache before next.
func (c *Cached) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	key := cacheKey(userID, courseID)

	_, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("enrollment: cache read failed", zap.Error(err))
	}

	enrolled, err := c.next.IsEnrolled(ctx, userID, courseID)
	if err != nil || !enrolled {
		return enrolled, err
	}
	if err := c.client.Set(ctx, key, 1, c.ttl).Err(); err != nil {
		c.logger.Warn("enrollment: cache write failed", zap.Error(err))
	}
	return true, nil
}

// Forget drops the cached answer for (userID, courseID) so the next check
// goes to the wrapped oracle.
func (c *Cached) Forget(ctx context.Context, userID, courseID string) error {
	return c.client.Del(ctx, cacheKey(userID, courseID)).Err()
}

func cacheKey(userID, courseID string) string {
	return cacheKeyPrefix + courseID + ":" + userID
}

// Close releases the Redis client.
func (c *Cached) Close() error {
	return c.client.Close()
}
