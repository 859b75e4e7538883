package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements a fixed-window limiter in Redis so the
// limit is shared across instances. Each window gets its own key, so a
// counter is never extended past the window it started in.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

// Config returns the limiter settings
func (rl *DistributedRateLimiter) Config() *RateLimitConfig {
	return rl.config
}

func (rl *DistributedRateLimiter) windowKey(key string) (string, time.Time) {
	window := rl.config.WindowDuration
	start := rl.now().Truncate(window)
	return fmt.Sprintf("%s:%s:%d", rl.prefix, key, start.Unix()), start.Add(window)
}

// Allow increments the caller's counter for the current window. Redis
// errors are returned to the caller, which decides how to degrade.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey, _ := rl.windowKey(key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey, _ := rl.windowKey(key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// ResetAt returns when the current window ends
func (rl *DistributedRateLimiter) ResetAt() time.Time {
	_, end := rl.windowKey("")
	return end
}

// Reset clears the current window for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey, _ := rl.windowKey(key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// NewDistributedRateLimitMiddleware limits each caller to config per window
// using Redis, or a per-process limiter when redisClient is nil
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, config *RateLimitConfig) *RateLimitMiddleware {
	if redisClient == nil {
		return NewRateLimitMiddleware(NewRateLimiter(config))
	}
	return NewRateLimitMiddleware(NewDistributedRateLimiter(redisClient, config, "ratelimit"))
}
