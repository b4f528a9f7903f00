// Package ratelimit enforces per-user request limits.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"llm_chat/internal/utils"
)

var logger = utils.NewLogger("ratelimit")

// Decision is the outcome of a limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int // -1 when unlimited
	ResetAt   time.Time
}

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// New returns a Redis sliding window limiter when client is set and an
// in-process token bucket otherwise. name separates limiters sharing Redis.
func New(client *redis.Client, name string, perMinute int) Limiter {
	if perMinute <= 0 {
		return NewNoopLimiter()
	}
	if client != nil {
		return NewRateLimiter(client, name, perMinute, time.Minute)
	}
	return NewLocalLimiter(perMinute, time.Minute)
}

// NoopLimiter allows all requests
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}

// RateLimiter implements distributed rate limiting using Redis sorted sets.
// Each request is a member scored by its timestamp in milliseconds.
type RateLimiter struct {
	client *redis.Client
	name   string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a sliding window limiter allowing limit requests per window
func NewRateLimiter(client *redis.Client, name string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		name:   name,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (rl *RateLimiter) key(id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", rl.name, id)
}

// Allow records a request for id and reports whether it fits in the window
func (rl *RateLimiter) Allow(ctx context.Context, id string) (Decision, error) {
	if rl.limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	key := rl.key(id)
	now := rl.now()
	windowStart := now.Add(-rl.window)
	member := fmt.Sprintf("%d:%s", now.UnixMilli(), uuid.NewString())

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, 2*rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(countCmd.Val())
	resetAt := now.Add(rl.window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(rl.window)
	}

	if count > rl.limit {
		// rejected requests do not consume the window
		if err := rl.client.ZRem(ctx, key, member).Err(); err != nil {
			logger.Warn("Rate limit rollback failed", "key", key, "error", err)
		}
		return Decision{Allowed: false, Limit: rl.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{Allowed: true, Limit: rl.limit, Remaining: rl.limit - count, ResetAt: resetAt}, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	key := rl.key(id)
	windowStart := rl.now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, rl.key(id)).Err()
}

// LocalLimiter keeps one token bucket per key in process memory
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   int
	every   rate.Limit
	now     func() time.Time
}

// NewLocalLimiter allows limit requests per window with a burst of limit
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		now:     time.Now,
	}
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.limit)
		l.buckets[key] = b
	}
	return b
}

// Allow takes one token from the key's bucket
func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	b := l.bucket(key)
	allowed := b.AllowN(now, 1)

	tokens := b.TokensAt(now)
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if tokens < 1 {
		wait := time.Duration((1 - tokens) / float64(l.every) * float64(time.Second))
		resetAt = now.Add(wait)
	}

	return Decision{Allowed: allowed, Limit: l.limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Reset drops the bucket of a key
func (l *LocalLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
