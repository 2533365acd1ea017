package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of one attempt against a limit.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiterInterface defines the contract for rate limiting operations.
type RateLimiterInterface interface {
	// Attempt counts one hit on key and reports whether it fits in limit
	// for the fixed window that started with the first hit.
	Attempt(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitService implements fixed-window limiting on Redis.
type RateLimitService struct {
	redis     redis.Cmdable
	keyPrefix string
}

func NewRateLimitService(rdb redis.Cmdable) *RateLimitService {
	return &RateLimitService{
		redis:     rdb,
		keyPrefix: "rate_limit:",
	}
}

func (s *RateLimitService) Attempt(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	rKey := s.keyPrefix + key

	pipe := s.redis.Pipeline()
	incr := pipe.Incr(ctx, rKey)
	ttlCmd := pipe.TTL(ctx, rKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateLimitResult{}, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// First hit in the window, or a key that lost its expiry.
		if err := s.redis.Expire(ctx, rKey, window).Err(); err != nil {
			return RateLimitResult{}, err
		}
		ttl = window
	}

	return limitResult(incr.Val(), limit, ttl), nil
}

func limitResult(count int64, limit int, ttl time.Duration) RateLimitResult {
	if count > int64(limit) {
		return RateLimitResult{Allowed: false, Remaining: 0, RetryAfter: ttl}
	}
	return RateLimitResult{Allowed: true, Remaining: limit - int(count)}
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryRateLimiter is the in-process limiter used when Redis is disabled.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (m *MemoryRateLimiter) Attempt(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++

	return limitResult(w.count, limit, w.resetAt.Sub(now)), nil
}
