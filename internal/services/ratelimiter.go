package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/storefront-gateway/internal/models"
)

// RateLimitWindow is the fixed bucket size for per-key quotas.
const RateLimitWindow = time.Hour

// RateLimitResult is the outcome of one quota check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// SetHeaders writes the X-RateLimit-* headers.
func (r *RateLimitResult) SetHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.Unix(), 10))
}

// RateLimiter decides whether a key may make another request in the
// current window.
type RateLimiter interface {
	Allow(ctx context.Context, key *models.APIKey) (*RateLimitResult, error)
}

// WindowStart floors t to the start of its clock hour.
func WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(RateLimitWindow)
}

func newResult(limit, prior int, windowStart time.Time) *RateLimitResult {
	remaining := limit - prior
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   prior < limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     windowStart.Add(RateLimitWindow),
	}
}

// RequestCounter counts logged requests; implemented by the request log store.
type RequestCounter interface {
	CountRequestsSince(ctx context.Context, apiKeyID uuid.UUID, since time.Time) (int, error)
}

// LogLimiter counts request log rows in the current window. The count is read
// before the current request is logged, so concurrent requests near the limit
// can all be admitted.
type LogLimiter struct {
	counter RequestCounter
	clock   Clock
}

func NewLogLimiter(counter RequestCounter, clock Clock) *LogLimiter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &LogLimiter{counter: counter, clock: clock}
}

func (l *LogLimiter) Allow(ctx context.Context, key *models.APIKey) (*RateLimitResult, error) {
	windowStart := WindowStart(l.clock.Now())

	count, err := l.counter.CountRequestsSince(ctx, key.ID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests: %w", err)
	}

	return newResult(key.RateLimit, count, windowStart), nil
}

// NewRedisClient connects to Redis. redisURL may be a redis:// URL or a bare
// host:port address.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts := &redis.Options{Addr: redisURL}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisLimiter keeps one atomic counter per key per window, so concurrent
// requests can never overshoot the limit.
type RedisLimiter struct {
	client *redis.Client
	clock  Clock
}

func NewRedisLimiter(client *redis.Client, clock Clock) *RedisLimiter {
	if clock == nil {
		clock = SystemClock{}
	}
	return &RedisLimiter{client: client, clock: clock}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key *models.APIKey) (*RateLimitResult, error) {
	windowStart := WindowStart(rl.clock.Now())
	counterKey := fmt.Sprintf("rate_limit:%s:%d", key.ID, windowStart.Unix())

	count, err := rl.incrementAndGet(ctx, counterKey, RateLimitWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	// count includes this request; the decision is made on the prior count.
	return newResult(key.RateLimit, count-1, windowStart), nil
}

// incrementAndGet atomically increments a counter and returns the new value.
// The key embeds the window start, so refreshing the TTL never extends a window.
func (rl *RedisLimiter) incrementAndGet(ctx context.Context, key string, ttl time.Duration) (int, error) {
	pipe := rl.client.Pipeline()

	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return int(incr.Val()), nil
}
