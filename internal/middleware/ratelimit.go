// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded.
//
// Two limiters are available. RateLimiter is an in-process token bucket, correct for a
// single replica. RedisRateLimiter keeps a GCRA bucket in Redis so every replica shares
// one budget per DApp origin.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/deabakjj/MYCREATA1-sub001/internal/safego"
)

// RateLimitConfig sizes one token bucket
type RateLimitConfig struct {
	RequestsPerMinute int
	// BurstSize defaults to RequestsPerMinute
	BurstSize int
	// IdleTTL is how long an untouched bucket is kept. Defaults to 10 minutes.
	IdleTTL time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 1
	}
	if c.BurstSize <= 0 {
		c.BurstSize = c.RequestsPerMinute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
	return c
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
	// Limit is the advertised requests-per-minute
	Limit() int
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter is an in-process token bucket limiter. Idle buckets are swept in the
// background until Stop is called.
type RateLimiter struct {
	cfg     RateLimitConfig
	perSec  float64
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter and starts its idle bucket sweeper
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg = cfg.withDefaults()
	rl := &RateLimiter{
		cfg:     cfg,
		perSec:  float64(cfg.RequestsPerMinute) / 60,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	safego.Go("ratelimit.sweep", rl.sweepLoop)
	return rl
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// sweep drops buckets idle for longer than IdleTTL
func (rl *RateLimiter) sweep() {
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Take spends one token from key's bucket
func (rl *RateLimiter) Take(_ context.Context, key string) (Decision, error) {
	now := rl.now()
	burst := float64(rl.cfg.BurstSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: burst, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = min(burst, b.tokens+now.Sub(b.seen).Seconds()*rl.perSec)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}, nil
	}
	wait := time.Duration((1 - b.tokens) / rl.perSec * float64(time.Second))
	return Decision{Allowed: false, Remaining: 0, RetryAfter: wait}, nil
}

// Limit implements Limiter
func (rl *RateLimiter) Limit() int { return rl.cfg.RequestsPerMinute }

// RedisRateLimiter shares a rate limit budget across replicas through Redis
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

var _ Limiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a Redis-backed limiter. prefix namespaces the keys so
// several route groups can share one Redis.
func NewRedisRateLimiter(client *redis.Client, config RateLimitConfig, prefix string) *RedisRateLimiter {
	config = config.withDefaults()
	return &RedisRateLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
		prefix: prefix,
	}
}

// Take implements Limiter
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Limit implements Limiter
func (l *RedisRateLimiter) Limit() int { return l.limit.Rate }

// RateLimitMiddleware creates a Gin middleware that rate limits requests. A limiter
// error lets the request through: an unavailable Redis must not take the relay down.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))

		if !d.Allowed {
			retryAfter := retryAfterSeconds(d.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// retryAfterSeconds rounds a wait up to whole seconds, never below one
func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: DApp origin > user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if host := OriginHost(c); host != "" {
		return "origin:" + host
	}

	if userID, exists := c.Get(UserIDKey); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
