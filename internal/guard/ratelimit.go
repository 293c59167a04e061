package guard

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/werkplatz/werkplatz-api/internal/apperr"
	"github.com/werkplatz/werkplatz-api/internal/metrics"
)

const (
	DefaultRateLimit  = 120
	DefaultRateWindow = time.Minute
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time until the bucket resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	return d.ResetAt.Sub(now)
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is a process-local fixed-window limiter. Buckets are
// visible to this instance only; use RedisRateLimiter when several instances
// serve the same routes.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryRateLimiter creates a limiter allowing limit requests per window
// and starts a janitor that drops expired buckets. Call Close to stop it.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	rl := &MemoryRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow records one request for key.
func (rl *MemoryRateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(rl.window)}
		rl.buckets[key] = b
	}

	if b.count >= rl.limit {
		return Decision{Allowed: false, Limit: rl.limit, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Decision{Allowed: true, Limit: rl.limit, Remaining: rl.limit - b.count, ResetAt: b.resetAt}, nil
}

// Close stops the janitor.
func (rl *MemoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *MemoryRateLimiter) janitor() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *MemoryRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}

// fixedWindowScript increments the bucket and starts its window on the first
// hit. Returns {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisRateLimiter is a fixed-window limiter shared by every instance using
// the same Redis.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter creates a shared limiter.
func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateLimiter{
		client: client,
		prefix: "werkplatz:ratelimit:",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records one request for key.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := fixedWindowScript.Run(ctx, rl.client, []string{rl.prefix + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}

	count, pttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	if pttl < 0 {
		pttl = rl.window
	}
	d := Decision{Limit: rl.limit, ResetAt: rl.now().Add(pttl)}
	if count > rl.limit {
		return d, nil
	}
	d.Allowed = true
	d.Remaining = rl.limit - count
	return d, nil
}

// RateLimitMiddleware limits requests per client IP and route. It is used for
// unauthenticated endpoints outside the admin guard.
func RateLimitMiddleware(limiter RateLimiter, ips *IPResolver, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := checkRate(r, limiter, ips, route); err != nil {
			apperr.Write(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkRate(r *http.Request, limiter RateLimiter, ips *IPResolver, route string) error {
	key := ips.ClientIP(r) + ":" + route
	d, err := limiter.Allow(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("route", route).Msg("Rate limiter unavailable")
		return apperr.Persistence("guard.rate_limit", err)
	}
	if !d.Allowed {
		metrics.GuardRejectionsTotal.WithLabelValues("rate_limit").Inc()
		return apperr.RateLimited(d.RetryAfter(time.Now()))
	}
	return nil
}
