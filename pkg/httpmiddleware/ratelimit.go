package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key over a sliding window of Max requests.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
	Max() int
}

// slidingWindow weights the previous fixed window by how much of it still
// overlaps the sliding window ending at now.
func slidingWindow(window time.Duration, prev, curr float64, currStart, now time.Time) (effective float64, resetAt time.Time) {
	overlap := 1.0 - now.Sub(currStart).Seconds()/window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	return prev*overlap + curr, currStart.Add(window)
}

func remaining(limit int, effective float64) int {
	return max(0, int(float64(limit)-effective))
}

type windowCounts struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

// LocalLimiter keeps counters in process memory. It suits single-instance
// deployments and tests.
type LocalLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*windowCounts
}

// NewLocalLimiter allows limit requests per key within window.
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{max: limit, window: window, entries: make(map[string]*windowCounts)}
}

func (l *LocalLimiter) Max() int { return l.max }

func (l *LocalLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &windowCounts{currStart: now.Truncate(l.window)}
		l.entries[key] = e
	}
	if now.Sub(e.currStart) >= l.window {
		e.prevCount, e.prevStart = e.currCount, e.currStart
		e.currCount, e.currStart = 0, now.Truncate(l.window)
		if now.Sub(e.prevStart) >= 2*l.window {
			e.prevCount = 0
		}
	}

	effective, resetAt := slidingWindow(l.window, e.prevCount, e.currCount, e.currStart, now)
	if effective >= float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	e.currCount++
	return Decision{Allowed: true, Remaining: remaining(l.max, effective+1), ResetAt: resetAt}, nil
}

// Run evicts idle keys every two windows until ctx is done.
func (l *LocalLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for key, e := range l.entries {
				if now.Sub(e.currStart) >= 2*l.window {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// hitScript increments the current window counter and returns it along with
// the previous window counter. Counters expire after two windows.
var hitScript = redis.NewScript(`
local curr = redis.call("INCR", KEYS[1])
if curr == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local prev = tonumber(redis.call("GET", KEYS[2]) or "0")
return {curr, prev}
`)

// RedisLimiter shares counters between instances through Redis. Rejected
// requests count toward the window.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows limit requests per key within window, storing
// counters under prefix.
func NewRedisLimiter(rdb redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: prefix, max: limit, window: window}
}

func (l *RedisLimiter) Max() int { return l.max }

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	currStart := now.Truncate(l.window)
	prevStart := currStart.Add(-l.window)
	keys := []string{
		l.prefix + key + ":" + strconv.FormatInt(currStart.UnixMilli(), 10),
		l.prefix + key + ":" + strconv.FormatInt(prevStart.UnixMilli(), 10),
	}

	counts, err := hitScript.Run(ctx, l.rdb, keys, (2 * l.window).Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "rate limit hit")
	}
	if len(counts) != 2 {
		return Decision{}, errors.Errorf("rate limit hit: unexpected reply %v", counts)
	}

	// The script has already counted this request.
	effective, resetAt := slidingWindow(l.window, float64(counts[1]), float64(counts[0]), currStart, now)
	if effective > float64(l.max) {
		return Decision{ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: remaining(l.max, effective), ResetAt: resetAt}, nil
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter Limiter
	// KeyFunc extracts the rate limit key from a request. If nil, the client
	// IP address is used.
	KeyFunc func(*http.Request) string
}

// RateLimit rejects requests over the limit with 429 Too Many Requests.
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Limiter errors let the request through.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}
	limit := strconv.Itoa(cfg.Limiter.Max())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := cfg.Limiter.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retryAfter := max(d.ResetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes the JSON error body shared by the API and its
// middlewares: {"code": status, "type": kind, "message": msg}.
func WriteError(w http.ResponseWriter, status int, kind, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("type")
	e.Str(kind)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// ClientIP extracts the client IP from the request, checking X-Forwarded-For
// first, then X-Real-IP, then falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
