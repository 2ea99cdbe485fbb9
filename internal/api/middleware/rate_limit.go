package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	apiContext "clientportal/internal/api/context"
	"clientportal/internal/pkg/errors"
)

const (
	LimitRequestLink = "request_link"
	LimitVerify      = "verify"

	defaultLimit = 60
	idleTimeout  = 10 * time.Minute
)

// RateLimiter is a per-key token bucket refilled evenly over a minute.
type RateLimiter struct {
	store  *sync.Map // map[string]*Bucket
	limits map[string]int
	now    func() time.Time
	done   chan struct{}
	once   sync.Once
}

type Bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

// NewRateLimiter starts a limiter with per-minute limits keyed by limit type.
func NewRateLimiter(limits map[string]int) *RateLimiter {
	rl := &RateLimiter{
		store:  &sync.Map{},
		limits: limits,
		now:    time.Now,
		done:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(idleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Cleanup drops buckets that have been idle for longer than idleTimeout.
func (rl *RateLimiter) Cleanup() {
	now := rl.now()
	rl.store.Range(func(key, value interface{}) bool {
		bucket := value.(*Bucket)
		bucket.mu.Lock()
		if now.Sub(bucket.lastAccess) > idleTimeout {
			rl.store.Delete(key)
		}
		bucket.mu.Unlock()
		return true
	})
}

func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := rl.now()

	val, _ := rl.store.LoadOrStore(key, &Bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	bucket := val.(*Bucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.lastAccess = now

	elapsed := now.Sub(bucket.lastRefill)
	refillRate := float64(limit) / 60.0
	refillTokens := int(elapsed.Seconds() * refillRate)

	if refillTokens > 0 {
		if bucket.tokens+refillTokens > limit {
			bucket.tokens = limit
		} else {
			bucket.tokens += refillTokens
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}

	return false
}

// Limit rejects requests from a client IP once it exceeds the limit for
// limitType. A limit of zero or less disables limiting.
func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			limit, ok := rl.limits[limitType]
			if !ok {
				limit = defaultLimit
			}
			if limit <= 0 {
				next(w, r)
				return
			}

			ip, _ := r.Context().Value(apiContext.ClientIP).(string)
			if ip == "" {
				ip = ExtractClientIP(r)
			}
			key := fmt.Sprintf("%s:%s", ip, limitType)

			if !rl.Allow(key, limit) {
				w.Header().Set("Retry-After", "60")
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Too many requests, please try again later", nil)
				return
			}

			next(w, r)
		}
	}
}
