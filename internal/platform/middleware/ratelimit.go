package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts limiters of clients not seen for this long.
	IdleTTL time.Duration
}

// DefaultLoginRateLimitConfig throttles credential endpoints per client IP.
func DefaultLoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         5,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-key limiters.
type rateLimiterStore struct {
	mu       sync.RWMutex
	limiters map[string]*limiterEntry
	config   RateLimitConfig
	now      func() time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: make(map[string]*limiterEntry),
		config:   cfg,
		now:      time.Now,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	now := s.now()

	s.mu.RLock()
	entry, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		entry.lastSeen = now
		s.mu.Unlock()
		return entry.lim
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.limiters[key]; ok {
		entry.lastSeen = now
		return entry.lim
	}
	s.evictLocked(now)
	entry = &limiterEntry{
		lim:      rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize),
		lastSeen: now,
	}
	s.limiters[key] = entry
	return entry.lim
}

// evictLocked drops idle limiters. It runs on insert, so the map stays
// bounded by the number of clients seen within IdleTTL.
func (s *rateLimiterStore) evictLocked(now time.Time) {
	if s.config.IdleTTL <= 0 {
		return
	}
	for k, e := range s.limiters {
		if now.Sub(e.lastSeen) > s.config.IdleTTL {
			delete(s.limiters, k)
		}
	}
}

func (s *rateLimiterStore) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// RateLimit returns a per client IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(c.RealIP())
			c.Response().Header().Set("X-RateLimit-Limit", limit)

			r := lim.Reserve()
			if delay := r.Delay(); delay > 0 || !r.OK() {
				r.Cancel()
				retryAfter := 1
				if r.OK() {
					retryAfter = int(math.Ceil(delay.Seconds()))
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
