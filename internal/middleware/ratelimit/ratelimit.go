package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token-bucket limiter per client key. Idle
// limiters are evicted so the map does not grow unbounded.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
	ticker   *time.Ticker
}

type Config struct {
	RequestsPerMinute int
	Burst             int
	Logger            *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute / 4
		if cfg.Burst == 0 {
			cfg.Burst = 1
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    cfg.Burst,
		logger:   cfg.Logger,
		ticker:   time.NewTicker(5 * time.Minute),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if scopeToken := c.Get("X-Scope-Token"); scopeToken != "" {
			key = scopeToken
		}

		if !rl.limiterFor(key).Allow() {
			rl.logger.Warn("Rate limit exceeded", zap.String("key", key))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded",
			})
		}
		return c.Next()
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (rl *RateLimiter) cleanup() {
	for range rl.ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for key, e := range rl.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(rl.limiters, key)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.ticker.Stop()
}
