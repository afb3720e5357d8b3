package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"golang.org/x/time/rate"

	"github.com/kart-io/knowledge-base/pkg/utils/errors"
)

// RateLimitConfig defines per-client token bucket limits.
type RateLimitConfig struct {
	// RPS 每个客户端每秒允许的请求数
	RPS float64
	// Burst 令牌桶容量
	Burst int
	// IdleTTL 客户端空闲多久后回收其限流器
	IdleTTL time.Duration
	// KeyFunc 默认使用客户端 IP
	KeyFunc func(c *gin.Context) string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	visitors map[string]*visitor
	lastGC   time.Time
	now      func() time.Time
}

// NewRateLimiter builds a limiter; non-positive values fall back to 10 rps, burst 20.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	return &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) > l.cfg.IdleTTL {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.cfg.IdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastGC = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with ErrTooManyRequests.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.cfg.KeyFunc(c)
		if !l.Allow(key) {
			logger.Warnw("Rate limit exceeded", "key", key, "path", c.Request.URL.Path, "request_id", RequestIDFrom(c))
			c.Header("Retry-After", "1")
			abort(c, errors.ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
