package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"deskify/internal/config"
	appmetrics "deskify/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket is a simple token bucket used for per-client rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(rpm, burst int) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm // default burst equals a minute worth
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: time.Now(),
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

// RateLimit enables per-IP rate limiting controlled by
// cfg.Security.RateLimiting. Path prefixes listed under Paths override the
// global limit, first match wins. If disabled, it no-ops. Rejections are
// counted per prefix in the metrics package so /metrics can expose them.
func RateLimit(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled || (rl.RequestsPerMinute <= 0 && len(rl.Paths) == 0) {
		return func(c *gin.Context) { c.Next() }
	}

	rules := make([]config.RateLimitPathConfig, 0, len(rl.Paths))
	for _, p := range rl.Paths {
		if p.Prefix != "" {
			rules = append(rules, p)
		}
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*tokenBucket)
	)
	getBucket := func(key string, rpm, burst int) *tokenBucket {
		mu.Lock()
		defer mu.Unlock()
		if b, ok := buckets[key]; ok {
			return b
		}
		b := newBucket(rpm, burst)
		buckets[key] = b
		return b
	}
	return func(c *gin.Context) {
		label, rpm, burst := "global", rl.RequestsPerMinute, rl.Burst
		for _, rule := range rules {
			if strings.HasPrefix(c.Request.URL.Path, rule.Prefix) {
				label, rpm, burst = rule.Prefix, rule.RequestsPerMinute, rule.Burst
				break
			}
		}
		// 全局限额为 0 表示只限被覆盖的前缀
		if label == "global" && rl.RequestsPerMinute <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !getBucket(label+"|"+ip, rpm, burst).allow() {
			appmetrics.IncRateLimitDrop(label)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
