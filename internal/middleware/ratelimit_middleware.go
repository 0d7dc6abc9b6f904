package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/GTDGit/conversion_api/internal/metrics"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter allows rps requests per second per IP with the given burst.
// Idle buckets are dropped after 3 minutes.
func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  3 * time.Minute,
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether ip may make another request now.
func (r *IPRateLimiter) Allow(ip string) bool {
	r.mu.Lock()
	v, ok := r.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	r.mu.Unlock()

	return v.limiter.Allow()
}

// Handle rejects over-limit requests with the admin error envelope.
func (r *IPRateLimiter) Handle(scope string) gin.HandlerFunc {
	return r.HandleWith(scope, func(c *gin.Context) {
		utils.Error(c, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Rate limit exceeded")
	})
}

// HandleWith rejects over-limit requests using onLimit to write the response.
func (r *IPRateLimiter) HandleWith(scope string, onLimit gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			metrics.RateLimitHits.WithLabelValues(scope).Inc()
			c.Header("Retry-After", "1")
			onLimit(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		r.mu.Lock()
		for ip, v := range r.visitors {
			if time.Since(v.lastSeen) > r.idleTTL {
				delete(r.visitors, ip)
			}
		}
		r.mu.Unlock()
	}
}
