package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"streamcast/pkg/config"
	apperrors "streamcast/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiters keeps one token bucket per caller IP. Idle buckets are
// pruned so a scanner hitting many source addresses cannot grow the map
// without bound.
type ipLimiters struct {
	mu    sync.Mutex
	perIP map[string]*ipLimiter
	limit rate.Limit
	burst int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleEviction = 10 * time.Minute

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	l := &ipLimiters{
		perIP: make(map[string]*ipLimiter),
		limit: limit,
		burst: burst,
	}
	go l.prune()
	return l
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (l *ipLimiters) prune() {
	ticker := time.NewTicker(idleEviction)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-idleEviction)
		l.mu.Lock()
		for ip, entry := range l.perIP {
			if entry.lastSeen.Before(cutoff) {
				delete(l.perIP, ip)
			}
		}
		l.mu.Unlock()
	}
}

func requestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// NewHTTPRateLimitMiddleware limits requests per caller IP and, when
// configured, total in-flight requests across all callers.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiters := newIPLimiters(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	var inflight chan struct{}
	if max := cfg.RateLimiting.HTTP.MaxConcurrent; max > 0 {
		inflight = make(chan struct{}, max)
	}

	return func(c *gin.Context) {
		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
		}

		if !limiters.allow(requestIP(c.Request)) {
			limitErr := apperrors.NewRateLimitError()
			c.AbortWithStatusJSON(limitErr.HTTPStatus, gin.H{
				"error":   string(limitErr.Code),
				"message": limitErr.Message,
			})
			return
		}
		c.Next()
	}
}
