package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/internal/metrics"
	"golang.org/x/time/rate"
)

// RateSpec is a request budget per window, parsed from forms like "60/min"
type RateSpec struct {
	Limit  int
	Window time.Duration
}

// ParseRateSpec accepts "60/min", "10 per second", "1000/hour". An empty
// string yields a zero spec, which disables limiting.
func ParseRateSpec(s string) (RateSpec, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return RateSpec{}, nil
	}
	s = strings.ReplaceAll(s, "per", "/")
	s = strings.ReplaceAll(s, " ", "")

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return RateSpec{}, fmt.Errorf("invalid rate limit %q", s)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 {
		return RateSpec{}, fmt.Errorf("invalid rate limit count %q", parts[0])
	}

	switch parts[1] {
	case "s", "sec", "secs", "second", "seconds":
		return RateSpec{Limit: n, Window: time.Second}, nil
	case "m", "min", "mins", "minute", "minutes":
		return RateSpec{Limit: n, Window: time.Minute}, nil
	case "h", "hr", "hour", "hours":
		return RateSpec{Limit: n, Window: time.Hour}, nil
	default:
		return RateSpec{}, fmt.Errorf("invalid rate limit unit %q", parts[1])
	}
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	spec RateSpec
	idle time.Duration

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns nil for a zero spec
func NewRateLimiter(spec RateSpec) *RateLimiter {
	if spec.Limit <= 0 || spec.Window <= 0 {
		return nil
	}
	return &RateLimiter{
		spec:    spec,
		idle:    10 * spec.Window,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether ip may make another request now
func (rl *RateLimiter) Allow(ip string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[ip]
	if !ok {
		every := rl.spec.Window / time.Duration(rl.spec.Limit)
		cl = &client{limiter: rate.NewLimiter(rate.Every(every), rl.spec.Limit)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = now
	allowed := cl.limiter.AllowN(now, 1)

	rl.evictIdle(now)
	return allowed
}

// evictIdle drops clients not seen for a while; caller holds mu
func (rl *RateLimiter) evictIdle(now time.Time) {
	for ip, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > rl.idle {
			delete(rl.clients, ip)
		}
	}
}

// Middleware rejects over-budget clients with 429. Health, metrics and
// preflight requests are never limited. Clients are keyed by gin's ClientIP,
// which honours forwarding headers only from the engine's trusted proxies.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if c.Request.Method == http.MethodOptions || path == "/health" || path == "/metrics" {
			c.Next()
			return
		}
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs every request and records its latency
func RequestLogger(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, route, status, elapsed)

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client", c.ClientIP(),
			"status", status,
			"duration", elapsed)
	}
}
