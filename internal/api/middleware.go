package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/bardlex/gobt/pkg/log"
)

// requestLogger emits one structured log line per request. Health probes
// are kept out of the log stream.
func requestLogger(logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == healthPath {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
		)
	}
}

// securityHeaders sets the standard browser protection headers on every
// response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// apiKeyAuth enforces the configured API key with a constant time
// compare. The key is read from the X-API-Key header, falling back to
// the api_key query parameter. An empty configured key disables
// authentication. When an IP allowlist is configured the client address
// must also be on it.
func apiKeyAuth(apiKey string, allowedIPs []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if trimmed := strings.TrimSpace(ip); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				respondError("unauthorized", "invalid or missing API key"))
			return
		}

		if len(allowed) > 0 {
			if _, ok := allowed[c.ClientIP()]; !ok {
				c.AbortWithStatusJSON(http.StatusForbidden,
					respondError("forbidden", "client address not allowed"))
				return
			}
		}

		c.Next()
	}
}

const (
	// rateLimitMaxClients bounds the limiter map. Idle entries are swept
	// once the map grows past it.
	rateLimitMaxClients = 10000

	// rateLimitIdleAfter is how long a client may be silent before its
	// limiter is dropped in a sweep.
	rateLimitIdleAfter = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimit enforces a per-client-IP request budget with token buckets
// refilling at perMinute requests per minute, with a burst of the same
// size. Replies carry X-RateLimit-Limit and X-RateLimit-Remaining;
// exceeding the budget returns 429.
func rateLimit(perMinute int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)
	limit := rate.Limit(float64(perMinute) / 60.0)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		cl, ok := clients[ip]
		if !ok {
			if len(clients) >= rateLimitMaxClients {
				for addr, entry := range clients {
					if now.Sub(entry.lastSeen) > rateLimitIdleAfter {
						delete(clients, addr)
					}
				}
			}
			cl = &clientLimiter{limiter: rate.NewLimiter(limit, perMinute)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		allowed := cl.limiter.Allow()
		remaining := int(cl.limiter.Tokens())
		mu.Unlock()

		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				respondError("rate_limited", "request rate limit exceeded"))
			return
		}

		c.Next()
	}
}
