package handlers

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID / LOGGING / RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// RequestID takes the request ID from the incoming header or generates one,
// echoes it back and stores a request-scoped logger in the request context.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		reqLog := log.With(logger.String(requestIDKey, id))
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), reqLog))
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog logs one line per request. Health and metrics probes are logged
// at debug level.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", path),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String(requestIDKey, GetRequestID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http request", fields...)
		case path == "/healthz" || path == "/metrics":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Recovery converts a handler panic into a 500 JSON response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					logger.Any("error", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
					logger.String(requestIDKey, GetRequestID(c)),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error": gin.H{
						"code":    "internal_server_error",
						"message": "An unexpected error occurred",
					},
				})
			}
		}()
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth guards control endpoints. With no keys configured every request
// passes.
type APIKeyAuth struct {
	headerName string
	keys       []string
}

// NewAPIKeyAuth creates an authenticator. Empty keys are ignored.
func NewAPIKeyAuth(headerName string, keys []string) *APIKeyAuth {
	if headerName == "" {
		headerName = "X-API-Key"
	}
	a := &APIKeyAuth{headerName: headerName}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, k)
		}
	}
	return a
}

// Enabled reports whether at least one key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// IsValid compares key against every configured key in constant time.
func (a *APIKeyAuth) IsValid(key string) bool {
	valid := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}

// Middleware returns the gin handler. The key may also be sent as a bearer
// token.
func (a *APIKeyAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		key := c.GetHeader(a.headerName)
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		switch {
		case key == "":
			abortJSON(c, http.StatusUnauthorized, "missing_api_key", "API key is required")
		case !a.IsValid(key):
			abortJSON(c, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
		default:
			c.Next()
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*clientLimiter
	idleTTL  time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client with a burst of the
// same size. Buckets idle for longer than ten minutes are evicted.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		limiters: make(map[string]*clientLimiter),
		idleTTL:  10 * time.Minute,
	}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idleTTL {
			delete(rl.limiters, k)
		}
	}

	cl, ok := rl.limiters[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[client] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Middleware returns the gin handler.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			abortJSON(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
		"request_id": GetRequestID(c),
	})
}
