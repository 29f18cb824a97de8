package handler

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dcabot/internal/metrics"
)

const (
	ctxUserID    = "userID"
	ctxRequestID = "requestID"
)

// TokenVerifier resolves a bearer token to its user id.
type TokenVerifier interface {
	VerifyToken(token string) (uint64, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// user id on the context.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") || verifier == nil {
			Error(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}
		userID, err := verifier.VerifyToken(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil || userID == 0 {
			Error(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) uint64 {
	if v, ok := c.Get(ctxUserID); ok {
		if id, ok := v.(uint64); ok {
			return id
		}
	}
	return 0
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// AccessLog records every API request in the request metrics and logs writes
// and failures.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		dur := time.Since(start)
		method := strings.ToUpper(c.Request.Method)
		metrics.HTTPRequests.WithLabelValues(method, route, fmt.Sprintf("%dxx", status/100)).Inc()
		metrics.HTTPLatency.WithLabelValues(route).Observe(dur.Seconds())

		if logger == nil || !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			return
		}
		if status < 400 && (method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions) {
			return
		}
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", dur),
			zap.String("ip", c.ClientIP()),
			zap.Uint64("user_id", currentUser(c)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		switch {
		case status >= 500:
			logger.Error("http request", fields...)
		case status >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-Webhook-Secret,X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	RPS   float64
	Burst int

	mu       sync.Mutex
	limiters map[string]*ipLimiter
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 50
	}
	return &RateLimiter{RPS: rps, Burst: burst, limiters: map[string]*ipLimiter{}}
}

func (l *RateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(l.RPS), l.Burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Sweep forgets clients idle for longer than maxIdle and returns how many were
// dropped.
func (l *RateLimiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	n := 0
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			n++
		}
	}
	return n
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			Error(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
