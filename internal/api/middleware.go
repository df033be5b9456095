package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relay/internal/models"
)

// RequestIDMiddleware generates or propagates request IDs for tracing
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// LoggerMiddleware logs HTTP requests with zerolog
func LoggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		event := logger.Info()
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("request_id", c.GetString("request_id")).
			Msg("request completed")
	}
}

// ErrorMiddleware handles panic recovery and error responses
func ErrorMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error().
					Interface("panic", err).
					Str("path", c.Request.URL.Path).
					Str("request_id", c.GetString("request_id")).
					Msg("panic recovered")

				c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
					"INTERNAL_ERROR",
					"An internal server error occurred",
					c.GetString("request_id"),
				))
				c.Abort()
			}
		}()
		c.Next()
	}
}

// MetricsRecorder captures per-request counters and latencies
type MetricsRecorder interface {
	RecordHTTPRequest(method, path string, status int)
	RecordHTTPDuration(method, endpoint string, duration float64)
}

// MetricsMiddleware records request metrics after the handler runs
func MetricsMiddleware(recorder MetricsRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		method := c.Request.Method
		path := c.Request.URL.Path
		status := c.Writer.Status()

		recorder.RecordHTTPRequest(method, path, status)
		recorder.RecordHTTPDuration(method, path, duration.Seconds())
	}
}

// rateLimiter tracks one token bucket per client IP
type rateLimiter struct {
	clients         map[string]*clientLimiter
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	cleanupInterval time.Duration
	stopCleanup     chan bool
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (rl *rateLimiter) get(clientIP string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, exists := rl.clients[clientIP]
	if !exists {
		client = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = client
	}
	client.lastSeen = time.Now()
	return client.limiter
}

func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, client := range rl.clients {
		if now.Sub(client.lastSeen) > rl.cleanupInterval*3 {
			delete(rl.clients, ip)
		}
	}
}

// RateLimitMiddleware enforces a per-client request rate
func RateLimitMiddleware(requestsPerSecond float64, burst int) gin.HandlerFunc {
	limiter := &rateLimiter{
		clients:         make(map[string]*clientLimiter),
		limit:           rate.Limit(requestsPerSecond),
		burst:           burst,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan bool),
	}

	// Start cleanup goroutine
	go func() {
		ticker := time.NewTicker(limiter.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				limiter.cleanup()
			case <-limiter.stopCleanup:
				return
			}
		}
	}()

	return func(c *gin.Context) {
		client := limiter.get(getClientIP(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(burst))

		if !client.Allow() {
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, models.NewErrorResponse(
				"RATE_LIMITED",
				"Too many requests",
				c.GetString("request_id"),
			))
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(client.Tokens())))
		c.Next()
	}
}

// ValidationMiddleware rejects request bodies that are not JSON.
// Bodyless POSTs pass so operator endpoints stay curl-friendly.
func ValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "POST" || c.Request.Method == "PUT" || c.Request.Method == "PATCH" {
			if c.Request.ContentLength != 0 {
				contentType := c.GetHeader("Content-Type")
				if contentType == "" || !strings.Contains(contentType, "application/json") {
					c.JSON(http.StatusBadRequest, models.NewErrorResponse(
						"INVALID_CONTENT_TYPE",
						"Content-Type must be application/json",
						c.GetString("request_id"),
					))
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}

func getClientIP(c *gin.Context) string {
	// Extract IP from RemoteAddr, removing port
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have port
		return c.Request.RemoteAddr
	}
	return host
}
