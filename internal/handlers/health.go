package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"relay/internal/models"
)

// ReadinessProber reports whether a usable access token is available
type ReadinessProber interface {
	AccessToken(ctx context.Context) (string, error)
}

// MetricsCollector interface for collecting Prometheus metrics
type MetricsCollector interface {
	Collect() (string, error)
}

// HealthHandlers contains health check handlers
type HealthHandlers struct {
	version   string
	startTime time.Time
}

// NewHealthHandlers creates new health handlers
func NewHealthHandlers(version string, startTime time.Time) *HealthHandlers {
	return &HealthHandlers{
		version:   version,
		startTime: startTime,
	}
}

// HealthCheck returns a handler for the liveness endpoint
func (h *HealthHandlers) HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		uptime := time.Since(h.startTime).Seconds()

		response := models.HealthResponse{
			Status:  "healthy",
			Version: h.version,
			Uptime:  int64(uptime),
		}

		c.JSON(http.StatusOK, response)
	}
}

// Readiness returns a handler probing token availability. The probe
// goes through the manager, so an expired-but-refreshable token still
// reports ready.
func (h *HealthHandlers) Readiness(prober ReadinessProber) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := prober.AccessToken(c.Request.Context()); err != nil {
			response := models.ReadinessResponse{
				Status:      "error",
				TokenStatus: "unavailable",
				Message:     err.Error(),
			}
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}

		c.JSON(http.StatusOK, models.ReadinessResponse{
			Status:      "ok",
			TokenStatus: "active",
		})
	}
}

// Metrics returns a handler for the Prometheus metrics endpoint
func (h *HealthHandlers) Metrics(collector MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := collector.Collect()
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
				"METRICS_ERROR",
				"Failed to collect metrics",
				c.GetString("request_id"),
			))
			return
		}

		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(metrics))
	}
}
