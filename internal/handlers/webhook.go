package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"relay/internal/auth"
	"relay/internal/idempotency"
	"relay/internal/models"
	"relay/internal/orders"
)

// OrderPipeline executes a trading signal end to end
type OrderPipeline interface {
	Execute(ctx context.Context, req *models.SignalRequest, key string) *orders.Result
}

// WebhookHandlers contains the signal webhook handler
type WebhookHandlers struct {
	pipeline OrderPipeline
	secret   string
	logger   zerolog.Logger
}

// NewWebhookHandlers creates new webhook handlers
func NewWebhookHandlers(pipeline OrderPipeline, secret string, logger zerolog.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		pipeline: pipeline,
		secret:   secret,
		logger:   logger.With().Str("component", "webhook").Logger(),
	}
}

// Receive returns the handler for incoming trading signals. The shared
// secret travels in the body's token field, so the body is decoded
// before the caller is authenticated.
func (h *WebhookHandlers) Receive() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SignalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Warn().
				Err(err).
				Str("request_id", c.GetString("request_id")).
				Msg("webhook body rejected")
			c.JSON(http.StatusBadRequest, models.NewWebhookError("invalid request body"))
			return
		}

		if !auth.SecureCompare(req.Token, h.secret) {
			h.logger.Warn().
				Str("client_ip", c.ClientIP()).
				Str("request_id", c.GetString("request_id")).
				Msg("webhook secret mismatch")
			c.JSON(http.StatusUnauthorized, models.NewWebhookError("unauthorized"))
			return
		}

		key := idempotency.Key(c.GetHeader(idempotency.HeaderName), req.IdempotencyKey)

		result := h.pipeline.Execute(c.Request.Context(), &req, key)

		// Replays must be byte-identical, so the stored body is written
		// verbatim rather than re-encoded.
		c.Data(result.Status, "application/json", result.Body)
	}
}
