package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"relay/internal/models"
)

// TokenManager drives the provider token lifecycle
type TokenManager interface {
	Refresh(ctx context.Context) (string, error)
	AuthCodeURL() string
}

// TokenHandlers contains operator-facing token endpoints
type TokenHandlers struct {
	manager TokenManager
	logger  zerolog.Logger
}

// NewTokenHandlers creates new token handlers
func NewTokenHandlers(manager TokenManager, logger zerolog.Logger) *TokenHandlers {
	return &TokenHandlers{
		manager: manager,
		logger:  logger.With().Str("component", "token-api").Logger(),
	}
}

// Refresh returns a handler that forces an access-token refresh
func (h *TokenHandlers) Refresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.manager.Refresh(c.Request.Context()); err != nil {
			h.logger.Error().
				Err(err).
				Str("request_id", c.GetString("request_id")).
				Msg("forced token refresh failed")
			c.JSON(http.StatusBadGateway, models.TokenRefreshResponse{
				Success: false,
				Message: "Failed to refresh token",
			})
			return
		}

		c.JSON(http.StatusOK, models.TokenRefreshResponse{
			Success: true,
			Message: "Token refreshed",
		})
	}
}

// AuthURL returns a handler serving the provider login URL for
// operator re-authorization
func (h *TokenHandlers) AuthURL() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.AuthURLResponse{AuthURL: h.manager.AuthCodeURL()})
	}
}
