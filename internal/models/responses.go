package models

import (
	"time"

	"relay/internal/fyers"
)

// WebhookResponse is the terminal answer to a signal webhook. The same
// bytes are replayed for duplicate idempotency keys.
type WebhookResponse struct {
	Success       bool                 `json:"success"`
	Message       string               `json:"message,omitempty"`
	Error         string               `json:"error,omitempty"`
	OrderResponse *fyers.OrderResponse `json:"order_response,omitempty"`
	TradeID       string               `json:"trade_id,omitempty"`
}

// NewWebhookSuccess builds the success envelope for a placed order.
func NewWebhookSuccess(orderResponse *fyers.OrderResponse, tradeID string) *WebhookResponse {
	return &WebhookResponse{
		Success:       true,
		Message:       "order placed",
		OrderResponse: orderResponse,
		TradeID:       tradeID,
	}
}

// NewWebhookError builds the failure envelope.
func NewWebhookError(message string) *WebhookResponse {
	return &WebhookResponse{
		Success: false,
		Error:   message,
	}
}

// ReadinessResponse reports whether a usable access token is available.
type ReadinessResponse struct {
	Status      string `json:"status"`
	TokenStatus string `json:"token_status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// HealthResponse represents the liveness of the service.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  int64  `json:"uptime"`
}

// TokenRefreshResponse answers an operator-forced token refresh.
type TokenRefreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AuthURLResponse carries the provider login URL for re-authorization.
type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
}

// ErrorResponse represents a generic API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(errorCode, message, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
