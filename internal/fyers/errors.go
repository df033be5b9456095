package fyers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrQuoteUnavailable indicates the quotes endpoint answered without a
// usable price for the requested symbol. Callers treat it as a soft miss,
// not a transport failure.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// APIError represents an error response from the Fyers API. The envelope
// carries s != "ok" together with a provider code and message; HTTPStatus
// records the transport status the envelope arrived with.
type APIError struct {
	S          string `json:"s"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("fyers API error %d: %s", e.Code, e.Message)
}

// IsRetryable determines if this error should trigger a retry
func (e *APIError) IsRetryable() bool {
	if e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	return e.HTTPStatus >= 500 && e.HTTPStatus <= 599
}

// IsAuthError checks if this is an authentication error
func (e *APIError) IsAuthError() bool {
	authCodes := map[int]bool{
		-15: true, // invalid token
		-16: true, // could not authenticate
		-17: true, // expired token
	}
	return authCodes[e.Code] || e.HTTPStatus == http.StatusUnauthorized
}

// IsRateLimitError checks if this is a rate limiting error
func (e *APIError) IsRateLimitError() bool {
	return e.HTTPStatus == http.StatusTooManyRequests
}

// ParseAPIError builds an APIError from a non-2xx HTTP response body
func ParseAPIError(statusCode int, body []byte) error {
	var apiErr APIError
	jsonErr := json.Unmarshal(body, &apiErr)

	// A well-formed envelope carries s and message
	if jsonErr == nil && (apiErr.S != "" || apiErr.Code != 0) {
		apiErr.HTTPStatus = statusCode
		return &apiErr
	}

	bodyStr := strings.TrimSpace(string(body))
	if bodyStr == "" {
		bodyStr = "empty response"
	}

	return &APIError{
		S:          "error",
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, bodyStr),
		HTTPStatus: statusCode,
	}
}

// envelopeError builds an APIError from a 2xx response whose envelope
// still reports failure (s != "ok")
func envelopeError(httpStatus int, s string, code int, message string) error {
	if message == "" {
		message = "request failed"
	}
	return &APIError{
		S:          s,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// IsRetryableError determines if an error should trigger a retry
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are never retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	return isNetworkError(err)
}

// IsAuthError determines if an error signals a rejected or expired token
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsAuthError()
	}
	return false
}

// ErrorWithContext wraps errors with operation context for better debugging
func ErrorWithContext(err error, operation string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// isNetworkError checks if an error is a network-related error
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection refused",
		"no such host",
		"timeout",
		"network unreachable",
		"connection reset",
		"unexpected eof",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}
