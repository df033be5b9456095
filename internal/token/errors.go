package token

import (
	"errors"
	"fmt"
)

// ErrAuthCodeMissing indicates no auth code is configured. Recovery
// needs a human: the operator must visit the authorization URL and
// supply a fresh code.
var ErrAuthCodeMissing = errors.New("auth code not configured")

// ErrNoAccessToken indicates the manager holds no usable credentials
var ErrNoAccessToken = errors.New("no access token available")

// RefreshError wraps a failed refresh-token exchange
type RefreshError struct {
	Err error
}

// Error implements the error interface
func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

// Unwrap exposes the underlying cause
func (e *RefreshError) Unwrap() error {
	return e.Err
}

// ManagerError wraps a failed generate or client construction
type ManagerError struct {
	Op  string
	Err error
}

// Error implements the error interface
func (e *ManagerError) Error() string {
	return fmt.Sprintf("token %s failed: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause
func (e *ManagerError) Unwrap() error {
	return e.Err
}
