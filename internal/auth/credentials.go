package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Credentials holds the Fyers application identity used by both the
// auth-flow endpoints and the trading API.
type Credentials struct {
	appID  string
	secret string
}

// NewCredentials creates credentials for the given app id and secret
func NewCredentials(appID, secret string) *Credentials {
	return &Credentials{
		appID:  appID,
		secret: secret,
	}
}

// AppID returns the application id
func (c *Credentials) AppID() string {
	return c.appID
}

// AppIDHash returns the hex SHA-256 digest of "appID:secret" required by
// the validate-authcode and validate-refresh-token endpoints
func (c *Credentials) AppIDHash() string {
	sum := sha256.Sum256([]byte(c.appID + ":" + c.secret))
	return hex.EncodeToString(sum[:])
}

// AuthHeader returns the Authorization header value for the trading API,
// which expects "appID:accessToken" rather than a bearer scheme
func (c *Credentials) AuthHeader(accessToken string) string {
	return fmt.Sprintf("%s:%s", c.appID, accessToken)
}

// SecureCompare reports whether a caller-supplied shared secret matches
// the expected value, in constant time
func SecureCompare(provided, expected string) bool {
	return hmac.Equal([]byte(provided), []byte(expected))
}
