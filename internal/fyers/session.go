package fyers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"relay/internal/auth"
)

// SessionClient talks to the Fyers auth-flow endpoints: auth-code URL
// generation, auth-code exchange and refresh-token exchange. These calls
// authenticate with the appIdHash rather than an access token.
type SessionClient struct {
	baseURL     string
	httpClient  *http.Client
	creds       *auth.Credentials
	redirectURI string
}

// SessionOption configures the session client
type SessionOption func(*SessionClient)

// WithSessionBaseURL overrides the API host
func WithSessionBaseURL(baseURL string) SessionOption {
	return func(s *SessionClient) {
		s.baseURL = baseURL
	}
}

// WithSessionTimeout sets the HTTP timeout
func WithSessionTimeout(timeout time.Duration) SessionOption {
	return func(s *SessionClient) {
		s.httpClient.Timeout = timeout
	}
}

// NewSessionClient creates an auth-flow client for the given app identity
func NewSessionClient(creds *auth.Credentials, redirectURI string, opts ...SessionOption) *SessionClient {
	client := &SessionClient{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		creds:       creds,
		redirectURI: redirectURI,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// AuthCodeURL returns the interactive authorization URL an operator must
// visit to obtain a fresh auth code
func (s *SessionClient) AuthCodeURL(state string) string {
	params := url.Values{}
	params.Set("client_id", s.creds.AppID())
	params.Set("redirect_uri", s.redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)

	return s.baseURL + pathGenerateAuthCode + "?" + params.Encode()
}

// ExchangeAuthCode trades a one-time auth code for an access/refresh
// token pair
func (s *SessionClient) ExchangeAuthCode(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("auth code is required")
	}

	payload := map[string]string{
		"grant_type": "authorization_code",
		"appIdHash":  s.creds.AppIDHash(),
		"code":       code,
	}

	token, err := s.doTokenRequest(ctx, pathValidateAuthCode, payload)
	if err != nil {
		return nil, ErrorWithContext(err, "ExchangeAuthCode")
	}

	return token, nil
}

// RefreshAccessToken trades a refresh token and PIN for a new access
// token. The response may omit the refresh token; callers keep their
// stored value in that case.
func (s *SessionClient) RefreshAccessToken(ctx context.Context, refreshToken, pin string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	payload := map[string]string{
		"grant_type":    "refresh_token",
		"appIdHash":     s.creds.AppIDHash(),
		"refresh_token": refreshToken,
		"pin":           pin,
	}

	token, err := s.doTokenRequest(ctx, pathValidateRefresh, payload)
	if err != nil {
		return nil, ErrorWithContext(err, "RefreshAccessToken")
	}

	return token, nil
}

// doTokenRequest posts an auth-flow payload and validates the envelope.
// Success requires s == "ok" and a non-empty access token.
func (s *SessionClient) doTokenRequest(ctx context.Context, path string, payload map[string]string) (*TokenResponse, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(resp.StatusCode, body)
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if token.S != StatusOK {
		return nil, envelopeError(resp.StatusCode, token.S, token.Code, token.Message)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return &token, nil
}
