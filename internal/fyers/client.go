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

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"relay/internal/auth"
)

// DefaultBaseURL is the production Fyers v3 API host
const DefaultBaseURL = "https://api-t1.fyers.in"

// Client represents a REST client for the Fyers trading and data API,
// bound to a single access token. Retry policy lives with the caller;
// every method performs exactly one HTTP exchange.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	creds       *auth.Credentials
	accessToken string
	limiter     *rate.Limiter
}

// Option configures the client
type Option func(*Client)

// WithBaseURL overrides the API host
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets rate limiting
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client authenticated with the given access token
func NewClient(creds *auth.Credentials, accessToken string, opts ...Option) *Client {
	client := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		creds:       creds,
		accessToken: accessToken,
		limiter:     rate.NewLimiter(rate.Limit(10), 5), // Fyers allows 10 req/sec per app
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AccessToken returns the token the client was built with
func (c *Client) AccessToken() string {
	return c.accessToken
}

// GetQuote retrieves the full quote for a symbol
func (c *Client) GetQuote(ctx context.Context, symbol string) (*QuoteResponse, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	params := url.Values{}
	params.Set("symbols", symbol)

	body, err := c.doRequest(ctx, http.MethodGet, pathQuotes+"?"+params.Encode(), nil)
	if err != nil {
		return nil, ErrorWithContext(err, "GetQuote")
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, ErrorWithContext(err, "GetQuote")
	}
	if quote.S != StatusOK {
		return nil, ErrorWithContext(envelopeError(http.StatusOK, quote.S, quote.Code, quote.Message), "GetQuote")
	}

	return &quote, nil
}

// GetLTP retrieves the last traded price for a symbol. A well-formed
// response without a usable price yields ErrQuoteUnavailable.
func (c *Client) GetLTP(ctx context.Context, symbol string) (decimal.Decimal, error) {
	quote, err := c.GetQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if len(quote.D) == 0 || !quote.D[0].V.LP.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrQuoteUnavailable, symbol)
	}

	return quote.D[0].V.LP, nil
}

// GetPositions retrieves the net positions for the account
func (c *Client) GetPositions(ctx context.Context) (*PositionsResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, pathPositions, nil)
	if err != nil {
		return nil, ErrorWithContext(err, "GetPositions")
	}

	var positions PositionsResponse
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, ErrorWithContext(err, "GetPositions")
	}
	if positions.S != StatusOK {
		return nil, ErrorWithContext(envelopeError(http.StatusOK, positions.S, positions.Code, positions.Message), "GetPositions")
	}

	return &positions, nil
}

// HasShortPosition reports whether the account holds a net short position
// in the given symbol
func (c *Client) HasShortPosition(ctx context.Context, symbol string) (bool, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return false, err
	}

	for i := range positions.NetPositions {
		p := &positions.NetPositions[i]
		if p.Symbol == symbol && p.IsShort() {
			return true, nil
		}
	}

	return false, nil
}

// PlaceOrder places a new order
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.Qty <= 0 {
		return nil, fmt.Errorf("qty is required")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("side must be %d or %d", SideBuy, SideSell)
	}
	if !IsValidProductType(req.ProductType) {
		return nil, fmt.Errorf("invalid productType: %s", req.ProductType)
	}

	body, err := c.doRequest(ctx, http.MethodPost, pathOrders, req)
	if err != nil {
		return nil, ErrorWithContext(err, "PlaceOrder")
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, ErrorWithContext(err, "PlaceOrder")
	}
	if orderResp.S != StatusOK {
		return nil, ErrorWithContext(envelopeError(http.StatusOK, orderResp.S, orderResp.Code, orderResp.Message), "PlaceOrder")
	}

	return &orderResp, nil
}

// doRequest executes a single API exchange with rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", c.creds.AuthHeader(c.accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ParseAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}
