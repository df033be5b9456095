package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/auth"
	"relay/internal/fyers"
	"relay/internal/idempotency"
	"relay/internal/journal"
	"relay/internal/models"
	"relay/internal/retry"
)

type providerResponse struct {
	status int
	body   string
}

// fakeProvider serves the quotes and orders endpoints with canned
// responses; order responses are consumed as a sequence so tests can
// script fail-then-succeed behavior.
type fakeProvider struct {
	mu sync.Mutex

	quoteCalls int
	quoteResp  providerResponse

	orderCalls  int
	orderQueue  []providerResponse
	orderBodies []map[string]interface{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		quoteResp: providerResponse{
			status: http.StatusOK,
			body:   `{"s": "ok", "d": [{"n": "NSE:NIFTY2582624850CE", "v": {"lp": 123.45}}]}`,
		},
		orderQueue: []providerResponse{{
			status: http.StatusOK,
			body:   `{"s": "ok", "code": 1101, "message": "Order submitted", "id": "808058117761"}`,
		}},
	}
}

func (f *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/data/quotes"):
			f.mu.Lock()
			f.quoteCalls++
			resp := f.quoteResp
			f.mu.Unlock()
			w.WriteHeader(resp.status)
			w.Write([]byte(resp.body))

		case r.URL.Path == "/api/v3/orders/sync":
			var payload map[string]interface{}
			json.NewDecoder(r.Body).Decode(&payload)

			f.mu.Lock()
			idx := f.orderCalls
			if idx >= len(f.orderQueue) {
				idx = len(f.orderQueue) - 1
			}
			resp := f.orderQueue[idx]
			f.orderCalls++
			f.orderBodies = append(f.orderBodies, payload)
			f.mu.Unlock()

			w.WriteHeader(resp.status)
			w.Write([]byte(resp.body))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeProvider) counts() (quotes, orders int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.orderCalls
}

func (f *fakeProvider) lastOrderBody() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.orderBodies) == 0 {
		return nil
	}
	return f.orderBodies[len(f.orderBodies)-1]
}

type fakeSource struct {
	client *fyers.Client
	err    error
}

func (f *fakeSource) Client(context.Context) (*fyers.Client, error) {
	return f.client, f.err
}

type fakeResolver struct {
	mu     sync.Mutex
	ticker string
	err    error
	lot    int

	calls      int
	underlying string
	strike     decimal.Decimal
	optionType string
	bucket     string
}

func (f *fakeResolver) Resolve(underlying string, strike decimal.Decimal, optionType, bucket string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.underlying, f.strike, f.optionType, f.bucket = underlying, strike, optionType, bucket
	if f.err != nil {
		return "", f.err
	}
	return f.ticker, nil
}

func (f *fakeResolver) LotSize(string) int {
	if f.lot == 0 {
		return 1
	}
	return f.lot
}

type fakeJournal struct {
	mu       sync.Mutex
	err      error
	appended []*journal.Trade
}

func (f *fakeJournal) Append(_ context.Context, trade *journal.Trade) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.appended = append(f.appended, trade)
	return fmt.Sprintf("trade-%d", len(f.appended)), nil
}

type fakeOutcomes struct {
	mu         sync.Mutex
	placed     int
	failed     int
	duplicates int
}

func (f *fakeOutcomes) RecordOrderPlaced(string) { f.mu.Lock(); f.placed++; f.mu.Unlock() }
func (f *fakeOutcomes) RecordOrderFailed(string) { f.mu.Lock(); f.failed++; f.mu.Unlock() }
func (f *fakeOutcomes) RecordDuplicate()         { f.mu.Lock(); f.duplicates++; f.mu.Unlock() }

type stubRefresher struct {
	mu    sync.Mutex
	calls int
}

func (s *stubRefresher) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return "refreshed", nil
}

type pipelineFixture struct {
	pipeline  *Pipeline
	provider  *fakeProvider
	resolver  *fakeResolver
	trades    *fakeJournal
	outcomes  *fakeOutcomes
	refresher *stubRefresher
}

func newTestPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	provider := newFakeProvider()
	server := httptest.NewServer(provider.handler())
	t.Cleanup(server.Close)

	creds := auth.NewCredentials("TEST123-100", "testsecret")
	client := fyers.NewClient(creds, "access", fyers.WithBaseURL(server.URL))

	refresher := &stubRefresher{}
	executor := retry.NewExecutor(retry.DefaultPolicy(), refresher, zerolog.Nop(),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }))

	resolver := &fakeResolver{ticker: "NSE:NIFTY2582624850CE", lot: 75}
	trades := &fakeJournal{}
	outcomes := &fakeOutcomes{}
	cache := idempotency.NewStore(idempotency.DefaultTTL)

	pipeline := NewPipeline(&fakeSource{client: client}, executor, resolver, trades, cache,
		zerolog.Nop(), WithRecorder(outcomes))

	return &pipelineFixture{
		pipeline:  pipeline,
		provider:  provider,
		resolver:  resolver,
		trades:    trades,
		outcomes:  outcomes,
		refresher: refresher,
	}
}

func flex(value string) models.FlexDecimal {
	return models.FlexDecimal{Decimal: decimal.RequireFromString(value)}
}

func signal() *models.SignalRequest {
	return &models.SignalRequest{
		Token:       "shared-secret",
		Symbol:      "NIFTY",
		StrikePrice: flex("24850"),
		OptionType:  "CE",
		Expiry:      "WEEKLY",
		Action:      "BUY",
	}
}

func decodeResponse(t *testing.T, body []byte) models.WebhookResponse {
	t.Helper()
	var resp models.WebhookResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestExecuteSuccess(t *testing.T) {
	ctx := context.Background()

	t.Run("places a market order and journals it", func(t *testing.T) {
		fix := newTestPipeline(t)

		result := fix.pipeline.Execute(ctx, signal(), "tv-0001")

		require.Equal(t, http.StatusOK, result.Status)
		assert.False(t, result.Replayed)
		assert.Equal(t, "trade-1", result.TradeID)

		resp := decodeResponse(t, result.Body)
		assert.True(t, resp.Success)
		assert.Equal(t, "order placed", resp.Message)
		assert.Equal(t, "trade-1", resp.TradeID)
		require.NotNil(t, resp.OrderResponse)
		assert.Equal(t, "808058117761", resp.OrderResponse.ID)

		payload := fix.provider.lastOrderBody()
		require.NotNil(t, payload)
		assert.Equal(t, "NSE:NIFTY2582624850CE", payload["symbol"])
		assert.Equal(t, float64(75), payload["qty"], "lot size fills a missing quantity")
		assert.Equal(t, float64(2), payload["type"])
		assert.Equal(t, float64(1), payload["side"])
		assert.Equal(t, "BO", payload["productType"])
		assert.Equal(t, "DAY", payload["validity"])
		assert.Equal(t, float64(0), payload["limitPrice"])
		assert.Equal(t, float64(0), payload["stopPrice"])
		assert.Equal(t, float64(0), payload["disclosedQty"])
		assert.Equal(t, false, payload["offlineOrder"])
		assert.Equal(t, float64(6), payload["stopLoss"], "5% of LTP, rounded")
		assert.Equal(t, float64(12), payload["takeProfit"], "10% of LTP, rounded")

		require.Len(t, fix.trades.appended, 1)
		trade := fix.trades.appended[0]
		assert.Equal(t, "NSE:NIFTY2582624850CE", trade.Symbol)
		assert.Equal(t, "BUY", trade.Action)
		assert.Equal(t, 75, trade.Qty)
		assert.True(t, decimal.RequireFromString("123.45").Equal(trade.EntryPrice))
		assert.True(t, decimal.NewFromInt(6).Equal(trade.StopLoss))
		assert.True(t, decimal.NewFromInt(12).Equal(trade.TakeProfit))

		assert.Equal(t, 1, fix.outcomes.placed)
	})

	t.Run("passes resolution parameters through", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Symbol = "banknifty"
		req.OptionType = "pe"
		req.Expiry = "monthly"
		req.StrikePrice = flex("51000")

		fix.pipeline.Execute(ctx, req, "tv-0002")

		assert.Equal(t, "BANKNIFTY", fix.resolver.underlying)
		assert.Equal(t, "PE", fix.resolver.optionType)
		assert.Equal(t, "MONTHLY", fix.resolver.bucket)
		assert.True(t, decimal.NewFromInt(51000).Equal(fix.resolver.strike))
	})

	t.Run("explicit quantity wins over lot size", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Qty = flex("150")

		fix.pipeline.Execute(ctx, req, "tv-0003")

		assert.Equal(t, float64(150), fix.provider.lastOrderBody()["qty"])
	})

	t.Run("sell maps to the short side", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Action = "SELL"

		fix.pipeline.Execute(ctx, req, "tv-0004")

		assert.Equal(t, float64(-1), fix.provider.lastOrderBody()["side"])
	})

	t.Run("invalid product type defaults to BO", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.ProductType = "WEIRD"

		fix.pipeline.Execute(ctx, req, "tv-0005")

		assert.Equal(t, "BO", fix.provider.lastOrderBody()["productType"])
	})

	t.Run("intraday product type passes through", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.ProductType = "INTRADAY"

		fix.pipeline.Execute(ctx, req, "tv-0006")

		assert.Equal(t, "INTRADAY", fix.provider.lastOrderBody()["productType"])
	})
}

func TestExecuteReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate key replays identical bytes without provider calls", func(t *testing.T) {
		fix := newTestPipeline(t)

		first := fix.pipeline.Execute(ctx, signal(), "tv-1000")
		require.Equal(t, http.StatusOK, first.Status)

		second := fix.pipeline.Execute(ctx, signal(), "tv-1000")

		assert.True(t, second.Replayed)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Body, second.Body)

		quotes, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 1, quotes)
		assert.Equal(t, 1, ordersPlaced)
		assert.Len(t, fix.trades.appended, 1)
		assert.Equal(t, 1, fix.outcomes.duplicates)
	})

	t.Run("different keys execute independently", func(t *testing.T) {
		fix := newTestPipeline(t)

		fix.pipeline.Execute(ctx, signal(), "tv-2000")
		fix.pipeline.Execute(ctx, signal(), "tv-2001")

		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 2, ordersPlaced)
	})

	t.Run("empty key disables replay protection", func(t *testing.T) {
		fix := newTestPipeline(t)

		fix.pipeline.Execute(ctx, signal(), "")
		fix.pipeline.Execute(ctx, signal(), "")

		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 2, ordersPlaced)
	})
}

func TestExecuteValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing fields reject with 400", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Action = ""
		req.Expiry = ""

		result := fix.pipeline.Execute(ctx, req, "tv-3000")

		assert.Equal(t, http.StatusBadRequest, result.Status)
		resp := decodeResponse(t, result.Body)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "expiry")
		assert.Contains(t, resp.Error, "action")

		quotes, ordersPlaced := fix.provider.counts()
		assert.Zero(t, quotes)
		assert.Zero(t, ordersPlaced)
	})

	t.Run("unknown action rejects with 400", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Action = "HOLD"

		result := fix.pipeline.Execute(ctx, req, "tv-3001")

		assert.Equal(t, http.StatusBadRequest, result.Status)
		assert.Contains(t, decodeResponse(t, result.Body).Error, "invalid action")
	})

	t.Run("symbol miss is terminal 422 and replays", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.resolver.err = fmt.Errorf("NIFTY 24850 CE WEEKLY: not found")

		result := fix.pipeline.Execute(ctx, signal(), "tv-3002")

		assert.Equal(t, http.StatusUnprocessableEntity, result.Status)
		assert.Equal(t, "could not resolve symbol", decodeResponse(t, result.Body).Error)

		second := fix.pipeline.Execute(ctx, signal(), "tv-3002")
		assert.True(t, second.Replayed)
		assert.Equal(t, result.Body, second.Body)
		assert.Equal(t, 1, fix.resolver.calls)
	})

	t.Run("validation failures replay too", func(t *testing.T) {
		fix := newTestPipeline(t)

		req := signal()
		req.Action = "HOLD"
		first := fix.pipeline.Execute(ctx, req, "tv-3003")
		require.Equal(t, http.StatusBadRequest, first.Status)

		second := fix.pipeline.Execute(ctx, req, "tv-3003")
		assert.True(t, second.Replayed)
		assert.Equal(t, first.Body, second.Body)
	})
}

func TestExecuteRiskFallbacks(t *testing.T) {
	ctx := context.Background()

	t.Run("quote miss falls back to caller risk values", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.quoteResp = providerResponse{http.StatusOK, `{"s": "ok", "d": []}`}

		req := signal()
		req.StopLoss = flex("7")
		req.TakeProfit = flex("15")

		result := fix.pipeline.Execute(ctx, req, "tv-4000")

		require.Equal(t, http.StatusOK, result.Status)
		payload := fix.provider.lastOrderBody()
		assert.Equal(t, float64(7), payload["stopLoss"])
		assert.Equal(t, float64(15), payload["takeProfit"])

		require.Len(t, fix.trades.appended, 1)
		assert.True(t, fix.trades.appended[0].EntryPrice.IsZero())
	})

	t.Run("quote miss without caller values uses the defaults", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.quoteResp = providerResponse{http.StatusOK, `{"s": "ok", "d": []}`}

		result := fix.pipeline.Execute(ctx, signal(), "tv-4001")

		require.Equal(t, http.StatusOK, result.Status)
		payload := fix.provider.lastOrderBody()
		assert.Equal(t, float64(10), payload["stopLoss"])
		assert.Equal(t, float64(20), payload["takeProfit"])
	})

	t.Run("quote endpoint failure is soft", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.quoteResp = providerResponse{http.StatusBadRequest, `{"s": "error", "code": -50, "message": "invalid symbol"}`}

		result := fix.pipeline.Execute(ctx, signal(), "tv-4002")

		require.Equal(t, http.StatusOK, result.Status)
		assert.Equal(t, float64(10), fix.provider.lastOrderBody()["stopLoss"])
	})
}

func TestExecuteOrderFailures(t *testing.T) {
	ctx := context.Background()

	transient := providerResponse{http.StatusServiceUnavailable, `{"s": "error", "code": 500, "message": "server busy"}`}
	authFail := providerResponse{http.StatusUnauthorized, `{"s": "error", "code": -16, "message": "could not authenticate"}`}
	ok := providerResponse{http.StatusOK, `{"s": "ok", "code": 1101, "message": "Order submitted", "id": "808058117761"}`}

	t.Run("transient failures retry to success", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.orderQueue = []providerResponse{transient, transient, ok}

		result := fix.pipeline.Execute(ctx, signal(), "tv-5000")

		assert.Equal(t, http.StatusOK, result.Status)
		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 3, ordersPlaced)
	})

	t.Run("exhausted retries return 502 and cache the failure", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.orderQueue = []providerResponse{transient}

		result := fix.pipeline.Execute(ctx, signal(), "tv-5001")

		assert.Equal(t, http.StatusBadGateway, result.Status)
		assert.Equal(t, "order placement failed", decodeResponse(t, result.Body).Error)
		assert.Equal(t, 1, fix.outcomes.failed)
		assert.Empty(t, fix.trades.appended)

		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 3, ordersPlaced)

		// a redelivery replays the failure rather than retrying the order
		second := fix.pipeline.Execute(ctx, signal(), "tv-5001")
		assert.True(t, second.Replayed)
		assert.Equal(t, result.Body, second.Body)
		_, ordersPlaced = fix.provider.counts()
		assert.Equal(t, 3, ordersPlaced)
	})

	t.Run("auth failure refreshes the token once and repeats", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.provider.orderQueue = []providerResponse{authFail, ok}

		result := fix.pipeline.Execute(ctx, signal(), "tv-5002")

		assert.Equal(t, http.StatusOK, result.Status)
		assert.Equal(t, 1, fix.refresher.calls)
		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 2, ordersPlaced)
	})

	t.Run("journal failure returns 502 but caches the outcome", func(t *testing.T) {
		fix := newTestPipeline(t)
		fix.trades.err = fmt.Errorf("disk full")

		result := fix.pipeline.Execute(ctx, signal(), "tv-5003")

		assert.Equal(t, http.StatusBadGateway, result.Status)
		assert.Equal(t, "failed to record trade", decodeResponse(t, result.Body).Error)

		// the order exists, so a redelivery must replay, not re-place
		second := fix.pipeline.Execute(ctx, signal(), "tv-5003")
		assert.True(t, second.Replayed)
		assert.Equal(t, result.Body, second.Body)
		_, ordersPlaced := fix.provider.counts()
		assert.Equal(t, 1, ordersPlaced)
	})
}
