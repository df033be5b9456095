// Package orders executes webhook signals end to end: replay check,
// validation, symbol resolution, price lookup, order placement and
// journaling. Every outcome is a Result whose body the handler writes
// verbatim, so duplicate deliveries replay identical bytes.
package orders

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"relay/internal/fyers"
	"relay/internal/idempotency"
	"relay/internal/journal"
	"relay/internal/models"
	"relay/internal/retry"
)

// Pipeline turns validated signals into broker orders. Every terminal
// result is cached by idempotency key, so a redelivered signal replays
// its original outcome and can never place a second order.
type Pipeline struct {
	source   ClientSource
	executor *retry.Executor
	symbols  SymbolResolver
	journal  TradeJournal
	cache    *idempotency.Store
	recorder Recorder
	logger   zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = recorder
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(source ClientSource, executor *retry.Executor, symbols SymbolResolver, trades TradeJournal, cache *idempotency.Store, logger zerolog.Logger, opts ...Option) *Pipeline {
	pipeline := &Pipeline{
		source:   source,
		executor: executor,
		symbols:  symbols,
		journal:  trades,
		cache:    cache,
		recorder: nopRecorder{},
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}

	for _, opt := range opts {
		opt(pipeline)
	}

	return pipeline
}

// Execute runs one signal to its terminal Result. key is the request's
// idempotency key; empty disables replay protection for this signal.
func (p *Pipeline) Execute(ctx context.Context, req *models.SignalRequest, key string) *Result {
	if body, status, ok := p.cache.Get(key); ok {
		p.recorder.RecordDuplicate()
		p.logger.Info().
			Str("idempotency_key", key).
			Int("status", status).
			Msg("Duplicate signal, replaying cached response")
		return &Result{Status: status, Body: body, Replayed: true}
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		verr := &ValidationError{Err: err}
		p.logger.Warn().
			Err(verr).
			Str("symbol", req.Symbol).
			Str("action", req.Action).
			Msg("Signal rejected")
		return p.terminal(key, http.StatusBadRequest, verr.Error())
	}

	productType := req.ProductType
	if !fyers.IsValidProductType(productType) {
		if productType != "" {
			p.logger.Warn().
				Str("product_type", productType).
				Str("symbol", req.Symbol).
				Msg("Invalid product type, defaulting to BO")
		}
		productType = fyers.ProductBracket
	}

	side := fyers.SideBuy
	if req.Action == models.ActionSell {
		side = fyers.SideSell
	}

	ticker, err := p.symbols.Resolve(req.Symbol, req.StrikePrice.Decimal, req.OptionType, req.Expiry)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("symbol", req.Symbol).
			Str("expiry", req.Expiry).
			Msg("Symbol resolution failed")
		return p.terminal(key, http.StatusUnprocessableEntity, "could not resolve symbol")
	}

	ltp := p.fetchLTP(ctx, ticker)
	stopLoss, takeProfit := riskParams(ltp, req.StopLoss.Decimal, req.TakeProfit.Decimal)

	qty := int(req.Qty.IntPart())
	if qty <= 0 {
		qty = p.symbols.LotSize(ticker)
	}

	orderReq := &fyers.OrderRequest{
		Symbol:       ticker,
		Qty:          qty,
		Type:         fyers.OrderTypeMarket,
		Side:         side,
		ProductType:  productType,
		LimitPrice:   0,
		StopPrice:    0,
		Validity:     fyers.ValidityDay,
		DisclosedQty: 0,
		OfflineOrder: false,
		StopLoss:     stopLoss.InexactFloat64(),
		TakeProfit:   takeProfit.InexactFloat64(),
	}

	var orderResp *fyers.OrderResponse
	err = p.executor.Execute(ctx, "place_order", func(ctx context.Context) error {
		client, err := p.source.Client(ctx)
		if err != nil {
			return err
		}
		resp, err := client.PlaceOrder(ctx, orderReq)
		if err != nil {
			return err
		}
		orderResp = resp
		return nil
	})
	if err != nil {
		p.recorder.RecordOrderFailed(ticker)
		p.logger.Error().
			Err(err).
			Str("symbol", ticker).
			Str("action", req.Action).
			Msg("Order placement failed")
		return p.terminal(key, http.StatusBadGateway, "order placement failed")
	}

	p.recorder.RecordOrderPlaced(ticker)
	p.logger.Info().
		Str("symbol", ticker).
		Str("action", req.Action).
		Int("qty", qty).
		Str("ltp", ltp.String()).
		Str("sl", stopLoss.String()).
		Str("tp", takeProfit.String()).
		Msg("Order placed")

	trade := &journal.Trade{
		Symbol:     ticker,
		Action:     req.Action,
		Qty:        qty,
		EntryPrice: ltp,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	tradeID, err := p.journal.Append(ctx, trade)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("symbol", ticker).
			Msg("Trade journaling failed, order stands")
		return p.terminal(key, http.StatusBadGateway, "failed to record trade")
	}

	body := marshalBody(models.NewWebhookSuccess(orderResp, tradeID))
	p.cache.Set(key, body, http.StatusOK)

	return &Result{Status: http.StatusOK, Body: body, TradeID: tradeID}
}

// fetchLTP reads the last traded price under the retry policy. Any
// failure is soft: the pipeline falls back to caller risk values.
func (p *Pipeline) fetchLTP(ctx context.Context, ticker string) decimal.Decimal {
	var ltp decimal.Decimal
	err := p.executor.Execute(ctx, "quotes", func(ctx context.Context) error {
		client, err := p.source.Client(ctx)
		if err != nil {
			return err
		}
		price, err := client.GetLTP(ctx, ticker)
		if err != nil {
			return err
		}
		ltp = price
		return nil
	})
	if err != nil {
		p.logger.Warn().
			Err(err).
			Str("symbol", ticker).
			Msg("No usable price, using fallback risk values")
		return decimal.Zero
	}
	return ltp
}

// terminal builds a failure Result and caches it under the key, so a
// redelivery replays the same bytes instead of re-running the pipeline.
func (p *Pipeline) terminal(key string, status int, message string) *Result {
	result := &Result{Status: status, Body: marshalBody(models.NewWebhookError(message))}
	p.cache.Set(key, result.Body, result.Status)
	return result
}

func marshalBody(v interface{}) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"success":false,"error":"internal error"}`)
	}
	return body
}
