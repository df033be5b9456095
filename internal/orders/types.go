package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"relay/internal/fyers"
	"relay/internal/journal"
)

// Risk parameters are derived from the last traded price when one is
// available; otherwise caller values apply, then these absolute-point
// fallbacks.
var (
	stopLossFraction   = decimal.NewFromFloat(0.05)
	takeProfitFraction = decimal.NewFromFloat(0.1)
	defaultStopLoss    = decimal.NewFromInt(10)
	defaultTakeProfit  = decimal.NewFromInt(20)
)

// ClientSource yields the authenticated provider client. The pipeline
// resolves it on every provider call so a token refresh mid-flight is
// picked up. *token.Manager satisfies it.
type ClientSource interface {
	Client(ctx context.Context) (*fyers.Client, error)
}

// SymbolResolver maps signal parameters to tradable tickers.
// *symbols.Master satisfies it.
type SymbolResolver interface {
	Resolve(underlying string, strike decimal.Decimal, optionType, expiryBucket string) (string, error)
	LotSize(ticker string) int
}

// TradeJournal records executions. *journal.Journal satisfies it.
type TradeJournal interface {
	Append(ctx context.Context, trade *journal.Trade) (string, error)
}

// Recorder observes pipeline outcomes for metrics.
type Recorder interface {
	RecordOrderPlaced(symbol string)
	RecordOrderFailed(symbol string)
	RecordDuplicate()
}

type nopRecorder struct{}

func (nopRecorder) RecordOrderPlaced(string) {}
func (nopRecorder) RecordOrderFailed(string) {}
func (nopRecorder) RecordDuplicate()         {}

// Result is the terminal outcome of a signal. Body is written to the
// caller verbatim and, for replayable outcomes, cached byte for byte.
type Result struct {
	Status   int
	Body     []byte
	Replayed bool
	TradeID  string
}

// riskParams picks stop loss and take profit in absolute points. A
// usable price wins; otherwise positive caller values, then defaults.
func riskParams(ltp, callerSL, callerTP decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if ltp.IsPositive() {
		return ltp.Mul(stopLossFraction).Round(0), ltp.Mul(takeProfitFraction).Round(0)
	}

	stopLoss := defaultStopLoss
	if callerSL.IsPositive() {
		stopLoss = callerSL
	}
	takeProfit := defaultTakeProfit
	if callerTP.IsPositive() {
		takeProfit = callerTP
	}
	return stopLoss, takeProfit
}
