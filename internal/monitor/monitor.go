// Package monitor watches open trades and squares them off when their
// stop loss or take profit level trades, or when the session nears
// close. It scans the journal on an interval and runs one watcher
// goroutine per open trade.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"relay/internal/fyers"
	"relay/internal/journal"
	"relay/internal/models"
	"relay/internal/notify"
)

const (
	// DefaultScanInterval is how often the journal is scanned for
	// newly opened trades
	DefaultScanInterval = 30 * time.Second
	// DefaultTickInterval is how often each watcher re-checks the price
	DefaultTickInterval = time.Second
)

// Exit reasons recorded on closed trades
const (
	ReasonStopLoss   = "SL"
	ReasonTakeProfit = "TP"
	ReasonTimely     = "TIMELY EXIT"
)

// Open positions square off at 15:25 IST, ahead of the 15:30 close.
const (
	exitHour   = 15
	exitMinute = 25
)

// ClientSource yields an authenticated provider client. *token.Manager
// satisfies it.
type ClientSource interface {
	Client(ctx context.Context) (*fyers.Client, error)
}

// TradeStore lists and closes journal trades. *journal.Journal
// satisfies it.
type TradeStore interface {
	OpenTrades(ctx context.Context) ([]journal.Trade, error)
	Close(ctx context.Context, tradeID string, exitPrice decimal.Decimal, reason string) error
}

// Recorder observes monitor exits for metrics.
type Recorder interface {
	RecordMonitorExit(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordMonitorExit(string) {}

// Monitor drives the watch loop.
type Monitor struct {
	source   ClientSource
	trades   TradeStore
	notifier notify.Notifier
	recorder Recorder
	logger   zerolog.Logger

	scanInterval time.Duration
	tickInterval time.Duration
	clock        func() time.Time
	location     *time.Location

	mu      sync.Mutex
	watched map[string]struct{}
	wg      sync.WaitGroup
}

// Option configures the monitor.
type Option func(*Monitor)

// WithScanInterval overrides the journal scan interval.
func WithScanInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		m.scanInterval = interval
	}
}

// WithTickInterval overrides the per-trade price check interval.
func WithTickInterval(interval time.Duration) Option {
	return func(m *Monitor) {
		m.tickInterval = interval
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		m.clock = clock
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(m *Monitor) {
		m.recorder = recorder
	}
}

// NewMonitor creates a monitor over the given client source and journal.
func NewMonitor(source ClientSource, trades TradeStore, notifier notify.Notifier, logger zerolog.Logger, opts ...Option) *Monitor {
	monitor := &Monitor{
		source:       source,
		trades:       trades,
		notifier:     notifier,
		recorder:     nopRecorder{},
		logger:       logger.With().Str("component", "monitor").Logger(),
		scanInterval: DefaultScanInterval,
		tickInterval: DefaultTickInterval,
		clock:        time.Now,
		location:     marketLocation(),
		watched:      make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(monitor)
	}

	if monitor.notifier == nil {
		monitor.notifier = notify.Nop{}
	}

	return monitor
}

func marketLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// Run scans the journal until ctx is cancelled, then waits for the
// watchers to drain.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("scan_interval", m.scanInterval).
		Dur("tick_interval", m.tickInterval).
		Msg("trade monitor started")

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	m.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.logger.Info().Msg("trade monitor stopped")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

// Watching returns the number of trades currently under watch.
func (m *Monitor) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched)
}

func (m *Monitor) scan(ctx context.Context) {
	trades, err := m.trades.OpenTrades(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to list open trades")
		return
	}

	for _, trade := range trades {
		if !trade.EntryPrice.IsPositive() || !trade.StopLoss.IsPositive() || !trade.TakeProfit.IsPositive() {
			m.logger.Debug().Str("trade_id", trade.TradeID).Msg("skipping trade without full risk parameters")
			continue
		}
		if !m.adopt(trade.TradeID) {
			continue
		}
		m.wg.Add(1)
		go m.watch(ctx, trade)
	}
}

// adopt marks a trade as watched. It returns false when a watcher
// already owns the trade.
func (m *Monitor) adopt(tradeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[tradeID]; ok {
		return false
	}
	m.watched[tradeID] = struct{}{}
	return true
}

func (m *Monitor) forget(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, tradeID)
}

func (m *Monitor) watch(ctx context.Context, trade journal.Trade) {
	defer m.wg.Done()
	defer m.forget(trade.TradeID)

	m.logger.Info().
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("action", trade.Action).
		Msg("watching trade")

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reason, price, done := m.check(ctx, trade)
			if !done {
				continue
			}
			m.exit(ctx, trade, reason, price)
			return
		}
	}
}

// check decides whether the trade should exit on this tick. A failed
// price lookup skips the tick; the timely exit fires regardless, with a
// best-effort exit price.
func (m *Monitor) check(ctx context.Context, trade journal.Trade) (string, decimal.Decimal, bool) {
	if m.pastCutoff() {
		price, _ := m.lastPrice(ctx, trade.Symbol)
		return ReasonTimely, price, true
	}

	price, err := m.lastPrice(ctx, trade.Symbol)
	if err != nil {
		m.logger.Debug().Err(err).Str("symbol", trade.Symbol).Msg("price check skipped")
		return "", decimal.Zero, false
	}

	entry, sl, tp := trade.EntryPrice, trade.StopLoss, trade.TakeProfit
	switch trade.Action {
	case models.ActionBuy:
		if price.LessThanOrEqual(entry.Sub(sl)) {
			return ReasonStopLoss, price, true
		}
		if price.GreaterThanOrEqual(entry.Add(tp)) {
			return ReasonTakeProfit, price, true
		}
	case models.ActionSell:
		if price.GreaterThanOrEqual(entry.Add(sl)) {
			return ReasonStopLoss, price, true
		}
		if price.LessThanOrEqual(entry.Sub(tp)) {
			return ReasonTakeProfit, price, true
		}
	}

	return "", decimal.Zero, false
}

func (m *Monitor) lastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	client, err := m.source.Client(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return client.GetLTP(ctx, symbol)
}

func (m *Monitor) pastCutoff() bool {
	now := m.clock().In(m.location)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), exitHour, exitMinute, 0, 0, m.location)
	return !now.Before(cutoff)
}

// exit closes the trade in the journal and raises the alert. A failed
// close leaves the trade open so the next scan picks it up again.
func (m *Monitor) exit(ctx context.Context, trade journal.Trade, reason string, price decimal.Decimal) {
	if err := m.trades.Close(ctx, trade.TradeID, price, reason); err != nil {
		m.logger.Error().Err(err).Str("trade_id", trade.TradeID).Str("reason", reason).Msg("failed to close trade")
		return
	}

	m.recorder.RecordMonitorExit(reason)
	m.notifier.Notify(ctx, "trade_exit",
		fmt.Sprintf("%s %s closed: %s at %s", trade.Symbol, trade.Action, reason, price))
	m.logger.Info().
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("reason", reason).
		Str("exit_price", price.String()).
		Msg("trade exited")
}
