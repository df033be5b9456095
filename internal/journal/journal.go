// Package journal persists executed trades in SQLite so the position
// monitor and operators can see what is open and how it closed.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Trade statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// ErrNotFound indicates no trade matched the given trade ID.
var ErrNotFound = errors.New("trade not found")

// Trade is one journal row. TradeID is the stable external identifier;
// the numeric primary key stays internal to the database.
type Trade struct {
	ID         uint            `gorm:"primaryKey" json:"-"`
	TradeID    string          `gorm:"uniqueIndex;size:36" json:"trade_id"`
	EntryTime  time.Time       `json:"entry_time"`
	Symbol     string          `gorm:"index" json:"symbol"`
	Action     string          `json:"action"`
	Qty        int             `json:"qty"`
	EntryPrice decimal.Decimal `gorm:"type:decimal(18,4)" json:"entry_price"`
	StopLoss   decimal.Decimal `gorm:"type:decimal(18,4)" json:"stop_loss"`
	TakeProfit decimal.Decimal `gorm:"type:decimal(18,4)" json:"take_profit"`
	Status     string          `gorm:"index" json:"status"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(18,4)" json:"exit_price"`
	ExitTime   *time.Time      `json:"exit_time,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Journal wraps the trade table.
type Journal struct {
	db     *gorm.DB
	logger zerolog.Logger
	clock  func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(j *Journal) {
		j.clock = clock
	}
}

// Open opens (or creates) the SQLite journal at path and migrates the
// schema.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := db.AutoMigrate(&Trade{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	journal := &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
		clock:  time.Now,
	}

	for _, opt := range opts {
		opt(journal)
	}

	return journal, nil
}

// Append records a new trade. A missing TradeID gets a fresh UUID and a
// zero EntryTime is stamped with the current time; status defaults to
// OPEN. Returns the trade ID.
func (j *Journal) Append(ctx context.Context, trade *Trade) (string, error) {
	if trade.TradeID == "" {
		trade.TradeID = uuid.NewString()
	}
	if trade.EntryTime.IsZero() {
		trade.EntryTime = j.clock()
	}
	if trade.Status == "" {
		trade.Status = StatusOpen
	}

	if err := j.db.WithContext(ctx).Create(trade).Error; err != nil {
		return "", fmt.Errorf("append trade %s: %w", trade.TradeID, err)
	}

	j.logger.Info().
		Str("trade_id", trade.TradeID).
		Str("symbol", trade.Symbol).
		Str("action", trade.Action).
		Int("qty", trade.Qty).
		Msg("Trade journaled")

	return trade.TradeID, nil
}

// OpenTrades lists trades still marked OPEN in insertion order.
func (j *Journal) OpenTrades(ctx context.Context) ([]Trade, error) {
	var trades []Trade
	err := j.db.WithContext(ctx).
		Where("status = ?", StatusOpen).
		Order("id").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	return trades, nil
}

// Close marks a trade CLOSED with its exit price, time and reason.
func (j *Journal) Close(ctx context.Context, tradeID string, exitPrice decimal.Decimal, reason string) error {
	now := j.clock()
	result := j.db.WithContext(ctx).
		Model(&Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, StatusOpen).
		Updates(map[string]interface{}{
			"status":     StatusClosed,
			"exit_price": exitPrice,
			"exit_time":  &now,
			"reason":     reason,
		})
	if result.Error != nil {
		return fmt.Errorf("close trade %s: %w", tradeID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("close trade %s: %w", tradeID, ErrNotFound)
	}

	j.logger.Info().
		Str("trade_id", tradeID).
		Str("exit_price", exitPrice.String()).
		Str("reason", reason).
		Msg("Trade closed")

	return nil
}
