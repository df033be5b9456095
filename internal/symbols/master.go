// Package symbols loads the Fyers NSE derivatives symbol master and
// resolves signal parameters to tradable tickers.
package symbols

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMasterURL is the public Fyers NSE derivatives master file.
const DefaultMasterURL = "https://public.fyers.in/sym_details/NSE_FO.csv"

// Expiry buckets accepted by Resolve.
const (
	ExpiryWeekly  = "WEEKLY"
	ExpiryMonthly = "MONTHLY"
)

// ErrNotFound indicates no contract matched the requested parameters.
var ErrNotFound = errors.New("symbol not found")

// The master file is headerless with 21 columns. Only a handful matter
// here; the indexes follow the published column order.
const (
	colLotSize    = 3
	colExpiry     = 8
	colTicker     = 9
	colUnderlying = 13
	colStrike     = 15
	colOptionType = 16

	minColumns = 17
)

// Contract is one tradable instrument from the master file.
type Contract struct {
	Ticker     string
	Underlying string
	Strike     decimal.Decimal
	OptionType string
	Expiry     time.Time
	LotSize    int
}

// Master caches the parsed symbol master in memory. Load replaces the
// whole index atomically, so lookups during a reload see a consistent
// snapshot.
type Master struct {
	mu        sync.RWMutex
	contracts []Contract
	byTicker  map[string]int

	client   *resty.Client
	url      string
	logger   zerolog.Logger
	clock    func() time.Time
	location *time.Location
}

// Option configures a Master.
type Option func(*Master)

// WithURL overrides the master file location.
func WithURL(url string) Option {
	return func(m *Master) {
		m.url = url
	}
}

// WithTimeout sets the download timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Master) {
		m.client.SetTimeout(timeout)
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Master) {
		m.clock = clock
	}
}

// NewMaster creates an empty Master. Call Load to populate it.
func NewMaster(logger zerolog.Logger, opts ...Option) *Master {
	master := &Master{
		byTicker: make(map[string]int),
		client:   resty.New().SetTimeout(30 * time.Second),
		url:      DefaultMasterURL,
		logger:   logger.With().Str("component", "symbol_master").Logger(),
		clock:    time.Now,
		location: marketLocation(),
	}

	for _, opt := range opts {
		opt(master)
	}

	return master
}

// marketLocation returns the NSE trading timezone.
func marketLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}

// Load downloads and parses the master file, replacing the in-memory
// index. On error the previous index is kept.
func (m *Master) Load(ctx context.Context) error {
	resp, err := m.client.R().SetContext(ctx).Get(m.url)
	if err != nil {
		return fmt.Errorf("download symbol master: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("download symbol master: HTTP %d", resp.StatusCode())
	}

	contracts, skipped := m.parse(resp.String())

	byTicker := make(map[string]int, len(contracts))
	for i := range contracts {
		byTicker[contracts[i].Ticker] = i
	}

	m.mu.Lock()
	m.contracts = contracts
	m.byTicker = byTicker
	m.mu.Unlock()

	m.logger.Info().
		Int("contracts", len(contracts)).
		Int("skipped", skipped).
		Msg("Symbol master loaded")

	return nil
}

// parse reads the headerless CSV, dropping rows that are too short or
// carry an unparseable expiry.
func (m *Master) parse(data string) ([]Contract, int) {
	reader := csv.NewReader(strings.NewReader(data))
	reader.FieldsPerRecord = -1

	var contracts []Contract
	skipped := 0

	for {
		record, err := reader.Read()
		if err != nil {
			break
		}
		if len(record) < minColumns {
			skipped++
			continue
		}

		epoch, err := strconv.ParseInt(strings.TrimSpace(record[colExpiry]), 10, 64)
		if err != nil {
			skipped++
			continue
		}

		strike, err := decimal.NewFromString(strings.TrimSpace(record[colStrike]))
		if err != nil {
			strike = decimal.Zero
		}

		// Lot size arrives as a float-formatted string in some dumps.
		// Zero marks an unusable value; LotSize applies the fallback.
		lotSize := 0
		if lot, err := strconv.ParseFloat(strings.TrimSpace(record[colLotSize]), 64); err == nil {
			lotSize = int(lot)
		}

		contracts = append(contracts, Contract{
			Ticker:     strings.TrimSpace(record[colTicker]),
			Underlying: strings.ToUpper(strings.TrimSpace(record[colUnderlying])),
			Strike:     strike,
			OptionType: strings.ToUpper(strings.TrimSpace(record[colOptionType])),
			Expiry:     time.Unix(epoch, 0).In(m.location),
			LotSize:    lotSize,
		})
	}

	return contracts, skipped
}

// Count reports the number of indexed contracts.
func (m *Master) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contracts)
}

// Resolve finds the ticker for an underlying, strike, option type and
// expiry bucket. Matching is case-insensitive, strikes are compared
// rounded to the nearest integer, and only expiries on or after today
// in the market timezone qualify. WEEKLY picks the nearest expiry of
// any contract; MONTHLY restricts candidates to tickers in the monthly
// naming scheme (UNDERLYING then two digits then a three-letter month)
// before picking the nearest.
func (m *Master) Resolve(underlying string, strike decimal.Decimal, optionType, expiryBucket string) (string, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	optionType = strings.ToUpper(strings.TrimSpace(optionType))
	expiryBucket = strings.ToUpper(strings.TrimSpace(expiryBucket))
	wantStrike := strike.Round(0)

	var monthlyPattern *regexp.Regexp
	switch expiryBucket {
	case ExpiryWeekly:
	case ExpiryMonthly:
		monthlyPattern = regexp.MustCompile(regexp.QuoteMeta(underlying) + `\d{2}[A-Z]{3}`)
	default:
		return "", fmt.Errorf("expiry bucket %q: %w", expiryBucket, ErrNotFound)
	}

	today := midnight(m.clock().In(m.location))

	m.mu.RLock()
	defer m.mu.RUnlock()

	best := -1
	for i := range m.contracts {
		c := &m.contracts[i]
		if c.Underlying != underlying || c.OptionType != optionType {
			continue
		}
		if !c.Strike.Round(0).Equal(wantStrike) {
			continue
		}
		if midnight(c.Expiry).Before(today) {
			continue
		}
		if monthlyPattern != nil && !monthlyPattern.MatchString(c.Ticker) {
			continue
		}
		if best == -1 || c.Expiry.Before(m.contracts[best].Expiry) {
			best = i
		}
	}

	if best == -1 {
		return "", fmt.Errorf("%s %s %s %s: %w",
			underlying, wantStrike.String(), optionType, expiryBucket, ErrNotFound)
	}

	return m.contracts[best].Ticker, nil
}

// LotSize returns the lot size for a ticker. Unknown tickers and
// unusable master values fall back to 1 with a warning.
func (m *Master) LotSize(ticker string) int {
	m.mu.RLock()
	idx, ok := m.byTicker[ticker]
	var lotSize int
	if ok {
		lotSize = m.contracts[idx].LotSize
	}
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn().Str("symbol", ticker).Msg("No lot size in symbol master, defaulting to 1")
		return 1
	}
	if lotSize <= 0 {
		m.logger.Warn().Str("symbol", ticker).Msg("Invalid lot size in symbol master, defaulting to 1")
		return 1
	}
	return lotSize
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
