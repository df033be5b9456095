package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Expiry buckets a signal may name.
const (
	ExpiryWeekly  = "WEEKLY"
	ExpiryMonthly = "MONTHLY"
)

// FlexDecimal tolerates the ways alerting platforms serialize numbers:
// bare JSON numbers, quoted numbers, empty strings and null all parse.
type FlexDecimal struct {
	decimal.Decimal
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *FlexDecimal) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == `""` {
		d.Decimal = decimal.Zero
		return nil
	}
	return d.Decimal.UnmarshalJSON(data)
}

// SignalRequest is the order signal posted to the webhook. Numeric
// fields accept both JSON numbers and quoted strings; token carries the
// shared webhook secret and is checked before anything else.
type SignalRequest struct {
	Token          string      `json:"token"`
	Symbol         string      `json:"symbol"`
	StrikePrice    FlexDecimal `json:"strikeprice"`
	OptionType     string      `json:"optionType"`
	Expiry         string      `json:"expiry"`
	Action         string      `json:"action"`
	Qty            FlexDecimal `json:"qty"`
	StopLoss       FlexDecimal `json:"sl"`
	TakeProfit     FlexDecimal `json:"tp"`
	ProductType    string      `json:"productType"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Normalize trims and uppercases the classification fields.
func (r *SignalRequest) Normalize() {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.OptionType = strings.ToUpper(strings.TrimSpace(r.OptionType))
	r.Expiry = strings.ToUpper(strings.TrimSpace(r.Expiry))
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))
	r.ProductType = strings.TrimSpace(r.ProductType)
}

// Validate checks the required signal fields. Call Normalize first.
func (r *SignalRequest) Validate() error {
	var missing []string
	if r.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if r.StrikePrice.IsZero() {
		missing = append(missing, "strikeprice")
	}
	if r.OptionType == "" {
		missing = append(missing, "optionType")
	}
	if r.Expiry == "" {
		missing = append(missing, "expiry")
	}
	if r.Action == "" {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if r.Action != ActionBuy && r.Action != ActionSell {
		return fmt.Errorf("invalid action: %s", r.Action)
	}
	if r.Expiry != ExpiryWeekly && r.Expiry != ExpiryMonthly {
		return fmt.Errorf("invalid expiry: %s", r.Expiry)
	}

	return nil
}
