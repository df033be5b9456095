package fyers

import (
	"github.com/shopspring/decimal"
)

// API paths under the Fyers v3 base URL
const (
	pathGenerateAuthCode = "/api/v3/generate-authcode"
	pathValidateAuthCode = "/api/v3/validate-authcode"
	pathValidateRefresh  = "/api/v3/validate-refresh-token"
	pathOrders           = "/api/v3/orders/sync"
	pathPositions        = "/api/v3/positions"
	pathQuotes           = "/data/quotes"
)

// StatusOK is the success marker in every Fyers response envelope
const StatusOK = "ok"

// Order side values
const (
	SideBuy  = 1
	SideSell = -1
)

// Order type values
const (
	OrderTypeLimit  = 1
	OrderTypeMarket = 2
	OrderTypeStop   = 3
)

// ValidityDay keeps an order live for the trading day
const ValidityDay = "DAY"

// Product types accepted by the order API
const (
	ProductIntraday = "INTRADAY"
	ProductCNC      = "CNC"
	ProductDelivery = "DELIVERY"
	ProductBracket  = "BO"
	ProductCover    = "CO"
)

var validProductTypes = map[string]bool{
	ProductIntraday: true,
	ProductCNC:      true,
	ProductDelivery: true,
	ProductBracket:  true,
	ProductCover:    true,
}

// IsValidProductType reports whether the order API accepts the product type
func IsValidProductType(productType string) bool {
	return validProductTypes[productType]
}

// TokenResponse represents the response from the auth-code exchange and
// refresh endpoints
type TokenResponse struct {
	S            string `json:"s"`
	Code         int    `json:"code"`
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// OrderRequest represents a request to place an order. Price fields are
// plain floats: the order API expects JSON numbers, while decimal's
// default marshaling quotes them.
type OrderRequest struct {
	Symbol       string  `json:"symbol"`
	Qty          int     `json:"qty"`
	Type         int     `json:"type"` // 1 limit, 2 market, 3 stop
	Side         int     `json:"side"` // 1 buy, -1 sell
	ProductType  string  `json:"productType"`
	LimitPrice   float64 `json:"limitPrice"`
	StopPrice    float64 `json:"stopPrice"`
	Validity     string  `json:"validity"`
	DisclosedQty int     `json:"disclosedQty"`
	OfflineOrder bool    `json:"offlineOrder"`
	StopLoss     float64 `json:"stopLoss"`
	TakeProfit   float64 `json:"takeProfit"`
}

// OrderResponse represents the response from placing an order
type OrderResponse struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// QuoteResponse represents the envelope of the quotes endpoint
type QuoteResponse struct {
	S       string      `json:"s"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	D       []QuoteNode `json:"d"`
}

// QuoteNode wraps one symbol's quote values
type QuoteNode struct {
	N string      `json:"n"`
	S string      `json:"s"`
	V QuoteValues `json:"v"`
}

// QuoteValues carries the market data fields for a symbol
type QuoteValues struct {
	LP             decimal.Decimal `json:"lp"` // last traded price
	Ask            decimal.Decimal `json:"ask"`
	Bid            decimal.Decimal `json:"bid"`
	Ch             decimal.Decimal `json:"ch"`
	Chp            decimal.Decimal `json:"chp"`
	OpenPrice      decimal.Decimal `json:"open_price"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LowPrice       decimal.Decimal `json:"low_price"`
	PrevClosePrice decimal.Decimal `json:"prev_close_price"`
	Volume         int64           `json:"volume"`
	ShortName      string          `json:"short_name"`
	Exchange       string          `json:"exchange"`
	Description    string          `json:"description"`
	TT             int64           `json:"tt"`
}

// PositionsResponse represents the positions endpoint envelope
type PositionsResponse struct {
	S            string     `json:"s"`
	Code         int        `json:"code"`
	Message      string     `json:"message"`
	NetPositions []Position `json:"netPositions"`
}

// Position represents one net position
type Position struct {
	Symbol      string          `json:"symbol"`
	NetQty      decimal.Decimal `json:"netQty"`
	Side        int             `json:"side"` // 1 long, -1 short, 0 closed
	ProductType string          `json:"productType"`
	BuyAvg      decimal.Decimal `json:"buyAvg"`
	SellAvg     decimal.Decimal `json:"sellAvg"`
	NetAvg      decimal.Decimal `json:"netAvg"`
	PL          decimal.Decimal `json:"pl"`
	RealizedPL  decimal.Decimal `json:"realized_profit"`
	LTP         decimal.Decimal `json:"ltp"`
}

// IsShort reports whether the position is net short
func (p *Position) IsShort() bool {
	return p.NetQty.IsNegative() || p.Side == SideSell
}
