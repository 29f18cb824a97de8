// Package exchange exposes one trading interface over each supported venue's
// signed REST API.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderStatus string

const (
	StatusFilled          OrderStatus = "FILLED"
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the venue will not change the order any further.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

var (
	ErrMarketDataUnavailable = errors.New("market data unavailable")
	ErrOrderRejected         = errors.New("order rejected")
	ErrUnsupportedExchange   = errors.New("unsupported exchange")
	ErrInvalidPair           = errors.New("invalid trading pair")
	ErrMissingCredentials    = errors.New("exchange credentials required")
)

type Ticker struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume24h"`
	Change24h decimal.Decimal `json:"change24h"`
	Time      time.Time       `json:"time"`
}

type Balance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
	Total    decimal.Decimal `json:"total"`
}

type OrderRequest struct {
	Pair          string
	Side          Side
	QuoteAmount   decimal.Decimal
	ClientOrderID string
}

type OrderResult struct {
	OrderID        string          `json:"orderId"`
	ClientOrderID  string          `json:"clientOrderId,omitempty"`
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filledQuantity"`
	AvgFillPrice   decimal.Decimal `json:"avgFillPrice"`
	QuoteFilled    decimal.Decimal `json:"quoteFilled"`
	Fee            decimal.Decimal `json:"fee"`
	FeeAsset       string          `json:"feeAsset,omitempty"`
}

type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Client is implemented once per venue. Every call is a network request; no
// method mutates local state.
type Client interface {
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	CreateMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID, pair string) (*OrderResult, error)
	ValidateCredentials(ctx context.Context) (bool, error)
	GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error)
}

type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credentials) empty() bool {
	return strings.TrimSpace(c.APIKey) == "" || strings.TrimSpace(c.APISecret) == ""
}

const clientRefPrefix = "client:"

// ClientOrderRef turns a client order id into a reference GetOrderStatus
// accepts on every venue.
func ClientOrderRef(clientOrderID string) string {
	return clientRefPrefix + clientOrderID
}

func splitOrderRef(ref string) (id string, byClient bool) {
	if strings.HasPrefix(ref, clientRefPrefix) {
		return strings.TrimPrefix(ref, clientRefPrefix), true
	}
	return ref, false
}

// IsOrderNotFound reports whether the venue answered that the order does not
// exist (Binance -2013, Coinbase 404).
func IsOrderNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusNotFound || strings.Contains(apiErr.Body, "-2013")
}

// APIError carries the venue's HTTP status and raw body.
type APIError struct {
	Venue  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Venue, e.Status, e.Body)
}

// Unauthorized reports whether the venue refused the credentials.
func (e *APIError) Unauthorized() bool {
	return e != nil && (e.Status == 401 || e.Status == 403)
}

// SplitPair parses "BTC/USDT" (also "BTC-USDT" or "BTC_USDT") into base and quote.
func SplitPair(pair string) (string, string, error) {
	p := strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.Split(p, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrInvalidPair, pair)
}

// num decodes venue numbers that arrive either quoted or bare, or as null/"".
type num struct {
	decimal.Decimal
}

func (n *num) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		n.Decimal = decimal.Zero
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		val, err := decimal.NewFromString(str)
		if err != nil {
			return err
		}
		n.Decimal = val
		return nil
	}
	val, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid number: %s", s)
	}
	n.Decimal = val
	return nil
}

func parseDecimalRaw(raw json.RawMessage) (decimal.Decimal, error) {
	var n num
	if len(raw) == 0 {
		return decimal.Zero, nil
	}
	if err := n.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, err
	}
	return n.Decimal, nil
}

func wrapMarketData(err error) error {
	if err == nil || errors.Is(err, ErrMarketDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMarketDataUnavailable, err)
}

func wrapOrder(err error) error {
	if err == nil || errors.Is(err, ErrOrderRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOrderRejected, err)
}
