package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CoinbaseBaseURL        = "https://api.pro.coinbase.com"
	CoinbaseSandboxBaseURL = "https://api-public.sandbox.pro.coinbase.com"
)

type CoinbaseClient struct {
	transport
	creds Credentials
}

func NewCoinbase(creds Credentials, opts Options) *CoinbaseClient {
	return &CoinbaseClient{
		transport: newTransport("coinbase", CoinbaseBaseURL, opts),
		creds:     creds,
	}
}

// CoinbaseProduct turns "BTC/USD" into "BTC-USD".
func CoinbaseProduct(pair string) (string, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return "", err
	}
	return base + "-" + quote, nil
}

// SignCoinbase returns base64(HMAC-SHA256(base64decode(secret), ts+METHOD+path+body)).
func SignCoinbase(secret, timestamp, method, requestPath, body string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("coinbase secret is not base64: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (c *CoinbaseClient) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	product, err := CoinbaseProduct(pair)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	raw, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(product)+"/ticker", nil, false)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	var tick struct {
		Price  num       `json:"price"`
		Volume num       `json:"volume"`
		Time   time.Time `json:"time"`
	}
	if err := json.Unmarshal(raw, &tick); err != nil {
		return nil, wrapMarketData(err)
	}
	if !tick.Price.IsPositive() {
		return nil, wrapMarketData(fmt.Errorf("coinbase returned no price for %s", product))
	}
	out := &Ticker{
		Pair:      strings.ToUpper(pair),
		Price:     tick.Price.Decimal,
		Volume24h: tick.Volume.Decimal,
		Time:      tick.Time.UTC(),
	}
	if out.Time.IsZero() {
		out.Time = c.now().UTC()
	}
	// Stats give the 24h open; a failure here only loses the change figure.
	if raw, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(product)+"/stats", nil, false); err == nil {
		var stats struct {
			Open   num `json:"open"`
			Last   num `json:"last"`
			Volume num `json:"volume"`
		}
		if json.Unmarshal(raw, &stats) == nil {
			if stats.Open.IsPositive() {
				last := stats.Last.Decimal
				if last.IsZero() {
					last = out.Price
				}
				out.Change24h = last.Sub(stats.Open.Decimal).Div(stats.Open.Decimal).Mul(decimal.NewFromInt(100))
			}
			if stats.Volume.IsPositive() {
				out.Volume24h = stats.Volume.Decimal
			}
		}
	}
	return out, nil
}

func (c *CoinbaseClient) GetBalances(ctx context.Context) ([]Balance, error) {
	raw, err := c.do(ctx, http.MethodGet, "/accounts", nil, true)
	if err != nil {
		return nil, err
	}
	var accounts []struct {
		Currency  string `json:"currency"`
		Balance   num    `json:"balance"`
		Available num    `json:"available"`
		Hold      num    `json:"hold"`
	}
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(accounts))
	for _, a := range accounts {
		if a.Balance.IsZero() && a.Available.IsZero() {
			continue
		}
		out = append(out, Balance{
			Currency: strings.ToUpper(a.Currency),
			Free:     a.Available.Decimal,
			Locked:   a.Hold.Decimal,
			Total:    a.Balance.Decimal,
		})
	}
	return out, nil
}

type coinbaseOrder struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	ProductID     string `json:"product_id"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	FilledSize    num    `json:"filled_size"`
	ExecutedValue num    `json:"executed_value"`
	FillFees      num    `json:"fill_fees"`
}

func (c *CoinbaseClient) CreateMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	product, err := CoinbaseProduct(req.Pair)
	if err != nil {
		return nil, wrapOrder(err)
	}
	if !req.QuoteAmount.IsPositive() {
		return nil, wrapOrder(errors.New("quote amount must be positive"))
	}
	side := strings.ToLower(string(req.Side))
	if side == "" {
		side = "buy"
	}
	payload := map[string]string{
		"product_id": product,
		"side":       side,
		"type":       "market",
		"funds":      req.QuoteAmount.String(),
	}
	if req.ClientOrderID != "" {
		payload["client_oid"] = req.ClientOrderID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, wrapOrder(err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/orders", body, true)
	if err != nil {
		return nil, wrapOrder(err)
	}
	var order coinbaseOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, wrapOrder(err)
	}
	if order.ID == "" {
		return nil, wrapOrder(fmt.Errorf("order id missing in response"))
	}
	return order.result(quoteOf(req.Pair)), nil
}

func (c *CoinbaseClient) GetOrderStatus(ctx context.Context, orderID, pair string) (*OrderResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	path := "/orders/" + url.PathEscape(orderID)
	if id, byClient := splitOrderRef(orderID); byClient {
		path = "/orders/client:" + url.PathEscape(id)
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	var order coinbaseOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return order.result(quoteOf(pair)), nil
}

func (c *CoinbaseClient) ValidateCredentials(ctx context.Context) (bool, error) {
	if c.creds.empty() {
		return false, nil
	}
	_, err := c.do(ctx, http.MethodGet, "/accounts", nil, true)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Unauthorized() || apiErr.Status == http.StatusBadRequest) {
		return false, nil
	}
	return false, err
}

var coinbaseGranularity = map[string]int{
	"1m": 60, "5m": 300, "15m": 900, "1h": 3600, "6h": 21600, "1d": 86400,
}

func (c *CoinbaseClient) GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error) {
	product, err := CoinbaseProduct(pair)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	if interval == "" {
		interval = "1h"
	}
	gran, ok := coinbaseGranularity[interval]
	if !ok {
		return nil, wrapMarketData(fmt.Errorf("unsupported candle interval %q", interval))
	}
	raw, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(product)+"/candles?granularity="+strconv.Itoa(gran), nil, false)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	// [time, low, high, open, close, volume], newest first.
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, wrapMarketData(err)
	}
	out := make([]Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		var sec int64
		if err := json.Unmarshal(row[0], &sec); err != nil {
			return nil, wrapMarketData(err)
		}
		vals := make([]decimal.Decimal, 5)
		for j := range vals {
			v, err := parseDecimalRaw(row[j+1])
			if err != nil {
				return nil, wrapMarketData(err)
			}
			vals[j] = v
		}
		out = append(out, Candle{
			OpenTime: time.Unix(sec, 0).UTC(),
			Low:      vals[0],
			High:     vals[1],
			Open:     vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (c *CoinbaseClient) do(ctx context.Context, method, pathAndQuery string, body []byte, signed bool) ([]byte, error) {
	headers := map[string]string{}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}
	if signed {
		if c.creds.empty() {
			return nil, ErrMissingCredentials
		}
		ts := strconv.FormatInt(c.now().Unix(), 10)
		sig, err := SignCoinbase(c.creds.APISecret, ts, method, pathAndQuery, string(body))
		if err != nil {
			return nil, err
		}
		headers["CB-ACCESS-KEY"] = c.creds.APIKey
		headers["CB-ACCESS-SIGN"] = sig
		headers["CB-ACCESS-TIMESTAMP"] = ts
		headers["CB-ACCESS-PASSPHRASE"] = c.creds.Passphrase
	}
	raw, _, err := c.send(ctx, method, pathAndQuery, body, headers)
	return raw, err
}

func (o coinbaseOrder) result(quote string) *OrderResult {
	out := &OrderResult{
		OrderID:        o.ID,
		ClientOrderID:  o.ClientOID,
		Status:         coinbaseStatus(o.Status, o.DoneReason, o.FilledSize.Decimal),
		FilledQuantity: o.FilledSize.Decimal,
		QuoteFilled:    o.ExecutedValue.Decimal,
		Fee:            o.FillFees.Decimal,
		FeeAsset:       quote,
	}
	if o.FilledSize.IsPositive() {
		out.AvgFillPrice = o.ExecutedValue.Div(o.FilledSize.Decimal)
	}
	return out
}

func coinbaseStatus(status, doneReason string, filled decimal.Decimal) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "done", "settled":
		if filled.IsPositive() {
			return StatusFilled
		}
		if strings.EqualFold(doneReason, "filled") {
			return StatusFilled
		}
		return StatusCancelled
	case "rejected":
		return StatusRejected
	default:
		if filled.IsPositive() {
			return StatusPartiallyFilled
		}
		return StatusPending
	}
}

func quoteOf(pair string) string {
	_, quote, err := SplitPair(pair)
	if err != nil {
		return ""
	}
	return quote
}
