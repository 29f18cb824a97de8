package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const (
	BinanceBaseURL        = "https://api.binance.com"
	BinanceTestnetBaseURL = "https://testnet.binance.vision"
)

type BinanceClient struct {
	transport
	creds      Credentials
	recvWindow int64
	usedWeight atomic.Int64
}

func NewBinance(creds Credentials, opts Options) *BinanceClient {
	rw := opts.RecvWindowMs
	if rw <= 0 {
		rw = 5000
	}
	return &BinanceClient{
		transport:  newTransport("binance", BinanceBaseURL, opts),
		creds:      creds,
		recvWindow: rw,
	}
}

// BinanceSymbol turns "BTC/USDT" into "BTCUSDT".
func BinanceSymbol(pair string) (string, error) {
	base, quote, err := SplitPair(pair)
	if err != nil {
		return "", err
	}
	return base + quote, nil
}

// SignBinance returns the hex HMAC-SHA256 of the exact query string sent.
func SignBinance(query, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// UsedWeight is the last X-MBX-USED-WEIGHT-1M value the venue reported.
func (c *BinanceClient) UsedWeight() int64 {
	return c.usedWeight.Load()
}

func (c *BinanceClient) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	symbol, err := BinanceSymbol(pair)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/ticker/24hr", q, false)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	var resp struct {
		LastPrice          num   `json:"lastPrice"`
		Volume             num   `json:"volume"`
		PriceChangePercent num   `json:"priceChangePercent"`
		CloseTime          int64 `json:"closeTime"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, wrapMarketData(err)
	}
	if !resp.LastPrice.IsPositive() {
		return nil, wrapMarketData(fmt.Errorf("binance returned no price for %s", symbol))
	}
	ts := c.now().UTC()
	if resp.CloseTime > 0 {
		ts = time.UnixMilli(resp.CloseTime).UTC()
	}
	return &Ticker{
		Pair:      strings.ToUpper(pair),
		Price:     resp.LastPrice.Decimal,
		Volume24h: resp.Volume.Decimal,
		Change24h: resp.PriceChangePercent.Decimal,
		Time:      ts,
	}, nil
}

func (c *BinanceClient) GetBalances(ctx context.Context) ([]Balance, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   num    `json:"free"`
			Locked num    `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		total := b.Free.Add(b.Locked.Decimal)
		if total.IsZero() {
			continue
		}
		out = append(out, Balance{Currency: strings.ToUpper(b.Asset), Free: b.Free.Decimal, Locked: b.Locked.Decimal, Total: total})
	}
	return out, nil
}

type binanceFill struct {
	Price           num    `json:"price"`
	Qty             num    `json:"qty"`
	Commission      num    `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

type binanceOrder struct {
	OrderID             int64         `json:"orderId"`
	ClientOrderID       string        `json:"clientOrderId"`
	Status              string        `json:"status"`
	ExecutedQty         num           `json:"executedQty"`
	CummulativeQuoteQty num           `json:"cummulativeQuoteQty"`
	Fills               []binanceFill `json:"fills"`
}

func (c *BinanceClient) CreateMarketOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	symbol, err := BinanceSymbol(req.Pair)
	if err != nil {
		return nil, wrapOrder(err)
	}
	if !req.QuoteAmount.IsPositive() {
		return nil, wrapOrder(errors.New("quote amount must be positive"))
	}
	side := req.Side
	if side == "" {
		side = SideBuy
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", string(side))
	q.Set("type", "MARKET")
	q.Set("quoteOrderQty", req.QuoteAmount.String())
	q.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		q.Set("newClientOrderId", req.ClientOrderID)
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/v3/order", q, true)
	if err != nil {
		return nil, wrapOrder(err)
	}
	var resp binanceOrder
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, wrapOrder(err)
	}
	return resp.result(), nil
}

func (c *BinanceClient) GetOrderStatus(ctx context.Context, orderID, pair string) (*OrderResult, error) {
	symbol, err := BinanceSymbol(pair)
	if err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	if id, byClient := splitOrderRef(orderID); byClient {
		q.Set("origClientOrderId", id)
	} else if _, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		q.Set("orderId", orderID)
	} else {
		q.Set("origClientOrderId", orderID)
	}
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/order", q, true)
	if err != nil {
		return nil, err
	}
	var resp binanceOrder
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return resp.result(), nil
}

func (c *BinanceClient) ValidateCredentials(ctx context.Context) (bool, error) {
	if c.creds.empty() {
		return false, nil
	}
	_, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Unauthorized() || binanceAuthCode(apiErr.Body)) {
		return false, nil
	}
	return false, err
}

func (c *BinanceClient) GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error) {
	symbol, err := BinanceSymbol(pair)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if interval == "" {
		interval = "1h"
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/klines", q, false)
	if err != nil {
		return nil, wrapMarketData(err)
	}
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, wrapMarketData(err)
	}
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, wrapMarketData(err)
		}
		vals := make([]decimal.Decimal, 5)
		for i := range vals {
			v, err := parseDecimalRaw(row[i+1])
			if err != nil {
				return nil, wrapMarketData(err)
			}
			vals[i] = v
		}
		out = append(out, Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return out, nil
}

// do sends params in the query string for every method. Signed calls append
// timestamp and recvWindow, then the signature over the encoded query.
func (c *BinanceClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	headers := map[string]string{}
	query := params.Encode()
	if signed {
		if c.creds.empty() {
			return nil, ErrMissingCredentials
		}
		extra := "timestamp=" + strconv.FormatInt(c.now().UnixMilli(), 10) + "&recvWindow=" + strconv.FormatInt(c.recvWindow, 10)
		if query != "" {
			query += "&" + extra
		} else {
			query = extra
		}
		query += "&signature=" + SignBinance(query, c.creds.APISecret)
		headers["X-MBX-APIKEY"] = c.creds.APIKey
	}
	pathAndQuery := path
	if query != "" {
		pathAndQuery += "?" + query
	}
	raw, hdr, err := c.send(ctx, method, pathAndQuery, nil, headers)
	if hdr != nil {
		if w, perr := strconv.ParseInt(hdr.Get("X-MBX-USED-WEIGHT-1M"), 10, 64); perr == nil {
			c.usedWeight.Store(w)
		}
	}
	return raw, err
}

func (o binanceOrder) result() *OrderResult {
	out := &OrderResult{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Status:        binanceStatus(o.Status),
	}
	qty := decimal.Zero
	notional := decimal.Zero
	fee := decimal.Zero
	for _, f := range o.Fills {
		qty = qty.Add(f.Qty.Decimal)
		notional = notional.Add(f.Price.Mul(f.Qty.Decimal))
		fee = fee.Add(f.Commission.Decimal)
		if out.FeeAsset == "" {
			out.FeeAsset = f.CommissionAsset
		}
	}
	if qty.IsZero() {
		qty = o.ExecutedQty.Decimal
		notional = o.CummulativeQuoteQty.Decimal
	}
	out.FilledQuantity = qty
	out.Fee = fee
	out.QuoteFilled = o.CummulativeQuoteQty.Decimal
	if out.QuoteFilled.IsZero() {
		out.QuoteFilled = notional
	}
	if qty.IsPositive() {
		out.AvgFillPrice = notional.Div(qty)
	}
	return out
}

func binanceStatus(s string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FILLED":
		return StatusFilled
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH":
		return StatusCancelled
	case "REJECTED":
		return StatusRejected
	default:
		return StatusPending
	}
}

// -2014 bad key format, -2015 invalid key/IP/permissions, -1022 bad signature.
func binanceAuthCode(body string) bool {
	var e struct {
		Code int `json:"code"`
	}
	if json.Unmarshal([]byte(body), &e) != nil {
		return false
	}
	return e.Code == -2014 || e.Code == -2015 || e.Code == -1022
}
