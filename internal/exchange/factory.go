package exchange

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	VenueBinance  = "binance"
	VenueCoinbase = "coinbase"
)

type VenueConfig struct {
	BaseURL        string
	TestnetBaseURL string
	RequestsPerSec float64
	Burst          int
	RecvWindowMs   int64
}

// Factory builds venue clients. Clients for the same venue and network share
// one token bucket since the venues limit by origin IP.
type Factory struct {
	Binance    VenueConfig
	Coinbase   VenueConfig
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NormalizeType accepts "binance", "BINANCE_TESTNET", "coinbase-sandbox" and
// the like, returning the venue and whether the suffix asked for testnet.
func NormalizeType(raw string) (string, bool, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	testnet := false
	for _, suffix := range []string{"_testnet", "-testnet", "_sandbox", "-sandbox"} {
		if strings.HasSuffix(t, suffix) {
			t = strings.TrimSuffix(t, suffix)
			testnet = true
			break
		}
	}
	switch t {
	case VenueBinance, VenueCoinbase:
		return t, testnet, nil
	}
	return "", false, fmt.Errorf("%w: %q", ErrUnsupportedExchange, raw)
}

func (f *Factory) New(exchangeType string, testnet bool, creds Credentials) (Client, error) {
	venue, suffixTestnet, err := NormalizeType(exchangeType)
	if err != nil {
		return nil, err
	}
	testnet = testnet || suffixTestnet
	switch venue {
	case VenueBinance:
		return NewBinance(creds, f.options(venue, f.Binance, testnet, BinanceBaseURL, BinanceTestnetBaseURL)), nil
	case VenueCoinbase:
		return NewCoinbase(creds, f.options(venue, f.Coinbase, testnet, CoinbaseBaseURL, CoinbaseSandboxBaseURL)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedExchange, exchangeType)
}

// NewPublic returns a credential-less client for market data.
func (f *Factory) NewPublic(exchangeType string, testnet bool) (Client, error) {
	return f.New(exchangeType, testnet, Credentials{})
}

func (f *Factory) options(venue string, cfg VenueConfig, testnet bool, liveURL, testURL string) Options {
	base := cfg.BaseURL
	if base == "" {
		base = liveURL
	}
	if testnet {
		base = cfg.TestnetBaseURL
		if base == "" {
			base = testURL
		}
	}
	hc := f.HTTPClient
	if hc == nil {
		timeout := f.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return Options{
		BaseURL:      base,
		HTTPClient:   hc,
		Limiter:      f.limiter(fmt.Sprintf("%s:%t", venue, testnet), cfg),
		RecvWindowMs: cfg.RecvWindowMs,
		Now:          f.Now,
	}
}

func (f *Factory) limiter(key string, cfg VenueConfig) *rate.Limiter {
	if cfg.RequestsPerSec <= 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limiters == nil {
		f.limiters = map[string]*rate.Limiter{}
	}
	if l, ok := f.limiters[key]; ok {
		return l
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	f.limiters[key] = l
	return l
}
