package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dcabot/internal/cache"
)

// CachedTickers wraps a client so GetTicker is served from the shared store
// for TTL. Every other call goes straight to the venue.
type CachedTickers struct {
	Client
	Store  cache.Store
	TTL    time.Duration
	Prefix string
}

func NewCachedTickers(client Client, store cache.Store, ttl time.Duration, venue string, testnet bool) *CachedTickers {
	return &CachedTickers{
		Client: client,
		Store:  store,
		TTL:    ttl,
		Prefix: fmt.Sprintf("ticker:%s:%t:", strings.ToLower(venue), testnet),
	}
}

func (c *CachedTickers) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	if c.Store == nil || c.TTL <= 0 {
		return c.Client.GetTicker(ctx, pair)
	}
	key := c.Prefix + strings.ToUpper(strings.TrimSpace(pair))
	var cached Ticker
	if ok, err := cache.GetJSON(ctx, c.Store, key, &cached); err == nil && ok {
		return &cached, nil
	}
	t, err := c.Client.GetTicker(ctx, pair)
	if err != nil {
		return nil, err
	}
	_ = cache.SetJSON(ctx, c.Store, key, t, c.TTL)
	return t, nil
}

// Refresh forces a venue read and overwrites the cached ticker.
func (c *CachedTickers) Refresh(ctx context.Context, pair string) (*Ticker, error) {
	t, err := c.Client.GetTicker(ctx, pair)
	if err != nil {
		return nil, err
	}
	if c.Store != nil && c.TTL > 0 {
		_ = cache.SetJSON(ctx, c.Store, c.Prefix+strings.ToUpper(strings.TrimSpace(pair)), t, c.TTL)
	}
	return t, nil
}
