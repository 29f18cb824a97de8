package service

import (
	"context"

	"go.uber.org/zap"

	"dcabot/internal/exchange"
	"dcabot/internal/realtime"
	"dcabot/internal/repository"
)

type PublicClients interface {
	Public(exchangeType string, testnet bool) (exchange.Client, error)
}

// PriceRefreshService re-reads tickers for every pair an active strategy
// trades, refreshes the shared ticker cache, and pushes price_update to the
// owners.
type PriceRefreshService struct {
	Repo     repository.StrategyRepository
	Clients  PublicClients
	Realtime realtime.Broadcaster
	Logger   *zap.Logger
	Flags    *SystemSettingsService
}

type venuePair struct {
	exchangeType string
	testnet      bool
	pair         string
}

// RunOnce returns how many tickers were refreshed.
func (s *PriceRefreshService) RunOnce(ctx context.Context) (int, error) {
	if s == nil || s.Repo == nil || s.Clients == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePriceRefresh, true) {
		return 0, nil
	}
	pairs, err := s.Repo.ListActivePairs(ctx)
	if err != nil {
		return 0, err
	}
	owners := map[venuePair][]uint64{}
	order := []venuePair{}
	for _, p := range pairs {
		key := venuePair{exchangeType: p.ExchangeType, testnet: p.Testnet, pair: p.Pair}
		if _, ok := owners[key]; !ok {
			order = append(order, key)
		}
		owners[key] = append(owners[key], p.UserID)
	}

	refreshed := 0
	for _, key := range order {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		client, err := s.Clients.Public(key.exchangeType, key.testnet)
		if err != nil {
			s.warn("public client failed", key, err)
			continue
		}
		var ticker *exchange.Ticker
		if cached, ok := client.(*exchange.CachedTickers); ok {
			ticker, err = cached.Refresh(ctx, key.pair)
		} else {
			ticker, err = client.GetTicker(ctx, key.pair)
		}
		if err != nil {
			s.warn("ticker refresh failed", key, err)
			continue
		}
		refreshed++
		if s.Realtime == nil {
			continue
		}
		for _, userID := range owners[key] {
			s.Realtime.SendToUser(userID, realtime.TypePriceUpdate, map[string]any{
				"exchange":  key.exchangeType,
				"testnet":   key.testnet,
				"pair":      key.pair,
				"price":     ticker.Price,
				"volume24h": ticker.Volume24h,
			})
		}
	}
	return refreshed, nil
}

func (s *PriceRefreshService) warn(msg string, key venuePair, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.Warn(msg, zap.String("exchange", key.exchangeType), zap.String("pair", key.pair), zap.Error(err))
}
