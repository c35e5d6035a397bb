package service

import (
	"context"
	"fmt"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// MarketService exposes the collected market snapshot and prices to the HTTP
// layer.
type MarketService struct {
	contexts domain.MarketContextCache
	prices   domain.PriceCache
	maxAge   time.Duration
}

// NewMarketService creates a MarketService. maxAge of 0 disables staleness
// checking.
func NewMarketService(contexts domain.MarketContextCache, prices domain.PriceCache, maxAge time.Duration) *MarketService {
	return &MarketService{
		contexts: contexts,
		prices:   prices,
		maxAge:   maxAge,
	}
}

// Current returns the latest collected MarketContext. It returns
// domain.ErrStaleMarketData when the snapshot is older than the configured
// maximum age.
func (s *MarketService) Current(ctx context.Context) (domain.MarketContext, error) {
	mkt, err := s.contexts.Get(ctx)
	if err != nil {
		return domain.MarketContext{}, fmt.Errorf("market_service: current context: %w", err)
	}

	if s.maxAge > 0 && time.Since(mkt.CollectedAt) > s.maxAge {
		return domain.MarketContext{}, fmt.Errorf(
			"market_service: snapshot from %s: %w",
			mkt.CollectedAt.Format(time.RFC3339), domain.ErrStaleMarketData,
		)
	}
	return mkt, nil
}

// Prices returns the latest cached prices for the given asset symbols.
// Assets without a cached price are omitted.
func (s *MarketService) Prices(ctx context.Context, assets []string) (map[string]float64, error) {
	prices, err := s.prices.GetPrices(ctx, assets)
	if err != nil {
		return nil, fmt.Errorf("market_service: prices: %w", err)
	}
	return prices, nil
}

// Price returns one asset's latest cached price and the time it was observed.
// It returns domain.ErrStaleMarketData when the price is older than the
// configured maximum age.
func (s *MarketService) Price(ctx context.Context, asset string) (float64, time.Time, error) {
	price, at, err := s.prices.GetPrice(ctx, asset)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("market_service: price %s: %w", asset, err)
	}

	if s.maxAge > 0 && time.Since(at) > s.maxAge {
		return 0, time.Time{}, fmt.Errorf(
			"market_service: price %s from %s: %w",
			asset, at.Format(time.RFC3339), domain.ErrStaleMarketData,
		)
	}
	return price, at, nil
}
