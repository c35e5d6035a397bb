package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest collected prices.
type PriceCache interface {
	SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, assetID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error)
}

// MarketContextCache stores the latest assembled MarketContext snapshot.
type MarketContextCache interface {
	Set(ctx context.Context, mkt MarketContext) error
	Get(ctx context.Context) (MarketContext, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for risk alerts.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles requests per key within a sliding time window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking so only one collector instance
// scrapes at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
