package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/redis/go-redis/v9"
)

const contextTTL = 5 * time.Minute

// contextKey is the single well-known key holding the latest market snapshot.
const contextKey = "market:context"

// MarketContextCache implements domain.MarketContextCache using a single
// JSON-serialized key with a 5-minute TTL. A stale snapshot expiring is
// preferable to evaluating against prices nobody has refreshed.
type MarketContextCache struct {
	rdb *redis.Client
}

// NewMarketContextCache creates a MarketContextCache backed by the given Client.
func NewMarketContextCache(c *Client) *MarketContextCache {
	return &MarketContextCache{rdb: c.Underlying()}
}

// Set stores the latest assembled MarketContext, replacing any prior snapshot.
func (mc *MarketContextCache) Set(ctx context.Context, mkt domain.MarketContext) error {
	data, err := json.Marshal(mkt)
	if err != nil {
		return fmt.Errorf("redis: marshal market context: %w", err)
	}
	if err := mc.rdb.Set(ctx, contextKey, data, contextTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market context: %w", err)
	}
	return nil
}

// Get retrieves the latest MarketContext. It returns domain.ErrNotFound when
// no snapshot exists or the last one has expired.
func (mc *MarketContextCache) Get(ctx context.Context) (domain.MarketContext, error) {
	data, err := mc.rdb.Get(ctx, contextKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketContext{}, domain.ErrNotFound
		}
		return domain.MarketContext{}, fmt.Errorf("redis: get market context: %w", err)
	}

	var mkt domain.MarketContext
	if err := json.Unmarshal(data, &mkt); err != nil {
		return domain.MarketContext{}, fmt.Errorf("redis: unmarshal market context: %w", err)
	}
	return mkt, nil
}

// Compile-time interface check.
var _ domain.MarketContextCache = (*MarketContextCache)(nil)
