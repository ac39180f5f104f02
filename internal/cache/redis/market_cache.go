package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quorumlabs/foresight/internal/domain"
)

// MarketCache implements domain.MarketCache using Redis string keys with a
// TTL. The API layer reads projections from here; the registry invalidates
// on every status transition.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache with the given entry TTL. A zero ttl
// means entries never expire and rely on invalidation alone.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(id int64) string {
	return "market:" + strconv.FormatInt(id, 10)
}

// Set stores a market projection.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(market)
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a market projection, returning domain.ErrNotFound on a
// cache miss.
func (mc *MarketCache) Get(ctx context.Context, id int64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var m domain.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return m, nil
}

// Invalidate drops a market projection.
func (mc *MarketCache) Invalidate(ctx context.Context, id int64) error {
	if err := mc.rdb.Del(ctx, marketKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
