package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

const defaultViewTTL = 30 * time.Second

// MarketViewCache implements domain.MarketViewCache with one JSON string per
// market under yieldmkt:market:{address}.
type MarketViewCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketViewCache creates a cache whose entries live for ttl (30s if zero).
func NewMarketViewCache(c *Client, ttl time.Duration) *MarketViewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &MarketViewCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(addr domain.Address) string { return "yieldmkt:market:" + addr.Hex() }

// Set caches view.
func (mc *MarketViewCache) Set(ctx context.Context, view domain.MarketView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", view.Address.Hex(), err)
	}
	if err := mc.rdb.Set(ctx, marketKey(view.Address), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market %s: %w", view.Address.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (mc *MarketViewCache) Get(ctx context.Context, addr domain.Address) (domain.MarketView, error) {
	data, err := mc.rdb.Get(ctx, marketKey(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketView{}, fmt.Errorf("cached market %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: get market %s: %w", addr.Hex(), err)
	}
	var view domain.MarketView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: unmarshal market %s: %w", addr.Hex(), err)
	}
	return view, nil
}

// Invalidate drops the cached view of addr.
func (mc *MarketViewCache) Invalidate(ctx context.Context, addr domain.Address) error {
	if err := mc.rdb.Del(ctx, marketKey(addr)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", addr.Hex(), err)
	}
	return nil
}

var _ domain.MarketViewCache = (*MarketViewCache)(nil)
