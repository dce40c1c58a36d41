// Package memory holds process-local stand-ins for the redis caches, used
// when the daemon runs without redis.
package memory

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// MarketViewCache keeps the latest view of each market.
type MarketViewCache struct {
	views *xsync.Map[domain.Address, domain.MarketView]
}

func NewMarketViewCache() *MarketViewCache {
	return &MarketViewCache{views: xsync.NewMap[domain.Address, domain.MarketView]()}
}

// Set stores view unless a view of a later block is already cached.
func (c *MarketViewCache) Set(_ context.Context, view domain.MarketView) error {
	c.views.Compute(view.Address, func(old domain.MarketView, loaded bool) (domain.MarketView, xsync.ComputeOp) {
		if loaded && old.Block > view.Block {
			return old, xsync.CancelOp
		}
		return view, xsync.UpdateOp
	})
	return nil
}

func (c *MarketViewCache) Get(_ context.Context, addr domain.Address) (domain.MarketView, error) {
	view, ok := c.views.Load(addr)
	if !ok {
		return domain.MarketView{}, fmt.Errorf("market view %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return view, nil
}

func (c *MarketViewCache) Invalidate(_ context.Context, addr domain.Address) error {
	c.views.Delete(addr)
	return nil
}

// Len returns the number of cached views.
func (c *MarketViewCache) Len() int { return c.views.Size() }
