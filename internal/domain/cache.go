package domain

import (
	"context"
	"time"
)

// MarketViewCache provides fast market view lookups for the API.
type MarketViewCache interface {
	Set(ctx context.Context, view MarketView) error
	Get(ctx context.Context, addr Address) (MarketView, error)
	Invalidate(ctx context.Context, addr Address) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out and an append-only stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
