package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderReader is the subset of ethclient.Client the chain clock needs.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeaderClock follows the latest header of an Ethereum node. Now and
// BlockNumber return the last refreshed header and never block.
type HeaderClock struct {
	client HeaderReader
	logger *slog.Logger

	mu    sync.RWMutex
	now   uint64
	block uint64
}

// NewHeaderClock reads the current head once and returns the clock.
func NewHeaderClock(ctx context.Context, client HeaderReader, logger *slog.Logger) (*HeaderClock, error) {
	c := &HeaderClock{client: client, logger: logger.With(slog.String("component", "header_clock"))}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Refresh reads the latest header.
func (c *HeaderClock) Refresh(ctx context.Context) error {
	h, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("chain: latest header: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.Time > c.now {
		c.now = h.Time
	}
	if n := h.Number.Uint64(); n > c.block {
		c.block = n
	}
	return nil
}

// Run refreshes the head every interval until ctx is done.
func (c *HeaderClock) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("header refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *HeaderClock) Now() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *HeaderClock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}
