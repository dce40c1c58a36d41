// Package chain provides the execution clock: a monotonic timestamp and
// block number shared by every component.
package chain

import (
	"sync"
	"time"
)

// Clock reports the current block timestamp (unix seconds) and block number.
type Clock interface {
	Now() uint64
	BlockNumber() uint64
}

// ManualClock is a Clock moved explicitly, used by simulations and tests.
type ManualClock struct {
	mu    sync.RWMutex
	now   uint64
	block uint64
}

// NewManualClock returns a clock at the given time and block.
func NewManualClock(now, block uint64) *ManualClock {
	return &ManualClock{now: now, block: block}
}

func (c *ManualClock) Now() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *ManualClock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block
}

// Advance moves the clock forward by d and the given number of blocks.
func (c *ManualClock) Advance(d time.Duration, blocks uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += uint64(d / time.Second)
	c.block += blocks
}

// Set moves the clock to an absolute position. Time never goes backwards.
func (c *ManualClock) Set(now, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now > c.now {
		c.now = now
	}
	if block > c.block {
		c.block = block
	}
}

// SystemClock derives block numbers from wall time and a fixed block time.
type SystemClock struct {
	genesis   time.Time
	blockTime time.Duration
	nowFn     func() time.Time
}

// NewSystemClock returns a wall-time clock. blockTime must be positive.
func NewSystemClock(genesis time.Time, blockTime time.Duration) *SystemClock {
	if blockTime <= 0 {
		blockTime = 12 * time.Second
	}
	return &SystemClock{genesis: genesis, blockTime: blockTime, nowFn: time.Now}
}

func (c *SystemClock) Now() uint64 { return uint64(c.nowFn().Unix()) }

func (c *SystemClock) BlockNumber() uint64 {
	elapsed := c.nowFn().Sub(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.blockTime)
}
