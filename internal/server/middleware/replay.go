package middleware

import (
	"sync"
	"time"
)

// sweepEvery is how many new signatures ReplayGuard records between sweeps
// of expired entries.
const sweepEvery = 1024

// ReplayGuard rejects a request signature seen again within its TTL. It is
// safe for concurrent use.
type ReplayGuard struct {
	seen  map[string]time.Time // signature -> first seen
	ttl   time.Duration
	now   func() time.Time
	added int
	mu    sync.Mutex
}

// NewReplayGuard remembers signatures for ttl, which should cover the
// accepted timestamp skew on both sides.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	return &ReplayGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether sig was recorded within the TTL. A new or expired
// signature is recorded and false is returned.
func (g *ReplayGuard) Seen(sig string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if first, ok := g.seen[sig]; ok && now.Sub(first) < g.ttl {
		return true
	}
	g.seen[sig] = now
	if g.added++; g.added >= sweepEvery {
		g.sweep(now)
	}
	return false
}

// Len returns the number of remembered signatures.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *ReplayGuard) sweep(now time.Time) {
	for sig, ts := range g.seen {
		if now.Sub(ts) >= g.ttl {
			delete(g.seen, sig)
		}
	}
	g.added = 0
}
