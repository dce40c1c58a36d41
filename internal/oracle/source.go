// Package oracle holds the yield source adapters: each reports a
// non-decreasing exchange rate for the wrapped tokens of one lending
// protocol.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

// YieldSource is the exchange rate capability of one yield source.
type YieldSource interface {
	SourceID() domain.SourceID
	Family() domain.RateFamily
	YieldToken(underlying domain.Address) (domain.Address, error)
	ExchangeRate(ctx context.Context, underlying domain.Address) (*big.Int, error)
}

// Wrapper converts underlying tokens into a source's wrapped tokens and back.
type Wrapper interface {
	Wrap(ctx context.Context, owner, underlying domain.Address, amount *big.Int) (*big.Int, error)
	Unwrap(ctx context.Context, owner, underlying domain.Address, amount *big.Int) (*big.Int, error)
}

// Table maps source IDs to adapters.
type Table struct {
	mu      sync.RWMutex
	sources map[domain.SourceID]YieldSource
}

// NewTable returns a table holding the given sources.
func NewTable(sources ...YieldSource) (*Table, error) {
	t := &Table{sources: make(map[domain.SourceID]YieldSource)}
	for _, s := range sources {
		if err := t.Add(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add registers a source once.
func (t *Table) Add(s YieldSource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[s.SourceID()]; ok {
		return fmt.Errorf("oracle: source %s: %w", s.SourceID(), domain.ErrAlreadyExists)
	}
	t.sources[s.SourceID()] = s
	return nil
}

// Get returns the source registered under id.
func (t *Table) Get(id domain.SourceID) (YieldSource, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sources[id]
	if !ok {
		return nil, fmt.Errorf("oracle: source %s: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

// IDs lists registered source IDs in order.
func (t *Table) IDs() []domain.SourceID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]domain.SourceID, 0, len(t.sources))
	for id := range t.sources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ToClaimUnits converts wrapped tokens into claim units, which measure
// underlying value at the given rate.
func ToClaimUnits(f domain.RateFamily, amount, rate *big.Int) *big.Int {
	if f == domain.RateFamilyRebasing {
		return new(big.Int).Set(amount)
	}
	return rmath.MulDiv(amount, rate, rmath.One())
}

// FromClaimUnits converts claim units back into wrapped tokens at rate.
func FromClaimUnits(f domain.RateFamily, claims, rate *big.Int) *big.Int {
	if f == domain.RateFamilyRebasing {
		return new(big.Int).Set(claims)
	}
	return rmath.MulDiv(claims, rmath.One(), rate)
}

// ToShares converts a wrapped amount into shares of a balance at index rate.
// A rebasing balance grows with its index while its shares stay fixed; a
// ratio balance never moves, so its shares are the amount itself.
func ToShares(f domain.RateFamily, amount, rate *big.Int) *big.Int {
	if f == domain.RateFamilyRebasing {
		return rmath.MulDiv(amount, rmath.One(), rate)
	}
	return new(big.Int).Set(amount)
}

// FromShares converts shares back into wrapped tokens at index rate.
func FromShares(f domain.RateFamily, shares, rate *big.Int) *big.Int {
	if f == domain.RateFamilyRebasing {
		return rmath.MulDiv(shares, rate, rmath.One())
	}
	return new(big.Int).Set(shares)
}

// PrincipalAfterExpiry returns the wrapped tokens owed for claims redeemed
// after expiry: the backing at the frozen expiry rate together with what that
// backing has earned since. For a ratio source the backing keeps its token
// count, so only the frozen rate matters.
func PrincipalAfterExpiry(f domain.RateFamily, claims, frozen, live *big.Int) *big.Int {
	if f == domain.RateFamilyRebasing {
		return rmath.MulDiv(claims, live, frozen)
	}
	return rmath.MulDiv(claims, rmath.One(), frozen)
}

// Interest returns the wrapped tokens earned by balance claim units as the
// rate moved from prev to cur. A rate that did not grow earns nothing.
func Interest(f domain.RateFamily, balance, prev, cur *big.Int) *big.Int {
	if balance.Sign() == 0 || prev.Sign() == 0 || cur.Cmp(prev) <= 0 {
		return new(big.Int)
	}
	delta := new(big.Int).Sub(cur, prev)
	if f == domain.RateFamilyRebasing {
		return rmath.MulDiv(balance, delta, prev)
	}
	num := new(big.Int).Mul(balance, rmath.One())
	num.Mul(num, delta)
	return num.Quo(num, new(big.Int).Mul(prev, cur))
}

// Tolerance is the relative rounding tolerance, as a fixed-point value, of
// interest computed for a family. Rebasing balances are re-derived from an
// index on every accrual and lose more precision than a fixed ratio.
func Tolerance(f domain.RateFamily) *big.Int {
	if f == domain.RateFamilyRebasing {
		return rmath.FromFraction(1, 100_000)
	}
	return rmath.FromFraction(1, 10_000_000)
}
