package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

// Ledger is the token bank surface the simulated sources need.
type Ledger interface {
	Register(meta token.Metadata) error
	Exists(tok domain.Address) bool
	Metadata(tok domain.Address) (token.Metadata, error)
	BalanceOf(tok, owner domain.Address) *big.Int
	Holders(tok domain.Address) []domain.Address
	Transfer(tok, from, to domain.Address, amount *big.Int) error
	Mint(tok, to domain.Address, amount *big.Int) error
	Burn(tok, from domain.Address, amount *big.Int) error
}

type simMarket struct {
	wrapped domain.Address
	rate    *big.Int
}

// SimulatedSource is an in-memory lending protocol. A ratio source keeps
// wrapped balances fixed and grows its rate; a rebasing source grows every
// wrapped balance together with its income index.
type SimulatedSource struct {
	id      domain.SourceID
	family  domain.RateFamily
	bank    Ledger
	reserve domain.Address

	mu      sync.RWMutex
	markets map[domain.Address]*simMarket
}

// NewSimulatedSource returns an empty simulated source.
func NewSimulatedSource(id domain.SourceID, family domain.RateFamily, bank Ledger) *SimulatedSource {
	return &SimulatedSource{
		id:      id,
		family:  family,
		bank:    bank,
		reserve: domain.DeriveAddress("RESERVE", []byte(id)),
		markets: make(map[domain.Address]*simMarket),
	}
}

func (s *SimulatedSource) SourceID() domain.SourceID { return s.id }

func (s *SimulatedSource) Family() domain.RateFamily { return s.family }

// ReserveAddress holds the underlying deposited into the source.
func (s *SimulatedSource) ReserveAddress() domain.Address { return s.reserve }

// List opens a market for underlying, registering its wrapped token.
func (s *SimulatedSource) List(underlying domain.Address, symbol string, initialRate *big.Int) (domain.Address, error) {
	if initialRate.Sign() <= 0 {
		return domain.ZeroAddress, fmt.Errorf("oracle: list %s: %w", symbol, domain.ErrInvalidParams)
	}
	meta, err := s.bank.Metadata(underlying)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("oracle: list %s: %w", symbol, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[underlying]; ok {
		return domain.ZeroAddress, fmt.Errorf("oracle: list %s: %w", symbol, domain.ErrAlreadyExists)
	}
	wrapped := domain.DeriveAddress("WRAPPED", []byte(s.id), underlying.Bytes())
	if err := s.bank.Register(token.Metadata{Address: wrapped, Symbol: symbol, Decimals: meta.Decimals}); err != nil {
		return domain.ZeroAddress, fmt.Errorf("oracle: list %s: %w", symbol, err)
	}
	s.markets[underlying] = &simMarket{wrapped: wrapped, rate: new(big.Int).Set(initialRate)}
	return wrapped, nil
}

func (s *SimulatedSource) market(underlying domain.Address) (*simMarket, error) {
	m, ok := s.markets[underlying]
	if !ok {
		return nil, fmt.Errorf("oracle: %s has no market for %s: %w", s.id, underlying.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

func (s *SimulatedSource) YieldToken(underlying domain.Address) (domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.market(underlying)
	if err != nil {
		return domain.ZeroAddress, err
	}
	return m.wrapped, nil
}

func (s *SimulatedSource) ExchangeRate(ctx context.Context, underlying domain.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.market(underlying)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.rate), nil
}

// SetRate moves the rate of underlying. For a rebasing source every wrapped
// balance grows by the same factor.
func (s *SimulatedSource) SetRate(underlying domain.Address, rate *big.Int) error {
	if rate.Sign() <= 0 {
		return fmt.Errorf("oracle: set rate: %w", domain.ErrInvalidParams)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.market(underlying)
	if err != nil {
		return err
	}
	if s.family == domain.RateFamilyRebasing && rate.Cmp(m.rate) > 0 {
		for _, holder := range s.bank.Holders(m.wrapped) {
			bal := s.bank.BalanceOf(m.wrapped, holder)
			grown := rmath.MulDiv(bal, rate, m.rate)
			if err := s.bank.Mint(m.wrapped, holder, grown.Sub(grown, bal)); err != nil {
				return fmt.Errorf("oracle: rebase: %w", err)
			}
		}
	}
	m.rate = new(big.Int).Set(rate)
	return nil
}

// Grow multiplies the rate of underlying by factor.
func (s *SimulatedSource) Grow(underlying domain.Address, factor *big.Int) error {
	s.mu.RLock()
	m, err := s.market(underlying)
	if err != nil {
		s.mu.RUnlock()
		return err
	}
	next := rmath.Mul(m.rate, factor)
	s.mu.RUnlock()
	return s.SetRate(underlying, next)
}

// Wrap deposits amount underlying from owner and returns the wrapped tokens
// minted to owner.
func (s *SimulatedSource) Wrap(ctx context.Context, owner, underlying domain.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("oracle: wrap: %w", domain.ErrZeroAmount)
	}
	s.mu.RLock()
	m, err := s.market(underlying)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Set(amount)
	if s.family == domain.RateFamilyRatio {
		out = rmath.MulDiv(amount, rmath.One(), m.rate)
	}
	if err := s.bank.Transfer(underlying, owner, s.reserve, amount); err != nil {
		return nil, fmt.Errorf("oracle: wrap: %w", err)
	}
	if err := s.bank.Mint(m.wrapped, owner, out); err != nil {
		return nil, fmt.Errorf("oracle: wrap: %w", err)
	}
	return out, nil
}

// Unwrap burns amount wrapped tokens from owner and pays out underlying. The
// reserve is topped up with the interest the simulated borrowers paid.
func (s *SimulatedSource) Unwrap(ctx context.Context, owner, underlying domain.Address, amount *big.Int) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("oracle: unwrap: %w", domain.ErrZeroAmount)
	}
	s.mu.RLock()
	m, err := s.market(underlying)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := new(big.Int).Set(amount)
	if s.family == domain.RateFamilyRatio {
		out = rmath.MulDiv(amount, m.rate, rmath.One())
	}
	if err := s.bank.Burn(m.wrapped, owner, amount); err != nil {
		return nil, fmt.Errorf("oracle: unwrap: %w", err)
	}
	if short := new(big.Int).Sub(out, s.bank.BalanceOf(underlying, s.reserve)); short.Sign() > 0 {
		if err := s.bank.Mint(underlying, s.reserve, short); err != nil {
			return nil, fmt.Errorf("oracle: unwrap: %w", err)
		}
	}
	if err := s.bank.Transfer(underlying, s.reserve, owner, out); err != nil {
		return nil, fmt.Errorf("oracle: unwrap: %w", err)
	}
	return out, nil
}

var (
	_ YieldSource = (*SimulatedSource)(nil)
	_ Wrapper     = (*SimulatedSource)(nil)
)
