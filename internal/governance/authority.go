// Package governance holds the single-principal authority, the mutable
// protocol parameters and the pause registry.
package governance

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

// Authority is the governance principal and the protocol treasury.
type Authority struct {
	mu         sync.RWMutex
	governance domain.Address
	treasury   domain.Address
}

// NewAuthority returns an authority for the given principal and treasury.
func NewAuthority(governance, treasury domain.Address) *Authority {
	return &Authority{governance: governance, treasury: treasury}
}

// IsGovernance reports whether addr is the governance principal.
func (a *Authority) IsGovernance(addr domain.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return addr == a.governance
}

// Require returns ErrUnauthorized unless caller is governance.
func (a *Authority) Require(caller domain.Address) error {
	if !a.IsGovernance(caller) {
		return fmt.Errorf("governance: %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// Governance returns the current principal.
func (a *Authority) Governance() domain.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.governance
}

// Treasury returns the fee recipient.
func (a *Authority) Treasury() domain.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.treasury
}

// Transfer hands governance to next.
func (a *Authority) Transfer(caller, next domain.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	if next == domain.ZeroAddress {
		return fmt.Errorf("governance: transfer to zero address: %w", domain.ErrInvalidParams)
	}
	a.mu.Lock()
	a.governance = next
	a.mu.Unlock()
	return nil
}

// SetTreasury changes the fee recipient.
func (a *Authority) SetTreasury(caller, treasury domain.Address) error {
	if err := a.Require(caller); err != nil {
		return err
	}
	a.mu.Lock()
	a.treasury = treasury
	a.mu.Unlock()
	return nil
}

type authoritySnapshot struct{ governance, treasury domain.Address }

func (a *Authority) Snapshot() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return authoritySnapshot{a.governance, a.treasury}
}

func (a *Authority) Restore(snapshot any) {
	s := snapshot.(authoritySnapshot)
	a.mu.Lock()
	a.governance, a.treasury = s.governance, s.treasury
	a.mu.Unlock()
}

// Params are the governance-mutable protocol constants. Rates are RONE
// fixed-point values.
type Params struct {
	ForgeFeeRate         *big.Int `json:"forge_fee_rate"`
	SwapFee              *big.Int `json:"swap_fee"`
	ProtocolFeeShare     *big.Int `json:"protocol_fee_share"`
	WeightFloor          *big.Int `json:"weight_floor"`
	CurveShiftBlockDelta uint64   `json:"curve_shift_block_delta"`
	ExpiryDivisor        uint64   `json:"expiry_divisor"`
}

// DefaultParams returns a 3% forge fee, a 0.35% swap fee of which 1/7 goes to
// the protocol, a 1% yield weight floor, a curve shift every block and daily
// expiries.
func DefaultParams() Params {
	return Params{
		ForgeFeeRate:         rmath.FromFraction(3, 100),
		SwapFee:              rmath.FromFraction(35, 10_000),
		ProtocolFeeShare:     rmath.FromFraction(1, 7),
		WeightFloor:          rmath.FromFraction(1, 100),
		CurveShiftBlockDelta: 1,
		ExpiryDivisor:        86400,
	}
}

// Clone deep-copies p.
func (p Params) Clone() Params {
	return Params{
		ForgeFeeRate:         domain.CloneInt(p.ForgeFeeRate),
		SwapFee:              domain.CloneInt(p.SwapFee),
		ProtocolFeeShare:     domain.CloneInt(p.ProtocolFeeShare),
		WeightFloor:          domain.CloneInt(p.WeightFloor),
		CurveShiftBlockDelta: p.CurveShiftBlockDelta,
		ExpiryDivisor:        p.ExpiryDivisor,
	}
}

// Validate checks every rate is within [0, 1) and the floor below one half.
func (p Params) Validate() error {
	one := rmath.One()
	check := func(name string, v *big.Int, limit *big.Int) error {
		if v == nil || v.Sign() < 0 || v.Cmp(limit) >= 0 {
			return fmt.Errorf("governance: %s out of range: %w", name, domain.ErrInvalidParams)
		}
		return nil
	}
	if err := check("forge_fee_rate", p.ForgeFeeRate, one); err != nil {
		return err
	}
	if err := check("swap_fee", p.SwapFee, one); err != nil {
		return err
	}
	if err := check("protocol_fee_share", p.ProtocolFeeShare, one); err != nil {
		return err
	}
	if err := check("weight_floor", p.WeightFloor, new(big.Int).Rsh(one, 1)); err != nil {
		return err
	}
	if p.ExpiryDivisor == 0 {
		return fmt.Errorf("governance: expiry_divisor must be positive: %w", domain.ErrInvalidParams)
	}
	return nil
}

// ParamStore holds the live parameters.
type ParamStore struct {
	auth *Authority

	mu     sync.RWMutex
	params Params
}

// NewParamStore validates p and returns a store holding it.
func NewParamStore(auth *Authority, p Params) (*ParamStore, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ParamStore{auth: auth, params: p.Clone()}, nil
}

// Get returns a copy of the current parameters.
func (s *ParamStore) Get() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone()
}

// Set replaces the parameters. Markets pick up fee changes on their next
// operation.
func (s *ParamStore) Set(caller domain.Address, p Params) error {
	if err := s.auth.Require(caller); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p.Clone()
	s.mu.Unlock()
	return nil
}

func (s *ParamStore) Snapshot() any { return s.Get() }

func (s *ParamStore) Restore(snapshot any) {
	p := snapshot.(Params)
	s.mu.Lock()
	s.params = p.Clone()
	s.mu.Unlock()
}
