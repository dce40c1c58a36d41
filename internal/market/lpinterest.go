package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// lpIndexScale is the precision of the per-LP interest index.
var lpIndexScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)

// collectInterest redeems the interest earned by the market's yield claims
// and spreads it over the LP supply.
func (m *Market) collectInterest(ctx context.Context) error {
	if !m.st.bootstrapped || m.forge == nil {
		return nil
	}
	got, err := m.forge.RedeemDueInterests(ctx, m.yieldKey.Underlying, m.yieldKey.Expiry, m.address)
	if err != nil {
		return fmt.Errorf("collect interest: %w", err)
	}
	supply := m.bank.TotalSupply(m.address)
	if got.Sign() == 0 || supply.Sign() == 0 {
		return nil
	}
	inc := new(big.Int).Mul(got, lpIndexScale)
	m.st.paramL.Add(m.st.paramL, inc.Quo(inc, supply))
	return nil
}

// settleLP credits owner with the index growth since its last checkpoint on
// its current LP balance.
func (m *Market) settleLP(owner domain.Address) {
	if last, ok := m.st.lastParamL[owner]; ok {
		bal := m.bank.BalanceOf(m.address, owner)
		delta := new(big.Int).Sub(m.st.paramL, last)
		if bal.Sign() > 0 && delta.Sign() > 0 {
			earned := delta.Mul(delta, bal)
			earned.Quo(earned, lpIndexScale)
			due, ok := m.st.lpDue[owner]
			if !ok {
				due = new(big.Int)
				m.st.lpDue[owner] = due
			}
			due.Add(due, earned)
		}
	}
	m.st.lastParamL[owner] = new(big.Int).Set(m.st.paramL)
}

// onLPTransfer settles both sides of an LP transfer before balances move.
func (m *Market) onLPTransfer(_, from, to domain.Address, _ *big.Int) error {
	if err := m.guard.Enter(); err != nil {
		return err
	}
	defer m.guard.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := m.collectInterest(ctx); err != nil {
		return fmt.Errorf("market: settle lp transfer: %w", err)
	}
	m.settleLP(from)
	m.settleLP(to)
	return nil
}

// RedeemLpInterests pays owner the yield-claim interest its LP earned, in
// the yield-bearing token.
func (m *Market) RedeemLpInterests(ctx context.Context, owner domain.Address) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.guard.Exit()

	if !m.st.bootstrapped {
		return nil, fmt.Errorf("market: redeem lp interests: %w", domain.ErrNotBootstrapped)
	}
	if err := m.collectInterest(ctx); err != nil {
		return nil, fmt.Errorf("market: redeem lp interests: %w", err)
	}
	m.settleLP(owner)
	due := domain.CloneInt(m.st.lpDue[owner])
	if due.Sign() == 0 {
		return due, nil
	}
	delete(m.st.lpDue, owner)
	if err := m.bank.Transfer(m.interestToken, m.address, owner, due); err != nil {
		return nil, fmt.Errorf("market: redeem lp interests: %w", err)
	}

	m.events.Record(m.event(domain.EventLpInterestRedeemed, owner).WithAmount("interest", due))
	return due, nil
}

// PendingLpInterest is owner's settled interest plus what the collected
// index owes it. Interest not yet collected from the forge is excluded.
func (m *Market) PendingLpInterest(owner domain.Address) *big.Int {
	total := domain.CloneInt(m.st.lpDue[owner])
	if last, ok := m.st.lastParamL[owner]; ok {
		delta := new(big.Int).Sub(m.st.paramL, last)
		delta.Mul(delta, m.bank.BalanceOf(m.address, owner))
		total.Add(total, delta.Quo(delta, lpIndexScale))
	}
	return total
}
