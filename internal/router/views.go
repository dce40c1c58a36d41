package router

import (
	"context"
	"math/big"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

// Markets returns a view of every market ordered by address.
func (r *Router) Markets() []domain.MarketView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := r.registry.Markets()
	out := make([]domain.MarketView, 0, len(addrs))
	for _, a := range addrs {
		if m, err := r.market(a); err == nil {
			out = append(out, m.View())
		}
	}
	return out
}

// Market returns the view of one market.
func (r *Router) Market(addr domain.Address) (domain.MarketView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.market(addr)
	if err != nil {
		return domain.MarketView{}, err
	}
	return m.View(), nil
}

// GetMarket returns the market of factory on the pair, or the zero address.
func (r *Router) GetMarket(factory domain.FactoryID, x, y domain.Address) domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.GetMarket(factory, x, y)
}

// QuoteExactIn prices a SwapExactIn without executing it.
func (r *Router) QuoteExactIn(addr, tokenIn domain.Address, amountIn *big.Int) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.market(addr)
	if err != nil {
		return nil, err
	}
	return m.QuoteExactIn(tokenIn, amountIn)
}

// QuoteExactOut prices a SwapExactOut without executing it.
func (r *Router) QuoteExactOut(addr, tokenOut domain.Address, amountOut *big.Int) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.market(addr)
	if err != nil {
		return nil, err
	}
	return m.QuoteExactOut(tokenOut, amountOut)
}

// PendingLpInterest returns the settled, unpaid LP interest of owner.
func (r *Router) PendingLpInterest(addr, owner domain.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, err := r.market(addr)
	if err != nil {
		return nil, err
	}
	return m.PendingLpInterest(owner), nil
}

// YieldContract returns the view of one yield contract.
func (r *Router) YieldContract(source domain.SourceID, underlying domain.Address, expiry uint64) (domain.YieldContractView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, err := r.forge(source)
	if err != nil {
		return domain.YieldContractView{}, err
	}
	return f.Contract(underlying, expiry)
}

// YieldContracts returns every yield contract of every forge.
func (r *Router) YieldContracts() []domain.YieldContractView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.YieldContractView
	for _, f := range r.sortedForges() {
		out = append(out, f.Contracts()...)
	}
	return out
}

// ClaimTokens returns the OT and YT registered for a contract, or zero
// addresses.
func (r *Router) ClaimTokens(source domain.SourceID, underlying domain.Address, expiry uint64) (ot, yt domain.Address) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.OwnershipTokens(source, underlying, expiry), r.registry.YieldTokens(source, underlying, expiry)
}

// PendingInterest returns what RedeemDueInterests would pay owner now.
func (r *Router) PendingInterest(ctx context.Context, source domain.SourceID, underlying domain.Address, expiry uint64, owner domain.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, err := r.forge(source)
	if err != nil {
		return nil, err
	}
	return f.PendingInterest(ctx, underlying, expiry, owner)
}

// ForgeAddress returns the account depositors approve before tokenizing.
func (r *Router) ForgeAddress(source domain.SourceID) (domain.Address, error) {
	f, err := r.forge(source)
	if err != nil {
		return domain.ZeroAddress, err
	}
	return f.Address(), nil
}

func (r *Router) BalanceOf(tok, owner domain.Address) *big.Int { return r.bank.BalanceOf(tok, owner) }

func (r *Router) Tokens() []token.Metadata { return r.bank.Tokens() }

// TokenMetadata returns symbol and decimals of a registered token.
func (r *Router) TokenMetadata(tok domain.Address) (token.Metadata, error) { return r.bank.Metadata(tok) }

func (r *Router) Params() governance.Params { return r.params.Get() }

func (r *Router) Paused() []string { return r.pauses.Paused() }

// Sources lists the registered source IDs.
func (r *Router) Sources() []domain.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registry.SourceIDs()
}

// StateSnapshot captures every market and yield contract at the current
// block.
func (r *Router) StateSnapshot() domain.StateSnapshot {
	markets := r.Markets()
	contracts := r.YieldContracts()
	return domain.StateSnapshot{
		Block:          r.clock.BlockNumber(),
		TakenAt:        time.Unix(int64(r.clock.Now()), 0).UTC(),
		Markets:        markets,
		YieldContracts: contracts,
	}
}

func (r *Router) Allowance(tok, owner, spender domain.Address) *big.Int {
	return r.bank.Allowance(tok, owner, spender)
}
