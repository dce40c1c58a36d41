package router

import (
	"context"
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/market"
)

func marketCall(op string, caller domain.Address, deadline uint64, addr domain.Address) call {
	return userCall(op, caller, deadline, governance.MarketPauseKey(addr))
}

// CreateMarket opens a market of factory trading yieldClaim against base.
// Anyone may call it.
func (r *Router) CreateMarket(ctx context.Context, caller domain.Address, factory domain.FactoryID, yieldClaim, base domain.Address) (domain.Address, error) {
	var addr domain.Address
	err := r.exec(ctx, userCall("create_market", caller, 0), func() error {
		var err error
		addr, err = r.createMarket(ctx, caller, factory, yieldClaim, base)
		return err
	})
	return addr, err
}

func (r *Router) createMarket(ctx context.Context, caller domain.Address, factory domain.FactoryID, yieldClaim, base domain.Address) (domain.Address, error) {
	addr, err := r.registry.CreateMarket(ctx, caller, factory, yieldClaim, base)
	if err != nil {
		return domain.ZeroAddress, err
	}
	f, err := r.factory(factory)
	if err != nil {
		return domain.ZeroAddress, err
	}
	m, err := f.Market(addr)
	if err != nil {
		return domain.ZeroAddress, err
	}
	r.journal.Register(m)
	return addr, nil
}

// CreateAndBootstrapMarket creates a market and seeds it in one call. It
// returns the market and the LP minted to caller.
func (r *Router) CreateAndBootstrapMarket(ctx context.Context, caller domain.Address, factory domain.FactoryID, yieldClaim, base domain.Address, initialYield, initialBase *big.Int, deadline uint64) (domain.Address, *big.Int, error) {
	var (
		addr domain.Address
		lp   *big.Int
	)
	err := r.exec(ctx, userCall("create_and_bootstrap_market", caller, deadline), func() error {
		var err error
		if addr, err = r.createMarket(ctx, caller, factory, yieldClaim, base); err != nil {
			return err
		}
		m, err := r.market(addr)
		if err != nil {
			return err
		}
		lp, err = m.Bootstrap(ctx, caller, initialYield, initialBase)
		return err
	})
	if err != nil {
		return domain.ZeroAddress, nil, err
	}
	return addr, lp, nil
}

// withMarket runs fn against the market at addr inside one call.
func (r *Router) withMarket(ctx context.Context, c call, addr domain.Address, fn func(m *market.Market) error) error {
	return r.exec(ctx, c, func() error {
		m, err := r.market(addr)
		if err != nil {
			return err
		}
		return fn(m)
	})
}

// Bootstrap seeds an empty market.
func (r *Router) Bootstrap(ctx context.Context, caller, addr domain.Address, initialYield, initialBase *big.Int, deadline uint64) (*big.Int, error) {
	var lp *big.Int
	err := r.withMarket(ctx, marketCall("bootstrap", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		lp, err = m.Bootstrap(ctx, caller, initialYield, initialBase)
		return err
	})
	return lp, err
}

// SwapExactIn sells amountIn of tokenIn. A nil minOut accepts any output.
func (r *Router) SwapExactIn(ctx context.Context, caller, addr, tokenIn domain.Address, amountIn, minOut *big.Int, deadline uint64) (*big.Int, error) {
	var out *big.Int
	err := r.withMarket(ctx, marketCall("swap_exact_in", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		out, err = m.SwapExactIn(ctx, caller, tokenIn, amountIn, minOut)
		return err
	})
	return out, err
}

// SwapExactOut buys amountOut of tokenOut. A nil maxIn accepts any input.
func (r *Router) SwapExactOut(ctx context.Context, caller, addr, tokenOut domain.Address, amountOut, maxIn *big.Int, deadline uint64) (*big.Int, error) {
	var in *big.Int
	err := r.withMarket(ctx, marketCall("swap_exact_out", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		in, err = m.SwapExactOut(ctx, caller, tokenOut, amountOut, maxIn)
		return err
	})
	return in, err
}

// AddLiquidityDual deposits both tokens at the reserve ratio.
func (r *Router) AddLiquidityDual(ctx context.Context, caller, addr domain.Address, desiredYield, desiredBase, minYield, minBase *big.Int, deadline uint64) (market.LiquidityResult, error) {
	var res market.LiquidityResult
	err := r.withMarket(ctx, marketCall("add_liquidity_dual", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		res, err = m.AddLiquidityDual(ctx, caller, desiredYield, desiredBase, minYield, minBase)
		return err
	})
	return res, err
}

// AddLiquiditySingle deposits one token.
func (r *Router) AddLiquiditySingle(ctx context.Context, caller, addr, tokenIn domain.Address, amountIn, minLP *big.Int, deadline uint64) (market.LiquidityResult, error) {
	var res market.LiquidityResult
	err := r.withMarket(ctx, marketCall("add_liquidity_single", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		res, err = m.AddLiquiditySingle(ctx, caller, tokenIn, amountIn, minLP)
		return err
	})
	return res, err
}

// RemoveLiquidityDual burns lpIn for both tokens pro rata.
func (r *Router) RemoveLiquidityDual(ctx context.Context, caller, addr domain.Address, lpIn, minYield, minBase *big.Int, deadline uint64) (market.LiquidityResult, error) {
	var res market.LiquidityResult
	err := r.withMarket(ctx, marketCall("remove_liquidity_dual", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		res, err = m.RemoveLiquidityDual(ctx, caller, lpIn, minYield, minBase)
		return err
	})
	return res, err
}

// RemoveLiquiditySingle burns lpIn for one token.
func (r *Router) RemoveLiquiditySingle(ctx context.Context, caller, addr, tokenOut domain.Address, lpIn, minOut *big.Int, deadline uint64) (market.LiquidityResult, error) {
	var res market.LiquidityResult
	err := r.withMarket(ctx, marketCall("remove_liquidity_single", caller, deadline, addr), addr, func(m *market.Market) error {
		var err error
		res, err = m.RemoveLiquiditySingle(ctx, caller, tokenOut, lpIn, minOut)
		return err
	})
	return res, err
}

// RedeemLpInterests pays caller the yield claim interest earned by its LP.
func (r *Router) RedeemLpInterests(ctx context.Context, caller, addr domain.Address) (*big.Int, error) {
	var out *big.Int
	err := r.withMarket(ctx, marketCall("redeem_lp_interests", caller, 0, addr), addr, func(m *market.Market) error {
		var err error
		out, err = m.RedeemLpInterests(ctx, caller)
		return err
	})
	return out, err
}
