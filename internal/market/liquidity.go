package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// LiquidityResult reports the token amounts and LP moved by a liquidity
// operation.
type LiquidityResult struct {
	Yield *big.Int `json:"yield"`
	Base  *big.Int `json:"base"`
	LP    *big.Int `json:"lp"`
}

// AddLiquidityDual deposits both tokens at the current reserve ratio, using
// as much of the desired amounts as the ratio allows.
func (m *Market) AddLiquidityDual(ctx context.Context, caller domain.Address, desiredYield, desiredBase, minYield, minBase *big.Int) (LiquidityResult, error) {
	if err := m.enter(ctx); err != nil {
		return LiquidityResult{}, err
	}
	defer m.guard.Exit()

	if err := m.tradable(desiredYield); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", err)
	}
	if desiredBase == nil || desiredBase.Sign() <= 0 {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", domain.ErrZeroAmount)
	}
	m.shiftCurve()

	ry, rb := m.st.reserveYield, m.st.reserveBase
	usedYield := new(big.Int).Set(desiredYield)
	usedBase := new(big.Int).Mul(desiredYield, rb)
	usedBase.Quo(usedBase, ry)
	if usedBase.Cmp(desiredBase) > 0 {
		usedBase.Set(desiredBase)
		usedYield.Mul(desiredBase, ry)
		usedYield.Quo(usedYield, rb)
	}
	if below(usedYield, minYield) || below(usedBase, minBase) {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", domain.ErrInsufficientOutput)
	}
	supply := m.bank.TotalSupply(m.address)
	lp := new(big.Int).Mul(usedYield, supply)
	lp.Quo(lp, ry)
	if lp.Sign() == 0 || usedBase.Sign() == 0 {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", domain.ErrZeroAmount)
	}

	ry.Add(ry, usedYield)
	rb.Add(rb, usedBase)
	if err := m.mintLP(ctx, caller, lp); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", err)
	}
	if err := m.pull(m.yieldToken, caller, usedYield); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", err)
	}
	if err := m.pull(m.baseToken, caller, usedBase); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity dual: %w", err)
	}

	res := LiquidityResult{Yield: usedYield, Base: usedBase, LP: lp}
	m.recordLiquidity(domain.EventLiquidityAdded, caller, "dual", res)
	return res, nil
}

// AddLiquiditySingle deposits one token and mints LP as if the implied
// share of it were swapped for the other. After expiry the yield claim
// side is locked.
func (m *Market) AddLiquiditySingle(ctx context.Context, caller, tokenIn domain.Address, amountIn, minLP *big.Int) (LiquidityResult, error) {
	if err := m.enter(ctx); err != nil {
		return LiquidityResult{}, err
	}
	defer m.guard.Exit()

	if err := m.singleSided(tokenIn, amountIn); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", err)
	}
	m.shiftCurve()
	bal, w, _, _, isYield, err := m.sides(tokenIn, m.st.weightYield, m.st.weightBase)
	if err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", err)
	}
	if new(big.Int).Lsh(amountIn, 1).Cmp(bal) > 0 {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", domain.ErrSwapTooLarge)
	}
	lp := lpOutGivenTokenIn(bal, w, m.bank.TotalSupply(m.address), amountIn, m.swapFee)
	if lp.Sign() <= 0 {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", domain.ErrZeroAmount)
	}
	if below(lp, minLP) {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: got %s want %s: %w", lp, minLP, domain.ErrInsufficientOutput)
	}

	bal.Add(bal, amountIn)
	if err := m.mintLP(ctx, caller, lp); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", err)
	}
	if err := m.pull(tokenIn, caller, amountIn); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: add liquidity single: %w", err)
	}

	res := sideResult(isYield, amountIn, lp)
	m.recordLiquidity(domain.EventLiquidityAdded, caller, "single", res)
	return res, nil
}

// RemoveLiquidityDual burns lpIn and pays out both tokens pro rata. It stays
// open after expiry.
func (m *Market) RemoveLiquidityDual(ctx context.Context, caller domain.Address, lpIn, minYield, minBase *big.Int) (LiquidityResult, error) {
	if err := m.enter(ctx); err != nil {
		return LiquidityResult{}, err
	}
	defer m.guard.Exit()

	if !m.st.bootstrapped {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", domain.ErrNotBootstrapped)
	}
	if lpIn == nil || lpIn.Sign() <= 0 {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", domain.ErrZeroAmount)
	}
	m.shiftCurve()

	supply := m.bank.TotalSupply(m.address)
	if lpIn.Cmp(supply) >= 0 {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", domain.ErrInvalidParams)
	}
	outYield := new(big.Int).Mul(m.st.reserveYield, lpIn)
	outYield.Quo(outYield, supply)
	outBase := new(big.Int).Mul(m.st.reserveBase, lpIn)
	outBase.Quo(outBase, supply)
	if below(outYield, minYield) || below(outBase, minBase) {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", domain.ErrInsufficientOutput)
	}

	m.st.reserveYield.Sub(m.st.reserveYield, outYield)
	m.st.reserveBase.Sub(m.st.reserveBase, outBase)
	if err := m.burnLP(ctx, caller, lpIn); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", err)
	}
	if err := m.bank.Transfer(m.yieldToken, m.address, caller, outYield); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", err)
	}
	if err := m.bank.Transfer(m.baseToken, m.address, caller, outBase); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity dual: %w", err)
	}

	res := LiquidityResult{Yield: outYield, Base: outBase, LP: new(big.Int).Set(lpIn)}
	m.recordLiquidity(domain.EventLiquidityRemoved, caller, "dual", res)
	return res, nil
}

// RemoveLiquiditySingle burns lpIn for one token. After expiry the yield
// claim side is locked.
func (m *Market) RemoveLiquiditySingle(ctx context.Context, caller, tokenOut domain.Address, lpIn, minOut *big.Int) (LiquidityResult, error) {
	if err := m.enter(ctx); err != nil {
		return LiquidityResult{}, err
	}
	defer m.guard.Exit()

	if err := m.singleSided(tokenOut, lpIn); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", err)
	}
	m.shiftCurve()
	bal, w, _, _, isYield, err := m.sides(tokenOut, m.st.weightYield, m.st.weightBase)
	if err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", err)
	}
	supply := m.bank.TotalSupply(m.address)
	if lpIn.Cmp(supply) >= 0 {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", domain.ErrInvalidParams)
	}
	out := tokenOutGivenLpIn(bal, w, supply, lpIn, m.swapFee)
	if new(big.Int).Mul(out, big.NewInt(3)).Cmp(bal) > 0 {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", domain.ErrSwapTooLarge)
	}
	if out.Sign() <= 0 {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", domain.ErrZeroAmount)
	}
	if below(out, minOut) {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: got %s want %s: %w", out, minOut, domain.ErrInsufficientOutput)
	}

	bal.Sub(bal, out)
	if err := m.burnLP(ctx, caller, lpIn); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", err)
	}
	if err := m.bank.Transfer(tokenOut, m.address, caller, out); err != nil {
		return LiquidityResult{}, fmt.Errorf("market: remove liquidity single: %w", err)
	}

	res := sideResult(isYield, out, new(big.Int).Set(lpIn))
	m.recordLiquidity(domain.EventLiquidityRemoved, caller, "single", res)
	return res, nil
}

// singleSided checks a single-token liquidity op. Only the base side stays
// open after expiry.
func (m *Market) singleSided(tok domain.Address, amount *big.Int) error {
	if !m.st.bootstrapped {
		return domain.ErrNotBootstrapped
	}
	if tok != m.yieldToken && tok != m.baseToken {
		return fmt.Errorf("token %s: %w", tok.Hex(), domain.ErrInvalidToken)
	}
	if tok == m.yieldToken && m.expired() {
		return domain.ErrMarketLocked
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	return nil
}

func (m *Market) mintLP(ctx context.Context, to domain.Address, lp *big.Int) error {
	if err := m.collectInterest(ctx); err != nil {
		return err
	}
	m.settleLP(to)
	return m.bank.Mint(m.address, to, lp)
}

func (m *Market) burnLP(ctx context.Context, from domain.Address, lp *big.Int) error {
	if err := m.collectInterest(ctx); err != nil {
		return err
	}
	m.settleLP(from)
	if err := m.bank.Burn(m.address, from, lp); err != nil {
		return fmt.Errorf("burn lp: %w", err)
	}
	return nil
}

func (m *Market) recordLiquidity(typ domain.EventType, caller domain.Address, mode string, res LiquidityResult) {
	m.events.Record(m.event(typ, caller).
		WithAmount("yield", res.Yield).
		WithAmount("base", res.Base).
		WithAmount("lp", res.LP).
		WithAttr("mode", mode))
}

func sideResult(isYield bool, amount, lp *big.Int) LiquidityResult {
	if isYield {
		return LiquidityResult{Yield: new(big.Int).Set(amount), Base: new(big.Int), LP: lp}
	}
	return LiquidityResult{Yield: new(big.Int), Base: new(big.Int).Set(amount), LP: lp}
}

// below reports v < limit; a nil limit never binds.
func below(v, limit *big.Int) bool {
	return limit != nil && v.Cmp(limit) < 0
}
