package market

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/forge"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
	"github.com/alanyoungcy/yieldmarket/internal/txn"
)

const (
	t0       = uint64(1_700_006_400)
	expiry   = t0 + 182*86400
	startBlk = uint64(1000)
)

var (
	dai      = common.HexToAddress("0xda1")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
	carol    = common.HexToAddress("0xca201")
	gov      = common.HexToAddress("0x60")
	treasury = common.HexToAddress("0x7e")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func bigString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok)
	return v
}

func assertNear(t *testing.T, want, got *big.Int, delta int64, msg string) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	assert.True(t, diff.CmpAbs(big.NewInt(delta)) <= 0, "%s: want %s got %s", msg, want, got)
}

type tokenBook map[domain.YieldKey][2]domain.Address

func (b tokenBook) StoreTokens(k domain.YieldKey, ot, yt domain.Address) error {
	b[k] = [2]domain.Address{ot, yt}
	return nil
}

type forgeSet map[domain.SourceID]*forge.Forge

func (s forgeSet) Forge(id domain.SourceID) (YieldForge, error) {
	f, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("forge %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

type fixture struct {
	bank    *token.Bank
	clock   *chain.ManualClock
	source  *oracle.SimulatedSource
	forge   *forge.Forge
	factory *Factory
	market  *Market
	yt      domain.Address
	ot      domain.Address
	wrapped domain.Address
	journal *txn.Journal
}

// newFixture gives alice 2000 yield claims and 2000 DAI, and opens an
// unbootstrapped market for the claims against DAI.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bank := token.NewBank()
	require.NoError(t, bank.Register(token.Metadata{Address: dai, Symbol: "DAI", Decimals: 18}))
	src := oracle.NewSimulatedSource("sim", domain.RateFamilyRebasing, bank)
	wrapped, err := src.List(dai, "aDAI", rmath.One())
	require.NoError(t, err)

	auth := governance.NewAuthority(gov, treasury)
	params, err := governance.NewParamStore(auth, governance.DefaultParams())
	require.NoError(t, err)
	clock := chain.NewManualClock(t0, startBlk)

	fg := forge.New(forge.Config{
		Source: src, Bank: bank, Registry: tokenBook{}, Auth: auth, Params: params, Clock: clock, Logger: logger,
	})
	require.NoError(t, bank.Mint(dai, alice, e18(4000)))
	w, err := src.Wrap(ctx, alice, dai, e18(2000))
	require.NoError(t, err)
	require.NoError(t, bank.Approve(wrapped, alice, fg.Address(), w))
	_, err = fg.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)
	ot, yt := fg.Tokens(dai, expiry)

	factory := NewFactory(FactoryConfig{
		ID:       "generic",
		Bank:     bank,
		Treasury: auth,
		Params:   params,
		Clock:    clock,
		Forges:   forgeSet{"sim": fg},
		Logger:   logger,
	})
	addr, err := factory.CreateMarket(ctx, domain.MarketSpec{
		Factory:    "generic",
		Key:        domain.YieldKey{Source: "sim", Underlying: dai, Expiry: expiry},
		YieldToken: yt,
		BaseToken:  dai,
	})
	require.NoError(t, err)
	m, err := factory.Market(addr)
	require.NoError(t, err)

	f := &fixture{
		bank: bank, clock: clock, source: src, forge: fg, factory: factory, market: m,
		yt: yt, ot: ot, wrapped: wrapped,
		journal: txn.NewJournal(bank, fg, factory, m),
	}
	f.approve(t, alice)
	return f
}

func (f *fixture) approve(t *testing.T, owner domain.Address) {
	t.Helper()
	unlimited := e18(1_000_000_000)
	require.NoError(t, f.bank.Approve(f.yt, owner, f.market.Address(), unlimited))
	require.NoError(t, f.bank.Approve(dai, owner, f.market.Address(), unlimited))
}

func (f *fixture) bootstrap(t *testing.T) {
	t.Helper()
	_, err := f.market.Bootstrap(context.Background(), alice, e18(1000), e18(1000))
	require.NoError(t, err)
}

// trader funds a fresh account with DAI and yield claims.
func (f *fixture) trader(t *testing.T, who domain.Address, base, yield *big.Int) {
	t.Helper()
	require.NoError(t, f.bank.Mint(dai, who, base))
	if yield != nil && yield.Sign() > 0 {
		require.NoError(t, f.bank.Transfer(f.yt, alice, who, yield))
	}
	f.approve(t, who)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.market.SwapExactIn(ctx, alice, dai, e18(1), nil)
	assert.ErrorIs(t, err, domain.ErrNotBootstrapped)

	lp, err := f.market.Bootstrap(ctx, alice, e18(1000), e18(1000))
	require.NoError(t, err)
	want := new(big.Int).Sub(e18(1000), big.NewInt(MinimumLiquidity))
	assert.Equal(t, 0, want.Cmp(lp))
	assert.Equal(t, 0, lp.Cmp(f.bank.BalanceOf(f.market.Address(), alice)))
	assert.Equal(t, 0, big.NewInt(MinimumLiquidity).Cmp(f.bank.BalanceOf(f.market.Address(), domain.BurnAddress)))

	v := f.market.View()
	half := new(big.Int).Rsh(rmath.One(), 1)
	assert.Equal(t, 0, half.Cmp(v.WeightYield))
	assert.Equal(t, 0, half.Cmp(v.WeightBase))
	assert.Equal(t, t0, v.LockStartTime)
	assert.True(t, v.Bootstrapped)
	assert.True(t, v.SpotPrice.Equal(decimal.NewFromInt(1)), "spot price starts at one")
	assert.Equal(t, 0, e18(1000).Cmp(f.bank.BalanceOf(f.yt, f.market.Address())))

	_, err = f.market.Bootstrap(ctx, alice, e18(1), e18(1))
	assert.ErrorIs(t, err, domain.ErrAlreadyBootstrapped)
}

func TestScenarioSwap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(100), nil)

	f.clock.Set(t0+3600, 1300)
	out, err := f.market.SwapExactIn(ctx, bob, dai, e18(100), nil)
	require.NoError(t, err)

	// 1000·(1−(1000/1099.65)^(wb/wy)), 99.65 being 100 base less the 0.35% swap fee
	assertNear(t, bigString(t, "90630302700446918607"), out, 1_000_000_000, "yield claims out")
	assert.Equal(t, 0, out.Cmp(f.bank.BalanceOf(f.yt, bob)))
	assertNear(t, bigString(t, "22730987296806832"), f.bank.BalanceOf(f.market.Address(), treasury), 1_000_000_000, "treasury lp")

	v := f.market.View()
	assertNear(t, big.NewInt(549722213083), v.WeightYield, 16, "weight yield")
	assertNear(t, big.NewInt(549789414693), v.WeightBase, 16, "weight base")
	assert.Equal(t, 0, rmath.One().Cmp(new(big.Int).Add(v.WeightYield, v.WeightBase)))
	assert.Equal(t, 0, e18(1100).Cmp(v.ReserveBase))
	assert.Equal(t, 0, new(big.Int).Sub(e18(1000), out).Cmp(v.ReserveYield))
	assertNear(t, big.NewInt(1099377232773), f.market.st.lastPrice, 16, "last price")
}

func TestInvariantNeverDecreases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(500), e18(300))
	f.clock.Set(t0+86400, 8000)

	// the first trade of the block applies the curve shift
	_, err := f.market.SwapExactIn(ctx, bob, dai, e18(10), nil)
	require.NoError(t, err)

	trades := []struct {
		name string
		do   func() error
	}{
		{"base in", func() error { _, err := f.market.SwapExactIn(ctx, bob, dai, e18(40), nil); return err }},
		{"yield in", func() error { _, err := f.market.SwapExactIn(ctx, bob, f.yt, e18(25), nil); return err }},
		{"yield out", func() error { _, err := f.market.SwapExactOut(ctx, bob, f.yt, e18(15), nil); return err }},
		{"base out", func() error { _, err := f.market.SwapExactOut(ctx, bob, dai, e18(30), nil); return err }},
		{"small base in", func() error { _, err := f.market.SwapExactIn(ctx, bob, dai, e18(1), nil); return err }},
	}
	for _, tc := range trades {
		t.Run(tc.name, func(t *testing.T) {
			before := f.market.View()
			require.NoError(t, tc.do())
			after := f.market.View()
			require.Equal(t, 0, before.WeightYield.Cmp(after.WeightYield), "weights move only between blocks")

			g := invariantGrowth(before.ReserveYield, before.ReserveBase, after.ReserveYield, after.ReserveBase,
				after.WeightYield, after.WeightBase)
			assert.True(t, g.Cmp(rmath.One()) > 0, "invariant shrank: %s", g)
			lpGrowth := rmath.Div(after.TotalLP, before.TotalLP)
			assert.True(t, g.Cmp(lpGrowth) >= 0, "invariant per LP shrank")
		})
	}
}

func TestWeightsDecayMonotonically(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(10), nil)

	floor := governance.DefaultParams().WeightFloor
	prev := f.market.View().WeightYield
	block := startBlk
	for day := uint64(1); day < 182; day++ {
		block += 100
		f.clock.Set(t0+day*86400, block)
		_, err := f.market.SwapExactIn(ctx, bob, dai, big.NewInt(1e15), nil)
		require.NoError(t, err, "day %d", day)

		v := f.market.View()
		require.True(t, v.WeightYield.Cmp(prev) <= 0, "day %d: yield weight grew", day)
		require.True(t, v.WeightYield.Cmp(floor) >= 0, "day %d: below floor", day)
		require.Equal(t, 0, rmath.One().Cmp(new(big.Int).Add(v.WeightYield, v.WeightBase)))
		prev = v.WeightYield
	}

	f.clock.Set(expiry-3600, block+100)
	_, err := f.market.SwapExactIn(ctx, bob, dai, big.NewInt(1e15), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, floor.Cmp(f.market.View().WeightYield), "yield weight settles on the floor")
}

func TestNoShiftWithinBlockDelta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(10), nil)

	f.clock.Set(t0+86400, startBlk)
	_, err := f.market.SwapExactIn(ctx, bob, dai, e18(1), nil)
	require.NoError(t, err)
	half := new(big.Int).Rsh(rmath.One(), 1)
	assert.Equal(t, 0, half.Cmp(f.market.View().WeightYield))
}

func TestMarketLockedAtExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(100), e18(100))

	f.clock.Set(expiry-1, 5000)
	_, err := f.market.SwapExactIn(ctx, bob, dai, e18(1), nil)
	require.NoError(t, err, "one second before expiry still trades")

	f.clock.Set(expiry, 5001)
	lp := e18(10)
	locked := []struct {
		name string
		do   func() error
	}{
		{"swap exact in", func() error { _, err := f.market.SwapExactIn(ctx, bob, dai, e18(1), nil); return err }},
		{"swap exact out", func() error { _, err := f.market.SwapExactOut(ctx, bob, f.yt, e18(1), nil); return err }},
		{"add dual", func() error { _, err := f.market.AddLiquidityDual(ctx, alice, e18(1), e18(1), nil, nil); return err }},
		{"add single yield", func() error { _, err := f.market.AddLiquiditySingle(ctx, bob, f.yt, e18(1), nil); return err }},
		{"remove single yield", func() error { _, err := f.market.RemoveLiquiditySingle(ctx, alice, f.yt, lp, nil); return err }},
	}
	for _, tc := range locked {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.do()
			assert.ErrorIs(t, err, domain.ErrMarketLocked)
			assert.Equal(t, domain.KindState, domain.KindOf(err))
		})
	}

	_, err = f.market.QuoteExactIn(dai, e18(1))
	assert.ErrorIs(t, err, domain.ErrMarketLocked)

	open := []struct {
		name string
		do   func() error
	}{
		{"add single base", func() error { _, err := f.market.AddLiquiditySingle(ctx, bob, dai, e18(1), nil); return err }},
		{"remove single base", func() error { _, err := f.market.RemoveLiquiditySingle(ctx, alice, dai, lp, nil); return err }},
		{"remove dual", func() error { _, err := f.market.RemoveLiquidityDual(ctx, alice, lp, nil, nil); return err }},
	}
	for _, tc := range open {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, tc.do())
		})
	}
}

func TestSwapLimitsAndSlippage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(1000), nil)

	quote, err := f.market.QuoteExactIn(dai, e18(10))
	require.NoError(t, err)
	before := f.market.View()

	_, err = f.market.SwapExactIn(ctx, bob, dai, e18(10), new(big.Int).Add(quote, big.NewInt(1)))
	assert.ErrorIs(t, err, domain.ErrInsufficientOutput)
	assert.Equal(t, domain.KindSlippage, domain.KindOf(err))

	need, err := f.market.QuoteExactOut(f.yt, e18(10))
	require.NoError(t, err)
	_, err = f.market.SwapExactOut(ctx, bob, f.yt, e18(10), new(big.Int).Sub(need, big.NewInt(1)))
	assert.ErrorIs(t, err, domain.ErrExcessiveInput)

	_, err = f.market.SwapExactIn(ctx, bob, dai, e18(501), nil)
	assert.ErrorIs(t, err, domain.ErrSwapTooLarge)
	_, err = f.market.SwapExactOut(ctx, bob, f.yt, e18(334), nil)
	assert.ErrorIs(t, err, domain.ErrSwapTooLarge)
	_, err = f.market.SwapExactIn(ctx, bob, f.ot, e18(1), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = f.market.SwapExactIn(ctx, bob, dai, big.NewInt(0), nil)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)

	after := f.market.View()
	assert.Equal(t, 0, before.ReserveYield.Cmp(after.ReserveYield))
	assert.Equal(t, 0, before.ReserveBase.Cmp(after.ReserveBase))

	paid, err := f.market.SwapExactOut(ctx, bob, f.yt, e18(10), need)
	require.NoError(t, err)
	assert.Equal(t, 0, need.Cmp(paid))
	assert.Equal(t, 0, e18(10).Cmp(f.bank.BalanceOf(f.yt, bob)))
}

func TestQuoteMatchesSwap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(100), nil)

	f.clock.Set(t0+40*86400, 90_000)
	quote, err := f.market.QuoteExactIn(dai, e18(25))
	require.NoError(t, err)
	out, err := f.market.SwapExactIn(ctx, bob, dai, e18(25), quote)
	require.NoError(t, err)
	assert.Equal(t, 0, quote.Cmp(out))
}

func TestDualLiquidity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)

	res, err := f.market.AddLiquidityDual(ctx, alice, e18(100), e18(250), e18(100), e18(100))
	require.NoError(t, err)
	assert.Equal(t, 0, e18(100).Cmp(res.Yield))
	assert.Equal(t, 0, e18(100).Cmp(res.Base), "base capped at the reserve ratio")
	assert.Equal(t, 0, e18(100).Cmp(res.LP))

	_, err = f.market.AddLiquidityDual(ctx, alice, e18(100), e18(100), e18(101), nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientOutput)

	out, err := f.market.RemoveLiquidityDual(ctx, alice, e18(100), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e18(100).Cmp(out.Yield))
	assert.Equal(t, 0, e18(100).Cmp(out.Base))

	_, err = f.market.RemoveLiquidityDual(ctx, alice, e18(5000), nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParams)
}

func TestSingleLiquidity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)

	before := f.market.View()
	added, err := f.market.AddLiquiditySingle(ctx, alice, dai, e18(50), nil)
	require.NoError(t, err)
	require.Equal(t, 1, added.LP.Sign())
	after := f.market.View()
	assert.Equal(t, 0, before.WeightYield.Cmp(after.WeightYield))

	g := invariantGrowth(before.ReserveYield, before.ReserveBase, after.ReserveYield, after.ReserveBase,
		after.WeightYield, after.WeightBase)
	assert.True(t, g.Cmp(rmath.Div(after.TotalLP, before.TotalLP)) >= 0, "single add diluted LP")

	_, err = f.market.AddLiquiditySingle(ctx, alice, dai, e18(50), e18(1000))
	assert.ErrorIs(t, err, domain.ErrInsufficientOutput)
	_, err = f.market.AddLiquiditySingle(ctx, alice, dai, e18(600), nil)
	assert.ErrorIs(t, err, domain.ErrSwapTooLarge)

	removed, err := f.market.RemoveLiquiditySingle(ctx, alice, dai, added.LP, nil)
	require.NoError(t, err)
	assert.True(t, removed.Base.Cmp(e18(50)) < 0, "round trip pays fees")
	assert.True(t, removed.Base.Cmp(e18(49)) > 0)
}

func TestLpInterest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)

	require.NoError(t, f.source.Grow(dai, rmath.FromFraction(11, 10)))
	// the market's 1000 claims earned 100 aDAI; the forge keeps 3%
	require.NoError(t, f.bank.Transfer(f.market.Address(), alice, carol, e18(500)))
	assert.Equal(t, 0, f.market.PendingLpInterest(carol).Sign(), "receiver earns nothing from before the transfer")

	paid, err := f.market.RedeemLpInterests(ctx, alice)
	require.NoError(t, err)
	assertNear(t, e18(97), paid, 1_000_000_000, "alice lp interest")
	assert.Equal(t, 0, paid.Cmp(f.bank.BalanceOf(f.wrapped, alice)))

	again, err := f.market.RedeemLpInterests(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sign())

	require.NoError(t, f.source.Grow(dai, rmath.FromFraction(11, 10)))
	carolPaid, err := f.market.RedeemLpInterests(ctx, carol)
	require.NoError(t, err)
	alicePaid, err := f.market.RedeemLpInterests(ctx, alice)
	require.NoError(t, err)
	assertNear(t, alicePaid, carolPaid, 1_000_000_000, "equal LP earns equally")
}

func TestReentrantTransferRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.bootstrap(t)
	f.trader(t, bob, e18(100), nil)
	before := f.market.View()

	f.bank.SetTransferHook(dai, func(_, _, _ domain.Address, _ *big.Int) error {
		_, err := f.market.SwapExactIn(ctx, bob, dai, e18(1), nil)
		return err
	})
	err := f.journal.Atomic(func() error {
		_, err := f.market.SwapExactIn(ctx, bob, dai, e18(10), nil)
		return err
	})
	f.bank.SetTransferHook(dai, nil)

	assert.ErrorIs(t, err, domain.ErrReentrancy)
	after := f.market.View()
	assert.Equal(t, 0, before.ReserveBase.Cmp(after.ReserveBase), "rolled back")
	assert.Equal(t, 0, e18(100).Cmp(f.bank.BalanceOf(dai, bob)))
	assert.Equal(t, 0, f.bank.BalanceOf(f.yt, bob).Sign())
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key := domain.YieldKey{Source: "sim", Underlying: dai, Expiry: expiry}

	_, err := f.factory.CreateMarket(ctx, domain.MarketSpec{Factory: "generic", Key: key, YieldToken: f.yt, BaseToken: dai})
	assert.ErrorIs(t, err, domain.ErrExistingMarket)

	_, err = f.factory.CreateMarket(ctx, domain.MarketSpec{Factory: "other", Key: key, YieldToken: f.yt, BaseToken: dai})
	assert.ErrorIs(t, err, domain.ErrIncompatibleFactory)

	_, err = f.factory.CreateMarket(ctx, domain.MarketSpec{Factory: "generic", Key: key, YieldToken: f.ot, BaseToken: dai})
	assert.ErrorIs(t, err, domain.ErrNotYieldClaim)

	_, err = f.factory.Market(common.HexToAddress("0x1234"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	markets := f.factory.Markets()
	require.Len(t, markets, 1)
	assert.Equal(t, f.market.Address(), markets[0].Address())
	assert.Equal(t, domain.MarketAddress(domain.MarketKey{Factory: "generic", Pair: domain.NewTokenPair(dai, f.yt)}), f.market.Address())
}
