package forge

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
	"github.com/alanyoungcy/yieldmarket/internal/txn"
)

const t0 = uint64(1_700_006_400) // a day boundary

var (
	dai      = common.HexToAddress("0xda1")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
	carol    = common.HexToAddress("0xca201")
	gov      = common.HexToAddress("0x60")
	treasury = common.HexToAddress("0x7e")
	expiry   = t0 + 180*86400
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type tokenBook map[domain.YieldKey][2]domain.Address

func (b tokenBook) StoreTokens(k domain.YieldKey, ot, yt domain.Address) error {
	if _, ok := b[k]; ok {
		return domain.ErrAlreadyExists
	}
	b[k] = [2]domain.Address{ot, yt}
	return nil
}

type env struct {
	bank    *token.Bank
	source  *oracle.SimulatedSource
	wrapped domain.Address
	clock   *chain.ManualClock
	forge   *Forge
	journal *txn.Journal
}

func newEnv(t *testing.T, family domain.RateFamily, initialRate *big.Int) *env {
	t.Helper()
	bank := token.NewBank()
	require.NoError(t, bank.Register(token.Metadata{Address: dai, Symbol: "DAI", Decimals: 18}))
	src := oracle.NewSimulatedSource("sim", family, bank)
	wrapped, err := src.List(dai, "wDAI", initialRate)
	require.NoError(t, err)

	auth := governance.NewAuthority(gov, treasury)
	params, err := governance.NewParamStore(auth, governance.DefaultParams())
	require.NoError(t, err)
	clock := chain.NewManualClock(t0, 1000)

	f := New(Config{
		Source:   src,
		Bank:     bank,
		Registry: tokenBook{},
		Auth:     auth,
		Params:   params,
		Clock:    clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &env{bank: bank, source: src, wrapped: wrapped, clock: clock, forge: f, journal: txn.NewJournal(bank, f)}
}

// fund gives owner wrapped tokens worth amount underlying and approves the
// forge to pull them.
func (e *env) fund(t *testing.T, owner domain.Address, amount *big.Int) *big.Int {
	t.Helper()
	require.NoError(t, e.bank.Mint(dai, owner, amount))
	w, err := e.source.Wrap(context.Background(), owner, dai, amount)
	require.NoError(t, err)
	require.NoError(t, e.bank.Approve(e.wrapped, owner, e.forge.Address(), w))
	return w
}

func withinTolerance(t *testing.T, family domain.RateFamily, want, got *big.Int) {
	t.Helper()
	diff := new(big.Int).Sub(want, got)
	diff.Abs(diff)
	limit := rmath.Mul(want, oracle.Tolerance(family))
	assert.True(t, diff.Cmp(limit) <= 0, "want %s got %s (diff %s > %s)", want, got, diff, limit)
}

func TestTokenizeMintsClaimsInUnderlyingValue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	w := e.fund(t, alice, e18(1000))
	assert.Equal(t, 0, e18(500).Cmp(w))

	claims, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, e18(1000).Cmp(claims))

	ot, yt := e.forge.Tokens(dai, expiry)
	assert.Equal(t, 0, claims.Cmp(e.bank.BalanceOf(ot, alice)))
	assert.Equal(t, 0, claims.Cmp(e.bank.BalanceOf(yt, alice)))
	assert.Equal(t, 0, w.Cmp(e.bank.BalanceOf(e.wrapped, e.forge.Address())))

	view, err := e.forge.Contract(dai, expiry)
	require.NoError(t, err)
	assert.Equal(t, 0, claims.Cmp(view.TotalLocked))
	assert.Equal(t, t0, view.Start)
	assert.Equal(t, "ratio", view.Family)
}

func TestClaimParity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	wa := e.fund(t, alice, e18(1000))
	wb := e.fund(t, bob, e18(300))

	_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, wa, alice)
	require.NoError(t, err)
	_, err = e.forge.TokenizeYield(ctx, bob, dai, expiry, wb, bob)
	require.NoError(t, err)
	ot, yt := e.forge.Tokens(dai, expiry)

	check := func() {
		t.Helper()
		view, err := e.forge.Contract(dai, expiry)
		require.NoError(t, err)
		assert.Equal(t, 0, e.bank.TotalSupply(ot).Cmp(e.bank.TotalSupply(yt)))
		assert.Equal(t, 0, e.bank.TotalSupply(ot).Cmp(view.TotalLocked))
	}
	check()

	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	require.NoError(t, e.bank.Transfer(yt, alice, carol, e18(400)))
	_, err = e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)
	check()

	_, err = e.forge.RedeemUnderlying(ctx, bob, dai, expiry, e18(250))
	require.NoError(t, err)
	check()
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		family domain.RateFamily
		rate   *big.Int
	}{
		{"ratio", domain.RateFamilyRatio, rmath.FromInt(2)},
		{"rebasing", domain.RateFamilyRebasing, rmath.One()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, tc.family, tc.rate)
			w := e.fund(t, alice, e18(1000))

			claims, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
			require.NoError(t, err)
			out, err := e.forge.RedeemUnderlying(ctx, alice, dai, expiry, claims)
			require.NoError(t, err)

			assert.Equal(t, 0, w.Cmp(out))
			assert.Equal(t, 0, w.Cmp(e.bank.BalanceOf(e.wrapped, alice)))
			assert.Equal(t, 0, e.bank.BalanceOf(e.wrapped, e.forge.Address()).Sign())
		})
	}
}

func TestRedeemDueInterestsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	w := e.fund(t, alice, e18(1000))
	_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)

	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(105, 100)))
	first, err := e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sign())

	second, err := e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sign())

	ot, _ := e.forge.Tokens(dai, expiry)
	assert.Equal(t, 0, e18(1000).Cmp(e.bank.BalanceOf(ot, alice)), "interest never burns claims")
}

func TestTwoDepositorsEarnAppreciationLessFee(t *testing.T) {
	for _, tc := range []struct {
		name   string
		family domain.RateFamily
		rate   *big.Int
	}{
		{"ratio", domain.RateFamilyRatio, rmath.FromInt(2)},
		{"rebasing", domain.RateFamilyRebasing, rmath.One()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, tc.family, tc.rate)
			wa := e.fund(t, alice, e18(1000))
			wb := e.fund(t, bob, e18(1000))
			claims, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, wa, alice)
			require.NoError(t, err)
			_, err = e.forge.TokenizeYield(ctx, bob, dai, expiry, wb, bob)
			require.NoError(t, err)

			e.clock.Advance(30*24*time.Hour, 216000)
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(105, 100)))
			rate, err := e.source.ExchangeRate(ctx, dai)
			require.NoError(t, err)

			// appreciation of one deposit, in wrapped tokens
			var appreciation *big.Int
			if tc.family == domain.RateFamilyRatio {
				appreciation = new(big.Int).Sub(wa, oracle.FromClaimUnits(tc.family, claims, rate))
			} else {
				grown := rmath.MulDiv(wa, rate, tc.rate)
				appreciation = grown.Sub(grown, wa)
			}
			fee := rmath.Mul(appreciation, governance.DefaultParams().ForgeFeeRate)
			want := new(big.Int).Sub(appreciation, fee)

			for _, who := range []domain.Address{alice, bob} {
				before := e.bank.BalanceOf(e.wrapped, who)
				paid, err := e.forge.RedeemDueInterests(ctx, dai, expiry, who)
				require.NoError(t, err)
				withinTolerance(t, tc.family, want, paid)
				after := e.bank.BalanceOf(e.wrapped, who)
				assert.Equal(t, 0, paid.Cmp(after.Sub(after, before)))
			}

			view, err := e.forge.Contract(dai, expiry)
			require.NoError(t, err)
			withinTolerance(t, tc.family, new(big.Int).Mul(fee, big.NewInt(2)), view.AccruedForgeFee)
		})
	}
}

func TestYieldTransferSettlesBothSides(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRebasing, rmath.One())
	w := e.fund(t, alice, e18(1000))
	_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)
	_, yt := e.forge.Tokens(dai, expiry)

	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	require.NoError(t, e.bank.Transfer(yt, alice, bob, e18(1000)))
	aliceDue := e.forge.DueInterest(dai, expiry, alice)
	withinTolerance(t, domain.RateFamilyRebasing, e18(100), aliceDue)
	assert.Equal(t, 0, e.forge.DueInterest(dai, expiry, bob).Sign(), "receiver earns nothing from before the transfer")

	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	require.NoError(t, e.forge.SettleInterest(ctx, dai, expiry, bob))
	require.NoError(t, e.forge.SettleInterest(ctx, dai, expiry, alice))
	withinTolerance(t, domain.RateFamilyRebasing, e18(100), e.forge.DueInterest(dai, expiry, bob))
	// the sender's yield claim stops earning; its unpaid interest still rebases
	withinTolerance(t, domain.RateFamilyRebasing, rmath.Mul(aliceDue, rmath.FromFraction(11, 10)), e.forge.DueInterest(dai, expiry, alice))
}

func TestTokenizeValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	w := e.fund(t, alice, e18(10))

	tests := []struct {
		name   string
		expiry uint64
		amount *big.Int
		want   error
	}{
		{"zero amount", expiry, big.NewInt(0), domain.ErrZeroAmount},
		{"expiry in the past", t0 - 86400, w, domain.ErrInvalidExpiry},
		{"expiry now", t0, w, domain.ErrInvalidExpiry},
		{"unaligned expiry", expiry + 1, w, domain.ErrInvalidExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.forge.TokenizeYield(ctx, alice, dai, tt.expiry, tt.amount, alice)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestNewYieldContractOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	view, err := e.forge.NewYieldContract(ctx, dai, expiry)
	require.NoError(t, err)
	assert.Equal(t, domain.YieldTokenAddress(view.Key), view.YieldToken)

	_, err = e.forge.NewYieldContract(ctx, dai, expiry)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestExpiryRules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	w := e.fund(t, alice, e18(1000))
	claims, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)

	_, err = e.forge.RedeemAfterExpiry(ctx, alice, dai, expiry)
	assert.ErrorIs(t, err, domain.ErrNotYetExpired)

	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	require.NoError(t, e.forge.SettleInterest(ctx, dai, expiry, alice))
	e.clock.Set(expiry, 2_000_000)

	// growth after expiry earns the yield claim nothing
	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	pending, err := e.forge.PendingInterest(ctx, dai, expiry, alice)
	require.NoError(t, err)

	_, err = e.forge.RedeemUnderlying(ctx, alice, dai, expiry, claims)
	assert.ErrorIs(t, err, domain.ErrAlreadyExpired)

	view, err := e.forge.Contract(dai, expiry)
	require.NoError(t, err)
	out, err := e.forge.RedeemAfterExpiry(ctx, alice, dai, expiry)
	require.NoError(t, err)
	// the wrapped backing frozen at expiry, not the live rate
	assert.Equal(t, 0, oracle.FromClaimUnits(domain.RateFamilyRatio, claims, view.RateBeforeExpiry).Cmp(out))

	paid, err := e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Cmp(paid))
	appreciation := new(big.Int).Sub(w, oracle.FromClaimUnits(domain.RateFamilyRatio, claims, rmath.Mul(rmath.FromInt(2), rmath.FromFraction(11, 10))))
	withinTolerance(t, domain.RateFamilyRatio, new(big.Int).Sub(appreciation, rmath.Mul(appreciation, governance.DefaultParams().ForgeFeeRate)), paid)

	_, err = e.forge.RedeemAfterExpiry(ctx, alice, dai, expiry)
	assert.ErrorIs(t, err, domain.ErrZeroAmount)
}

// drainForge redeems every holder's interest and principal after expiry and
// withdraws the fee, then returns what is left in the forge.
func (e *env) drainForge(t *testing.T, holders ...domain.Address) *big.Int {
	t.Helper()
	ctx := context.Background()
	e.clock.Set(expiry, 2_000_000)
	for _, who := range holders {
		_, err := e.forge.RedeemDueInterests(ctx, dai, expiry, who)
		require.NoError(t, err)
		_, err = e.forge.RedeemAfterExpiry(ctx, who, dai, expiry)
		require.NoError(t, err)
	}
	_, err := e.forge.WithdrawForgeFee(ctx, gov, dai, expiry)
	require.NoError(t, err)
	return e.bank.BalanceOf(e.wrapped, e.forge.Address())
}

func TestForgeFullyDrains(t *testing.T) {
	// rounding leaves at most a few wei per holder behind
	dust := big.NewInt(1_000)
	tests := []struct {
		name   string
		family domain.RateFamily
		rate   *big.Int
		run    func(t *testing.T, e *env)
	}{
		{"rebasing, interest settled before expiry", domain.RateFamilyRebasing, rmath.One(), func(t *testing.T, e *env) {
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
			require.NoError(t, e.forge.SettleInterest(context.Background(), dai, expiry, alice))
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
		}},
		{"rebasing, growth after expiry", domain.RateFamilyRebasing, rmath.One(), func(t *testing.T, e *env) {
			e.clock.Set(expiry, 2_000_000)
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
		}},
		{"ratio, growth on both sides of expiry", domain.RateFamilyRatio, rmath.FromFraction(1, 50), func(t *testing.T, e *env) {
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
			require.NoError(t, e.forge.SettleInterest(context.Background(), dai, expiry, alice))
			e.clock.Set(expiry, 2_000_000)
			require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, tc.family, tc.rate)
			for _, who := range []domain.Address{alice, bob} {
				w := e.fund(t, who, e18(1000))
				_, err := e.forge.TokenizeYield(ctx, who, dai, expiry, w, who)
				require.NoError(t, err)
			}
			tc.run(t, e)

			held := e.bank.BalanceOf(e.wrapped, e.forge.Address())
			left := e.drainForge(t, alice, bob)
			assert.True(t, left.Sign() >= 0)
			assert.True(t, left.Cmp(dust) <= 0, "%s of %s wrapped left in the forge", left, held)
		})
	}
}

func TestRebasingGrowthAfterExpiryGoesToPrincipal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRebasing, rmath.One())
	w := e.fund(t, alice, e18(1000))
	_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)

	e.clock.Set(expiry, 2_000_000)
	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))

	paid, err := e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, paid.Sign())
	out, err := e.forge.RedeemAfterExpiry(ctx, alice, dai, expiry)
	require.NoError(t, err)
	withinTolerance(t, domain.RateFamilyRebasing, e18(1100), out)
}

func TestWithdrawForgeFee(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	w := e.fund(t, alice, e18(1000))
	_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
	require.NoError(t, err)
	require.NoError(t, e.source.Grow(dai, rmath.FromFraction(11, 10)))
	_, err = e.forge.RedeemDueInterests(ctx, dai, expiry, alice)
	require.NoError(t, err)

	_, err = e.forge.WithdrawForgeFee(ctx, alice, dai, expiry)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	view, err := e.forge.Contract(dai, expiry)
	require.NoError(t, err)
	fee, err := e.forge.WithdrawForgeFee(ctx, gov, dai, expiry)
	require.NoError(t, err)
	assert.Equal(t, 1, fee.Sign())
	assert.Equal(t, 0, view.AccruedForgeFee.Cmp(fee))
	assert.Equal(t, 0, fee.Cmp(e.bank.BalanceOf(e.wrapped, treasury)))

	again, err := e.forge.WithdrawForgeFee(ctx, gov, dai, expiry)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sign())
}

func TestFailedPullRollsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	require.NoError(t, e.bank.Mint(dai, alice, e18(100)))
	w, err := e.source.Wrap(ctx, alice, dai, e18(100))
	require.NoError(t, err)

	err = e.journal.Atomic(func() error {
		_, err := e.forge.TokenizeYield(ctx, alice, dai, expiry, w, alice)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Equal(t, domain.KindExternalTransfer, domain.KindOf(err))

	_, err = e.forge.Contract(dai, expiry)
	assert.ErrorIs(t, err, domain.ErrNotFound, "contract creation rolled back")
	ot, _ := e.forge.Tokens(dai, expiry)
	assert.Equal(t, domain.ZeroAddress, ot)
	assert.False(t, e.bank.Exists(domain.OwnershipTokenAddress(domain.YieldKey{Source: "sim", Underlying: dai, Expiry: expiry})))
}

func TestReentrantCallRejected(t *testing.T) {
	e := newEnv(t, domain.RateFamilyRatio, rmath.FromInt(2))
	require.NoError(t, e.forge.guard.Enter())
	defer e.forge.guard.Exit()
	_, err := e.forge.TokenizeYield(context.Background(), alice, dai, expiry, e18(1), alice)
	assert.ErrorIs(t, err, domain.ErrReentrancy)
}
