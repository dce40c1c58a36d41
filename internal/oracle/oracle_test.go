package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

var (
	dai   = common.HexToAddress("0xda1")
	alice = common.HexToAddress("0xa11ce")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newBank(t *testing.T) *token.Bank {
	t.Helper()
	b := token.NewBank()
	require.NoError(t, b.Register(token.Metadata{Address: dai, Symbol: "DAI", Decimals: 18}))
	require.NoError(t, b.Mint(dai, alice, e18(1000)))
	return b
}

func TestClaimUnits(t *testing.T) {
	rate := rmath.FromFraction(3, 2)
	assert.Equal(t, 0, e18(150).Cmp(ToClaimUnits(domain.RateFamilyRatio, e18(100), rate)))
	assert.Equal(t, 0, e18(100).Cmp(FromClaimUnits(domain.RateFamilyRatio, e18(150), rate)))
	assert.Equal(t, 0, e18(100).Cmp(ToClaimUnits(domain.RateFamilyRebasing, e18(100), rate)))
	assert.Equal(t, 0, e18(100).Cmp(FromClaimUnits(domain.RateFamilyRebasing, e18(100), rate)))
}

func TestShares(t *testing.T) {
	rate := rmath.FromFraction(3, 2)
	assert.Equal(t, 0, e18(100).Cmp(ToShares(domain.RateFamilyRebasing, e18(150), rate)))
	assert.Equal(t, 0, e18(150).Cmp(FromShares(domain.RateFamilyRebasing, e18(100), rate)))
	assert.Equal(t, 0, e18(150).Cmp(ToShares(domain.RateFamilyRatio, e18(150), rate)))
	assert.Equal(t, 0, e18(150).Cmp(FromShares(domain.RateFamilyRatio, e18(150), rate)))
}

func TestPrincipalAfterExpiry(t *testing.T) {
	frozen, live := rmath.FromFraction(3, 2), rmath.FromInt(3)
	// a rebasing backing doubled after expiry
	assert.Equal(t, 0, e18(200).Cmp(PrincipalAfterExpiry(domain.RateFamilyRebasing, e18(100), frozen, live)))
	// a ratio backing is fixed at the frozen rate
	assert.Equal(t, 0, e18(100).Cmp(PrincipalAfterExpiry(domain.RateFamilyRatio, e18(150), frozen, live)))
}

func TestInterest(t *testing.T) {
	one := rmath.One()
	grown := rmath.FromFraction(11, 10)

	// 100 underlying of claims, rate 1 -> 1.1: 10 underlying = 10/1.1 wrapped
	ratio := Interest(domain.RateFamilyRatio, e18(100), one, grown)
	want := new(big.Int).Quo(e18(100), big.NewInt(11))
	assert.InDelta(t, 0, new(big.Int).Sub(ratio, want).Int64(), 1e9)

	// rebasing: 100 aTokens grow by 10%
	rebasing := Interest(domain.RateFamilyRebasing, e18(100), one, grown)
	assert.InDelta(t, 0, new(big.Int).Sub(rebasing, e18(10)).Int64(), 1e9)

	assert.Equal(t, 0, Interest(domain.RateFamilyRatio, e18(100), grown, one).Sign(), "rate decrease earns nothing")
	assert.Equal(t, 0, Interest(domain.RateFamilyRatio, e18(100), one, one).Sign())
	assert.Equal(t, 0, Interest(domain.RateFamilyRatio, big.NewInt(0), one, grown).Sign())
}

func TestToleranceDependsOnFamily(t *testing.T) {
	assert.Equal(t, 1, Tolerance(domain.RateFamilyRebasing).Cmp(Tolerance(domain.RateFamilyRatio)))
}

func TestTable(t *testing.T) {
	bank := newBank(t)
	cmp := NewSimulatedSource("compound", domain.RateFamilyRatio, bank)
	tbl, err := NewTable(cmp)
	require.NoError(t, err)
	assert.ErrorIs(t, tbl.Add(cmp), domain.ErrAlreadyExists)

	got, err := tbl.Get("compound")
	require.NoError(t, err)
	assert.Equal(t, domain.RateFamilyRatio, got.Family())
	_, err = tbl.Get("aave")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []domain.SourceID{"compound"}, tbl.IDs())
}

func TestSimulatedRatioWrapUnwrap(t *testing.T) {
	ctx := context.Background()
	bank := newBank(t)
	src := NewSimulatedSource("compound", domain.RateFamilyRatio, bank)
	cdai, err := src.List(dai, "cDAI", rmath.FromInt(2))
	require.NoError(t, err)

	minted, err := src.Wrap(ctx, alice, dai, e18(100))
	require.NoError(t, err)
	assert.Equal(t, 0, e18(50).Cmp(minted))
	assert.Equal(t, 0, e18(50).Cmp(bank.BalanceOf(cdai, alice)))

	require.NoError(t, src.SetRate(dai, rmath.FromInt(3)))
	got, err := src.Unwrap(ctx, alice, dai, e18(50))
	require.NoError(t, err)
	assert.Equal(t, 0, e18(150).Cmp(got))
	assert.Equal(t, 0, e18(1050).Cmp(bank.BalanceOf(dai, alice)))
}

func TestSimulatedRebasingGrowsBalances(t *testing.T) {
	ctx := context.Background()
	bank := newBank(t)
	src := NewSimulatedSource("aave", domain.RateFamilyRebasing, bank)
	adai, err := src.List(dai, "aDAI", rmath.One())
	require.NoError(t, err)
	_, err = src.List(dai, "aDAI", rmath.One())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = src.Wrap(ctx, alice, dai, e18(100))
	require.NoError(t, err)
	require.NoError(t, src.Grow(dai, rmath.FromFraction(105, 100)))

	bal := bank.BalanceOf(adai, alice)
	diff := new(big.Int).Sub(bal, e18(105))
	assert.InDelta(t, 0, diff.Int64(), 1e9)
	rate, err := src.ExchangeRate(ctx, dai)
	require.NoError(t, err)
	assert.Equal(t, 1, rate.Cmp(rmath.One()))
}

func TestSimulatedUnknownMarket(t *testing.T) {
	src := NewSimulatedSource("aave", domain.RateFamilyRebasing, newBank(t))
	_, err := src.ExchangeRate(context.Background(), dai)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = src.YieldToken(dai)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeCaller struct {
	calls []ethereum.CallMsg
	ret   *big.Int
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, call)
	return common.LeftPadBytes(f.ret.Bytes(), 32), nil
}

func TestCompoundSource(t *testing.T) {
	cdai := common.HexToAddress("0xc0")
	// 0.02 DAI per cDAI at 1e18 scale
	caller := &fakeCaller{ret: new(big.Int).Quo(e18(2), big.NewInt(100))}
	src, err := NewCompoundSource("compound", caller, map[domain.Address]domain.Address{dai: cdai}, e18(1))
	require.NoError(t, err)

	rate, err := src.ExchangeRate(context.Background(), dai)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, rmath.ToFloat(rate), 1e-9)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, cdai, *caller.calls[0].To)
	assert.Equal(t, crypto.Keccak256([]byte("exchangeRateStored()"))[:4], caller.calls[0].Data[:4])
}

func TestAaveSource(t *testing.T) {
	pool := common.HexToAddress("0x9001")
	adai := common.HexToAddress("0xad")
	income := new(big.Int).Mul(ray, big.NewInt(103))
	income.Quo(income, big.NewInt(100))
	caller := &fakeCaller{ret: income}
	src, err := NewAaveSource("aave", caller, pool, map[domain.Address]domain.Address{dai: adai})
	require.NoError(t, err)

	rate, err := src.ExchangeRate(context.Background(), dai)
	require.NoError(t, err)
	assert.InDelta(t, 1.03, rmath.ToFloat(rate), 1e-9)
	assert.Equal(t, pool, *caller.calls[0].To)
	assert.Len(t, caller.calls[0].Data, 4+32)

	_, err = src.ExchangeRate(context.Background(), common.HexToAddress("0x1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
