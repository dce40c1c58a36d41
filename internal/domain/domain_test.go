package domain

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("forge: tokenize: %w", ErrZeroAmount), KindValidation},
		{fmt.Errorf("market: swap: %w", ErrMarketLocked), KindState},
		{ErrUnauthorized, KindAuthorization},
		{fmt.Errorf("router: %w", fmt.Errorf("market: %w", ErrInsufficientOutput)), KindSlippage},
		{fmt.Errorf("token: %w", ErrInsufficientAllowance), KindExternalTransfer},
		{fmt.Errorf("boom"), KindUnknown},
		{nil, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestTokenPairIsUnordered(t *testing.T) {
	x := common.HexToAddress("0x01")
	y := common.HexToAddress("0x02")
	assert.Equal(t, NewTokenPair(x, y), NewTokenPair(y, x))
	assert.Equal(t, x, NewTokenPair(y, x).A)
}

func TestDerivedAddressesAreDistinct(t *testing.T) {
	k := YieldKey{Source: "compound", Underlying: common.HexToAddress("0xabc"), Expiry: 1700006400}
	ot, yt := OwnershipTokenAddress(k), YieldTokenAddress(k)
	assert.NotEqual(t, ot, yt)
	assert.Equal(t, ot, OwnershipTokenAddress(k))

	k2 := k
	k2.Expiry += 86400
	assert.NotEqual(t, yt, YieldTokenAddress(k2))
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("12.5", 18)
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("12500000000000000000", 10)
	assert.Equal(t, 0, want.Cmp(v))

	_, err = ParseAmount("0.0000001", 6)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = ParseAmount("-1", 6)
	assert.ErrorIs(t, err, ErrInvalidParams)
	_, err = ParseAmount("abc", 6)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(big.NewInt(1500000), 6))
	assert.Equal(t, "0", FormatAmount(nil, 6))
}

func TestFixedToDecimal(t *testing.T) {
	half := new(big.Int).Lsh(big.NewInt(1), 39)
	assert.Equal(t, "0.5", FixedToDecimal(half).String())
}

func TestParseFixed(t *testing.T) {
	tests := []struct {
		in   string
		want *big.Int
	}{
		{"1/7", rmath.FromFraction(1, 7)},
		{"35/10000", rmath.FromFraction(35, 10_000)},
		{"0.5", new(big.Int).Lsh(big.NewInt(1), 39)},
		{"1", rmath.One()},
	}
	for _, tt := range tests {
		got, err := ParseFixed(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, 0, tt.want.Cmp(got), tt.in)
	}
	for _, bad := range []string{"1/0", "-0.1", "x", "a/b"} {
		_, err := ParseFixed(bad)
		assert.ErrorIs(t, err, ErrInvalidParams, bad)
	}
}

func TestParseRateFamily(t *testing.T) {
	f, err := ParseRateFamily("rebasing")
	require.NoError(t, err)
	assert.Equal(t, RateFamilyRebasing, f)
	assert.Equal(t, "rebasing", f.String())
	_, err = ParseRateFamily("other")
	assert.ErrorIs(t, err, ErrInvalidParams)
}
