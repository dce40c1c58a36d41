package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

// ParseAmount converts a human-readable amount such as "12.5" into base
// units of a token with the given decimals.
func ParseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidParams, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidParams, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidParams, s, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatAmount renders base units as a human-readable amount.
func FormatAmount(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// FixedToDecimal converts a RONE-scaled fixed-point value to a decimal.
func FixedToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0).Div(decimal.NewFromBigInt(rmath.One(), 0))
}

// ParseFixed parses a decimal ("0.0035") or an integer fraction ("1/7") into
// a RONE-scaled fixed-point value, truncating.
func ParseFixed(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, okN := new(big.Int).SetString(strings.TrimSpace(num), 10)
		d, okD := new(big.Int).SetString(strings.TrimSpace(den), 10)
		if !okN || !okD || d.Sign() <= 0 || n.Sign() < 0 {
			return nil, fmt.Errorf("%w: fraction %q", ErrInvalidParams, s)
		}
		return n.Mul(n, rmath.One()).Quo(n, d), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: fixed-point %q: %v", ErrInvalidParams, s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative fixed-point %q", ErrInvalidParams, s)
	}
	return d.Mul(decimal.NewFromBigInt(rmath.One(), 0)).Truncate(0).BigInt(), nil
}
