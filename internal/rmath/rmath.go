// Package rmath implements unsigned and signed fixed-point arithmetic on
// *big.Int with RONE = 2^40 as the unit.
//
// All functions allocate their result; arguments are never mutated.
package rmath

import "math/big"

// PrecisionBits is the number of fractional bits in a fixed-point value.
const PrecisionBits = 40

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
	rone    = new(big.Int).Lsh(bigOne, PrecisionBits)
	halfOne = new(big.Int).Rsh(rone, 1)
	twoOne  = new(big.Int).Lsh(rone, 1)
)

// One returns RONE.
func One() *big.Int { return new(big.Int).Set(rone) }

// FromInt returns n as a fixed-point value.
func FromInt(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), rone) }

// FromFraction returns num/den as a fixed-point value, truncated.
func FromFraction(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), rone)
	return v.Quo(v, big.NewInt(den))
}

// ToFloat converts a fixed-point value to float64. Only for display and logs.
func ToFloat(x *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x), new(big.Float).SetInt(rone)).Float64()
	return f
}

// Mul returns x*y/RONE rounded half up. Both operands must be non-negative.
func Mul(x, y *big.Int) *big.Int {
	z := new(big.Int).Mul(x, y)
	z.Add(z, halfOne)
	return z.Quo(z, rone)
}

// Div returns x*RONE/y rounded half up. It panics if y is zero, like
// big.Int division; callers validate divisors.
func Div(x, y *big.Int) *big.Int {
	z := new(big.Int).Mul(x, rone)
	z.Add(z, new(big.Int).Rsh(y, 1))
	return z.Quo(z, y)
}

// MulSigned is Mul for operands of any sign, rounding half away from zero.
func MulSigned(x, y *big.Int) *big.Int {
	z := new(big.Int).Mul(x, y)
	if z.Sign() >= 0 {
		z.Add(z, halfOne)
	} else {
		z.Sub(z, halfOne)
	}
	return z.Quo(z, rone)
}

// MulDiv returns a*b/c truncated. It is the plain-integer proportion used
// for pro-rata shares.
func MulDiv(a, b, c *big.Int) *big.Int {
	z := new(big.Int).Mul(a, b)
	return z.Quo(z, c)
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Sqrt returns floor(sqrt(x)) of a plain integer.
func Sqrt(x *big.Int) *big.Int { return new(big.Int).Sqrt(x) }

// subSign returns |a-b| and whether a < b.
func subSign(a, b *big.Int) (*big.Int, bool) {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return d.Neg(d), true
	}
	return d, false
}
