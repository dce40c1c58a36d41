package rmath

import "math/big"

const (
	// MaxApproxIterations bounds the binomial series in PowApprox.
	MaxApproxIterations = 150
)

// ApproxPrecision is the term size, in fixed-point units, at which the
// binomial series stops. 100/2^40 is roughly 9.1e-11.
var ApproxPrecision = big.NewInt(100)

// PowInt returns base^n by binary exponentiation.
func PowInt(base *big.Int, n uint64) *big.Int {
	b := new(big.Int).Set(base)
	var z *big.Int
	if n%2 == 0 {
		z = One()
	} else {
		z = new(big.Int).Set(b)
	}
	for n /= 2; n != 0; n /= 2 {
		b = Mul(b, b)
		if n%2 != 0 {
			z = Mul(z, b)
		}
	}
	return z
}

// PowApprox evaluates base^exp for exp in [0, RONE) and base in (0, 2*RONE)
// with the binomial series sum_k C(exp,k)*(base-1)^k. It stops once a term
// drops below precision and reports false if MaxApproxIterations was reached
// first.
func PowApprox(base, exp, precision *big.Int) (*big.Int, bool) {
	x, xneg := subSign(base, rone)
	term := One()
	sum := One()
	negative := false

	for i := int64(1); term.Cmp(precision) >= 0; i++ {
		if i > MaxApproxIterations {
			return sum, false
		}
		bigK := new(big.Int).Mul(big.NewInt(i), rone)
		c, cneg := subSign(exp, new(big.Int).Sub(bigK, rone))
		term = Mul(term, Mul(c, x))
		term = Div(term, bigK)
		if term.Sign() == 0 {
			break
		}
		if xneg {
			negative = !negative
		}
		if cneg {
			negative = !negative
		}
		if negative {
			sum.Sub(sum, term)
		} else {
			sum.Add(sum, term)
		}
	}
	return sum, true
}

// Pow returns base^exp for a non-negative base and exponent. The integer part
// of exp goes through PowInt. The fractional part goes through PowApprox for
// base in [RONE/2, 2*RONE), where the series converges fast, and through
// Exp(frac*Ln(base)) otherwise.
//
// Maximum relative error is 1e-9 for any base with a fractional exponent, and
// for integer parts up to 128 while the result stays above 1e-3.
func Pow(base, exp *big.Int) *big.Int {
	if exp.Sign() == 0 {
		return One()
	}
	if base.Sign() == 0 {
		return new(big.Int)
	}
	whole, frac := new(big.Int).QuoRem(exp, rone, new(big.Int))
	wholePow := PowInt(base, whole.Uint64())
	if frac.Sign() == 0 {
		return wholePow
	}
	return Mul(wholePow, powFrac(base, frac))
}

func powFrac(base, frac *big.Int) *big.Int {
	if base.Cmp(halfOne) >= 0 && base.Cmp(twoOne) < 0 {
		if part, ok := PowApprox(base, frac, ApproxPrecision); ok {
			return part
		}
	}
	return Exp(MulSigned(frac, Ln(base)))
}
