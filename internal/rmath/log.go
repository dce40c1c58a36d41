package rmath

import (
	"fmt"
	"math/big"
)

var (
	ln2Num = mustInt("6931471805599453094172")
	ln2Den = mustInt("10000000000000000000000")
	// ln2 as a fixed-point value.
	ln2One = new(big.Int).Quo(new(big.Int).Mul(ln2Num, rone), ln2Den)
)

const maxExpTerms = 60

func mustInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("rmath: bad constant %q", s))
	}
	return v
}

// Log2 returns log2(x) for x >= RONE, accurate to PrecisionBits fractional
// bits.
func Log2(x *big.Int) *big.Int {
	if x.Cmp(rone) < 0 {
		panic("rmath: Log2 of value below one")
	}
	n := new(big.Int).Quo(x, rone).BitLen() - 1
	y := new(big.Int).Rsh(x, uint(n))
	res := new(big.Int).Mul(big.NewInt(int64(n)), rone)
	add := One()
	for i := 0; i < PrecisionBits; i++ {
		y.Mul(y, y)
		y.Quo(y, rone)
		add.Rsh(add, 1)
		if y.Cmp(twoOne) >= 0 {
			y.Rsh(y, 1)
			res.Add(res, add)
		}
	}
	return res
}

// Ln returns the natural logarithm of x > 0. The result is negative for
// x < RONE.
func Ln(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		panic("rmath: Ln of non-positive value")
	}
	if x.Cmp(rone) < 0 {
		inv := new(big.Int).Mul(rone, rone)
		inv.Quo(inv, x)
		return new(big.Int).Neg(Ln(inv))
	}
	v := new(big.Int).Mul(Log2(x), ln2Num)
	return v.Quo(v, ln2Den)
}

// Exp returns e^x for a signed fixed-point x. The argument is reduced to
// x = k*ln2 + r with r in [0, ln2) and e^r comes from its Taylor series.
func Exp(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		return Div(rone, Exp(new(big.Int).Neg(x)))
	}
	k := new(big.Int).Mul(x, ln2Den)
	k.Quo(k, new(big.Int).Mul(ln2Num, rone))
	r := new(big.Int).Sub(x, new(big.Int).Mul(k, ln2One))
	for r.Sign() < 0 {
		k.Sub(k, bigOne)
		r.Add(r, ln2One)
	}

	sum := One()
	term := One()
	for i := int64(1); i < maxExpTerms; i++ {
		term.Mul(term, r)
		term.Quo(term, new(big.Int).Mul(big.NewInt(i), rone))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	return sum.Lsh(sum, uint(k.Uint64()))
}
