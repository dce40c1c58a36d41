package market

import (
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

var (
	// curvePI is 3.14 in fixed point; it sets how concave the yield-weight
	// decay is.
	curvePI = rmath.FromFraction(314, 100)
	lnPI1   = rmath.Ln(new(big.Int).Add(curvePI, rmath.One()))
)

// timeFraction returns (expiry-now)/(expiry-lockStart), rounded half up.
func timeFraction(now, lockStart, expiry uint64) *big.Int {
	d := new(big.Int).SetUint64(expiry - lockStart)
	t := new(big.Int).SetUint64(expiry - now)
	t.Mul(t, rmath.One())
	t.Add(t, new(big.Int).Rsh(d, 1))
	return t.Quo(t, d)
}

// curvePrice is ln(PI*t + 1) / ln(PI + 1): one at lock start, zero at
// expiry.
func curvePrice(t *big.Int) *big.Int {
	x := rmath.Mul(curvePI, t)
	return rmath.Div(rmath.Ln(x.Add(x, rmath.One())), lnPI1)
}

// shiftResult is the outcome of one curve shift.
type shiftResult struct {
	weightYield *big.Int
	weightBase  *big.Int
	price       *big.Int
}

// shiftWeights moves weight from the yield side to the base side so that
// wy/wb tracks the curve price. The yield weight never drops below floor.
func shiftWeights(wy, wb, lastPrice, floor *big.Int, now, lockStart, expiry uint64) shiftResult {
	one := rmath.One()
	price := curvePrice(timeFraction(now, lockStart, expiry))
	r := rmath.Min(one, rmath.Div(price, lastPrice))

	num := rmath.Mul(rmath.Mul(wy, wb), new(big.Int).Sub(one, r))
	den := rmath.Mul(r, wy)
	den.Add(den, wb)
	theta := rmath.Div(num, den)

	nextYield := rmath.Max(floor, new(big.Int).Sub(wy, theta))
	return shiftResult{
		weightYield: nextYield,
		weightBase:  new(big.Int).Sub(one, nextYield),
		price:       price,
	}
}
