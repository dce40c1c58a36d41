package market

import (
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

// outGivenIn is the weighted constant-product output for amountIn, with the
// swap fee taken from the input.
func outGivenIn(balIn, wIn, balOut, wOut, amountIn, fee *big.Int) *big.Int {
	one := rmath.One()
	inAfterFee := rmath.Mul(amountIn, new(big.Int).Sub(one, fee))
	ratio := rmath.Div(balIn, new(big.Int).Add(balIn, inAfterFee))
	p := rmath.Pow(ratio, rmath.Div(wIn, wOut))
	return rmath.Mul(balOut, p.Sub(one, p))
}

// inGivenOut is the input the curve needs to release amountOut, grossed up
// for the swap fee.
func inGivenOut(balIn, wIn, balOut, wOut, amountOut, fee *big.Int) *big.Int {
	one := rmath.One()
	ratio := rmath.Div(balOut, new(big.Int).Sub(balOut, amountOut))
	p := rmath.Pow(ratio, rmath.Div(wOut, wIn))
	return rmath.Div(rmath.Mul(balIn, p.Sub(p, one)), new(big.Int).Sub(one, fee))
}

// singleSideFee is the share of the swap fee charged on the part of a
// single-token deposit that is implicitly swapped.
func singleSideFee(w, fee *big.Int) *big.Int {
	return rmath.Mul(new(big.Int).Sub(rmath.One(), w), fee)
}

// lpOutGivenTokenIn is the LP minted for depositing amountIn of a token with
// balance bal and weight w into a pool with supply lp tokens.
func lpOutGivenTokenIn(bal, w, supply, amountIn, fee *big.Int) *big.Int {
	in := rmath.Mul(amountIn, new(big.Int).Sub(rmath.One(), singleSideFee(w, fee)))
	ratio := rmath.Div(in.Add(in, bal), bal)
	minted := rmath.Mul(supply, rmath.Pow(ratio, w))
	return minted.Sub(minted, supply)
}

// tokenOutGivenLpIn is the token paid for burning lpIn of supply.
func tokenOutGivenLpIn(bal, w, supply, lpIn, fee *big.Int) *big.Int {
	ratio := rmath.Div(new(big.Int).Sub(supply, lpIn), supply)
	left := rmath.Mul(rmath.Pow(ratio, rmath.Div(rmath.One(), w)), bal)
	out := new(big.Int).Sub(bal, left)
	return rmath.Mul(out, new(big.Int).Sub(rmath.One(), singleSideFee(w, fee)))
}

// invariantGrowth is (y1/y0)^wy * (b1/b0)^wb, the factor by which the
// weighted invariant grew between two reserve states.
func invariantGrowth(y0, b0, y1, b1, wy, wb *big.Int) *big.Int {
	return rmath.Mul(rmath.Pow(rmath.Div(y1, y0), wy), rmath.Pow(rmath.Div(b1, b0), wb))
}

// protocolFeeLP is the LP to mint to the treasury so that it owns share of
// the invariant growth g over supply LP.
func protocolFeeLP(supply, g, share *big.Int) *big.Int {
	one := rmath.One()
	if share.Sign() == 0 || g.Cmp(one) <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(supply, new(big.Int).Sub(g, one))
	den := new(big.Int).Mul(new(big.Int).Sub(one, share), g)
	den.Quo(den, share)
	den.Add(den, one)
	return num.Quo(num, den)
}

// spotPrice is the marginal price of the out token in the in token, fee
// excluded.
func spotPrice(balIn, wIn, balOut, wOut *big.Int) *big.Int {
	return rmath.Div(rmath.Div(balIn, wIn), rmath.Div(balOut, wOut))
}
