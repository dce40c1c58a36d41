package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
)

func forgeCall(op string, caller domain.Address, deadline uint64, source domain.SourceID) call {
	return userCall(op, caller, deadline, governance.ForgePauseKey(source))
}

// NewYieldContract opens the contract of (source, underlying, expiry).
func (r *Router) NewYieldContract(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (domain.YieldContractView, error) {
	var view domain.YieldContractView
	err := r.exec(ctx, forgeCall("new_yield_contract", caller, 0, source), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		view, err = f.NewYieldContract(ctx, underlying, expiry)
		return err
	})
	return view, err
}

// TokenizeYield deposits amount wrapped tokens of caller and mints OT and
// YT to recipient. It returns the claim amount.
func (r *Router) TokenizeYield(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64, amount *big.Int, recipient domain.Address, deadline uint64) (*big.Int, error) {
	var claims *big.Int
	err := r.exec(ctx, forgeCall("tokenize_yield", caller, deadline, source), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		claims, err = f.TokenizeYield(ctx, caller, underlying, expiry, amount, recipient)
		return err
	})
	return claims, err
}

// RedeemDueInterests pays caller the interest due on its YT.
func (r *Router) RedeemDueInterests(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (*big.Int, error) {
	var out *big.Int
	err := r.exec(ctx, forgeCall("redeem_due_interests", caller, 0, source), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		out, err = f.RedeemDueInterests(ctx, underlying, expiry, caller)
		return err
	})
	return out, err
}

// RedeemDueInterestsMulti redeems caller's interest across several expiries
// of one underlying. It returns the amount paid per expiry and in total.
func (r *Router) RedeemDueInterestsMulti(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiries []uint64) ([]*big.Int, *big.Int, error) {
	var (
		paid  []*big.Int
		total *big.Int
	)
	err := r.exec(ctx, forgeCall("redeem_due_interests_multi", caller, 0, source), func() error {
		if len(expiries) == 0 {
			return fmt.Errorf("no expiries: %w", domain.ErrInvalidParams)
		}
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		paid = make([]*big.Int, 0, len(expiries))
		total = new(big.Int)
		for _, expiry := range expiries {
			out, err := f.RedeemDueInterests(ctx, underlying, expiry, caller)
			if err != nil {
				return fmt.Errorf("expiry %d: %w", expiry, err)
			}
			paid = append(paid, out)
			total.Add(total, out)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return paid, total, nil
}

// RedeemUnderlying burns amount OT and YT of caller before expiry.
func (r *Router) RedeemUnderlying(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64, amount *big.Int, deadline uint64) (*big.Int, error) {
	var out *big.Int
	err := r.exec(ctx, forgeCall("redeem_underlying", caller, deadline, source), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		out, err = f.RedeemUnderlying(ctx, caller, underlying, expiry, amount)
		return err
	})
	return out, err
}

// RedeemAfterExpiry burns caller's OT of an expired contract.
func (r *Router) RedeemAfterExpiry(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (*big.Int, error) {
	var out *big.Int
	err := r.exec(ctx, forgeCall("redeem_after_expiry", caller, 0, source), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		out, err = f.RedeemAfterExpiry(ctx, caller, underlying, expiry)
		return err
	})
	return out, err
}

// WithdrawForgeFee sends a contract's accrued forge fee to the treasury.
// Governance only.
func (r *Router) WithdrawForgeFee(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (*big.Int, error) {
	var out *big.Int
	err := r.exec(ctx, governanceCall("withdraw_forge_fee", caller), func() error {
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		out, err = f.WithdrawForgeFee(ctx, caller, underlying, expiry)
		return err
	})
	return out, err
}

// RenewResult reports a renewal.
type RenewResult struct {
	Principal *big.Int `json:"principal"`
	Interest  *big.Int `json:"interest"`
	Renewed   *big.Int `json:"renewed"`
	Claims    *big.Int `json:"claims"`
	Returned  *big.Int `json:"returned"`
}

// RenewYield redeems caller's expired position, principal and interest, and
// tokenizes renewalRate of it into newExpiry. The rest stays with caller.
func (r *Router) RenewYield(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, oldExpiry, newExpiry uint64, renewalRate *big.Int, deadline uint64) (RenewResult, error) {
	var res RenewResult
	err := r.exec(ctx, forgeCall("renew_yield", caller, deadline, source), func() error {
		if renewalRate == nil || renewalRate.Sign() <= 0 || renewalRate.Cmp(rmath.One()) > 0 {
			return fmt.Errorf("renewal rate: %w", domain.ErrInvalidParams)
		}
		f, err := r.forge(source)
		if err != nil {
			return err
		}
		view, err := f.Contract(underlying, oldExpiry)
		if err != nil {
			return err
		}

		principal, err := f.RedeemAfterExpiry(ctx, caller, underlying, oldExpiry)
		if err != nil {
			return err
		}
		interest, err := f.RedeemDueInterests(ctx, underlying, oldExpiry, caller)
		if err != nil {
			return err
		}
		total := new(big.Int).Add(principal, interest)
		renewed := rmath.MulDiv(total, renewalRate, rmath.One())
		res = RenewResult{
			Principal: principal,
			Interest:  interest,
			Renewed:   renewed,
			Claims:    new(big.Int),
			Returned:  new(big.Int).Sub(total, renewed),
		}
		if renewed.Sign() == 0 {
			return nil
		}

		// The forge pulls through an allowance; raise it by exactly what the
		// tokenize spends so the caller's standing allowance is unchanged.
		allowance := r.bank.Allowance(view.WrappedToken, caller, f.Address())
		if err := r.bank.Approve(view.WrappedToken, caller, f.Address(), allowance.Add(allowance, renewed)); err != nil {
			return err
		}
		res.Claims, err = f.TokenizeYield(ctx, caller, underlying, newExpiry, renewed, caller)
		return err
	})
	return res, err
}
