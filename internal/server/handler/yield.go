package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/router"
)

// YieldService is the forge surface of the router used by YieldHandler.
type YieldService interface {
	TokenLookup
	YieldContract(source domain.SourceID, underlying domain.Address, expiry uint64) (domain.YieldContractView, error)
	PendingInterest(ctx context.Context, source domain.SourceID, underlying domain.Address, expiry uint64, owner domain.Address) (*big.Int, error)
	TokenizeYield(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64, amount *big.Int, recipient domain.Address, deadline uint64) (*big.Int, error)
	RedeemDueInterests(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (*big.Int, error)
	RedeemDueInterestsMulti(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiries []uint64) ([]*big.Int, *big.Int, error)
	RedeemUnderlying(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64, amount *big.Int, deadline uint64) (*big.Int, error)
	RedeemAfterExpiry(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, expiry uint64) (*big.Int, error)
	RenewYield(ctx context.Context, caller domain.Address, source domain.SourceID, underlying domain.Address, oldExpiry, newExpiry uint64, renewalRate *big.Int, deadline uint64) (router.RenewResult, error)
}

// YieldHandler serves yield contract endpoints.
type YieldHandler struct {
	forges YieldService
	logger *slog.Logger
}

func NewYieldHandler(forges YieldService, logger *slog.Logger) *YieldHandler {
	return &YieldHandler{forges: forges, logger: logger}
}

type yieldContractResponse struct {
	domain.YieldContractView
	PendingInterest *Amount `json:"pending_interest,omitempty"`
}

// GetContract returns one yield contract. With ?owner= it adds the interest
// the owner could redeem now.
// GET /api/yield/{source}/{underlying}/{expiry}
func (h *YieldHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	key, err := yieldKeyFromPath(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "get yield contract", err)
		return
	}
	view, err := h.forges.YieldContract(key.Source, key.Underlying, key.Expiry)
	if err != nil {
		writeDomainError(w, r, h.logger, "get yield contract", err)
		return
	}
	resp := yieldContractResponse{YieldContractView: view}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		addr, err := parseAddress("owner", owner)
		if err != nil {
			writeDomainError(w, r, h.logger, "get yield contract", err)
			return
		}
		pending, err := h.forges.PendingInterest(r.Context(), key.Source, key.Underlying, key.Expiry, addr)
		if err != nil {
			writeDomainError(w, r, h.logger, "get yield contract", err)
			return
		}
		a := newAmount(pending, decimalsOf(h.forges, view.WrappedToken))
		resp.PendingInterest = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenizeRequest struct {
	Source     string `json:"source"`
	Underlying string `json:"underlying"`
	Expiry     uint64 `json:"expiry"`
	Amount     string `json:"amount"`
	Recipient  string `json:"recipient,omitempty"`
	Deadline   uint64 `json:"deadline"`
}

type tokenizeResponse struct {
	OwnershipToken domain.Address `json:"ownership_token"`
	YieldToken     domain.Address `json:"yield_token"`
	Deposited      Amount         `json:"deposited"`
	Minted         Amount         `json:"minted"`
}

// Tokenize deposits wrapped tokens and mints OT and YT to the recipient,
// which defaults to the caller. The caller must have approved the forge.
// POST /api/yield/tokenize
func (h *YieldHandler) Tokenize(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "tokenize", err)
		return
	}
	var req tokenizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "tokenize", err)
		return
	}
	view, err := h.contract(req.Source, req.Underlying, req.Expiry)
	if err != nil {
		writeDomainError(w, r, h.logger, "tokenize", err)
		return
	}
	recipient := caller
	if req.Recipient != "" {
		if recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			writeDomainError(w, r, h.logger, "tokenize", err)
			return
		}
	}
	amount, dec, err := parseTokenAmount(h.forges, view.WrappedToken, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "tokenize", err)
		return
	}
	minted, err := h.forges.TokenizeYield(r.Context(), caller, view.Key.Source, view.Key.Underlying, view.Key.Expiry, amount, recipient, req.Deadline)
	if err != nil {
		writeDomainError(w, r, h.logger, "tokenize", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenizeResponse{
		OwnershipToken: view.OwnershipToken,
		YieldToken:     view.YieldToken,
		Deposited:      newAmount(amount, dec),
		Minted:         newAmount(minted, decimalsOf(h.forges, view.OwnershipToken)),
	})
}

type redeemRequest struct {
	// Kind is interest, interest_multi, underlying or after_expiry.
	Kind       string   `json:"kind"`
	Source     string   `json:"source"`
	Underlying string   `json:"underlying"`
	Expiry     uint64   `json:"expiry"`
	Expiries   []uint64 `json:"expiries,omitempty"`
	Amount     string   `json:"amount,omitempty"`
	Deadline   uint64   `json:"deadline"`
}

type redeemResponse struct {
	Kind     string   `json:"kind"`
	Redeemed Amount   `json:"redeemed"`
	PerTerm  []Amount `json:"per_expiry,omitempty"`
}

// Redeem pays out interest or principal to the caller in wrapped tokens.
// POST /api/yield/redeem
func (h *YieldHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "redeem", err)
		return
	}
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "redeem", err)
		return
	}
	expiry := req.Expiry
	if req.Kind == "interest_multi" && len(req.Expiries) > 0 {
		expiry = req.Expiries[0]
	}
	view, err := h.contract(req.Source, req.Underlying, expiry)
	if err != nil {
		writeDomainError(w, r, h.logger, "redeem", err)
		return
	}
	dec := decimalsOf(h.forges, view.WrappedToken)
	src, und := view.Key.Source, view.Key.Underlying

	resp := redeemResponse{Kind: req.Kind}
	var out *big.Int
	switch req.Kind {
	case "interest":
		out, err = h.forges.RedeemDueInterests(r.Context(), caller, src, und, expiry)
	case "interest_multi":
		var each []*big.Int
		each, out, err = h.forges.RedeemDueInterestsMulti(r.Context(), caller, src, und, req.Expiries)
		for _, v := range each {
			resp.PerTerm = append(resp.PerTerm, newAmount(v, dec))
		}
	case "underlying":
		var amount *big.Int
		if amount, _, err = parseTokenAmount(h.forges, view.OwnershipToken, req.Amount); err == nil {
			out, err = h.forges.RedeemUnderlying(r.Context(), caller, src, und, expiry, amount, req.Deadline)
		}
	case "after_expiry":
		out, err = h.forges.RedeemAfterExpiry(r.Context(), caller, src, und, expiry)
	default:
		err = fmt.Errorf("%w: kind %q", domain.ErrInvalidParams, req.Kind)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "redeem", err)
		return
	}
	resp.Redeemed = newAmount(out, dec)
	writeJSON(w, http.StatusOK, resp)
}

type renewRequest struct {
	Source      string `json:"source"`
	Underlying  string `json:"underlying"`
	OldExpiry   uint64 `json:"old_expiry"`
	NewExpiry   uint64 `json:"new_expiry"`
	RenewalRate string `json:"renewal_rate"`
	Deadline    uint64 `json:"deadline"`
}

type renewResponse struct {
	Principal Amount `json:"principal"`
	Interest  Amount `json:"interest"`
	Renewed   Amount `json:"renewed"`
	Claims    Amount `json:"claims"`
	Returned  Amount `json:"returned"`
}

// Renew rolls an expired position into a later expiry. renewal_rate is the
// share to roll, "1" for all of it.
// POST /api/yield/renew
func (h *YieldHandler) Renew(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "renew", err)
		return
	}
	var req renewRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "renew", err)
		return
	}
	view, err := h.contract(req.Source, req.Underlying, req.OldExpiry)
	if err != nil {
		writeDomainError(w, r, h.logger, "renew", err)
		return
	}
	rate, err := domain.ParseFixed(req.RenewalRate)
	if err != nil {
		writeDomainError(w, r, h.logger, "renew", err)
		return
	}
	res, err := h.forges.RenewYield(r.Context(), caller, view.Key.Source, view.Key.Underlying, req.OldExpiry, req.NewExpiry, rate, req.Deadline)
	if err != nil {
		writeDomainError(w, r, h.logger, "renew", err)
		return
	}
	dec := decimalsOf(h.forges, view.WrappedToken)
	writeJSON(w, http.StatusOK, renewResponse{
		Principal: newAmount(res.Principal, dec),
		Interest:  newAmount(res.Interest, dec),
		Renewed:   newAmount(res.Renewed, dec),
		Claims:    newAmount(res.Claims, decimalsOf(h.forges, view.OwnershipToken)),
		Returned:  newAmount(res.Returned, dec),
	})
}

func (h *YieldHandler) contract(source, underlying string, expiry uint64) (domain.YieldContractView, error) {
	und, err := parseAddress("underlying", underlying)
	if err != nil {
		return domain.YieldContractView{}, err
	}
	if source == "" {
		return domain.YieldContractView{}, fmt.Errorf("%w: missing source", domain.ErrInvalidParams)
	}
	return h.forges.YieldContract(domain.SourceID(source), und, expiry)
}

func yieldKeyFromPath(r *http.Request) (domain.YieldKey, error) {
	und, err := parseAddress("underlying", r.PathValue("underlying"))
	if err != nil {
		return domain.YieldKey{}, err
	}
	expiry, err := parseExpiry(r.PathValue("expiry"))
	if err != nil {
		return domain.YieldKey{}, err
	}
	return domain.YieldKey{Source: domain.SourceID(r.PathValue("source")), Underlying: und, Expiry: expiry}, nil
}
