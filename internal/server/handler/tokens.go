package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/token"
)

// TokenService is the ledger surface of the router.
type TokenService interface {
	TokenLookup
	Tokens() []token.Metadata
	BalanceOf(tok, owner domain.Address) *big.Int
	Allowance(tok, owner, spender domain.Address) *big.Int
	Approve(ctx context.Context, caller, tok, spender domain.Address, amount *big.Int) error
}

type TokenHandler struct {
	tokens TokenService
	logger *slog.Logger
}

func NewTokenHandler(tokens TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, logger: logger}
}

// ListTokens returns every registered token.
// GET /api/tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tokens": h.tokens.Tokens()})
}

type balanceResponse struct {
	Token     domain.Address `json:"token"`
	Owner     domain.Address `json:"owner"`
	Balance   Amount         `json:"balance"`
	Allowance *Amount        `json:"allowance,omitempty"`
}

// Balance returns owner's balance of a token, and with ?spender= the
// allowance granted to spender.
// GET /api/tokens/{token}/balances/{owner}
func (h *TokenHandler) Balance(w http.ResponseWriter, r *http.Request) {
	tok, err := parseAddress("token", r.PathValue("token"))
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	owner, err := parseAddress("owner", r.PathValue("owner"))
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	meta, err := h.tokens.TokenMetadata(tok)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	resp := balanceResponse{Token: tok, Owner: owner, Balance: newAmount(h.tokens.BalanceOf(tok, owner), meta.Decimals)}
	if s := r.URL.Query().Get("spender"); s != "" {
		spender, err := parseAddress("spender", s)
		if err != nil {
			writeDomainError(w, r, h.logger, "balance", err)
			return
		}
		a := newAmount(h.tokens.Allowance(tok, owner, spender), meta.Decimals)
		resp.Allowance = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

type approveRequest struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve sets the caller's allowance for spender.
// POST /api/tokens/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	p := amountParser{tokens: h.tokens}
	tok := p.address("token", req.Token)
	spender := p.address("spender", req.Spender)
	amount := p.parse(tok, req.Amount)
	if p.err != nil {
		writeDomainError(w, r, h.logger, "approve", p.err)
		return
	}
	if err := h.tokens.Approve(r.Context(), caller, tok, spender, amount); err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	resp := balanceResponse{Token: tok, Owner: caller, Balance: newAmount(h.tokens.BalanceOf(tok, caller), decimalsOf(h.tokens, tok))}
	a := newAmount(amount, decimalsOf(h.tokens, tok))
	resp.Allowance = &a
	writeJSON(w, http.StatusOK, resp)
}
