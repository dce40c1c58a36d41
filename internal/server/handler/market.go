package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/market"
)

// MarketService defines the methods that the market handler requires from the
// router. It is declared locally so the handler package does not depend on the
// concrete router.
type MarketService interface {
	TokenLookup
	Markets() []domain.MarketView
	Market(addr domain.Address) (domain.MarketView, error)
	QuoteExactIn(addr, tokenIn domain.Address, amountIn *big.Int) (*big.Int, error)
	QuoteExactOut(addr, tokenOut domain.Address, amountOut *big.Int) (*big.Int, error)
	PendingLpInterest(addr, owner domain.Address) (*big.Int, error)
	SwapExactIn(ctx context.Context, caller, addr, tokenIn domain.Address, amountIn, minOut *big.Int, deadline uint64) (*big.Int, error)
	SwapExactOut(ctx context.Context, caller, addr, tokenOut domain.Address, amountOut, maxIn *big.Int, deadline uint64) (*big.Int, error)
	AddLiquidityDual(ctx context.Context, caller, addr domain.Address, desiredYield, desiredBase, minYield, minBase *big.Int, deadline uint64) (market.LiquidityResult, error)
	AddLiquiditySingle(ctx context.Context, caller, addr, tokenIn domain.Address, amountIn, minLP *big.Int, deadline uint64) (market.LiquidityResult, error)
	RemoveLiquidityDual(ctx context.Context, caller, addr domain.Address, lpIn, minYield, minBase *big.Int, deadline uint64) (market.LiquidityResult, error)
	RemoveLiquiditySingle(ctx context.Context, caller, addr, tokenOut domain.Address, lpIn, minOut *big.Int, deadline uint64) (market.LiquidityResult, error)
	RedeemLpInterests(ctx context.Context, caller, addr domain.Address) (*big.Int, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets MarketService
	archive domain.MarketViewCache
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// WithArchive makes GetMarket fall back to archived views for markets the
// live state does not hold, as after a restart without replay.
func (h *MarketHandler) WithArchive(cache domain.MarketViewCache) *MarketHandler {
	h.archive = cache
	return h
}

type listMarketsResponse struct {
	Markets []domain.MarketView `json:"markets"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListMarkets returns markets ordered by address.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	all := h.markets.Markets()
	page := []domain.MarketView{}
	if opts.Offset < len(all) {
		page = all[opts.Offset:min(len(all), opts.Offset+opts.Limit)]
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: page,
		Total:   len(all),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type marketResponse struct {
	domain.MarketView
	PendingLpInterest *Amount `json:"pending_lp_interest,omitempty"`
	// Archived is set when the view comes from the last archived snapshot.
	Archived bool `json:"archived,omitempty"`
}

// GetMarket returns one market. With ?owner= it adds the owner's unpaid LP
// interest.
// GET /api/markets/{address}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("market", r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	view, err := h.markets.Market(addr)
	if errors.Is(err, domain.ErrNotFound) && h.archive != nil {
		if archived, aerr := h.archive.Get(r.Context(), addr); aerr == nil {
			writeJSON(w, http.StatusOK, marketResponse{MarketView: archived, Archived: true})
			return
		}
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "get market", err)
		return
	}
	resp := marketResponse{MarketView: view}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		addr, err := parseAddress("owner", owner)
		if err != nil {
			writeDomainError(w, r, h.logger, "get market", err)
			return
		}
		pending, err := h.markets.PendingLpInterest(view.Address, addr)
		if err != nil {
			writeDomainError(w, r, h.logger, "get market", err)
			return
		}
		a := newAmount(pending, h.interestDecimals(view))
		resp.PendingLpInterest = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

type quoteResponse struct {
	Market   domain.Address `json:"market"`
	TokenIn  domain.Address `json:"token_in"`
	TokenOut domain.Address `json:"token_out"`
	AmountIn Amount         `json:"amount_in"`
	Out      Amount         `json:"amount_out"`
}

// Quote prices a swap without executing it. side=in fixes the input amount
// of token; side=out fixes the output amount of token.
// GET /api/markets/{address}/quote?side=in&token=0x..&amount=10
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	tok, err := parseAddress("token", q.Get("token"))
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	other, err := counterToken(view, tok)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	amount, dec, err := parseTokenAmount(h.markets, tok, q.Get("amount"))
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	otherDec := decimalsOf(h.markets, other)

	var resp quoteResponse
	switch q.Get("side") {
	case "", "in":
		out, err := h.markets.QuoteExactIn(view.Address, tok, amount)
		if err != nil {
			writeDomainError(w, r, h.logger, "quote", err)
			return
		}
		resp = quoteResponse{TokenIn: tok, TokenOut: other, AmountIn: newAmount(amount, dec), Out: newAmount(out, otherDec)}
	case "out":
		in, err := h.markets.QuoteExactOut(view.Address, tok, amount)
		if err != nil {
			writeDomainError(w, r, h.logger, "quote", err)
			return
		}
		resp = quoteResponse{TokenIn: other, TokenOut: tok, AmountIn: newAmount(in, otherDec), Out: newAmount(amount, dec)}
	default:
		writeDomainError(w, r, h.logger, "quote", fmt.Errorf("%w: side %q", domain.ErrInvalidParams, q.Get("side")))
		return
	}
	resp.Market = view.Address
	writeJSON(w, http.StatusOK, resp)
}

type swapRequest struct {
	// Side is exact_in (Token is the input) or exact_out (Token is the output).
	Side     string `json:"side"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Limit    string `json:"limit"`
	Deadline uint64 `json:"deadline"`
}

// Swap executes a swap for the authenticated caller.
// POST /api/markets/{address}/swap
func (h *MarketHandler) Swap(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	var req swapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	tok, err := parseAddress("token", req.Token)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	other, err := counterToken(view, tok)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	amount, dec, err := parseTokenAmount(h.markets, tok, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}
	limit, otherDec, err := parseTokenAmount(h.markets, other, req.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "swap", err)
		return
	}

	var resp quoteResponse
	switch req.Side {
	case "exact_in":
		out, err := h.markets.SwapExactIn(r.Context(), caller, view.Address, tok, amount, limit, req.Deadline)
		if err != nil {
			writeDomainError(w, r, h.logger, "swap", err)
			return
		}
		resp = quoteResponse{TokenIn: tok, TokenOut: other, AmountIn: newAmount(amount, dec), Out: newAmount(out, otherDec)}
	case "exact_out":
		if req.Limit == "" {
			writeDomainError(w, r, h.logger, "swap", fmt.Errorf("%w: exact_out needs a limit", domain.ErrInvalidParams))
			return
		}
		in, err := h.markets.SwapExactOut(r.Context(), caller, view.Address, tok, amount, limit, req.Deadline)
		if err != nil {
			writeDomainError(w, r, h.logger, "swap", err)
			return
		}
		resp = quoteResponse{TokenIn: other, TokenOut: tok, AmountIn: newAmount(in, otherDec), Out: newAmount(amount, dec)}
	default:
		writeDomainError(w, r, h.logger, "swap", fmt.Errorf("%w: side %q", domain.ErrInvalidParams, req.Side))
		return
	}
	resp.Market = view.Address
	writeJSON(w, http.StatusOK, resp)
}

type liquidityRequest struct {
	// Op is add_dual, add_single, remove_dual, remove_single or
	// redeem_interest.
	Op       string `json:"op"`
	Yield    string `json:"yield,omitempty"`
	Base     string `json:"base,omitempty"`
	MinYield string `json:"min_yield,omitempty"`
	MinBase  string `json:"min_base,omitempty"`
	Token    string `json:"token,omitempty"`
	Amount   string `json:"amount,omitempty"`
	LP       string `json:"lp,omitempty"`
	MinLP    string `json:"min_lp,omitempty"`
	MinOut   string `json:"min_out,omitempty"`
	Deadline uint64 `json:"deadline"`
}

type liquidityResponse struct {
	Market   domain.Address `json:"market"`
	Op       string         `json:"op"`
	Yield    Amount         `json:"yield"`
	Base     Amount         `json:"base"`
	LP       Amount         `json:"lp"`
	Interest *Amount        `json:"interest,omitempty"`
}

// Liquidity adds or removes liquidity, or pays out LP interest.
// POST /api/markets/{address}/liquidity
func (h *MarketHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		writeDomainError(w, r, h.logger, "liquidity", err)
		return
	}
	view, ok := h.view(w, r)
	if !ok {
		return
	}
	var req liquidityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, "liquidity", err)
		return
	}

	res, interest, err := h.liquidity(r.Context(), caller, view, req)
	if err != nil {
		writeDomainError(w, r, h.logger, "liquidity", err)
		return
	}
	resp := liquidityResponse{
		Market: view.Address,
		Op:     req.Op,
		Yield:  newAmount(res.Yield, decimalsOf(h.markets, view.YieldToken)),
		Base:   newAmount(res.Base, decimalsOf(h.markets, view.BaseToken)),
		LP:     newAmount(res.LP, decimalsOf(h.markets, view.Address)),
	}
	if interest != nil {
		a := newAmount(interest, h.interestDecimals(view))
		resp.Interest = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MarketHandler) liquidity(ctx context.Context, caller domain.Address, view domain.MarketView, req liquidityRequest) (market.LiquidityResult, *big.Int, error) {
	var none market.LiquidityResult
	p := amountParser{tokens: h.markets}
	switch req.Op {
	case "add_dual":
		y := p.parse(view.YieldToken, req.Yield)
		b := p.parse(view.BaseToken, req.Base)
		minY := p.parse(view.YieldToken, req.MinYield)
		minB := p.parse(view.BaseToken, req.MinBase)
		if p.err != nil {
			return none, nil, p.err
		}
		res, err := h.markets.AddLiquidityDual(ctx, caller, view.Address, y, b, minY, minB, req.Deadline)
		return res, nil, err
	case "add_single":
		tok := p.address("token", req.Token)
		in := p.parse(tok, req.Amount)
		minLP := p.parse(view.Address, req.MinLP)
		if p.err != nil {
			return none, nil, p.err
		}
		res, err := h.markets.AddLiquiditySingle(ctx, caller, view.Address, tok, in, minLP, req.Deadline)
		return res, nil, err
	case "remove_dual":
		lp := p.parse(view.Address, req.LP)
		minY := p.parse(view.YieldToken, req.MinYield)
		minB := p.parse(view.BaseToken, req.MinBase)
		if p.err != nil {
			return none, nil, p.err
		}
		res, err := h.markets.RemoveLiquidityDual(ctx, caller, view.Address, lp, minY, minB, req.Deadline)
		return res, nil, err
	case "remove_single":
		tok := p.address("token", req.Token)
		lp := p.parse(view.Address, req.LP)
		minOut := p.parse(tok, req.MinOut)
		if p.err != nil {
			return none, nil, p.err
		}
		res, err := h.markets.RemoveLiquiditySingle(ctx, caller, view.Address, tok, lp, minOut, req.Deadline)
		return res, nil, err
	case "redeem_interest":
		paid, err := h.markets.RedeemLpInterests(ctx, caller, view.Address)
		if err != nil {
			return none, nil, err
		}
		return none, paid, nil
	}
	return none, nil, fmt.Errorf("%w: op %q", domain.ErrInvalidParams, req.Op)
}

// view loads the market named by the path, answering the request on failure.
func (h *MarketHandler) view(w http.ResponseWriter, r *http.Request) (domain.MarketView, bool) {
	addr, err := parseAddress("market", r.PathValue("address"))
	if err != nil {
		writeDomainError(w, r, h.logger, "market", err)
		return domain.MarketView{}, false
	}
	view, err := h.markets.Market(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "market", err)
		return domain.MarketView{}, false
	}
	return view, true
}

// LP interest is paid in the wrapped token, which carries the underlying's
// decimals like the yield token.
func (h *MarketHandler) interestDecimals(view domain.MarketView) int32 {
	return decimalsOf(h.markets, view.YieldToken)
}

func counterToken(view domain.MarketView, tok domain.Address) (domain.Address, error) {
	switch tok {
	case view.YieldToken:
		return view.BaseToken, nil
	case view.BaseToken:
		return view.YieldToken, nil
	}
	return domain.ZeroAddress, fmt.Errorf("token %s: %w", tok.Hex(), domain.ErrInvalidToken)
}

// amountParser keeps the first parse error so a request's fields can be read
// in sequence.
type amountParser struct {
	tokens TokenLookup
	err    error
}

func (p *amountParser) address(name, s string) domain.Address {
	if p.err != nil {
		return domain.ZeroAddress
	}
	addr, err := parseAddress(name, s)
	p.err = err
	return addr
}

func (p *amountParser) parse(tok domain.Address, s string) *big.Int {
	if p.err != nil {
		return nil
	}
	v, _, err := parseTokenAmount(p.tokens, tok, s)
	p.err = err
	return v
}
