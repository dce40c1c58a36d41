// Package market implements the time-weighted curve AMM that trades a yield
// claim against a base token. The market's address doubles as its LP token.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
	"github.com/alanyoungcy/yieldmarket/internal/txn"
)

// MinimumLiquidity is the LP locked at the burn address on bootstrap.
const MinimumLiquidity = 1000

const hookTimeout = 10 * time.Second

// Bank is the token ledger surface a market needs.
type Bank interface {
	Register(meta token.Metadata) error
	Metadata(tok domain.Address) (token.Metadata, error)
	BalanceOf(tok, owner domain.Address) *big.Int
	TotalSupply(tok domain.Address) *big.Int
	Transfer(tok, from, to domain.Address, amount *big.Int) error
	TransferFrom(tok, spender, from, to domain.Address, amount *big.Int) error
	Mint(tok, to domain.Address, amount *big.Int) error
	Burn(tok, from domain.Address, amount *big.Int) error
	SetTransferHook(tok domain.Address, hook token.TransferHook)
}

// InterestSource pays the interest earned by the yield claims the market
// holds.
type InterestSource interface {
	RedeemDueInterests(ctx context.Context, underlying domain.Address, expiry uint64, owner domain.Address) (*big.Int, error)
}

// Treasury names the account receiving protocol fees.
type Treasury interface {
	Treasury() domain.Address
}

// ParamSource supplies the live protocol parameters.
type ParamSource interface {
	Get() governance.Params
}

// Config wires a Market.
type Config struct {
	Spec          domain.MarketSpec
	InterestToken domain.Address
	Forge         InterestSource
	Bank          Bank
	Treasury      Treasury
	Params        ParamSource
	Clock         chain.Clock
	Events        domain.EventRecorder
	Logger        *slog.Logger
}

type state struct {
	reserveYield   *big.Int
	reserveBase    *big.Int
	weightYield    *big.Int
	weightBase     *big.Int
	lastPrice      *big.Int
	lastShiftBlock uint64
	lockStart      uint64
	bootstrapped   bool

	paramL     *big.Int
	lastParamL map[domain.Address]*big.Int
	lpDue      map[domain.Address]*big.Int
}

func newState() *state {
	return &state{
		reserveYield: new(big.Int),
		reserveBase:  new(big.Int),
		weightYield:  new(big.Int),
		weightBase:   new(big.Int),
		lastPrice:    new(big.Int),
		paramL:       new(big.Int),
		lastParamL:   make(map[domain.Address]*big.Int),
		lpDue:        make(map[domain.Address]*big.Int),
	}
}

func (s *state) clone() *state {
	c := *s
	c.reserveYield = new(big.Int).Set(s.reserveYield)
	c.reserveBase = new(big.Int).Set(s.reserveBase)
	c.weightYield = new(big.Int).Set(s.weightYield)
	c.weightBase = new(big.Int).Set(s.weightBase)
	c.lastPrice = new(big.Int).Set(s.lastPrice)
	c.paramL = new(big.Int).Set(s.paramL)
	c.lastParamL = make(map[domain.Address]*big.Int, len(s.lastParamL))
	for k, v := range s.lastParamL {
		c.lastParamL[k] = new(big.Int).Set(v)
	}
	c.lpDue = make(map[domain.Address]*big.Int, len(s.lpDue))
	for k, v := range s.lpDue {
		c.lpDue[k] = new(big.Int).Set(v)
	}
	return &c
}

// Market is one yield claim / base token pool.
type Market struct {
	address       domain.Address
	key           domain.MarketKey
	yieldKey      domain.YieldKey
	yieldToken    domain.Address
	baseToken     domain.Address
	interestToken domain.Address

	swapFee          *big.Int
	protocolFeeShare *big.Int

	forge    InterestSource
	bank     Bank
	treasury Treasury
	params   ParamSource
	clock    chain.Clock
	events   domain.EventRecorder
	logger   *slog.Logger
	guard    txn.Guard

	st *state
}

// New creates the market and registers its LP token. Swap fee and protocol
// fee share are fixed from the parameters in force at creation.
func New(cfg Config) (*Market, error) {
	key := cfg.Spec.MarketKey()
	addr := domain.MarketAddress(key)
	ytMeta, err := cfg.Bank.Metadata(cfg.Spec.YieldToken)
	if err != nil {
		return nil, fmt.Errorf("market: new: %w", err)
	}
	baseMeta, err := cfg.Bank.Metadata(cfg.Spec.BaseToken)
	if err != nil {
		return nil, fmt.Errorf("market: new: %w", err)
	}
	lpMeta := token.Metadata{
		Address:  addr,
		Symbol:   fmt.Sprintf("LP-%s/%s", ytMeta.Symbol, baseMeta.Symbol),
		Decimals: 18,
	}
	if err := cfg.Bank.Register(lpMeta); err != nil {
		return nil, fmt.Errorf("market: new: %w", err)
	}

	events := cfg.Events
	if events == nil {
		events = domain.Discard{}
	}
	p := cfg.Params.Get()
	m := &Market{
		address:          addr,
		key:              key,
		yieldKey:         cfg.Spec.Key,
		yieldToken:       cfg.Spec.YieldToken,
		baseToken:        cfg.Spec.BaseToken,
		interestToken:    cfg.InterestToken,
		swapFee:          domain.CloneInt(p.SwapFee),
		protocolFeeShare: domain.CloneInt(p.ProtocolFeeShare),
		forge:            cfg.Forge,
		bank:             cfg.Bank,
		treasury:         cfg.Treasury,
		params:           cfg.Params,
		clock:            cfg.Clock,
		events:           events,
		logger:           cfg.Logger.With(slog.String("component", "market"), slog.String("market", addr.Hex())),
		st:               newState(),
	}
	cfg.Bank.SetTransferHook(addr, m.onLPTransfer)
	return m, nil
}

// Address is the market account and its LP token.
func (m *Market) Address() domain.Address { return m.address }

func (m *Market) Key() domain.MarketKey { return m.key }

// YieldKey is the yield contract that issued the market's yield claim.
func (m *Market) YieldKey() domain.YieldKey { return m.yieldKey }

func (m *Market) YieldToken() domain.Address { return m.yieldToken }

func (m *Market) BaseToken() domain.Address { return m.baseToken }

// Expiry is the yield claim's expiry.
func (m *Market) Expiry() uint64 { return m.yieldKey.Expiry }

func (m *Market) expired() bool { return m.clock.Now() >= m.yieldKey.Expiry }

func (m *Market) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.guard.Enter()
}

// tradable checks a market op that trades or deposits the yield claim.
func (m *Market) tradable(amount *big.Int) error {
	if !m.st.bootstrapped {
		return domain.ErrNotBootstrapped
	}
	if m.expired() {
		return domain.ErrMarketLocked
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	return nil
}

// pendingShift computes the curve shift due at the current block without
// applying it.
func (m *Market) pendingShift() (shiftResult, bool) {
	if !m.st.bootstrapped || m.expired() {
		return shiftResult{}, false
	}
	block := m.clock.BlockNumber()
	if block < m.st.lastShiftBlock || block-m.st.lastShiftBlock < m.params.Get().CurveShiftBlockDelta {
		return shiftResult{}, false
	}
	return shiftWeights(m.st.weightYield, m.st.weightBase, m.st.lastPrice, m.params.Get().WeightFloor,
		m.clock.Now(), m.st.lockStart, m.yieldKey.Expiry), true
}

func (m *Market) shiftCurve() {
	res, ok := m.pendingShift()
	if !ok {
		return
	}
	m.st.weightYield = res.weightYield
	m.st.weightBase = res.weightBase
	m.st.lastPrice = res.price
	m.st.lastShiftBlock = m.clock.BlockNumber()
	m.events.Record(m.event(domain.EventCurveShift, domain.ZeroAddress).
		WithAmount("weight_yield", res.weightYield).
		WithAmount("weight_base", res.weightBase).
		WithAmount("price", res.price))
}

// Bootstrap seeds the pool with its first liquidity at equal weights and
// returns the LP minted to caller.
func (m *Market) Bootstrap(ctx context.Context, caller domain.Address, initialYield, initialBase *big.Int) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.guard.Exit()

	if m.st.bootstrapped {
		return nil, fmt.Errorf("market: bootstrap: %w", domain.ErrAlreadyBootstrapped)
	}
	if m.expired() {
		return nil, fmt.Errorf("market: bootstrap: %w", domain.ErrMarketLocked)
	}
	if initialYield == nil || initialBase == nil || initialYield.Sign() <= 0 || initialBase.Sign() <= 0 {
		return nil, fmt.Errorf("market: bootstrap: %w", domain.ErrZeroAmount)
	}
	total := rmath.Sqrt(new(big.Int).Mul(initialYield, initialBase))
	minimum := big.NewInt(MinimumLiquidity)
	if total.Cmp(minimum) <= 0 {
		return nil, fmt.Errorf("market: bootstrap: liquidity below minimum: %w", domain.ErrInvalidParams)
	}

	one := rmath.One()
	half := new(big.Int).Rsh(one, 1)
	m.st.reserveYield = new(big.Int).Set(initialYield)
	m.st.reserveBase = new(big.Int).Set(initialBase)
	m.st.weightYield = half
	m.st.weightBase = new(big.Int).Sub(one, half)
	m.st.lastPrice = one
	m.st.lastShiftBlock = m.clock.BlockNumber()
	m.st.lockStart = m.clock.Now()
	m.st.bootstrapped = true

	lp := new(big.Int).Sub(total, minimum)
	m.settleLP(domain.BurnAddress)
	m.settleLP(caller)
	if err := m.bank.Mint(m.address, domain.BurnAddress, minimum); err != nil {
		return nil, fmt.Errorf("market: bootstrap: %w", err)
	}
	if err := m.bank.Mint(m.address, caller, lp); err != nil {
		return nil, fmt.Errorf("market: bootstrap: %w", err)
	}
	if err := m.pull(m.yieldToken, caller, initialYield); err != nil {
		return nil, fmt.Errorf("market: bootstrap: %w", err)
	}
	if err := m.pull(m.baseToken, caller, initialBase); err != nil {
		return nil, fmt.Errorf("market: bootstrap: %w", err)
	}

	m.events.Record(m.event(domain.EventMarketBootstrapped, caller).
		WithAmount("yield", initialYield).
		WithAmount("base", initialBase).
		WithAmount("lp", lp))
	m.logger.Info("market bootstrapped", slog.String("yield", initialYield.String()), slog.String("base", initialBase.String()))
	return lp, nil
}

type trade struct {
	tokenIn   domain.Address
	tokenOut  domain.Address
	amountIn  *big.Int
	amountOut *big.Int
	yieldIn   bool
}

// sides returns the balances and weights of tok and of the other token.
func (m *Market) sides(tok domain.Address, wy, wb *big.Int) (bal, w, otherBal, otherW *big.Int, isYield bool, err error) {
	switch tok {
	case m.yieldToken:
		return m.st.reserveYield, wy, m.st.reserveBase, wb, true, nil
	case m.baseToken:
		return m.st.reserveBase, wb, m.st.reserveYield, wy, false, nil
	}
	return nil, nil, nil, nil, false, fmt.Errorf("token %s: %w", tok.Hex(), domain.ErrInvalidToken)
}

func (m *Market) other(isYield bool) domain.Address {
	if isYield {
		return m.baseToken
	}
	return m.yieldToken
}

func (m *Market) exactIn(tokenIn domain.Address, amountIn, wy, wb *big.Int) (trade, error) {
	balIn, wIn, balOut, wOut, yieldIn, err := m.sides(tokenIn, wy, wb)
	if err != nil {
		return trade{}, err
	}
	if new(big.Int).Lsh(amountIn, 1).Cmp(balIn) > 0 {
		return trade{}, domain.ErrSwapTooLarge
	}
	out := outGivenIn(balIn, wIn, balOut, wOut, amountIn, m.swapFee)
	if out.Sign() <= 0 {
		return trade{}, domain.ErrInsufficientOutput
	}
	return trade{tokenIn: tokenIn, tokenOut: m.other(yieldIn), amountIn: new(big.Int).Set(amountIn), amountOut: out, yieldIn: yieldIn}, nil
}

func (m *Market) exactOut(tokenOut domain.Address, amountOut, wy, wb *big.Int) (trade, error) {
	balOut, wOut, balIn, wIn, yieldOut, err := m.sides(tokenOut, wy, wb)
	if err != nil {
		return trade{}, err
	}
	if new(big.Int).Mul(amountOut, big.NewInt(3)).Cmp(balOut) > 0 {
		return trade{}, domain.ErrSwapTooLarge
	}
	in := inGivenOut(balIn, wIn, balOut, wOut, amountOut, m.swapFee)
	return trade{tokenIn: m.other(yieldOut), tokenOut: tokenOut, amountIn: in, amountOut: new(big.Int).Set(amountOut), yieldIn: !yieldOut}, nil
}

// SwapExactIn sells amountIn of tokenIn and returns the amount of the other
// token paid to caller.
func (m *Market) SwapExactIn(ctx context.Context, caller, tokenIn domain.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.guard.Exit()

	if err := m.tradable(amountIn); err != nil {
		return nil, fmt.Errorf("market: swap exact in: %w", err)
	}
	m.shiftCurve()
	tr, err := m.exactIn(tokenIn, amountIn, m.st.weightYield, m.st.weightBase)
	if err != nil {
		return nil, fmt.Errorf("market: swap exact in: %w", err)
	}
	if minOut != nil && tr.amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("market: swap exact in: got %s want %s: %w", tr.amountOut, minOut, domain.ErrInsufficientOutput)
	}
	if err := m.settleTrade(ctx, caller, tr); err != nil {
		return nil, fmt.Errorf("market: swap exact in: %w", err)
	}
	return tr.amountOut, nil
}

// SwapExactOut buys amountOut of tokenOut and returns the amount of the
// other token pulled from caller.
func (m *Market) SwapExactOut(ctx context.Context, caller, tokenOut domain.Address, amountOut, maxIn *big.Int) (*big.Int, error) {
	if err := m.enter(ctx); err != nil {
		return nil, err
	}
	defer m.guard.Exit()

	if err := m.tradable(amountOut); err != nil {
		return nil, fmt.Errorf("market: swap exact out: %w", err)
	}
	m.shiftCurve()
	tr, err := m.exactOut(tokenOut, amountOut, m.st.weightYield, m.st.weightBase)
	if err != nil {
		return nil, fmt.Errorf("market: swap exact out: %w", err)
	}
	if maxIn != nil && tr.amountIn.Cmp(maxIn) > 0 {
		return nil, fmt.Errorf("market: swap exact out: need %s max %s: %w", tr.amountIn, maxIn, domain.ErrExcessiveInput)
	}
	if err := m.settleTrade(ctx, caller, tr); err != nil {
		return nil, fmt.Errorf("market: swap exact out: %w", err)
	}
	return tr.amountIn, nil
}

// settleTrade commits the reserves, mints the protocol fee and then moves
// the caller's tokens.
func (m *Market) settleTrade(ctx context.Context, caller domain.Address, tr trade) error {
	y0 := new(big.Int).Set(m.st.reserveYield)
	b0 := new(big.Int).Set(m.st.reserveBase)
	if tr.yieldIn {
		m.st.reserveYield.Add(m.st.reserveYield, tr.amountIn)
		m.st.reserveBase.Sub(m.st.reserveBase, tr.amountOut)
	} else {
		m.st.reserveBase.Add(m.st.reserveBase, tr.amountIn)
		m.st.reserveYield.Sub(m.st.reserveYield, tr.amountOut)
	}
	if err := m.mintProtocolFee(ctx, y0, b0); err != nil {
		return err
	}
	if err := m.pull(tr.tokenIn, caller, tr.amountIn); err != nil {
		return err
	}
	if err := m.bank.Transfer(tr.tokenOut, m.address, caller, tr.amountOut); err != nil {
		return fmt.Errorf("pay %s: %w", tr.tokenOut.Hex(), err)
	}

	m.events.Record(m.event(domain.EventSwap, caller).
		WithAmount("amount_in", tr.amountIn).
		WithAmount("amount_out", tr.amountOut).
		WithAttr("token_in", tr.tokenIn.Hex()).
		WithAttr("token_out", tr.tokenOut.Hex()))
	return nil
}

// mintProtocolFee mints the treasury its share of the invariant growth
// since the reserves y0, b0.
func (m *Market) mintProtocolFee(ctx context.Context, y0, b0 *big.Int) error {
	supply := m.bank.TotalSupply(m.address)
	g := invariantGrowth(y0, b0, m.st.reserveYield, m.st.reserveBase, m.st.weightYield, m.st.weightBase)
	lp := protocolFeeLP(supply, g, m.protocolFeeShare)
	if lp.Sign() == 0 {
		return nil
	}
	to := m.treasury.Treasury()
	if err := m.collectInterest(ctx); err != nil {
		return err
	}
	m.settleLP(to)
	if err := m.bank.Mint(m.address, to, lp); err != nil {
		return fmt.Errorf("protocol fee: %w", err)
	}
	m.events.Record(m.event(domain.EventProtocolFeeMinted, to).WithAmount("lp", lp))
	return nil
}

// pull moves amount of tok from caller into the market. Callers approve the
// market address beforehand.
func (m *Market) pull(tok, caller domain.Address, amount *big.Int) error {
	if err := m.bank.TransferFrom(tok, m.address, caller, m.address, amount); err != nil {
		return fmt.Errorf("pull %s: %w", tok.Hex(), err)
	}
	return nil
}

// QuoteExactIn previews SwapExactIn at the current block.
func (m *Market) QuoteExactIn(tokenIn domain.Address, amountIn *big.Int) (*big.Int, error) {
	if err := m.tradable(amountIn); err != nil {
		return nil, fmt.Errorf("market: quote exact in: %w", err)
	}
	wy, wb := m.weightsNow()
	tr, err := m.exactIn(tokenIn, amountIn, wy, wb)
	if err != nil {
		return nil, fmt.Errorf("market: quote exact in: %w", err)
	}
	return tr.amountOut, nil
}

// QuoteExactOut previews SwapExactOut at the current block.
func (m *Market) QuoteExactOut(tokenOut domain.Address, amountOut *big.Int) (*big.Int, error) {
	if err := m.tradable(amountOut); err != nil {
		return nil, fmt.Errorf("market: quote exact out: %w", err)
	}
	wy, wb := m.weightsNow()
	tr, err := m.exactOut(tokenOut, amountOut, wy, wb)
	if err != nil {
		return nil, fmt.Errorf("market: quote exact out: %w", err)
	}
	return tr.amountIn, nil
}

// weightsNow returns the weights the next operation would trade at.
func (m *Market) weightsNow() (wy, wb *big.Int) {
	if res, ok := m.pendingShift(); ok {
		return res.weightYield, res.weightBase
	}
	return m.st.weightYield, m.st.weightBase
}

// SpotPrice is the base tokens paid per yield claim at the margin, fee
// excluded. It is zero before bootstrap.
func (m *Market) SpotPrice() *big.Int {
	if !m.st.bootstrapped || m.st.reserveYield.Sign() == 0 {
		return new(big.Int)
	}
	wy, wb := m.weightsNow()
	return spotPrice(m.st.reserveBase, wb, m.st.reserveYield, wy)
}

// View returns a copy of the market state.
func (m *Market) View() domain.MarketView {
	wy, wb := m.weightsNow()
	return domain.MarketView{
		Address:          m.address,
		Factory:          m.key.Factory,
		YieldToken:       m.yieldToken,
		BaseToken:        m.baseToken,
		ReserveYield:     domain.CloneInt(m.st.reserveYield),
		ReserveBase:      domain.CloneInt(m.st.reserveBase),
		WeightYield:      domain.CloneInt(wy),
		WeightBase:       domain.CloneInt(wb),
		TotalLP:          m.bank.TotalSupply(m.address),
		SwapFee:          domain.CloneInt(m.swapFee),
		ProtocolFeeShare: domain.CloneInt(m.protocolFeeShare),
		LockStartTime:    m.st.lockStart,
		Expiry:           m.yieldKey.Expiry,
		Bootstrapped:     m.st.bootstrapped,
		Expired:          m.expired(),
		SpotPrice:        domain.FixedToDecimal(m.SpotPrice()),
		Block:            m.clock.BlockNumber(),
		UpdatedAt:        time.Unix(int64(m.clock.Now()), 0).UTC(),
	}
}

func (m *Market) event(typ domain.EventType, actor domain.Address) domain.Event {
	return domain.NewEvent(typ, domain.MarketTopic(m.address), actor, m.clock.BlockNumber(), m.clock.Now())
}

// Snapshot copies the market state. LP balances live in the bank.
func (m *Market) Snapshot() any { return m.st.clone() }

// Restore replaces the market state with a snapshot's copy.
func (m *Market) Restore(snapshot any) { m.st = snapshot.(*state).clone() }
