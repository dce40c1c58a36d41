// Package forge splits deposits of a yield-bearing token into ownership
// claims (OT) and yield claims (YT) and keeps the per-holder interest
// accounting for the yield claims.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
	"github.com/alanyoungcy/yieldmarket/internal/governance"
	"github.com/alanyoungcy/yieldmarket/internal/oracle"
	"github.com/alanyoungcy/yieldmarket/internal/rmath"
	"github.com/alanyoungcy/yieldmarket/internal/token"
	"github.com/alanyoungcy/yieldmarket/internal/txn"
)

// hookRateTimeout bounds the rate read done inside a YT transfer hook.
const hookRateTimeout = 10 * time.Second

// Bank is the token ledger surface the forge needs.
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

// TokenRegistrar records the claim tokens of new yield contracts.
type TokenRegistrar interface {
	StoreTokens(key domain.YieldKey, ot, yt domain.Address) error
}

// Authority gates fee withdrawal.
type Authority interface {
	Require(caller domain.Address) error
	Treasury() domain.Address
}

// ParamSource supplies the live protocol parameters.
type ParamSource interface {
	Get() governance.Params
}

// Config wires a Forge.
type Config struct {
	Source   oracle.YieldSource
	Bank     Bank
	Registry TokenRegistrar
	Auth     Authority
	Params   ParamSource
	Clock    chain.Clock
	Events   domain.EventRecorder
	Logger   *slog.Logger
}

// YieldContract is the accounting of one (source, underlying, expiry).
type YieldContract struct {
	Key              domain.YieldKey
	OT               domain.Address
	YT               domain.Address
	Wrapped          domain.Address
	Start            uint64
	LastExchangeRate *big.Int
	RateBeforeExpiry *big.Int
	TotalLocked      *big.Int

	// Unpaid interest and fees are held as shares of the wrapped balance
	// so that a rebasing balance keeps paying out what it earns while
	// parked in the forge. lastLive is the latest source rate read.
	feeShares   *big.Int
	lastLive    *big.Int
	checkpoints map[domain.Address]*big.Int
	due         map[domain.Address]*big.Int
}

func (c *YieldContract) clone() *YieldContract {
	cp := *c
	cp.LastExchangeRate = domain.CloneInt(c.LastExchangeRate)
	cp.RateBeforeExpiry = domain.CloneInt(c.RateBeforeExpiry)
	cp.TotalLocked = domain.CloneInt(c.TotalLocked)
	cp.feeShares = domain.CloneInt(c.feeShares)
	cp.lastLive = domain.CloneInt(c.lastLive)
	cp.checkpoints = make(map[domain.Address]*big.Int, len(c.checkpoints))
	for k, v := range c.checkpoints {
		cp.checkpoints[k] = new(big.Int).Set(v)
	}
	cp.due = make(map[domain.Address]*big.Int, len(c.due))
	for k, v := range c.due {
		cp.due[k] = new(big.Int).Set(v)
	}
	return &cp
}

// Forge holds every yield contract of one source.
type Forge struct {
	id      domain.SourceID
	address domain.Address
	source  oracle.YieldSource
	bank    Bank
	reg     TokenRegistrar
	auth    Authority
	params  ParamSource
	clock   chain.Clock
	events  domain.EventRecorder
	logger  *slog.Logger
	guard   txn.Guard

	contracts map[domain.YieldKey]*YieldContract
	byYT      map[domain.Address]domain.YieldKey
}

// New returns a forge for cfg.Source.
func New(cfg Config) *Forge {
	events := cfg.Events
	if events == nil {
		events = domain.Discard{}
	}
	id := cfg.Source.SourceID()
	return &Forge{
		id:        id,
		address:   domain.DeriveAddress("FORGE", []byte(id)),
		source:    cfg.Source,
		bank:      cfg.Bank,
		reg:       cfg.Registry,
		auth:      cfg.Auth,
		params:    cfg.Params,
		clock:     cfg.Clock,
		events:    events,
		logger:    cfg.Logger.With(slog.String("component", "forge"), slog.String("source", string(id))),
		contracts: make(map[domain.YieldKey]*YieldContract),
		byYT:      make(map[domain.Address]domain.YieldKey),
	}
}

// ID returns the source ID.
func (f *Forge) ID() domain.SourceID { return f.id }

// Address is the account holding the forge's wrapped tokens. Depositors
// approve it before tokenizing.
func (f *Forge) Address() domain.Address { return f.address }

// Family returns the rate family of the forge's source.
func (f *Forge) Family() domain.RateFamily { return f.source.Family() }

func (f *Forge) key(underlying domain.Address, expiry uint64) domain.YieldKey {
	return domain.YieldKey{Source: f.id, Underlying: underlying, Expiry: expiry}
}

func (f *Forge) contract(underlying domain.Address, expiry uint64) (*YieldContract, error) {
	c, ok := f.contracts[f.key(underlying, expiry)]
	if !ok {
		return nil, fmt.Errorf("yield contract %s: %w", f.key(underlying, expiry), domain.ErrNotFound)
	}
	return c, nil
}

func (f *Forge) validExpiry(expiry uint64) error {
	divisor := f.params.Get().ExpiryDivisor
	if expiry <= f.clock.Now() || expiry%divisor != 0 {
		return fmt.Errorf("expiry %d: %w", expiry, domain.ErrInvalidExpiry)
	}
	return nil
}

// NewYieldContract creates the contract and its claim tokens. Creating an
// existing contract fails with ErrAlreadyExists.
func (f *Forge) NewYieldContract(ctx context.Context, underlying domain.Address, expiry uint64) (domain.YieldContractView, error) {
	if err := f.guard.Enter(); err != nil {
		return domain.YieldContractView{}, err
	}
	defer f.guard.Exit()

	if err := f.validExpiry(expiry); err != nil {
		return domain.YieldContractView{}, fmt.Errorf("forge: new yield contract: %w", err)
	}
	c, err := f.createContract(ctx, underlying, expiry)
	if err != nil {
		return domain.YieldContractView{}, fmt.Errorf("forge: new yield contract: %w", err)
	}
	return f.view(c), nil
}

func (f *Forge) createContract(ctx context.Context, underlying domain.Address, expiry uint64) (*YieldContract, error) {
	k := f.key(underlying, expiry)
	if _, ok := f.contracts[k]; ok {
		return nil, fmt.Errorf("yield contract %s: %w", k, domain.ErrAlreadyExists)
	}
	wrapped, err := f.source.YieldToken(underlying)
	if err != nil {
		return nil, err
	}
	rate, err := f.source.ExchangeRate(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("exchange rate: %w", err)
	}
	meta, err := f.bank.Metadata(wrapped)
	if err != nil {
		return nil, err
	}

	ot, yt := domain.OwnershipTokenAddress(k), domain.YieldTokenAddress(k)
	suffix := fmt.Sprintf("%s-%s", meta.Symbol, k.ExpiryTime().Format("20060102"))
	if err := f.bank.Register(token.Metadata{Address: ot, Symbol: "OT-" + suffix, Decimals: meta.Decimals}); err != nil {
		return nil, err
	}
	if err := f.bank.Register(token.Metadata{Address: yt, Symbol: "YT-" + suffix, Decimals: meta.Decimals}); err != nil {
		return nil, err
	}
	if err := f.reg.StoreTokens(k, ot, yt); err != nil {
		return nil, err
	}

	c := &YieldContract{
		Key:              k,
		OT:               ot,
		YT:               yt,
		Wrapped:          wrapped,
		Start:            f.clock.Now(),
		LastExchangeRate: new(big.Int).Set(rate),
		RateBeforeExpiry: new(big.Int).Set(rate),
		TotalLocked:      new(big.Int),
		feeShares:        new(big.Int),
		lastLive:         new(big.Int).Set(rate),
		checkpoints:      make(map[domain.Address]*big.Int),
		due:              make(map[domain.Address]*big.Int),
	}
	f.contracts[k] = c
	f.byYT[yt] = k
	f.bank.SetTransferHook(yt, f.onYieldTransfer)

	f.events.Record(f.event(domain.EventYieldContractCreated, domain.ZeroAddress, k).
		WithAmount("rate", rate).
		WithAttr("ot", ot.Hex()).
		WithAttr("yt", yt.Hex()))
	f.logger.Info("yield contract created", slog.String("key", k.String()), slog.String("yt", yt.Hex()))
	return c, nil
}

// TokenizeYield pulls amount wrapped tokens from caller and mints the same
// underlying value of OT and YT to recipient. The contract is created on
// first use. It returns the claim amount minted.
func (f *Forge) TokenizeYield(ctx context.Context, caller, underlying domain.Address, expiry uint64, amount *big.Int, recipient domain.Address) (*big.Int, error) {
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("forge: tokenize: %w", domain.ErrZeroAmount)
	}
	if err := f.validExpiry(expiry); err != nil {
		return nil, fmt.Errorf("forge: tokenize: %w", err)
	}
	c, ok := f.contracts[f.key(underlying, expiry)]
	if !ok {
		var err error
		if c, err = f.createContract(ctx, underlying, expiry); err != nil {
			return nil, fmt.Errorf("forge: tokenize: %w", err)
		}
	}

	rate, err := f.currentRate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("forge: tokenize: %w", err)
	}
	f.settle(c, recipient, rate)

	claims := oracle.ToClaimUnits(f.source.Family(), amount, rate)
	if claims.Sign() == 0 {
		return nil, fmt.Errorf("forge: tokenize: %w", domain.ErrZeroAmount)
	}
	c.TotalLocked.Add(c.TotalLocked, claims)
	if err := f.bank.Mint(c.OT, recipient, claims); err != nil {
		return nil, fmt.Errorf("forge: tokenize: %w", err)
	}
	if err := f.bank.Mint(c.YT, recipient, claims); err != nil {
		return nil, fmt.Errorf("forge: tokenize: %w", err)
	}
	if err := f.bank.TransferFrom(c.Wrapped, f.address, caller, f.address, amount); err != nil {
		return nil, fmt.Errorf("forge: tokenize: pull %s: %w", c.Wrapped.Hex(), err)
	}

	f.events.Record(f.event(domain.EventTokenized, caller, c.Key).
		WithAmount("wrapped", amount).
		WithAmount("claims", claims).
		WithAttr("recipient", recipient.Hex()))
	return claims, nil
}

// RedeemDueInterests pays owner the interest its YT earned since its last
// checkpoint, less the forge fee. A second call at the same rate pays zero.
func (f *Forge) RedeemDueInterests(ctx context.Context, underlying domain.Address, expiry uint64, owner domain.Address) (*big.Int, error) {
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()

	c, err := f.contract(underlying, expiry)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem interests: %w", err)
	}
	return f.redeemInterests(ctx, c, owner)
}

func (f *Forge) redeemInterests(ctx context.Context, c *YieldContract, owner domain.Address) (*big.Int, error) {
	rate, err := f.currentRate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem interests: %w", err)
	}
	f.settle(c, owner, rate)
	live, err := f.payoutRate(ctx, c, rate)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem interests: %w", err)
	}

	family := f.source.Family()
	interest := oracle.FromShares(family, domain.CloneInt(c.due[owner]), live)
	if interest.Sign() == 0 {
		return interest, nil
	}
	fee := rmath.Mul(interest, f.params.Get().ForgeFeeRate)
	out := new(big.Int).Sub(interest, fee)

	delete(c.due, owner)
	c.feeShares.Add(c.feeShares, oracle.ToShares(family, fee, live))
	if err := f.bank.Transfer(c.Wrapped, f.address, owner, out); err != nil {
		return nil, fmt.Errorf("forge: redeem interests: pay %s: %w", owner.Hex(), err)
	}

	f.events.Record(f.event(domain.EventInterestRedeemed, owner, c.Key).
		WithAmount("interest", interest).
		WithAmount("fee", fee).
		WithAmount("paid", out))
	return out, nil
}

// RedeemUnderlying burns amount OT and amount YT from caller before expiry
// and returns the wrapped tokens backing them.
func (f *Forge) RedeemUnderlying(ctx context.Context, caller, underlying domain.Address, expiry uint64, amount *big.Int) (*big.Int, error) {
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("forge: redeem underlying: %w", domain.ErrZeroAmount)
	}
	c, err := f.contract(underlying, expiry)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem underlying: %w", err)
	}
	if f.clock.Now() >= expiry {
		return nil, fmt.Errorf("forge: redeem underlying: %w", domain.ErrAlreadyExpired)
	}

	rate, err := f.currentRate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem underlying: %w", err)
	}
	f.settle(c, caller, rate)

	out := oracle.FromClaimUnits(f.source.Family(), amount, rate)
	if err := f.bank.Burn(c.OT, caller, amount); err != nil {
		return nil, fmt.Errorf("forge: redeem underlying: burn OT: %w", err)
	}
	if err := f.bank.Burn(c.YT, caller, amount); err != nil {
		return nil, fmt.Errorf("forge: redeem underlying: burn YT: %w", err)
	}
	c.TotalLocked.Sub(c.TotalLocked, amount)
	if err := f.bank.Transfer(c.Wrapped, f.address, caller, out); err != nil {
		return nil, fmt.Errorf("forge: redeem underlying: pay: %w", err)
	}

	f.events.Record(f.event(domain.EventUnderlyingRedeemed, caller, c.Key).
		WithAmount("claims", amount).
		WithAmount("wrapped", out))
	return out, nil
}

// RedeemAfterExpiry burns caller's entire OT balance once the contract has
// expired and pays out the wrapped tokens backing it at the frozen expiry
// rate, including what a rebasing backing earned after expiry. YT interest up
// to expiry stays claimable through RedeemDueInterests.
func (f *Forge) RedeemAfterExpiry(ctx context.Context, caller, underlying domain.Address, expiry uint64) (*big.Int, error) {
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()

	c, err := f.contract(underlying, expiry)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem after expiry: %w", err)
	}
	if f.clock.Now() < expiry {
		return nil, fmt.Errorf("forge: redeem after expiry: %w", domain.ErrNotYetExpired)
	}
	claims := f.bank.BalanceOf(c.OT, caller)
	if claims.Sign() == 0 {
		return nil, fmt.Errorf("forge: redeem after expiry: %w", domain.ErrZeroAmount)
	}

	f.settle(c, caller, c.RateBeforeExpiry)
	live, err := f.payoutRate(ctx, c, c.RateBeforeExpiry)
	if err != nil {
		return nil, fmt.Errorf("forge: redeem after expiry: %w", err)
	}
	out := oracle.PrincipalAfterExpiry(f.source.Family(), claims, c.RateBeforeExpiry, live)

	if err := f.bank.Burn(c.OT, caller, claims); err != nil {
		return nil, fmt.Errorf("forge: redeem after expiry: %w", err)
	}
	c.TotalLocked.Sub(c.TotalLocked, claims)
	if err := f.bank.Transfer(c.Wrapped, f.address, caller, out); err != nil {
		return nil, fmt.Errorf("forge: redeem after expiry: pay: %w", err)
	}

	f.events.Record(f.event(domain.EventRedeemedAfterExpiry, caller, c.Key).
		WithAmount("claims", claims).
		WithAmount("wrapped", out))
	return out, nil
}

// WithdrawForgeFee sends the accrued forge fee of a contract to the treasury.
func (f *Forge) WithdrawForgeFee(ctx context.Context, caller, underlying domain.Address, expiry uint64) (*big.Int, error) {
	if err := f.auth.Require(caller); err != nil {
		return nil, fmt.Errorf("forge: withdraw fee: %w", err)
	}
	if err := f.guard.Enter(); err != nil {
		return nil, err
	}
	defer f.guard.Exit()

	c, err := f.contract(underlying, expiry)
	if err != nil {
		return nil, fmt.Errorf("forge: withdraw fee: %w", err)
	}
	live, err := f.currentRate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("forge: withdraw fee: %w", err)
	}
	if live, err = f.payoutRate(ctx, c, live); err != nil {
		return nil, fmt.Errorf("forge: withdraw fee: %w", err)
	}
	fee := oracle.FromShares(f.source.Family(), c.feeShares, live)
	c.feeShares = new(big.Int)
	if fee.Sign() == 0 {
		return fee, nil
	}
	treasury := f.auth.Treasury()
	if err := f.bank.Transfer(c.Wrapped, f.address, treasury, fee); err != nil {
		return nil, fmt.Errorf("forge: withdraw fee: %w", err)
	}

	f.events.Record(f.event(domain.EventForgeFeeWithdrawn, caller, c.Key).
		WithAmount("fee", fee).
		WithAttr("treasury", treasury.Hex()))
	f.logger.Info("forge fee withdrawn", slog.String("key", c.Key.String()), slog.String("fee", fee.String()))
	return fee, nil
}

// currentRate reads the source rate until expiry and the frozen pre-expiry
// rate afterwards.
func (f *Forge) currentRate(ctx context.Context, c *YieldContract) (*big.Int, error) {
	if f.clock.Now() >= c.Key.Expiry {
		return new(big.Int).Set(c.RateBeforeExpiry), nil
	}
	rate, err := f.source.ExchangeRate(ctx, c.Key.Underlying)
	if err != nil {
		return nil, fmt.Errorf("exchange rate: %w", err)
	}
	c.RateBeforeExpiry = new(big.Int).Set(rate)
	c.lastLive = new(big.Int).Set(rate)
	return rate, nil
}

// payoutRate is the index at which shares held by the forge turn back into
// wrapped tokens. Before expiry it is rate, read by currentRate; afterwards
// the source is read again since rebasing balances keep growing.
func (f *Forge) payoutRate(ctx context.Context, c *YieldContract, rate *big.Int) (*big.Int, error) {
	if f.clock.Now() < c.Key.Expiry {
		return rate, nil
	}
	live, err := f.source.ExchangeRate(ctx, c.Key.Underlying)
	if err != nil {
		return nil, fmt.Errorf("exchange rate: %w", err)
	}
	c.lastLive = new(big.Int).Set(live)
	return live, nil
}

// settle moves owner's interest since its checkpoint into its due shares.
// A rate at or below the checkpoint leaves everything unchanged.
func (f *Forge) settle(c *YieldContract, owner domain.Address, rate *big.Int) {
	if c.LastExchangeRate.Cmp(rate) < 0 {
		c.LastExchangeRate = new(big.Int).Set(rate)
	}
	prev, ok := c.checkpoints[owner]
	if !ok {
		c.checkpoints[owner] = new(big.Int).Set(rate)
		return
	}
	if rate.Cmp(prev) <= 0 {
		return
	}
	family := f.source.Family()
	interest := oracle.Interest(family, f.bank.BalanceOf(c.YT, owner), prev, rate)
	if interest.Sign() > 0 {
		due, ok := c.due[owner]
		if !ok {
			due = new(big.Int)
			c.due[owner] = due
		}
		due.Add(due, oracle.ToShares(family, interest, rate))
	}
	c.checkpoints[owner] = new(big.Int).Set(rate)
}

// onYieldTransfer settles both sides of a YT transfer before balances move.
func (f *Forge) onYieldTransfer(tok, from, to domain.Address, _ *big.Int) error {
	if err := f.guard.Enter(); err != nil {
		return err
	}
	defer f.guard.Exit()

	k, ok := f.byYT[tok]
	if !ok {
		return nil
	}
	c, ok := f.contracts[k]
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), hookRateTimeout)
	defer cancel()
	rate, err := f.currentRate(ctx, c)
	if err != nil {
		return fmt.Errorf("forge: settle transfer: %w", err)
	}
	f.settle(c, from, rate)
	f.settle(c, to, rate)
	return nil
}

// SettleInterest brings owner's due interest up to the current rate without
// paying it out.
func (f *Forge) SettleInterest(ctx context.Context, underlying domain.Address, expiry uint64, owner domain.Address) error {
	if err := f.guard.Enter(); err != nil {
		return err
	}
	defer f.guard.Exit()

	c, err := f.contract(underlying, expiry)
	if err != nil {
		return fmt.Errorf("forge: settle: %w", err)
	}
	rate, err := f.currentRate(ctx, c)
	if err != nil {
		return fmt.Errorf("forge: settle: %w", err)
	}
	f.settle(c, owner, rate)
	return nil
}

// PendingInterest previews what RedeemDueInterests would pay owner now,
// after the forge fee, without changing any state.
func (f *Forge) PendingInterest(ctx context.Context, underlying domain.Address, expiry uint64, owner domain.Address) (*big.Int, error) {
	c, err := f.contract(underlying, expiry)
	if err != nil {
		return nil, fmt.Errorf("forge: pending interest: %w", err)
	}
	live, err := f.source.ExchangeRate(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("forge: pending interest: %w", err)
	}
	rate := live
	if f.clock.Now() >= expiry {
		rate = c.RateBeforeExpiry
	}
	family := f.source.Family()
	shares := domain.CloneInt(c.due[owner])
	if prev, ok := c.checkpoints[owner]; ok && rate.Cmp(prev) > 0 {
		shares.Add(shares, oracle.ToShares(family, oracle.Interest(family, f.bank.BalanceOf(c.YT, owner), prev, rate), rate))
	}
	total := oracle.FromShares(family, shares, live)
	fee := rmath.Mul(total, f.params.Get().ForgeFeeRate)
	return total.Sub(total, fee), nil
}

// Tokens returns the OT and YT of a contract, or zero addresses.
func (f *Forge) Tokens(underlying domain.Address, expiry uint64) (ot, yt domain.Address) {
	c, ok := f.contracts[f.key(underlying, expiry)]
	if !ok {
		return domain.ZeroAddress, domain.ZeroAddress
	}
	return c.OT, c.YT
}

// Contract returns a view of one contract.
func (f *Forge) Contract(underlying domain.Address, expiry uint64) (domain.YieldContractView, error) {
	c, err := f.contract(underlying, expiry)
	if err != nil {
		return domain.YieldContractView{}, err
	}
	return f.view(c), nil
}

// Contracts returns views of every contract ordered by underlying and expiry.
func (f *Forge) Contracts() []domain.YieldContractView {
	out := make([]domain.YieldContractView, 0, len(f.contracts))
	for _, c := range f.contracts {
		out = append(out, f.view(c))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Underlying != b.Underlying {
			return a.Underlying.Cmp(b.Underlying) < 0
		}
		return a.Expiry < b.Expiry
	})
	return out
}

// DueInterest returns owner's settled, unpaid interest before fees, in
// wrapped tokens at the latest rate read.
func (f *Forge) DueInterest(underlying domain.Address, expiry uint64, owner domain.Address) *big.Int {
	c, ok := f.contracts[f.key(underlying, expiry)]
	if !ok {
		return new(big.Int)
	}
	return oracle.FromShares(f.source.Family(), domain.CloneInt(c.due[owner]), c.lastLive)
}

func (f *Forge) view(c *YieldContract) domain.YieldContractView {
	return domain.YieldContractView{
		Key:              c.Key,
		OwnershipToken:   c.OT,
		YieldToken:       c.YT,
		WrappedToken:     c.Wrapped,
		Family:           f.source.Family().String(),
		Start:            c.Start,
		LastExchangeRate: domain.CloneInt(c.LastExchangeRate),
		RateBeforeExpiry: domain.CloneInt(c.RateBeforeExpiry),
		TotalLocked:      domain.CloneInt(c.TotalLocked),
		AccruedForgeFee:  oracle.FromShares(f.source.Family(), c.feeShares, c.lastLive),
		Expired:          f.clock.Now() >= c.Key.Expiry,
	}
}

func (f *Forge) event(typ domain.EventType, actor domain.Address, k domain.YieldKey) domain.Event {
	return domain.NewEvent(typ, domain.ForgeTopic(f.id), actor, f.clock.BlockNumber(), f.clock.Now()).
		WithAttr("underlying", k.Underlying.Hex()).
		WithAttr("expiry", fmt.Sprint(k.Expiry))
}

type forgeSnapshot struct {
	contracts map[domain.YieldKey]*YieldContract
	byYT      map[domain.Address]domain.YieldKey
}

// Snapshot deep-copies every contract.
func (f *Forge) Snapshot() any {
	s := forgeSnapshot{
		contracts: make(map[domain.YieldKey]*YieldContract, len(f.contracts)),
		byYT:      make(map[domain.Address]domain.YieldKey, len(f.byYT)),
	}
	for k, c := range f.contracts {
		s.contracts[k] = c.clone()
	}
	for k, v := range f.byYT {
		s.byYT[k] = v
	}
	return s
}

// Restore replaces every contract with the snapshot's copy.
func (f *Forge) Restore(snapshot any) {
	s := snapshot.(forgeSnapshot)
	f.contracts = make(map[domain.YieldKey]*YieldContract, len(s.contracts))
	for k, c := range s.contracts {
		f.contracts[k] = c.clone()
	}
	f.byYT = make(map[domain.Address]domain.YieldKey, len(s.byYT))
	for k, v := range s.byYT {
		f.byYT[k] = v
	}
}
