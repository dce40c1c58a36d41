// Package registry records the forges and market factories of the protocol,
// which pairs of them may work together, the claim tokens each forge issued
// and the market opened for each pair.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/yieldmarket/internal/chain"
	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Forge is a registered yield splitter.
type Forge interface {
	ID() domain.SourceID
	Address() domain.Address
}

// MarketFactory builds markets on request.
type MarketFactory interface {
	ID() domain.FactoryID
	CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.Address, error)
}

// Authority gates the governance-only operations.
type Authority interface {
	Require(caller domain.Address) error
}

// Config wires a Registry.
type Config struct {
	Auth   Authority
	Clock  chain.Clock
	Events domain.EventRecorder
	Logger *slog.Logger
}

type pairing struct {
	source  domain.SourceID
	factory domain.FactoryID
}

type claimTokens struct {
	ot, yt domain.Address
}

type state struct {
	forges    map[domain.SourceID]Forge
	factories map[domain.FactoryID]MarketFactory
	valid     map[pairing]bool
	tokens    map[domain.YieldKey]claimTokens
	isOT      map[domain.Address]domain.YieldKey
	isYT      map[domain.Address]domain.YieldKey
	markets   map[domain.MarketKey]domain.Address
}

func newState() *state {
	return &state{
		forges:    make(map[domain.SourceID]Forge),
		factories: make(map[domain.FactoryID]MarketFactory),
		valid:     make(map[pairing]bool),
		tokens:    make(map[domain.YieldKey]claimTokens),
		isOT:      make(map[domain.Address]domain.YieldKey),
		isYT:      make(map[domain.Address]domain.YieldKey),
		markets:   make(map[domain.MarketKey]domain.Address),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.forges {
		c.forges[k] = v
	}
	for k, v := range s.factories {
		c.factories[k] = v
	}
	for k, v := range s.valid {
		c.valid[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.isOT {
		c.isOT[k] = v
	}
	for k, v := range s.isYT {
		c.isYT[k] = v
	}
	for k, v := range s.markets {
		c.markets[k] = v
	}
	return c
}

// Registry is the protocol directory. Reads are safe for concurrent use.
type Registry struct {
	auth   Authority
	clock  chain.Clock
	events domain.EventRecorder
	logger *slog.Logger

	mu sync.RWMutex
	st *state
}

// New returns an empty registry.
func New(cfg Config) *Registry {
	events := cfg.Events
	if events == nil {
		events = domain.Discard{}
	}
	return &Registry{
		auth:   cfg.Auth,
		clock:  cfg.Clock,
		events: events,
		logger: cfg.Logger.With(slog.String("component", "registry")),
		st:     newState(),
	}
}

// AddForge registers the forge of a source. Governance only.
func (r *Registry) AddForge(ctx context.Context, caller domain.Address, id domain.SourceID, f Forge) error {
	if err := r.auth.Require(caller); err != nil {
		return fmt.Errorf("registry: add forge: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f == nil || f.ID() != id {
		return fmt.Errorf("registry: add forge %s: %w", id, domain.ErrInvalidParams)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.forges[id]; ok {
		return fmt.Errorf("registry: add forge %s: %w", id, domain.ErrAlreadyExists)
	}
	r.st.forges[id] = f
	r.record(domain.EventForgeAdded, caller, "source", string(id), "forge", f.Address().Hex())
	r.logger.Info("forge added", slog.String("source", string(id)))
	return nil
}

// AddMarketFactory registers a market factory. Governance only.
func (r *Registry) AddMarketFactory(ctx context.Context, caller domain.Address, id domain.FactoryID, f MarketFactory) error {
	if err := r.auth.Require(caller); err != nil {
		return fmt.Errorf("registry: add market factory: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f == nil || f.ID() != id {
		return fmt.Errorf("registry: add market factory %s: %w", id, domain.ErrInvalidParams)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.factories[id]; ok {
		return fmt.Errorf("registry: add market factory %s: %w", id, domain.ErrAlreadyExists)
	}
	r.st.factories[id] = f
	r.record(domain.EventFactoryAdded, caller, "factory", string(id))
	r.logger.Info("market factory added", slog.String("factory", string(id)))
	return nil
}

// SetForgeFactoryValidity marks whether markets of a factory may trade the
// claims of a source. Governance only; both must be registered.
func (r *Registry) SetForgeFactoryValidity(ctx context.Context, caller domain.Address, source domain.SourceID, factory domain.FactoryID, valid bool) error {
	if err := r.auth.Require(caller); err != nil {
		return fmt.Errorf("registry: set validity: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.forges[source]; !ok {
		return fmt.Errorf("registry: set validity: forge %s: %w", source, domain.ErrNotFound)
	}
	if _, ok := r.st.factories[factory]; !ok {
		return fmt.Errorf("registry: set validity: factory %s: %w", factory, domain.ErrNotFound)
	}
	r.st.valid[pairing{source, factory}] = valid
	r.record(domain.EventFactoryValidity, caller, "source", string(source), "factory", string(factory), "valid", fmt.Sprint(valid))
	return nil
}

// IsValidPair reports whether factory may open markets on source's claims.
func (r *Registry) IsValidPair(source domain.SourceID, factory domain.FactoryID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.valid[pairing{source, factory}]
}

// Forge returns the forge of a source.
func (r *Registry) Forge(id domain.SourceID) (Forge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.st.forges[id]
	if !ok {
		return nil, fmt.Errorf("registry: forge %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

// Factory returns a market factory.
func (r *Registry) Factory(id domain.FactoryID) (MarketFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.st.factories[id]
	if !ok {
		return nil, fmt.Errorf("registry: factory %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

// SourceIDs lists the registered sources in order.
func (r *Registry) SourceIDs() []domain.SourceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SourceID, 0, len(r.st.forges))
	for id := range r.st.forges {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StoreTokens records the claim tokens of a new yield contract. Forges call
// it when they create a contract.
func (r *Registry) StoreTokens(k domain.YieldKey, ot, yt domain.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.tokens[k]; ok {
		return fmt.Errorf("registry: store tokens %s: %w", k, domain.ErrAlreadyExists)
	}
	r.st.tokens[k] = claimTokens{ot: ot, yt: yt}
	r.st.isOT[ot] = k
	r.st.isYT[yt] = k
	return nil
}

// YieldTokens returns the YT of a contract, or the zero address.
func (r *Registry) YieldTokens(source domain.SourceID, underlying domain.Address, expiry uint64) domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.tokens[domain.YieldKey{Source: source, Underlying: underlying, Expiry: expiry}].yt
}

// OwnershipTokens returns the OT of a contract, or the zero address.
func (r *Registry) OwnershipTokens(source domain.SourceID, underlying domain.Address, expiry uint64) domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.tokens[domain.YieldKey{Source: source, Underlying: underlying, Expiry: expiry}].ot
}

// IsYieldToken reports whether tok is a registered YT.
func (r *Registry) IsYieldToken(tok domain.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.st.isYT[tok]
	return ok
}

// IsOwnershipToken reports whether tok is a registered OT.
func (r *Registry) IsOwnershipToken(tok domain.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.st.isOT[tok]
	return ok
}

// YieldKeyOf returns the contract that issued a YT.
func (r *Registry) YieldKeyOf(yt domain.Address) (domain.YieldKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.st.isYT[yt]
	return k, ok
}

// GetMarket returns the market a factory opened for a pair, in either
// order, or the zero address.
func (r *Registry) GetMarket(factory domain.FactoryID, x, y domain.Address) domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.markets[domain.MarketKey{Factory: factory, Pair: domain.NewTokenPair(x, y)}]
}

// Markets lists every market address in order.
func (r *Registry) Markets() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Address, 0, len(r.st.markets))
	for _, addr := range r.st.markets {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0 })
	return out
}

// CreateMarket opens a market of factory trading yieldClaim against
// baseAsset. Anyone may call it.
func (r *Registry) CreateMarket(ctx context.Context, caller domain.Address, factory domain.FactoryID, yieldClaim, baseAsset domain.Address) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.ZeroAddress, err
	}
	r.mu.RLock()
	_, baseIsYT := r.st.isYT[baseAsset]
	k, isYT := r.st.isYT[yieldClaim]
	f, hasFactory := r.st.factories[factory]
	valid := r.st.valid[pairing{k.Source, factory}]
	mk := domain.MarketKey{Factory: factory, Pair: domain.NewTokenPair(yieldClaim, baseAsset)}
	_, exists := r.st.markets[mk]
	r.mu.RUnlock()

	switch {
	case baseIsYT:
		return domain.ZeroAddress, fmt.Errorf("registry: create market: %w", domain.ErrQuotePairForbidden)
	case !isYT:
		return domain.ZeroAddress, fmt.Errorf("registry: create market: %s: %w", yieldClaim.Hex(), domain.ErrNotYieldClaim)
	case !hasFactory || !valid:
		return domain.ZeroAddress, fmt.Errorf("registry: create market: %s with %s: %w", k.Source, factory, domain.ErrIncompatibleFactory)
	case exists:
		return domain.ZeroAddress, fmt.Errorf("registry: create market: %w", domain.ErrExistingMarket)
	}

	addr, err := f.CreateMarket(ctx, domain.MarketSpec{Factory: factory, Key: k, YieldToken: yieldClaim, BaseToken: baseAsset})
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("registry: create market: %w", err)
	}
	r.mu.Lock()
	r.st.markets[mk] = addr
	r.mu.Unlock()

	ev := domain.NewEvent(domain.EventMarketCreated, domain.MarketTopic(addr), caller, r.clock.BlockNumber(), r.clock.Now()).
		WithAttr("factory", string(factory)).
		WithAttr("yield_token", yieldClaim.Hex()).
		WithAttr("base_token", baseAsset.Hex())
	r.events.Record(ev)
	return addr, nil
}

func (r *Registry) record(typ domain.EventType, caller domain.Address, attrs ...string) {
	ev := domain.NewEvent(typ, domain.TopicRegistry, caller, r.clock.BlockNumber(), r.clock.Now())
	for i := 0; i+1 < len(attrs); i += 2 {
		ev = ev.WithAttr(attrs[i], attrs[i+1])
	}
	r.events.Record(ev)
}

// Snapshot copies every registry table.
func (r *Registry) Snapshot() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st.clone()
}

func (r *Registry) Restore(snapshot any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st = snapshot.(*state).clone()
}
