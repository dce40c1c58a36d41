package market

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

// YieldForge is the forge surface a factory needs to open a market on one
// of its yield claims.
type YieldForge interface {
	InterestSource
	Contract(underlying domain.Address, expiry uint64) (domain.YieldContractView, error)
}

// ForgeLookup resolves the forge of a source.
type ForgeLookup interface {
	Forge(id domain.SourceID) (YieldForge, error)
}

// FactoryConfig wires a Factory.
type FactoryConfig struct {
	ID       domain.FactoryID
	Bank     Bank
	Treasury Treasury
	Params   ParamSource
	Clock    chain.Clock
	Forges   ForgeLookup
	Events   domain.EventRecorder
	Logger   *slog.Logger
}

// Factory builds and owns the markets of one factory ID.
type Factory struct {
	cfg    FactoryConfig
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[domain.Address]*Market
}

// NewFactory returns an empty factory.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "market_factory"), slog.String("factory", string(cfg.ID))),
		markets: make(map[domain.Address]*Market),
	}
}

func (f *Factory) ID() domain.FactoryID { return f.cfg.ID }

// CreateMarket builds the market described by spec and returns its address.
// The caller is responsible for the registry checks on the pair.
func (f *Factory) CreateMarket(ctx context.Context, spec domain.MarketSpec) (domain.Address, error) {
	if err := ctx.Err(); err != nil {
		return domain.ZeroAddress, err
	}
	if spec.Factory != f.cfg.ID {
		return domain.ZeroAddress, fmt.Errorf("market: create: factory %s: %w", spec.Factory, domain.ErrIncompatibleFactory)
	}
	forge, err := f.cfg.Forges.Forge(spec.Key.Source)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("market: create: %w", err)
	}
	view, err := forge.Contract(spec.Key.Underlying, spec.Key.Expiry)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("market: create: %w", err)
	}
	if view.YieldToken != spec.YieldToken {
		return domain.ZeroAddress, fmt.Errorf("market: create: %s: %w", spec.YieldToken.Hex(), domain.ErrNotYieldClaim)
	}

	addr := domain.MarketAddress(spec.MarketKey())
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.markets[addr]; ok {
		return domain.ZeroAddress, fmt.Errorf("market: create: %s: %w", addr.Hex(), domain.ErrExistingMarket)
	}
	m, err := New(Config{
		Spec:          spec,
		InterestToken: view.WrappedToken,
		Forge:         forge,
		Bank:          f.cfg.Bank,
		Treasury:      f.cfg.Treasury,
		Params:        f.cfg.Params,
		Clock:         f.cfg.Clock,
		Events:        f.cfg.Events,
		Logger:        f.cfg.Logger,
	})
	if err != nil {
		return domain.ZeroAddress, err
	}
	f.markets[addr] = m
	f.logger.Info("market created", slog.String("market", addr.Hex()), slog.String("yield_token", spec.YieldToken.Hex()))
	return addr, nil
}

// Market returns the market at addr.
func (f *Factory) Market(addr domain.Address) (*Market, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.markets[addr]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

// Markets returns every market ordered by address.
func (f *Factory) Markets() []*Market {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].address.Bytes(), out[j].address.Bytes()) < 0
	})
	return out
}

// Snapshot copies the set of markets. Market state is journaled by each
// market.
func (f *Factory) Snapshot() any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cp := make(map[domain.Address]*Market, len(f.markets))
	for k, v := range f.markets {
		cp[k] = v
	}
	return cp
}

func (f *Factory) Restore(snapshot any) {
	s := snapshot.(map[domain.Address]*Market)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = make(map[domain.Address]*Market, len(s))
	for k, v := range s {
		f.markets[k] = v
	}
}
